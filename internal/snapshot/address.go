package snapshot

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// externalPrefix marks pseudo-addresses of imported thunks in the
// EXTERNAL address space. They never resolve to a record of the image.
const externalPrefix = "EXTERNAL:"

// Address is an effective address within the image. It renders as
// lowercase 0x-prefixed hex.
type Address uint64

// ParseAddress parses a hex address with or without 0x and with an
// optional "space:" prefix ("ram:00401000"). EXTERNAL addresses are rejected;
// use ParseRef for fields that may point outside the image.
func ParseAddress(s string) (Address, error) {
	ref, err := ParseRef(s)
	if err != nil {
		return 0, err
	}
	if ref.External {
		return 0, fmt.Errorf("external address %q where an image address is required", s)
	}
	return ref.Addr, nil
}

// MustParseAddress is ParseAddress for constants in tests and tables.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Address) String() string {
	return "0x" + strconv.FormatUint(uint64(a), 16)
}

// MarshalText renders the address as 0x-prefixed hex, which also makes
// Address usable as a JSON map key.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText parses a hex address.
func (a *Address) UnmarshalText(text []byte) error {
	v, err := ParseAddress(string(text))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// UnmarshalJSON accepts a hex string or a plain JSON number.
func (a *Address) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] != '"' {
		v, err := strconv.ParseUint(string(data), 10, 64)
		if err != nil {
			return fmt.Errorf("invalid address %s: %w", data, err)
		}
		*a = Address(v)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	return a.UnmarshalText([]byte(s))
}

// Ref is an address that may lie in the EXTERNAL space.
type Ref struct {
	Addr     Address
	External bool
}

// ParseRef parses an address that may carry the EXTERNAL: prefix.
func ParseRef(s string) (Ref, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Ref{}, fmt.Errorf("empty address")
	}

	var ref Ref
	if len(s) >= len(externalPrefix) && strings.EqualFold(s[:len(externalPrefix)], externalPrefix) {
		ref.External = true
		s = s[len(externalPrefix):]
	} else if i := strings.LastIndexByte(s, ':'); i >= 0 {
		s = s[i+1:]
	}

	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return Ref{}, fmt.Errorf("invalid address %q", s)
	}
	ref.Addr = Address(v)
	return ref, nil
}

func (r Ref) String() string {
	if r.External {
		return fmt.Sprintf("%s%08x", externalPrefix, uint64(r.Addr))
	}
	return r.Addr.String()
}

// MarshalText renders image addresses as 0x hex and external ones with
// their EXTERNAL: prefix.
func (r Ref) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText parses a possibly external address.
func (r *Ref) UnmarshalText(text []byte) error {
	v, err := ParseRef(string(text))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// Range is a half-open address interval [Start, End).
type Range struct {
	Start Address `json:"start"`
	End   Address `json:"end"`
}

// Contains reports whether a lies in the range.
func (r Range) Contains(a Address) bool {
	return a >= r.Start && a < r.End
}

// Size returns the byte length of the range.
func (r Range) Size() uint64 {
	return uint64(r.End - r.Start)
}

// overlaps reports whether two half-open ranges share any address.
func (r Range) overlaps(o Range) bool {
	return r.Start < o.End && o.Start < r.End
}
