package configscan

import (
	"context"
	"slices"
	"strings"
	"testing"

	"kernscope/internal/config"
	"kernscope/internal/snapshot"
	"kernscope/internal/testutil"
)

func TestTextMatch(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		want  Heuristic
		found bool
	}{
		{"tokens", "server=evil.example;port=443;sleep=60", HeuristicConfigToken, true},
		{"json", `{"c2":"10.0.0.1","port":443}`, HeuristicStructured, true},
		{"xml", `<?xml version="1.0"?><config/>`, HeuristicStructured, true},
		{"url", "visit https://example.com/download/page now", HeuristicURL, true},
		{"query pairs", "a=1&b=2", HeuristicKeyValue, true},
		{"prose", "hello world, nothing here", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, ok := textMatch(tt.in)
			if ok != tt.found {
				t.Fatalf("found = %v, want %v", ok, tt.found)
			}
			if ok && m.heuristic != tt.want {
				t.Errorf("heuristic = %s, want %s", m.heuristic, tt.want)
			}
		})
	}
}

func TestTextMatch_ValidJSONBeatsBareBracket(t *testing.T) {
	valid, _ := textMatch(`{"a":1}`)
	broken, _ := textMatch(`{a b c`)
	if valid.confidence <= broken.confidence {
		t.Errorf("valid JSON %.2f should beat %.2f", valid.confidence, broken.confidence)
	}
}

func TestLengthPrefixed(t *testing.T) {
	u8 := []byte{5, 'h', 'e', 'l', 'l', 'o', 5, 'w', 'o', 'r', 'l', 'd', 0, 0}
	got, ok := lengthPrefixed(u8, 1)
	if !ok || !slices.Equal(got, []string{"hello", "world"}) {
		t.Errorf("u8 = %v, %v", got, ok)
	}

	u16 := []byte{5, 0, 'h', 'e', 'l', 'l', 'o', 3, 0, 'a', 'b', 'c'}
	got, ok = lengthPrefixed(u16, 2)
	if !ok || !slices.Equal(got, []string{"hello", "abc"}) {
		t.Errorf("u16 = %v, %v", got, ok)
	}
	if _, ok := lengthPrefixed(u16, 1); ok {
		t.Error("u16 data must not decode with u8 prefixes")
	}
	if _, ok := lengthPrefixed([]byte{5, 'h', 'e', 'l', 'l', 'o'}, 1); ok {
		t.Error("a single string is not a list")
	}
}

func xorBytes(s string, key byte) []byte {
	out := []byte(s)
	for i := range out {
		out[i] ^= key
	}
	return out
}

func TestXorSearch(t *testing.T) {
	plain := "server=c2.example.net;port=8443;sleep=30"
	x, ok := xorSearch(xorBytes(plain, 0xA5), 0.9)
	if !ok {
		t.Fatal("key not found")
	}
	if x.key != 0xA5 || string(x.decoded) != plain {
		t.Errorf("key = %#x decoded = %q", x.key, x.decoded)
	}

	if _, ok := xorSearch(make([]byte, 64), 0.9); ok {
		t.Error("zero fill must not decode")
	}
}

func TestShannonEntropy(t *testing.T) {
	if e := ShannonEntropy([]byte("aaaa")); e != 0 {
		t.Errorf("uniform entropy = %v", e)
	}
	if e := ShannonEntropy([]byte("abcd")); e != 2 {
		t.Errorf("four symbols = %v, want 2", e)
	}
}

func TestPreview(t *testing.T) {
	if got := Preview("ab\x01cd", 4); got != "ab.c" {
		t.Errorf("Preview = %q", got)
	}
}

func TestDetector_Scan(t *testing.T) {
	b := testutil.NewSnapshotBuilder()
	b.AddFunction(0x1000, 0x100, "main")
	site := []testutil.Record{{"from": testutil.Hex(0x1010), "function": "main"}}

	xored := b.AddData(0x6000, "g_blob", "byte[40]", xorBytes("server=c2.example.net;port=8443;sleep=30", 0xA5))
	xored["xrefs"] = site

	pairs := "host=10.1.2.3&port=80&id=7&ver=2"
	kv := b.AddData(0x6100, "g_query", "char[33]", nil)
	kv["value"] = pairs
	kv["length"] = len(pairs) + 1
	kv["xrefs"] = site

	list := []byte{17}
	list = append(list, "alpha.example.com"...)
	list = append(list, 16)
	list = append(list, "beta.example.org"...)
	list = append(list, 5)
	list = append(list, "gamma"...)
	b.AddData(0x6200, "g_hosts", "byte[41]", list)

	b.AddData(0x6300, "g_small", "char[8]", []byte("x=1;y=2\x00"))

	b.AddString(0x5000, "https://cdn.example.com/update.bin", 0x1000)
	b.AddString(0x5100, "short", 0x1000)
	b.AddString(0x5200, "just some ordinary log message text", 0x1000)

	snap, err := snapshot.Load(context.Background(), b.WriteDir(t), snapshot.Options{SkipTextIndex: true})
	if err != nil {
		t.Fatal(err)
	}
	defer snap.Close()

	got, err := NewDefaultDetector(nil).Scan(context.Background(), snap)
	if err != nil {
		t.Fatal(err)
	}

	type row struct {
		addr snapshot.Address
		h    Heuristic
		conf float64
	}
	want := []row{
		{0x6000, HeuristicXOR, 0.9},
		{0x6100, HeuristicKeyValue, 0.8},
		{0x6200, HeuristicLengthU8, 0.5},
		{0x5000, HeuristicURL, 0.45},
	}
	if len(got) != len(want) {
		t.Fatalf("candidates = %+v", got)
	}
	for i, w := range want {
		c := got[i]
		if c.Address != w.addr || c.Heuristic != w.h || c.Confidence != w.conf {
			t.Errorf("[%d] = %s %s %.2f, want %s %s %.2f", i, c.Address, c.Heuristic, c.Confidence, w.addr, w.h, w.conf)
		}
	}

	x := got[0]
	if x.XorKey == nil || *x.XorKey != 0xA5 {
		t.Errorf("XorKey = %v", x.XorKey)
	}
	if !strings.HasPrefix(x.Preview, "server=c2.example.net") {
		t.Errorf("Preview = %q", x.Preview)
	}
	if !slices.Equal(x.UsedIn, []snapshot.Address{0x1000}) {
		t.Errorf("UsedIn = %v", x.UsedIn)
	}
	if got[2].Preview != "alpha.example.com|beta.example.org|gamma" || got[2].UsedIn != nil {
		t.Errorf("length-prefixed candidate = %+v", got[2])
	}
	if got[3].Source != SourceString {
		t.Errorf("Source = %s", got[3].Source)
	}
}

func TestDetector_MinConfidence(t *testing.T) {
	b := testutil.NewSnapshotBuilder()
	b.AddFunction(0x1000, 0x100, "main")
	b.AddString(0x5000, "https://cdn.example.com/update.bin", 0x1000)

	snap, err := snapshot.Load(context.Background(), b.WriteDir(t), snapshot.Options{SkipTextIndex: true})
	if err != nil {
		t.Fatal(err)
	}
	defer snap.Close()

	cfg := config.DefaultConfig().ConfigScan
	cfg.MinConfidence = 0.5
	got, err := NewDetector(cfg, 0, nil).Scan(context.Background(), snap)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("candidates = %+v, want none", got)
	}
}

func TestRank(t *testing.T) {
	cs := []Candidate{
		{Address: 0x20, Confidence: 0.5, Source: SourceString},
		{Address: 0x10, Confidence: 0.5, Source: SourceString},
		{Address: 0x10, Confidence: 0.5, Source: SourceData},
		{Address: 0x30, Confidence: 0.9, Source: SourceData},
	}
	Rank(cs)
	want := []string{"0x30 data", "0x10 data", "0x10 string", "0x20 string"}
	for i, c := range cs {
		if got := c.Address.String() + " " + string(c.Source); got != want[i] {
			t.Errorf("[%d] = %s, want %s", i, got, want[i])
		}
	}
}
