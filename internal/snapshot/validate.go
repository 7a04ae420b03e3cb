package snapshot

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"kernscope/internal/errors"
)

// recordValidate checks wire records against their validate tags.
// Initialized in init() with the address validators.
var recordValidate *validator.Validate

func init() {
	recordValidate = validator.New(validator.WithRequiredStructEnabled())

	// addr: an address inside the image
	_ = recordValidate.RegisterValidation("addr", func(fl validator.FieldLevel) bool {
		_, err := ParseAddress(fl.Field().String())
		return err == nil
	})
	// ref: an image address or an EXTERNAL: pseudo-address
	_ = recordValidate.RegisterValidation("ref", func(fl validator.FieldLevel) bool {
		_, err := ParseRef(fl.Field().String())
		return err == nil
	})
}

// validateRecord checks one wire record and converts a failure into a
// SnapshotCorrupt error locating the record.
func validateRecord(file string, line int, rec any) error {
	err := recordValidate.Struct(rec)
	if err == nil {
		return nil
	}
	return corruptf(file, line, "%s", describeValidation(err))
}

// describeValidation renders validator errors as "field: rule" pairs.
func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !stderrors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if i := strings.IndexByte(field, '.'); i >= 0 {
			field = field[i+1:]
		}
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		parts = append(parts, fmt.Sprintf("%s failed %q", field, rule))
	}
	return strings.Join(parts, "; ")
}

// corruptf builds a SnapshotCorrupt error for file, at line when line > 0.
func corruptf(file string, line int, format string, args ...any) error {
	where := file
	if line > 0 {
		where = fmt.Sprintf("%s:%d", file, line)
	}
	return errors.New(errors.SnapshotCorrupt, where+": "+fmt.Sprintf(format, args...), nil).
		WithDetails(map[string]any{"file": file, "line": line})
}
