package query

import (
	"github.com/invopop/jsonschema"

	"kernscope/internal/errors"
)

// Schema describes the argument object of op.
func Schema(op Operation) (*jsonschema.Schema, error) {
	req, ok := Zero(op)
	if !ok {
		return nil, errors.Newf(errors.InvalidQuery, "unknown operation %q", op)
	}
	reflector := jsonschema.Reflector{DoNotReference: true, AllowAdditionalProperties: false}
	s := reflector.Reflect(req)
	s.Title = string(op)
	return s, nil
}
