package pruner

import "github.com/invopop/jsonschema"

// Schema describes the bundle JSON. Nested types are inlined.
func Schema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{DoNotReference: true}
	s := reflector.Reflect(&Bundle{})
	s.Title = "kernscope evidence bundle"
	s.Description = "Evidence selected from one snapshot, layout " + GenerationVersion
	return s
}
