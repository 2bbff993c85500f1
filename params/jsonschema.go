package params

import (
	"encoding/json"
	"strconv"

	"github.com/invopop/jsonschema"
)

// JSONSchema describes set as a JSON Schema object so that a generic UI can
// render the form without knowing the backend. Properties keep display order
// and are keyed by parameter name; the display label becomes the title.
func JSONSchema(title string, set Set) *jsonschema.Schema {
	props := jsonschema.NewProperties()
	required := make([]string, 0, set.Len())
	for _, e := range set.Entries() {
		props.Set(e.Name, propertySchema(e.Schema))
		required = append(required, e.Name)
	}
	return &jsonschema.Schema{
		Version:              jsonschema.Version,
		Title:                title,
		Type:                 "object",
		Properties:           props,
		Required:             required,
		AdditionalProperties: jsonschema.FalseSchema,
	}
}

func propertySchema(s Schema) *jsonschema.Schema {
	switch s.Kind {
	case BoundedInteger:
		return &jsonschema.Schema{
			Type:    "integer",
			Title:   s.Label,
			Minimum: json.Number(strconv.Itoa(s.Min)),
			Maximum: json.Number(strconv.Itoa(s.Max)),
			Default: s.Initial,
		}
	default:
		enum := make([]any, len(s.Options))
		for i, o := range s.Options {
			enum[i] = o
		}
		ps := &jsonschema.Schema{
			Type:  "string",
			Title: s.Label,
			Enum:  enum,
		}
		if len(s.Options) > 0 {
			ps.Default = s.Options[0]
		}
		return ps
	}
}
