package samples

import (
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const infoSchemaJSON = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["data"],
  "properties": {
    "data": {
      "type": "object",
      "required": ["url"],
      "properties": {
        "url": {"type": "string", "minLength": 1}
      }
    },
    "image": {
      "type": "object",
      "required": ["type"],
      "properties": {
        "type": {"enum": ["2D", "3D", "CT"]}
      }
    },
    "split": {"type": "string"}
  }
}`

var infoSchema = gojsonschema.NewStringLoader(infoSchemaJSON)

// InfoValidator checks registration payloads against the info schema.
type InfoValidator struct {
	schema *gojsonschema.Schema
}

// NewInfoValidator compiles the info schema
func NewInfoValidator() (*InfoValidator, error) {
	schema, err := gojsonschema.NewSchema(infoSchema)
	if err != nil {
		return nil, err
	}
	return &InfoValidator{schema: schema}, nil
}

// Validate returns an ErrValidation describing every violation in raw.
func (v *InfoValidator) Validate(raw []byte) error {
	result, err := v.schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return ErrValidation.New("info is not valid JSON: %v", err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return ErrValidation.New("cannot register the sample: %s", strings.Join(msgs, "; "))
}
