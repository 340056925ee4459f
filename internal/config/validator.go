package config

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// documentSchema is the structural schema for the on-disk config document.
// Semantic checks (required fields, ranges) live in Config.Validate; the
// schema rejects documents whose shape cannot unmarshal cleanly.
const documentSchema = `{
  "type": "object",
  "properties": {
    "cli_path": {"type": "string"},
    "mode": {"type": "string", "enum": ["batch", "interactive"]},
    "extra_args": {"type": "array", "items": {"type": "string"}},
    "default_timeout": {"type": ["string", "integer"]},
    "ready_timeout": {"type": ["string", "integer"]},
    "max_retries": {"type": "integer"},
    "forward_auth_env": {"type": "boolean"},
    "auth_env": {"type": "object", "additionalProperties": {"type": "string"}},
    "backpressure": {
      "type": "object",
      "properties": {
        "capacity": {"type": "integer"},
        "strategy": {"type": "string", "enum": ["block", "drop_oldest", "drop_latest", "buffer"]},
        "high_watermark": {"type": "number"},
        "low_watermark": {"type": "number"}
      }
    },
    "transcript": {
      "type": "object",
      "properties": {
        "enabled": {"type": "boolean"},
        "path": {"type": "string"}
      }
    },
    "gateway": {
      "type": "object",
      "properties": {
        "enabled": {"type": "boolean"},
        "addr": {"type": "string"}
      }
    },
    "sweep": {
      "type": "object",
      "properties": {
        "schedule": {"type": "string"},
        "max_age": {"type": ["string", "integer"]}
      }
    },
    "logging": {
      "type": "object",
      "properties": {
        "level": {"type": "string"},
        "file": {"type": "string"},
        "console": {"type": "boolean"},
        "pretty": {"type": "boolean"}
      }
    }
  }
}`

var schemaLoader = gojsonschema.NewStringLoader(documentSchema)

// ValidateDocument validates a raw JSON config document against the schema.
func ValidateDocument(raw []byte) error {
	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return &ConfigurationError{Field: "document", Reason: err.Error()}
	}
	if result.Valid() {
		return nil
	}

	var reasons []string
	for _, desc := range result.Errors() {
		reasons = append(reasons, desc.String())
	}
	return &ConfigurationError{Field: "document", Reason: strings.Join(reasons, "; ")}
}

// MustValidateDocument panics on an invalid document. Used by tests and
// embedded default documents only.
func MustValidateDocument(raw []byte) {
	if err := ValidateDocument(raw); err != nil {
		panic(fmt.Sprintf("config document invalid: %v", err))
	}
}
