package appconfig

import (
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

const configSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "repo_id": {"type": ["array", "null"], "items": {"type": "string", "minLength": 1}},
    "local_model_hub": {"type": "string"},
    "warm_up": {"type": "integer", "minimum": 0},
    "num_trials": {"type": "integer", "minimum": 1},
    "in_out_pairs": {"type": ["array", "null"], "items": {"type": "string", "pattern": "^[0-9]+-[0-9]+$"}},
    "prompt_dir": {"type": "string"},
    "results_dir": {"type": "string"},
    "report_formats": {
      "type": ["array", "null"],
      "items": {"type": "string", "enum": ["csv", "json", "arrow", "html"]}
    },
    "synthesize_prompts": {"type": "boolean"},
    "continue_on_error": {"type": "boolean"},
    "backend": {"type": "string", "enum": ["local", "llamacpp"]},
    "llamacpp_url": {"type": "string"},
    "quantize": {"type": "string", "enum": ["", "q4", "int4", "sym_int4", "f32", "fp32", "none"]},
    "kv_cache": {"type": "string", "enum": ["", "auto", "full", "quantized"]},
    "models": {
      "type": ["array", "null"],
      "items": {
        "type": "object",
        "required": ["id"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "backend": {"type": "string", "enum": ["", "local", "llamacpp"]},
          "family": {"type": "string", "enum": ["", "llama", "glm"]},
          "quantize": {"type": "string", "enum": ["", "q4", "int4", "sym_int4", "f32", "fp32", "none"]},
          "kv_cache": {"type": "string", "enum": ["", "auto", "full", "quantized"]},
          "url": {"type": "string"}
        }
      }
    },
    "timeout": {"type": "integer", "minimum": 0},
    "log_file": {"type": "string"},
    "log_level": {"type": "string", "enum": ["", "debug", "info", "warn", "error"]},
    "metrics_file": {"type": "string"},
    "debug": {"type": "boolean"}
  }
}`

// ValidateSchema checks cfg against the configuration JSON schema.
func ValidateSchema(cfg Config) error {
	result, err := gojsonschema.Validate(gojsonschema.NewStringLoader(configSchema), gojsonschema.NewGoLoader(cfg))
	if err != nil {
		return &ConfigError{Path: cfg.ConfigPath, Err: fmt.Errorf("schema validation error: %w", err)}
	}
	if result.Valid() {
		return nil
	}
	var details []string
	for _, desc := range result.Errors() {
		details = append(details, desc.String())
	}
	return &ConfigError{Path: cfg.ConfigPath, Problems: details}
}
