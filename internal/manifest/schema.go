package manifest

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// SchemaError lists the structural problems found in a manifest.
type SchemaError struct {
	Issues []string
}

func (e *SchemaError) Error() string {
	return "invalid manifest: " + strings.Join(e.Issues, "; ")
}

var compiledSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource("manifest.json", strings.NewReader(manifestSchemaJSON)); err != nil {
		return nil, fmt.Errorf("add manifest schema: %w", err)
	}
	return compiler.Compile("manifest.json")
})

// ValidateJSON checks the structure of an encoded manifest.
func ValidateJSON(data []byte) error {
	schema, err := compiledSchema()
	if err != nil {
		return fmt.Errorf("compile manifest schema: %w", err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return &SchemaError{Issues: []string{fmt.Sprintf("$: invalid JSON: %v", err)}}
	}
	err = schema.Validate(doc)
	if err == nil {
		return nil
	}
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return &SchemaError{Issues: []string{"$: " + err.Error()}}
	}
	issues := collectIssues(verr)
	if len(issues) == 0 {
		issues = []string{verr.Error()}
	}
	return &SchemaError{Issues: issues}
}

func collectIssues(verr *jsonschema.ValidationError) []string {
	var out []string
	if len(verr.Causes) == 0 && verr.Message != "" {
		loc := verr.InstanceLocation
		if loc == "" {
			loc = "$"
		}
		out = append(out, loc+": "+verr.Message)
	}
	for _, cause := range verr.Causes {
		out = append(out, collectIssues(cause)...)
	}
	return out
}

const manifestSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "manifest.json",
  "title": "Run Manifest",
  "type": "object",
  "required": ["runId", "startedAt", "cwd", "status", "options", "execs", "graph"],
  "properties": {
    "runId": {"type": "string", "minLength": 1},
    "task": {"type": "string"},
    "cwd": {"type": "string"},
    "startedAt": {"type": "string", "minLength": 1},
    "finishedAt": {"type": "string"},
    "status": {"type": "string", "enum": ["running", "completed", "max-iterations", "error"]},
    "summary": {"type": "string"},
    "error": {"type": "string"},
    "iterations": {"type": "integer", "minimum": 0},
    "options": {"type": "object"},
    "execs": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["execId", "label", "status", "artifacts"],
        "properties": {
          "execId": {"type": "string", "pattern": "^exec-[0-9]{3,}$"},
          "label": {"type": "string"},
          "kind": {"type": "string"},
          "threadId": {"type": "string"},
          "status": {"type": "string"},
          "exitCode": {"type": "integer"},
          "artifacts": {
            "type": "object",
            "required": ["dir", "prompt"],
            "additionalProperties": {"type": "string"}
          }
        }
      }
    },
    "graph": {
      "type": "object",
      "required": ["nodes", "edges", "warnings"],
      "properties": {
        "nodes": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["id", "kind"],
            "properties": {
              "id": {"type": "string", "pattern": "^(exec|thread):.+$"},
              "kind": {"type": "string", "enum": ["exec", "thread"]}
            }
          }
        },
        "edges": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["type", "from", "to", "source"],
            "properties": {
              "type": {"type": "string", "enum": ["dependsOn", "invokes", "resume", "spawn", "interact"]},
              "from": {"type": "string"},
              "to": {"type": "string"},
              "source": {"type": "string", "enum": ["workflow", "resume", "transcript"]}
            }
          }
        },
        "warnings": {"type": "array", "items": {"type": "string"}}
      }
    }
  }
}`
