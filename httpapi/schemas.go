package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	santhosh "github.com/santhosh-tekuri/jsonschema/v5"
)

// Request bodies for the key CRUD surface are validated against JSON schemas
// before any field reaches the engine, so shape errors are 400s with a
// uniform message and never leak engine internals.
var (
	createKeySchema = santhosh.MustCompileString("create_key.json", `{
		"type": "object",
		"required": ["name"],
		"additionalProperties": false,
		"properties": {
			"name": {"type": "string", "minLength": 1, "maxLength": 100},
			"scopes": {
				"type": "array",
				"items": {"type": "string", "minLength": 1},
				"uniqueItems": true
			},
			"rate_limit_per_minute": {"type": "integer", "minimum": 0},
			"expires_at": {"type": "string"}
		}
	}`)

	updateKeySchema = santhosh.MustCompileString("update_key.json", `{
		"type": "object",
		"additionalProperties": false,
		"minProperties": 1,
		"properties": {
			"name": {"type": "string", "minLength": 1, "maxLength": 100},
			"scopes": {
				"type": "array",
				"items": {"type": "string", "minLength": 1},
				"uniqueItems": true
			},
			"is_active": {"type": "boolean"},
			"rate_limit_per_minute": {"type": "integer", "minimum": 0},
			"expires_at": {"type": "string"}
		}
	}`)
)

// readValidatedBody reads the request body and checks it against the schema.
// On failure it writes the 400 response and returns ok=false.
func readValidatedBody(w http.ResponseWriter, r *http.Request, schema *santhosh.Schema) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodySize)
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return nil, false
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return nil, false
	}
	if err := schema.Validate(decoded); err != nil {
		writeError(w, http.StatusBadRequest, "request body failed validation")
		return nil, false
	}

	return raw, true
}
