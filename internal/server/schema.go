package server

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// maxBodyBytes caps request bodies. Inline memorize content is the largest
// legitimate payload; it is held to memory.MaxResourceBytes after decoding
// and the extra room covers JSON escaping.
const maxBodyBytes = 8 << 20

const schemaBaseURL = "https://memu-wrapper.local/"

var (
	retrieveSchema = mustCompileSchema("schemas/retrieve.json")
	memorizeSchema = mustCompileSchema("schemas/memorize.json")
)

func mustCompileSchema(name string) *jsonschema.Schema {
	data, err := schemaFS.ReadFile(name)
	if err != nil {
		panic(fmt.Sprintf("server: read schema %s: %v", name, err))
	}
	url := schemaBaseURL + name
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(url, bytes.NewReader(data)); err != nil {
		panic(fmt.Sprintf("server: add schema %s: %v", name, err))
	}
	return c.MustCompile(url)
}

// requestError is a client error detected before the engine is involved.
type requestError struct {
	status int
	detail string
}

func (e *requestError) Error() string { return e.detail }

func unprocessable(format string, args ...any) *requestError {
	return &requestError{status: http.StatusUnprocessableEntity, detail: fmt.Sprintf(format, args...)}
}

// decodeBody reads the JSON body of r, validates it against schema and
// decodes it into dst. Every failure is a 422 requestError.
func decodeBody(w http.ResponseWriter, r *http.Request, schema *jsonschema.Schema, dst any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return &requestError{status: http.StatusRequestEntityTooLarge, detail: "request body too large"}
		}
		return unprocessable("read body: %v", err)
	}

	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return unprocessable("invalid JSON body: %v", err)
	}
	if err := schema.Validate(doc); err != nil {
		return unprocessable("%s", validationDetail(err))
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return unprocessable("invalid request body: %v", err)
	}
	return nil
}

// validationDetail flattens a schema validation error to its leaf causes,
// e.g. "/queries/0: missing properties: 'content'".
func validationDetail(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err.Error()
	}
	var msgs []string
	var walk func(*jsonschema.ValidationError)
	walk = func(v *jsonschema.ValidationError) {
		if len(v.Causes) == 0 {
			loc := v.InstanceLocation
			if loc == "" {
				loc = "body"
			}
			msgs = append(msgs, loc+": "+v.Message)
			return
		}
		for _, c := range v.Causes {
			walk(c)
		}
	}
	walk(ve)
	return strings.Join(msgs, "; ")
}
