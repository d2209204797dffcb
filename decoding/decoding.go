/*
Package decoding wraps jsoniter to decode HTTP request bodies into the
map[string]interface{} shape schema.Schema.Load and router.Router.Dispatch
expect, the same "default to jsoniter for its decoder" choice picard makes
for its own request/response path, minus picard's struct-tag decoding:
there is no Go struct on the wire side of this module, only raw JSON
objects, so presence of a key is already just "_, ok := raw[key]" and
needs no defined-fields tracking extension.
*/
package decoding

import (
	"io"

	jsoniter "github.com/json-iterator/go"

	"github.com/skuid/restgraph/rgerrors"
)

// API is the jsoniter configuration every decode call uses: strict about
// unknown types, lenient about map key order on the way in.
var API = jsoniter.Config{
	EscapeHTML:             true,
	SortMapKeys:            true,
	ValidateJsonRawMessage: true,
}.Froze()

// DecodeBody reads a JSON request body into the interface{} shape the
// router expects: a map for object bodies, nil for an empty body. A body
// that parses but isn't a JSON object (e.g. a bare array or scalar) is
// still returned so the caller's resource/attribute layer can reject it
// with the right error (router.Dispatch already does this for non-map
// bodies on item writes).
func DecodeBody(r io.Reader) (interface{}, *rgerrors.Error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, rgerrors.Newf(rgerrors.BadRequest, "invalid_body", "could not read request body: %s", err.Error())
	}
	if len(data) == 0 {
		return nil, nil
	}

	var body interface{}
	if err := API.Unmarshal(data, &body); err != nil {
		return nil, rgerrors.Newf(rgerrors.BadRequest, "invalid_json", "request body is not valid JSON: %s", err.Error())
	}
	return body, nil
}
