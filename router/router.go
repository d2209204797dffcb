/*
Package router implements the Router (spec §4.G): parsing a
slash-separated path into collection/id/relationship/attribute
segments and dispatching to the right Resource method, enforcing
method legality and subresource scoping. It plays the role a
chi/http-style path-segment walker plays in the pack's web-facing
example repos, generalized here to walk an Entity graph instead of a
fixed route tree.
*/
package router

import (
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/skuid/restgraph/queryparam"
	"github.com/skuid/restgraph/resource"
	"github.com/skuid/restgraph/rgerrors"
	"github.com/skuid/restgraph/schema"
)

// Registry maps collection names to the Resource that serves them.
type Registry struct {
	resources map[string]*resource.Resource
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{resources: map[string]*resource.Resource{}}
}

// Register binds a collection name to a Resource.
func (reg *Registry) Register(name string, res *resource.Resource) {
	reg.resources[name] = res
}

// Get looks up a Resource by collection name.
func (reg *Registry) Get(name string) (*resource.Resource, bool) {
	res, ok := reg.resources[name]
	return res, ok
}

// Router dispatches one request (method, path, query params, body) to
// the Resource it resolves to.
type Router struct {
	Registry *Registry
	// Strict is forwarded to Parser, per spec §4.G: "The router accepts
	// an optional strict flag forwarded to Parser."
	Strict bool
	// Logger receives one structured entry per Dispatch call, the way
	// dphaener-conduit logs each routed request. Defaults to a no-op
	// logger when unset.
	Logger *zap.Logger
}

// New constructs a Router with a no-op Logger; call WithLogger to
// attach a real one.
func New(registry *Registry, strict bool) *Router {
	return &Router{Registry: registry, Strict: strict, Logger: zap.NewNop()}
}

// WithLogger attaches a logger and returns the same Router for chaining.
func (rt *Router) WithLogger(logger *zap.Logger) *Router {
	rt.Logger = logger
	return rt
}

func (rt *Router) logger() *zap.Logger {
	if rt.Logger == nil {
		return zap.NewNop()
	}
	return rt.Logger
}

// Dispatch parses path and routes method against it, per spec §4.G's
// rule table. path is raw (not yet percent-decoded) so that composite
// key segments can be split on literal, still-encoded commas before
// each piece is individually decoded (spec §9's resolved open
// question on comma-in-value encoding).
func (rt *Router) Dispatch(method, path string, params queryparam.Params, body interface{}) (interface{}, *rgerrors.Error) {
	result, rerr := rt.dispatch(method, path, params, body)
	if rerr != nil {
		rt.logger().Info("dispatch failed", zap.String("method", method), zap.String("path", path), zap.String("kind", string(rerr.Kind)), zap.String("code", rerr.Code))
	} else {
		rt.logger().Debug("dispatch ok", zap.String("method", method), zap.String("path", path))
	}
	return result, rerr
}

func (rt *Router) dispatch(method, path string, params queryparam.Params, body interface{}) (interface{}, *rgerrors.Error) {
	segments := splitPath(path)
	if len(segments) == 0 {
		return nil, rgerrors.New(rgerrors.NotFound, "not_found", "empty path")
	}

	collectionName, err := decodeSegment(segments[0])
	if err != nil {
		return nil, rgerrors.Newf(rgerrors.BadRequest, "invalid_path", "segment %q is not valid: %s", segments[0], err.Error())
	}
	res, ok := rt.Registry.Get(collectionName)
	if !ok {
		return nil, rgerrors.Newf(rgerrors.NotFound, "not_found", "no such collection %q", collectionName)
	}

	return rt.dispatchOn(res, method, segments[1:], params, body)
}

// dispatchOn resolves the remaining path segments against res, which is
// already known to be the current collection's Resource.
func (rt *Router) dispatchOn(res *resource.Resource, method string, segments []string, params queryparam.Params, body interface{}) (interface{}, *rgerrors.Error) {
	if len(segments) == 0 {
		switch method {
		case "GET":
			scoped := *res
			scoped.Strict = res.Strict || rt.Strict
			return scoped.GetCollection(params)
		case "POST":
			return res.Post(body)
		default:
			return nil, rgerrors.Newf(rgerrors.MethodNotAllowed, "method_not_allowed", "%s not allowed on a collection", method)
		}
	}

	ids, err := decodeIDSegment(segments[0], len(res.Schema.IDKeys))
	if err != nil {
		return nil, rgerrors.Newf(rgerrors.BadRequest, "invalid_id", "segment %q: %s", segments[0], err.Error())
	}
	rest := segments[1:]

	if len(rest) == 0 {
		switch method {
		case "GET":
			return res.Get(ids, params)
		case "PATCH":
			obj, ok := body.(map[string]interface{})
			if !ok {
				return nil, rgerrors.New(rgerrors.BadRequest, "invalid_body", "patch body must be an object")
			}
			return res.Patch(ids, obj)
		case "PUT":
			obj, ok := body.(map[string]interface{})
			if !ok {
				return nil, rgerrors.New(rgerrors.BadRequest, "invalid_body", "put body must be an object")
			}
			return res.Put(ids, obj)
		case "DELETE":
			return nil, res.Delete(ids)
		default:
			return nil, rgerrors.Newf(rgerrors.MethodNotAllowed, "method_not_allowed", "%s not allowed on an item", method)
		}
	}

	nextName, derr := decodeSegment(rest[0])
	if derr != nil {
		return nil, rgerrors.Newf(rgerrors.BadRequest, "invalid_path", "segment %q is not valid: %s", rest[0], derr.Error())
	}

	if binding, ok := relBinding(res, nextName); ok {
		var child *resource.Resource
		for _, candidate := range rt.Registry.resources {
			if candidate.Schema.Name == binding.Field.TargetName {
				child = candidate
				break
			}
		}
		if child == nil {
			return nil, rgerrors.Newf(rgerrors.NotFound, "not_found", "no resource registered for %q", binding.Field.TargetName)
		}

		joinField := binding.Field.BackRef
		if joinField == "" {
			joinField = res.Schema.Name + "_id"
		}
		joinValue := joinValueString(ids)

		scopedParams := addFilterParam(params, joinField, joinValue)
		scopedBody := addJoinToBody(body, joinField, ids)

		return rt.dispatchOn(child, method, rest[1:], scopedParams, scopedBody)
	}

	if len(rest) > 1 {
		return nil, rgerrors.Newf(rgerrors.NotFound, "not_found", "unknown path segment %q", nextName)
	}

	switch method {
	case "GET":
		val, gerr := res.GetAttr(ids, nextName)
		if gerr != nil {
			return nil, gerr
		}
		return val, nil
	case "POST", "PATCH":
		val, serr := res.SetAttr(ids, nextName, attrValue(body))
		if serr != nil {
			return nil, serr
		}
		return val, nil
	default:
		return nil, rgerrors.Newf(rgerrors.MethodNotAllowed, "method_not_allowed", "%s not allowed on an attribute", method)
	}
}

// joinValueString renders an id tuple as its composite-key string form
// (comma-joined), the same encoding a caller would use in the URL.
func joinValueString(ids []interface{}) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = fmtID(id)
	}
	return strings.Join(parts, ",")
}

func fmtID(id interface{}) string {
	if s, ok := id.(string); ok {
		return s
	}
	return fmt.Sprint(id)
}

// addFilterParam returns params with an extra equality filter merged in,
// scoping a subresource collection query to its parent's join column
// (spec §4.G: "recurse on the relationship's target Resource with the
// join filter added").
func addFilterParam(params queryparam.Params, field, value string) queryparam.Params {
	out := queryparam.Params{}
	for k, v := range params {
		out[k] = v
	}
	out[field] = []string{value}
	return out
}

// addJoinToBody injects the join column into a create body so a POST
// under a subresource path is attached to its parent.
func addJoinToBody(body interface{}, field string, ids []interface{}) interface{} {
	obj, ok := body.(map[string]interface{})
	if !ok {
		return body
	}
	out := map[string]interface{}{}
	for k, v := range obj {
		out[k] = v
	}
	if len(ids) == 1 {
		out[field] = ids[0]
	} else {
		out[field] = joinValueString(ids)
	}
	return out
}

func attrValue(body interface{}) interface{} {
	if m, ok := body.(map[string]interface{}); ok {
		if v, has := m["value"]; has {
			return v
		}
	}
	return body
}

func relBinding(res *resource.Resource, name string) (schema.NestedBinding, bool) {
	for _, b := range res.Schema.Nested {
		if b.Field.Name() == name {
			return b, true
		}
	}
	return schema.NestedBinding{}, false
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func decodeSegment(seg string) (string, error) {
	return url.PathUnescape(seg)
}

// decodeIDSegment splits a path segment into the ordered id component
// values, handling composite keys: split on literal (still-encoded)
// commas first, then percent-decode each piece independently so that a
// comma belonging to a value (sent pre-encoded as %2C) survives the
// split intact.
func decodeIDSegment(seg string, idKeyCount int) ([]interface{}, error) {
	parts := strings.Split(seg, ",")
	ids := make([]interface{}, 0, len(parts))
	for _, p := range parts {
		decoded, err := url.PathUnescape(p)
		if err != nil {
			return nil, err
		}
		ids = append(ids, decoded)
	}
	return ids, nil
}
