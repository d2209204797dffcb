package queryparam

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/skuid/restgraph/model"
	"github.com/skuid/restgraph/rgerrors"
)

// Params is the external query-param map: each key maps to one or more
// string values, mirroring net/url.Values (and a nil Params is legal,
// per spec §4.E: "Input map may be null; all parsers then return empty
// results").
type Params map[string][]string

// Sort is one (field, direction) pair from "sort=-name,age".
type Sort struct {
	Field      string
	Descending bool
}

// OffsetLimit is a page window.
type OffsetLimit struct {
	Offset int
	Limit  int
}

// PageMaxSize lets the max page size be a fixed number (spec §4.E) or a
// per-resource override (SPEC_FULL.md's supplemented "page_max_size as
// function" feature — e.g. a resource that caps large nested
// collections more tightly than the global default).
type PageMaxSize interface {
	MaxSize(resourceName string) int
}

// FixedPageSize is a PageMaxSize with one constant value for every resource.
type FixedPageSize int

func (p FixedPageSize) MaxSize(string) int { return int(p) }

func (p Params) first(key string) (string, bool) {
	if p == nil {
		return "", false
	}
	vs, ok := p[key]
	if !ok || len(vs) == 0 {
		return "", false
	}
	return vs[0], true
}

// AttrSource is the attribute-lookup collaborator ParseFilters needs.
// model.Entity satisfies it directly; schema.Schema satisfies it too
// (via a synthesized model.AttrMeta), so a hand-built Schema never needs
// a separately-constructed Entity just to support filtering.
type AttrSource interface {
	AttrByName(name string) (model.AttrMeta, bool)
}

// ParseFilters builds a FilterExpr from every key that is not one of the
// reserved keys (sort, offset, limit, page, embed, query), per the key
// forms of spec §4.E. strict controls whether an attribute name with no
// match in entity fails BadRequest{invalid_field} or is silently
// ignored.
func ParseFilters(params Params, entity AttrSource, strict bool) (*FilterExpr, rgerrors.ErrorMap) {
	if params == nil {
		return nil, nil
	}

	errs := rgerrors.ErrorMap{}
	var leaves []*FilterExpr

	for key, values := range params {
		if isReservedKey(key) {
			continue
		}
		if len(values) == 0 {
			continue
		}

		attrName, op := splitFilterKey(key)
		attr, ok := entity.AttrByName(attrName)
		if !ok {
			if strict {
				errs.AddField(key, rgerrors.Newf(rgerrors.BadRequest, "invalid_field", "unknown filter field %q", attrName).WithPath(key))
			}
			continue
		}

		value, perr := coerce(attr, op, values)
		if perr != nil {
			errs.AddField(key, perr)
			continue
		}

		leaves = append(leaves, &FilterExpr{Field: attr.Name, Op: op, Value: value})
	}

	if raw, ok := params.first("query"); ok && raw != "" {
		var deep map[string]interface{}
		if err := json.Unmarshal([]byte(raw), &deep); err != nil {
			errs.AddField("query", rgerrors.Newf(rgerrors.BadRequest, "invalid_query", "query is not valid JSON: %s", err.Error()))
		} else {
			leaves = append(leaves, &FilterExpr{Raw: deep})
		}
	}

	if len(errs) > 0 {
		return nil, errs
	}
	if len(leaves) == 0 {
		return nil, nil
	}
	if len(leaves) == 1 {
		return leaves[0], nil
	}
	return &FilterExpr{And: leaves}, nil
}

func isReservedKey(key string) bool {
	switch key {
	case "sort", "offset", "limit", "page", "embed", "query":
		return true
	}
	return false
}

// splitFilterKey splits "age-gte" into ("age", OpGte), defaulting to eq
// when there is no recognized "-<op>" suffix.
func splitFilterKey(key string) (string, Op) {
	idx := strings.LastIndex(key, "-")
	if idx > 0 {
		if op, ok := operatorSuffixes[key[idx+1:]]; ok {
			return key[:idx], op
		}
	}
	return key, OpEq
}

func coerce(attr model.AttrMeta, op Op, values []string) (interface{}, *rgerrors.Error) {
	if op == OpIn {
		out := make([]interface{}, 0, len(values))
		for _, v := range values {
			cv, err := coerceScalar(attr, v)
			if err != nil {
				return nil, err
			}
			out = append(out, cv)
		}
		return out, nil
	}
	return coerceScalar(attr, values[0])
}

func coerceScalar(attr model.AttrMeta, raw string) (interface{}, *rgerrors.Error) {
	switch attr.Type {
	case model.TypeInteger:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, rgerrors.Newf(rgerrors.BadRequest, "invalid_value", "field %q expects an integer", attr.Name)
		}
		return n, nil
	case model.TypeDecimal:
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, rgerrors.Newf(rgerrors.BadRequest, "invalid_value", "field %q expects a number", attr.Name)
		}
		return n, nil
	case model.TypeBoolean:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, rgerrors.Newf(rgerrors.BadRequest, "invalid_value", "field %q expects a boolean", attr.Name)
		}
		return b, nil
	default:
		return raw, nil
	}
}

// ParseSorts reads "sort" as a comma-separated field list; a leading
// "-" on a field means descending (spec §4.E).
func ParseSorts(params Params) []Sort {
	raw, ok := params.first("sort")
	if !ok || raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	sorts := make([]Sort, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if strings.HasPrefix(p, "-") {
			sorts = append(sorts, Sort{Field: p[1:], Descending: true})
		} else {
			sorts = append(sorts, Sort{Field: p})
		}
	}
	return sorts
}

// ParseOffsetLimit implements spec §4.E's limit/offset/page resolution,
// including the invalid_page and strict-mode relaxations.
func ParseOffsetLimit(params Params, resourceName string, pageMaxSize PageMaxSize, strict bool) (OffsetLimit, *rgerrors.Error) {
	limit := 0
	if pageMaxSize != nil {
		limit = pageMaxSize.MaxSize(resourceName)
	}

	limitRaw, hasLimit := params.first("limit")
	if hasLimit {
		n, err := strconv.Atoi(limitRaw)
		if err != nil {
			if strict {
				return OffsetLimit{}, rgerrors.New(rgerrors.BadRequest, "invalid_limit", "limit must be an integer")
			}
			hasLimit = false
		} else {
			limit = n
		}
	}

	offsetRaw, hasOffset := params.first("offset")
	pageRaw, hasPage := params.first("page")

	if hasPage && (!hasLimit || limit == 0) {
		return OffsetLimit{}, rgerrors.New(rgerrors.BadRequest, "invalid_page", "page requires a positive limit")
	}

	// Spec §3 OffsetLimit invariant: "if both page and offset are
	// supplied, page wins and offset := (page-1)*limit" — so page is
	// checked ahead of offset, not the other way around.
	offset := 0
	if hasPage {
		n, err := strconv.Atoi(pageRaw)
		if err != nil {
			if strict {
				return OffsetLimit{}, rgerrors.New(rgerrors.BadRequest, "invalid_page", "page must be an integer")
			}
		} else {
			offset = (n - 1) * limit
		}
	} else if hasOffset {
		n, err := strconv.Atoi(offsetRaw)
		if err != nil {
			if strict {
				return OffsetLimit{}, rgerrors.New(rgerrors.BadRequest, "invalid_offset", "offset must be an integer")
			}
		} else {
			offset = n
		}
	}

	return OffsetLimit{Offset: offset, Limit: limit}, nil
}

// ParseEmbeds reads "embed" as a comma-separated list of field paths.
func ParseEmbeds(params Params) []string {
	raw, ok := params.first("embed")
	if !ok || raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
