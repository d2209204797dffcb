/*
Package queryparam is the Query-param Parser (spec §4.E): it turns the
flat string-to-string(-or-list) map an HTTP request hands over into a
typed FilterExpr tree, a sort list, an OffsetLimit page, and an embed
list. It is the generalized, Entity-aware counterpart of picard's
queryparts.OrderByRequest/Where/FieldDescriptor, which only ever
expressed a single-table equality filter and a bare field name to sort
by; here the same query-param shapes feed a whole operator set and a
deep Raw filter object.
*/
package queryparam

// Op is one comparison operator a filter leaf may use (spec §3's fixed
// operator set).
type Op string

const (
	OpEq   Op = "eq"
	OpNe   Op = "ne"
	OpLt   Op = "lt"
	OpLte  Op = "lte"
	OpGt   Op = "gt"
	OpGte  Op = "gte"
	OpLike Op = "like"
	OpIn   Op = "in"
)

// FilterExpr is the tree spec §3 describes: leaves are (attribute_path,
// operator, value); interior nodes are And/Or/Not; Raw holds a deep
// filter object for free-text "query" params, left for dbfilter to
// interpret structurally.
type FilterExpr struct {
	And []*FilterExpr
	Or  []*FilterExpr
	Not *FilterExpr

	Field string
	Op    Op
	Value interface{}

	Raw map[string]interface{}
}

// IsLeaf reports whether e is a comparison leaf rather than a boolean
// interior node or a Raw node.
func (e *FilterExpr) IsLeaf() bool {
	return e != nil && e.Field != "" && e.Raw == nil && e.Not == nil && len(e.And) == 0 && len(e.Or) == 0
}

// IsEmpty reports whether e carries no constraint at all (the result of
// parsing a nil/empty query-param map).
func (e *FilterExpr) IsEmpty() bool {
	return e == nil || (e.Field == "" && e.Raw == nil && e.Not == nil && len(e.And) == 0 && len(e.Or) == 0)
}

// And combines any number of expressions, skipping empty ones. It
// returns nil when none remain and the sole operand when only one does.
func And(exprs ...*FilterExpr) *FilterExpr {
	out := &FilterExpr{}
	for _, e := range exprs {
		if e.IsEmpty() {
			continue
		}
		out.And = append(out.And, e)
	}
	if len(out.And) == 0 {
		return nil
	}
	if len(out.And) == 1 {
		return out.And[0]
	}
	return out
}

var operatorSuffixes = map[string]Op{
	"eq":   OpEq,
	"ne":   OpNe,
	"lt":   OpLt,
	"lte":  OpLte,
	"gt":   OpGt,
	"gte":  OpGte,
	"like": OpLike,
	"in":   OpIn,
}
