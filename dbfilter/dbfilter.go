/*
Package dbfilter compiles a queryparam.FilterExpr, sort list and
OffsetLimit into a squirrel.SelectBuilder, the same query-assembly
shape as picard's createQueryFromParts/doFilterSelect: a column list, a
table name, and a slice of squirrel.Sqlizer where clauses joined with
AND. Where picard only ever built equality clauses from a zero-value
struct, Compile walks the full FilterExpr tree and the full operator
set spec §3 defines.
*/
package dbfilter

import (
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/lib/pq"

	"github.com/skuid/restgraph/model"
	"github.com/skuid/restgraph/queryparam"
)

// ColumnMapper resolves an attribute's canonical name to its storage
// column, letting Compile stay agnostic of whatever naming convention a
// Model uses (snake_case columns, aliased joins, etc).
type ColumnMapper interface {
	Column(attrName string) string
}

// MapFunc adapts a plain function to ColumnMapper.
type MapFunc func(attrName string) string

func (f MapFunc) Column(attrName string) string { return f(attrName) }

// Compile builds the WHERE clause for a filter expression. Unqualified
// columns are resolved through cols; Raw leaves are interpreted as a
// map of column -> equality value: each top-level key becomes one
// equality, and the equalities are combined with And. Nested objects
// inside a Raw map are not flattened.
func Compile(expr *queryparam.FilterExpr, cols ColumnMapper) (squirrel.Sqlizer, error) {
	if expr.IsEmpty() {
		return nil, nil
	}

	if len(expr.And) > 0 {
		and := squirrel.And{}
		for _, child := range expr.And {
			sq, err := Compile(child, cols)
			if err != nil {
				return nil, err
			}
			if sq != nil {
				and = append(and, sq)
			}
		}
		if len(and) == 0 {
			return nil, nil
		}
		return and, nil
	}

	if len(expr.Or) > 0 {
		or := squirrel.Or{}
		for _, child := range expr.Or {
			sq, err := Compile(child, cols)
			if err != nil {
				return nil, err
			}
			if sq != nil {
				or = append(or, sq)
			}
		}
		if len(or) == 0 {
			return nil, nil
		}
		return or, nil
	}

	if expr.Not != nil {
		sq, err := Compile(expr.Not, cols)
		if err != nil {
			return nil, err
		}
		if sq == nil {
			return nil, nil
		}
		sql, args, err := sq.ToSql()
		if err != nil {
			return nil, err
		}
		return squirrel.Expr("NOT ("+sql+")", args...), nil
	}

	if expr.Raw != nil {
		and := squirrel.And{}
		for k, v := range expr.Raw {
			and = append(and, squirrel.Eq{cols.Column(k): v})
		}
		return and, nil
	}

	return leaf(expr, cols)
}

func leaf(expr *queryparam.FilterExpr, cols ColumnMapper) (squirrel.Sqlizer, error) {
	column := cols.Column(expr.Field)

	switch expr.Op {
	case queryparam.OpEq:
		return squirrel.Eq{column: expr.Value}, nil
	case queryparam.OpNe:
		return squirrel.NotEq{column: expr.Value}, nil
	case queryparam.OpLt:
		return squirrel.Lt{column: expr.Value}, nil
	case queryparam.OpLte:
		return squirrel.LtOrEq{column: expr.Value}, nil
	case queryparam.OpGt:
		return squirrel.Gt{column: expr.Value}, nil
	case queryparam.OpGte:
		return squirrel.GtOrEq{column: expr.Value}, nil
	case queryparam.OpLike:
		return squirrel.Like{column: fmt.Sprintf("%%%v%%", expr.Value)}, nil
	case queryparam.OpIn:
		values, ok := expr.Value.([]interface{})
		if !ok {
			return nil, fmt.Errorf("in filter on %q requires a list value", expr.Field)
		}
		return squirrel.Expr(column+" = ANY(?)", pq.Array(values)), nil
	default:
		return nil, fmt.Errorf("unsupported filter operator %q", expr.Op)
	}
}

// Select builds the full SELECT statement for a collection query,
// mirroring createQueryFromParts: qualified columns, table, joins,
// where clauses, then ORDER BY/LIMIT/OFFSET from sorts and page.
func Select(tableName string, columnNames []string, joins []string, where squirrel.Sqlizer, sorts []queryparam.Sort, page queryparam.OffsetLimit, cols ColumnMapper) squirrel.SelectBuilder {
	full := make([]string, len(columnNames))
	for i, c := range columnNames {
		full[i] = tableName + "." + c
	}

	query := squirrel.StatementBuilder.Select(full...).From(tableName)

	for _, j := range joins {
		query = query.Join(j)
	}
	if where != nil {
		query = query.Where(where)
	}
	for _, s := range sorts {
		dir := "ASC"
		if s.Descending {
			dir = "DESC"
		}
		query = query.OrderBy(fmt.Sprintf("%s %s", cols.Column(s.Field), dir))
	}
	if page.Limit > 0 {
		query = query.Limit(uint64(page.Limit))
	}
	if page.Offset > 0 {
		query = query.Offset(uint64(page.Offset))
	}

	return query
}

// ColumnMapFromEntity builds a ColumnMapper that maps attribute names to
// snake_case columns 1:1 — the default convention the examples/chinook
// fixtures and most of Model's introspected entities use.
func ColumnMapFromEntity(entity *model.Entity) ColumnMapper {
	byName := map[string]string{}
	for _, a := range entity.Attributes {
		byName[a.Name] = a.Name
	}
	return MapFunc(func(attrName string) string {
		if c, ok := byName[attrName]; ok {
			return c
		}
		return attrName
	})
}
