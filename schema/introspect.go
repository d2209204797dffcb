package schema

import (
	"github.com/skuid/restgraph/field"
	"github.com/skuid/restgraph/model"
)

// AttrByName satisfies queryparam.AttrSource, letting the query-param
// parser look up an attribute's type/nullability on any Schema — built
// by hand or derived via NewFromModel (as examples/chinook does) —
// without requiring a second, separately-constructed model.Entity.
func (s *Schema) AttrByName(name string) (model.AttrMeta, bool) {
	for _, b := range s.Scalars {
		if b.Field.Name() == name {
			return model.AttrMeta{
				Name:      b.Field.Name(),
				Type:      unmapType(b.Field.Kind),
				Nullable:  b.Field.Nullable(),
				Required:  b.Field.Required(),
				Length:    b.Field.Length,
				LoadFrom:  b.Field.LoadFrom(),
				DumpTo:    b.Field.DumpTo(),
				ReadOnly:  b.Field.ReadOnly(),
				WriteOnly: b.Field.WriteOnly(),
			}, true
		}
	}
	return model.AttrMeta{}, false
}

func unmapType(t field.Type) model.TypeCode {
	switch t {
	case field.TypeInteger:
		return model.TypeInteger
	case field.TypeDecimal:
		return model.TypeDecimal
	case field.TypeDatetime:
		return model.TypeDatetime
	case field.TypeBoolean:
		return model.TypeBoolean
	default:
		return model.TypeString
	}
}
