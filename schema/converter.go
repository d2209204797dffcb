package schema

import (
	"github.com/skuid/restgraph/field"
	"github.com/skuid/restgraph/model"
)

// NewFromModel is the Converter (spec §4.B): given a Model's introspected
// Entity metadata, build a Schema whose Fields include one per attribute
// and one per relationship. Type mapping is driven by the Introspector's
// type codes; doc strings become Field Description. A relationship
// becomes a Nested field referencing the target Schema by name, resolved
// lazily through registry to permit cycles.
func NewFromModel(entity *model.Entity, registry *Registry) *Schema {
	s := New(entity.Name, entity.Type, entity.IDKeys)

	for _, attr := range entity.Attributes {
		s.AddScalar(field.NewScalar(mapType(attr.Type), field.Options{
			Name:        attr.Name,
			LoadFrom:    attr.LoadFrom,
			DumpTo:      attr.DumpTo,
			Required:    attr.Required,
			Nullable:    attr.Nullable,
			ReadOnly:    attr.ReadOnly,
			WriteOnly:   attr.WriteOnly,
			Description: attr.Description,
			Length:      attr.Length,
		}), attr.FieldName)
	}

	for _, rel := range entity.Relationships {
		ops := make([]field.Op, 0, len(rel.Ops))
		for _, o := range rel.Ops {
			ops = append(ops, field.Op(o))
		}
		s.AddNested(field.NewNested(rel.Target.Name(), rel.Many, ops, registry.Resolver(), field.Options{
			Name:        rel.Name,
			LoadFrom:    rel.LoadFrom,
			DumpTo:      rel.DumpTo,
			ReadOnly:    rel.ReadOnly,
			WriteOnly:   rel.WriteOnly,
			Description: rel.Description,
			BackRef:     rel.BackRef,
		}), rel.FieldName)
	}

	return s
}

func mapType(t model.TypeCode) field.Type {
	switch t {
	case model.TypeInteger:
		return field.TypeInteger
	case model.TypeDecimal:
		return field.TypeDecimal
	case model.TypeDatetime:
		return field.TypeDatetime
	case model.TypeBoolean:
		return field.TypeBoolean
	default:
		return field.TypeString
	}
}
