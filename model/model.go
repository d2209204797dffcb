/*
Package model is the Model Introspector (spec §4.A). It enumerates a Go
struct's attributes and relationships, their types, nullability, and
identity keys by reading `restgraph` struct tags, the same reflection loop
picard's tags.TableMetadataFromType uses for its column/foreign_key tags,
retargeted at attribute/relationship metadata instead of SQL columns.
*/
package model

import (
	"fmt"
	"reflect"
	"strings"
)

const tagKey = "restgraph"

// TypeCode is the fixed set of scalar type codes spec §3 allows for
// Scalar<T>.
type TypeCode string

const (
	TypeInteger  TypeCode = "integer"
	TypeDecimal  TypeCode = "decimal"
	TypeString   TypeCode = "string"
	TypeDatetime TypeCode = "datetime"
	TypeBoolean  TypeCode = "boolean"
)

// AttrMeta describes one scalar attribute of an Entity.
type AttrMeta struct {
	Name        string
	FieldName   string // Go struct field name
	Type        TypeCode
	Nullable    bool
	Required    bool
	Length      int
	Description string
	LoadFrom    string
	DumpTo      string
	ReadOnly    bool
	WriteOnly   bool
	Encrypted   bool
}

// RelMeta describes one relationship of an Entity.
type RelMeta struct {
	Name        string
	FieldName   string
	Target      reflect.Type
	Many        bool
	BackRef     string
	Description string
	LoadFrom    string
	DumpTo      string
	ReadOnly    bool
	WriteOnly   bool
	Ops         []string // allowed {add, remove, set}
}

// Entity is the introspected description of one entity type.
type Entity struct {
	Type          reflect.Type
	Name          string
	IDKeys        []string
	Attributes    []AttrMeta
	Relationships []RelMeta
}

// Introspector describes model metadata lookup as an interface. No type
// in this package implements it, and the Converter and Schema do not
// consume it: they take the *Entity that Reflect builds from `restgraph`
// struct tags, which carries the same attribute, relationship and id-key
// metadata. Fetching by ids is done by a field.Session's Lookup.
type Introspector interface {
	Attributes(e interface{}) []AttrMeta
	Relationships(e interface{}) []RelMeta
	IDKeys(e interface{}) []string
	GetByIDs(session interface{}, e interface{}, ids []interface{}) (interface{}, error)
}

// AttrByName finds an attribute by its canonical name.
func (e *Entity) AttrByName(name string) (AttrMeta, bool) {
	for _, a := range e.Attributes {
		if a.Name == name {
			return a, true
		}
	}
	return AttrMeta{}, false
}

// RelByName finds a relationship by its canonical name.
func (e *Entity) RelByName(name string) (RelMeta, bool) {
	for _, r := range e.Relationships {
		if r.Name == name {
			return r, true
		}
	}
	return RelMeta{}, false
}

// Reflect builds an Entity description from a struct type by reading
// `restgraph` struct tags. It is the Go-native counterpart of
// tags.TableMetadataFromType: the same per-field tag-parsing loop, but
// producing attribute/relationship metadata instead of column metadata.
func Reflect(t reflect.Type) *Entity {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	entity := &Entity{
		Type: t,
		Name: t.Name(),
	}

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tagsMap := getStructTagsMap(field, tagKey)
		if tagsMap == nil {
			continue
		}

		if _, isIDKey := tagsMap["id_key"]; isIDKey {
			entity.IDKeys = append(entity.IDKeys, nameOrField(tagsMap, field))

			// An id_key is always dumpable and filterable like any other
			// Scalar, even when the tag carries no separate "attribute"
			// marker — a bare `id_key,name=...` is the common case across
			// these models. It is never loaded back in by loadScalars
			// (ReadOnly), since get_instance/make_instance already own
			// assigning it.
			if !has(tagsMap, "attribute") {
				typeCode := TypeCode(tagsMap["type"])
				if typeCode == "" {
					typeCode = inferType(field.Type)
				}
				entity.Attributes = append(entity.Attributes, AttrMeta{
					Name:        nameOrField(tagsMap, field),
					FieldName:   field.Name,
					Type:        typeCode,
					Length:      atoiOr(tagsMap["length"], 0),
					Description: tagsMap["description"],
					LoadFrom:    orDefault(tagsMap["load_from"], nameOrField(tagsMap, field)),
					DumpTo:      orDefault(tagsMap["dump_to"], nameOrField(tagsMap, field)),
					ReadOnly:    true,
				})
			}
		}

		switch {
		case has(tagsMap, "attribute"):
			entity.Attributes = append(entity.Attributes, AttrMeta{
				Name:        nameOrField(tagsMap, field),
				FieldName:   field.Name,
				Type:        TypeCode(tagsMap["type"]),
				Nullable:    has(tagsMap, "nullable"),
				Required:    has(tagsMap, "required"),
				Length:      atoiOr(tagsMap["length"], 0),
				Description: tagsMap["description"],
				LoadFrom:    orDefault(tagsMap["load_from"], nameOrField(tagsMap, field)),
				DumpTo:      orDefault(tagsMap["dump_to"], nameOrField(tagsMap, field)),
				ReadOnly:    has(tagsMap, "read_only"),
				WriteOnly:   has(tagsMap, "write_only"),
				Encrypted:   has(tagsMap, "encrypted"),
			})
		case has(tagsMap, "relationship"):
			targetType := field.Type
			many := targetType.Kind() == reflect.Slice
			if many {
				targetType = targetType.Elem()
			}
			for targetType.Kind() == reflect.Ptr {
				targetType = targetType.Elem()
			}
			ops := []string{"add", "remove", "set"}
			if opsTag, ok := tagsMap["ops"]; ok && opsTag != "" {
				ops = strings.Split(opsTag, "&")
			}
			entity.Relationships = append(entity.Relationships, RelMeta{
				Name:        nameOrField(tagsMap, field),
				FieldName:   field.Name,
				Target:      targetType,
				Many:        many,
				BackRef:     tagsMap["back_ref"],
				Description: tagsMap["description"],
				LoadFrom:    orDefault(tagsMap["load_from"], nameOrField(tagsMap, field)),
				DumpTo:      orDefault(tagsMap["dump_to"], nameOrField(tagsMap, field)),
				ReadOnly:    has(tagsMap, "read_only"),
				WriteOnly:   has(tagsMap, "write_only"),
				Ops:         ops,
			})
		}
	}

	return entity
}

// inferType guesses a TypeCode from a Go field's kind, for id_key fields
// that carry no explicit `type=` tag fragment.
func inferType(t reflect.Type) TypeCode {
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return TypeInteger
	case reflect.Float32, reflect.Float64:
		return TypeDecimal
	case reflect.Bool:
		return TypeBoolean
	default:
		return TypeString
	}
}

func nameOrField(tagsMap map[string]string, field reflect.StructField) string {
	if name, ok := tagsMap["name"]; ok && name != "" {
		return name
	}
	return toSnakeCase(field.Name)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

func has(m map[string]string, key string) bool {
	_, ok := m[key]
	return ok
}

func atoiOr(s string, def int) int {
	if s == "" {
		return def
	}
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return def
		}
		n = n*10 + int(r-'0')
	}
	return n
}

// toSnakeCase converts a Go exported field name like "TrackID" into
// "track_id", the default external name when no `name` tag is given.
func toSnakeCase(s string) string {
	var sb strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				prevLower := runes[i-1] >= 'a' && runes[i-1] <= 'z'
				nextLower := i+1 < len(runes) && runes[i+1] >= 'a' && runes[i+1] <= 'z'
				if prevLower || (nextLower && runes[i-1] >= 'A' && runes[i-1] <= 'Z') {
					sb.WriteByte('_')
				}
			}
			sb.WriteRune(r - 'A' + 'a')
		} else {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// getStructTagsMap parses a `restgraph:"attribute,name=track_id,..."`
// struct tag into a key/value map, mirroring
// tags.GetStructTagsMap's comma/equals parsing exactly.
func getStructTagsMap(field reflect.StructField, tagType string) map[string]string {
	tagValue := field.Tag.Get(tagType)
	if tagValue == "" {
		return nil
	}

	parts := strings.Split(tagValue, ",")
	tagsMap := map[string]string{}

	for _, part := range parts {
		kv := strings.SplitN(part, "=", 2)
		key := kv[0]
		value := ""
		if len(kv) == 2 {
			value = kv[1]
		}
		tagsMap[key] = value
	}

	return tagsMap
}

// ReflectTableInfo returns a fallback type name for diagnostics when no
// Entity name is available.
func ReflectTableInfo(t reflect.Type) string {
	return fmt.Sprintf("%s.%s", t.PkgPath(), t.Name())
}
