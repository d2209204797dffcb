/*
Package field implements the typed, (de)serializable leaf and
relationship fields of spec §4.C: Scalar<T> and Nested(schema, many).
Every Field carries a canonical name, an external name (load_from/dump_to),
required/nullable/read_only/write_only flags, an allowed-operations set,
and optional description metadata.

Permissions are modeled as data, per spec §9 "Permissions as data": a
Field's allowed Op set is a plain field, and rejection is a pure function
over (field, op) rather than an inheritance hierarchy.
*/
package field

import (
	"fmt"
	"strconv"
	"time"

	validator "gopkg.in/go-playground/validator.v9"

	"github.com/skuid/restgraph/rgerrors"
)

// Op is a relationship mutation operation, the `$op` sentinel of spec §3/§4.C.
type Op string

const (
	OpAdd    Op = "add"
	OpRemove Op = "remove"
	OpSet    Op = "set" // absence of $op, implicit upsert/replace
)

// Type is the fixed scalar type set from spec §3.
type Type string

const (
	TypeInteger  Type = "integer"
	TypeDecimal  Type = "decimal"
	TypeString   Type = "string"
	TypeDatetime Type = "datetime"
	TypeBoolean  Type = "boolean"
)

// Field is the common interface satisfied by ScalarField and NestedField.
type Field interface {
	Name() string
	LoadFrom() string
	DumpTo() string
	Required() bool
	Nullable() bool
	ReadOnly() bool
	WriteOnly() bool
	Description() string
}

// base holds the common metadata every Field carries (spec §4.C).
type base struct {
	name        string
	loadFrom    string
	dumpTo      string
	required    bool
	nullable    bool
	readOnly    bool
	writeOnly   bool
	description string
}

func (b base) Name() string        { return b.name }
func (b base) LoadFrom() string    { return b.loadFrom }
func (b base) DumpTo() string      { return b.dumpTo }
func (b base) Required() bool      { return b.required }
func (b base) Nullable() bool      { return b.nullable }
func (b base) ReadOnly() bool      { return b.readOnly }
func (b base) WriteOnly() bool     { return b.writeOnly }
func (b base) Description() string { return b.description }

// Options configures a Field at construction time. LoadFrom/DumpTo default
// to Name when left empty.
type Options struct {
	Name        string
	LoadFrom    string
	DumpTo      string
	Required    bool
	Nullable    bool
	ReadOnly    bool
	WriteOnly   bool
	Description string
	Length      int
	BackRef     string
}

func newBase(opts Options) base {
	loadFrom := opts.LoadFrom
	if loadFrom == "" {
		loadFrom = opts.Name
	}
	dumpTo := opts.DumpTo
	if dumpTo == "" {
		dumpTo = opts.Name
	}
	return base{
		name:        opts.Name,
		loadFrom:    loadFrom,
		dumpTo:      dumpTo,
		required:    opts.Required,
		nullable:    opts.Nullable,
		readOnly:    opts.ReadOnly,
		writeOnly:   opts.WriteOnly,
		description: opts.Description,
	}
}

var validate = validator.New()

// ScalarField is a leaf field over one of the fixed scalar types.
type ScalarField struct {
	base
	Kind   Type
	Length int
}

// NewScalar constructs a ScalarField.
func NewScalar(kind Type, opts Options) *ScalarField {
	return &ScalarField{base: newBase(opts), Kind: kind, Length: opts.Length}
}

// Load parses the external form (string or JSON value) into the field's
// Go representation, failing with Unprocessable{type} per spec §4.C.
func (f *ScalarField) Load(raw interface{}) (interface{}, *rgerrors.Error) {
	if raw == nil {
		if !f.nullable {
			return nil, rgerrors.New(rgerrors.Unprocessable, "null", fmt.Sprintf("field %q may not be null", f.name)).WithPath(f.name)
		}
		return nil, nil
	}

	switch f.Kind {
	case TypeString:
		switch v := raw.(type) {
		case string:
			return v, nil
		default:
			return nil, f.typeError(raw)
		}
	case TypeInteger:
		switch v := raw.(type) {
		case int:
			return v, nil
		case int64:
			return int(v), nil
		case float64:
			return int(v), nil
		case string:
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, f.typeError(raw)
			}
			return n, nil
		default:
			return nil, f.typeError(raw)
		}
	case TypeDecimal:
		switch v := raw.(type) {
		case float64:
			return v, nil
		case int:
			return float64(v), nil
		case string:
			n, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, f.typeError(raw)
			}
			return n, nil
		default:
			return nil, f.typeError(raw)
		}
	case TypeBoolean:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, f.typeError(raw)
			}
			return b, nil
		default:
			return nil, f.typeError(raw)
		}
	case TypeDatetime:
		switch v := raw.(type) {
		case time.Time:
			return v, nil
		case string:
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return nil, f.typeError(raw)
			}
			return t, nil
		default:
			return nil, f.typeError(raw)
		}
	}
	return nil, f.typeError(raw)
}

func (f *ScalarField) typeError(raw interface{}) *rgerrors.Error {
	return rgerrors.Newf(rgerrors.Unprocessable, "type", "field %q expected %s, got %T", f.name, f.Kind, raw).WithPath(f.name)
}

// Dump converts the field's Go representation back to external form.
func (f *ScalarField) Dump(value interface{}) interface{} {
	if t, ok := value.(time.Time); ok {
		return t.Format(time.RFC3339)
	}
	return value
}

// Validate applies required/nullable/length checks via validator.v9's
// single-value Var API, the same library picard's processObject calls
// on whole structs before insert.
func (f *ScalarField) Validate(value interface{}) *rgerrors.Error {
	if value == nil {
		if f.required && !f.nullable {
			return rgerrors.New(rgerrors.Unprocessable, "required", fmt.Sprintf("field %q is required", f.name)).WithPath(f.name)
		}
		return nil
	}

	tag := ""
	if f.required {
		tag = "required"
	}
	if f.Kind == TypeString && f.Length > 0 {
		if tag != "" {
			tag += ","
		}
		tag += fmt.Sprintf("max=%d", f.Length)
	}
	if tag == "" {
		return nil
	}
	if err := validate.Var(value, tag); err != nil {
		return rgerrors.Newf(rgerrors.Unprocessable, "invalid", "field %q is invalid: %s", f.name, err.Error()).WithPath(f.name)
	}
	return nil
}

// Session is the narrow lookup collaborator a Schema needs to resolve
// Nested-field children by id during a load (spec §4.D get_instance).
// Declared here so both field.SchemaRef and schema.Schema can share one
// type without an import cycle; package resource's broader CRUD/query
// collaborator composes a Session as one of its capabilities.
type Session interface {
	// Lookup fetches an existing instance of the named schema by id key
	// values, in id_keys declaration order. found is false if no such row exists.
	Lookup(schemaName string, idKeys []string, ids []interface{}) (instance interface{}, found bool, err error)
}

// SchemaRef is the interface a Nested field needs from the Schema it
// references, defined here (not in package schema) so that schema.Schema
// can implement it without field importing schema — this is how cyclic
// relationships resolve: NestedField holds a lazily-resolved SchemaRef by
// name (spec §9 "Cycles in relationships").
type SchemaRef interface {
	LoadChild(raw map[string]interface{}, partial bool, session Session) (instance interface{}, errs rgerrors.ErrorMap)
	DumpChild(instance interface{}) map[string]interface{}
	GetInstance(raw map[string]interface{}, session Session) (instance interface{}, isNew bool, err error)
	IDKeysOf(instance interface{}) []interface{}
	Identical(a, b interface{}) bool
}

// Resolver lazily looks up a SchemaRef by name, breaking the cycle that
// self-referential or mutually-referential entities would otherwise
// create at Field-construction time.
type Resolver func(name string) SchemaRef

// NestedField is a to-one or to-many relationship field (spec §4.C).
type NestedField struct {
	base
	Many       bool
	TargetName string
	// BackRef is the target Entity's attribute that holds the foreign
	// key back to this field's owning Entity, used by package router to
	// scope a subresource collection/create to its parent (spec §4.G
	// "Subresource paths... resolve the parent once, then recurse... with
	// the join filter added"). Empty means the router falls back to its
	// own naming convention.
	BackRef    string
	resolve    Resolver
	AllowedOps map[Op]bool
}

// NewNested constructs a NestedField. targetName is resolved lazily via
// resolver on first use so Schemas may reference each other cyclically.
func NewNested(targetName string, many bool, ops []Op, resolver Resolver, opts Options) *NestedField {
	allowed := map[Op]bool{}
	for _, op := range ops {
		allowed[op] = true
	}
	return &NestedField{
		base:       newBase(opts),
		Many:       many,
		TargetName: targetName,
		BackRef:    opts.BackRef,
		resolve:    resolver,
		AllowedOps: allowed,
	}
}

// Target resolves the child SchemaRef by name.
func (f *NestedField) Target() SchemaRef {
	return f.resolve(f.TargetName)
}

// Allows reports whether op is permitted on this field — the pure
// predicate spec §9 calls for instead of inheritance-based permission
// checks.
func (f *NestedField) Allows(op Op) bool {
	return f.AllowedOps[op]
}
