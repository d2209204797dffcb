/*
Package schema implements the Converter (spec §4.B) and Schema (spec §4.D):
composing Fields into a loader/dumper for one Entity, applying partial
semantics, embed, only/exclude, permissions and relationship operations.

The load algorithm mirrors picard's processObject (picard.go): walk the
fields in a fixed order, skip fields that are not "defined" on partial
input, validate, and assign — except here assignment targets arbitrary
Go structs via reflection (the same pattern tags.TableMetadataFromType
and processObject use) instead of SQL columns, and errors accumulate into
a nested map instead of being returned as a single Go error.
*/
package schema

import (
	"fmt"
	"reflect"
	"sync"

	uuid "github.com/satori/go.uuid"

	"github.com/skuid/restgraph/field"
	"github.com/skuid/restgraph/reflectutil"
	"github.com/skuid/restgraph/rgerrors"
)

var uuidType = reflect.TypeOf(uuid.UUID{})

// Session is field.Session: the narrow lookup collaborator Schema needs to
// resolve Nested-field children by id during a load (spec §4.D
// get_instance). The broader CRUD/query collaborator lives in package
// resource.
type Session = field.Session

// Context is the per-use load/dump context (spec §3: "session, partial,
// only, exclude, strict, embed").
type Context struct {
	Session  Session
	Partial  bool
	Only     map[string]bool
	Exclude  map[string]bool
	Strict   bool
	EmbedSet map[string]bool
	// IncludeUnknown, when true, makes Load tolerate input keys that match
	// no Field instead of failing (spec §4.D point 2: "unless unknown=INCLUDE").
	IncludeUnknown bool
}

// NewContext returns a zero-value Context with initialized sets.
func NewContext() *Context {
	return &Context{Only: map[string]bool{}, Exclude: map[string]bool{}, EmbedSet: map[string]bool{}}
}

// Embed adds a dotted field path to the Schema's only/embed set. Per
// spec §9's resolved open question: embed(x) is only := only ∪ {x} when
// only is non-empty, and a no-op otherwise.
func (c *Context) Embed(path string) {
	c.EmbedSet[path] = true
	if len(c.Only) > 0 {
		c.Only[path] = true
	}
}

// ScalarBinding pairs a ScalarField with the Go struct field it populates.
type ScalarBinding struct {
	Field     *field.ScalarField
	FieldName string
}

// NestedBinding pairs a NestedField with the Go struct field it populates.
type NestedBinding struct {
	Field     *field.NestedField
	FieldName string
}

// Schema is a named group of Fields for one Entity plus its metadata
// (model type, instance constructor, id_keys, error_messages) — spec §3.
type Schema struct {
	Name          string
	InstanceType  reflect.Type
	IDKeys        []string
	Scalars       []ScalarBinding
	Nested        []NestedBinding
	ErrorMessages map[string]string

	byLoadFromOnce sync.Once
	byLoadFrom     map[string]field.Field
}

// New constructs a bare Schema. Use Converter (NewFromModel) to derive one
// automatically from a Model's introspected metadata, or build one by hand
// for full control.
func New(name string, instanceType reflect.Type, idKeys []string) *Schema {
	for instanceType.Kind() == reflect.Ptr {
		instanceType = instanceType.Elem()
	}
	return &Schema{
		Name:          name,
		InstanceType:  instanceType,
		IDKeys:        idKeys,
		ErrorMessages: map[string]string{},
	}
}

// AddScalar registers a scalar Field bound to the named Go struct field.
func (s *Schema) AddScalar(f *field.ScalarField, structFieldName string) *Schema {
	s.Scalars = append(s.Scalars, ScalarBinding{Field: f, FieldName: structFieldName})
	return s
}

// AddNested registers a relationship Field bound to the named Go struct field.
func (s *Schema) AddNested(f *field.NestedField, structFieldName string) *Schema {
	s.Nested = append(s.Nested, NestedBinding{Field: f, FieldName: structFieldName})
	return s
}

// FieldsByLoadFrom returns the mapping from external name to Field,
// computed lazily and memoized (spec §5: "must guard the memoization if
// Schemas are constructed concurrently" — sync.Once provides that guard).
func (s *Schema) FieldsByLoadFrom() map[string]field.Field {
	s.byLoadFromOnce.Do(func() {
		m := map[string]field.Field{}
		for _, b := range s.Scalars {
			m[b.Field.LoadFrom()] = b.Field
		}
		for _, b := range s.Nested {
			m[b.Field.LoadFrom()] = b.Field
		}
		s.byLoadFrom = m
	})
	return s.byLoadFrom
}

// errorMessage returns the Schema's override for code, if any, else falls
// back to def (spec §7: "Error messages are overridable per Resource via
// error_messages", supplemented into Schema by original_source's
// EmployeeResource.Meta.error_messages example — see SPEC_FULL.md).
func (s *Schema) errorMessage(code, def string) string {
	if msg, ok := s.ErrorMessages[code]; ok {
		return msg
	}
	return def
}

// newInstance allocates a zero value of the Schema's instance type.
func (s *Schema) newInstance() reflect.Value {
	return reflect.New(s.InstanceType)
}

// GetInstance resolves raw into an existing instance via Session.Lookup if
// all id_keys are present, otherwise reports isNew=true so the caller
// constructs a fresh one via MakeInstance (spec §4.D get_instance).
func (s *Schema) GetInstance(raw map[string]interface{}, session Session) (instance interface{}, isNew bool, err error) {
	ids := make([]interface{}, 0, len(s.IDKeys))
	for _, key := range s.IDKeys {
		loadFrom := key
		if b, ok := s.scalarByFieldName(key); ok {
			loadFrom = b.Field.LoadFrom()
		}
		v, ok := raw[loadFrom]
		if !ok || v == nil {
			return nil, true, nil
		}
		ids = append(ids, v)
	}
	if session == nil {
		return nil, true, nil
	}
	found, ok, err := session.Lookup(s.Name, s.IDKeys, ids)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, true, nil
	}
	return found, false, nil
}

func (s *Schema) scalarByFieldName(fieldName string) (ScalarBinding, bool) {
	for _, b := range s.Scalars {
		if b.FieldName == fieldName || b.Field.Name() == fieldName {
			return b, true
		}
	}
	return ScalarBinding{}, false
}

// MakeInstance constructs a bare instance and assigns its Scalar fields
// from raw, coerced through each Field's Load (spec §4.D make_instance).
// Errors are collected but do not stop construction; callers that need
// strict behavior should inspect the returned ErrorMap.
func (s *Schema) MakeInstance(raw map[string]interface{}) (interface{}, rgerrors.ErrorMap) {
	errs := rgerrors.ErrorMap{}
	v := s.newInstance()
	elem := v.Elem()
	for _, b := range s.Scalars {
		rawVal, ok := raw[b.Field.LoadFrom()]
		if !ok {
			continue
		}
		value, ferr := b.Field.Load(rawVal)
		if ferr != nil {
			errs.AddField(b.Field.Name(), ferr)
			continue
		}
		setField(elem, b.FieldName, value)
	}
	s.generateIDKeys(raw, elem)
	return v.Interface(), errs
}

// generateIDKeys fills any id_key field of Go type uuid.UUID that the
// caller left unset, mirroring picard fixtures that rely on a
// server-generated uuid.NewV4() primary key rather than one supplied by
// the client.
func (s *Schema) generateIDKeys(raw map[string]interface{}, elem reflect.Value) {
	for _, key := range s.IDKeys {
		b, ok := s.scalarByFieldName(key)
		if !ok {
			continue
		}
		if _, supplied := raw[b.Field.LoadFrom()]; supplied {
			continue
		}
		fv := elem.FieldByName(b.FieldName)
		if !fv.IsValid() || !fv.CanSet() || fv.Type() != uuidType {
			continue
		}
		if !reflectutil.IsZeroValue(fv) {
			continue
		}
		fv.Set(reflect.ValueOf(uuid.NewV4()))
	}
}

// Load deserializes raw into an Entity graph (spec §4.D load). If instance
// is non-nil it is mutated in place; otherwise GetInstance/MakeInstance
// resolves the target first. partial=true relaxes required-field checks.
// Field application order follows spec §5: Scalars (input order of
// definition), then Nested to-one, then Nested to-many.
func (s *Schema) Load(raw map[string]interface{}, ctx *Context, instance interface{}) (interface{}, rgerrors.ErrorMap) {
	errs := rgerrors.ErrorMap{}
	if ctx == nil {
		ctx = NewContext()
	}

	if instance == nil {
		resolved, isNew, err := s.GetInstance(raw, ctx.Session)
		if err != nil {
			errs["_"] = []*rgerrors.Error{rgerrors.Newf(rgerrors.Unprocessable, "lookup_failed", "%s", err.Error())}
			return nil, errs
		}
		if isNew {
			made, makeErrs := s.MakeInstance(raw)
			for k, v := range makeErrs {
				errs[k] = v
			}
			instance = made
		} else {
			instance = resolved
		}
	}

	v := reflect.ValueOf(instance)
	for v.Kind() == reflect.Ptr {
		v = v.Elem()
	}

	s.rejectUnknown(raw, ctx, errs)
	s.loadScalars(raw, ctx, v, errs)
	s.loadNestedToOne(raw, ctx, v, errs)
	s.loadNestedToMany(raw, ctx, v, errs)

	return instance, errs
}

// LoadStrict calls Load and, when ctx.Strict is set, collapses a non-empty
// root error map into a single *rgerrors.ValidationError instead of
// handing the caller a raw ErrorMap to inspect — spec §7's "in strict
// mode, a non-empty error map at the root triggers a single
// ValidationError carrying that map". Resource deliberately does not use
// this: its public methods return *rgerrors.Error uniformly so HTTP-layer
// callers can switch on one Kind enum, so ValidationError is for direct
// Schema callers that want the richer structured type.
func (s *Schema) LoadStrict(raw map[string]interface{}, ctx *Context, instance interface{}) (interface{}, error) {
	if ctx == nil {
		ctx = NewContext()
	}
	loaded, errs := s.Load(raw, ctx, instance)
	if ctx.Strict && len(errs) > 0 {
		return nil, &rgerrors.ValidationError{Errors: errs}
	}
	return loaded, nil
}

func (s *Schema) rejectUnknown(raw map[string]interface{}, ctx *Context, errs rgerrors.ErrorMap) {
	if ctx.IncludeUnknown {
		return
	}
	byLoadFrom := s.FieldsByLoadFrom()
	for key := range raw {
		if key == "$op" {
			continue
		}
		if _, ok := byLoadFrom[key]; !ok {
			errs.AddField(key, rgerrors.Newf(rgerrors.BadRequest, "invalid_field", s.errorMessage("invalid_field", fmt.Sprintf("unknown field %q", key))).WithPath(key))
		}
	}
}

func (s *Schema) loadScalars(raw map[string]interface{}, ctx *Context, v reflect.Value, errs rgerrors.ErrorMap) {
	for _, b := range s.Scalars {
		f := b.Field
		if f.ReadOnly() {
			continue
		}
		rawVal, present := raw[f.LoadFrom()]
		if !present {
			if !ctx.Partial && f.Required() {
				errs.AddField(f.Name(), rgerrors.Newf(rgerrors.Unprocessable, "required", "field %q is required", f.Name()).WithPath(f.Name()))
			}
			continue
		}
		value, ferr := f.Load(rawVal)
		if ferr != nil {
			errs.AddField(f.Name(), ferr)
			continue
		}
		if verr := f.Validate(value); verr != nil {
			errs.AddField(f.Name(), verr)
			continue
		}
		setField(v, b.FieldName, value)
	}
}

func (s *Schema) loadNestedToOne(raw map[string]interface{}, ctx *Context, v reflect.Value, errs rgerrors.ErrorMap) {
	for _, b := range s.Nested {
		if b.Field.Many {
			continue
		}
		f := b.Field
		if f.ReadOnly() {
			continue
		}
		rawVal, present := raw[f.LoadFrom()]
		if !present {
			continue
		}
		if rawVal == nil {
			if !f.Nullable() {
				errs.AddField(f.Name(), rgerrors.Newf(rgerrors.Unprocessable, "null", "field %q may not be null", f.Name()).WithPath(f.Name()))
				continue
			}
			clearField(v, b.FieldName)
			continue
		}
		obj, ok := rawVal.(map[string]interface{})
		if !ok {
			errs.AddField(f.Name(), rgerrors.Newf(rgerrors.Unprocessable, "type", "field %q expects an object", f.Name()).WithPath(f.Name()))
			continue
		}
		child, childErrs := s.loadChild(f, obj, ctx)
		if len(childErrs) > 0 {
			errs.SetChild(f.Name(), childErrs)
			continue
		}
		if child != nil {
			setField(v, b.FieldName, reflect.ValueOf(child).Elem().Interface())
		}
	}
}

func (s *Schema) loadNestedToMany(raw map[string]interface{}, ctx *Context, v reflect.Value, errs rgerrors.ErrorMap) {
	for _, b := range s.Nested {
		if !b.Field.Many {
			continue
		}
		f := b.Field
		if f.ReadOnly() {
			continue
		}
		rawVal, present := raw[f.LoadFrom()]
		if !present {
			continue
		}
		items, ok := rawVal.([]interface{})
		if !ok {
			errs.AddField(f.Name(), rgerrors.Newf(rgerrors.Unprocessable, "type", "field %q expects a list", f.Name()).WithPath(f.Name()))
			continue
		}

		target := f.Target()
		collection := v.FieldByName(b.FieldName)

		// Spec §5: $op=remove is applied before $op=add/implicit-set so an
		// add after a remove of the same id is legal. We preserve relative
		// input order within each class, and track per-index errors so the
		// output error list stays aligned with the input list.
		childErrs := make([]rgerrors.ErrorMap, len(items))
		order := make([]int, 0, len(items))
		for i, raw := range items {
			obj, ok := raw.(map[string]interface{})
			if !ok {
				childErrs[i] = rgerrors.ErrorMap{"_": []*rgerrors.Error{rgerrors.New(rgerrors.Unprocessable, "type", "relationship child must be an object")}}
				continue
			}
			if opString(obj) == field.OpRemove {
				order = append(order, i)
			}
		}
		for i, raw := range items {
			obj, ok := raw.(map[string]interface{})
			if !ok {
				continue
			}
			if opString(obj) != field.OpRemove {
				order = append(order, i)
			}
		}

		for _, i := range order {
			obj := items[i].(map[string]interface{})
			op := opString(obj)
			ce := applyToManyChild(f, target, collection, obj, op, ctx)
			if len(ce) > 0 {
				childErrs[i] = ce
			}
		}

		errs.SetChildList(f.Name(), childErrs)
	}
}

func opString(obj map[string]interface{}) field.Op {
	raw, ok := obj["$op"]
	if !ok {
		return field.OpSet
	}
	s, _ := raw.(string)
	switch field.Op(s) {
	case field.OpAdd:
		return field.OpAdd
	case field.OpRemove:
		return field.OpRemove
	default:
		return field.OpSet
	}
}

// loadChild loads a single Nested child object through its target Schema,
// classifying $op and enforcing the Field's permission set (spec §4.C).
func (s *Schema) loadChild(f *field.NestedField, obj map[string]interface{}, ctx *Context) (interface{}, rgerrors.ErrorMap) {
	target := f.Target()
	op := opString(obj)
	if !f.Allows(op) {
		return nil, rgerrors.ErrorMap{"$op": []*rgerrors.Error{rgerrors.Newf(rgerrors.Unprocessable, "permission_denied", "operation %q not allowed on field %q", op, f.Name())}}
	}

	childRaw := withoutOp(obj)
	instance, isNew, err := target.GetInstance(childRaw, ctx.Session)
	if err != nil {
		return nil, rgerrors.ErrorMap{"_": []*rgerrors.Error{rgerrors.Newf(rgerrors.Unprocessable, "lookup_failed", "%s", err.Error())}}
	}
	if isNew && op == field.OpRemove {
		return nil, rgerrors.ErrorMap{"$op": []*rgerrors.Error{rgerrors.New(rgerrors.NotFound, "not_found", "cannot remove a relationship target that does not exist")}}
	}
	loaded, childErrs := target.LoadChild(childRaw, ctx.Partial, ctx.Session)
	if len(childErrs) > 0 {
		return nil, childErrs
	}
	_ = instance
	v := reflect.ValueOf(loaded)
	return v.Interface(), nil
}

// applyToManyChild loads one to-many child and applies add/remove/replace
// semantics against the in-memory collection field (spec §4.C).
func applyToManyChild(f *field.NestedField, target field.SchemaRef, collection reflect.Value, obj map[string]interface{}, op field.Op, ctx *Context) rgerrors.ErrorMap {
	if !f.Allows(op) {
		return rgerrors.ErrorMap{"$op": []*rgerrors.Error{rgerrors.Newf(rgerrors.Unprocessable, "permission_denied", "operation %q not allowed on field %q", op, f.Name())}}
	}

	childRaw := withoutOp(obj)
	instance, isNew, err := target.GetInstance(childRaw, ctx.Session)
	if err != nil {
		return rgerrors.ErrorMap{"_": []*rgerrors.Error{rgerrors.Newf(rgerrors.Unprocessable, "lookup_failed", "%s", err.Error())}}
	}

	memberIndex := -1
	if !isNew {
		for i := 0; i < collection.Len(); i++ {
			if target.Identical(collection.Index(i).Interface(), instance) {
				memberIndex = i
				break
			}
		}
	}

	switch op {
	case field.OpRemove:
		if isNew {
			return rgerrors.ErrorMap{"$op": []*rgerrors.Error{rgerrors.New(rgerrors.NotFound, "not_found", "cannot remove: relationship target does not exist")}}
		}
		if memberIndex < 0 {
			return rgerrors.ErrorMap{"$op": []*rgerrors.Error{rgerrors.New(rgerrors.Unprocessable, "remove_not_member", "cannot remove: target is not currently a member of the relationship")}}
		}
		collection.Set(reflect.AppendSlice(collection.Slice(0, memberIndex), collection.Slice(memberIndex+1, collection.Len())))
		return nil
	case field.OpAdd:
		if memberIndex >= 0 {
			return rgerrors.ErrorMap{"$op": []*rgerrors.Error{rgerrors.New(rgerrors.Unprocessable, "add_already_member", "cannot add: target is already a member of the relationship")}}
		}
	}

	loaded, childErrs := target.LoadChild(childRaw, ctx.Partial, ctx.Session)
	if len(childErrs) > 0 {
		return childErrs
	}
	loadedVal := reflect.ValueOf(loaded).Elem()

	if memberIndex >= 0 {
		collection.Index(memberIndex).Set(loadedVal)
	} else {
		collection.Set(reflect.Append(collection, loadedVal))
	}
	return nil
}

func withoutOp(obj map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(obj))
	for k, v := range obj {
		if k == "$op" {
			continue
		}
		out[k] = v
	}
	return out
}

// LoadChild satisfies field.SchemaRef: load a standalone child document
// against this Schema, returning a pointer to a freshly built/mutated
// instance plus its error map.
func (s *Schema) LoadChild(raw map[string]interface{}, partial bool, session Session) (interface{}, rgerrors.ErrorMap) {
	ctx := NewContext()
	ctx.Partial = partial
	ctx.Session = session
	instance, errs := s.Load(raw, ctx, nil)
	if instance == nil {
		return reflect.New(s.InstanceType).Interface(), errs
	}
	v := reflect.ValueOf(instance)
	if v.Kind() != reflect.Ptr {
		ptr := reflect.New(s.InstanceType)
		ptr.Elem().Set(v)
		return ptr.Interface(), errs
	}
	return instance, errs
}

// DumpChild satisfies field.SchemaRef.
func (s *Schema) DumpChild(instance interface{}) map[string]interface{} {
	return s.Dump(instance, NewContext())
}

// IDKeysOf satisfies field.SchemaRef: read the id_key field values off an
// instance in id_keys order.
func (s *Schema) IDKeysOf(instance interface{}) []interface{} {
	v := reflect.ValueOf(instance)
	for v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	ids := make([]interface{}, 0, len(s.IDKeys))
	for _, key := range s.IDKeys {
		fieldName := key
		if b, ok := s.scalarByFieldName(key); ok {
			fieldName = b.FieldName
		}
		fv := v.FieldByName(fieldName)
		if fv.IsValid() {
			ids = append(ids, fv.Interface())
		}
	}
	return ids
}

// Identical reports whether two instances share the same id_keys values —
// used to detect "already a member" / "currently a member" during to-many
// add/remove (spec §4.C).
func (s *Schema) Identical(a, b interface{}) bool {
	aIDs := s.IDKeysOf(a)
	bIDs := s.IDKeysOf(b)
	if len(aIDs) != len(bIDs) || len(aIDs) == 0 {
		return false
	}
	for i := range aIDs {
		if aIDs[i] != bIDs[i] {
			return false
		}
	}
	return true
}

// Dump converts entity to its external JSON-compatible form (spec §4.D
// dump), honoring only/exclude. Nested fields recurse through their
// target Schema's Dump, tracking a visited set to guard cycles (spec §9
// "Cycles in relationships... prevent infinite recursion during dump by
// tracking a visited set keyed by (entity identity, depth)").
func (s *Schema) Dump(instance interface{}, ctx *Context) map[string]interface{} {
	return s.dump(instance, ctx, map[visitKey]bool{}, 0)
}

type visitKey struct {
	schema string
	id     string
}

const maxDumpDepth = 8

func (s *Schema) dump(instance interface{}, ctx *Context, visited map[visitKey]bool, depth int) map[string]interface{} {
	if instance == nil || depth > maxDumpDepth {
		return nil
	}
	v := reflect.ValueOf(instance)
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}

	key := visitKey{schema: s.Name, id: fmt.Sprint(s.IDKeysOf(v.Interface()))}
	if visited[key] {
		return nil
	}
	visited[key] = true

	out := map[string]interface{}{}
	for _, b := range s.Scalars {
		f := b.Field
		if f.WriteOnly() {
			continue
		}
		if !s.included(f.Name(), ctx) {
			continue
		}
		fv := v.FieldByName(b.FieldName)
		if !fv.IsValid() {
			continue
		}
		out[f.DumpTo()] = f.Dump(fv.Interface())
	}

	for _, b := range s.Nested {
		f := b.Field
		if f.WriteOnly() {
			continue
		}
		if !s.included(f.Name(), ctx) {
			continue
		}
		fv := v.FieldByName(b.FieldName)
		if !fv.IsValid() {
			continue
		}
		target := f.Target()
		targetSchema, _ := target.(*Schema)
		if targetSchema == nil {
			continue
		}
		if f.Many {
			list := make([]interface{}, 0, fv.Len())
			for i := 0; i < fv.Len(); i++ {
				child := targetSchema.dump(fv.Index(i).Interface(), ctx, visited, depth+1)
				if child != nil {
					list = append(list, child)
				}
			}
			out[f.DumpTo()] = list
		} else {
			if fv.Kind() == reflect.Ptr && fv.IsNil() {
				out[f.DumpTo()] = nil
				continue
			}
			child := targetSchema.dump(fv.Interface(), ctx, visited, depth+1)
			out[f.DumpTo()] = child
		}
	}

	return out
}

func (s *Schema) included(name string, ctx *Context) bool {
	if ctx == nil {
		return true
	}
	if len(ctx.Only) > 0 && !ctx.Only[name] {
		return false
	}
	if ctx.Exclude[name] {
		return false
	}
	return true
}

func setField(v reflect.Value, fieldName string, value interface{}) {
	fv := v.FieldByName(fieldName)
	if !fv.IsValid() || !fv.CanSet() || value == nil {
		return
	}
	rv := reflect.ValueOf(value)
	if rv.Type().ConvertibleTo(fv.Type()) {
		fv.Set(rv.Convert(fv.Type()))
	}
}

func clearField(v reflect.Value, fieldName string) {
	fv := v.FieldByName(fieldName)
	if fv.IsValid() && fv.CanSet() {
		fv.Set(reflect.Zero(fv.Type()))
	}
}
