/*
Package resource implements spec §4.F: one Resource binds one Schema to
a Store collaborator and exposes get/get_collection/post/patch/put/
delete/*_attr, translating query-param maps via package queryparam and
database access via package dbfilter's compiled queries. It plays the
role picard's PersistenceORM.SaveModel/DeleteModel/FilterModel trio
played for the teacher, generalized from one bare struct to a Schema's
full Field/relationship machinery.
*/
package resource

import (
	"reflect"

	"go.uber.org/zap"

	"github.com/skuid/restgraph/field"
	"github.com/skuid/restgraph/queryparam"
	"github.com/skuid/restgraph/rgerrors"
	"github.com/skuid/restgraph/schema"
)

// Store is the broader database collaborator a Resource needs beyond
// the narrow field.Session a Schema uses to resolve Nested children:
// querying a filtered/sorted/paged collection, and persisting or
// deleting one instance. A concrete Store wraps a *sql.DB or *sql.Tx the
// way picard's PersistenceORM wraps a *sql.Tx, building its SQL with
// package dbfilter.
type Store interface {
	field.Session
	Query(schemaName string, filter *queryparam.FilterExpr, sorts []queryparam.Sort, page queryparam.OffsetLimit) ([]interface{}, error)
	Save(schemaName string, instance interface{}, isNew bool) error
	Delete(schemaName string, instance interface{}) error
}

// Resource binds one Schema to a Store.
type Resource struct {
	Schema      *schema.Schema
	Store       Store
	PageMaxSize queryparam.PageMaxSize
	Strict      bool
	// Logger receives structured entries for each operation, the way
	// dphaener-conduit wires zap through its request path; picard itself
	// has no logger to carry forward (just a stray fmt.Printf in
	// decoding.go). Defaults to a no-op logger so a bare New() never
	// panics on a nil Logger.
	Logger *zap.Logger
}

// New constructs a Resource with a no-op Logger; call WithLogger to
// attach a real one.
func New(s *schema.Schema, store Store) *Resource {
	return &Resource{Schema: s, Store: store, Logger: zap.NewNop()}
}

// WithLogger attaches a logger and returns the same Resource for chaining.
func (r *Resource) WithLogger(logger *zap.Logger) *Resource {
	r.Logger = logger
	return r
}

func (r *Resource) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

func (r *Resource) contextFor(params queryparam.Params) *schema.Context {
	ctx := schema.NewContext()
	ctx.Session = r.Store
	for _, path := range queryparam.ParseEmbeds(params) {
		ctx.Embed(path)
	}
	return ctx
}

// Get looks up a single instance by id, applies embed/only, and dumps it.
func (r *Resource) Get(ids []interface{}, params queryparam.Params) (map[string]interface{}, *rgerrors.Error) {
	instance, found, err := r.Store.Lookup(r.Schema.Name, r.Schema.IDKeys, ids)
	if err != nil {
		return nil, rgerrors.Newf(rgerrors.NotFound, "lookup_failed", "%s: %s", r.Schema.Name, err.Error())
	}
	if !found {
		return nil, rgerrors.Newf(rgerrors.NotFound, "not_found", "%s not found", r.Schema.Name)
	}
	return r.Schema.Dump(instance, r.contextFor(params)), nil
}

// GetCollection parses filters/sorts/page from params, queries the
// Store, and dumps each result.
func (r *Resource) GetCollection(params queryparam.Params) ([]map[string]interface{}, *rgerrors.Error) {
	filter, ferrs := queryparam.ParseFilters(params, r.Schema, r.Strict)
	if len(ferrs) > 0 {
		return nil, rgerrors.New(rgerrors.BadRequest, "invalid_filter", ferrs.String())
	}
	sorts := queryparam.ParseSorts(params)
	page, perr := queryparam.ParseOffsetLimit(params, r.Schema.Name, r.PageMaxSize, r.Strict)
	if perr != nil {
		return nil, perr
	}

	instances, err := r.Store.Query(r.Schema.Name, filter, sorts, page)
	if err != nil {
		r.logger().Error("query failed", zap.String("schema", r.Schema.Name), zap.Error(err))
		return nil, rgerrors.Newf(rgerrors.BadRequest, "query_failed", "%s", err.Error())
	}
	r.logger().Debug("query ok", zap.String("schema", r.Schema.Name), zap.Int("count", len(instances)))

	ctx := r.contextFor(params)
	out := make([]map[string]interface{}, len(instances))
	for i, inst := range instances {
		out[i] = r.Schema.Dump(inst, ctx)
	}
	return out, nil
}

// Post creates one or many instances. A list input creates each and
// returns (nil, nil); a single object returns its dumped form — the
// resolved shape of spec §9's POST-collection open question.
func (r *Resource) Post(data interface{}) (map[string]interface{}, *rgerrors.Error) {
	ctx := schema.NewContext()
	ctx.Session = r.Store

	if list, ok := data.([]interface{}); ok {
		for _, item := range list {
			obj, ok := item.(map[string]interface{})
			if !ok {
				return nil, rgerrors.New(rgerrors.BadRequest, "invalid_body", "list items must be objects")
			}
			if _, err := r.create(obj, ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}

	obj, ok := data.(map[string]interface{})
	if !ok {
		return nil, rgerrors.New(rgerrors.BadRequest, "invalid_body", "body must be an object or a list of objects")
	}
	return r.create(obj, ctx)
}

func (r *Resource) create(obj map[string]interface{}, ctx *schema.Context) (map[string]interface{}, *rgerrors.Error) {
	instance, errs := r.Schema.Load(obj, ctx, nil)
	if len(errs) > 0 {
		r.logger().Debug("validation failed on create", zap.String("schema", r.Schema.Name), zap.String("errors", errs.String()))
		return nil, rgerrors.New(rgerrors.Unprocessable, "validation_failed", errs.String())
	}
	if err := r.Store.Save(r.Schema.Name, instance, true); err != nil {
		r.logger().Error("save failed on create", zap.String("schema", r.Schema.Name), zap.Error(err))
		return nil, rgerrors.Newf(rgerrors.Unprocessable, "save_failed", "%s", err.Error())
	}
	r.logger().Info("created", zap.String("schema", r.Schema.Name))
	return r.Schema.Dump(instance, ctx), nil
}

func (r *Resource) fetch(ids []interface{}) (interface{}, *rgerrors.Error) {
	instance, found, err := r.Store.Lookup(r.Schema.Name, r.Schema.IDKeys, ids)
	if err != nil {
		r.logger().Error("lookup failed", zap.String("schema", r.Schema.Name), zap.Error(err))
		return nil, rgerrors.Newf(rgerrors.NotFound, "lookup_failed", "%s: %s", r.Schema.Name, err.Error())
	}
	if !found {
		r.logger().Debug("not found", zap.String("schema", r.Schema.Name), zap.Any("ids", ids))
		return nil, rgerrors.Newf(rgerrors.NotFound, "not_found", "%s not found", r.Schema.Name)
	}
	return instance, nil
}

// Patch loads data onto the fetched instance with partial=true, flushes
// it, and dumps the result.
func (r *Resource) Patch(ids []interface{}, data map[string]interface{}) (map[string]interface{}, *rgerrors.Error) {
	return r.update(ids, data, true)
}

// Put loads data onto the fetched instance with partial=false (a full
// replace), flushes it, and dumps the result.
func (r *Resource) Put(ids []interface{}, data map[string]interface{}) (map[string]interface{}, *rgerrors.Error) {
	return r.update(ids, data, false)
}

func (r *Resource) update(ids []interface{}, data map[string]interface{}, partial bool) (map[string]interface{}, *rgerrors.Error) {
	instance, ferr := r.fetch(ids)
	if ferr != nil {
		return nil, ferr
	}

	ctx := schema.NewContext()
	ctx.Session = r.Store
	ctx.Partial = partial

	instance, errs := r.Schema.Load(data, ctx, instance)
	if len(errs) > 0 {
		r.logger().Debug("validation failed on update", zap.String("schema", r.Schema.Name), zap.String("errors", errs.String()))
		return nil, rgerrors.New(rgerrors.Unprocessable, "validation_failed", errs.String())
	}
	if err := r.Store.Save(r.Schema.Name, instance, false); err != nil {
		r.logger().Error("save failed on update", zap.String("schema", r.Schema.Name), zap.Error(err))
		return nil, rgerrors.Newf(rgerrors.Unprocessable, "save_failed", "%s", err.Error())
	}
	r.logger().Info("updated", zap.String("schema", r.Schema.Name), zap.Any("ids", ids))
	return r.Schema.Dump(instance, ctx), nil
}

// Delete fetches then deletes the instance.
func (r *Resource) Delete(ids []interface{}) *rgerrors.Error {
	instance, ferr := r.fetch(ids)
	if ferr != nil {
		return ferr
	}
	if err := r.Store.Delete(r.Schema.Name, instance); err != nil {
		r.logger().Error("delete failed", zap.String("schema", r.Schema.Name), zap.Error(err))
		return rgerrors.Newf(rgerrors.Unprocessable, "delete_failed", "%s", err.Error())
	}
	r.logger().Info("deleted", zap.String("schema", r.Schema.Name), zap.Any("ids", ids))
	return nil
}

// GetAttr returns the dumped value of a single Scalar field.
func (r *Resource) GetAttr(ids []interface{}, attr string) (interface{}, *rgerrors.Error) {
	instance, ferr := r.fetch(ids)
	if ferr != nil {
		return nil, ferr
	}
	binding, ok := r.scalarBinding(attr)
	if !ok {
		return nil, rgerrors.Newf(rgerrors.NotFound, "unknown_attribute", "no such attribute %q", attr)
	}
	v := reflect.ValueOf(instance)
	for v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	return binding.Field.Dump(v.FieldByName(binding.FieldName).Interface()), nil
}

// SetAttr validates and assigns a single Scalar field, used by both
// post_attr and patch_attr (spec §4.F: "Act on a single Scalar field;
// validation via that Field").
func (r *Resource) SetAttr(ids []interface{}, attr string, value interface{}) (interface{}, *rgerrors.Error) {
	instance, ferr := r.fetch(ids)
	if ferr != nil {
		return nil, ferr
	}
	binding, ok := r.scalarBinding(attr)
	if !ok {
		return nil, rgerrors.Newf(rgerrors.NotFound, "unknown_attribute", "no such attribute %q", attr)
	}
	if binding.Field.ReadOnly() {
		return nil, rgerrors.Newf(rgerrors.PermissionDenied, "read_only", "attribute %q is read-only", attr)
	}

	loaded, lerr := binding.Field.Load(value)
	if lerr != nil {
		return nil, lerr
	}
	if verr := binding.Field.Validate(loaded); verr != nil {
		return nil, verr
	}

	v := reflect.ValueOf(instance)
	for v.Kind() == reflect.Ptr {
		v = v.Elem()
	}
	fv := v.FieldByName(binding.FieldName)
	if !fv.IsValid() || !fv.CanSet() {
		return nil, rgerrors.Newf(rgerrors.Unprocessable, "set_failed", "attribute %q cannot be set", attr)
	}
	if loaded == nil {
		fv.Set(reflect.Zero(fv.Type()))
	} else {
		// Same convert-or-reject guard as schema.setField: a Scalar's Load
		// may hand back a type (e.g. int for a TypeInteger field) that
		// isn't identical to the bound struct field's width/kind, so this
		// converts through reflect rather than a raw Set that would panic
		// on mismatch.
		rv := reflect.ValueOf(loaded)
		if !rv.Type().ConvertibleTo(fv.Type()) {
			return nil, rgerrors.Newf(rgerrors.Unprocessable, "type_mismatch", "attribute %q cannot accept a %s value", attr, rv.Type())
		}
		fv.Set(rv.Convert(fv.Type()))
	}

	if err := r.Store.Save(r.Schema.Name, instance, false); err != nil {
		return nil, rgerrors.Newf(rgerrors.Unprocessable, "save_failed", "%s", err.Error())
	}
	return binding.Field.Dump(loaded), nil
}

func (r *Resource) scalarBinding(name string) (schema.ScalarBinding, bool) {
	for _, b := range r.Schema.Scalars {
		if b.Field.Name() == name {
			return b, true
		}
	}
	return schema.ScalarBinding{}, false
}
