package router

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skuid/restgraph/field"
	"github.com/skuid/restgraph/queryparam"
	"github.com/skuid/restgraph/resource"
	"github.com/skuid/restgraph/rgerrors"
	"github.com/skuid/restgraph/schema"
)

type fixtureWidget struct {
	ID   int
	Name string
}

type fixturePart struct {
	ID       int
	Label    string
	WidgetID int
}

// fixtureStore implements resource.Store for both Widget and Part,
// comparing ids loosely (by string form) the way examples/chinook's
// MemoryStore does, since the router always hands ids down as the
// decoded path-segment strings.
type fixtureStore struct {
	widgets    []*fixtureWidget
	parts      []*fixturePart
	lastFilter *queryparam.FilterExpr
}

func idStr(v interface{}) string { return fmt.Sprint(v) }

func (s *fixtureStore) Lookup(schemaName string, idKeys []string, ids []interface{}) (interface{}, bool, error) {
	want := idStr(ids[0])
	switch schemaName {
	case "Widget":
		for _, w := range s.widgets {
			if idStr(w.ID) == want {
				return w, true, nil
			}
		}
	case "Part":
		for _, p := range s.parts {
			if idStr(p.ID) == want {
				return p, true, nil
			}
		}
	}
	return nil, false, nil
}

func (s *fixtureStore) Query(schemaName string, filter *queryparam.FilterExpr, sorts []queryparam.Sort, page queryparam.OffsetLimit) ([]interface{}, error) {
	s.lastFilter = filter
	var out []interface{}
	switch schemaName {
	case "Widget":
		for _, w := range s.widgets {
			out = append(out, w)
		}
	case "Part":
		for _, p := range s.parts {
			if filter != nil && filter.Field == "widget_id" && idStr(p.WidgetID) != idStr(filter.Value) {
				continue
			}
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *fixtureStore) Save(schemaName string, instance interface{}, isNew bool) error {
	switch schemaName {
	case "Widget":
		w := instance.(*fixtureWidget)
		if isNew {
			s.widgets = append(s.widgets, w)
		}
	case "Part":
		p := instance.(*fixturePart)
		if isNew {
			s.parts = append(s.parts, p)
		}
	}
	return nil
}

func (s *fixtureStore) Delete(schemaName string, instance interface{}) error {
	switch schemaName {
	case "Widget":
		w := instance.(*fixtureWidget)
		for i, existing := range s.widgets {
			if existing == w {
				s.widgets = append(s.widgets[:i], s.widgets[i+1:]...)
				break
			}
		}
	}
	return nil
}

func buildRouter(store *fixtureStore) *Router {
	reg := schema.NewRegistry()

	widget := schema.New("Widget", reflect.TypeOf(fixtureWidget{}), []string{"id"})
	widget.AddScalar(field.NewScalar(field.TypeInteger, field.Options{Name: "id", ReadOnly: true}), "ID")
	widget.AddScalar(field.NewScalar(field.TypeString, field.Options{Name: "name", Required: true}), "Name")

	part := schema.New("Part", reflect.TypeOf(fixturePart{}), []string{"id"})
	part.AddScalar(field.NewScalar(field.TypeInteger, field.Options{Name: "id", ReadOnly: true}), "ID")
	part.AddScalar(field.NewScalar(field.TypeString, field.Options{Name: "label", Required: true}), "Label")
	part.AddScalar(field.NewScalar(field.TypeInteger, field.Options{Name: "widget_id"}), "WidgetID")

	widget.AddNested(field.NewNested("Part", true, []field.Op{field.OpAdd, field.OpRemove, field.OpSet}, reg.Resolver(), field.Options{Name: "parts", BackRef: "widget_id"}), "Parts")

	reg.Register(widget)
	reg.Register(part)

	widgetRes := resource.New(widget, store)
	partRes := resource.New(part, store)

	rtReg := NewRegistry()
	rtReg.Register("widgets", widgetRes)
	rtReg.Register("parts", partRes)

	return New(rtReg, true)
}

func TestDispatchEmptyPath(t *testing.T) {
	rt := buildRouter(&fixtureStore{})
	_, err := rt.Dispatch("GET", "", nil, nil)
	require.NotNil(t, err)
	assert.Equal(t, rgerrors.NotFound, err.Kind)
}

func TestDispatchUnknownCollection(t *testing.T) {
	rt := buildRouter(&fixtureStore{})
	_, err := rt.Dispatch("GET", "/dne", nil, nil)
	require.NotNil(t, err)
	assert.Equal(t, rgerrors.NotFound, err.Kind)
}

func TestDispatchGetCollection(t *testing.T) {
	store := &fixtureStore{widgets: []*fixtureWidget{{ID: 1, Name: "Bolt"}}}
	rt := buildRouter(store)

	out, err := rt.Dispatch("GET", "/widgets", nil, nil)
	require.Nil(t, err)
	list := out.([]map[string]interface{})
	require.Len(t, list, 1)
	assert.Equal(t, "Bolt", list[0]["name"])
}

func TestDispatchMethodNotAllowedOnCollection(t *testing.T) {
	rt := buildRouter(&fixtureStore{})
	_, err := rt.Dispatch("DELETE", "/widgets", nil, nil)
	require.NotNil(t, err)
	assert.Equal(t, rgerrors.MethodNotAllowed, err.Kind)
}

func TestDispatchPostCollection(t *testing.T) {
	store := &fixtureStore{}
	rt := buildRouter(store)

	_, err := rt.Dispatch("POST", "/widgets", nil, map[string]interface{}{"name": "Nut"})
	require.Nil(t, err)
	require.Len(t, store.widgets, 1)
	assert.Equal(t, "Nut", store.widgets[0].Name)
}

func TestDispatchGetItem(t *testing.T) {
	store := &fixtureStore{widgets: []*fixtureWidget{{ID: 1, Name: "Bolt"}}}
	rt := buildRouter(store)

	out, err := rt.Dispatch("GET", "/widgets/1", nil, nil)
	require.Nil(t, err)
	assert.Equal(t, "Bolt", out.(map[string]interface{})["name"])
}

func TestDispatchGetItemNotFound(t *testing.T) {
	rt := buildRouter(&fixtureStore{})
	_, err := rt.Dispatch("GET", "/widgets/99", nil, nil)
	require.NotNil(t, err)
	assert.Equal(t, rgerrors.NotFound, err.Kind)
}

func TestDispatchPatchItem(t *testing.T) {
	store := &fixtureStore{widgets: []*fixtureWidget{{ID: 1, Name: "Bolt"}}}
	rt := buildRouter(store)

	out, err := rt.Dispatch("PATCH", "/widgets/1", nil, map[string]interface{}{"name": "Screw"})
	require.Nil(t, err)
	assert.Equal(t, "Screw", out.(map[string]interface{})["name"])
}

func TestDispatchPatchItemInvalidBody(t *testing.T) {
	store := &fixtureStore{widgets: []*fixtureWidget{{ID: 1, Name: "Bolt"}}}
	rt := buildRouter(store)

	_, err := rt.Dispatch("PATCH", "/widgets/1", nil, "not-an-object")
	require.NotNil(t, err)
	assert.Equal(t, rgerrors.BadRequest, err.Kind)
}

func TestDispatchPutItem(t *testing.T) {
	store := &fixtureStore{widgets: []*fixtureWidget{{ID: 1, Name: "Bolt"}}}
	rt := buildRouter(store)

	out, err := rt.Dispatch("PUT", "/widgets/1", nil, map[string]interface{}{"name": "Screw"})
	require.Nil(t, err)
	assert.Equal(t, "Screw", out.(map[string]interface{})["name"])
}

func TestDispatchDeleteItem(t *testing.T) {
	store := &fixtureStore{widgets: []*fixtureWidget{{ID: 1, Name: "Bolt"}}}
	rt := buildRouter(store)

	out, err := rt.Dispatch("DELETE", "/widgets/1", nil, nil)
	require.Nil(t, err)
	assert.Nil(t, out)
	assert.Empty(t, store.widgets)
}

func TestDispatchMethodNotAllowedOnItem(t *testing.T) {
	store := &fixtureStore{widgets: []*fixtureWidget{{ID: 1, Name: "Bolt"}}}
	rt := buildRouter(store)

	_, err := rt.Dispatch("POST", "/widgets/1", nil, nil)
	require.NotNil(t, err)
	assert.Equal(t, rgerrors.MethodNotAllowed, err.Kind)
}

func TestDispatchSubresourceCollectionScopesToParent(t *testing.T) {
	store := &fixtureStore{
		widgets: []*fixtureWidget{{ID: 1, Name: "Bolt"}},
		parts:   []*fixturePart{{ID: 10, Label: "Head", WidgetID: 1}, {ID: 11, Label: "Other", WidgetID: 2}},
	}
	rt := buildRouter(store)

	out, err := rt.Dispatch("GET", "/widgets/1/parts", nil, nil)
	require.Nil(t, err)
	list := out.([]map[string]interface{})
	require.Len(t, list, 1)
	assert.Equal(t, "Head", list[0]["label"])

	require.NotNil(t, store.lastFilter)
	assert.Equal(t, "widget_id", store.lastFilter.Field)
	assert.Equal(t, 1, store.lastFilter.Value)
}

func TestDispatchSubresourcePostAddsJoinToBody(t *testing.T) {
	store := &fixtureStore{widgets: []*fixtureWidget{{ID: 1, Name: "Bolt"}}}
	rt := buildRouter(store)

	_, err := rt.Dispatch("POST", "/widgets/1/parts", nil, map[string]interface{}{"label": "Head"})
	require.Nil(t, err)
	require.Len(t, store.parts, 1)
	assert.Equal(t, 1, store.parts[0].WidgetID)
}

func TestDispatchUnknownNestedSegmentNotFound(t *testing.T) {
	store := &fixtureStore{widgets: []*fixtureWidget{{ID: 1, Name: "Bolt"}}}
	rt := buildRouter(store)

	_, err := rt.Dispatch("GET", "/widgets/1/bogus/deep", nil, nil)
	require.NotNil(t, err)
	assert.Equal(t, rgerrors.NotFound, err.Kind)
}

func TestDispatchGetAttr(t *testing.T) {
	store := &fixtureStore{widgets: []*fixtureWidget{{ID: 1, Name: "Bolt"}}}
	rt := buildRouter(store)

	out, err := rt.Dispatch("GET", "/widgets/1/name", nil, nil)
	require.Nil(t, err)
	assert.Equal(t, "Bolt", out)
}

func TestDispatchGetAttrUnknown(t *testing.T) {
	store := &fixtureStore{widgets: []*fixtureWidget{{ID: 1, Name: "Bolt"}}}
	rt := buildRouter(store)

	_, err := rt.Dispatch("GET", "/widgets/1/dne", nil, nil)
	require.NotNil(t, err)
	assert.Equal(t, rgerrors.NotFound, err.Kind)
}

func TestDispatchSetAttrViaPatch(t *testing.T) {
	store := &fixtureStore{widgets: []*fixtureWidget{{ID: 1, Name: "Bolt"}}}
	rt := buildRouter(store)

	out, err := rt.Dispatch("PATCH", "/widgets/1/name", nil, map[string]interface{}{"value": "Screw"})
	require.Nil(t, err)
	assert.Equal(t, "Screw", out)
	assert.Equal(t, "Screw", store.widgets[0].Name)
}

func TestDispatchMethodNotAllowedOnAttribute(t *testing.T) {
	store := &fixtureStore{widgets: []*fixtureWidget{{ID: 1, Name: "Bolt"}}}
	rt := buildRouter(store)

	_, err := rt.Dispatch("DELETE", "/widgets/1/name", nil, nil)
	require.NotNil(t, err)
	assert.Equal(t, rgerrors.MethodNotAllowed, err.Kind)
}

func TestDispatchInvalidPathSegment(t *testing.T) {
	rt := buildRouter(&fixtureStore{})
	_, err := rt.Dispatch("GET", "/widgets/%zz", nil, nil)
	require.NotNil(t, err)
	assert.Equal(t, rgerrors.BadRequest, err.Kind)
}
