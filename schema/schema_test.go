package schema

import (
	"fmt"
	"reflect"
	"testing"

	uuid "github.com/satori/go.uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skuid/restgraph/field"
)

type fixtureAlbum struct {
	AlbumID  int
	Title    string
	ArtistID int
	Tracks   []fixtureTrack
}

type fixtureTrack struct {
	TrackID int
	Name    string
	AlbumID int
}

// fixtureSession is a minimal field.Session backed by a plain slice,
// enough to exercise get_instance/load_child without a real Store.
type fixtureSession struct {
	albums []fixtureAlbum
	tracks []fixtureTrack
}

func (s *fixtureSession) Lookup(schemaName string, idKeys []string, ids []interface{}) (interface{}, bool, error) {
	// ids arrives decoded from JSON-shaped input (so an id like 1 may show
	// up as float64(1)); compare loosely by string form, the same way
	// examples/chinook's MemoryStore.idsEqual does.
	want := fmt.Sprint(ids[0])
	switch schemaName {
	case "Album":
		for _, a := range s.albums {
			if fmt.Sprint(a.AlbumID) == want {
				return a, true, nil
			}
		}
	case "Track":
		for _, tr := range s.tracks {
			if fmt.Sprint(tr.TrackID) == want {
				return tr, true, nil
			}
		}
	}
	return nil, false, nil
}

// buildSchemas wires an Album schema with a to-many "tracks" relationship
// and a Track schema with a to-one "album" back-reference, mirroring
// examples/chinook's Album/Track pair at a much smaller scale.
func buildSchemas() (*Schema, *Schema) {
	reg := NewRegistry()

	album := New("Album", reflect.TypeOf(fixtureAlbum{}), []string{"album_id"})
	album.AddScalar(field.NewScalar(field.TypeInteger, field.Options{Name: "album_id", ReadOnly: true}), "AlbumID")
	album.AddScalar(field.NewScalar(field.TypeString, field.Options{Name: "title", Required: true, Length: 160}), "Title")
	album.AddScalar(field.NewScalar(field.TypeInteger, field.Options{Name: "artist_id", Required: true}), "ArtistID")

	track := New("Track", reflect.TypeOf(fixtureTrack{}), []string{"track_id"})
	track.AddScalar(field.NewScalar(field.TypeInteger, field.Options{Name: "track_id", ReadOnly: true}), "TrackID")
	track.AddScalar(field.NewScalar(field.TypeString, field.Options{Name: "name", Required: true}), "Name")
	track.AddScalar(field.NewScalar(field.TypeInteger, field.Options{Name: "album_id"}), "AlbumID")

	album.AddNested(field.NewNested("Track", true, []field.Op{field.OpAdd, field.OpRemove, field.OpSet}, reg.Resolver(), field.Options{Name: "tracks", BackRef: "album_id"}), "Tracks")

	reg.Register(album)
	reg.Register(track)

	return album, track
}

// fixtureDevice has a uuid.UUID id_key, unlike every chinook model
// (plain integer ids): it exercises generateIDKeys' server-generated-key
// branch, which a plain-integer id_key never reaches.
type fixtureDevice struct {
	DeviceID uuid.UUID
	Name     string
}

func buildDeviceSchema() *Schema {
	reg := NewRegistry()
	device := New("Device", reflect.TypeOf(fixtureDevice{}), []string{"device_id"})
	device.AddScalar(field.NewScalar(field.TypeString, field.Options{Name: "device_id", ReadOnly: true}), "DeviceID")
	device.AddScalar(field.NewScalar(field.TypeString, field.Options{Name: "name", Required: true}), "Name")
	reg.Register(device)
	return device
}

func TestSchemaMakeInstanceGeneratesUUIDIDKey(t *testing.T) {
	device := buildDeviceSchema()

	instance, errs := device.MakeInstance(map[string]interface{}{"name": "Sensor"})
	require.Empty(t, errs)

	got := instance.(*fixtureDevice)
	assert.Equal(t, "Sensor", got.Name)
	assert.NotEqual(t, uuid.UUID{}, got.DeviceID)
}

func TestSchemaLoadNewInstance(t *testing.T) {
	album, _ := buildSchemas()
	session := &fixtureSession{}
	ctx := NewContext()
	ctx.Session = session

	instance, errs := album.Load(map[string]interface{}{
		"title":     "Big Ones",
		"artist_id": 1,
	}, ctx, nil)

	require.Empty(t, errs)
	got := instance.(*fixtureAlbum)
	assert.Equal(t, "Big Ones", got.Title)
	assert.Equal(t, 1, got.ArtistID)
}

func TestSchemaLoadRequiredFieldMissing(t *testing.T) {
	album, _ := buildSchemas()
	ctx := NewContext()
	ctx.Session = &fixtureSession{}

	_, errs := album.Load(map[string]interface{}{"artist_id": 1}, ctx, nil)

	require.NotEmpty(t, errs)
	assert.Contains(t, errs, "title")
}

func TestSchemaLoadPartialSkipsRequiredCheck(t *testing.T) {
	album, _ := buildSchemas()
	existing := &fixtureAlbum{AlbumID: 1, Title: "Old Title", ArtistID: 2}
	ctx := NewContext()
	ctx.Partial = true
	ctx.Session = &fixtureSession{}

	instance, errs := album.Load(map[string]interface{}{"artist_id": 3}, ctx, existing)

	require.Empty(t, errs)
	got := instance.(*fixtureAlbum)
	assert.Equal(t, "Old Title", got.Title)
	assert.Equal(t, 3, got.ArtistID)
}

func TestSchemaLoadRejectsUnknownField(t *testing.T) {
	album, _ := buildSchemas()
	ctx := NewContext()
	ctx.Session = &fixtureSession{}

	_, errs := album.Load(map[string]interface{}{"title": "x", "artist_id": 1, "dne": "y"}, ctx, nil)

	require.NotEmpty(t, errs)
	assert.Contains(t, errs, "dne")
}

func TestSchemaLoadRejectUnknownSkippedWithIncludeUnknown(t *testing.T) {
	album, _ := buildSchemas()
	ctx := NewContext()
	ctx.Session = &fixtureSession{}
	ctx.IncludeUnknown = true

	_, errs := album.Load(map[string]interface{}{"title": "x", "artist_id": 1, "dne": "y"}, ctx, nil)

	assert.NotContains(t, errs, "dne")
}

func TestSchemaLoadToManyAdd(t *testing.T) {
	album, _ := buildSchemas()
	existing := &fixtureAlbum{AlbumID: 1, Title: "Let There Be Rock", ArtistID: 1}
	session := &fixtureSession{tracks: []fixtureTrack{{TrackID: 1, Name: "Track One"}}}
	ctx := NewContext()
	ctx.Partial = true
	ctx.Session = session

	instance, errs := album.Load(map[string]interface{}{
		"tracks": []interface{}{
			map[string]interface{}{"$op": "add", "track_id": float64(1)},
		},
	}, ctx, existing)

	require.Empty(t, errs)
	got := instance.(*fixtureAlbum)
	assert.Len(t, got.Tracks, 1)
	assert.Equal(t, 1, got.Tracks[0].TrackID)
}

func TestSchemaLoadToManyAddAlreadyMemberFails(t *testing.T) {
	album, _ := buildSchemas()
	existing := &fixtureAlbum{
		AlbumID: 1, Title: "x", ArtistID: 1,
		Tracks: []fixtureTrack{{TrackID: 1, Name: "Track One"}},
	}
	session := &fixtureSession{tracks: []fixtureTrack{{TrackID: 1, Name: "Track One"}}}
	ctx := NewContext()
	ctx.Partial = true
	ctx.Session = session

	_, errs := album.Load(map[string]interface{}{
		"tracks": []interface{}{
			map[string]interface{}{"$op": "add", "track_id": float64(1)},
		},
	}, ctx, existing)

	require.NotEmpty(t, errs)
}

func TestSchemaLoadToManyRemove(t *testing.T) {
	album, _ := buildSchemas()
	existing := &fixtureAlbum{
		AlbumID: 1, Title: "x", ArtistID: 1,
		Tracks: []fixtureTrack{{TrackID: 1, Name: "Track One"}, {TrackID: 2, Name: "Track Two"}},
	}
	session := &fixtureSession{tracks: []fixtureTrack{{TrackID: 1, Name: "Track One"}, {TrackID: 2, Name: "Track Two"}}}
	ctx := NewContext()
	ctx.Partial = true
	ctx.Session = session

	instance, errs := album.Load(map[string]interface{}{
		"tracks": []interface{}{
			map[string]interface{}{"$op": "remove", "track_id": float64(2)},
		},
	}, ctx, existing)

	require.Empty(t, errs)
	got := instance.(*fixtureAlbum)
	require.Len(t, got.Tracks, 1)
	assert.Equal(t, 1, got.Tracks[0].TrackID)
}

func TestSchemaLoadToManyRemoveNonexistentFails(t *testing.T) {
	album, _ := buildSchemas()
	existing := &fixtureAlbum{AlbumID: 1, Title: "x", ArtistID: 1}
	session := &fixtureSession{}
	ctx := NewContext()
	ctx.Partial = true
	ctx.Session = session

	_, errs := album.Load(map[string]interface{}{
		"tracks": []interface{}{
			map[string]interface{}{"$op": "remove", "track_id": float64(597)},
		},
	}, ctx, existing)

	require.NotEmpty(t, errs)
	assert.Contains(t, errs, "tracks")
}

func TestSchemaLoadDisallowedOpFails(t *testing.T) {
	reg := NewRegistry()
	album := New("Album", reflect.TypeOf(fixtureAlbum{}), []string{"album_id"})
	album.AddScalar(field.NewScalar(field.TypeInteger, field.Options{Name: "album_id", ReadOnly: true}), "AlbumID")
	album.AddNested(field.NewNested("Track", true, []field.Op{field.OpSet}, reg.Resolver(), field.Options{Name: "tracks"}), "Tracks")

	track := New("Track", reflect.TypeOf(fixtureTrack{}), []string{"track_id"})
	track.AddScalar(field.NewScalar(field.TypeInteger, field.Options{Name: "track_id", ReadOnly: true}), "TrackID")
	reg.Register(album)
	reg.Register(track)

	existing := &fixtureAlbum{AlbumID: 1}
	ctx := NewContext()
	ctx.Partial = true
	ctx.Session = &fixtureSession{}

	_, errs := album.Load(map[string]interface{}{
		"tracks": []interface{}{map[string]interface{}{"$op": "add", "track_id": float64(1)}},
	}, ctx, existing)

	require.NotEmpty(t, errs)
}

func TestSchemaDump(t *testing.T) {
	album, _ := buildSchemas()
	instance := &fixtureAlbum{AlbumID: 1, Title: "Big Ones", ArtistID: 1, Tracks: []fixtureTrack{{TrackID: 1, Name: "One"}}}

	out := album.Dump(instance, NewContext())

	assert.Equal(t, 1, out["album_id"])
	assert.Equal(t, "Big Ones", out["title"])
	tracks := out["tracks"].([]interface{})
	require.Len(t, tracks, 1)
	assert.Equal(t, 1, tracks[0].(map[string]interface{})["track_id"])
}

func TestSchemaDumpRespectsOnly(t *testing.T) {
	album, _ := buildSchemas()
	instance := &fixtureAlbum{AlbumID: 1, Title: "Big Ones", ArtistID: 1}

	ctx := NewContext()
	ctx.Only["title"] = true

	out := album.Dump(instance, ctx)
	assert.Contains(t, out, "title")
	assert.NotContains(t, out, "album_id")
}

func TestSchemaIdentical(t *testing.T) {
	album, _ := buildSchemas()
	a := &fixtureAlbum{AlbumID: 1}
	b := &fixtureAlbum{AlbumID: 1}
	c := &fixtureAlbum{AlbumID: 2}

	assert.True(t, album.Identical(a, b))
	assert.False(t, album.Identical(a, c))
}

func TestSchemaGetInstanceFallsBackToNewWhenIDAbsent(t *testing.T) {
	album, _ := buildSchemas()
	instance, isNew, err := album.GetInstance(map[string]interface{}{"title": "x"}, &fixtureSession{})
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Nil(t, instance)
}

func TestSchemaGetInstanceFindsExisting(t *testing.T) {
	album, _ := buildSchemas()
	session := &fixtureSession{albums: []fixtureAlbum{{AlbumID: 1, Title: "Existing"}}}
	instance, isNew, err := album.GetInstance(map[string]interface{}{"album_id": 1}, session)
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, "Existing", instance.(fixtureAlbum).Title)
}

func TestContextEmbedExpandsOnlyWhenNonEmpty(t *testing.T) {
	ctx := NewContext()
	ctx.Embed("tracks")
	assert.True(t, ctx.EmbedSet["tracks"])
	assert.Empty(t, ctx.Only)

	ctx.Only["title"] = true
	ctx.Embed("artist")
	assert.True(t, ctx.Only["artist"])
}

func TestErrorMessageOverride(t *testing.T) {
	album, _ := buildSchemas()
	album.ErrorMessages["invalid_field"] = "Custom message."
	assert.Equal(t, "Custom message.", album.errorMessage("invalid_field", "default"))
	assert.Equal(t, "default", album.errorMessage("other_code", "default"))
}
