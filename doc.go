/*
Package restgraph is a relational resource layer for Go services: it
projects database rows into nested JSON resources and routes hierarchical
URL paths into CRUD operations against them.

Usage:

* CRUD on schema-described resources (collection, item, relationship, attribute)
* Nested relationship loading and $op-based to-many mutation (add/remove/set)
* Strict or lenient query-parameter filtering, sorting, and paging
* Per-resource error message overrides and id-bearing composite keys

Initialization:

Open a connection to your database and wrap it in a Session.

	if err := restgraph.NewConnection(restgraph.ConnectionProps{ConnString: connString}); err != nil {
		return err
	}
	sess := restgraph.NewSession(restgraph.GetConnection())

Model Mapping via Structs:

restgraph lets you describe a relational resource as a Go struct with
fields tagged to say which attribute or relationship each field backs.
Struct fields are annotated with restgraph tags; model.Reflect walks
these tags to build the Entity that schema.NewFromModel converts into a
Schema.

Struct Tags:

	type Album struct {
		AlbumID  int    `restgraph:"id_key,name=album_id"`
		Title    string `restgraph:"attribute,name=title,required"`
		ArtistID int    `restgraph:"attribute,name=artist_id,type=integer,required"`
		Tracks   []Track `restgraph:"relationship,name=tracks,ops=add&remove&set,back_ref=album_id"`
	}

	id_key:

		Marks the field as (part of) the resource's identity. Always
		produces a read-only Attribute as well, so an instance's own id
		shows up in its dumped JSON.

	attribute:

		Declares a scalar field. Supports type (string when omitted),
		required, nullable, read_only, write_only, length, and name
		overrides for load/dump key naming.

	relationship:

		Declares a to-one or to-many Nested field. ops= lists which
		$op mutations (add, remove, set) are legal against a to-many
		relationship; back_ref names the child's foreign-key attribute,
		used by router to scope subresource collection/create requests
		to their parent.

Schemas and the Registry:

A schema.Registry resolves relationship target names to their Schema
lazily, so two Schemas can reference each other without an import cycle
at construction time.

	reg := schema.NewRegistry()
	album := schema.New("Album", reflect.TypeOf(Album{}), []string{"album_id"})
	reg.Register(album)

Resources:

A resource.Resource pairs a Schema with a Store (Lookup/Query/Save/
Delete) and exposes Get, GetCollection, Post, Patch, Put, Delete, and
the single-attribute GetAttr/SetAttr operations used by the attribute
segment of a resource path.

Routing:

A router.Router dispatches an HTTP method plus a slash-delimited path
against a router.Registry of named Resources, decoding composite ids,
scoping subresource collections to their parent via the relationship's
back-reference, and resolving the final path segment as an item,
relationship, or attribute access.

	rt := router.New(rtReg, true)
	out, err := rt.Dispatch("GET", "/albums/1/tracks", query, nil)

Errors:

Resource and Router operations return an *rgerrors.Error carrying a
Kind (BadRequest, Unprocessable, NotFound, MethodNotAllowed,
PermissionDenied), a Code, a Message, an optional field Path, and a
Params map, suitable for serializing directly into an API error
response.
*/
package restgraph // import "github.com/skuid/restgraph"
