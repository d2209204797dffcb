package restgraph

import (
	"database/sql"
	"fmt"
	"reflect"

	"github.com/Masterminds/squirrel"

	"github.com/skuid/restgraph/crypto"
	"github.com/skuid/restgraph/dbchange"
	"github.com/skuid/restgraph/dbfilter"
	"github.com/skuid/restgraph/model"
	"github.com/skuid/restgraph/queryparam"
)

// Session is the production field.Session/resource.Store collaborator: a
// *sql.DB plus the model.Entity metadata needed to turn a schema name
// into a table, a column list, and a row scan target. It replaces
// PersistenceORM's tag-driven upsert/select (picard.go's
// performInserts/performUpdates/performDeletes, save.go's
// insertModel/updateModel, filter.go's doFilterSelect) with the same
// single-statement-per-change-type shape, without a transaction, generalized
// from picard's fixed column/foreign_key tags to restgraph's
// attribute/relationship model.
type Session struct {
	db       *sql.DB
	tables   map[string]string
	entities map[string]*model.Entity
}

// NewSession wraps an already-opened database connection (see
// NewConnection/GetConnection) in a Session. Call Register once per
// schema before routing any request against it.
func NewSession(db *sql.DB) *Session {
	return &Session{
		db:       db,
		tables:   map[string]string{},
		entities: map[string]*model.Entity{},
	}
}

// Register tells the Session which table backs schemaName and
// introspects sampleType's restgraph tags for its column list. An empty
// table defaults to the snake_case form of the Go type name.
func (s *Session) Register(schemaName, table string, sampleType reflect.Type) *model.Entity {
	entity := model.Reflect(sampleType)
	if table == "" {
		table = defaultTableName(entity.Name)
	}
	s.tables[schemaName] = table
	s.entities[schemaName] = entity
	return entity
}

func (s *Session) entityFor(schemaName string) (*model.Entity, string, error) {
	entity, ok := s.entities[schemaName]
	if !ok {
		return nil, "", fmt.Errorf("restgraph: schema %q has no registered Session entity", schemaName)
	}
	return entity, s.tables[schemaName], nil
}

// Lookup satisfies field.Session: find one row by its id_key values.
func (s *Session) Lookup(schemaName string, idKeys []string, ids []interface{}) (interface{}, bool, error) {
	entity, table, err := s.entityFor(schemaName)
	if err != nil {
		return nil, false, err
	}

	where := squirrel.Eq{}
	for i, key := range idKeys {
		where[key] = ids[i]
	}

	query := squirrel.StatementBuilder.
		PlaceholderFormat(squirrel.Dollar).
		Select(columnNames(entity)...).
		From(table).
		Where(where).
		RunWith(s.db)

	rows, err := query.Query()
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, false, rows.Err()
	}
	instance, err := scanRow(entity, rows)
	if err != nil {
		return nil, false, err
	}
	return instance, true, nil
}

// Query satisfies resource.Store: a filtered, sorted, paged collection
// fetch, compiled through dbfilter the same way doFilterSelect compiled
// a picard FilterRequest into a squirrel.SelectBuilder.
func (s *Session) Query(schemaName string, filter *queryparam.FilterExpr, sorts []queryparam.Sort, page queryparam.OffsetLimit) ([]interface{}, error) {
	entity, table, err := s.entityFor(schemaName)
	if err != nil {
		return nil, err
	}

	cols := dbfilter.ColumnMapFromEntity(entity)
	var where squirrel.Sqlizer
	if filter != nil {
		where, err = dbfilter.Compile(filter, cols)
		if err != nil {
			return nil, err
		}
	}

	query := dbfilter.Select(table, columnNames(entity), nil, where, sorts, page, cols).
		PlaceholderFormat(squirrel.Dollar).
		RunWith(s.db)

	rows, err := query.Query()
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []interface{}
	for rows.Next() {
		instance, err := scanRow(entity, rows)
		if err != nil {
			return nil, err
		}
		out = append(out, instance)
	}
	return out, rows.Err()
}

// Save satisfies resource.Store: insert isNew instances, update existing
// ones. Each call builds a single dbchange.Change and issues one
// INSERT or UPDATE statement for it.
func (s *Session) Save(schemaName string, instance interface{}, isNew bool) error {
	entity, table, err := s.entityFor(schemaName)
	if err != nil {
		return err
	}

	change, err := changeFromInstance(entity, instance)
	if err != nil {
		return err
	}

	if isNew {
		change.Type = dbchange.Insert
		return s.performInsert(table, entity, change, instance)
	}
	change.Type = dbchange.Update
	return s.performUpdate(table, entity, change)
}

// Delete satisfies resource.Store.
func (s *Session) Delete(schemaName string, instance interface{}) error {
	entity, table, err := s.entityFor(schemaName)
	if err != nil {
		return err
	}

	where := squirrel.Eq{}
	v := reflect.Indirect(reflect.ValueOf(instance))
	for _, key := range entity.IDKeys {
		attr, ok := entity.AttrByName(key)
		if !ok {
			continue
		}
		where[key] = v.FieldByName(attr.FieldName).Interface()
	}

	_, err = squirrel.StatementBuilder.
		PlaceholderFormat(squirrel.Dollar).
		Delete(table).
		Where(where).
		RunWith(s.db).
		Exec()
	return err
}

// performInsert issues the INSERT, then — when the entity's primary
// id_key wasn't supplied by the caller — reads it back via RETURNING
// and sets it on instance, the same server-generated-key round trip
// picard's performInserts/setPrimaryKeyFromInsertResult perform.
func (s *Session) performInsert(table string, entity *model.Entity, change dbchange.Change, instance interface{}) error {
	cols := make([]string, 0, len(change.Changes))
	vals := make([]interface{}, 0, len(change.Changes))
	for _, a := range entity.Attributes {
		v, ok := change.Changes[a.Name]
		if !ok {
			continue
		}
		if len(entity.IDKeys) > 0 && a.Name == entity.IDKeys[0] && (v == nil || reflect.ValueOf(v).IsZero()) {
			continue
		}
		cols = append(cols, a.Name)
		vals = append(vals, v)
	}

	query := squirrel.StatementBuilder.
		PlaceholderFormat(squirrel.Dollar).
		Insert(table).
		Columns(cols...).
		Values(vals...)

	if len(entity.IDKeys) == 0 {
		_, err := query.RunWith(s.db).Exec()
		return err
	}

	idKey := entity.IDKeys[0]
	query = query.Suffix(fmt.Sprintf("RETURNING %q", idKey))
	row := query.RunWith(s.db).QueryRow()

	var idValue []byte
	if err := row.Scan(&idValue); err != nil {
		return err
	}

	if attr, ok := entity.AttrByName(idKey); ok && idValue != nil {
		v := reflect.Indirect(reflect.ValueOf(instance))
		fv := v.FieldByName(attr.FieldName)
		if fv.IsValid() && fv.CanSet() {
			return assignColumn(fv, idValue)
		}
	}
	return nil
}

func (s *Session) performUpdate(table string, entity *model.Entity, change dbchange.Change) error {
	query := squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar).Update(table)
	where := squirrel.Eq{}

	idSet := map[string]bool{}
	for _, key := range entity.IDKeys {
		idSet[key] = true
	}

	for _, a := range entity.Attributes {
		v, ok := change.Changes[a.Name]
		if !ok {
			continue
		}
		if idSet[a.Name] {
			where[a.Name] = v
			continue
		}
		query = query.Set(a.Name, v)
	}
	if len(where) == 0 {
		where[change.Key] = change.Changes[change.Key]
	}

	_, err := query.Where(where).RunWith(s.db).Exec()
	return err
}

// changeFromInstance builds a dbchange.Change from an instance's current
// field values, encrypting any Encrypted attribute along the way the
// same way picard's processObject calls crypto.EncryptBytes before
// adding a column to a Change.
func changeFromInstance(entity *model.Entity, instance interface{}) (dbchange.Change, error) {
	v := reflect.Indirect(reflect.ValueOf(instance))
	changes := map[string]interface{}{}

	for _, a := range entity.Attributes {
		fv := v.FieldByName(a.FieldName)
		if !fv.IsValid() {
			continue
		}
		value := fv.Interface()

		if a.Encrypted {
			raw, ok := value.(string)
			if !ok {
				return dbchange.Change{}, fmt.Errorf("restgraph: encrypted attribute %q must be a string field", a.Name)
			}
			cipherText, err := crypto.EncryptBytes([]byte(raw))
			if err != nil {
				return dbchange.Change{}, err
			}
			value = cipherText
		}
		changes[a.Name] = value
	}

	key := ""
	if len(entity.IDKeys) > 0 {
		key = fmt.Sprint(changes[entity.IDKeys[0]])
	}

	return dbchange.Change{
		Changes:       changes,
		OriginalValue: v,
		Key:           key,
	}, nil
}

func columnNames(entity *model.Entity) []string {
	cols := make([]string, len(entity.Attributes))
	for i, a := range entity.Attributes {
		cols[i] = a.Name
	}
	return cols
}

// scanRow builds a new instance of entity.Type and scans the current row
// into its fields in entity.Attributes order, decrypting any Encrypted
// attribute the way picard's processObject calls crypto.DecryptBytes on
// read.
func scanRow(entity *model.Entity, rows *sql.Rows) (interface{}, error) {
	instancePtr := reflect.New(entity.Type)
	instance := instancePtr.Elem()

	dest := make([]interface{}, len(entity.Attributes))
	raw := make([]sql.RawBytes, len(entity.Attributes))
	for i := range entity.Attributes {
		dest[i] = &raw[i]
	}
	if err := rows.Scan(dest...); err != nil {
		return nil, err
	}

	for i, a := range entity.Attributes {
		fv := instance.FieldByName(a.FieldName)
		if !fv.IsValid() || !fv.CanSet() {
			continue
		}
		bytesVal := []byte(raw[i])
		if a.Encrypted {
			plain, err := crypto.DecryptBytes(bytesVal)
			if err != nil {
				return nil, err
			}
			bytesVal = plain
		}
		if err := assignColumn(fv, bytesVal); err != nil {
			return nil, err
		}
	}

	return instancePtr.Interface(), nil
}

func assignColumn(fv reflect.Value, raw []byte) error {
	if raw == nil {
		return nil
	}
	s := string(raw)
	switch fv.Kind() {
	case reflect.String:
		fv.SetString(s)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		var n int64
		if _, err := fmt.Sscan(s, &n); err != nil {
			return err
		}
		fv.SetInt(n)
	case reflect.Float32, reflect.Float64:
		var f float64
		if _, err := fmt.Sscan(s, &f); err != nil {
			return err
		}
		fv.SetFloat(f)
	case reflect.Bool:
		var b bool
		if _, err := fmt.Sscan(s, &b); err != nil {
			return err
		}
		fv.SetBool(b)
	default:
		fv.Set(reflect.ValueOf(s))
	}
	return nil
}

// defaultTableName lowercases an entity's Go type name into a plausible
// table name (Album -> album) when Register isn't given an explicit one.
func defaultTableName(entityName string) string {
	var sb []byte
	runes := []rune(entityName)
	for i, r := range runes {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				sb = append(sb, '_')
			}
			sb = append(sb, byte(r-'A'+'a'))
		} else {
			sb = append(sb, byte(r))
		}
	}
	return string(sb)
}
