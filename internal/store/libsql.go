package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/autoflow/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/autoflow.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	if !strings.HasPrefix(dbPath, "file:") && !strings.Contains(dbPath, "://") {
		dbPath = "file:" + dbPath
	}
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Ping checks database connectivity.
func (s *LibSQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// --- Data models ---

func (s *LibSQLStore) CreateDataModel(ctx context.Context, dm *DataModel) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO data_models (id, name, created_at) VALUES (?, ?, ?)`,
		dm.ID, dm.Name, msOrNow(dm.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) GetDataModel(ctx context.Context, id string) (*DataModel, error) {
	dm := &DataModel{}
	var created int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM data_models WHERE id = ?`, id,
	).Scan(&dm.ID, &dm.Name, &created)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("data_model", id)
	}
	if err != nil {
		return nil, err
	}
	dm.CreatedAt = fromMs(created)
	return dm, nil
}

func (s *LibSQLStore) CreateAttribute(ctx context.Context, attr *Attribute) error {
	typ := attr.Type
	if typ == "" {
		typ = schema.AttributeText
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO attributes (id, data_model_id, name, type, default_value) VALUES (?, ?, ?, ?, ?)`,
		attr.ID, attr.DataModelID, attr.Name, string(typ), nullPtr(attr.DefaultValue),
	)
	return err
}

func (s *LibSQLStore) GetAttribute(ctx context.Context, id string) (*Attribute, error) {
	a := &Attribute{}
	var typ string
	var def sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT id, data_model_id, name, type, default_value FROM attributes WHERE id = ?`, id,
	).Scan(&a.ID, &a.DataModelID, &a.Name, &typ, &def)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("attribute", id)
	}
	if err != nil {
		return nil, err
	}
	a.Type = schema.AttributeType(typ)
	a.DefaultValue = strPtr(def)
	return a, nil
}

func (s *LibSQLStore) ListAttributes(ctx context.Context, dataModelID string) ([]*Attribute, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, data_model_id, name, type, default_value FROM attributes WHERE data_model_id = ? ORDER BY name, id`,
		dataModelID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attrs []*Attribute
	for rows.Next() {
		a := &Attribute{}
		var typ string
		var def sql.NullString
		if err := rows.Scan(&a.ID, &a.DataModelID, &a.Name, &typ, &def); err != nil {
			return nil, err
		}
		a.Type = schema.AttributeType(typ)
		a.DefaultValue = strPtr(def)
		attrs = append(attrs, a)
	}
	return attrs, rows.Err()
}

// --- Records ---

func (s *LibSQLStore) CreateRecord(ctx context.Context, rec *Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO records (id, data_model_id, is_active, created_at) VALUES (?, ?, ?, ?)`,
		rec.ID, rec.DataModelID, boolInt(rec.IsActive), msOrNow(rec.CreatedAt),
	)
	return err
}

// FindRecordIDs returns the active records of a data model that satisfy filter,
// ordered by id. A nil filter matches every active record.
//
// SQL narrows to the model's active records and the filter's attributes; the
// filter itself is evaluated in Go so number parsing and case folding follow
// Go semantics, not SQLite's.
func (s *LibSQLStore) FindRecordIDs(ctx context.Context, dataModelID string, filter RecordFilter) ([]string, error) {
	var attrs []string
	if filter != nil {
		attrs = filter.Attributes()
	}

	query := `SELECT r.id, NULL, NULL FROM records r WHERE r.data_model_id = ? AND r.is_active = 1 ORDER BY r.id`
	args := []any{dataModelID}
	if len(attrs) > 0 {
		query = `SELECT r.id, v.attribute_id, v.value FROM records r
			LEFT JOIN record_values v ON v.record_id = r.id AND v.attribute_id IN (?` + strings.Repeat(", ?", len(attrs)-1) + `)
			WHERE r.data_model_id = ? AND r.is_active = 1
			ORDER BY r.id`
		args = make([]any, 0, len(attrs)+1)
		for _, a := range attrs {
			args = append(args, a)
		}
		args = append(args, dataModelID)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, schema.NewError(schema.ErrCodeStore, "record query failed").WithCause(err)
	}
	defer rows.Close()

	var (
		ids     []string
		current string
		started bool
		values  map[string]*string
	)
	flush := func() {
		if started && (filter == nil || filter.Match(values)) {
			ids = append(ids, current)
		}
	}
	for rows.Next() {
		var (
			id     string
			attrID sql.NullString
			value  sql.NullString
		)
		if err := rows.Scan(&id, &attrID, &value); err != nil {
			return nil, err
		}
		if !started || id != current {
			flush()
			current, values, started = id, make(map[string]*string, len(attrs)), true
		}
		if attrID.Valid {
			values[attrID.String] = strPtr(value)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	flush()
	return ids, nil
}

// GetRecordValues returns attribute id -> stored value for a record.
// A nil entry is a stored NULL; absent keys were never written.
func (s *LibSQLStore) GetRecordValues(ctx context.Context, recordID string) (map[string]*string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT attribute_id, value FROM record_values WHERE record_id = ?`, recordID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	values := make(map[string]*string)
	for rows.Next() {
		var attrID string
		var v sql.NullString
		if err := rows.Scan(&attrID, &v); err != nil {
			return nil, err
		}
		values[attrID] = strPtr(v)
	}
	return values, rows.Err()
}

// GetValue returns the stored value, or nil when the value is absent or NULL.
func (s *LibSQLStore) GetValue(ctx context.Context, recordID, attributeID string) (*string, error) {
	var v sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM record_values WHERE record_id = ? AND attribute_id = ?`, recordID, attributeID,
	).Scan(&v)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return strPtr(v), nil
}

// UpsertValue writes the (record, attribute) value, creating the row if needed.
func (s *LibSQLStore) UpsertValue(ctx context.Context, recordID, attributeID string, value *string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO record_values (record_id, attribute_id, value, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(record_id, attribute_id) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		recordID, attributeID, nullPtr(value), time.Now().UTC().UnixMilli(),
	)
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeStore, "write value %s/%s", recordID, attributeID).WithCause(err)
	}
	return nil
}

// --- Workflow claims ---

// ClaimWorkflow takes the claim for workflowID when it is free or expired.
func (s *LibSQLStore) ClaimWorkflow(ctx context.Context, workflowID, owner string, now, expiresAt time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO workflow_claims (workflow_id, owner, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT(workflow_id) DO UPDATE SET owner = excluded.owner, expires_at = excluded.expires_at
		 WHERE workflow_claims.expires_at <= ?`,
		workflowID, owner, ms(expiresAt), ms(now),
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ReleaseWorkflow drops the claim if owner still holds it.
func (s *LibSQLStore) ReleaseWorkflow(ctx context.Context, workflowID, owner string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM workflow_claims WHERE workflow_id = ? AND owner = ?`, workflowID, owner,
	)
	return err
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.AutoflowError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func ms(t time.Time) int64 { return t.UTC().UnixMilli() }

func msOrNow(t time.Time) int64 {
	if t.IsZero() {
		return time.Now().UTC().UnixMilli()
	}
	return t.UTC().UnixMilli()
}

func fromMs(n int64) time.Time { return time.UnixMilli(n).UTC() }

func nullMs(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().UnixMilli()
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromMs(n.Int64)
	return &t
}

func boolInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullPtr(p *string) any {
	if p == nil {
		return nil
	}
	return *p
}

func strPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}
