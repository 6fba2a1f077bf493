package staging

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/clearstage/enhance/internal/impute"
	"github.com/clearstage/enhance/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL
// mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS staging_batches (
	id         TEXT PRIMARY KEY,
	tenant_id  TEXT NOT NULL,
	state      TEXT NOT NULL DEFAULT 'created',
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS staging_records (
	batch_id  TEXT NOT NULL REFERENCES staging_batches(id) ON DELETE CASCADE,
	row_index INTEGER NOT NULL,
	fields    TEXT NOT NULL,
	PRIMARY KEY (batch_id, row_index)
);

CREATE TABLE IF NOT EXISTS match_outcomes (
	batch_id       TEXT NOT NULL REFERENCES staging_batches(id) ON DELETE CASCADE,
	row_index      INTEGER NOT NULL,
	field          TEXT NOT NULL,
	classification TEXT NOT NULL,
	candidates     TEXT,
	PRIMARY KEY (batch_id, row_index, field)
);

CREATE TABLE IF NOT EXISTS conflict_reports (
	seq       INTEGER PRIMARY KEY AUTOINCREMENT,
	batch_id  TEXT NOT NULL REFERENCES staging_batches(id) ON DELETE CASCADE,
	row_index INTEGER NOT NULL,
	report    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS imputation_log (
	seq       INTEGER PRIMARY KEY AUTOINCREMENT,
	batch_id  TEXT NOT NULL REFERENCES staging_batches(id) ON DELETE CASCADE,
	row_index INTEGER NOT NULL,
	field     TEXT NOT NULL,
	entry     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS quality_scores (
	batch_id TEXT PRIMARY KEY REFERENCES staging_batches(id) ON DELETE CASCADE,
	quality  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS master_entities (
	id          TEXT PRIMARY KEY,
	entity_type TEXT NOT NULL,
	code        TEXT,
	name        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS promoted_records (
	batch_id    TEXT NOT NULL,
	row_index   INTEGER NOT NULL,
	tenant_id   TEXT NOT NULL,
	fields      TEXT NOT NULL,
	promoted_at DATETIME NOT NULL,
	PRIMARY KEY (batch_id, row_index)
);

CREATE TABLE IF NOT EXISTS match_usage (
	entity_id TEXT PRIMARY KEY,
	use_count INTEGER NOT NULL DEFAULT 0,
	last_used DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_staging_batches_state ON staging_batches(state);
CREATE INDEX IF NOT EXISTS idx_staging_batches_tenant ON staging_batches(tenant_id);
CREATE INDEX IF NOT EXISTS idx_master_entities_type ON master_entities(entity_type);
CREATE INDEX IF NOT EXISTS idx_master_entities_code ON master_entities(code);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateBatch(ctx context.Context, batch *model.StagingBatch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin create batch")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO staging_batches (id, tenant_id, state, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		batch.ID, batch.TenantID, string(batch.State), batch.CreatedAt, batch.UpdatedAt,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert batch")
	}

	for i := range batch.Records {
		fieldsJSON, err := json.Marshal(batch.Records[i].Fields())
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal record fields")
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO staging_records (batch_id, row_index, fields) VALUES (?, ?, ?)`,
			batch.ID, batch.Records[i].RowIndex, string(fieldsJSON),
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert record %d", batch.Records[i].RowIndex)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit create batch")
}

func (s *SQLiteStore) GetBatch(ctx context.Context, batchID string) (*model.StagingBatch, error) {
	batch := &model.StagingBatch{ID: batchID}
	var state string
	err := s.db.QueryRowContext(ctx,
		`SELECT tenant_id, state, created_at, updated_at FROM staging_batches WHERE id = ?`, batchID,
	).Scan(&batch.TenantID, &state, &batch.CreatedAt, &batch.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(model.ErrBatchNotFound, "%s", batchID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get batch %s", batchID)
	}
	batch.State = model.BatchState(state)

	if err := s.loadRecords(ctx, batch); err != nil {
		return nil, err
	}
	if err := s.loadReports(ctx, batch); err != nil {
		return nil, err
	}
	return batch, nil
}

func (s *SQLiteStore) loadRecords(ctx context.Context, batch *model.StagingBatch) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT row_index, fields FROM staging_records WHERE batch_id = ? ORDER BY row_index`, batch.ID)
	if err != nil {
		return eris.Wrap(err, "sqlite: query records")
	}
	defer rows.Close()

	for rows.Next() {
		var rowIndex int
		var fieldsJSON string
		if err := rows.Scan(&rowIndex, &fieldsJSON); err != nil {
			return eris.Wrap(err, "sqlite: scan record")
		}
		var fields []model.FieldValue
		if err := json.Unmarshal([]byte(fieldsJSON), &fields); err != nil {
			return eris.Wrap(err, "sqlite: unmarshal record fields")
		}
		batch.Records = append(batch.Records, model.NewImportRecord(rowIndex, fields))
	}
	return eris.Wrap(rows.Err(), "sqlite: iterate records")
}

func (s *SQLiteStore) loadReports(ctx context.Context, batch *model.StagingBatch) error {
	matchRows, err := s.db.QueryContext(ctx,
		`SELECT row_index, field, classification, candidates FROM match_outcomes WHERE batch_id = ? ORDER BY row_index, field`, batch.ID)
	if err != nil {
		return eris.Wrap(err, "sqlite: query matches")
	}
	defer matchRows.Close()
	for matchRows.Next() {
		var o model.MatchOutcome
		var classification string
		var candidatesJSON sql.NullString
		if err := matchRows.Scan(&o.RowIndex, &o.Field, &classification, &candidatesJSON); err != nil {
			return eris.Wrap(err, "sqlite: scan match")
		}
		o.Classification = model.MatchClassification(classification)
		if candidatesJSON.Valid && candidatesJSON.String != "" {
			if err := json.Unmarshal([]byte(candidatesJSON.String), &o.Candidates); err != nil {
				return eris.Wrap(err, "sqlite: unmarshal candidates")
			}
		}
		batch.Matches = append(batch.Matches, o)
	}
	if err := matchRows.Err(); err != nil {
		return eris.Wrap(err, "sqlite: iterate matches")
	}

	conflictRows, err := s.db.QueryContext(ctx,
		`SELECT report FROM conflict_reports WHERE batch_id = ? ORDER BY seq`, batch.ID)
	if err != nil {
		return eris.Wrap(err, "sqlite: query conflicts")
	}
	defer conflictRows.Close()
	for conflictRows.Next() {
		var reportJSON string
		if err := conflictRows.Scan(&reportJSON); err != nil {
			return eris.Wrap(err, "sqlite: scan conflict")
		}
		var c model.ConflictReport
		if err := json.Unmarshal([]byte(reportJSON), &c); err != nil {
			return eris.Wrap(err, "sqlite: unmarshal conflict")
		}
		batch.Conflicts = append(batch.Conflicts, c)
	}
	if err := conflictRows.Err(); err != nil {
		return eris.Wrap(err, "sqlite: iterate conflicts")
	}

	imputeRows, err := s.db.QueryContext(ctx,
		`SELECT entry FROM imputation_log WHERE batch_id = ? ORDER BY seq`, batch.ID)
	if err != nil {
		return eris.Wrap(err, "sqlite: query imputations")
	}
	defer imputeRows.Close()
	for imputeRows.Next() {
		var entryJSON string
		if err := imputeRows.Scan(&entryJSON); err != nil {
			return eris.Wrap(err, "sqlite: scan imputation")
		}
		var e model.ImputationLogEntry
		if err := json.Unmarshal([]byte(entryJSON), &e); err != nil {
			return eris.Wrap(err, "sqlite: unmarshal imputation")
		}
		batch.Imputations = append(batch.Imputations, e)
	}
	if err := imputeRows.Err(); err != nil {
		return eris.Wrap(err, "sqlite: iterate imputations")
	}

	var qualityJSON string
	err = s.db.QueryRowContext(ctx,
		`SELECT quality FROM quality_scores WHERE batch_id = ?`, batch.ID).Scan(&qualityJSON)
	if err != nil && err != sql.ErrNoRows {
		return eris.Wrap(err, "sqlite: query quality")
	}
	if err == nil {
		var q model.BatchQuality
		if err := json.Unmarshal([]byte(qualityJSON), &q); err != nil {
			return eris.Wrap(err, "sqlite: unmarshal quality")
		}
		batch.Quality = &q
	}
	return nil
}

func (s *SQLiteStore) UpdateBatchState(ctx context.Context, batchID string, state model.BatchState) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE staging_batches SET state = ?, updated_at = ? WHERE id = ?`,
		string(state), time.Now().UTC(), batchID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update batch state %s", batchID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(model.ErrBatchNotFound, "%s", batchID)
	}
	return nil
}

func (s *SQLiteStore) ListBatches(ctx context.Context, filter BatchFilter) ([]model.StagingBatch, error) {
	query := `SELECT id, tenant_id, state, created_at, updated_at FROM staging_batches WHERE 1=1`
	var args []any
	if filter.TenantID != "" {
		query += ` AND tenant_id = ?`
		args = append(args, filter.TenantID)
	}
	if filter.State != "" {
		query += ` AND state = ?`
		args = append(args, string(filter.State))
	}
	if !filter.UpdatedUntil.IsZero() {
		query += ` AND updated_at <= ?`
		args = append(args, filter.UpdatedUntil)
	}
	query += ` ORDER BY created_at DESC`
	if filter.Offset > 0 {
		// SQLite rejects OFFSET without LIMIT; -1 means unbounded.
		limit := filter.Limit
		if limit <= 0 {
			limit = -1
		}
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, filter.Offset)
	} else if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list batches")
	}
	defer rows.Close()

	var batches []model.StagingBatch
	for rows.Next() {
		var b model.StagingBatch
		var state string
		if err := rows.Scan(&b.ID, &b.TenantID, &state, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan batch")
		}
		b.State = model.BatchState(state)
		batches = append(batches, b)
	}
	return batches, eris.Wrap(rows.Err(), "sqlite: iterate batches")
}

func (s *SQLiteStore) SaveMatches(ctx context.Context, batchID string, matches []model.MatchOutcome) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save matches")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM match_outcomes WHERE batch_id = ?`, batchID); err != nil {
		return eris.Wrap(err, "sqlite: clear matches")
	}
	for _, o := range matches {
		candidatesJSON, err := json.Marshal(o.Candidates)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal candidates")
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO match_outcomes (batch_id, row_index, field, classification, candidates) VALUES (?, ?, ?, ?, ?)`,
			batchID, o.RowIndex, o.Field, string(o.Classification), string(candidatesJSON),
		)
		if err != nil {
			return eris.Wrap(err, "sqlite: insert match")
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit save matches")
}

func (s *SQLiteStore) SaveConflicts(ctx context.Context, batchID string, conflicts []model.ConflictReport) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save conflicts")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM conflict_reports WHERE batch_id = ?`, batchID); err != nil {
		return eris.Wrap(err, "sqlite: clear conflicts")
	}
	for _, c := range conflicts {
		reportJSON, err := json.Marshal(c)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal conflict")
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO conflict_reports (batch_id, row_index, report) VALUES (?, ?, ?)`,
			batchID, c.RowIndex, string(reportJSON),
		)
		if err != nil {
			return eris.Wrap(err, "sqlite: insert conflict")
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit save conflicts")
}

func (s *SQLiteStore) SaveImputations(ctx context.Context, batchID string, entries []model.ImputationLogEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save imputations")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM imputation_log WHERE batch_id = ?`, batchID); err != nil {
		return eris.Wrap(err, "sqlite: clear imputations")
	}
	for _, e := range entries {
		entryJSON, err := json.Marshal(e)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal imputation")
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO imputation_log (batch_id, row_index, field, entry) VALUES (?, ?, ?, ?)`,
			batchID, e.RowIndex, e.Field, string(entryJSON),
		)
		if err != nil {
			return eris.Wrap(err, "sqlite: insert imputation")
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit save imputations")
}

func (s *SQLiteStore) SaveQuality(ctx context.Context, batchID string, quality *model.BatchQuality) error {
	qualityJSON, err := json.Marshal(quality)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal quality")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO quality_scores (batch_id, quality) VALUES (?, ?)
		 ON CONFLICT (batch_id) DO UPDATE SET quality = excluded.quality`,
		batchID, string(qualityJSON),
	)
	return eris.Wrap(err, "sqlite: save quality")
}

// PromoteBatch copies records into promoted_records and marks the batch
// promoted in one transaction.
func (s *SQLiteStore) PromoteBatch(ctx context.Context, batch *model.StagingBatch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(model.ErrStagingTransaction, "sqlite: begin promote")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	for i := range batch.Records {
		fieldsJSON, err := json.Marshal(effectiveFields(batch, batch.Records[i]))
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal promoted fields")
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO promoted_records (batch_id, row_index, tenant_id, fields, promoted_at) VALUES (?, ?, ?, ?, ?)`,
			batch.ID, batch.Records[i].RowIndex, batch.TenantID, string(fieldsJSON), now,
		)
		if err != nil {
			return eris.Wrapf(model.ErrStagingTransaction, "sqlite: promote record %d: %v", batch.Records[i].RowIndex, err)
		}
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE staging_batches SET state = ?, updated_at = ? WHERE id = ? AND state = ?`,
		string(model.BatchStatePromoted), now, batch.ID, string(model.BatchStateValidating),
	)
	if err != nil {
		return eris.Wrapf(model.ErrStagingTransaction, "sqlite: promote state: %v", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(model.ErrStagingTransaction, "sqlite: batch %s not in validating", batch.ID)
	}

	if err := tx.Commit(); err != nil {
		return eris.Wrapf(model.ErrStagingTransaction, "sqlite: commit promote: %v", err)
	}
	return nil
}

func (s *SQLiteStore) PurgeBatch(ctx context.Context, batchID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM staging_batches WHERE id = ?`, batchID)
	return eris.Wrapf(err, "sqlite: purge batch %s", batchID)
}

func (s *SQLiteStore) ListMasterEntities(ctx context.Context, entityType string) ([]model.MasterEntity, error) {
	query := `SELECT id, entity_type, COALESCE(code, ''), name FROM master_entities`
	var args []any
	if entityType != "" {
		query += ` WHERE entity_type = ?`
		args = append(args, entityType)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list master entities")
	}
	defer rows.Close()

	var entities []model.MasterEntity
	for rows.Next() {
		var e model.MasterEntity
		if err := rows.Scan(&e.ID, &e.EntityType, &e.Code, &e.Name); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan master entity")
		}
		entities = append(entities, e)
	}
	return entities, eris.Wrap(rows.Err(), "sqlite: iterate master entities")
}

func (s *SQLiteStore) UpsertMasterEntities(ctx context.Context, entities []model.MasterEntity) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin upsert master entities")
	}
	defer tx.Rollback()

	for _, e := range entities {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO master_entities (id, entity_type, code, name) VALUES (?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET entity_type = excluded.entity_type, code = excluded.code, name = excluded.name`,
			e.ID, e.EntityType, e.Code, e.Name)
		if err != nil {
			return eris.Wrapf(err, "sqlite: upsert master entity %s", e.ID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit upsert master entities")
}

func (s *SQLiteStore) ListUsage(ctx context.Context) ([]UsageRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT entity_id, use_count, last_used FROM match_usage`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list usage")
	}
	defer rows.Close()

	var usage []UsageRow
	for rows.Next() {
		var u UsageRow
		if err := rows.Scan(&u.EntityID, &u.Count, &u.LastUsed); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan usage")
		}
		usage = append(usage, u)
	}
	return usage, eris.Wrap(rows.Err(), "sqlite: iterate usage")
}

func (s *SQLiteStore) RecordUsage(ctx context.Context, entityID string, usedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO match_usage (entity_id, use_count, last_used) VALUES (?, 1, ?)
		 ON CONFLICT (entity_id) DO UPDATE SET use_count = use_count + 1, last_used = excluded.last_used`,
		entityID, usedAt,
	)
	return eris.Wrap(err, "sqlite: record usage")
}

// effectiveFields overlays applied imputations on a record's declared
// fields for promotion. The staging record itself stays pristine. Fields
// the upload never mentioned but an imputation filled are appended.
func effectiveFields(batch *model.StagingBatch, rec model.ImportRecord) []model.FieldValue {
	fields := append([]model.FieldValue(nil), rec.Fields()...)
	declared := make(map[string]bool, len(fields))
	for i := range fields {
		declared[fields[i].Name] = true
		if !fields[i].Absent {
			continue
		}
		if v, ok := impute.Effective(batch.Imputations, rec.RowIndex, fields[i].Name); ok {
			fields[i].Raw = v
			fields[i].Absent = false
		}
	}
	for _, e := range batch.Imputations {
		if e.RowIndex != rec.RowIndex || declared[e.Field] {
			continue
		}
		declared[e.Field] = true
		if v, ok := impute.Effective(batch.Imputations, rec.RowIndex, e.Field); ok {
			fields = append(fields, model.FieldValue{Name: e.Field, Raw: v})
		}
	}
	return fields
}
