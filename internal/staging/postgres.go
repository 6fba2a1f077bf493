package staging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/clearstage/enhance/internal/model"
)

// Pool is the subset of pgxpool.Pool the store uses; pgxmock satisfies it
// in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool Pool
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresWithPool wraps an existing pool (used by tests with pgxmock).
func NewPostgresWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS staging_batches (
	id         TEXT PRIMARY KEY,
	tenant_id  TEXT NOT NULL,
	state      TEXT NOT NULL DEFAULT 'created',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS staging_records (
	batch_id  TEXT NOT NULL REFERENCES staging_batches(id) ON DELETE CASCADE,
	row_index INT NOT NULL,
	fields    JSONB NOT NULL,
	PRIMARY KEY (batch_id, row_index)
);

CREATE TABLE IF NOT EXISTS match_outcomes (
	batch_id       TEXT NOT NULL REFERENCES staging_batches(id) ON DELETE CASCADE,
	row_index      INT NOT NULL,
	field          TEXT NOT NULL,
	classification TEXT NOT NULL,
	candidates     JSONB,
	PRIMARY KEY (batch_id, row_index, field)
);

CREATE TABLE IF NOT EXISTS conflict_reports (
	seq       BIGSERIAL PRIMARY KEY,
	batch_id  TEXT NOT NULL REFERENCES staging_batches(id) ON DELETE CASCADE,
	row_index INT NOT NULL,
	report    JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS imputation_log (
	seq       BIGSERIAL PRIMARY KEY,
	batch_id  TEXT NOT NULL REFERENCES staging_batches(id) ON DELETE CASCADE,
	row_index INT NOT NULL,
	field     TEXT NOT NULL,
	entry     JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS quality_scores (
	batch_id TEXT PRIMARY KEY REFERENCES staging_batches(id) ON DELETE CASCADE,
	quality  JSONB NOT NULL
);

CREATE TABLE IF NOT EXISTS master_entities (
	id          TEXT PRIMARY KEY,
	entity_type TEXT NOT NULL,
	code        TEXT,
	name        TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS promoted_records (
	batch_id    TEXT NOT NULL,
	row_index   INT NOT NULL,
	tenant_id   TEXT NOT NULL,
	fields      JSONB NOT NULL,
	promoted_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (batch_id, row_index)
);

CREATE TABLE IF NOT EXISTS match_usage (
	entity_id TEXT PRIMARY KEY,
	use_count INT NOT NULL DEFAULT 0,
	last_used TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_staging_batches_state ON staging_batches(state);
CREATE INDEX IF NOT EXISTS idx_staging_batches_tenant ON staging_batches(tenant_id);
CREATE INDEX IF NOT EXISTS idx_master_entities_type ON master_entities(entity_type);
CREATE INDEX IF NOT EXISTS idx_master_entities_code ON master_entities(code);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) CreateBatch(ctx context.Context, batch *model.StagingBatch) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin create batch")
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO staging_batches (id, tenant_id, state, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		batch.ID, batch.TenantID, string(batch.State), batch.CreatedAt, batch.UpdatedAt,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: insert batch")
	}

	for i := range batch.Records {
		fieldsJSON, err := json.Marshal(batch.Records[i].Fields())
		if err != nil {
			return eris.Wrap(err, "postgres: marshal record fields")
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO staging_records (batch_id, row_index, fields) VALUES ($1, $2, $3)`,
			batch.ID, batch.Records[i].RowIndex, fieldsJSON,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: insert record %d", batch.Records[i].RowIndex)
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit create batch")
}

func (s *PostgresStore) GetBatch(ctx context.Context, batchID string) (*model.StagingBatch, error) {
	batch := &model.StagingBatch{ID: batchID}
	var state string
	err := s.pool.QueryRow(ctx,
		`SELECT tenant_id, state, created_at, updated_at FROM staging_batches WHERE id = $1`, batchID,
	).Scan(&batch.TenantID, &state, &batch.CreatedAt, &batch.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, eris.Wrapf(model.ErrBatchNotFound, "%s", batchID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get batch %s", batchID)
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

func (s *PostgresStore) loadRecords(ctx context.Context, batch *model.StagingBatch) error {
	rows, err := s.pool.Query(ctx,
		`SELECT row_index, fields FROM staging_records WHERE batch_id = $1 ORDER BY row_index`, batch.ID)
	if err != nil {
		return eris.Wrap(err, "postgres: query records")
	}
	defer rows.Close()

	for rows.Next() {
		var rowIndex int
		var fieldsJSON []byte
		if err := rows.Scan(&rowIndex, &fieldsJSON); err != nil {
			return eris.Wrap(err, "postgres: scan record")
		}
		var fields []model.FieldValue
		if err := json.Unmarshal(fieldsJSON, &fields); err != nil {
			return eris.Wrap(err, "postgres: unmarshal record fields")
		}
		batch.Records = append(batch.Records, model.NewImportRecord(rowIndex, fields))
	}
	return eris.Wrap(rows.Err(), "postgres: iterate records")
}

func (s *PostgresStore) loadReports(ctx context.Context, batch *model.StagingBatch) error {
	matchRows, err := s.pool.Query(ctx,
		`SELECT row_index, field, classification, candidates FROM match_outcomes WHERE batch_id = $1 ORDER BY row_index, field`, batch.ID)
	if err != nil {
		return eris.Wrap(err, "postgres: query matches")
	}
	defer matchRows.Close()
	for matchRows.Next() {
		var o model.MatchOutcome
		var classification string
		var candidatesJSON []byte
		if err := matchRows.Scan(&o.RowIndex, &o.Field, &classification, &candidatesJSON); err != nil {
			return eris.Wrap(err, "postgres: scan match")
		}
		o.Classification = model.MatchClassification(classification)
		if len(candidatesJSON) > 0 {
			if err := json.Unmarshal(candidatesJSON, &o.Candidates); err != nil {
				return eris.Wrap(err, "postgres: unmarshal candidates")
			}
		}
		batch.Matches = append(batch.Matches, o)
	}
	if err := matchRows.Err(); err != nil {
		return eris.Wrap(err, "postgres: iterate matches")
	}

	conflictRows, err := s.pool.Query(ctx,
		`SELECT report FROM conflict_reports WHERE batch_id = $1 ORDER BY seq`, batch.ID)
	if err != nil {
		return eris.Wrap(err, "postgres: query conflicts")
	}
	defer conflictRows.Close()
	for conflictRows.Next() {
		var reportJSON []byte
		if err := conflictRows.Scan(&reportJSON); err != nil {
			return eris.Wrap(err, "postgres: scan conflict")
		}
		var c model.ConflictReport
		if err := json.Unmarshal(reportJSON, &c); err != nil {
			return eris.Wrap(err, "postgres: unmarshal conflict")
		}
		batch.Conflicts = append(batch.Conflicts, c)
	}
	if err := conflictRows.Err(); err != nil {
		return eris.Wrap(err, "postgres: iterate conflicts")
	}

	imputeRows, err := s.pool.Query(ctx,
		`SELECT entry FROM imputation_log WHERE batch_id = $1 ORDER BY seq`, batch.ID)
	if err != nil {
		return eris.Wrap(err, "postgres: query imputations")
	}
	defer imputeRows.Close()
	for imputeRows.Next() {
		var entryJSON []byte
		if err := imputeRows.Scan(&entryJSON); err != nil {
			return eris.Wrap(err, "postgres: scan imputation")
		}
		var e model.ImputationLogEntry
		if err := json.Unmarshal(entryJSON, &e); err != nil {
			return eris.Wrap(err, "postgres: unmarshal imputation")
		}
		batch.Imputations = append(batch.Imputations, e)
	}
	if err := imputeRows.Err(); err != nil {
		return eris.Wrap(err, "postgres: iterate imputations")
	}

	var qualityJSON []byte
	err = s.pool.QueryRow(ctx,
		`SELECT quality FROM quality_scores WHERE batch_id = $1`, batch.ID).Scan(&qualityJSON)
	if err != nil && err != pgx.ErrNoRows {
		return eris.Wrap(err, "postgres: query quality")
	}
	if err == nil {
		var q model.BatchQuality
		if err := json.Unmarshal(qualityJSON, &q); err != nil {
			return eris.Wrap(err, "postgres: unmarshal quality")
		}
		batch.Quality = &q
	}
	return nil
}

func (s *PostgresStore) UpdateBatchState(ctx context.Context, batchID string, state model.BatchState) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE staging_batches SET state = $1, updated_at = $2 WHERE id = $3`,
		string(state), time.Now().UTC(), batchID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update batch state %s", batchID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(model.ErrBatchNotFound, "%s", batchID)
	}
	return nil
}

func (s *PostgresStore) ListBatches(ctx context.Context, filter BatchFilter) ([]model.StagingBatch, error) {
	query := `SELECT id, tenant_id, state, created_at, updated_at FROM staging_batches WHERE 1=1`
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.TenantID != "" {
		query += ` AND tenant_id = ` + arg(filter.TenantID)
	}
	if filter.State != "" {
		query += ` AND state = ` + arg(string(filter.State))
	}
	if !filter.UpdatedUntil.IsZero() {
		query += ` AND updated_at <= ` + arg(filter.UpdatedUntil)
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ` + arg(filter.Limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ` + arg(filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list batches")
	}
	defer rows.Close()

	var batches []model.StagingBatch
	for rows.Next() {
		var b model.StagingBatch
		var state string
		if err := rows.Scan(&b.ID, &b.TenantID, &state, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan batch")
		}
		b.State = model.BatchState(state)
		batches = append(batches, b)
	}
	return batches, eris.Wrap(rows.Err(), "postgres: iterate batches")
}

func (s *PostgresStore) SaveMatches(ctx context.Context, batchID string, matches []model.MatchOutcome) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin save matches")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM match_outcomes WHERE batch_id = $1`, batchID); err != nil {
		return eris.Wrap(err, "postgres: clear matches")
	}
	for _, o := range matches {
		candidatesJSON, err := json.Marshal(o.Candidates)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal candidates")
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO match_outcomes (batch_id, row_index, field, classification, candidates) VALUES ($1, $2, $3, $4, $5)`,
			batchID, o.RowIndex, o.Field, string(o.Classification), candidatesJSON,
		)
		if err != nil {
			return eris.Wrap(err, "postgres: insert match")
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit save matches")
}

func (s *PostgresStore) SaveConflicts(ctx context.Context, batchID string, conflicts []model.ConflictReport) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin save conflicts")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM conflict_reports WHERE batch_id = $1`, batchID); err != nil {
		return eris.Wrap(err, "postgres: clear conflicts")
	}
	for _, c := range conflicts {
		reportJSON, err := json.Marshal(c)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal conflict")
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO conflict_reports (batch_id, row_index, report) VALUES ($1, $2, $3)`,
			batchID, c.RowIndex, reportJSON,
		)
		if err != nil {
			return eris.Wrap(err, "postgres: insert conflict")
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit save conflicts")
}

func (s *PostgresStore) SaveImputations(ctx context.Context, batchID string, entries []model.ImputationLogEntry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin save imputations")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM imputation_log WHERE batch_id = $1`, batchID); err != nil {
		return eris.Wrap(err, "postgres: clear imputations")
	}
	for _, e := range entries {
		entryJSON, err := json.Marshal(e)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal imputation")
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO imputation_log (batch_id, row_index, field, entry) VALUES ($1, $2, $3, $4)`,
			batchID, e.RowIndex, e.Field, entryJSON,
		)
		if err != nil {
			return eris.Wrap(err, "postgres: insert imputation")
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit save imputations")
}

func (s *PostgresStore) SaveQuality(ctx context.Context, batchID string, quality *model.BatchQuality) error {
	qualityJSON, err := json.Marshal(quality)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal quality")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO quality_scores (batch_id, quality) VALUES ($1, $2)
		 ON CONFLICT (batch_id) DO UPDATE SET quality = excluded.quality`,
		batchID, qualityJSON,
	)
	return eris.Wrap(err, "postgres: save quality")
}

// PromoteBatch copies records into promoted_records and marks the batch
// promoted in one transaction.
func (s *PostgresStore) PromoteBatch(ctx context.Context, batch *model.StagingBatch) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrapf(model.ErrStagingTransaction, "postgres: begin promote: %v", err)
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	for i := range batch.Records {
		fieldsJSON, err := json.Marshal(effectiveFields(batch, batch.Records[i]))
		if err != nil {
			return eris.Wrap(err, "postgres: marshal promoted fields")
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO promoted_records (batch_id, row_index, tenant_id, fields, promoted_at) VALUES ($1, $2, $3, $4, $5)`,
			batch.ID, batch.Records[i].RowIndex, batch.TenantID, fieldsJSON, now,
		)
		if err != nil {
			return eris.Wrapf(model.ErrStagingTransaction, "postgres: promote record %d: %v", batch.Records[i].RowIndex, err)
		}
	}

	tag, err := tx.Exec(ctx,
		`UPDATE staging_batches SET state = $1, updated_at = $2 WHERE id = $3 AND state = $4`,
		string(model.BatchStatePromoted), now, batch.ID, string(model.BatchStateValidating),
	)
	if err != nil {
		return eris.Wrapf(model.ErrStagingTransaction, "postgres: promote state: %v", err)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(model.ErrStagingTransaction, "postgres: batch %s not in validating", batch.ID)
	}

	if err := tx.Commit(ctx); err != nil {
		return eris.Wrapf(model.ErrStagingTransaction, "postgres: commit promote: %v", err)
	}
	return nil
}

func (s *PostgresStore) PurgeBatch(ctx context.Context, batchID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM staging_batches WHERE id = $1`, batchID)
	return eris.Wrapf(err, "postgres: purge batch %s", batchID)
}

func (s *PostgresStore) ListMasterEntities(ctx context.Context, entityType string) ([]model.MasterEntity, error) {
	query := `SELECT id, entity_type, COALESCE(code, ''), name FROM master_entities`
	var args []any
	if entityType != "" {
		query += ` WHERE entity_type = $1`
		args = append(args, entityType)
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list master entities")
	}
	defer rows.Close()

	var entities []model.MasterEntity
	for rows.Next() {
		var e model.MasterEntity
		if err := rows.Scan(&e.ID, &e.EntityType, &e.Code, &e.Name); err != nil {
			return nil, eris.Wrap(err, "postgres: scan master entity")
		}
		entities = append(entities, e)
	}
	return entities, eris.Wrap(rows.Err(), "postgres: iterate master entities")
}

func (s *PostgresStore) UpsertMasterEntities(ctx context.Context, entities []model.MasterEntity) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin upsert master entities")
	}
	defer tx.Rollback(ctx)

	for _, e := range entities {
		_, err := tx.Exec(ctx,
			`INSERT INTO master_entities (id, entity_type, code, name) VALUES ($1, $2, $3, $4)
			 ON CONFLICT (id) DO UPDATE SET entity_type = EXCLUDED.entity_type, code = EXCLUDED.code, name = EXCLUDED.name`,
			e.ID, e.EntityType, e.Code, e.Name)
		if err != nil {
			return eris.Wrapf(err, "postgres: upsert master entity %s", e.ID)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit upsert master entities")
}

func (s *PostgresStore) ListUsage(ctx context.Context) ([]UsageRow, error) {
	rows, err := s.pool.Query(ctx, `SELECT entity_id, use_count, last_used FROM match_usage`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list usage")
	}
	defer rows.Close()

	var usage []UsageRow
	for rows.Next() {
		var u UsageRow
		if err := rows.Scan(&u.EntityID, &u.Count, &u.LastUsed); err != nil {
			return nil, eris.Wrap(err, "postgres: scan usage")
		}
		usage = append(usage, u)
	}
	return usage, eris.Wrap(rows.Err(), "postgres: iterate usage")
}

func (s *PostgresStore) RecordUsage(ctx context.Context, entityID string, usedAt time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO match_usage (entity_id, use_count, last_used) VALUES ($1, 1, $2)
		 ON CONFLICT (entity_id) DO UPDATE SET use_count = match_usage.use_count + 1, last_used = excluded.last_used`,
		entityID, usedAt,
	)
	return eris.Wrap(err, "postgres: record usage")
}
