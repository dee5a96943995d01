package store

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"io/fs"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/phonetrust/internal/db"
	"github.com/sells-group/phonetrust/internal/model"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// migrationLockID serializes concurrent Migrate calls across processes.
const migrationLockID = 4707411

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
	now     func() time.Time
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
	return &PostgresStore{pool: pool, closeFn: pool.Close, now: utcNow}, nil
}

func utcNow() time.Time { return time.Now().UTC() }

// Migrate applies pending migrations in lexicographic order under an
// advisory lock.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	log := zap.L().With(zap.String("component", "store.migrate"))

	if _, err := s.pool.Exec(ctx, "SELECT pg_advisory_lock($1)", migrationLockID); err != nil {
		return eris.Wrap(err, "postgres: acquire migration lock")
	}
	defer func() {
		if _, err := s.pool.Exec(ctx, "SELECT pg_advisory_unlock($1)", migrationLockID); err != nil {
			log.Warn("postgres: failed to release migration lock", zap.Error(err))
		}
	}()

	if _, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename   TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`); err != nil {
		return eris.Wrap(err, "postgres: ensure migration table")
	}

	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return eris.Wrap(err, "postgres: read migration dir")
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	applied, err := s.appliedMigrations(ctx)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		name := entry.Name()
		if applied[name] {
			continue
		}
		data, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return eris.Wrapf(err, "postgres: read migration %s", name)
		}
		if _, err := s.pool.Exec(ctx, string(data)); err != nil {
			return eris.Wrapf(err, "postgres: apply migration %s", name)
		}
		if _, err := s.pool.Exec(ctx, "INSERT INTO schema_migrations (filename) VALUES ($1)", name); err != nil {
			return eris.Wrapf(err, "postgres: record migration %s", name)
		}
		log.Info("migration applied", zap.String("file", name))
	}
	return nil
}

func (s *PostgresStore) appliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := s.pool.Query(ctx, "SELECT filename FROM schema_migrations")
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query applied migrations")
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "postgres: scan migration row")
		}
		applied[name] = true
	}
	return applied, eris.Wrap(rows.Err(), "postgres: iterate migrations")
}

// Ping checks that the database answers a trivial query.
func (s *PostgresStore) Ping(ctx context.Context) error {
	var one int
	return eris.Wrap(s.pool.QueryRow(ctx, "SELECT 1").Scan(&one), "postgres: ping")
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) GetOrCreateState(ctx context.Context, phone, userID string) (*model.PhoneTrustState, error) {
	now := s.now()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO phone_trust_states (id, phone_number, user_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5) ON CONFLICT (phone_number, user_id) DO NOTHING`,
		NewID(), phone, userID, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create state")
	}
	return s.GetState(ctx, phone, userID)
}

func (s *PostgresStore) GetState(ctx context.Context, phone, userID string) (*model.PhoneTrustState, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+stateColumns+` FROM phone_trust_states WHERE phone_number = $1 AND user_id = $2`,
		phone, userID,
	)
	st, err := scanState(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: state for user %s", userID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get state")
	}
	return st, nil
}

func (s *PostgresStore) ApplyStageUpdate(ctx context.Context, phone, userID string, upd model.StageUpdate) (*model.PhoneTrustState, error) {
	query, args, err := stageUpsert(postgresDialect, phone, userID, upd, s.now())
	if err != nil {
		return nil, err
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return nil, eris.Wrapf(err, "postgres: apply %s stage", upd.Stage)
	}
	return s.GetState(ctx, phone, userID)
}

func (s *PostgresStore) UpdateScore(ctx context.Context, phone, userID string, score float64, level model.TrustLevel) (*model.PhoneTrustState, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE phone_trust_states SET trust_score = $1, trust_level = $2, score_stale = FALSE, updated_at = $3
		 WHERE phone_number = $4 AND user_id = $5 RETURNING `+stateColumns,
		score, string(level), s.now(), phone, userID,
	)
	st, err := scanState(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: update score for user %s", userID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: update score")
	}
	return st, nil
}

func (s *PostgresStore) MarkScoreStale(ctx context.Context, phone, userID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE phone_trust_states SET score_stale = TRUE, updated_at = $1 WHERE phone_number = $2 AND user_id = $3`,
		s.now(), phone, userID,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: mark score stale")
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: mark score stale for user %s", userID)
	}
	return nil
}

func (s *PostgresStore) AddFraudFlags(ctx context.Context, phone, userID string, flags ...model.FraudFlag) error {
	if len(flags) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin fraud flag tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var raw []byte
	err = tx.QueryRow(ctx,
		`SELECT fraud_flags FROM phone_trust_states WHERE phone_number = $1 AND user_id = $2 FOR UPDATE`,
		phone, userID,
	).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "postgres: fraud flags for user %s", userID)
	}
	if err != nil {
		return eris.Wrap(err, "postgres: read fraud flags")
	}

	var existing []model.FraudFlag
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &existing); err != nil {
			return eris.Wrap(err, "postgres: unmarshal fraud flags")
		}
	}
	merged, changed := mergeFlags(existing, flags)
	if !changed {
		return nil
	}
	data, err := json.Marshal(merged)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal fraud flags")
	}
	if _, err := tx.Exec(ctx,
		`UPDATE phone_trust_states SET fraud_flags = $1, updated_at = $2 WHERE phone_number = $3 AND user_id = $4`,
		json.RawMessage(data), s.now(), phone, userID,
	); err != nil {
		return eris.Wrap(err, "postgres: write fraud flags")
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit fraud flags")
}

func (s *PostgresStore) CountUsersForPhone(ctx context.Context, phone string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(DISTINCT user_id) FROM phone_trust_states WHERE phone_number = $1`, phone,
	).Scan(&n)
	return n, eris.Wrap(err, "postgres: count users for phone")
}

func (s *PostgresStore) SetMultipleUsers(ctx context.Context, phone string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE phone_trust_states SET multiple_users_detected = TRUE, updated_at = $1
		 WHERE phone_number = $2 AND NOT multiple_users_detected`,
		s.now(), phone,
	)
	return eris.Wrap(err, "postgres: set multiple users")
}

var transactionColumns = []string{
	"id", "phone_number", "user_id", "consent_id", "dedupe_key", "message_id",
	"provider", "type", "amount", "currency", "balance_after", "counterparty",
	"reference", "occurred_at", "confidence", "source_type", "created_at",
}

func (s *PostgresStore) InsertTransactions(ctx context.Context, phone, userID, consentID string, txs []model.ExtractedTransaction) (int, error) {
	txs = lastByKey(txs, transactionKey)
	now := s.now()
	rows := make([][]any, len(txs))
	for i, tx := range txs {
		rows[i] = []any{
			NewID(), phone, userID, consentID, transactionKey(tx), nullString(tx.MessageID),
			tx.Provider, string(tx.Type), tx.Amount, tx.Currency, tx.BalanceAfter, nullString(tx.Counterparty),
			nullString(tx.Reference), tx.Date.UTC(), tx.Confidence, string(model.SourceSMSParsed), now,
		}
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "sms_transactions",
		Columns:      transactionColumns,
		ConflictKeys: []string{"phone_number", "user_id", "dedupe_key"},
		UpdateCols:   []string{"consent_id", "confidence"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: insert transactions")
	}
	return int(n), nil
}

var billColumns = []string{
	"id", "phone_number", "user_id", "consent_id", "dedupe_key", "message_id",
	"utility_type", "provider", "amount", "bill_date", "paid_date", "status",
	"reference", "confidence", "created_at",
}

func (s *PostgresStore) InsertUtilityBills(ctx context.Context, phone, userID, consentID string, bills []model.UtilityBill) (int, error) {
	bills = lastByKey(bills, billKey)
	now := s.now()
	rows := make([][]any, len(bills))
	for i, b := range bills {
		rows[i] = []any{
			NewID(), phone, userID, consentID, billKey(b), nullString(b.MessageID),
			string(b.Type), b.Provider, b.Amount, b.BillDate, b.PaidDate, string(b.Status),
			nullString(b.Reference), b.Confidence, now,
		}
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "utility_bills",
		Columns:      billColumns,
		ConflictKeys: []string{"phone_number", "user_id", "dedupe_key"},
		UpdateCols:   []string{"consent_id", "status", "paid_date", "confidence"},
	}, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: insert utility bills")
	}
	return int(n), nil
}

func (s *PostgresStore) InsertScreenshotValidation(ctx context.Context, v *model.ScreenshotValidation) error {
	result, err := json.Marshal(v.Result)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal screenshot result")
	}
	cert, err := json.Marshal(v.Certification)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal certification")
	}
	if v.ID == "" {
		v.ID = NewID()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = s.now()
	}
	// A repeated screenshot keeps its first audit row.
	err = s.pool.QueryRow(ctx,
		`INSERT INTO screenshot_validations
		 (id, phone_number, user_id, image_hash, provider, screen_type, can_certify, cert_score, tampering, result, certification, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (phone_number, user_id, image_hash) DO UPDATE SET image_hash = excluded.image_hash
		 RETURNING id, created_at`,
		v.ID, v.PhoneNumber, v.UserID, v.ImageHash, string(v.Result.Provider), string(v.Result.ScreenType),
		v.Certification.CanCertify, v.Certification.Score, v.Result.TamperingProbability,
		json.RawMessage(result), json.RawMessage(cert), v.CreatedAt,
	).Scan(&v.ID, &v.CreatedAt)
	return eris.Wrap(err, "postgres: insert screenshot validation")
}

func (s *PostgresStore) LoadCertaintyTable(ctx context.Context) (model.CertaintyTable, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT source_type, label, base_certainty, certified_certainty, required_for_certified FROM data_source_certainty`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load certainty table")
	}
	defer rows.Close()

	table := model.CertaintyTable{}
	for rows.Next() {
		var c model.DataSourceCertainty
		var source string
		var required []byte
		if err := rows.Scan(&source, &c.Label, &c.BaseCertainty, &c.CertifiedCertainty, &required); err != nil {
			return nil, eris.Wrap(err, "postgres: scan certainty row")
		}
		c.SourceType = model.SourceType(source)
		if len(required) > 0 {
			if err := json.Unmarshal(required, &c.RequiredForCertified); err != nil {
				return nil, eris.Wrapf(err, "postgres: unmarshal proofs for %s", source)
			}
		}
		table[c.SourceType] = c
	}
	return table, eris.Wrap(rows.Err(), "postgres: iterate certainty rows")
}

var certaintyColumns = []string{"source_type", "label", "base_certainty", "certified_certainty", "required_for_certified", "updated_at"}

func (s *PostgresStore) SaveCertaintyTable(ctx context.Context, table model.CertaintyTable) error {
	now := s.now()
	rows := make([][]any, 0, len(table))
	for _, st := range model.SourceTypes {
		c, ok := table[st]
		if !ok {
			continue
		}
		required, err := json.Marshal(nonNil(c.RequiredForCertified))
		if err != nil {
			return eris.Wrap(err, "postgres: marshal proofs")
		}
		rows = append(rows, []any{string(st), c.Label, c.BaseCertainty, c.CertifiedCertainty, json.RawMessage(required), now})
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin certainty tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM data_source_certainty`); err != nil {
		return eris.Wrap(err, "postgres: clear certainty table")
	}
	if _, err := db.CopyFrom(ctx, tx, "data_source_certainty", certaintyColumns, rows); err != nil {
		return eris.Wrap(err, "postgres: save certainty table")
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit certainty table")
}

func (s *PostgresStore) Snapshot(ctx context.Context, since time.Time) (*Snapshot, error) {
	snap := newSnapshot(since)

	rows, err := s.pool.Query(ctx, snapshotStatesQuery)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: snapshot states")
	}
	defer rows.Close()
	for rows.Next() {
		var r snapshotRow
		if err := rows.Scan(r.dest()...); err != nil {
			return nil, eris.Wrap(err, "postgres: scan snapshot row")
		}
		snap.add(r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate snapshot rows")
	}

	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN can_certify THEN 1 ELSE 0 END), 0)
		 FROM screenshot_validations WHERE created_at >= $1`, since,
	).Scan(&snap.Screenshots, &snap.ScreenshotsCertified); err != nil {
		return nil, eris.Wrap(err, "postgres: snapshot screenshots")
	}
	if err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM sms_transactions WHERE created_at >= $1`, since,
	).Scan(&snap.Transactions); err != nil {
		return nil, eris.Wrap(err, "postgres: snapshot transactions")
	}
	snap.finish()
	return snap, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
