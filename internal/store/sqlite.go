package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/phonetrust/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(path string) (*SQLiteStore, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=busy_timeout(5000)&_time_format=sqlite"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, now: utcNow}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS phone_trust_states (
	id                          TEXT PRIMARY KEY,
	phone_number                TEXT NOT NULL,
	user_id                     TEXT NOT NULL,
	otp_verified                BOOLEAN NOT NULL DEFAULT 0,
	otp_verified_at             DATETIME,
	otp_token                   TEXT,
	ussd_uploaded               BOOLEAN NOT NULL DEFAULT 0,
	ussd_uploaded_at            DATETIME,
	ussd_certified              BOOLEAN NOT NULL DEFAULT 0,
	identity_cross_validated    BOOLEAN NOT NULL DEFAULT 0,
	identity_cross_validated_at DATETIME,
	identity_match_score        INTEGER,
	sms_consent_given           BOOLEAN NOT NULL DEFAULT 0,
	sms_consent_given_at        DATETIME,
	sms_consent_id              TEXT,
	trust_score                 REAL NOT NULL DEFAULT 0,
	trust_level                 TEXT NOT NULL DEFAULT 'unverified',
	score_stale                 BOOLEAN NOT NULL DEFAULT 0,
	phone_age_months            INTEGER,
	activity_level              TEXT NOT NULL DEFAULT 'unknown',
	multiple_users_detected     BOOLEAN NOT NULL DEFAULT 0,
	fraud_flags                 TEXT NOT NULL DEFAULT '[]',
	created_at                  DATETIME NOT NULL,
	updated_at                  DATETIME NOT NULL,
	UNIQUE (phone_number, user_id)
);

CREATE INDEX IF NOT EXISTS idx_phone_trust_states_phone ON phone_trust_states(phone_number);

CREATE TABLE IF NOT EXISTS sms_transactions (
	id            TEXT PRIMARY KEY,
	phone_number  TEXT NOT NULL,
	user_id       TEXT NOT NULL,
	consent_id    TEXT NOT NULL,
	dedupe_key    TEXT NOT NULL,
	message_id    TEXT,
	provider      TEXT NOT NULL,
	type          TEXT NOT NULL,
	amount        REAL NOT NULL,
	currency      TEXT NOT NULL,
	balance_after REAL,
	counterparty  TEXT,
	reference     TEXT,
	occurred_at   DATETIME NOT NULL,
	confidence    REAL NOT NULL,
	source_type   TEXT NOT NULL DEFAULT 'sms_parsed',
	created_at    DATETIME NOT NULL,
	UNIQUE (phone_number, user_id, dedupe_key)
);

CREATE TABLE IF NOT EXISTS utility_bills (
	id           TEXT PRIMARY KEY,
	phone_number TEXT NOT NULL,
	user_id      TEXT NOT NULL,
	consent_id   TEXT NOT NULL,
	dedupe_key   TEXT NOT NULL,
	message_id   TEXT,
	utility_type TEXT NOT NULL,
	provider     TEXT NOT NULL,
	amount       REAL NOT NULL,
	bill_date    DATETIME,
	paid_date    DATETIME,
	status       TEXT NOT NULL,
	reference    TEXT,
	confidence   REAL NOT NULL,
	created_at   DATETIME NOT NULL,
	UNIQUE (phone_number, user_id, dedupe_key)
);

CREATE TABLE IF NOT EXISTS screenshot_validations (
	id            TEXT PRIMARY KEY,
	phone_number  TEXT NOT NULL,
	user_id       TEXT NOT NULL,
	image_hash    TEXT NOT NULL,
	provider      TEXT NOT NULL,
	screen_type   TEXT NOT NULL,
	can_certify   BOOLEAN NOT NULL,
	cert_score    INTEGER NOT NULL,
	tampering     INTEGER NOT NULL,
	result        TEXT NOT NULL,
	certification TEXT NOT NULL,
	created_at    DATETIME NOT NULL,
	UNIQUE (phone_number, user_id, image_hash)
);

CREATE INDEX IF NOT EXISTS idx_screenshot_validations_created ON screenshot_validations(created_at);

CREATE TABLE IF NOT EXISTS data_source_certainty (
	source_type            TEXT PRIMARY KEY,
	label                  TEXT NOT NULL,
	base_certainty         REAL NOT NULL,
	certified_certainty    REAL NOT NULL,
	required_for_certified TEXT NOT NULL DEFAULT '[]',
	updated_at             DATETIME NOT NULL
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetOrCreateState(ctx context.Context, phone, userID string) (*model.PhoneTrustState, error) {
	now := s.now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO phone_trust_states (id, phone_number, user_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?) ON CONFLICT (phone_number, user_id) DO NOTHING`,
		NewID(), phone, userID, now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: create state")
	}
	return s.GetState(ctx, phone, userID)
}

func (s *SQLiteStore) GetState(ctx context.Context, phone, userID string) (*model.PhoneTrustState, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+stateColumns+` FROM phone_trust_states WHERE phone_number = ? AND user_id = ?`,
		phone, userID,
	)
	st, err := scanState(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: state for user %s", userID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get state")
	}
	return st, nil
}

func (s *SQLiteStore) ApplyStageUpdate(ctx context.Context, phone, userID string, upd model.StageUpdate) (*model.PhoneTrustState, error) {
	query, args, err := stageUpsert(sqliteDialect, phone, userID, upd, s.now())
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return nil, eris.Wrapf(err, "sqlite: apply %s stage", upd.Stage)
	}
	return s.GetState(ctx, phone, userID)
}

func (s *SQLiteStore) UpdateScore(ctx context.Context, phone, userID string, score float64, level model.TrustLevel) (*model.PhoneTrustState, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE phone_trust_states SET trust_score = ?, trust_level = ?, score_stale = 0, updated_at = ?
		 WHERE phone_number = ? AND user_id = ?`,
		score, string(level), s.now(), phone, userID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: update score")
	}
	if err := checkRowsAffected(res, userID); err != nil {
		return nil, err
	}
	return s.GetState(ctx, phone, userID)
}

func (s *SQLiteStore) MarkScoreStale(ctx context.Context, phone, userID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE phone_trust_states SET score_stale = 1, updated_at = ? WHERE phone_number = ? AND user_id = ?`,
		s.now(), phone, userID,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: mark score stale")
	}
	return checkRowsAffected(res, userID)
}

func (s *SQLiteStore) AddFraudFlags(ctx context.Context, phone, userID string, flags ...model.FraudFlag) error {
	if len(flags) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin fraud flag tx")
	}
	defer tx.Rollback() //nolint:errcheck

	var raw string
	err = tx.QueryRowContext(ctx,
		`SELECT fraud_flags FROM phone_trust_states WHERE phone_number = ? AND user_id = ?`,
		phone, userID,
	).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "sqlite: fraud flags for user %s", userID)
	}
	if err != nil {
		return eris.Wrap(err, "sqlite: read fraud flags")
	}

	var existing []model.FraudFlag
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &existing); err != nil {
			return eris.Wrap(err, "sqlite: unmarshal fraud flags")
		}
	}
	merged, changed := mergeFlags(existing, flags)
	if !changed {
		return nil
	}
	data, err := json.Marshal(merged)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal fraud flags")
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE phone_trust_states SET fraud_flags = ?, updated_at = ? WHERE phone_number = ? AND user_id = ?`,
		string(data), s.now(), phone, userID,
	); err != nil {
		return eris.Wrap(err, "sqlite: write fraud flags")
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit fraud flags")
}

func (s *SQLiteStore) CountUsersForPhone(ctx context.Context, phone string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(DISTINCT user_id) FROM phone_trust_states WHERE phone_number = ?`, phone,
	).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count users for phone")
}

func (s *SQLiteStore) SetMultipleUsers(ctx context.Context, phone string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE phone_trust_states SET multiple_users_detected = 1, updated_at = ?
		 WHERE phone_number = ? AND multiple_users_detected = 0`,
		s.now(), phone,
	)
	return eris.Wrap(err, "sqlite: set multiple users")
}

func (s *SQLiteStore) InsertTransactions(ctx context.Context, phone, userID, consentID string, txs []model.ExtractedTransaction) (int, error) {
	txs = lastByKey(txs, transactionKey)
	if len(txs) == 0 {
		return 0, nil
	}
	now := s.now()
	return s.insertBatch(ctx, "transactions",
		`INSERT INTO sms_transactions (`+strings.Join(transactionColumns, ", ")+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (phone_number, user_id, dedupe_key)
		 DO UPDATE SET consent_id = excluded.consent_id, confidence = excluded.confidence`,
		len(txs), func(i int) []any {
			tx := txs[i]
			return []any{
				NewID(), phone, userID, consentID, transactionKey(tx), nullString(tx.MessageID),
				tx.Provider, string(tx.Type), tx.Amount, tx.Currency, tx.BalanceAfter, nullString(tx.Counterparty),
				nullString(tx.Reference), tx.Date.UTC(), tx.Confidence, string(model.SourceSMSParsed), now,
			}
		})
}

func (s *SQLiteStore) InsertUtilityBills(ctx context.Context, phone, userID, consentID string, bills []model.UtilityBill) (int, error) {
	bills = lastByKey(bills, billKey)
	if len(bills) == 0 {
		return 0, nil
	}
	now := s.now()
	return s.insertBatch(ctx, "utility bills",
		`INSERT INTO utility_bills (`+strings.Join(billColumns, ", ")+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (phone_number, user_id, dedupe_key)
		 DO UPDATE SET consent_id = excluded.consent_id, status = excluded.status,
		   paid_date = excluded.paid_date, confidence = excluded.confidence`,
		len(bills), func(i int) []any {
			b := bills[i]
			return []any{
				NewID(), phone, userID, consentID, billKey(b), nullString(b.MessageID),
				string(b.Type), b.Provider, b.Amount, utcPtr(b.BillDate), utcPtr(b.PaidDate), string(b.Status),
				nullString(b.Reference), b.Confidence, now,
			}
		})
}

// insertBatch runs one prepared statement per row inside a transaction.
func (s *SQLiteStore) insertBatch(ctx context.Context, what, query string, n int, args func(i int) []any) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: begin %s tx", what)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: prepare %s insert", what)
	}
	defer stmt.Close() //nolint:errcheck

	written := 0
	for i := range n {
		res, err := stmt.ExecContext(ctx, args(i)...)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert %s row %d", what, i)
		}
		if affected, err := res.RowsAffected(); err == nil {
			written += int(affected)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrapf(err, "sqlite: commit %s", what)
	}
	return written, nil
}

func (s *SQLiteStore) InsertScreenshotValidation(ctx context.Context, v *model.ScreenshotValidation) error {
	result, err := json.Marshal(v.Result)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal screenshot result")
	}
	cert, err := json.Marshal(v.Certification)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal certification")
	}
	if v.ID == "" {
		v.ID = NewID()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = s.now()
	}
	// A repeated screenshot keeps its first audit row.
	id := v.ID
	err = s.db.QueryRowContext(ctx,
		`INSERT INTO screenshot_validations
		 (id, phone_number, user_id, image_hash, provider, screen_type, can_certify, cert_score, tampering, result, certification, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (phone_number, user_id, image_hash) DO UPDATE SET image_hash = excluded.image_hash
		 RETURNING id`,
		id, v.PhoneNumber, v.UserID, v.ImageHash, string(v.Result.Provider), string(v.Result.ScreenType),
		v.Certification.CanCertify, v.Certification.Score, v.Result.TamperingProbability,
		string(result), string(cert), v.CreatedAt.UTC(),
	).Scan(&v.ID)
	if err != nil {
		return eris.Wrap(err, "sqlite: insert screenshot validation")
	}
	if v.ID == id {
		return nil
	}
	err = s.db.QueryRowContext(ctx, `SELECT created_at FROM screenshot_validations WHERE id = ?`, v.ID).Scan(&v.CreatedAt)
	return eris.Wrap(err, "sqlite: load screenshot validation")
}

func (s *SQLiteStore) LoadCertaintyTable(ctx context.Context) (model.CertaintyTable, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source_type, label, base_certainty, certified_certainty, required_for_certified FROM data_source_certainty`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load certainty table")
	}
	defer rows.Close() //nolint:errcheck

	table := model.CertaintyTable{}
	for rows.Next() {
		var c model.DataSourceCertainty
		var source, required string
		if err := rows.Scan(&source, &c.Label, &c.BaseCertainty, &c.CertifiedCertainty, &required); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan certainty row")
		}
		c.SourceType = model.SourceType(source)
		if required != "" {
			if err := json.Unmarshal([]byte(required), &c.RequiredForCertified); err != nil {
				return nil, eris.Wrapf(err, "sqlite: unmarshal proofs for %s", source)
			}
		}
		table[c.SourceType] = c
	}
	return table, eris.Wrap(rows.Err(), "sqlite: iterate certainty rows")
}

func (s *SQLiteStore) SaveCertaintyTable(ctx context.Context, table model.CertaintyTable) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin certainty tx")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM data_source_certainty`); err != nil {
		return eris.Wrap(err, "sqlite: clear certainty table")
	}
	now := s.now()
	for _, st := range model.SourceTypes {
		c, ok := table[st]
		if !ok {
			continue
		}
		required, err := json.Marshal(nonNil(c.RequiredForCertified))
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal proofs")
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO data_source_certainty (`+strings.Join(certaintyColumns, ", ")+`) VALUES (?, ?, ?, ?, ?, ?)`,
			string(st), c.Label, c.BaseCertainty, c.CertifiedCertainty, string(required), now,
		); err != nil {
			return eris.Wrapf(err, "sqlite: save certainty for %s", st)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit certainty table")
}

func (s *SQLiteStore) Snapshot(ctx context.Context, since time.Time) (*Snapshot, error) {
	snap := newSnapshot(since)

	rows, err := s.db.QueryContext(ctx, snapshotStatesQuery)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: snapshot states")
	}
	defer rows.Close() //nolint:errcheck
	for rows.Next() {
		var r snapshotRow
		if err := rows.Scan(r.dest()...); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan snapshot row")
		}
		snap.add(r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate snapshot rows")
	}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(CASE WHEN can_certify THEN 1 ELSE 0 END), 0)
		 FROM screenshot_validations WHERE created_at >= ?`, since.UTC(),
	).Scan(&snap.Screenshots, &snap.ScreenshotsCertified); err != nil {
		return nil, eris.Wrap(err, "sqlite: snapshot screenshots")
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sms_transactions WHERE created_at >= ?`, since.UTC(),
	).Scan(&snap.Transactions); err != nil {
		return nil, eris.Wrap(err, "sqlite: snapshot transactions")
	}
	snap.finish()
	return snap, nil
}

func checkRowsAffected(res sql.Result, userID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "sqlite: state for user %s", userID)
	}
	return nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
