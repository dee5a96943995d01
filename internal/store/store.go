// Package store persists phone trust states, extracted evidence, screenshot
// audit rows and the certainty table in SQLite or Postgres.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/phonetrust/internal/model"
)

// ErrNotFound is returned when a keyed record does not exist.
var ErrNotFound = eris.New("store: not found")

// Snapshot is an aggregate view used by monitoring.
type Snapshot struct {
	StatesTotal          int                      `json:"states_total"`
	StatesByLevel        map[model.TrustLevel]int `json:"states_by_level"`
	StaleScores          int                      `json:"stale_scores"`
	MultipleUsers        int                      `json:"multiple_users"`
	AverageScore         float64                  `json:"average_score"`
	StagesCompleted      map[model.Stage]int      `json:"stages_completed"`
	Screenshots          int                      `json:"screenshots"`
	ScreenshotsCertified int                      `json:"screenshots_certified"`
	Transactions         int                      `json:"transactions"`
	Since                time.Time                `json:"since"`
}

// Store defines the persistence interface for the trust pipeline.
type Store interface {
	// Phone trust states
	GetOrCreateState(ctx context.Context, phone, userID string) (*model.PhoneTrustState, error)
	GetState(ctx context.Context, phone, userID string) (*model.PhoneTrustState, error)
	ApplyStageUpdate(ctx context.Context, phone, userID string, upd model.StageUpdate) (*model.PhoneTrustState, error)
	UpdateScore(ctx context.Context, phone, userID string, score float64, level model.TrustLevel) (*model.PhoneTrustState, error)
	MarkScoreStale(ctx context.Context, phone, userID string) error
	AddFraudFlags(ctx context.Context, phone, userID string, flags ...model.FraudFlag) error
	CountUsersForPhone(ctx context.Context, phone string) (int, error)
	SetMultipleUsers(ctx context.Context, phone string) error

	// Evidence
	InsertTransactions(ctx context.Context, phone, userID, consentID string, txs []model.ExtractedTransaction) (int, error)
	InsertUtilityBills(ctx context.Context, phone, userID, consentID string, bills []model.UtilityBill) (int, error)
	InsertScreenshotValidation(ctx context.Context, v *model.ScreenshotValidation) error

	// Certainty table
	LoadCertaintyTable(ctx context.Context) (model.CertaintyTable, error)
	SaveCertaintyTable(ctx context.Context, table model.CertaintyTable) error

	// Monitoring
	Snapshot(ctx context.Context, since time.Time) (*Snapshot, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// NewID returns a time-ordered row id.
func NewID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// transactionKey identifies a transaction across repeated uploads of the
// same SMS history.
func transactionKey(tx model.ExtractedTransaction) string {
	if tx.MessageID != "" {
		return "msg:" + tx.MessageID
	}
	return "h:" + shortHash(fmt.Sprintf("%s|%s|%.2f|%s|%s",
		tx.Provider, tx.Type, tx.Amount, tx.Date.UTC().Format(time.RFC3339), tx.Reference))
}

func billKey(b model.UtilityBill) string {
	if b.MessageID != "" {
		return "msg:" + b.MessageID
	}
	var date string
	if b.BillDate != nil {
		date = b.BillDate.UTC().Format(time.RFC3339)
	}
	return "h:" + shortHash(fmt.Sprintf("%s|%s|%.2f|%s|%s|%s",
		b.Type, b.Provider, b.Amount, date, b.Reference, b.Status))
}

// lastByKey collapses items sharing a dedupe key into the last one, kept at
// the position of the first. A batch upsert cannot touch one key twice.
func lastByKey[T any](items []T, key func(T) string) []T {
	pos := make(map[string]int, len(items))
	out := make([]T, 0, len(items))
	for _, it := range items {
		k := key(it)
		if i, ok := pos[k]; ok {
			out[i] = it
			continue
		}
		pos[k] = len(out)
		out = append(out, it)
	}
	return out
}

func shortHash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:12])
}

// mergeFlags appends flags whose type is not already recorded, preserving
// order.
func mergeFlags(existing []model.FraudFlag, add []model.FraudFlag) ([]model.FraudFlag, bool) {
	seen := make(map[string]bool, len(existing))
	for _, f := range existing {
		seen[f.Type] = true
	}
	changed := false
	for _, f := range add {
		if seen[f.Type] {
			continue
		}
		seen[f.Type] = true
		existing = append(existing, f)
		changed = true
	}
	return existing, changed
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullInt64(p *int) *int64 {
	if p == nil {
		return nil
	}
	v := int64(*p)
	return &v
}

func boolValue(p *bool) bool {
	return p != nil && *p
}
