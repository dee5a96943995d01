package store

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/phonetrust/internal/model"
)

func TestStageUpsert_Postgres(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	query, args, err := stageUpsert(postgresDialect, "+2250707070707", "u1",
		model.StageUpdate{Stage: model.StageIdentity, IdentityMatchScore: intPtr(88), IdentityValidated: boolPtr(true), At: at},
		testNow)
	require.NoError(t, err)

	assert.Contains(t, query, "INSERT INTO phone_trust_states (id, phone_number, user_id, created_at, updated_at, identity_cross_validated")
	assert.Contains(t, query, "VALUES ($1, $2, $3, $4, $5, $6, $7, $8)")
	assert.Contains(t, query, "ON CONFLICT (phone_number, user_id) DO UPDATE SET")
	assert.Contains(t, query, "GREATEST(phone_trust_states.identity_match_score, excluded.identity_match_score)")
	assert.NotContains(t, query, "otp_verified")
	require.Len(t, args, 8)
	assert.Equal(t, "+2250707070707", args[1])
	assert.Equal(t, true, args[5])
	assert.Equal(t, &at, args[6])
	assert.Equal(t, int64(88), *(args[7].(*int64)))
}

func TestStageUpsert_SQLite(t *testing.T) {
	query, args, err := stageUpsert(sqliteDialect, "p", "u", model.StageUpdate{Stage: model.StageSMS}, testNow)
	require.NoError(t, err)

	assert.Contains(t, query, "VALUES (?, ?, ?, ?, ?, ?, ?, ?)")
	assert.Contains(t, query, "sms_consent_id = COALESCE(excluded.sms_consent_id, phone_trust_states.sms_consent_id)")
	assert.NotContains(t, query, "$1")
	// Zero At falls back to now; empty consent id binds NULL.
	assert.Equal(t, testNow, args[6])
	assert.Nil(t, args[7])
}

func TestStageUpsert_IdentityNotValidatedHasNoTimestamp(t *testing.T) {
	_, args, err := stageUpsert(sqliteDialect, "p", "u",
		model.StageUpdate{Stage: model.StageIdentity, IdentityMatchScore: intPtr(50)}, testNow)
	require.NoError(t, err)
	assert.Equal(t, false, args[5])
	assert.Nil(t, args[6])
}

func TestStageUpsert_USSDCarriesIdentity(t *testing.T) {
	query, args, err := stageUpsert(sqliteDialect, "p", "u", model.StageUpdate{
		Stage: model.StageUSSD, USSDCertified: boolPtr(true),
		IdentityMatchScore: intPtr(91), IdentityValidated: boolPtr(true),
	}, testNow)
	require.NoError(t, err)

	assert.Equal(t, 1, strings.Count(query, "INSERT INTO"))
	assert.Contains(t, query, "ussd_uploaded = TRUE")
	assert.Contains(t, query, "identity_cross_validated = (phone_trust_states.identity_cross_validated OR excluded.identity_cross_validated)")
	assert.Contains(t, query, "MAX(phone_trust_states.identity_match_score, excluded.identity_match_score)")
	require.Len(t, args, 11)
	assert.Equal(t, int64(91), *(args[10].(*int64)))

	query, args, err = stageUpsert(sqliteDialect, "p", "u", model.StageUpdate{Stage: model.StageUSSD}, testNow)
	require.NoError(t, err)
	assert.NotContains(t, query, "identity_")
	assert.Len(t, args, 8)
}

func TestStageUpsert_SMSCarriesDerivedFields(t *testing.T) {
	query, args, err := stageUpsert(postgresDialect, "p", "u", model.StageUpdate{
		Stage: model.StageSMS, SMSConsentID: "c1", PhoneAgeMonths: intPtr(14), ActivityLevel: model.ActivityHigh,
	}, testNow)
	require.NoError(t, err)

	assert.Equal(t, 1, strings.Count(query, "INSERT INTO"))
	assert.Contains(t, query, "phone_age_months = excluded.phone_age_months")
	assert.Contains(t, query, "activity_level = excluded.activity_level")
	require.Len(t, args, 10)
	assert.Equal(t, int64(14), args[8])
	assert.Equal(t, "high", args[9])
}

func TestMergeFlags(t *testing.T) {
	existing := []model.FraudFlag{{Type: model.FlagPhoneMismatch}}

	merged, changed := mergeFlags(existing, []model.FraudFlag{{Type: model.FlagPhoneMismatch}})
	assert.False(t, changed)
	assert.Len(t, merged, 1)

	merged, changed = mergeFlags(existing, []model.FraudFlag{
		{Type: model.FlagMultipleUsers}, {Type: model.FlagMultipleUsers},
	})
	assert.True(t, changed)
	require.Len(t, merged, 2)
	assert.Equal(t, model.FlagMultipleUsers, merged[1].Type)
}

func TestLastByKey(t *testing.T) {
	txs := []model.ExtractedTransaction{
		{MessageID: "m1", Confidence: 0.5},
		{MessageID: "m2", Confidence: 0.6},
		{MessageID: "m1", Confidence: 0.9},
	}
	got := lastByKey(txs, transactionKey)
	require.Len(t, got, 2)
	assert.Equal(t, "m1", got[0].MessageID)
	assert.Equal(t, 0.9, got[0].Confidence)
	assert.Equal(t, "m2", got[1].MessageID)

	assert.Empty(t, lastByKey([]model.UtilityBill(nil), billKey))
}

func TestTransactionKey(t *testing.T) {
	tx := model.ExtractedTransaction{Provider: "wave", Type: model.TxCredit, Amount: 500, Date: testNow}

	assert.Equal(t, "msg:42", transactionKey(model.ExtractedTransaction{MessageID: "42"}))

	k1 := transactionKey(tx)
	assert.Equal(t, k1, transactionKey(tx))
	assert.Len(t, k1, len("h:")+24)

	tx.Amount = 501
	assert.NotEqual(t, k1, transactionKey(tx))
}

func TestBillKey(t *testing.T) {
	b := model.UtilityBill{Type: model.UtilityWater, Provider: "SODECI", Amount: 8000, Status: model.PaymentUnpaid}
	k := billKey(b)
	assert.Contains(t, k, "h:")

	b.Status = model.PaymentPaidLate
	assert.NotEqual(t, k, billKey(b))
	assert.Equal(t, "msg:b9", billKey(model.UtilityBill{MessageID: "b9"}))
}

func TestNewID_Unique(t *testing.T) {
	a, b := NewID(), NewID()
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 36)
}
