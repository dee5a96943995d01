package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/phonetrust/internal/model"
)

var testNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	st.now = func() time.Time { return testNow }
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func intPtr(v int) *int    { return &v }
func boolPtr(v bool) *bool { return &v }

// --- States ---

func TestSQLite_Ping(t *testing.T) {
	st := newTestSQLiteStore(t)
	assert.NoError(t, st.Ping(context.Background()))
}

func TestSQLite_GetOrCreateState_Idempotent(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	first, err := st.GetOrCreateState(ctx, "+2250707070707", "user-1")
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, model.TrustUnverified, first.TrustLevel)
	assert.Equal(t, model.ActivityUnknown, first.ActivityLevel)
	assert.Empty(t, first.FraudFlags)
	assert.True(t, first.CreatedAt.Equal(testNow))

	second, err := st.GetOrCreateState(ctx, "+2250707070707", "user-1")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
}

func TestSQLite_GetState_NotFound(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.GetState(context.Background(), "+2250101010101", "nobody")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSQLite_ApplyStageUpdate_OTP(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	phone, user := "+2250707070707", "user-1"

	firstAt := testNow.Add(-time.Hour)
	state, err := st.ApplyStageUpdate(ctx, phone, user, model.StageUpdate{
		Stage: model.StageOTP, OTPToken: "tok-1", At: firstAt,
	})
	require.NoError(t, err)
	assert.True(t, state.OTPVerified)
	assert.Equal(t, "tok-1", state.OTPToken)
	require.NotNil(t, state.OTPVerifiedAt)
	assert.True(t, state.OTPVerifiedAt.Equal(firstAt))

	// A repeat keeps the first timestamp and the old token when none is given.
	state, err = st.ApplyStageUpdate(ctx, phone, user, model.StageUpdate{Stage: model.StageOTP})
	require.NoError(t, err)
	assert.Equal(t, "tok-1", state.OTPToken)
	assert.True(t, state.OTPVerifiedAt.Equal(firstAt))

	state, err = st.ApplyStageUpdate(ctx, phone, user, model.StageUpdate{Stage: model.StageOTP, OTPToken: "tok-2"})
	require.NoError(t, err)
	assert.Equal(t, "tok-2", state.OTPToken)
}

func TestSQLite_ApplyStageUpdate_StagesAreIndependent(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	phone, user := "+2250505050505", "user-2"

	_, err := st.ApplyStageUpdate(ctx, phone, user, model.StageUpdate{Stage: model.StageSMS, SMSConsentID: "consent-9"})
	require.NoError(t, err)
	state, err := st.ApplyStageUpdate(ctx, phone, user, model.StageUpdate{Stage: model.StageUSSD, USSDCertified: boolPtr(true)})
	require.NoError(t, err)

	assert.True(t, state.SMSConsentGiven)
	assert.Equal(t, "consent-9", state.SMSConsentID)
	assert.True(t, state.USSDUploaded)
	assert.True(t, state.USSDCertified)
	assert.False(t, state.OTPVerified)
	assert.False(t, state.IdentityCrossValidated)

	// A later uncertified upload cannot revoke certification.
	state, err = st.ApplyStageUpdate(ctx, phone, user, model.StageUpdate{Stage: model.StageUSSD, USSDCertified: boolPtr(false)})
	require.NoError(t, err)
	assert.True(t, state.USSDCertified)
}

func TestSQLite_ApplyStageUpdate_IdentityScoreNeverDecreases(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	phone, user := "+2250707070707", "user-1"

	state, err := st.ApplyStageUpdate(ctx, phone, user, model.StageUpdate{
		Stage: model.StageIdentity, IdentityMatchScore: intPtr(70), IdentityValidated: boolPtr(false),
	})
	require.NoError(t, err)
	assert.False(t, state.IdentityCrossValidated)
	assert.Nil(t, state.IdentityCrossValidatedAt)
	require.NotNil(t, state.IdentityMatchScore)
	assert.Equal(t, 70, *state.IdentityMatchScore)

	state, err = st.ApplyStageUpdate(ctx, phone, user, model.StageUpdate{
		Stage: model.StageIdentity, IdentityMatchScore: intPtr(92), IdentityValidated: boolPtr(true),
	})
	require.NoError(t, err)
	assert.True(t, state.IdentityCrossValidated)
	require.NotNil(t, state.IdentityCrossValidatedAt)
	assert.Equal(t, 92, *state.IdentityMatchScore)

	state, err = st.ApplyStageUpdate(ctx, phone, user, model.StageUpdate{
		Stage: model.StageIdentity, IdentityMatchScore: intPtr(40), IdentityValidated: boolPtr(false),
	})
	require.NoError(t, err)
	assert.True(t, state.IdentityCrossValidated)
	assert.Equal(t, 92, *state.IdentityMatchScore)
}

func TestSQLite_ApplyStageUpdate_UnsupportedStage(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.ApplyStageUpdate(context.Background(), "+2250707070707", "user-1", model.StageUpdate{Stage: model.StageComplete})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported stage")
}

func TestSQLite_UpdateScoreAndStale(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	phone, user := "+2250707070707", "user-1"

	_, err := st.GetOrCreateState(ctx, phone, user)
	require.NoError(t, err)

	require.NoError(t, st.MarkScoreStale(ctx, phone, user))
	state, err := st.GetState(ctx, phone, user)
	require.NoError(t, err)
	assert.True(t, state.ScoreStale)

	state, err = st.UpdateScore(ctx, phone, user, 72.5, model.TrustVerified)
	require.NoError(t, err)
	assert.InDelta(t, 72.5, state.TrustScore, 0.001)
	assert.Equal(t, model.TrustVerified, state.TrustLevel)
	assert.False(t, state.ScoreStale)
}

func TestSQLite_UpdatesOnMissingState(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := st.UpdateScore(ctx, "+2250000000000", "ghost", 10, model.TrustBasic)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.True(t, errors.Is(st.MarkScoreStale(ctx, "+2250000000000", "ghost"), ErrNotFound))
	assert.True(t, errors.Is(st.AddFraudFlags(ctx, "+2250000000000", "ghost", model.FraudFlag{Type: "x"}), ErrNotFound))
}

func TestSQLite_ApplyStageUpdate_SMSDerivedFields(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	phone, user := "+2250707070707", "user-1"

	state, err := st.ApplyStageUpdate(ctx, phone, user, model.StageUpdate{
		Stage: model.StageSMS, SMSConsentID: "c1", PhoneAgeMonths: intPtr(14), ActivityLevel: model.ActivityHigh,
	})
	require.NoError(t, err)
	assert.True(t, state.SMSConsentGiven)
	require.NotNil(t, state.PhoneAgeMonths)
	assert.Equal(t, 14, *state.PhoneAgeMonths)
	assert.Equal(t, model.ActivityHigh, state.ActivityLevel)

	// An unknown age keeps the stored one.
	state, err = st.ApplyStageUpdate(ctx, phone, user, model.StageUpdate{
		Stage: model.StageSMS, SMSConsentID: "c2", ActivityLevel: model.ActivityMedium,
	})
	require.NoError(t, err)
	require.NotNil(t, state.PhoneAgeMonths)
	assert.Equal(t, 14, *state.PhoneAgeMonths)
	assert.Equal(t, model.ActivityMedium, state.ActivityLevel)
	assert.Equal(t, "c2", state.SMSConsentID)
}

func TestSQLite_ApplyStageUpdate_USSDWithIdentity(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	phone, user := "+2250707070707", "user-1"

	state, err := st.ApplyStageUpdate(ctx, phone, user, model.StageUpdate{
		Stage: model.StageUSSD, USSDCertified: boolPtr(true),
		IdentityMatchScore: intPtr(92), IdentityValidated: boolPtr(true),
	})
	require.NoError(t, err)
	assert.True(t, state.USSDUploaded)
	assert.True(t, state.USSDCertified)
	assert.True(t, state.IdentityCrossValidated)
	require.NotNil(t, state.IdentityMatchScore)
	assert.Equal(t, 92, *state.IdentityMatchScore)

	// Without a name comparison the identity columns are left alone.
	state, err = st.ApplyStageUpdate(ctx, phone, user, model.StageUpdate{Stage: model.StageUSSD, USSDCertified: boolPtr(false)})
	require.NoError(t, err)
	assert.True(t, state.IdentityCrossValidated)
	assert.Equal(t, 92, *state.IdentityMatchScore)
}

func TestSQLite_AddFraudFlags_DedupesByType(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	phone, user := "+2250707070707", "user-1"
	_, err := st.GetOrCreateState(ctx, phone, user)
	require.NoError(t, err)

	require.NoError(t, st.AddFraudFlags(ctx, phone, user,
		model.FraudFlag{Type: model.FlagHighTampering, Severity: model.SeverityHigh, CreatedAt: testNow},
	))
	require.NoError(t, st.AddFraudFlags(ctx, phone, user,
		model.FraudFlag{Type: model.FlagHighTampering, Severity: model.SeverityHigh, Detail: "again"},
		model.FraudFlag{Type: model.FlagNameMismatch, Severity: model.SeverityMedium},
	))
	require.NoError(t, st.AddFraudFlags(ctx, phone, user))

	state, err := st.GetState(ctx, phone, user)
	require.NoError(t, err)
	require.Len(t, state.FraudFlags, 2)
	assert.Equal(t, model.FlagHighTampering, state.FraudFlags[0].Type)
	assert.Empty(t, state.FraudFlags[0].Detail)
	assert.Equal(t, model.FlagNameMismatch, state.FraudFlags[1].Type)
}

func TestSQLite_MultipleUsers(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	phone := "+2250707070707"

	_, err := st.GetOrCreateState(ctx, phone, "user-1")
	require.NoError(t, err)
	n, err := st.CountUsersForPhone(ctx, phone)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = st.GetOrCreateState(ctx, phone, "user-2")
	require.NoError(t, err)
	n, err = st.CountUsersForPhone(ctx, phone)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, st.SetMultipleUsers(ctx, phone))
	for _, user := range []string{"user-1", "user-2"} {
		state, err := st.GetState(ctx, phone, user)
		require.NoError(t, err)
		assert.True(t, state.MultipleUsersDetected, user)
	}
}

// --- Evidence ---

func TestSQLite_InsertTransactions_Dedupes(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	phone, user := "+2250707070707", "user-1"

	balance := 30000.0
	txs := []model.ExtractedTransaction{
		{MessageID: "m1", Provider: "orange_money", Type: model.TxCredit, Amount: 5000, Currency: "XOF", BalanceAfter: &balance, Date: testNow, Confidence: 0.9},
		{Provider: "wave", Type: model.TxDebit, Amount: 1200, Currency: "XOF", Reference: "W123", Date: testNow, Confidence: 0.8},
	}
	n, err := st.InsertTransactions(ctx, phone, user, "consent-1", txs)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = st.InsertTransactions(ctx, phone, user, "consent-2", txs)
	require.NoError(t, err)

	var rows int
	require.NoError(t, st.db.QueryRow(`SELECT COUNT(*) FROM sms_transactions`).Scan(&rows))
	assert.Equal(t, 2, rows)

	var consent string
	require.NoError(t, st.db.QueryRow(`SELECT consent_id FROM sms_transactions WHERE message_id = 'm1'`).Scan(&consent))
	assert.Equal(t, "consent-2", consent)

	n, err = st.InsertTransactions(ctx, phone, user, "consent-1", nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSQLite_InsertUtilityBills(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	billDate := testNow.AddDate(0, 0, -10)
	bills := []model.UtilityBill{
		{MessageID: "b1", Type: model.UtilityElectricity, Provider: "CIE", Amount: 15000, BillDate: &billDate, Status: model.PaymentUnpaid, Confidence: 0.85},
	}
	n, err := st.InsertUtilityBills(ctx, "+2250707070707", "user-1", "consent-1", bills)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	paid := testNow
	bills[0].Status = model.PaymentPaidOnTime
	bills[0].PaidDate = &paid
	_, err = st.InsertUtilityBills(ctx, "+2250707070707", "user-1", "consent-1", bills)
	require.NoError(t, err)

	var status string
	var count int
	require.NoError(t, st.db.QueryRow(`SELECT status, COUNT(*) FROM utility_bills`).Scan(&status, &count))
	assert.Equal(t, 1, count)
	assert.Equal(t, "paid_on_time", status)
}

func TestSQLite_InsertUtilityBills_RepeatedKeyInBatch(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	paid := testNow
	bills := []model.UtilityBill{
		{MessageID: "b1", Type: model.UtilityWater, Provider: "SODECI", Amount: 8000, Status: model.PaymentUnpaid, Confidence: 0.8},
		{MessageID: "b1", Type: model.UtilityWater, Provider: "SODECI", Amount: 8000, Status: model.PaymentPaidOnTime, PaidDate: &paid, Confidence: 0.8},
	}
	n, err := st.InsertUtilityBills(ctx, "+2250707070707", "user-1", "consent-1", bills)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var status string
	var count int
	require.NoError(t, st.db.QueryRow(`SELECT status, COUNT(*) FROM utility_bills`).Scan(&status, &count))
	assert.Equal(t, 1, count)
	assert.Equal(t, "paid_on_time", status)
}

func TestSQLite_InsertScreenshotValidation_RepeatKeepsFirstRow(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	phone := "+2250707070707"

	first := &model.ScreenshotValidation{PhoneNumber: phone, UserID: "user-1", ImageHash: "abc123", CreatedAt: testNow}
	require.NoError(t, st.InsertScreenshotValidation(ctx, first))

	again := &model.ScreenshotValidation{PhoneNumber: phone, UserID: "user-1", ImageHash: "abc123", CreatedAt: testNow.Add(time.Hour)}
	require.NoError(t, st.InsertScreenshotValidation(ctx, again))
	assert.Equal(t, first.ID, again.ID)
	assert.True(t, testNow.Equal(again.CreatedAt))

	other := &model.ScreenshotValidation{PhoneNumber: phone, UserID: "user-2", ImageHash: "abc123", CreatedAt: testNow}
	require.NoError(t, st.InsertScreenshotValidation(ctx, other))
	assert.NotEqual(t, first.ID, other.ID)

	var count int
	require.NoError(t, st.db.QueryRow(`SELECT COUNT(*) FROM screenshot_validations`).Scan(&count))
	assert.Equal(t, 2, count)
}

func TestSQLite_ScreenshotValidationAndSnapshot(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	phone := "+2250707070707"

	_, err := st.ApplyStageUpdate(ctx, phone, "user-1", model.StageUpdate{Stage: model.StageOTP})
	require.NoError(t, err)
	_, err = st.UpdateScore(ctx, phone, "user-1", 40, model.TrustBasic)
	require.NoError(t, err)
	_, err = st.ApplyStageUpdate(ctx, phone, "user-2", model.StageUpdate{Stage: model.StageOTP})
	require.NoError(t, err)
	require.NoError(t, st.MarkScoreStale(ctx, phone, "user-2"))

	v := &model.ScreenshotValidation{
		PhoneNumber: phone,
		UserID:      "user-1",
		ImageHash:   "abc123",
		Result:      model.USSDScreenshotResult{Provider: model.ProviderOrangeMoney, ScreenType: model.ScreenProfile, TamperingProbability: 10},
		Certification: model.Certification{
			CanCertify: true, Score: 90, Reasons: []string{},
		},
	}
	require.NoError(t, st.InsertScreenshotValidation(ctx, v))
	assert.NotEmpty(t, v.ID)

	_, err = st.InsertTransactions(ctx, phone, "user-1", "c1", []model.ExtractedTransaction{
		{MessageID: "m1", Provider: "mtn_momo", Type: model.TxCredit, Amount: 100, Currency: "XOF", Date: testNow},
	})
	require.NoError(t, err)

	snap, err := st.Snapshot(ctx, testNow.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 2, snap.StatesTotal)
	assert.Equal(t, 1, snap.StatesByLevel[model.TrustBasic])
	assert.Equal(t, 1, snap.StatesByLevel[model.TrustUnverified])
	assert.Equal(t, 1, snap.StaleScores)
	assert.Equal(t, 2, snap.StagesCompleted[model.StageOTP])
	assert.InDelta(t, 20.0, snap.AverageScore, 0.001)
	assert.Equal(t, 1, snap.Screenshots)
	assert.Equal(t, 1, snap.ScreenshotsCertified)
	assert.Equal(t, 1, snap.Transactions)

	later, err := st.Snapshot(ctx, testNow.Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, later.Screenshots)
	assert.Zero(t, later.Transactions)
}

func TestSQLite_Snapshot_Empty(t *testing.T) {
	st := newTestSQLiteStore(t)

	snap, err := st.Snapshot(context.Background(), testNow)
	require.NoError(t, err)
	assert.Zero(t, snap.StatesTotal)
	assert.Zero(t, snap.AverageScore)
}

// --- Certainty table ---

func TestSQLite_CertaintyTable_RoundTrip(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	empty, err := st.LoadCertaintyTable(ctx)
	require.NoError(t, err)
	assert.Empty(t, empty)

	table := model.CertaintyTable{
		model.SourceDeclared: {
			SourceType: model.SourceDeclared, Label: "Declared", BaseCertainty: 0.3, CertifiedCertainty: 0.5,
		},
		model.SourceScreenshotOCR: {
			SourceType: model.SourceScreenshotOCR, Label: "Screenshot", BaseCertainty: 0.6, CertifiedCertainty: 0.85,
			RequiredForCertified: []string{"ocr_confidence_70", "name_match"},
		},
	}
	require.NoError(t, st.SaveCertaintyTable(ctx, table))

	// Saving replaces the whole table.
	delete(table, model.SourceDeclared)
	require.NoError(t, st.SaveCertaintyTable(ctx, table))

	loaded, err := st.LoadCertaintyTable(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	got := loaded[model.SourceScreenshotOCR]
	assert.Equal(t, "Screenshot", got.Label)
	assert.InDelta(t, 0.85, got.CertifiedCertainty, 0.0001)
	assert.Equal(t, []string{"ocr_confidence_70", "name_match"}, got.RequiredForCertified)
}
