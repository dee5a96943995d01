package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestDecodePhoneTrustState_Defaults(t *testing.T) {
	now := time.Now().UTC()
	s, err := DecodePhoneTrustState(StateRow{
		ID:          "st-1",
		PhoneNumber: "+2250700000001",
		UserID:      "user-1",
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	require.NoError(t, err)

	assert.Equal(t, ActivityUnknown, s.ActivityLevel)
	assert.Equal(t, TrustUnverified, s.TrustLevel)
	assert.Empty(t, s.FraudFlags)
	assert.NotNil(t, s.FraudFlags)
	assert.Nil(t, s.PhoneAgeMonths)
	assert.Nil(t, s.IdentityMatchScore)
}

func TestDecodePhoneTrustState_Full(t *testing.T) {
	age := int64(14)
	match := int64(91)
	s, err := DecodePhoneTrustState(StateRow{
		ID:                     "st-2",
		PhoneNumber:            "+2250700000002",
		UserID:                 "user-2",
		OTPVerified:            true,
		OTPToken:               strPtr("tok"),
		IdentityCrossValidated: true,
		IdentityMatchScore:     &match,
		TrustScore:             72,
		TrustLevel:             strPtr("certified"),
		PhoneAgeMonths:         &age,
		ActivityLevel:          strPtr("high"),
		FraudFlags:             []byte(`[{"type":"multiple_users","severity":"medium","created_at":"2026-01-02T00:00:00Z"}]`),
	})
	require.NoError(t, err)

	assert.Equal(t, "tok", s.OTPToken)
	assert.Equal(t, TrustCertified, s.TrustLevel)
	assert.Equal(t, ActivityHigh, s.ActivityLevel)
	require.NotNil(t, s.PhoneAgeMonths)
	assert.Equal(t, 14, *s.PhoneAgeMonths)
	require.NotNil(t, s.IdentityMatchScore)
	assert.Equal(t, 91, *s.IdentityMatchScore)
	require.Len(t, s.FraudFlags, 1)
	assert.Equal(t, FlagMultipleUsers, s.FraudFlags[0].Type)
	assert.Equal(t, SeverityMedium, s.FraudFlags[0].Severity)
}

func TestDecodePhoneTrustState_Errors(t *testing.T) {
	tests := []struct {
		name string
		row  StateRow
		want string
	}{
		{"missing phone", StateRow{ID: "a", UserID: "u"}, "missing phone_number"},
		{"missing user", StateRow{ID: "a", PhoneNumber: "p"}, "missing user_id"},
		{"bad level", StateRow{ID: "a", PhoneNumber: "p", UserID: "u", TrustLevel: strPtr("platinum")}, "unknown trust level"},
		{"bad activity", StateRow{ID: "a", PhoneNumber: "p", UserID: "u", ActivityLevel: strPtr("frantic")}, "unknown activity level"},
		{"score range", StateRow{ID: "a", PhoneNumber: "p", UserID: "u", TrustScore: 140}, "out of range"},
		{"bad flags", StateRow{ID: "a", PhoneNumber: "p", UserID: "u", FraudFlags: []byte("{")}, "fraud_flags"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodePhoneTrustState(tt.row)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestTrustLevel_Rank(t *testing.T) {
	assert.Less(t, TrustUnverified.Rank(), TrustBasic.Rank())
	assert.Less(t, TrustBasic.Rank(), TrustVerified.Rank())
	assert.Less(t, TrustVerified.Rank(), TrustCertified.Rank())
	assert.Less(t, TrustCertified.Rank(), TrustGold.Rank())
	assert.Equal(t, -1, TrustLevel("bogus").Rank())
}

func TestParseProvider(t *testing.T) {
	assert.Equal(t, ProviderWave, ParseProvider("wave"))
	assert.Equal(t, ProviderUnknown, ParseProvider("flooz"))
	assert.Equal(t, ProviderUnknown, ParseProvider(""))
}

func TestStageCompleted(t *testing.T) {
	s := &PhoneTrustState{OTPVerified: true, SMSConsentGiven: true}
	assert.True(t, s.StageCompleted(StageOTP))
	assert.False(t, s.StageCompleted(StageUSSD))
	assert.False(t, s.StageCompleted(StageIdentity))
	assert.True(t, s.StageCompleted(StageSMS))
	assert.False(t, s.StageCompleted(StageComplete))
}
