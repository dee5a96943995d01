package model

import (
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
)

// StateRow is a phone_trust_states row as scanned by a store driver, before
// any typing or validation.
type StateRow struct {
	ID          string
	PhoneNumber string
	UserID      string

	OTPVerified   bool
	OTPVerifiedAt *time.Time
	OTPToken      *string

	USSDUploaded   bool
	USSDUploadedAt *time.Time
	USSDCertified  bool

	IdentityCrossValidated   bool
	IdentityCrossValidatedAt *time.Time
	IdentityMatchScore       *int64

	SMSConsentGiven   bool
	SMSConsentGivenAt *time.Time
	SMSConsentID      *string

	TrustScore float64
	TrustLevel *string
	ScoreStale bool

	PhoneAgeMonths        *int64
	ActivityLevel         *string
	MultipleUsersDetected bool
	FraudFlags            []byte

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DecodePhoneTrustState converts a raw row into a PhoneTrustState. Missing
// identity columns and unknown enum values are errors; a missing activity
// level decodes as ActivityUnknown and a missing trust level as unverified.
func DecodePhoneTrustState(row StateRow) (*PhoneTrustState, error) {
	if row.PhoneNumber == "" {
		return nil, eris.Errorf("model: decode state %q: missing phone_number", row.ID)
	}
	if row.UserID == "" {
		return nil, eris.Errorf("model: decode state %q: missing user_id", row.ID)
	}
	if row.TrustScore < 0 || row.TrustScore > 100 {
		return nil, eris.Errorf("model: decode state %q: trust_score %.2f out of range", row.ID, row.TrustScore)
	}

	level := TrustUnverified
	if row.TrustLevel != nil && *row.TrustLevel != "" {
		l, err := ParseTrustLevel(*row.TrustLevel)
		if err != nil {
			return nil, eris.Wrapf(err, "model: decode state %q", row.ID)
		}
		level = l
	}

	activity := ActivityUnknown
	if row.ActivityLevel != nil {
		a, err := ParseActivityLevel(*row.ActivityLevel)
		if err != nil {
			return nil, eris.Wrapf(err, "model: decode state %q", row.ID)
		}
		activity = a
	}

	flags := []FraudFlag{}
	if len(row.FraudFlags) > 0 {
		if err := json.Unmarshal(row.FraudFlags, &flags); err != nil {
			return nil, eris.Wrapf(err, "model: decode state %q: fraud_flags", row.ID)
		}
	}

	s := &PhoneTrustState{
		ID:                       row.ID,
		PhoneNumber:              row.PhoneNumber,
		UserID:                   row.UserID,
		OTPVerified:              row.OTPVerified,
		OTPVerifiedAt:            row.OTPVerifiedAt,
		OTPToken:                 deref(row.OTPToken),
		USSDUploaded:             row.USSDUploaded,
		USSDUploadedAt:           row.USSDUploadedAt,
		USSDCertified:            row.USSDCertified,
		IdentityCrossValidated:   row.IdentityCrossValidated,
		IdentityCrossValidatedAt: row.IdentityCrossValidatedAt,
		SMSConsentGiven:          row.SMSConsentGiven,
		SMSConsentGivenAt:        row.SMSConsentGivenAt,
		SMSConsentID:             deref(row.SMSConsentID),
		TrustScore:               row.TrustScore,
		TrustLevel:               level,
		ScoreStale:               row.ScoreStale,
		ActivityLevel:            activity,
		MultipleUsersDetected:    row.MultipleUsersDetected,
		FraudFlags:               flags,
		CreatedAt:                row.CreatedAt,
		UpdatedAt:                row.UpdatedAt,
	}
	if row.IdentityMatchScore != nil {
		v := int(*row.IdentityMatchScore)
		s.IdentityMatchScore = &v
	}
	if row.PhoneAgeMonths != nil {
		v := int(*row.PhoneAgeMonths)
		s.PhoneAgeMonths = &v
	}
	return s, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
