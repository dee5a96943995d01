package store

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/phonetrust/internal/model"
)

const stateTable = "phone_trust_states"

// stateColumns is the column order scanned by scanState.
const stateColumns = `id, phone_number, user_id,
	otp_verified, otp_verified_at, otp_token,
	ussd_uploaded, ussd_uploaded_at, ussd_certified,
	identity_cross_validated, identity_cross_validated_at, identity_match_score,
	sms_consent_given, sms_consent_given_at, sms_consent_id,
	trust_score, trust_level, score_stale,
	phone_age_months, activity_level, multiple_users_detected, fraud_flags,
	created_at, updated_at`

type scannable interface {
	Scan(dest ...any) error
}

// scanState reads one row in stateColumns order and decodes it.
func scanState(row scannable) (*model.PhoneTrustState, error) {
	var r model.StateRow
	var flags *string
	err := row.Scan(
		&r.ID, &r.PhoneNumber, &r.UserID,
		&r.OTPVerified, &r.OTPVerifiedAt, &r.OTPToken,
		&r.USSDUploaded, &r.USSDUploadedAt, &r.USSDCertified,
		&r.IdentityCrossValidated, &r.IdentityCrossValidatedAt, &r.IdentityMatchScore,
		&r.SMSConsentGiven, &r.SMSConsentGivenAt, &r.SMSConsentID,
		&r.TrustScore, &r.TrustLevel, &r.ScoreStale,
		&r.PhoneAgeMonths, &r.ActivityLevel, &r.MultipleUsersDetected, &flags,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if flags != nil {
		r.FraudFlags = []byte(*flags)
	}
	return model.DecodePhoneTrustState(r)
}

// dialect abstracts the SQL differences between the two drivers.
type dialect struct {
	placeholder func(n int) string
	greatest    string
}

var (
	sqliteDialect   = dialect{placeholder: func(int) string { return "?" }, greatest: "MAX"}
	postgresDialect = dialect{placeholder: func(n int) string { return fmt.Sprintf("$%d", n) }, greatest: "GREATEST"}
)

// stageUpsert builds an INSERT ... ON CONFLICT statement that creates the
// state when missing and otherwise merges only the columns owned by the
// stage. Completion flags are OR-ed, first completion timestamps are kept,
// and the identity match score never decreases. The whole stage is one
// statement, so a failure leaves the previous row intact.
func stageUpsert(d dialect, phone, userID string, upd model.StageUpdate, now time.Time) (string, []any, error) {
	at := upd.At
	if at.IsZero() {
		at = now
	}

	cols := []string{"id", "phone_number", "user_id", "created_at", "updated_at"}
	args := []any{NewID(), phone, userID, now, now}
	var sets []string

	add := func(col string, val any) {
		cols = append(cols, col)
		args = append(args, val)
	}
	old := func(col string) string { return stateTable + "." + col }

	identity := func() {
		validated := boolValue(upd.IdentityValidated)
		var validatedAt *time.Time
		if validated {
			validatedAt = &at
		}
		add("identity_cross_validated", validated)
		add("identity_cross_validated_at", validatedAt)
		add("identity_match_score", nullInt64(upd.IdentityMatchScore))
		sets = append(sets,
			"identity_cross_validated = ("+old("identity_cross_validated")+" OR excluded.identity_cross_validated)",
			"identity_cross_validated_at = COALESCE("+old("identity_cross_validated_at")+", excluded.identity_cross_validated_at)",
			fmt.Sprintf("identity_match_score = CASE WHEN %[1]s IS NULL THEN excluded.identity_match_score "+
				"WHEN excluded.identity_match_score IS NULL THEN %[1]s "+
				"ELSE %[2]s(%[1]s, excluded.identity_match_score) END", old("identity_match_score"), d.greatest),
		)
	}

	switch upd.Stage {
	case model.StageOTP:
		add("otp_verified", true)
		add("otp_verified_at", at)
		add("otp_token", nullString(upd.OTPToken))
		sets = append(sets,
			"otp_verified = TRUE",
			"otp_verified_at = COALESCE("+old("otp_verified_at")+", excluded.otp_verified_at)",
			"otp_token = COALESCE(excluded.otp_token, "+old("otp_token")+")",
		)

	case model.StageUSSD:
		add("ussd_uploaded", true)
		add("ussd_uploaded_at", at)
		add("ussd_certified", boolValue(upd.USSDCertified))
		sets = append(sets,
			"ussd_uploaded = TRUE",
			"ussd_uploaded_at = COALESCE("+old("ussd_uploaded_at")+", excluded.ussd_uploaded_at)",
			"ussd_certified = ("+old("ussd_certified")+" OR excluded.ussd_certified)",
		)
		// A screenshot compared against a declared name carries the identity
		// match in the same statement.
		if upd.IdentityMatchScore != nil {
			identity()
		}

	case model.StageIdentity:
		identity()

	case model.StageSMS:
		add("sms_consent_given", true)
		add("sms_consent_given_at", at)
		add("sms_consent_id", nullString(upd.SMSConsentID))
		sets = append(sets,
			"sms_consent_given = TRUE",
			"sms_consent_given_at = COALESCE("+old("sms_consent_given_at")+", excluded.sms_consent_given_at)",
			"sms_consent_id = COALESCE(excluded.sms_consent_id, "+old("sms_consent_id")+")",
		)
		if upd.PhoneAgeMonths != nil {
			add("phone_age_months", int64(*upd.PhoneAgeMonths))
			sets = append(sets, "phone_age_months = excluded.phone_age_months")
		}
		if upd.ActivityLevel != "" {
			add("activity_level", string(upd.ActivityLevel))
			sets = append(sets, "activity_level = excluded.activity_level")
		}

	default:
		return "", nil, eris.Errorf("store: unsupported stage %q", upd.Stage)
	}
	sets = append(sets, "updated_at = excluded.updated_at")

	ph := make([]string, len(args))
	for i := range args {
		ph[i] = d.placeholder(i + 1)
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (phone_number, user_id) DO UPDATE SET %s",
		stateTable,
		strings.Join(cols, ", "),
		strings.Join(ph, ", "),
		strings.Join(sets, ", "),
	)
	return query, args, nil
}
