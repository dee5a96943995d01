package model

import "time"

// FraudFlag records a suspicious signal raised during validation.
type FraudFlag struct {
	Type      string    `json:"type"`
	Severity  Severity  `json:"severity"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Fraud flag types.
const (
	FlagPhoneMismatch = "ussd_phone_mismatch"
	FlagHighTampering = "ussd_tampering_suspected"
	FlagNameMismatch  = "identity_name_mismatch"
	FlagMultipleUsers = "multiple_users"
)

// PhoneTrustState is the validation record for one (phone, user) pair.
type PhoneTrustState struct {
	ID          string `json:"id"`
	PhoneNumber string `json:"phone_number"`
	UserID      string `json:"user_id"`

	OTPVerified   bool       `json:"otp_verified"`
	OTPVerifiedAt *time.Time `json:"otp_verified_at,omitempty"`
	OTPToken      string     `json:"otp_token,omitempty"`

	USSDUploaded   bool       `json:"ussd_uploaded"`
	USSDUploadedAt *time.Time `json:"ussd_uploaded_at,omitempty"`
	USSDCertified  bool       `json:"ussd_certified"`

	IdentityCrossValidated   bool       `json:"identity_cross_validated"`
	IdentityCrossValidatedAt *time.Time `json:"identity_cross_validated_at,omitempty"`
	IdentityMatchScore       *int       `json:"identity_match_score,omitempty"`

	SMSConsentGiven   bool       `json:"sms_consent_given"`
	SMSConsentGivenAt *time.Time `json:"sms_consent_given_at,omitempty"`
	SMSConsentID      string     `json:"sms_consent_id,omitempty"`

	TrustScore float64    `json:"trust_score"`
	TrustLevel TrustLevel `json:"trust_level"`
	ScoreStale bool       `json:"score_stale"`

	PhoneAgeMonths        *int          `json:"phone_age_months,omitempty"`
	ActivityLevel         ActivityLevel `json:"activity_level"`
	MultipleUsersDetected bool          `json:"multiple_users_detected"`
	FraudFlags            []FraudFlag   `json:"fraud_flags"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StageCompleted reports whether the given stage flag is set.
func (s *PhoneTrustState) StageCompleted(stage Stage) bool {
	switch stage {
	case StageOTP:
		return s.OTPVerified
	case StageUSSD:
		return s.USSDUploaded
	case StageIdentity:
		return s.IdentityCrossValidated
	case StageSMS:
		return s.SMSConsentGiven
	default:
		return false
	}
}

// ValidationProgress is a read-only projection of a PhoneTrustState.
type ValidationProgress struct {
	CompletedStages []Stage    `json:"completed_stages"`
	ProgressPercent int        `json:"progress_percent"`
	CurrentStage    Stage      `json:"current_stage"`
	NextAction      string     `json:"next_action"`
	TrustScore      float64    `json:"trust_score"`
	TrustLevel      TrustLevel `json:"trust_level"`
	ScoreStale      bool       `json:"score_stale"`
}

// StageUpdate carries the stage-specific fields written by a single mark
// operation. Nil pointers leave the stored column untouched.
type StageUpdate struct {
	Stage Stage

	OTPToken string

	USSDCertified *bool

	// Identity fields may also ride on a USSD update when the screenshot was
	// compared against a declared name.
	IdentityMatchScore *int
	IdentityValidated  *bool

	SMSConsentID   string
	PhoneAgeMonths *int
	ActivityLevel  ActivityLevel

	At time.Time
}
