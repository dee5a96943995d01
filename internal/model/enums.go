package model

import "github.com/rotisserie/eris"

// Provider identifies a mobile-money operator.
type Provider string

const (
	ProviderOrangeMoney Provider = "orange_money"
	ProviderMTNMoMo     Provider = "mtn_momo"
	ProviderWave        Provider = "wave"
	ProviderMoov        Provider = "moov"
	ProviderUnknown     Provider = "unknown"
)

// Providers lists the known operators in detection order.
var Providers = []Provider{ProviderOrangeMoney, ProviderMTNMoMo, ProviderWave, ProviderMoov}

// ParseProvider maps a stored value to a Provider. Unrecognized values map to
// ProviderUnknown.
func ParseProvider(s string) Provider {
	for _, p := range Providers {
		if string(p) == s {
			return p
		}
	}
	return ProviderUnknown
}

// ScreenType classifies a USSD screenshot.
type ScreenType string

const (
	ScreenProfile ScreenType = "profile"
	ScreenBalance ScreenType = "balance"
	ScreenHistory ScreenType = "history"
	ScreenMenu    ScreenType = "menu"
	ScreenUnknown ScreenType = "unknown"
)

// ScreenTypes lists the known screen types in tie-break order.
var ScreenTypes = []ScreenType{ScreenProfile, ScreenBalance, ScreenHistory, ScreenMenu}

// Stage is one step of phone validation.
type Stage string

const (
	StageOTP      Stage = "otp"
	StageUSSD     Stage = "ussd"
	StageIdentity Stage = "identity"
	StageSMS      Stage = "sms"
	StageComplete Stage = "complete"
)

// Stages lists the validation stages in their fixed order.
var Stages = []Stage{StageOTP, StageUSSD, StageIdentity, StageSMS}

// TrustLevel is an ordered classification of the trust score.
type TrustLevel string

const (
	TrustUnverified TrustLevel = "unverified"
	TrustBasic      TrustLevel = "basic"
	TrustVerified   TrustLevel = "verified"
	TrustCertified  TrustLevel = "certified"
	TrustGold       TrustLevel = "gold"
)

// TrustLevels lists the levels from lowest to highest.
var TrustLevels = []TrustLevel{TrustUnverified, TrustBasic, TrustVerified, TrustCertified, TrustGold}

var trustRank = map[TrustLevel]int{
	TrustUnverified: 0,
	TrustBasic:      1,
	TrustVerified:   2,
	TrustCertified:  3,
	TrustGold:       4,
}

// Rank returns the ordinal of the level, -1 for unrecognized values.
func (l TrustLevel) Rank() int {
	r, ok := trustRank[l]
	if !ok {
		return -1
	}
	return r
}

// ParseTrustLevel validates a stored trust level.
func ParseTrustLevel(s string) (TrustLevel, error) {
	l := TrustLevel(s)
	if l.Rank() < 0 {
		return "", eris.Errorf("model: unknown trust level %q", s)
	}
	return l, nil
}

// ActivityLevel describes how actively a phone number transacts.
type ActivityLevel string

const (
	ActivityUnknown  ActivityLevel = "unknown"
	ActivityDormant  ActivityLevel = "dormant"
	ActivityLow      ActivityLevel = "low"
	ActivityMedium   ActivityLevel = "medium"
	ActivityHigh     ActivityLevel = "high"
	ActivityVeryHigh ActivityLevel = "very_high"
)

// ParseActivityLevel validates a stored activity level. Empty input yields
// ActivityUnknown.
func ParseActivityLevel(s string) (ActivityLevel, error) {
	switch a := ActivityLevel(s); a {
	case "":
		return ActivityUnknown, nil
	case ActivityUnknown, ActivityDormant, ActivityLow, ActivityMedium, ActivityHigh, ActivityVeryHigh:
		return a, nil
	default:
		return "", eris.Errorf("model: unknown activity level %q", s)
	}
}

// SourceType identifies where a data point came from.
type SourceType string

const (
	SourceDeclared        SourceType = "declared"
	SourceSMSParsed       SourceType = "sms_parsed"
	SourceScreenshotOCR   SourceType = "screenshot_ocr"
	SourceCrossValidated  SourceType = "cross_validated"
	SourceAPIVerified     SourceType = "api_verified"
	SourcePartnerFeedback SourceType = "partner_feedback"
)

// SourceTypes lists every source type with a certainty entry.
var SourceTypes = []SourceType{
	SourceDeclared,
	SourceSMSParsed,
	SourceScreenshotOCR,
	SourceCrossValidated,
	SourceAPIVerified,
	SourcePartnerFeedback,
}

// TransactionType is the direction of a mobile-money event.
type TransactionType string

const (
	TxCredit  TransactionType = "credit"
	TxDebit   TransactionType = "debit"
	TxBalance TransactionType = "balance"
	TxOther   TransactionType = "other"
)

// UtilityType is the kind of recurring bill.
type UtilityType string

const (
	UtilityElectricity UtilityType = "electricity"
	UtilityWater       UtilityType = "water"
	UtilityInternet    UtilityType = "internet"
	UtilityRent        UtilityType = "rent"
	UtilityOther       UtilityType = "other"
)

// PaymentStatus is the settlement state of a bill.
type PaymentStatus string

const (
	PaymentUnpaid     PaymentStatus = "unpaid"
	PaymentPaidOnTime PaymentStatus = "paid_on_time"
	PaymentPaidLate   PaymentStatus = "paid_late"
)

// Confidence is a coarse tier for name-match results.
type Confidence string

const (
	ConfidenceNone   Confidence = "none"
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// Severity grades a fraud flag.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)
