package scoring

import (
	"context"
	"math"

	"github.com/rotisserie/eris"

	"github.com/sells-group/phonetrust/internal/certainty"
	"github.com/sells-group/phonetrust/internal/model"
)

// Feature ids used as weight keys.
const (
	FeatureOTPVerified   = "otp_verified"
	FeatureUSSDCertified = "ussd_certified"
	FeatureIdentityMatch = "identity_match"
	FeatureSMSActivity   = "sms_activity"
	FeaturePhoneAge      = "phone_age"
	FeatureFraudFree     = "fraud_free"
)

// DefaultWeights mirrors the scoring.weights config default.
var DefaultWeights = map[string]float64{
	FeatureOTPVerified:   15,
	FeatureUSSDCertified: 20,
	FeatureIdentityMatch: 25,
	FeatureSMSActivity:   20,
	FeaturePhoneAge:      10,
	FeatureFraudFree:     10,
}

// matureAgeMonths is the phone age that earns the full phone_age value.
const matureAgeMonths = 24

var activityValues = map[model.ActivityLevel]float64{
	model.ActivityUnknown:  0,
	model.ActivityDormant:  10,
	model.ActivityLow:      30,
	model.ActivityMedium:   60,
	model.ActivityHigh:     85,
	model.ActivityVeryHigh: 100,
}

// Local scores a state in-process by folding its stage evidence through the
// certainty calculator.
type Local struct {
	states  StateReader
	calc    *certainty.Calculator
	weights map[string]float64
}

// NewLocal creates a Local scorer. Empty weights fall back to DefaultWeights.
func NewLocal(states StateReader, calc *certainty.Calculator, weights map[string]float64) *Local {
	if len(weights) == 0 {
		weights = DefaultWeights
	}
	if calc == nil {
		calc = certainty.NewCalculator(nil)
	}
	return &Local{states: states, calc: calc, weights: weights}
}

// Score reads the state back and returns its certified weighted score.
func (l *Local) Score(ctx context.Context, phone, userID string) (float64, error) {
	if l.states == nil {
		return 0, eris.New("scoring: local scorer has no state reader")
	}
	st, err := l.states.GetState(ctx, phone, userID)
	if err != nil {
		return 0, eris.Wrap(err, "scoring: load state")
	}
	ws := l.Evaluate(ctx, st)
	return math.Round(clamp(ws.CertifiedScore)*100) / 100, nil
}

// Evaluate returns the full weighted breakdown for a state.
func (l *Local) Evaluate(ctx context.Context, st *model.PhoneTrustState) model.WeightedScore {
	return certainty.WeightedScore(l.DataPoints(ctx, st), l.weights)
}

// DataPoints converts a state into certified data points, one per feature.
func (l *Local) DataPoints(ctx context.Context, st *model.PhoneTrustState) []model.CertifiedDataPoint {
	proofs := Proofs(st)
	point := func(id, name string, raw float64, source model.SourceType) model.CertifiedDataPoint {
		check := l.calc.CheckCertification(ctx, source, proofs)
		p := l.calc.DataPoint(ctx, id, name, raw, source, check.IsCertified)
		if len(check.MissingRequirements) > 0 {
			p.CertificationDetails = map[string]any{"missing_requirements": check.MissingRequirements}
		}
		return p
	}

	var ussd float64
	switch {
	case st.USSDCertified:
		ussd = 100
	case st.USSDUploaded:
		ussd = 50
	}

	var identity float64
	if st.IdentityMatchScore != nil {
		identity = float64(*st.IdentityMatchScore)
	}

	var age float64
	if st.PhoneAgeMonths != nil {
		age = math.Min(float64(*st.PhoneAgeMonths), matureAgeMonths) / matureAgeMonths * 100
	}

	return []model.CertifiedDataPoint{
		point(FeatureOTPVerified, "Phone ownership (OTP)", boolValue(st.OTPVerified), model.SourceDeclared),
		point(FeatureUSSDCertified, "USSD screenshot", ussd, model.SourceScreenshotOCR),
		point(FeatureIdentityMatch, "Identity name match", identity, model.SourceCrossValidated),
		point(FeatureSMSActivity, "Mobile money activity", activityValues[st.ActivityLevel], model.SourceSMSParsed),
		point(FeaturePhoneAge, "Phone age", age, model.SourceSMSParsed),
		point(FeatureFraudFree, "Absence of fraud signals", fraudFree(st), model.SourceCrossValidated),
	}
}

// Proofs lists the certification proofs a state has earned.
func Proofs(st *model.PhoneTrustState) []string {
	var proofs []string
	if st.OTPVerified {
		proofs = append(proofs, certainty.ProofOTPVerified)
	}
	if st.SMSConsentGiven {
		proofs = append(proofs, certainty.ProofSMSConsent)
	}
	if st.USSDCertified {
		proofs = append(proofs, certainty.ProofOCRConfidence70, certainty.ProofNameMatch, certainty.ProofLowTampering)
	}
	if st.IdentityCrossValidated {
		proofs = append(proofs, certainty.ProofCNIMatch)
		if st.USSDUploaded {
			proofs = append(proofs, certainty.ProofUSSDMatch)
		}
	}
	return proofs
}

// fraudFree starts at 100 and loses 50 per high flag, 25 per other flag and
// 50 when several users share the phone. The multiple_users flag is counted
// through MultipleUsersDetected only.
func fraudFree(st *model.PhoneTrustState) float64 {
	v := 100.0
	for _, f := range st.FraudFlags {
		switch {
		case f.Type == model.FlagMultipleUsers:
			continue
		case f.Severity == model.SeverityHigh:
			v -= 50
		default:
			v -= 25
		}
	}
	if st.MultipleUsersDetected {
		v -= 50
	}
	return math.Max(v, 0)
}

func boolValue(b bool) float64 {
	if b {
		return 100
	}
	return 0
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}
