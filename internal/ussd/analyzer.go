// Package ussd reads mobile-money USSD screenshots: it recognizes the text,
// identifies the operator and screen, extracts account fields, estimates
// tampering, and decides whether the screenshot can certify identity data.
package ussd

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/phonetrust/internal/model"
	"github.com/sells-group/phonetrust/internal/momo"
	"github.com/sells-group/phonetrust/internal/namematch"
	"github.com/sells-group/phonetrust/internal/ocr"
)

// NameMatchThreshold is the minimum name-match score counted as a match.
const NameMatchThreshold = 85

// Analyzer evaluates screenshots using an OCR collaborator.
type Analyzer struct {
	recognizer ocr.Recognizer
	langHints  []string
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithLanguages sets the language hints passed to the recognizer.
func WithLanguages(langs ...string) Option {
	return func(a *Analyzer) { a.langHints = langs }
}

// NewAnalyzer creates an Analyzer backed by recognizer.
func NewAnalyzer(recognizer ocr.Recognizer, opts ...Option) *Analyzer {
	a := &Analyzer{recognizer: recognizer, langHints: []string{"fra", "eng"}}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Analyze recognizes the image and evaluates the text. When declaredName is
// non-empty and a name was extracted, the two are compared.
func (a *Analyzer) Analyze(ctx context.Context, image []byte, declaredName string) (*model.USSDScreenshotResult, error) {
	if a.recognizer == nil {
		return nil, eris.New("ussd: no recognizer configured")
	}
	start := time.Now()

	rec, err := a.recognizer.Recognize(ctx, image, a.langHints)
	if err != nil {
		return nil, eris.Wrap(err, "ussd: recognize screenshot")
	}

	res := AnalyzeText(rec.Text, rec.Confidence, declaredName)
	res.ProcessingTimeMs = time.Since(start).Milliseconds()

	zap.L().Debug("ussd: screenshot analyzed",
		zap.String("provider", string(res.Provider)),
		zap.String("screen_type", string(res.ScreenType)),
		zap.Float64("ocr_confidence", res.OCRConfidence),
		zap.Int("tampering", res.TamperingProbability),
		zap.Int64("elapsed_ms", res.ProcessingTimeMs),
	)
	return res, nil
}

// AnalyzeText evaluates already-recognized text. It is pure.
func AnalyzeText(text string, ocrConfidence float64, declaredName string) *model.USSDScreenshotResult {
	provider, providerHits := detectProvider(text)
	screen := detectScreenType(text)

	res := &model.USSDScreenshotResult{
		Provider:         provider,
		ScreenType:       screen,
		ExtractedName:    extractName(text),
		ExtractedPhone:   extractPhone(text),
		ExtractedBalance: extractBalance(text),
		AccountStatus:    extractStatus(text),
		OCRConfidence:    ocrConfidence,
		OCRText:          text,
	}
	res.TamperingProbability = tamperingProbability(text, res)
	res.UIAuthenticityScore = uiAuthenticity(text, providerHits)

	if res.ExtractedName != nil && strings.TrimSpace(declaredName) != "" {
		m := namematch.Match(*res.ExtractedName, declaredName)
		res.NameMatch = &model.NameMatchResult{
			CNIName:    declaredName,
			Score:      m.Score,
			Confidence: m.Confidence,
			IsMatch:    m.Score >= NameMatchThreshold,
			Details:    m.Details,
		}
	}
	return res
}

// DetectProvider returns the operator whose screens the text resembles.
func DetectProvider(text string) model.Provider {
	p, _ := detectProvider(text)
	return p
}

func detectProvider(text string) (model.Provider, int) {
	for _, rule := range providerRules {
		hits := 0
		for _, re := range rule.patterns {
			if re.MatchString(text) {
				hits++
			}
		}
		if hits > 0 {
			return rule.provider, hits
		}
	}
	return model.ProviderUnknown, 0
}

// DetectScreenType returns the screen type with the most indicator hits.
// Ties go to the earlier type in model.ScreenTypes.
func DetectScreenType(text string) model.ScreenType {
	return detectScreenType(text)
}

func detectScreenType(text string) model.ScreenType {
	best, bestHits := model.ScreenUnknown, 0
	for _, st := range model.ScreenTypes {
		hits := 0
		for _, re := range screenRules[st] {
			if re.MatchString(text) {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = st, hits
		}
	}
	return best
}

func extractName(text string) *string {
	for _, re := range namePatterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if name, ok := validName(m[1]); ok {
				return &name
			}
		}
	}

	// Some operators print family and given names on separate lines.
	family := namePatterns[0].FindStringSubmatch(text)
	given := givenNameRe.FindStringSubmatch(text)
	if family != nil && given != nil {
		if name, ok := validName(cleanName(given[1]) + " " + cleanName(family[1])); ok {
			return &name
		}
	}
	return nil
}

func cleanName(s string) string {
	s = strings.TrimFunc(s, func(r rune) bool {
		return unicode.IsSpace(r) || r == '-' || r == '\''
	})
	return strings.Join(strings.Fields(s), " ")
}

func validName(raw string) (string, bool) {
	name := cleanName(raw)
	n := len([]rune(name))
	if n < 3 || n > 50 || !strings.Contains(name, " ") {
		return "", false
	}
	return name, true
}

func extractPhone(text string) *string {
	for _, re := range phonePatterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if phone, ok := validPhone(m[1]); ok {
				return &phone
			}
		}
	}
	return nil
}

func validPhone(raw string) (string, bool) {
	var b strings.Builder
	for i, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	phone := b.String()
	digits := len(strings.TrimPrefix(phone, "+"))
	if digits < 8 || digits > 15 {
		return "", false
	}
	return phone, true
}

func extractBalance(text string) *float64 {
	for _, re := range balancePatterns {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if v, ok := momo.ParseAmount(m[1]); ok && v >= 0 {
				return &v
			}
		}
	}
	return nil
}

func extractStatus(text string) *string {
	if m := statusLabeledRe.FindStringSubmatch(text); m != nil {
		s := strings.ToLower(cleanName(m[1]))
		if s != "" {
			return &s
		}
	}
	if m := statusWordRe.FindStringSubmatch(text); m != nil {
		s := strings.ToLower(m[1])
		return &s
	}
	return nil
}

// tamperingProbability sums the edit heuristics, capped at 100.
func tamperingProbability(text string, res *model.USSDScreenshotResult) int {
	score := 0
	if res.OCRConfidence < 60 {
		score += 20
	}

	round := 0
	for _, tok := range amountTokenRe.FindAllString(text, -1) {
		v, ok := momo.ParseAmount(tok)
		if !ok || v <= 0 || v != float64(int64(v)) {
			continue
		}
		if int64(v)%10000 == 0 {
			round++
		}
	}
	if round > 2 {
		score += 10
	}

	if shoutingRe.MatchString(text) {
		score += 15
	}

	if res.ScreenType == model.ScreenProfile && res.ExtractedName == nil && res.ExtractedPhone == nil {
		score += 25
	}
	return min(score, 100)
}

// uiAuthenticity scores how much the text looks like a genuine operator
// screen, capped at 100.
func uiAuthenticity(text string, providerHits int) int {
	score := 50 + 10*providerHits
	if genericUIRe.MatchString(text) {
		score += 10
	}
	if timeDateRe.MatchString(text) {
		score += 5
	}
	if statusBarRe.MatchString(text) {
		score += 5
	}
	return min(score, 100)
}

// Certification thresholds.
const (
	CertifyMinScore       = 70
	maxTamperingToCertify = 50
	minOCRConfidence      = 50
)

// ValidateForCertification decides whether res can certify data. The
// screenshot is certifiable only with a score of at least CertifyMinScore and
// no rejection reasons.
func ValidateForCertification(res *model.USSDScreenshotResult) model.Certification {
	score := 0
	if res.OCRConfidence >= 70 {
		score += 20
	}
	if res.Provider != model.ProviderUnknown {
		score += 15
	}
	if res.ExtractedName != nil {
		score += 20
	}
	if res.ExtractedPhone != nil {
		score += 10
	}
	if res.TamperingProbability < 30 {
		score += 15
	}
	if res.UIAuthenticityScore >= 70 {
		score += 10
	}
	if res.NameMatch != nil && res.NameMatch.IsMatch {
		score += 30
	}
	score = min(score, 100)

	reasons := []string{}
	if res.TamperingProbability > maxTamperingToCertify {
		reasons = append(reasons, fmt.Sprintf("possible image tampering (probability %d%%)", res.TamperingProbability))
	}
	if res.NameMatch != nil && !res.NameMatch.IsMatch {
		reasons = append(reasons, fmt.Sprintf("name on screenshot does not match identity document (score %d)", res.NameMatch.Score))
	}
	if res.OCRConfidence < minOCRConfidence {
		reasons = append(reasons, fmt.Sprintf("screenshot too blurry to read reliably (OCR confidence %.0f%%)", res.OCRConfidence))
	}
	if score < CertifyMinScore {
		reasons = append(reasons, fmt.Sprintf("insufficient evidence on screenshot (score %d, %d required)", score, CertifyMinScore))
	}

	return model.Certification{
		CanCertify: len(reasons) == 0,
		Score:      score,
		Reasons:    reasons,
	}
}
