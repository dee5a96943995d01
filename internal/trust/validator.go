// Package trust runs the four-stage phone validation: OTP, USSD screenshot,
// identity cross-validation and SMS consent. Each stage write is followed by
// a trust-score recalculation.
package trust

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/phonetrust/internal/certainty"
	"github.com/sells-group/phonetrust/internal/model"
	"github.com/sells-group/phonetrust/internal/scoring"
	"github.com/sells-group/phonetrust/internal/sms"
	"github.com/sells-group/phonetrust/internal/ussd"
)

// Store is the persistence the validator needs.
type Store interface {
	GetOrCreateState(ctx context.Context, phone, userID string) (*model.PhoneTrustState, error)
	GetState(ctx context.Context, phone, userID string) (*model.PhoneTrustState, error)
	ApplyStageUpdate(ctx context.Context, phone, userID string, upd model.StageUpdate) (*model.PhoneTrustState, error)
	UpdateScore(ctx context.Context, phone, userID string, score float64, level model.TrustLevel) (*model.PhoneTrustState, error)
	MarkScoreStale(ctx context.Context, phone, userID string) error
	AddFraudFlags(ctx context.Context, phone, userID string, flags ...model.FraudFlag) error
	CountUsersForPhone(ctx context.Context, phone string) (int, error)
	SetMultipleUsers(ctx context.Context, phone string) error
	InsertTransactions(ctx context.Context, phone, userID, consentID string, txs []model.ExtractedTransaction) (int, error)
	InsertUtilityBills(ctx context.Context, phone, userID, consentID string, bills []model.UtilityBill) (int, error)
	InsertScreenshotValidation(ctx context.Context, v *model.ScreenshotValidation) error
}

// ScreenshotAnalyzer evaluates a USSD screenshot.
type ScreenshotAnalyzer interface {
	Analyze(ctx context.Context, image []byte, declaredName string) (*model.USSDScreenshotResult, error)
}

// SMSExtractor turns an SMS history into transactions and bills.
type SMSExtractor interface {
	Extract(messages []model.SMSMessage) *model.ExtractionResult
}

// maxTamperingBeforeFlag is the tampering probability above which a
// screenshot raises a fraud flag.
const maxTamperingBeforeFlag = 50

// Validator drives the validation stages for (phone, user) pairs.
type Validator struct {
	store     Store
	analyzer  ScreenshotAnalyzer
	extractor SMSExtractor
	scorer    scoring.Scorer
	metrics   *Metrics
	locks     *keyLock
	now       func() time.Time
}

// Option configures a Validator.
type Option func(*Validator)

// WithClock overrides the clock used for stage timestamps and activity.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) { v.now = now }
}

// WithMetrics records validator activity.
func WithMetrics(m *Metrics) Option {
	return func(v *Validator) { v.metrics = m }
}

// NewValidator creates a Validator. A nil extractor selects the default SMS
// extractor; analyzer may be nil when screenshots are not processed.
func NewValidator(store Store, analyzer ScreenshotAnalyzer, extractor SMSExtractor, scorer scoring.Scorer, opts ...Option) *Validator {
	v := &Validator{
		store:     store,
		analyzer:  analyzer,
		extractor: extractor,
		scorer:    scorer,
		locks:     newKeyLock(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(v)
	}
	if v.extractor == nil {
		v.extractor = sms.NewExtractor(nil, sms.WithClock(v.now))
	}
	return v
}

// USSDOutcome is the result of processing one screenshot.
type USSDOutcome struct {
	State         *model.PhoneTrustState      `json:"state"`
	Result        *model.USSDScreenshotResult `json:"result"`
	Certification model.Certification         `json:"certification"`
	AuditID       string                      `json:"audit_id"`
}

// SMSOutcome is the result of processing an SMS history.
type SMSOutcome struct {
	State              *model.PhoneTrustState  `json:"state"`
	Extraction         *model.ExtractionResult `json:"extraction"`
	TransactionsStored int                     `json:"transactions_stored"`
	BillsStored        int                     `json:"bills_stored"`
}

// GetOrCreate returns the state for (phone, user), creating it at score 0.
func (v *Validator) GetOrCreate(ctx context.Context, phone, userID string) (*model.PhoneTrustState, error) {
	phone, userID, err := validateKey(phone, userID)
	if err != nil {
		return nil, err
	}
	unlock := v.locks.Lock(lockKey(phone, userID))
	defer unlock()

	st, err := v.store.GetOrCreateState(ctx, phone, userID)
	if err != nil {
		return nil, v.fail(CollaboratorStore, err)
	}
	if err := v.detectSharedPhone(ctx, st); err != nil {
		return nil, err
	}
	return v.reload(ctx, st)
}

// State returns the stored state without creating it.
func (v *Validator) State(ctx context.Context, phone, userID string) (*model.PhoneTrustState, error) {
	phone, userID, err := validateKey(phone, userID)
	if err != nil {
		return nil, err
	}
	st, err := v.store.GetState(ctx, phone, userID)
	if err != nil {
		return nil, v.fail(CollaboratorStore, err)
	}
	return st, nil
}

// Progress loads the state and projects its validation progress.
func (v *Validator) Progress(ctx context.Context, phone, userID string) (model.ValidationProgress, error) {
	st, err := v.State(ctx, phone, userID)
	if err != nil {
		return model.ValidationProgress{}, err
	}
	return GetValidationProgress(st), nil
}

// MarkOTPVerified completes the OTP stage. Repeats keep the first
// verification time.
func (v *Validator) MarkOTPVerified(ctx context.Context, phone, userID, token string) (*model.PhoneTrustState, error) {
	phone, userID, err := validateKey(phone, userID)
	if err != nil {
		return nil, err
	}
	unlock := v.locks.Lock(lockKey(phone, userID))
	defer unlock()

	st, err := v.apply(ctx, phone, userID, model.StageUpdate{Stage: model.StageOTP, OTPToken: strings.TrimSpace(token)})
	if err != nil {
		return nil, err
	}
	return v.finish(ctx, st, nil)
}

// MarkUSSDUploaded completes the USSD stage without a screenshot, for
// callers that evaluated it elsewhere.
func (v *Validator) MarkUSSDUploaded(ctx context.Context, phone, userID string, certified bool) (*model.PhoneTrustState, error) {
	phone, userID, err := validateKey(phone, userID)
	if err != nil {
		return nil, err
	}
	unlock := v.locks.Lock(lockKey(phone, userID))
	defer unlock()

	st, err := v.apply(ctx, phone, userID, model.StageUpdate{Stage: model.StageUSSD, USSDCertified: &certified})
	if err != nil {
		return nil, err
	}
	return v.finish(ctx, st, nil)
}

// MarkIdentityCrossValidated records a name-match score between the ID card
// and the mobile-money account. The stage completes when the score reaches
// ussd.NameMatchThreshold; the stored score never decreases.
func (v *Validator) MarkIdentityCrossValidated(ctx context.Context, phone, userID string, matchScore int) (*model.PhoneTrustState, error) {
	phone, userID, err := validateKey(phone, userID)
	if err != nil {
		return nil, err
	}
	if matchScore < 0 || matchScore > 100 {
		return nil, invalidf("trust: match score %d out of range [0,100]", matchScore)
	}
	unlock := v.locks.Lock(lockKey(phone, userID))
	defer unlock()

	st, err := v.apply(ctx, phone, userID, identityUpdate(matchScore))
	if err != nil {
		return nil, err
	}
	return v.finish(ctx, st, nil)
}

// MarkSMSConsentGiven completes the SMS stage with the caller's consent id.
func (v *Validator) MarkSMSConsentGiven(ctx context.Context, phone, userID, consentID string) (*model.PhoneTrustState, error) {
	phone, userID, err := validateKey(phone, userID)
	if err != nil {
		return nil, err
	}
	consentID = strings.TrimSpace(consentID)
	if consentID == "" {
		return nil, invalidf("trust: consent id is required")
	}
	unlock := v.locks.Lock(lockKey(phone, userID))
	defer unlock()

	st, err := v.apply(ctx, phone, userID, model.StageUpdate{Stage: model.StageSMS, SMSConsentID: consentID})
	if err != nil {
		return nil, err
	}
	return v.finish(ctx, st, nil)
}

// ProcessUSSDScreenshot analyzes a screenshot, writes an audit row without
// the image, completes the USSD stage and, when a declared name was
// compared, records the identity match. An OCR failure writes nothing.
func (v *Validator) ProcessUSSDScreenshot(ctx context.Context, phone, userID string, image []byte, declaredName string) (*USSDOutcome, error) {
	phone, userID, err := validateKey(phone, userID)
	if err != nil {
		return nil, err
	}
	if err := validateImage(image); err != nil {
		return nil, err
	}
	if v.analyzer == nil {
		return nil, v.fail(CollaboratorOCR, eris.New("trust: no screenshot analyzer configured"))
	}
	unlock := v.locks.Lock(lockKey(phone, userID))
	defer unlock()

	res, err := v.analyzer.Analyze(ctx, image, declaredName)
	if err != nil {
		return nil, v.fail(CollaboratorOCR, err)
	}
	return v.recordScreenshot(ctx, phone, userID, ImageHash(image), res)
}

// ProcessUSSDText is ProcessUSSDScreenshot for text already recognized by
// the client. The audit hash covers the text.
func (v *Validator) ProcessUSSDText(ctx context.Context, phone, userID, text string, ocrConfidence float64, declaredName string) (*USSDOutcome, error) {
	phone, userID, err := validateKey(phone, userID)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, invalidf("trust: screenshot text is empty")
	}
	if ocrConfidence < 0 || ocrConfidence > 100 {
		return nil, invalidf("trust: ocr confidence %.1f out of range [0,100]", ocrConfidence)
	}
	unlock := v.locks.Lock(lockKey(phone, userID))
	defer unlock()

	res := ussd.AnalyzeText(text, ocrConfidence, declaredName)
	return v.recordScreenshot(ctx, phone, userID, ImageHash([]byte(text)), res)
}

func (v *Validator) recordScreenshot(ctx context.Context, phone, userID, hash string, res *model.USSDScreenshotResult) (*USSDOutcome, error) {
	cert := ussd.ValidateForCertification(res)
	v.metrics.screenshot(cert.CanCertify)

	audit := &model.ScreenshotValidation{
		PhoneNumber:   phone,
		UserID:        userID,
		ImageHash:     hash,
		Result:        *res,
		Certification: cert,
		CreatedAt:     v.now(),
	}
	if err := v.store.InsertScreenshotValidation(ctx, audit); err != nil {
		return nil, v.fail(CollaboratorStore, err)
	}

	upd := model.StageUpdate{Stage: model.StageUSSD, USSDCertified: &cert.CanCertify}
	if res.NameMatch != nil {
		id := identityUpdate(res.NameMatch.Score)
		upd.IdentityMatchScore, upd.IdentityValidated = id.IdentityMatchScore, id.IdentityValidated
	}
	st, err := v.apply(ctx, phone, userID, upd)
	if err != nil {
		return nil, err
	}

	out := &USSDOutcome{Result: res, Certification: cert, AuditID: audit.ID}
	out.State, err = v.finish(ctx, st, v.screenshotFlags(phone, res))
	return out, err
}

// screenshotFlags raises fraud flags for a phone mismatch, likely tampering
// and a failed name match.
func (v *Validator) screenshotFlags(phone string, res *model.USSDScreenshotResult) []model.FraudFlag {
	now := v.now()
	var flags []model.FraudFlag
	if res.ExtractedPhone != nil && !samePhone(*res.ExtractedPhone, phone) {
		flags = append(flags, model.FraudFlag{
			Type:      model.FlagPhoneMismatch,
			Severity:  model.SeverityHigh,
			Detail:    "screenshot shows a different phone number",
			CreatedAt: now,
		})
	}
	if res.TamperingProbability > maxTamperingBeforeFlag {
		flags = append(flags, model.FraudFlag{
			Type:      model.FlagHighTampering,
			Severity:  model.SeverityHigh,
			Detail:    fmt.Sprintf("tampering probability %d%%", res.TamperingProbability),
			CreatedAt: now,
		})
	}
	if res.NameMatch != nil && !res.NameMatch.IsMatch {
		flags = append(flags, model.FraudFlag{
			Type:      model.FlagNameMismatch,
			Severity:  model.SeverityMedium,
			Detail:    fmt.Sprintf("name match score %d", res.NameMatch.Score),
			CreatedAt: now,
		})
	}
	return flags
}

// ProcessSMSHistory extracts transactions and utility bills, stores them
// tagged with consentID, completes the SMS stage and updates the phone age
// and activity level.
func (v *Validator) ProcessSMSHistory(ctx context.Context, phone, userID, consentID string, messages []model.SMSMessage) (*SMSOutcome, error) {
	phone, userID, err := validateKey(phone, userID)
	if err != nil {
		return nil, err
	}
	consentID = strings.TrimSpace(consentID)
	if consentID == "" {
		return nil, invalidf("trust: consent id is required")
	}
	if err := validateMessages(messages); err != nil {
		return nil, err
	}
	unlock := v.locks.Lock(lockKey(phone, userID))
	defer unlock()

	res := v.extractor.Extract(messages)
	out := &SMSOutcome{Extraction: res}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		n, err := v.store.InsertTransactions(gctx, phone, userID, consentID, res.Transactions)
		out.TransactionsStored = n
		return err
	})
	g.Go(func() error {
		n, err := v.store.InsertUtilityBills(gctx, phone, userID, consentID, res.UtilityBills)
		out.BillsStored = n
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, v.fail(CollaboratorStore, err)
	}

	activity := certainty.ActivityLevelFor(res.Summary.TransactionCount, res.Summary.LatestTransaction, v.now())
	st, err := v.apply(ctx, phone, userID, model.StageUpdate{
		Stage:          model.StageSMS,
		SMSConsentID:   consentID,
		PhoneAgeMonths: res.PhoneAgeMonths,
		ActivityLevel:  activity,
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("trust: sms history processed",
		zap.String("phone", MaskPhone(phone)),
		zap.Int("messages", res.ProcessingStats.TotalMessages),
		zap.Int("transactions", out.TransactionsStored),
		zap.Int("bills", out.BillsStored),
		zap.String("activity", string(activity)),
	)

	out.State, err = v.finish(ctx, st, nil)
	return out, err
}

// RecalculateTrustScore asks the scorer for a fresh score and stores it with
// its trust level.
func (v *Validator) RecalculateTrustScore(ctx context.Context, phone, userID string) (*model.PhoneTrustState, error) {
	phone, userID, err := validateKey(phone, userID)
	if err != nil {
		return nil, err
	}
	unlock := v.locks.Lock(lockKey(phone, userID))
	defer unlock()

	st, err := v.store.GetState(ctx, phone, userID)
	if err != nil {
		return nil, v.fail(CollaboratorStore, err)
	}
	return v.recalculate(ctx, st)
}

// apply persists one stage update as a single store write and returns the
// resulting state.
func (v *Validator) apply(ctx context.Context, phone, userID string, upd model.StageUpdate) (*model.PhoneTrustState, error) {
	upd.At = v.now()
	st, err := v.store.ApplyStageUpdate(ctx, phone, userID, upd)
	if err != nil {
		return nil, v.fail(CollaboratorStore, err)
	}

	stages := []model.Stage{upd.Stage}
	if upd.Stage != model.StageIdentity && upd.IdentityMatchScore != nil {
		stages = append(stages, model.StageIdentity)
	}
	for _, stage := range stages {
		if st.StageCompleted(stage) {
			v.metrics.stageCompleted(stage)
		}
		zap.L().Info("trust: stage recorded",
			zap.String("phone", MaskPhone(phone)),
			zap.String("stage", string(stage)),
			zap.Bool("completed", st.StageCompleted(stage)),
		)
	}
	return st, nil
}

// finish adds fraud flags, checks for a shared phone and recalculates the
// score.
func (v *Validator) finish(ctx context.Context, st *model.PhoneTrustState, flags []model.FraudFlag) (*model.PhoneTrustState, error) {
	if len(flags) > 0 {
		if err := v.store.AddFraudFlags(ctx, st.PhoneNumber, st.UserID, flags...); err != nil {
			return nil, v.fail(CollaboratorStore, err)
		}
		for _, f := range flags {
			zap.L().Warn("trust: fraud flag raised",
				zap.String("phone", MaskPhone(st.PhoneNumber)),
				zap.String("flag", f.Type),
				zap.String("severity", string(f.Severity)),
			)
		}
	}
	if err := v.detectSharedPhone(ctx, st); err != nil {
		return nil, err
	}
	return v.recalculate(ctx, st)
}

// detectSharedPhone marks every state of a phone held by more than one user.
func (v *Validator) detectSharedPhone(ctx context.Context, st *model.PhoneTrustState) error {
	if st.MultipleUsersDetected {
		return nil
	}
	n, err := v.store.CountUsersForPhone(ctx, st.PhoneNumber)
	if err != nil {
		return v.fail(CollaboratorStore, err)
	}
	if n < 2 {
		return nil
	}
	if err := v.store.SetMultipleUsers(ctx, st.PhoneNumber); err != nil {
		return v.fail(CollaboratorStore, err)
	}
	flag := model.FraudFlag{
		Type:      model.FlagMultipleUsers,
		Severity:  model.SeverityMedium,
		Detail:    fmt.Sprintf("%d users validated this phone", n),
		CreatedAt: v.now(),
	}
	if err := v.store.AddFraudFlags(ctx, st.PhoneNumber, st.UserID, flag); err != nil {
		return v.fail(CollaboratorStore, err)
	}
	zap.L().Warn("trust: phone shared by several users",
		zap.String("phone", MaskPhone(st.PhoneNumber)),
		zap.Int("users", n),
	)
	return nil
}

// recalculate stores a fresh score. When the scorer fails the stage writes
// stay, the state is marked stale and returned with the error.
func (v *Validator) recalculate(ctx context.Context, st *model.PhoneTrustState) (*model.PhoneTrustState, error) {
	log := zap.L().With(zap.String("phone", MaskPhone(st.PhoneNumber)))

	score, err := v.scorer.Score(ctx, st.PhoneNumber, st.UserID)
	if err != nil {
		cerr := v.fail(CollaboratorScorer, err)
		v.metrics.scoreStale()
		if merr := v.store.MarkScoreStale(ctx, st.PhoneNumber, st.UserID); merr != nil {
			log.Error("trust: mark score stale", zap.Error(merr))
		}
		stale, gerr := v.reload(ctx, st)
		if gerr != nil {
			stale = st
		}
		stale.ScoreStale = true
		log.Warn("trust: score left stale", zap.Error(err))
		return stale, cerr
	}

	level := certainty.TrustLevelFor(score)
	updated, err := v.store.UpdateScore(ctx, st.PhoneNumber, st.UserID, score, level)
	if err != nil {
		return nil, v.fail(CollaboratorStore, err)
	}
	log.Info("trust: score updated",
		zap.Float64("score", score),
		zap.String("level", string(level)),
	)
	return updated, nil
}

func (v *Validator) reload(ctx context.Context, st *model.PhoneTrustState) (*model.PhoneTrustState, error) {
	fresh, err := v.store.GetState(ctx, st.PhoneNumber, st.UserID)
	if err != nil {
		return nil, v.fail(CollaboratorStore, err)
	}
	return fresh, nil
}

// fail wraps a collaborator failure, counts it and logs it.
func (v *Validator) fail(collaborator string, err error) *CollaboratorError {
	cerr := collaboratorError(collaborator, err)
	v.metrics.collaboratorFailed(cerr)
	zap.L().Error("trust: collaborator failure",
		zap.String("collaborator", collaborator),
		zap.String("kind", string(cerr.Kind)),
		zap.Error(err),
	)
	return cerr
}

func identityUpdate(score int) model.StageUpdate {
	validated := score >= ussd.NameMatchThreshold
	return model.StageUpdate{
		Stage:              model.StageIdentity,
		IdentityMatchScore: &score,
		IdentityValidated:  &validated,
	}
}

func lockKey(phone, userID string) string {
	return phone + "|" + userID
}
