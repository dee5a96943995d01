// Package api exposes the phone validation stages over HTTP.
package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/phonetrust/internal/certainty"
	"github.com/sells-group/phonetrust/internal/model"
	"github.com/sells-group/phonetrust/internal/namematch"
	"github.com/sells-group/phonetrust/internal/scoring"
	"github.com/sells-group/phonetrust/internal/trust"
)

// UserHeader carries the caller's user id on every phone route.
const UserHeader = "X-User-ID"

// Service is the validator surface the handlers call.
type Service interface {
	GetOrCreate(ctx context.Context, phone, userID string) (*model.PhoneTrustState, error)
	Progress(ctx context.Context, phone, userID string) (model.ValidationProgress, error)
	MarkOTPVerified(ctx context.Context, phone, userID, token string) (*model.PhoneTrustState, error)
	MarkIdentityCrossValidated(ctx context.Context, phone, userID string, matchScore int) (*model.PhoneTrustState, error)
	ProcessUSSDScreenshot(ctx context.Context, phone, userID string, image []byte, declaredName string) (*trust.USSDOutcome, error)
	ProcessUSSDText(ctx context.Context, phone, userID, text string, ocrConfidence float64, declaredName string) (*trust.USSDOutcome, error)
	ProcessSMSHistory(ctx context.Context, phone, userID, consentID string, messages []model.SMSMessage) (*trust.SMSOutcome, error)
	RecalculateTrustScore(ctx context.Context, phone, userID string) (*model.PhoneTrustState, error)
}

// Handler serves the phone trust routes.
type Handler struct {
	svc       Service
	calc      *certainty.Calculator
	weights   map[string]float64
	maxUpload int64
}

// NewHandler creates a Handler. weights are the defaults for weighted-score
// requests that carry none; maxUploadBytes caps screenshot uploads.
func NewHandler(svc Service, calc *certainty.Calculator, weights map[string]float64, maxUploadBytes int64) *Handler {
	if calc == nil {
		calc = certainty.NewCalculator(nil)
	}
	if len(weights) == 0 {
		weights = scoring.DefaultWeights
	}
	if maxUploadBytes <= 0 || maxUploadBytes > trust.MaxImageBytes {
		maxUploadBytes = trust.MaxImageBytes
	}
	return &Handler{svc: svc, calc: calc, weights: weights, maxUpload: maxUploadBytes}
}

// Register mounts the phone and scoring routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Route("/v1/phones/{phone}", func(r chi.Router) {
		r.Use(requireUser)
		r.Get("/", h.handleState)
		r.Post("/otp", h.handleOTP)
		r.Post("/ussd", h.handleUSSD)
		r.Post("/identity", h.handleIdentity)
		r.Post("/sms", h.handleSMS)
		r.Get("/progress", h.handleProgress)
		r.Post("/score", h.handleScore)
	})
	r.Post("/v1/score/weighted", h.handleWeightedScore)
}

// stageResponse is returned by every stage route.
type stageResponse struct {
	State    *model.PhoneTrustState   `json:"state"`
	Progress model.ValidationProgress `json:"progress"`
	Warning  string                   `json:"warning,omitempty"`
}

const staleWarning = "stage recorded; trust score could not be recalculated"

// writeStage answers a stage write. A scorer failure still answers 200 with
// the stale state.
func writeStage(w http.ResponseWriter, r *http.Request, st *model.PhoneTrustState, err error, extra func(*stageResponse) any) {
	resp := stageResponse{State: st}
	if err != nil {
		if st == nil || !scoreStale(err) {
			writeError(w, r, err)
			return
		}
		resp.Warning = staleWarning
	}
	resp.Progress = trust.GetValidationProgress(st)
	if extra != nil {
		writeJSON(w, http.StatusOK, extra(&resp))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleState(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.GetOrCreate(r.Context(), chi.URLParam(r, "phone"), userID(r))
	writeStage(w, r, st, err, nil)
}

func (h *Handler) handleProgress(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Progress(r.Context(), chi.URLParam(r, "phone"), userID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// handleScore recalculates the trust score of an existing state. Unlike the
// stage routes, a scorer failure is the request failing.
func (h *Handler) handleScore(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.RecalculateTrustScore(r.Context(), chi.URLParam(r, "phone"), userID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeStage(w, r, st, nil, nil)
}

type otpRequest struct {
	Token string `json:"token"`
}

func (h *Handler) handleOTP(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if !decodeOptional(w, r, &req) {
		return
	}
	st, err := h.svc.MarkOTPVerified(r.Context(), chi.URLParam(r, "phone"), userID(r), req.Token)
	writeStage(w, r, st, err, nil)
}

type identityRequest struct {
	MatchScore  *int   `json:"match_score"`
	CNIName     string `json:"cni_name"`
	AccountName string `json:"account_name"`
}

// handleIdentity takes either a precomputed match score or the two names to
// compare.
func (h *Handler) handleIdentity(w http.ResponseWriter, r *http.Request) {
	var req identityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}

	var score int
	var match *namematch.Result
	switch {
	case req.MatchScore != nil:
		score = *req.MatchScore
	case strings.TrimSpace(req.CNIName) != "" && strings.TrimSpace(req.AccountName) != "":
		res := namematch.Match(req.CNIName, req.AccountName)
		match, score = &res, res.Score
	default:
		badRequest(w, "match_score or both cni_name and account_name are required")
		return
	}

	st, err := h.svc.MarkIdentityCrossValidated(r.Context(), chi.URLParam(r, "phone"), userID(r), score)
	writeStage(w, r, st, err, func(resp *stageResponse) any {
		return struct {
			*stageResponse
			NameMatch *namematch.Result `json:"name_match,omitempty"`
		}{resp, match}
	})
}

type ussdTextRequest struct {
	OCRText       string  `json:"ocr_text"`
	OCRConfidence float64 `json:"ocr_confidence"`
	DeclaredName  string  `json:"declared_name"`
}

// handleUSSD accepts a multipart upload with an "image" file part or a JSON
// body of already recognized text.
func (h *Handler) handleUSSD(w http.ResponseWriter, r *http.Request) {
	phone, user := chi.URLParam(r, "phone"), userID(r)

	var (
		out *trust.USSDOutcome
		err error
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		image, declared, ok := h.readUpload(w, r)
		if !ok {
			return
		}
		out, err = h.svc.ProcessUSSDScreenshot(r.Context(), phone, user, image, declared)
	} else {
		var req ussdTextRequest
		if derr := json.NewDecoder(r.Body).Decode(&req); derr != nil {
			badRequest(w, "invalid request body")
			return
		}
		out, err = h.svc.ProcessUSSDText(r.Context(), phone, user, req.OCRText, req.OCRConfidence, req.DeclaredName)
	}

	var st *model.PhoneTrustState
	if out != nil {
		st = out.State
	}
	writeStage(w, r, st, err, func(resp *stageResponse) any {
		return struct {
			*stageResponse
			Result        *model.USSDScreenshotResult `json:"result"`
			Certification model.Certification         `json:"certification"`
			AuditID       string                      `json:"audit_id"`
		}{resp, out.Result, out.Certification, out.AuditID}
	})
}

func (h *Handler) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+1<<20)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "upload too large or malformed"})
		return nil, "", false
	}
	f, hdr, err := r.FormFile("image")
	if err != nil {
		badRequest(w, "image part is required")
		return nil, "", false
	}
	defer f.Close() //nolint:errcheck
	if hdr.Size > h.maxUpload {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "image too large"})
		return nil, "", false
	}
	image, err := io.ReadAll(f)
	if err != nil {
		badRequest(w, "could not read image")
		return nil, "", false
	}
	return image, r.FormValue("declared_name"), true
}

type smsRequest struct {
	ConsentID string             `json:"consent_id"`
	Messages  []model.SMSMessage `json:"messages"`
}

func (h *Handler) handleSMS(w http.ResponseWriter, r *http.Request) {
	var req smsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	out, err := h.svc.ProcessSMSHistory(r.Context(), chi.URLParam(r, "phone"), userID(r), req.ConsentID, req.Messages)

	var st *model.PhoneTrustState
	if out != nil {
		st = out.State
	}
	writeStage(w, r, st, err, func(resp *stageResponse) any {
		return struct {
			*stageResponse
			Summary            model.TransactionSummary `json:"summary"`
			Stats              model.ProcessingStats    `json:"processing_stats"`
			TransactionsStored int                      `json:"transactions_stored"`
			BillsStored        int                      `json:"bills_stored"`
		}{resp, out.Extraction.Summary, out.Extraction.ProcessingStats, out.TransactionsStored, out.BillsStored}
	})
}

type dataPointRequest struct {
	FeatureID   string           `json:"feature_id"`
	FeatureName string           `json:"feature_name"`
	RawValue    float64          `json:"raw_value"`
	SourceType  model.SourceType `json:"source_type"`
	IsCertified bool             `json:"is_certified"`
}

type weightedRequest struct {
	DataPoints []dataPointRequest `json:"data_points"`
	Weights    map[string]float64 `json:"weights"`
}

type weightedResponse struct {
	model.WeightedScore
	DataPoints []model.CertifiedDataPoint `json:"data_points"`
	TrustLevel model.TrustLevel           `json:"trust_level"`
}

// handleWeightedScore applies certainty coefficients to caller-supplied
// feature values. It touches no state.
func (h *Handler) handleWeightedScore(w http.ResponseWriter, r *http.Request) {
	var req weightedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid request body")
		return
	}
	if len(req.DataPoints) == 0 {
		badRequest(w, "data_points is required")
		return
	}

	points := make([]model.CertifiedDataPoint, 0, len(req.DataPoints))
	for _, dp := range req.DataPoints {
		if dp.FeatureID == "" {
			badRequest(w, "every data point needs a feature_id")
			return
		}
		if dp.RawValue < 0 || dp.RawValue > 100 {
			badRequest(w, "raw_value must be within [0,100]")
			return
		}
		points = append(points, h.calc.DataPoint(r.Context(), dp.FeatureID, dp.FeatureName, dp.RawValue, dp.SourceType, dp.IsCertified))
	}

	weights := req.Weights
	if len(weights) == 0 {
		weights = h.weights
	}
	ws := certainty.WeightedScore(points, weights)
	writeJSON(w, http.StatusOK, weightedResponse{
		WeightedScore: ws,
		DataPoints:    points,
		TrustLevel:    certainty.TrustLevelFor(ws.CertifiedScore),
	})
}

// decodeOptional decodes a JSON body when one is present.
func decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || err == io.EOF {
		return true
	}
	badRequest(w, "invalid request body")
	return false
}
