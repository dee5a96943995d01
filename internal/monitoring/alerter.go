package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/phonetrust/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertStaleScores   AlertType = "stale_scores"
	AlertRejectionRate AlertType = "screenshot_rejection_rate"
	AlertCircuitOpen   AlertType = "circuit_open"
)

// minScreenshotsForRate keeps a handful of uploads from tripping the
// rejection-rate alert.
const minScreenshotsForRate = 10

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and posts alerts to an operator webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitorConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitorConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	if a.cfg.StaleAlertLimit > 0 && snap.StaleScores > a.cfg.StaleAlertLimit {
		alerts = append(alerts, Alert{
			Type:     AlertStaleScores,
			Severity: "medium",
			Message: fmt.Sprintf("%d trust scores are stale (limit %d)",
				snap.StaleScores, a.cfg.StaleAlertLimit),
			Details: map[string]any{
				"stale_scores": snap.StaleScores,
				"limit":        a.cfg.StaleAlertLimit,
				"states_total": snap.StatesTotal,
			},
			Timestamp: now,
		})
	}

	if a.cfg.RejectionRateThreshold > 0 && snap.Screenshots >= minScreenshotsForRate &&
		snap.RejectionRate > a.cfg.RejectionRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertRejectionRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Screenshot rejection rate %.1f%% exceeds threshold %.1f%% (%d of %d rejected in last %dh)",
				snap.RejectionRate*100, a.cfg.RejectionRateThreshold*100,
				snap.Screenshots-snap.ScreenshotsCertified, snap.Screenshots, snap.LookbackHours,
			),
			Details: map[string]any{
				"rejection_rate": snap.RejectionRate,
				"threshold":      a.cfg.RejectionRateThreshold,
				"screenshots":    snap.Screenshots,
			},
			Timestamp: now,
		})
	}

	names := make([]string, 0, len(snap.Breakers))
	for name := range snap.Breakers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if snap.Breakers[name] != "open" {
			continue
		}
		alerts = append(alerts, Alert{
			Type:      AlertCircuitOpen,
			Severity:  "high",
			Message:   fmt.Sprintf("Circuit breaker for %s is open", name),
			Details:   map[string]any{"collaborator": name},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
