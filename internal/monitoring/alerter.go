package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/saleslist/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertBudgetThreshold      AlertType = "budget_threshold"
	AlertBudgetExhausted      AlertType = "budget_exhausted"
	AlertStrategyInconsistent AlertType = "strategy_inconsistent"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a Snapshot against the budget ratio and sends alerts via
// webhook.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot and returns any alerts. An exhausted budget
// replaces the threshold alert.
func (a *Alerter) Evaluate(snap *Snapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	if u := snap.Usage; u != nil {
		switch {
		case !u.CanExecute:
			alerts = append(alerts, Alert{
				Type:     AlertBudgetExhausted,
				Severity: "high",
				Message: fmt.Sprintf(
					"Monthly enrichment budget exhausted: $%.2f of $%.2f, %d of %d calls",
					u.Used.Cost, u.Limits.MonthlyCost, u.Used.Calls, u.Limits.MonthlyCall,
				),
				Details: map[string]any{
					"cost":       u.Used.Cost,
					"calls":      u.Used.Calls,
					"cost_limit": u.Limits.MonthlyCost,
					"call_limit": u.Limits.MonthlyCall,
				},
				Timestamp: now,
			})
		case a.cfg.BudgetAlertRatio > 0 && (u.CostRatio >= a.cfg.BudgetAlertRatio || u.CallRatio >= a.cfg.BudgetAlertRatio):
			alerts = append(alerts, Alert{
				Type:     AlertBudgetThreshold,
				Severity: "medium",
				Message: fmt.Sprintf(
					"Monthly enrichment usage at %.1f%% of cost and %.1f%% of calls (threshold %.1f%%)",
					u.CostRatio*100, u.CallRatio*100, a.cfg.BudgetAlertRatio*100,
				),
				Details: map[string]any{
					"cost_ratio": u.CostRatio,
					"call_ratio": u.CallRatio,
					"threshold":  a.cfg.BudgetAlertRatio,
				},
				Timestamp: now,
			})
		}
	}

	if e := snap.Enrichment; e != nil {
		if n := len(e.FailedWithoutStrategy) + len(e.SucceededWithStrategy); n > 0 {
			alerts = append(alerts, Alert{
				Type:     AlertStrategyInconsistent,
				Severity: "low",
				Message: fmt.Sprintf(
					"%d failed companies without a retry strategy, %d succeeded companies with one",
					len(e.FailedWithoutStrategy), len(e.SucceededWithStrategy),
				),
				Details: map[string]any{
					"failed_without_strategy": e.FailedWithoutStrategy,
					"succeeded_with_strategy": e.SucceededWithStrategy,
				},
				Timestamp: now,
			})
		}
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
