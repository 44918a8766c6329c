package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/vantage-grc/reporting-pipeline/internal/automation"
	"github.com/vantage-grc/reporting-pipeline/internal/config"
)

// Notifier posts run outcomes to the webhooks configured on a rule.
// Delivery is best effort: a failed webhook is logged, never
// surfaced to the run.
type Notifier struct {
	client          *resty.Client
	escalationDelay time.Duration
	logger          *zap.Logger
}

func NewNotifier(cfg config.NotificationConfig, logger *zap.Logger) *Notifier {
	client := resty.New().
		SetTimeout(cfg.WebhookTimeout).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(cfg.RetryWait).
		SetHeader("Content-Type", "application/json")

	return &Notifier{
		client:          client,
		escalationDelay: cfg.EscalationDelay,
		logger:          logger,
	}
}

type executionEvent struct {
	RuleID      string     `json:"rule_id"`
	RuleName    string     `json:"rule_name"`
	ExecutionID string     `json:"execution_id"`
	Status      string     `json:"status"`
	InstanceID  *string    `json:"instance_id,omitempty"`
	Error       string     `json:"error,omitempty"`
	Recipients  []string   `json:"recipients,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
}

// NotifyExecution announces one execution outcome. The rule's
// notify_on list filters which statuses are announced; an empty list
// announces failures only. Failed runs additionally escalate after
// the configured delay when configured.
func (n *Notifier) NotifyExecution(ctx context.Context, rule *automation.Rule, record *automation.ExecutionRecord) {
	spec := automation.NotificationSpec(rule.Notification)

	if spec.WebhookURL != "" && n.shouldNotify(spec.NotifyOn, record.Status) {
		n.post(ctx, spec.WebhookURL, rule, record)
	}

	if record.Status == automation.ExecutionFailed && spec.EscalateOnFail && spec.EscalationURL != "" {
		if n.escalationDelay > 0 {
			time.AfterFunc(n.escalationDelay, func() {
				n.post(context.Background(), spec.EscalationURL, rule, record)
			})
			return
		}
		n.post(ctx, spec.EscalationURL, rule, record)
	}
}

func (n *Notifier) shouldNotify(notifyOn []string, status string) bool {
	if len(notifyOn) == 0 {
		return status == automation.ExecutionFailed
	}
	for _, wanted := range notifyOn {
		if wanted == status {
			return true
		}
	}
	return false
}

func (n *Notifier) post(ctx context.Context, url string, rule *automation.Rule, record *automation.ExecutionRecord) {
	spec := automation.NotificationSpec(rule.Notification)
	event := executionEvent{
		RuleID:      rule.ID,
		RuleName:    rule.Name,
		ExecutionID: record.ID,
		Status:      record.Status,
		InstanceID:  record.InstanceID,
		Error:       record.Error,
		Recipients:  spec.Recipients,
		StartedAt:   record.StartedAt,
		EndedAt:     record.EndedAt,
	}

	response, err := n.client.R().
		SetContext(ctx).
		SetBody(event).
		Post(url)
	if err != nil {
		n.logger.Warn("Webhook delivery failed",
			zap.String("rule_id", rule.ID),
			zap.String("url", url),
			zap.Error(err))
		return
	}
	if response.IsError() {
		n.logger.Warn("Webhook rejected",
			zap.String("rule_id", rule.ID),
			zap.String("url", url),
			zap.String("status", fmt.Sprintf("%d", response.StatusCode())))
		return
	}

	n.logger.Debug("Webhook delivered",
		zap.String("rule_id", rule.ID),
		zap.String("execution_id", record.ID))
}
