package channel

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"guardian-monitor/internal/models"
)

// webhookPayload is sent to emergency dispatch endpoints. The contact
// address overrides the default URL when set, so a roster can fan out to
// multiple dispatch services.
type webhookPayload struct {
	EventID     string    `json:"event_id"`
	SessionID   string    `json:"session_id"`
	EpisodeID   string    `json:"episode_id"`
	State       string    `json:"state"`
	AlarmLevel  string    `json:"alarm_level"`
	Tier        int       `json:"tier"`
	Body        string    `json:"body"`
	TriggeredAt time.Time `json:"triggered_at"`
	Resolved    bool      `json:"resolved"`
}

// Webhook posts alert events to an emergency dispatch endpoint.
type Webhook struct {
	httpClient *resty.Client
	defaultURL string
	logger     *zap.Logger
}

func NewWebhook(defaultURL, token string, logger *zap.Logger) *Webhook {
	client := resty.New().
		SetTimeout(10 * time.Second).
		SetHeader("Content-Type", "application/json")
	if token != "" {
		client.SetAuthToken(token)
	}
	return &Webhook{httpClient: client, defaultURL: defaultURL, logger: logger}
}

func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) Send(ctx context.Context, contact models.StakeholderContact, msg Message) error {
	url := contact.Address
	if url == "" {
		url = w.defaultURL
	}
	if url == "" {
		return fmt.Errorf("no webhook URL configured for contact %s", contact.ID)
	}

	payload := webhookPayload{
		EventID:     msg.EventID,
		SessionID:   msg.SessionID,
		EpisodeID:   msg.EpisodeID,
		State:       string(msg.State),
		AlarmLevel:  msg.AlarmLevel,
		Tier:        msg.Tier,
		Body:        msg.Body,
		TriggeredAt: msg.TriggeredAt,
		Resolved:    msg.Resolved,
	}

	resp, err := w.httpClient.R().
		SetContext(ctx).
		SetBody(payload).
		Post(url)
	if err != nil {
		return fmt.Errorf("failed to reach webhook endpoint: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook endpoint returned %d for contact %s", resp.StatusCode(), contact.ID)
	}

	w.logger.Info("webhook delivered",
		zap.String("contact_id", contact.ID),
		zap.String("session_id", msg.SessionID),
		zap.Int("tier", msg.Tier))
	return nil
}
