package channel

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"guardian-monitor/internal/models"
)

// smsRequest is the gateway's send payload.
type smsRequest struct {
	To      string `json:"to"`
	Message string `json:"message"`
	Ref     string `json:"ref"`
}

type smsResponse struct {
	Status int    `json:"status"`
	Msg    string `json:"msg"`
}

// SMS sends stakeholder notifications through an HTTP SMS gateway.
// Retries are handled by the escalation engine, not here; the resty
// client is used for timeouts and encoding only.
type SMS struct {
	httpClient *resty.Client
	logger     *zap.Logger
}

func NewSMS(gatewayURL, token string, logger *zap.Logger) *SMS {
	client := resty.New().
		SetBaseURL(gatewayURL).
		SetTimeout(10 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if token != "" {
		client.SetAuthToken(token)
	}
	return &SMS{httpClient: client, logger: logger}
}

func (s *SMS) Name() string { return "sms" }

func (s *SMS) Send(ctx context.Context, contact models.StakeholderContact, msg Message) error {
	req := smsRequest{
		To:      contact.Address,
		Message: msg.Body,
		Ref:     msg.EventID,
	}

	var result smsResponse
	resp, err := s.httpClient.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&result).
		Post("/messages")
	if err != nil {
		return fmt.Errorf("failed to reach SMS gateway: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("SMS gateway returned %d for contact %s", resp.StatusCode(), contact.ID)
	}
	if result.Status != 0 {
		return fmt.Errorf("SMS gateway rejected message: %s", result.Msg)
	}

	s.logger.Info("SMS sent",
		zap.String("contact_id", contact.ID),
		zap.String("session_id", msg.SessionID),
		zap.Int("tier", msg.Tier))
	return nil
}
