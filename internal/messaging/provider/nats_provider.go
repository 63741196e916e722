package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/waservices/gateway/internal/platform/messagebroker"
)

// natsSendRequest is the JSON payload published to the transport workers.
type natsSendRequest struct {
	DeviceID string `json:"device_id"`
	Target   string `json:"target"`
	Message  string `json:"message,omitempty"`
	MediaURL string `json:"media_url,omitempty"`
	Caption  string `json:"caption,omitempty"`
}

// natsSendReply is the JSON reply from the transport workers.
type natsSendReply struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
}

// NATSProvider delivers messages over NATS request/reply to the WhatsApp
// transport workers that own the live sessions.
type NATSProvider struct {
	natsClient   *messagebroker.NatsClient
	textSubject  string
	mediaSubject string
	timeout      time.Duration
	logger       *slog.Logger
}

func NewNATSProvider(natsClient *messagebroker.NatsClient, textSubject, mediaSubject string, timeout time.Duration, logger *slog.Logger) *NATSProvider {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &NATSProvider{
		natsClient:   natsClient,
		textSubject:  textSubject,
		mediaSubject: mediaSubject,
		timeout:      timeout,
		logger:       logger.With("provider", "nats"),
	}
}

func (p *NATSProvider) SendText(ctx context.Context, details SendRequestDetails) (*SendResponseDetails, error) {
	return p.request(ctx, p.textSubject, details)
}

func (p *NATSProvider) SendMedia(ctx context.Context, details SendRequestDetails) (*SendResponseDetails, error) {
	return p.request(ctx, p.mediaSubject, details)
}

func (p *NATSProvider) request(ctx context.Context, subject string, details SendRequestDetails) (*SendResponseDetails, error) {
	payload, err := json.Marshal(natsSendRequest{
		DeviceID: details.DeviceID,
		Target:   details.Target,
		Message:  details.Message,
		MediaURL: details.MediaURL,
		Caption:  details.Caption,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal send request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	msg, err := p.natsClient.Request(reqCtx, subject, payload)
	if err != nil {
		p.logger.WarnContext(ctx, "Transport request failed", "subject", subject, "target", details.Target, "error", err)
		return nil, err
	}

	var reply natsSendReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return nil, fmt.Errorf("failed to unmarshal transport reply: %w", err)
	}

	if reply.Error != "" {
		p.logger.WarnContext(ctx, "Transport rejected send", "subject", subject, "target", details.Target, "provider_status", reply.Status, "error", reply.Error)
		return &SendResponseDetails{
			IsSuccess:      false,
			ProviderStatus: reply.Status,
			ErrorMessage:   reply.Error,
		}, fmt.Errorf("transport send failed: %s", reply.Error)
	}

	return &SendResponseDetails{
		ProviderMessageID: reply.MessageID,
		IsSuccess:         true,
		ProviderStatus:    reply.Status,
	}, nil
}

func (p *NATSProvider) GetName() string {
	return "NATSProvider"
}
