package provider

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// MockProvider is a test implementation of MessageProvider.
type MockProvider struct {
	logger         *slog.Logger
	FailSend       bool          // Control whether sends should simulate failure
	SimulatedDelay time.Duration // To simulate network latency
}

// NewMockProvider creates a new MockProvider.
func NewMockProvider(logger *slog.Logger, failSend bool, delay time.Duration) *MockProvider {
	return &MockProvider{
		logger:         logger.With("provider", "mock"),
		FailSend:       failSend,
		SimulatedDelay: delay,
	}
}

func (p *MockProvider) SendText(ctx context.Context, details SendRequestDetails) (*SendResponseDetails, error) {
	return p.send(ctx, details)
}

func (p *MockProvider) SendMedia(ctx context.Context, details SendRequestDetails) (*SendResponseDetails, error) {
	return p.send(ctx, details)
}

func (p *MockProvider) send(ctx context.Context, details SendRequestDetails) (*SendResponseDetails, error) {
	p.logger.InfoContext(ctx, "MockProvider: send called",
		"device_id", details.DeviceID,
		"target", details.Target,
		"content_length", len(details.Message))

	if p.SimulatedDelay > 0 {
		select {
		case <-time.After(p.SimulatedDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if p.FailSend {
		errMsg := "mock provider simulated send failure"
		p.logger.WarnContext(ctx, errMsg, "target", details.Target)
		return &SendResponseDetails{
			IsSuccess:      false,
			ProviderStatus: "FAILED_MOCK",
			ErrorMessage:   errMsg,
		}, errors.New(errMsg)
	}

	providerMsgID := "mock-" + uuid.NewString()
	return &SendResponseDetails{
		ProviderMessageID: providerMsgID,
		IsSuccess:         true,
		ProviderStatus:    "SENT_MOCK_OK",
	}, nil
}

func (p *MockProvider) GetName() string {
	return "MockProvider"
}
