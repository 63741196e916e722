package provider

import "context"

// SendRequestDetails carries one outbound message for one recipient.
// Exactly one of Message or MediaURL-driven content applies, selected by the
// calling code (text vs media send).
type SendRequestDetails struct {
	DeviceID string
	Target   string // recipient JID or phone number
	Message  string
	MediaURL string
	Caption  string
}

// SendResponseDetails is the transport's receipt for one send attempt.
type SendResponseDetails struct {
	ProviderMessageID string
	IsSuccess         bool
	ProviderStatus    string
	ErrorMessage      string
}

// MessageProvider is the boundary to the WhatsApp transport workers.
// Implementations deliver exactly one message per call; the gateway core
// never inspects transport internals.
type MessageProvider interface {
	SendText(ctx context.Context, details SendRequestDetails) (*SendResponseDetails, error)
	SendMedia(ctx context.Context, details SendRequestDetails) (*SendResponseDetails, error)
	GetName() string
}
