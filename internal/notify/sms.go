// Package notify delivers completion notices outside the CRM: a staff SMS via
// Twilio and a JSON webhook for automation tools.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// Error variables for notifier configuration.
var (
	ErrCredentialsNotSet = errors.New("account SID and auth token must be provided")
	ErrFromNotSet        = errors.New("from number must be provided")
)

// SMSSender sends a text message.
type SMSSender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// messageCreator is the slice of the Twilio API used here.
type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// Opts holds configuration options for the Twilio client.
type Opts struct {
	AccountSID string
	AuthToken  string
	From       string
}

// Option defines a configuration option for the Twilio client.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFrom sets the sending phone number in E.164 format.
func WithFrom(from string) Option {
	return func(o *Opts) { o.From = from }
}

// TwilioClient sends SMS through the Twilio REST API.
type TwilioClient struct {
	api  messageCreator
	from string
}

var _ SMSSender = (*TwilioClient)(nil)

// NewTwilioClient creates a Twilio SMS client.
func NewTwilioClient(opts ...Option) (*TwilioClient, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("Twilio client config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"From_set", cfg.From != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, ErrCredentialsNotSet
	}
	if cfg.From == "" {
		return nil, ErrFromNotSet
	}
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &TwilioClient{api: client.Api, from: cfg.From}, nil
}

// SendMessage sends an SMS. The Twilio SDK call does not take a context.
func (c *TwilioClient) SendMessage(ctx context.Context, to string, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(c.from)
	params.SetBody(body)

	msg, err := c.api.CreateMessage(params)
	if err != nil {
		slog.Error("Twilio SendMessage failed", "to", to, "error", err)
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	sid := ""
	if msg != nil && msg.Sid != nil {
		sid = *msg.Sid
	}
	slog.Debug("Twilio message sent", "to", to, "sid", sid)
	return nil
}

// SentMessage is a message captured by MockSender.
type SentMessage struct {
	To   string
	Body string
}

// MockSender records messages instead of sending them.
type MockSender struct {
	mu           sync.Mutex
	SentMessages []SentMessage
	Err          error
}

var _ SMSSender = (*MockSender)(nil)

// NewMockSender creates an empty MockSender.
func NewMockSender() *MockSender {
	return &MockSender{SentMessages: []SentMessage{}}
}

func (m *MockSender) SendMessage(ctx context.Context, to string, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.SentMessages = append(m.SentMessages, SentMessage{To: to, Body: body})
	return nil
}

// Sent returns a copy of the captured messages.
func (m *MockSender) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.SentMessages...)
}
