// ABOUTME: Outbound delivery of text replies to the messaging provider
// ABOUTME: Defines the Sender interface, an HTTP Graph-style sender and a log-only sender

package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// bodyExcerptLimit bounds how much of an error response is kept.
const bodyExcerptLimit = 512

// Sender delivers a text reply and returns the provider's delivery id.
type Sender interface {
	SendText(ctx context.Context, channelID, to, text string) (string, error)
}

// Error is a failed delivery. StatusCode is zero when no response arrived.
type Error struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.StatusCode == 0:
		return fmt.Sprintf("delivery failed: %v", e.Err)
	case e.Err != nil:
		return fmt.Sprintf("delivery failed: status=%d: %v", e.StatusCode, e.Err)
	default:
		return fmt.Sprintf("delivery failed: status=%d body=%q", e.StatusCode, e.Body)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPOptions configure an HTTPSender.
type HTTPOptions struct {
	BaseURL string
	Token   string
	Timeout time.Duration // client timeout, default 10s
	Client  *http.Client  // optional, overrides Timeout
}

// HTTPSender posts Graph API style messages to {BaseURL}/{channelID}/messages.
type HTTPSender struct {
	baseURL string
	token   string
	client  *http.Client
	logger  *slog.Logger
}

// NewHTTPSender creates an HTTPSender.
func NewHTTPSender(opts HTTPOptions, logger *slog.Logger) *HTTPSender {
	if logger == nil {
		logger = slog.Default()
	}
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPSender{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		token:   opts.Token,
		client:  client,
		logger:  logger.With("component", "delivery"),
	}
}

type textBody struct {
	Body string `json:"body"`
}

type sendRequest struct {
	MessagingProduct string   `json:"messaging_product"`
	RecipientType    string   `json:"recipient_type"`
	To               string   `json:"to"`
	Type             string   `json:"type"`
	Text             textBody `json:"text"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// SendText posts one text message and returns messages[0].id from the response.
func (s *HTTPSender) SendText(ctx context.Context, channelID, to, text string) (string, error) {
	payload, err := json.Marshal(sendRequest{
		MessagingProduct: "whatsapp",
		RecipientType:    "individual",
		To:               to,
		Type:             "text",
		Text:             textBody{Body: text},
	})
	if err != nil {
		return "", &Error{Err: fmt.Errorf("encoding request: %w", err)}
	}

	endpoint := fmt.Sprintf("%s/%s/messages", s.baseURL, channelID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", &Error{Err: fmt.Errorf("building request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	res, err := s.client.Do(req)
	if err != nil {
		return "", &Error{Err: err}
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 64*1024))
	if err != nil {
		return "", &Error{StatusCode: res.StatusCode, Err: fmt.Errorf("reading response: %w", err)}
	}
	if res.StatusCode < http.StatusOK || res.StatusCode >= http.StatusMultipleChoices {
		return "", &Error{StatusCode: res.StatusCode, Body: excerpt(body)}
	}

	var parsed sendResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", &Error{StatusCode: res.StatusCode, Body: excerpt(body), Err: fmt.Errorf("decoding response: %w", err)}
	}
	if len(parsed.Messages) == 0 || parsed.Messages[0].ID == "" {
		return "", &Error{StatusCode: res.StatusCode, Body: excerpt(body), Err: fmt.Errorf("response carries no message id")}
	}

	s.logger.Debug("reply delivered", "channel_id", channelID, "to", to, "delivery_id", parsed.Messages[0].ID)
	return parsed.Messages[0].ID, nil
}

func excerpt(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > bodyExcerptLimit {
		s = s[:bodyExcerptLimit] + "..."
	}
	return s
}

// LogSender logs replies instead of sending them. Used when no provider token is configured.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender creates a LogSender.
func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger.With("component", "delivery")}
}

// SendText logs the reply and returns a generated delivery id.
func (s *LogSender) SendText(ctx context.Context, channelID, to, text string) (string, error) {
	id := "log-" + uuid.NewString()
	s.logger.Info("reply not sent, no provider configured",
		"channel_id", channelID,
		"to", to,
		"text", text,
		"delivery_id", id,
	)
	return id, nil
}
