// Package whatsapp is the outbound adapter for the WhatsApp Cloud API. It
// implements the services.Sender port: texts, approved templates, and media
// by link. Delivery-status callbacks arrive through the webhook handler, not
// through this client.
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ordermesh/go-whatsapp-backend/internal/domain"
	"github.com/ordermesh/go-whatsapp-backend/internal/services"
)

const (
	defaultBaseURL          = "https://graph.facebook.com/v19.0"
	defaultTimeout          = 10 * time.Second
	defaultTemplateLanguage = "en"
)

// Config controls how the Cloud API client behaves.
type Config struct {
	// BaseURL is the Graph API root; override it to point tests at a stub.
	BaseURL string
	// PhoneNumberID is the business phone-number resource id sends go through.
	PhoneNumberID string
	// AccessToken is the bearer token of the system user.
	AccessToken string
	// TemplateLanguage is the language code sent with template messages.
	TemplateLanguage string

	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// Client calls the Cloud API messages endpoint.
type Client struct {
	baseURL       string
	phoneNumberID string
	token         string
	templateLang  string
	httpc         *http.Client
	log           zerolog.Logger
}

var _ services.Sender = (*Client)(nil)

// New creates a configured Client with sane defaults.
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.PhoneNumberID) == "" {
		return nil, errors.New("whatsapp: phone number id is required")
	}
	if strings.TrimSpace(cfg.AccessToken) == "" {
		return nil, errors.New("whatsapp: access token is required")
	}
	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")
	lang := strings.TrimSpace(cfg.TemplateLanguage)
	if lang == "" {
		lang = defaultTemplateLanguage
	}
	httpc := cfg.HTTPClient
	if httpc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpc = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:       baseURL,
		phoneNumberID: cfg.PhoneNumberID,
		token:         cfg.AccessToken,
		templateLang:  lang,
		httpc:         httpc,
		log:           cfg.Logger,
	}, nil
}

// SendText sends a plain text message.
func (c *Client) SendText(ctx context.Context, to, body string) (*services.SendResult, error) {
	return c.send(ctx, sendPayload{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "text",
		Text:             &textPayload{Body: body},
	})
}

// SendTemplate sends an approved template with positional body parameters.
func (c *Client) SendTemplate(ctx context.Context, to, name string, params []string) (*services.SendResult, error) {
	tpl := &templatePayload{
		Name:     name,
		Language: templateLanguage{Code: c.templateLang},
	}
	if len(params) > 0 {
		comp := templateComponent{Type: "body"}
		for _, p := range params {
			comp.Parameters = append(comp.Parameters, templateParameter{Type: "text", Text: p})
		}
		tpl.Components = []templateComponent{comp}
	}
	return c.send(ctx, sendPayload{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "template",
		Template:         tpl,
	})
}

// SendMedia sends a media message by public link.
func (c *Client) SendMedia(ctx context.Context, to string, kind domain.ContentKind, mediaURL, caption string) (*services.SendResult, error) {
	media := &mediaPayload{Link: mediaURL, Caption: caption}
	p := sendPayload{MessagingProduct: "whatsapp", To: to}
	switch kind {
	case domain.KindDocument:
		p.Type, p.Document = "document", media
	case domain.KindVideo:
		p.Type, p.Video = "video", media
	case domain.KindAudio:
		// Audio messages carry no caption on the Cloud API.
		p.Type, p.Audio = "audio", &mediaPayload{Link: mediaURL}
	default:
		p.Type, p.Image = "image", media
	}
	return c.send(ctx, p)
}

func (c *Client) send(ctx context.Context, payload sendPayload) (*services.SendResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("whatsapp: marshal send body: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", c.baseURL, c.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("whatsapp: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("whatsapp: http error: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("whatsapp: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, c.decodeFailure(payload.Type, resp.StatusCode, data)
	}

	var sr sendResponse
	if err := json.Unmarshal(data, &sr); err != nil {
		return nil, fmt.Errorf("whatsapp: decode response: %w body=%q", err, string(data))
	}
	if len(sr.Messages) == 0 || sr.Messages[0].ID == "" {
		return nil, fmt.Errorf("whatsapp: missing message id in response body=%q", string(data))
	}
	return &services.SendResult{ExternalID: sr.Messages[0].ID, Status: "accepted"}, nil
}

func (c *Client) decodeFailure(msgType string, status int, body []byte) error {
	var parsed errorResponse
	_ = json.Unmarshal(body, &parsed)

	c.log.Warn().
		Str("type", msgType).
		Int("status", status).
		Int("code", parsed.Error.Code).
		Str("detail", parsed.Error.Message).
		Msg("whatsapp send rejected")

	switch {
	case status == http.StatusTooManyRequests:
		return fmt.Errorf("%w (code=%d)", ErrRateLimited, parsed.Error.Code)
	case status >= 500:
		return fmt.Errorf("%w (status=%d)", ErrServiceUnavailable, status)
	}
	detail := parsed.Error.Message
	if detail == "" {
		detail = strings.TrimSpace(string(body))
	}
	return &SendError{
		StatusCode: status,
		Code:       parsed.Error.Code,
		Type:       parsed.Error.Type,
		Detail:     detail,
	}
}
