package email

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
)

type PostmarkConfig struct {
	BaseURL string
	Token   string
	Sender  string
	Timeout time.Duration
}

// PostmarkProvider talks to a Postmark-compatible HTTP API (POST {base}/email).
type PostmarkProvider struct {
	cfg    PostmarkConfig
	client *http.Client
}

func NewPostmark(cfg PostmarkConfig) *PostmarkProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &PostmarkProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

type postmarkRequest struct {
	From     string `json:"From"`
	To       string `json:"To"`
	Subject  string `json:"Subject"`
	HTMLBody string `json:"HtmlBody"`
	TextBody string `json:"TextBody"`
}

func (p *PostmarkProvider) Send(ctx context.Context, to, subject, htmlBody, textBody string) error {
	payload, err := json.Marshal(postmarkRequest{
		From:     p.cfg.Sender,
		To:       to,
		Subject:  subject,
		HTMLBody: htmlBody,
		TextBody: textBody,
	})
	if err != nil {
		return &SendError{Provider: "postmark", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/email", bytes.NewReader(payload))
	if err != nil {
		return &SendError{Provider: "postmark", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Postmark-Server-Token", p.cfg.Token)

	resp, err := p.client.Do(req)
	if err != nil {
		return &SendError{Provider: "postmark", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &SendError{
			Provider:   "postmark",
			StatusCode: resp.StatusCode,
			Err:        errors.New(string(bytes.TrimSpace(detail))),
		}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (p *PostmarkProvider) String() string {
	return fmt.Sprintf("postmark(%s)", p.cfg.BaseURL)
}
