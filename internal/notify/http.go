package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	defaultOneSignalURL = "https://api.onesignal.com/notifications"
	defaultTwilioURL    = "https://api.twilio.com"
	defaultHTTPTimeout  = 10 * time.Second
	defaultMaxTries     = 3
)

// RetryConfig bounds HTTP notifier retries.
type RetryConfig struct {
	MaxTries        uint
	InitialInterval time.Duration
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxTries == 0 {
		c.MaxTries = defaultMaxTries
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = 500 * time.Millisecond
	}
	return c
}

// post sends one request per attempt. 429 and 5xx responses and transport
// errors are retried; other 4xx responses are permanent.
func post(ctx context.Context, client *http.Client, retry RetryConfig, build func(context.Context) (*http.Request, error)) ([]byte, error) {
	retry = retry.withDefaults()
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = retry.InitialInterval

	return backoff.Retry(ctx, func() ([]byte, error) {
		req, err := build(ctx)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		if resp.StatusCode >= 300 {
			err := fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return nil, err
			}
			return nil, backoff.Permanent(err)
		}
		return body, nil
	}, backoff.WithBackOff(b), backoff.WithMaxTries(retry.MaxTries))
}

// OneSignalConfig configures mobile push delivery.
type OneSignalConfig struct {
	AppID   string
	APIKey  string `json:"-"`
	URL     string
	Segment string
	Timeout time.Duration
	Retry   RetryConfig
}

// OneSignalNotifier sends mobile push through the OneSignal REST API.
type OneSignalNotifier struct {
	cfg    OneSignalConfig
	client *http.Client
}

// NewOneSignalNotifier validates cfg and returns a notifier.
func NewOneSignalNotifier(cfg OneSignalConfig) (*OneSignalNotifier, error) {
	if cfg.AppID == "" || cfg.APIKey == "" {
		return nil, fmt.Errorf("onesignal app id and api key are required")
	}
	if cfg.URL == "" {
		cfg.URL = defaultOneSignalURL
	}
	if cfg.Segment == "" {
		cfg.Segment = "Subscribed Users"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	return &OneSignalNotifier{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}, nil
}

type oneSignalPayload struct {
	AppID            string            `json:"app_id"`
	IncludedSegments []string          `json:"included_segments"`
	Headings         map[string]string `json:"headings"`
	Contents         map[string]string `json:"contents"`
}

func (n *OneSignalNotifier) Notify(ctx context.Context, title, body string) error {
	data, err := json.Marshal(oneSignalPayload{
		AppID:            n.cfg.AppID,
		IncludedSegments: []string{n.cfg.Segment},
		Headings:         map[string]string{"en": title},
		Contents:         map[string]string{"en": body},
	})
	if err != nil {
		return fmt.Errorf("marshal onesignal payload: %w", err)
	}

	_, err = post(ctx, n.client, n.cfg.Retry, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.URL, bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Basic "+n.cfg.APIKey)
		return req, nil
	})
	if err != nil {
		return fmt.Errorf("onesignal: %w", err)
	}
	return nil
}

// TwilioConfig configures WhatsApp delivery through Twilio.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string `json:"-"`
	From       string
	To         string
	BaseURL    string
	Timeout    time.Duration
	Retry      RetryConfig
}

// TwilioNotifier sends chat messages through the Twilio Messages API.
type TwilioNotifier struct {
	cfg    TwilioConfig
	client *http.Client
}

// NewTwilioNotifier validates cfg and returns a notifier. Numbers without
// a whatsapp: prefix get one.
func NewTwilioNotifier(cfg TwilioConfig) (*TwilioNotifier, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("twilio account sid and auth token are required")
	}
	if cfg.To == "" {
		return nil, fmt.Errorf("twilio recipient is required")
	}
	if cfg.From == "" {
		cfg.From = "+14155238886"
	}
	cfg.From = whatsappAddr(cfg.From)
	cfg.To = whatsappAddr(cfg.To)
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultTwilioURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	return &TwilioNotifier{cfg: cfg, client: &http.Client{Timeout: cfg.Timeout}}, nil
}

func whatsappAddr(n string) string {
	n = strings.TrimSpace(n)
	if strings.HasPrefix(n, "whatsapp:") {
		return n
	}
	return "whatsapp:" + n
}

// ChatMessage renders a reminder for chat delivery.
func ChatMessage(title, body string) string {
	return fmt.Sprintf("🔔 *%s*\n\n%s", title, body)
}

func (n *TwilioNotifier) Notify(ctx context.Context, title, body string) error {
	form := url.Values{}
	form.Set("From", n.cfg.From)
	form.Set("To", n.cfg.To)
	form.Set("Body", ChatMessage(title, body))
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json",
		strings.TrimSuffix(n.cfg.BaseURL, "/"), url.PathEscape(n.cfg.AccountSID))

	_, err := post(ctx, n.client, n.cfg.Retry, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.SetBasicAuth(n.cfg.AccountSID, n.cfg.AuthToken)
		return req, nil
	})
	if err != nil {
		return fmt.Errorf("twilio: %w", err)
	}
	return nil
}
