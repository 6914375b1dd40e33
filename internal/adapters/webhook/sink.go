// Package webhook delivers scheduler events to an HTTP endpoint, with
// optional JMESPath filtering and body transformation.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	jmespath "github.com/jmespath-community/go-jmespath"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/target/agent-scheduler/internal/domain/event"
)

// Config captures the webhook sink settings.
type Config struct {
	URL string
	// Filter is a JMESPath expression evaluated against each event; a falsy
	// result skips delivery. Empty delivers everything.
	Filter string
	// Body is a JMESPath expression that transforms the event into the
	// request body. Empty posts the event envelope unchanged.
	Body string
	// OAuth2 client-credentials settings. Enabled when TokenURL is set.
	OAuthTokenURL     string
	OAuthClientID     string
	OAuthClientSecret string
	OAuthScopes       []string

	Timeout    time.Duration
	RetryLimit int
	Client     *http.Client
}

// Sink posts events to the configured endpoint. Implements event.Sink; it
// runs on the bus's forwarding goroutine.
type Sink struct {
	url        string
	filter     string
	body       string
	retryLimit int
	client     *http.Client
	logger     *slog.Logger
}

// NewSink builds a webhook sink, validating the JMESPath expressions up front
// so a bad expression fails at startup rather than per event.
func NewSink(cfg Config, logger *slog.Logger) (*Sink, error) {
	target := strings.TrimSpace(cfg.URL)
	if target == "" {
		return nil, errors.New("webhook url is required")
	}
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("invalid webhook url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid webhook url scheme: %s", u.Scheme)
	}

	filter := strings.TrimSpace(cfg.Filter)
	if filter != "" {
		if _, err := jmespath.Compile(filter); err != nil {
			return nil, fmt.Errorf("compile filter expression: %w", err)
		}
	}
	body := strings.TrimSpace(cfg.Body)
	if body != "" {
		if _, err := jmespath.Compile(body); err != nil {
			return nil, fmt.Errorf("compile body expression: %w", err)
		}
	}

	if logger == nil {
		logger = slog.Default()
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	if strings.TrimSpace(cfg.OAuthTokenURL) != "" {
		cc := clientcredentials.Config{
			TokenURL:     cfg.OAuthTokenURL,
			ClientID:     cfg.OAuthClientID,
			ClientSecret: cfg.OAuthClientSecret,
			Scopes:       cfg.OAuthScopes,
		}
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, client)
		client = cc.Client(ctx)
		client.Timeout = timeout
	}

	return &Sink{
		url:        target,
		filter:     filter,
		body:       body,
		retryLimit: max(cfg.RetryLimit, 0),
		client:     client,
		logger:     logger.With("component", "webhook_sink"),
	}, nil
}

// OnEvent implements event.Sink. Delivery failures are logged, never
// surfaced; the webhook is an observer, not a participant.
func (s *Sink) OnEvent(topic string, evt event.Event) {
	payload, skip, err := s.prepare(topic, evt)
	if err != nil {
		s.logger.Error("preparing webhook payload failed",
			"topic", topic, "event_type", string(evt.Type), "error", err)
		return
	}
	if skip {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := s.deliver(ctx, payload); err != nil {
		s.logger.Warn("webhook delivery failed",
			"topic", topic, "event_type", string(evt.Type), "error", err)
	}
}

// prepare applies the filter and body expressions. The event is round-tripped
// through JSON so JMESPath sees the wire shape, not Go field names.
func (s *Sink) prepare(topic string, evt event.Event) (payload []byte, skip bool, err error) {
	raw, err := json.Marshal(evt)
	if err != nil {
		return nil, false, fmt.Errorf("encode event: %w", err)
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, false, fmt.Errorf("decode event document: %w", err)
	}
	doc["topic"] = topic

	if s.filter != "" {
		verdict, err := jmespath.Search(s.filter, doc)
		if err != nil {
			return nil, false, fmt.Errorf("evaluate filter: %w", err)
		}
		if !truthy(verdict) {
			return nil, true, nil
		}
	}

	if s.body == "" {
		out, err := json.Marshal(doc)
		if err != nil {
			return nil, false, fmt.Errorf("encode payload: %w", err)
		}
		return out, false, nil
	}

	transformed, err := jmespath.Search(s.body, doc)
	if err != nil {
		return nil, false, fmt.Errorf("evaluate body expression: %w", err)
	}
	out, err := json.Marshal(transformed)
	if err != nil {
		return nil, false, fmt.Errorf("encode transformed payload: %w", err)
	}
	return out, false, nil
}

func (s *Sink) deliver(ctx context.Context, body []byte) error {
	attempts := s.retryLimit + 1
	var lastErr error
	for attempt := range attempts {
		err := s.post(ctx, body)
		if err == nil {
			return nil
		}
		lastErr = err
		if attempt < attempts-1 {
			delay := time.Duration(attempt+1) * 200 * time.Millisecond
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				if !timer.Stop() {
					<-timer.C
				}
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	return lastErr
}

func (s *Sink) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook %s: %s", resp.Status, strings.TrimSpace(string(snippet)))
	}
	return nil
}

// truthy mirrors JMESPath falsiness: null, false, empty string, empty
// collection.
func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case []any:
		return len(val) > 0
	case map[string]any:
		return len(val) > 0
	default:
		return true
	}
}

var _ event.Sink = (*Sink)(nil)
