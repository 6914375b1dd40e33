package config

import (
	"strings"
	"time"
)

// EventsConfig groups outbound event sink configuration.
type EventsConfig struct {
	// RedisChannelPrefix prefixes the pub/sub channel per topic.
	RedisChannelPrefix string `env:"EVENTS_REDIS_CHANNEL_PREFIX" envDefault:"agentsched:events:"`

	// Webhook configures the HTTP event sink.
	Webhook WebhookConfig `envPrefix:"EVENTS_WEBHOOK_"`
}

// Sanitize applies guardrails to event sink configuration values.
func (e *EventsConfig) Sanitize() {
	e.RedisChannelPrefix = strings.TrimSpace(e.RedisChannelPrefix)
	e.Webhook.Sanitize()
}

// WebhookConfig controls the HTTP event sink. The sink is wired only when a
// URL is configured.
type WebhookConfig struct {
	URL string `env:"URL"`

	// Filter is a JMESPath expression; falsy results skip delivery.
	Filter string `env:"FILTER"`

	// Body is a JMESPath expression transforming the event into the request
	// body. Empty posts the event envelope unchanged.
	Body string `env:"BODY"`

	// OAuth2 client-credentials settings. Enabled when the token URL is set.
	OAuthTokenURL     string   `env:"OAUTH_TOKEN_URL"`
	OAuthClientID     string   `env:"OAUTH_CLIENT_ID"`
	OAuthClientSecret string   `env:"OAUTH_CLIENT_SECRET"`
	OAuthScopes       []string `env:"OAUTH_SCOPES"     envSeparator:" "`

	Timeout    time.Duration `env:"TIMEOUT"     envDefault:"10s"`
	RetryLimit int           `env:"RETRY_LIMIT" envDefault:"2"`
}

// Enabled reports whether the webhook sink should be wired.
func (w *WebhookConfig) Enabled() bool {
	return w.URL != ""
}

// Sanitize applies guardrails to webhook configuration values.
func (w *WebhookConfig) Sanitize() {
	w.URL = strings.TrimSpace(w.URL)
	w.Filter = strings.TrimSpace(w.Filter)
	w.Body = strings.TrimSpace(w.Body)
	w.OAuthTokenURL = strings.TrimSpace(w.OAuthTokenURL)
	if w.Timeout <= 0 {
		w.Timeout = 10 * time.Second
	}
	if w.RetryLimit < 0 {
		w.RetryLimit = 0
	}
}
