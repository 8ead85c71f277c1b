package ledger

import (
	"errors"
	"time"
)

// Config contains the configuration required to talk to the
// JSON Ledger API of a Canton participant.
type Config struct {
	// BaseURL is the participant JSON API root, e.g. https://participant.example.com.
	BaseURL string
	// UserID is sent as the ledger user of each submission.
	// When empty, the subject of the access token is used.
	UserID string
	// SynchronizerID pins submissions to a synchronizer. Optional.
	SynchronizerID string
	// Timeout bounds each HTTP round-trip. If zero, a default is applied.
	Timeout time.Duration

	Auth *AuthConfig
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if cfg.BaseURL == "" {
		return errors.New("base_url is required")
	}
	return nil
}

// AuthConfig defines the OAuth2 settings used to obtain ledger tokens.
//
// When Username is set the resource-owner password grant is used (with
// refresh tokens); otherwise the client credentials grant.
type AuthConfig struct {
	TokenURL     string
	ClientID     string
	ClientSecret string //nolint:gosec // standard OAuth2 config field name
	Audience     string

	Username string
	Password string //nolint:gosec // resource owner password grant

	// ExpiryLeeway specifies how long before actual token expiry
	// the token should be considered expired. If zero, a default is applied.
	ExpiryLeeway time.Duration
}

// UsesPassword reports whether the password grant is configured.
func (cfg *AuthConfig) UsesPassword() bool {
	return cfg != nil && cfg.Username != ""
}

func (cfg *AuthConfig) validate() error {
	if cfg == nil {
		return errors.New("nil config")
	}
	if cfg.TokenURL == "" || cfg.ClientID == "" {
		return errors.New("no auth configured: token_url and client_id are required")
	}
	if cfg.UsesPassword() {
		if cfg.Password == "" {
			return errors.New("password is required for password grant")
		}
		return nil
	}
	if cfg.ClientSecret == "" {
		return errors.New("client_secret is required for client credentials grant")
	}
	return nil
}
