package ledger

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Option configures ledger client settings using
// the functional options pattern.
type Option func(*settings)

// settings holds internal configurable dependencies
// used during ledger client initialization.
type settings struct {
	logger     *zap.Logger
	httpClient *http.Client
	now        func() time.Time

	authProvider AuthProvider // optional override, primarily for tests
}

// WithLogger sets a custom logger for the ledger client.
func WithLogger(l *zap.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithHTTPClient sets a custom HTTP client for ledger and authentication requests.
func WithHTTPClient(c *http.Client) Option {
	return func(s *settings) { s.httpClient = c }
}

// WithAuthProvider overrides the default authentication provider.
func WithAuthProvider(p AuthProvider) Option {
	return func(s *settings) { s.authProvider = p }
}

// WithClock overrides the time source used for token expiry.
func WithClock(now func() time.Time) Option {
	return func(s *settings) { s.now = now }
}

// applyOptions applies the provided options and returns the resulting settings.
// Defaults are applied before user-defined options.
func applyOptions(opts []Option) settings {
	s := settings{
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	return s
}
