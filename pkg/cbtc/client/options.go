package client

import (
	"net/http"

	"github.com/chainsafe/canton-cbtc/pkg/cantonsdk/ledger"

	"go.uber.org/zap"
)

// Option configures client settings using the functional options pattern.
type Option func(*settings)

type settings struct {
	logger       *zap.Logger
	httpClient   *http.Client
	authProvider ledger.AuthProvider
}

// WithLogger sets a custom logger for the SDK client.
func WithLogger(l *zap.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithHTTPClient sets a custom HTTP client used for the ledger, OAuth,
// attestor and registry requests.
func WithHTTPClient(c *http.Client) Option {
	return func(s *settings) { s.httpClient = c }
}

// WithAuthProvider replaces the OAuth session, primarily for tests.
func WithAuthProvider(p ledger.AuthProvider) Option {
	return func(s *settings) { s.authProvider = p }
}

func applyOptions(opts []Option) settings {
	s := settings{logger: zap.NewNop()}
	for _, opt := range opts {
		if opt != nil {
			opt(&s)
		}
	}
	return s
}
