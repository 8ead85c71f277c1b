package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	sdkerrors "github.com/chainsafe/canton-cbtc/pkg/cantonsdk/errors"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	defaultExpiryLeeway = 60 * time.Second
	defaultHTTPTimeout  = 10 * time.Second

	// If token endpoint doesn't give expires_in, use a conservative fallback.
	fallbackTokenTTL = 5 * time.Minute

	// Limit error-body reads so we don't accidentally slurp huge responses.
	maxErrBodyBytes = 4096

	halfDivisor = 2

	jwtSegments = 3
)

// AuthProvider defines how the ledger client obtains
// and refreshes authentication tokens.
type AuthProvider interface {
	// Token returns a valid access token and its expiry time.
	// Implementations must cache and refresh tokens as needed.
	Token(ctx context.Context) (token string, expiry time.Time, err error)
}

// Credential is a short-lived bearer token pair. It lives in memory only.
type Credential struct {
	AccessToken  string
	RefreshToken string
	// Expiry is the refresh-by time, already adjusted by the configured leeway.
	Expiry  time.Time
	Subject string
}

// Valid reports whether the access token can still be used at now.
func (c *Credential) Valid(now time.Time) bool {
	return c != nil && c.AccessToken != "" && now.Before(c.Expiry)
}

// Authenticator performs OAuth token exchanges.
type Authenticator interface {
	// Authenticate performs a full login.
	Authenticate(ctx context.Context) (*Credential, error)
	// Refresh exchanges the refresh token of cred for a new credential.
	Refresh(ctx context.Context, cred *Credential) (*Credential, error)
}

// OAuthClient implements Authenticator against an OAuth2 token endpoint
// (Keycloak or any compliant provider).
type OAuthClient struct {
	cfg        *AuthConfig
	httpClient *http.Client
	leeway     time.Duration
	now        func() time.Time
}

// NewOAuthClient creates a new OAuthClient instance.
func NewOAuthClient(cfg *AuthConfig, httpClient *http.Client) *OAuthClient {
	leeway := defaultExpiryLeeway
	if cfg != nil && cfg.ExpiryLeeway != 0 {
		leeway = cfg.ExpiryLeeway
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}

	return &OAuthClient{
		cfg:        cfg,
		httpClient: httpClient,
		leeway:     leeway,
		now:        time.Now,
	}
}

// Authenticate logs in with the configured grant.
func (p *OAuthClient) Authenticate(ctx context.Context) (*Credential, error) {
	if err := p.cfg.validate(); err != nil {
		return nil, sdkerrors.AuthError(err, "invalid auth config")
	}

	form := url.Values{}
	form.Set("client_id", p.cfg.ClientID)
	if p.cfg.UsesPassword() {
		form.Set("grant_type", "password")
		form.Set("username", p.cfg.Username)
		form.Set("password", p.cfg.Password)
		if p.cfg.ClientSecret != "" {
			form.Set("client_secret", p.cfg.ClientSecret)
		}
	} else {
		form.Set("grant_type", "client_credentials")
		form.Set("client_secret", p.cfg.ClientSecret)
	}
	if p.cfg.Audience != "" {
		form.Set("audience", p.cfg.Audience)
	}

	return p.exchange(ctx, form, "login")
}

// Refresh uses the refresh token grant.
func (p *OAuthClient) Refresh(ctx context.Context, cred *Credential) (*Credential, error) {
	if cred == nil || cred.RefreshToken == "" {
		return nil, sdkerrors.AuthError(nil, "no refresh token available")
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("client_id", p.cfg.ClientID)
	form.Set("refresh_token", cred.RefreshToken)
	if p.cfg.ClientSecret != "" {
		form.Set("client_secret", p.cfg.ClientSecret)
	}

	return p.exchange(ctx, form, "refresh")
}

func (p *OAuthClient) exchange(ctx context.Context, form url.Values, op string) (*Credential, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, sdkerrors.AuthError(err, "create token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, sdkerrors.AuthError(err, "call token endpoint")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, sdkerrors.AuthError(readHTTPError(resp, "token endpoint"), op+" rejected")
	}

	tr, err := decodeTokenResponse(resp.Body)
	if err != nil {
		return nil, sdkerrors.AuthError(err, op+" failed")
	}

	subject, err := ExtractSubject(tr.AccessToken)
	if err != nil {
		return nil, err
	}

	return &Credential{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		Expiry:       computeRefreshBy(p.now(), tr.ExpiresIn, p.leeway),
		Subject:      subject,
	}, nil
}

// Session caches a Credential and renews it shortly before expiry.
// Concurrent callers that find the credential stale share a single renewal.
type Session struct {
	auth   Authenticator
	logger *zap.Logger
	now    func() time.Time

	mu   sync.Mutex
	cred *Credential

	group singleflight.Group
}

// NewSession creates a Session backed by auth.
func NewSession(auth Authenticator, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{auth: auth, logger: logger, now: time.Now}
}

// Token implements AuthProvider.
func (s *Session) Token(ctx context.Context) (string, time.Time, error) {
	cred, err := s.Credential(ctx)
	if err != nil {
		return "", time.Time{}, err
	}
	return cred.AccessToken, cred.Expiry, nil
}

// Credential returns a currently valid credential, logging in or refreshing
// when needed.
func (s *Session) Credential(ctx context.Context) (*Credential, error) {
	s.mu.Lock()
	cred := s.cred
	s.mu.Unlock()

	if cred.Valid(s.now()) {
		return cred, nil
	}

	// The renewal outlives any single caller so that one canceled caller
	// does not fail the others waiting on the same flight.
	ch := s.group.DoChan("credential", func() (any, error) {
		return s.renew(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Credential), nil
	}
}

// Invalidate drops the cached credential. The next call logs in again
// (or refreshes, when a refresh token is still held).
func (s *Session) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cred != nil {
		// Keep the refresh token, force the access token to be renewed.
		s.cred = &Credential{RefreshToken: s.cred.RefreshToken}
	}
}

func (s *Session) renew(ctx context.Context) (*Credential, error) {
	s.mu.Lock()
	current := s.cred
	s.mu.Unlock()

	if current.Valid(s.now()) {
		return current, nil
	}

	if current != nil && current.RefreshToken != "" {
		next, err := s.auth.Refresh(ctx, current)
		if err == nil {
			s.store(next)
			s.logger.Debug("access token refreshed", zap.Time("refresh_by", next.Expiry))
			return next, nil
		}
		s.logger.Warn("token refresh failed, logging in again", zap.Error(err))
	}

	next, err := s.auth.Authenticate(ctx)
	if err != nil {
		return nil, err
	}
	s.store(next)
	s.logger.Debug("logged in", zap.String("subject", next.Subject), zap.Time("refresh_by", next.Expiry))
	return next, nil
}

func (s *Session) store(cred *Credential) {
	s.mu.Lock()
	s.cred = cred
	s.mu.Unlock()
}

// ExtractSubject returns the "sub" claim of a JWT without verifying its
// signature (the ledger verifies it). The token must have three segments and
// the payload segment must be base64url-encoded JSON carrying a subject.
func ExtractSubject(token string) (string, error) {
	parts := strings.Split(token, ".")
	if len(parts) != jwtSegments {
		return "", sdkerrors.MalformedTokenError(nil,
			fmt.Sprintf("expected %d token segments, got %d", jwtSegments, len(parts)))
	}

	payload, err := jwt.NewParser().DecodeSegment(parts[1])
	if err != nil {
		return "", sdkerrors.MalformedTokenError(err, "decode token payload")
	}

	claims := jwt.MapClaims{}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return "", sdkerrors.MalformedTokenError(err, "parse token payload")
	}

	sub, err := claims.GetSubject()
	if err != nil {
		return "", sdkerrors.MalformedTokenError(err, "read sub claim")
	}
	if sub == "" {
		return "", sdkerrors.MalformedTokenError(nil, "token missing 'sub' claim")
	}
	return sub, nil
}

func readHTTPError(resp *http.Response, what string) error {
	limited := io.LimitReader(resp.Body, maxErrBodyBytes)

	b, err := io.ReadAll(limited)
	if err != nil {
		return fmt.Errorf("%s returned %d and body read failed: %w", what, resp.StatusCode, err)
	}

	return fmt.Errorf("%s returned %d: %s", what, resp.StatusCode, string(b))
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

func decodeTokenResponse(r io.Reader) (tokenResponse, error) {
	var tr tokenResponse

	dec := json.NewDecoder(r)
	if err := dec.Decode(&tr); err != nil {
		return tokenResponse{}, fmt.Errorf("decode token response: %w", err)
	}
	if tr.AccessToken == "" {
		return tokenResponse{}, fmt.Errorf("token response missing access_token")
	}

	return tr, nil
}

// computeRefreshBy returns a "refresh-by" timestamp, leeway-adjusted.
func computeRefreshBy(now time.Time, expiresInSeconds int, leeway time.Duration) time.Time {
	if expiresInSeconds <= 0 {
		return now.Add(fallbackTokenTTL)
	}

	exp := now.Add(time.Duration(expiresInSeconds) * time.Second)
	refreshBy := exp.Add(-leeway)

	// If leeway overshoots, fall back to a reasonable midpoint.
	if refreshBy.Before(now) {
		half := expiresInSeconds / halfDivisor
		return now.Add(time.Duration(half) * time.Second)
	}

	return refreshBy
}
