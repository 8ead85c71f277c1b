// Package ledger implements the low-level Canton JSON Ledger API client.
//
// It manages OAuth2 authentication and exposes the three ledger operations
// the orchestration layer needs: reading the ledger end, querying active
// contracts at an offset, and submitting commands while waiting for the
// resulting transaction tree.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	sdkerrors "github.com/chainsafe/canton-cbtc/pkg/cantonsdk/errors"

	"go.uber.org/zap"
)

const (
	pathLedgerEnd       = "/v2/state/ledger-end"
	pathActiveContracts = "/v2/state/active-contracts"
	pathSubmitAndWait   = "/v2/commands/submit-and-wait-for-transaction-tree"
)

// Ledger defines the public Canton ledger client interface.
type Ledger interface {
	// InvalidateToken drops the cached access token.
	InvalidateToken()

	// JWTSubject returns the JWT subject ("sub") from the current access token.
	JWTSubject(ctx context.Context) (string, error)

	// UserID returns the ledger user used for submissions.
	UserID(ctx context.Context) (string, error)

	// GetLedgerEnd retrieves the current absolute ledger offset. It is never cached.
	GetLedgerEnd(ctx context.Context) (int64, error)

	// GetActiveContracts retrieves active contracts visible to parties at
	// the given offset, matching filter.
	GetActiveContracts(ctx context.Context, activeAtOffset int64, parties []string, filter Filter) ([]*ActiveContract, error)

	// SubmitAndWaitForTransactionTree submits commands and blocks until the
	// transaction is committed or rejected.
	SubmitAndWaitForTransactionTree(ctx context.Context, req *SubmitRequest) (*TransactionTree, error)
}

// Client is the concrete implementation of the Ledger interface.
type Client struct {
	cfg        *Config
	logger     *zap.Logger
	httpClient *http.Client
	now        func() time.Time

	auth AuthProvider

	tokenMu     sync.Mutex
	cachedToken string
	tokenExpiry time.Time
}

// New creates a new Ledger client using the provided configuration.
func New(cfg *Config, opts ...Option) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	s := applyOptions(opts)

	httpClient := s.httpClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout == 0 {
			timeout = defaultHTTPTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	ap := s.authProvider
	if ap == nil {
		if err := cfg.Auth.validate(); err != nil {
			return nil, fmt.Errorf("invalid config: %w", err)
		}
		oauth := NewOAuthClient(cfg.Auth, httpClient)
		oauth.now = s.now
		session := NewSession(oauth, s.logger)
		session.now = s.now
		ap = session
	}

	s.logger.Info("Canton JSON ledger client configured",
		zap.String("base_url", cfg.BaseURL),
		zap.String("synchronizer_id", cfg.SynchronizerID),
	)

	return &Client{
		cfg:        cfg,
		logger:     s.logger,
		httpClient: httpClient,
		now:        s.now,
		auth:       ap,
	}, nil
}

// InvalidateToken drops the cached token. If the provider is a Session its
// cache is dropped too, so the next call renews.
func (c *Client) InvalidateToken() {
	c.tokenMu.Lock()
	c.cachedToken = ""
	c.tokenExpiry = time.Time{}
	c.tokenMu.Unlock()

	if s, ok := c.auth.(interface{ Invalidate() }); ok {
		s.Invalidate()
	}
}

func (c *Client) JWTSubject(ctx context.Context) (string, error) {
	token, err := c.loadToken(ctx)
	if err != nil {
		return "", fmt.Errorf("error loading JWT token: %w", err)
	}
	subject, err := ExtractSubject(token)
	if err != nil {
		return "", fmt.Errorf("error extracting JWT subject: %w", err)
	}
	return subject, nil
}

func (c *Client) UserID(ctx context.Context) (string, error) {
	if c.cfg.UserID != "" {
		return c.cfg.UserID, nil
	}
	return c.JWTSubject(ctx)
}

func (c *Client) loadToken(ctx context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()

	if c.cachedToken != "" && c.now().Before(c.tokenExpiry) {
		return c.cachedToken, nil
	}

	tok, exp, err := c.auth.Token(ctx)
	if err != nil {
		return "", err
	}
	c.cachedToken = tok
	c.tokenExpiry = exp
	return tok, nil
}

func (c *Client) GetLedgerEnd(ctx context.Context) (int64, error) {
	var resp struct {
		Offset int64 `json:"offset"`
	}
	if err := c.do(ctx, http.MethodGet, pathLedgerEnd, nil, &resp); err != nil {
		return 0, c.classify(err, false)
	}
	return resp.Offset, nil
}

func (c *Client) GetActiveContracts(
	ctx context.Context,
	activeAtOffset int64,
	parties []string,
	filter Filter,
) ([]*ActiveContract, error) {
	if len(parties) == 0 {
		return nil, fmt.Errorf("at least one party is required")
	}
	if err := filter.validate(); err != nil {
		return nil, err
	}
	if activeAtOffset == 0 {
		// Nothing has been committed yet.
		return []*ActiveContract{}, nil
	}

	body := activeContractsRequest{
		Filter:         eventFilter{FiltersByParty: make(map[string]partyFilter, len(parties))},
		Verbose:        false,
		ActiveAtOffset: activeAtOffset,
	}
	for _, p := range parties {
		body.Filter.FiltersByParty[p] = partyFilter{Cumulative: []cumulativeFilter{filter.encode()}}
	}

	var resp []activeContractEntry
	if err := c.do(ctx, http.MethodPost, pathActiveContracts, body, &resp); err != nil {
		return nil, c.classify(err, false)
	}

	out := make([]*ActiveContract, 0, len(resp))
	for _, entry := range resp {
		ac := entry.ContractEntry.JsActiveContract
		if ac == nil || ac.CreatedEvent == nil {
			continue
		}
		out = append(out, &ActiveContract{
			CreatedEvent:   ac.CreatedEvent,
			SynchronizerID: ac.SynchronizerID,
		})
	}
	return out, nil
}

func (c *Client) SubmitAndWaitForTransactionTree(ctx context.Context, req *SubmitRequest) (*TransactionTree, error) {
	if req == nil || len(req.Commands) == 0 {
		return nil, sdkerrors.InvalidInputError(nil, "at least one command is required")
	}
	if req.CommandID == "" {
		return nil, sdkerrors.InvalidInputError(nil, "command id is required")
	}
	if req.UserID == "" {
		uid, err := c.UserID(ctx)
		if err != nil {
			return nil, err
		}
		req.UserID = uid
	}
	if req.SynchronizerID == "" {
		req.SynchronizerID = c.cfg.SynchronizerID
	}

	var resp struct {
		TransactionTree *TransactionTree `json:"transactionTree"`
	}
	if err := c.do(ctx, http.MethodPost, pathSubmitAndWait, req, &resp); err != nil {
		return nil, c.classify(err, true)
	}
	if resp.TransactionTree == nil {
		return nil, fmt.Errorf("submit response missing transactionTree")
	}
	return resp.TransactionTree, nil
}

// statusError is a non-2xx ledger response.
type statusError struct {
	Status int
	Body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("ledger returned %d: %s", e.Status, e.Body)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	token, err := c.loadToken(ctx)
	if err != nil {
		return err
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(c.cfg.BaseURL, "/")+path, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBodyBytes))
		return &statusError{Status: resp.StatusCode, Body: string(b)}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// classify maps transport failures onto the error taxonomy. Submissions use
// LedgerUnavailable for retryable failures, reads use TransientNetwork.
func (c *Client) classify(err error, submit bool) error {
	var svcErr *sdkerrors.ServiceError
	if errors.As(err, &svcErr) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	retryable := sdkerrors.TransientNetworkError
	if submit {
		retryable = sdkerrors.LedgerUnavailableError
	}

	var se *statusError
	if !errors.As(err, &se) {
		// Network failure, deadline or undecodable body.
		return retryable(err)
	}

	switch {
	case se.Status == http.StatusUnauthorized || se.Status == http.StatusForbidden:
		c.InvalidateToken()
		return sdkerrors.AuthExpiredError(se)
	case se.Status >= http.StatusInternalServerError || se.Status == http.StatusRequestTimeout ||
		se.Status == http.StatusTooManyRequests:
		return retryable(se)
	case submit:
		return decodeSubmissionError(se)
	default:
		return se
	}
}

func decodeSubmissionError(se *statusError) error {
	var body struct {
		Code  string `json:"code"`
		Cause string `json:"cause"`
	}
	out := &sdkerrors.SubmissionError{Status: se.Status, Message: se.Body}
	if json.Unmarshal([]byte(se.Body), &body) == nil {
		out.Code = body.Code
		if body.Cause != "" {
			out.Message = body.Cause
		}
	}
	return out
}

type activeContractsRequest struct {
	Filter         eventFilter `json:"filter"`
	Verbose        bool        `json:"verbose"`
	ActiveAtOffset int64       `json:"activeAtOffset"`
}

type eventFilter struct {
	FiltersByParty map[string]partyFilter `json:"filtersByParty"`
}

type partyFilter struct {
	Cumulative []cumulativeFilter `json:"cumulative"`
}

type cumulativeFilter struct {
	IdentifierFilter map[string]any `json:"identifierFilter"`
}

func (f Filter) encode() cumulativeFilter {
	if f.InterfaceID != "" {
		return cumulativeFilter{IdentifierFilter: map[string]any{
			"InterfaceFilter": map[string]any{"value": map[string]any{
				"interfaceId":             f.InterfaceID,
				"includeInterfaceView":    true,
				"includeCreatedEventBlob": true,
			}},
		}}
	}
	return cumulativeFilter{IdentifierFilter: map[string]any{
		"TemplateFilter": map[string]any{"value": map[string]any{
			"templateId":              f.TemplateID,
			"includeCreatedEventBlob": true,
		}},
	}}
}

type activeContractEntry struct {
	ContractEntry struct {
		JsActiveContract *struct {
			CreatedEvent   *CreatedEvent `json:"createdEvent"`
			SynchronizerID string        `json:"synchronizerId"`
		} `json:"JsActiveContract"`
	} `json:"contractEntry"`
}
