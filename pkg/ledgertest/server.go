// Package ledgertest runs an in-process Canton participant for tests: an
// OAuth token endpoint issuing signed JWTs, the JSON Ledger API subset the
// SDK uses, the attestor endpoints and the token-standard registry. The
// ledger keeps contracts in memory, interprets the CBTC and transfer choices
// and deduplicates submissions by command id.
package ledgertest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/chainsafe/canton-cbtc/pkg/cantonsdk/attestor"
	"github.com/chainsafe/canton-cbtc/pkg/cantonsdk/ledger"
	"github.com/chainsafe/canton-cbtc/pkg/cantonsdk/registry"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Fixed identities of the simulated network.
const (
	Admin          = "cbtc-network::1220test"
	Operator       = "cbtc-operator::1220test"
	Chain          = "canton-devnet"
	SynchronizerID = "global-domain::1220test"

	ClientID     = "cbtc-sdk"
	ClientSecret = "client-secret"
	Username     = "alice"
	Password     = "alice-password"

	// Subject is the "sub" claim of tokens issued to Username.
	Subject = "user-alice"

	// DepositAddress is returned for every deposit account. It is a valid
	// testnet bech32 address.
	DepositAddress = "tb1qw508d6qejxtdg4y5r3zarvary0c5xw7kxpjzsx"
)

// Route names used for failure injection.
const (
	RouteToken           = "token"
	RouteLedgerEnd       = "ledger-end"
	RouteActiveContracts = "active-contracts"
	RouteSubmit          = "submit"
	RouteAccountRules    = "account-rules"
	RouteTokenStandard   = "token-standard"
	RouteBitcoinAddress  = "bitcoin-address"
	RouteTransferFactory = "transfer-factory"
	RouteChoiceContext   = "choice-context"
)

// Server is a running simulated participant.
type Server struct {
	*httptest.Server

	mu sync.Mutex

	// ledger state
	offset    int64
	nextID    int
	contracts []*contract
	byID      map[string]*contract
	commands  map[string][]byte
	lastArgs  map[string]json.RawMessage

	submissions int
	attempts    int

	// auth state
	tokens        map[string]string
	refreshTokens map[string]string
	tokenTTL      time.Duration
	logins        int
	refreshes     int

	// reference contracts
	depositRules  *contract
	withdrawRules *contract
	burnFactory   *contract
	instrumentCfg *contract
	issuerCred    *contract
	transferFact  *contract

	omitOptional bool
	bitcoinAddr  string

	failures      map[string][]int
	dropResponses int
}

// Start launches a server and registers its shutdown with t.
func Start(t testing.TB) *Server {
	t.Helper()
	s := New()
	t.Cleanup(s.Close)
	return s
}

// New launches a server. Callers must Close it.
func New() *Server {
	s := &Server{
		byID:          make(map[string]*contract),
		commands:      make(map[string][]byte),
		lastArgs:      make(map[string]json.RawMessage),
		tokens:        make(map[string]string),
		refreshTokens: make(map[string]string),
		tokenTTL:      5 * time.Minute,
		failures:      make(map[string][]int),
		bitcoinAddr:   DepositAddress,
	}
	s.seed()
	s.Server = httptest.NewServer(s.routes())
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.With(s.inject(RouteToken)).Post("/auth/token", s.handleToken)

	r.Route("/v2", func(r chi.Router) {
		r.Use(s.requireToken)
		r.With(s.inject(RouteLedgerEnd)).Get("/state/ledger-end", s.handleLedgerEnd)
		r.With(s.inject(RouteActiveContracts)).Post("/state/active-contracts", s.handleActiveContracts)
		r.With(s.inject(RouteSubmit)).Post("/commands/submit-and-wait-for-transaction-tree", s.handleSubmit)
	})

	r.Route("/app", func(r chi.Router) {
		r.With(s.inject(RouteAccountRules)).Post("/get-account-contract-rules", s.handleAccountRules)
		r.With(s.inject(RouteTokenStandard)).Post("/get-token-standard-contracts", s.handleTokenStandard)
		r.With(s.inject(RouteBitcoinAddress)).Post("/get-bitcoin-address", s.handleBitcoinAddress)
	})

	r.Route("/registry/api/token-standard/v0/registrars/{admin}/registry/transfer-instruction/v1", func(r chi.Router) {
		r.With(s.inject(RouteTransferFactory)).Post("/transfer-factory", s.handleTransferFactory)
		r.With(s.inject(RouteChoiceContext)).Post("/{cid}/choice-contexts/{choice}", s.handleChoiceContext)
	})

	return r
}

// LedgerConfig returns a ledger client config authenticating with the
// password grant.
func (s *Server) LedgerConfig() *ledger.Config {
	return &ledger.Config{
		BaseURL:        s.URL,
		SynchronizerID: SynchronizerID,
		Timeout:        5 * time.Second,
		Auth: &ledger.AuthConfig{
			TokenURL: s.URL + "/auth/token",
			ClientID: ClientID,
			Username: Username,
			Password: Password,
		},
	}
}

// AttestorConfig returns an attestor client config for the simulated chain.
func (s *Server) AttestorConfig() *attestor.Config {
	return &attestor.Config{URL: s.URL, Chain: Chain, Timeout: 5 * time.Second}
}

// RegistryConfig returns a registry client config.
func (s *Server) RegistryConfig() *registry.Config {
	return &registry.Config{URL: s.URL + "/registry", DecentralizedParty: Admin, Timeout: 5 * time.Second}
}

// FailNext makes the next calls to route answer with the given statuses,
// one status per call.
func (s *Server) FailNext(route string, statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[route] = append(s.failures[route], statuses...)
}

// DropNextSubmitResponses commits the next n submissions but answers 503,
// as if the response was lost on the way back.
func (s *Server) DropNextSubmitResponses(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropResponses += n
}

// OmitOptionalContracts makes the attestor return null for the optional
// token-standard slots.
func (s *Server) OmitOptionalContracts() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.omitOptional = true
}

// SetBitcoinAddress overrides the deposit address the attestor returns.
func (s *Server) SetBitcoinAddress(addr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bitcoinAddr = addr
}

// Submissions returns the number of committed transactions.
func (s *Server) Submissions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submissions
}

// SubmitAttempts returns the number of submit calls that reached the ledger,
// including deduplicated and rejected ones.
func (s *Server) SubmitAttempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// Logins returns the number of password or client-credential grants served.
func (s *Server) Logins() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logins
}

// Refreshes returns the number of refresh-token grants served.
func (s *Server) Refreshes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshes
}

// RevokeTokens invalidates every issued access token.
func (s *Server) RevokeTokens() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = make(map[string]string)
}

// SetTokenTTL sets the lifetime of tokens issued from now on.
func (s *Server) SetTokenTTL(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokenTTL = d
}

// LastChoiceArgument returns the argument of the latest committed exercise
// of choice.
func (s *Server) LastChoiceArgument(choice string) json.RawMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastArgs[choice]
}

func (s *Server) inject(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s.mu.Lock()
			var status int
			if q := s.failures[route]; len(q) > 0 {
				status = q[0]
				s.failures[route] = q[1:]
			}
			s.mu.Unlock()

			if status != 0 {
				http.Error(w, http.StatusText(status), status)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		s.mu.Lock()
		_, ok := s.tokens[token]
		s.mu.Unlock()
		if token == "" || !ok || verifyToken(token) != nil {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeRejection(w http.ResponseWriter, code, cause string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"code": code, "cause": cause})
}
