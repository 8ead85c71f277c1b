package ledgertest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var signingKey = []byte("ledgertest-signing-key")

func (s *Server) seed() {
	t := s.begin([]string{Admin}, nil)
	s.depositRules = t.create(TemplateDepositAccountRules, map[string]any{"operator": Operator, "registrar": Admin}, Admin, Operator)
	s.withdrawRules = t.create(TemplateWithdrawAccountRules, map[string]any{"operator": Operator, "registrar": Admin}, Admin, Operator)
	s.burnFactory = t.create(TemplateBurnMintFactory, map[string]any{"admin": Admin}, Admin)
	s.instrumentCfg = t.create(TemplateInstrumentCfg, map[string]any{"operator": Operator, "registrar": Admin, "instrumentId": InstrumentID}, Admin)
	s.issuerCred = t.create(TemplateCredential, map[string]any{"issuer": Admin, "holder": Operator}, Admin)
	s.transferFact = t.create(TemplateTransferRule, map[string]any{"admin": Admin}, Admin)
	s.transferFact.views[packageID(InterfaceTransferFactory)] = map[string]any{"admin": Admin, "meta": metadata{Values: map[string]string{}}}

	for _, c := range t.created {
		s.contracts = append(s.contracts, c)
		s.byID[c.id] = c
	}
}

// Token endpoint

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_request"})
		return
	}
	if r.PostForm.Get("client_id") != ClientID {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_client"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var subject string
	switch r.PostForm.Get("grant_type") {
	case "password":
		if r.PostForm.Get("username") != Username || r.PostForm.Get("password") != Password {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_grant"})
			return
		}
		subject = Subject
		s.logins++
	case "client_credentials":
		if r.PostForm.Get("client_secret") != ClientSecret {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid_client"})
			return
		}
		subject = "service-account-" + ClientID
		s.logins++
	case "refresh_token":
		rt := r.PostForm.Get("refresh_token")
		sub, ok := s.refreshTokens[rt]
		if !ok {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
			return
		}
		delete(s.refreshTokens, rt)
		subject = sub
		s.refreshes++
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unsupported_grant_type"})
		return
	}

	now := time.Now()
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": subject,
		"aud": r.PostForm.Get("audience"),
		"iat": now.Unix(),
		"exp": now.Add(s.tokenTTL).Unix(),
		"jti": uuid.NewString(),
	}).SignedString(signingKey)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	refresh := uuid.NewString()
	s.tokens[access] = subject
	s.refreshTokens[refresh] = subject

	writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  access,
		"refresh_token": refresh,
		"expires_in":    int(s.tokenTTL.Seconds()),
		"token_type":    "Bearer",
	})
}

// verifyToken checks the signature and expiry of an issued access token.
func verifyToken(token string) error {
	_, err := jwt.Parse(token, func(*jwt.Token) (any, error) {
		return signingKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	return err
}

// Attestor endpoints

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, out any) bool {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) handleAccountRules(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Chain string `json:"chain"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.Chain != Chain {
		http.Error(w, "unknown chain "+req.Chain, http.StatusNotFound)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{
		"da_rules": s.depositRules.info(),
		"wa_rules": s.withdrawRules.info(),
	})
}

func (s *Server) handleTokenStandard(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Chain string `json:"chain"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}
	if req.Chain != Chain {
		http.Error(w, "unknown chain "+req.Chain, http.StatusNotFound)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var issuer any
	if !s.omitOptional {
		issuer = s.issuerCred.info()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"burn_mint_factory":        s.burnFactory.info(),
		"instrument_configuration": s.instrumentCfg.info(),
		"issuer_credential":        issuer,
		"app_reward_configuration": nil,
		"featured_app_right":       nil,
	})
}

func (s *Server) handleBitcoinAddress(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID    string `json:"id"`
		Chain string `json:"chain"`
	}
	if !s.decodeBody(w, r, &req) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if req.Chain != Chain || !s.depositAccountExists(req.ID) {
		http.Error(w, "deposit account not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, s.bitcoinAddr)
}

func (s *Server) depositAccountExists(id string) bool {
	for _, c := range s.contracts {
		if !c.active() || !sameTemplate(c.templateID, TemplateDepositAccount) {
			continue
		}
		if c.id == id || c.arg["id"] == id {
			return true
		}
	}
	return false
}

// Registry endpoints

func (s *Server) instrumentContext() map[string]any {
	return map[string]any{
		"choiceContextData": map[string]any{"values": map[string]any{
			contextKeyInstrumentConfiguration: map[string]any{"tag": "AV_ContractId", "value": s.instrumentCfg.id},
		}},
		"disclosedContracts": []map[string]any{s.instrumentCfg.disclosed()},
	}
}

func (s *Server) handleTransferFactory(w http.ResponseWriter, r *http.Request) {
	if chi.URLParam(r, "admin") != Admin {
		http.Error(w, "unknown registrar", http.StatusNotFound)
		return
	}
	var req struct {
		ChoiceArguments struct {
			ExpectedAdmin string         `json:"expectedAdmin"`
			Transfer      transferRecord `json:"transfer"`
		} `json:"choiceArguments"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	tr := req.ChoiceArguments.Transfer
	if req.ChoiceArguments.ExpectedAdmin != Admin || tr.InstrumentID.ID != InstrumentID {
		http.Error(w, "unknown instrument", http.StatusBadRequest)
		return
	}

	kind := "offer"
	if tr.Sender == tr.Receiver {
		kind = "self"
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cc := s.instrumentContext()
	cc["disclosedContracts"] = []map[string]any{s.transferFact.disclosed(), s.instrumentCfg.disclosed()}
	writeJSON(w, http.StatusOK, map[string]any{
		"factoryId":     s.transferFact.id,
		"transferKind":  kind,
		"choiceContext": cc,
	})
}

func (s *Server) handleChoiceContext(w http.ResponseWriter, r *http.Request) {
	if chi.URLParam(r, "admin") != Admin {
		http.Error(w, "unknown registrar", http.StatusNotFound)
		return
	}
	switch chi.URLParam(r, "choice") {
	case "accept", "reject", "withdraw":
	default:
		http.Error(w, "unknown choice", http.StatusNotFound)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.byID[chi.URLParam(r, "cid")]
	if c == nil || !c.active() || !sameTemplate(c.templateID, TemplateTransferOffer) {
		http.Error(w, "transfer instruction not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s.instrumentContext())
}
