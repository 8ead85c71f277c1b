package ledgertest

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// AddHolding mints an unlocked CBTC holding for owner and returns its
// contract id.
func (s *Server) AddHolding(owner, amount string) string {
	return s.AddHoldingWith(owner, InstrumentID, amount, false)
}

// AddLockedHolding mints a locked CBTC holding for owner.
func (s *Server) AddLockedHolding(owner, amount string) string {
	return s.AddHoldingWith(owner, InstrumentID, amount, true)
}

// AddHoldingWith mints a holding of any instrument.
func (s *Server) AddHoldingWith(owner, instrumentID, amount string, locked bool) string {
	var cid string
	_ = s.apply(func(t *tx) error {
		cid = t.createHolding(owner, instrumentID, decimal.RequireFromString(amount), locked).id
		return nil
	})
	return cid
}

// AddDepositRequest records a confirmed BTC deposit to a deposit account, as
// the attestors do.
func (s *Server) AddDepositRequest(owner, accountID, amount, btcTxID string) string {
	var cid string
	_ = s.apply(func(t *tx) error {
		cid = t.create(TemplateDepositRequest, map[string]any{
			"owner":            owner,
			"registrar":        Admin,
			"depositAccountId": accountID,
			"amount":           numeric(decimal.RequireFromString(amount)),
			"btcTxId":          btcTxID,
		}, owner, Operator, Admin).id
		return nil
	})
	return cid
}

// CompleteWithdraw marks a withdraw request as broadcast by replacing it
// with a copy that carries btcTxID, and returns the new contract id.
func (s *Server) CompleteWithdraw(requestCID, btcTxID string) (string, error) {
	var cid string
	err := s.apply(func(t *tx) error {
		c := t.s.byID[requestCID]
		if c == nil || !c.active() || !sameTemplate(c.templateID, TemplateWithdrawRequest) {
			return fmt.Errorf("withdraw request %s not found", requestCID)
		}
		arg := make(map[string]any, len(c.arg))
		for k, v := range c.arg {
			arg[k] = v
		}
		arg["btcTxId"] = btcTxID
		t.archive(c)
		cid = t.create(TemplateWithdrawRequest, arg, c.stakeholders...).id
		return nil
	})
	return cid, err
}

// ArchiveContract removes a contract from the active set.
func (s *Server) ArchiveContract(cid string) error {
	return s.apply(func(t *tx) error {
		c := t.s.byID[cid]
		if c == nil || !c.active() {
			return fmt.Errorf("contract %s not found", cid)
		}
		t.archive(c)
		return nil
	})
}

// ActiveContracts returns the ids of active contracts of templateID visible
// to party, in creation order.
func (s *Server) ActiveContracts(party, templateID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, c := range s.contracts {
		if c.active() && c.visibleTo(party) && sameTemplate(c.templateID, packageID(templateID)) {
			out = append(out, c.id)
		}
	}
	return out
}

// Balance returns the total of party's active CBTC holdings.
func (s *Server) Balance(party string) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := decimal.Zero
	for _, c := range s.contracts {
		if !c.active() || !sameTemplate(c.templateID, TemplateHolding) {
			continue
		}
		var h holdingArg
		if err := c.decode(&h); err != nil || h.Owner != party || h.Instrument.ID != InstrumentID {
			continue
		}
		total = total.Add(decimal.RequireFromString(h.Amount))
	}
	return total
}
