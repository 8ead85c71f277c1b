package ledgertest

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Templates and interfaces known to the simulated ledger.
const (
	TemplateDepositAccountRules  = "#cbtc:CBTC.DepositAccountRules:CBTCDepositAccountRules"
	TemplateDepositAccount       = "#cbtc:CBTC.DepositAccount:CBTCDepositAccount"
	TemplateDepositRequest       = "#cbtc:CBTC.DepositRequest:CBTCDepositRequest"
	TemplateWithdrawAccountRules = "#cbtc:CBTC.WithdrawAccountRules:CBTCWithdrawAccountRules"
	TemplateWithdrawAccount      = "#cbtc:CBTC.WithdrawAccount:CBTCWithdrawAccount"
	TemplateWithdrawRequest      = "#cbtc:CBTC.WithdrawRequest:CBTCWithdrawRequest"

	TemplateHolding         = "#utility-registry-holding-v0:Utility.Registry.Holding.V0.Holding:Holding"
	TemplateTransferOffer   = "#utility-registry-app-v0:Utility.Registry.App.V0.Model.Transfer:TransferOffer"
	TemplateBurnMintFactory = "#utility-registry-app-v0:Utility.Registry.App.V0.Service.BurnMintFactory:BurnMintFactory"
	TemplateTransferRule    = "#utility-registry-app-v0:Utility.Registry.App.V0.Service.TransferRule:TransferRule"
	TemplateInstrumentCfg   = "#utility-registry-v0:Utility.Registry.V0.Configuration.Instrument:InstrumentConfiguration"
	TemplateCredential      = "#utility-credential-v0:Utility.Credential.V0.Credential:Credential"

	InterfaceHolding             = "#splice-api-token-holding-v1:Splice.Api.Token.HoldingV1:Holding"
	InterfaceTransferFactory     = "#splice-api-token-transfer-instruction-v1:Splice.Api.Token.TransferInstructionV1:TransferFactory"
	InterfaceTransferInstruction = "#splice-api-token-transfer-instruction-v1:Splice.Api.Token.TransferInstructionV1:TransferInstruction"

	InstrumentID = "CBTC"

	contextKeyInstrumentConfiguration = "utility.digitalasset.com/instrument-configuration"
	contextKeyIssuerCredentials       = "utility.digitalasset.com/issuer-credentials"
)

type choiceFunc func(t *tx, target *contract, arg json.RawMessage) (result any, consuming bool, err error)

var choices map[string]choiceFunc

func init() {
	choices = map[string]choiceFunc{
		"CBTCDepositAccountRules_CreateDepositAccount":   createDepositAccount,
		"CBTCWithdrawAccountRules_CreateWithdrawAccount": createWithdrawAccount,
		"CBTCWithdrawAccount_Withdraw":                   withdraw,
		"TransferFactory_Transfer":                       transferFactoryTransfer,
		"TransferInstruction_Accept":                     acceptInstruction,
		"TransferInstruction_Reject":                     returnInstruction(false),
		"TransferInstruction_Withdraw":                   returnInstruction(true),
	}
}

func decodeArg(arg json.RawMessage, out any) error {
	if err := json.Unmarshal(arg, out); err != nil {
		return reject("INVALID_ARGUMENT", "decode choice argument: %v", err)
	}
	return nil
}

func numeric(d decimal.Decimal) string { return d.StringFixed(10) }

type instrument struct {
	Admin string `json:"admin"`
	ID    string `json:"id"`
}

type metadata struct {
	Values map[string]string `json:"values"`
}

type anyValue struct {
	Tag   string          `json:"tag"`
	Value json.RawMessage `json:"value"`
}

type extraArgs struct {
	Context struct {
		Values map[string]anyValue `json:"values"`
	} `json:"context"`
	Meta metadata `json:"meta"`
}

// contextContract checks that key references want and that want was
// disclosed.
func (t *tx) contextContract(ea extraArgs, key string, want *contract) error {
	v, ok := ea.Context.Values[key]
	if !ok {
		return reject("INVALID_ARGUMENT", "choice context is missing %s", key)
	}
	var cid string
	if v.Tag != "AV_ContractId" || json.Unmarshal(v.Value, &cid) != nil || cid != want.id {
		return reject("INVALID_ARGUMENT", "choice context entry %s does not reference %s", key, want.id)
	}
	if !t.disclosed[cid] {
		return reject("CONTRACT_NOT_FOUND", "context contract %s was not disclosed", cid)
	}
	return nil
}

// contextList checks that key holds a list containing want, disclosed.
func (t *tx) contextList(ea extraArgs, key string, want *contract) error {
	v, ok := ea.Context.Values[key]
	if !ok {
		return reject("INVALID_ARGUMENT", "choice context is missing %s", key)
	}
	var elems []anyValue
	if v.Tag != "AV_List" || json.Unmarshal(v.Value, &elems) != nil {
		return reject("INVALID_ARGUMENT", "choice context entry %s is not a list", key)
	}
	for _, e := range elems {
		var cid string
		if e.Tag == "AV_ContractId" && json.Unmarshal(e.Value, &cid) == nil && cid == want.id {
			if !t.disclosed[cid] {
				return reject("CONTRACT_NOT_FOUND", "context contract %s was not disclosed", cid)
			}
			return nil
		}
	}
	return reject("INVALID_ARGUMENT", "choice context entry %s does not reference %s", key, want.id)
}

type holdingArg struct {
	Owner      string          `json:"owner"`
	Instrument instrument      `json:"instrument"`
	Amount     string          `json:"amount"`
	Lock       json.RawMessage `json:"lock"`
}

func holdingLock(locked bool) any {
	if !locked {
		return nil
	}
	return map[string]any{"holders": []string{Admin}, "expiresAt": nil, "context": "locked for test"}
}

func (t *tx) createHolding(owner, instrumentID string, amount decimal.Decimal, locked bool) *contract {
	inst := instrument{Admin: Admin, ID: instrumentID}
	c := t.create(TemplateHolding, map[string]any{
		"owner":      owner,
		"instrument": inst,
		"amount":     numeric(amount),
		"lock":       holdingLock(locked),
	}, owner, Admin)
	c.views[packageID(InterfaceHolding)] = map[string]any{
		"owner":        owner,
		"instrumentId": inst,
		"amount":       numeric(amount),
		"lock":         holdingLock(locked),
		"meta":         metadata{Values: map[string]string{}},
	}
	return c
}

// spend archives the input holdings of owner and returns their total.
func (t *tx) spend(owner string, cids []string) (decimal.Decimal, error) {
	total := decimal.Zero
	seen := make(map[string]bool, len(cids))
	for _, cid := range cids {
		if seen[cid] {
			return decimal.Zero, reject("INVALID_ARGUMENT", "holding %s is spent twice", cid)
		}
		seen[cid] = true

		c, err := t.fetch(cid)
		if err != nil {
			return decimal.Zero, err
		}
		if !sameTemplate(c.templateID, TemplateHolding) {
			return decimal.Zero, reject("WRONGLY_TYPED_CONTRACT", "%s is not a holding", cid)
		}
		var h holdingArg
		if err := c.decode(&h); err != nil {
			return decimal.Zero, err
		}
		if h.Owner != owner {
			return decimal.Zero, reject("DAML_AUTHORIZATION_ERROR", "holding %s is not owned by %s", cid, owner)
		}
		if l := strings.TrimSpace(string(h.Lock)); l != "" && l != "null" {
			return decimal.Zero, reject("HOLDING_LOCKED", "holding %s is locked", cid)
		}
		if h.Instrument.ID != InstrumentID {
			return decimal.Zero, reject("INVALID_ARGUMENT", "holding %s is not %s", cid, InstrumentID)
		}
		total = total.Add(decimal.RequireFromString(h.Amount))
		t.archive(c)
	}
	return total, nil
}

func createDepositAccount(t *tx, _ *contract, arg json.RawMessage) (any, bool, error) {
	var a struct {
		Owner string `json:"owner"`
	}
	if err := decodeArg(arg, &a); err != nil {
		return nil, false, err
	}
	if !t.actingAs(a.Owner) {
		return nil, false, reject("DAML_AUTHORIZATION_ERROR", "owner %s must submit", a.Owner)
	}
	acct := t.create(TemplateDepositAccount, map[string]any{
		"id":                        "acct-" + strconv.Itoa(t.s.nextID+1),
		"owner":                     a.Owner,
		"operator":                  Operator,
		"registrar":                 Admin,
		"lastProcessedBitcoinBlock": "0",
	}, a.Owner, Operator, Admin)
	return acct.id, false, nil
}

func createWithdrawAccount(t *tx, _ *contract, arg json.RawMessage) (any, bool, error) {
	var a struct {
		Owner                 string `json:"owner"`
		DestinationBtcAddress string `json:"destinationBtcAddress"`
	}
	if err := decodeArg(arg, &a); err != nil {
		return nil, false, err
	}
	if !t.actingAs(a.Owner) {
		return nil, false, reject("DAML_AUTHORIZATION_ERROR", "owner %s must submit", a.Owner)
	}
	if a.DestinationBtcAddress == "" {
		return nil, false, reject("INVALID_ARGUMENT", "destination address is required")
	}
	acct := t.create(TemplateWithdrawAccount, map[string]any{
		"owner":                 a.Owner,
		"operator":              Operator,
		"registrar":             Admin,
		"destinationBtcAddress": a.DestinationBtcAddress,
		"pendingBalance":        numeric(decimal.Zero),
	}, a.Owner, Operator, Admin)
	return acct.id, false, nil
}

func withdraw(t *tx, account *contract, arg json.RawMessage) (any, bool, error) {
	var a struct {
		Tokens             []string  `json:"tokens"`
		Amount             string    `json:"amount"`
		BurnMintFactoryCid string    `json:"burnMintFactoryCid"`
		ExtraArgs          extraArgs `json:"extraArgs"`
	}
	if err := decodeArg(arg, &a); err != nil {
		return nil, false, err
	}
	var acct struct {
		Owner                 string `json:"owner"`
		DestinationBtcAddress string `json:"destinationBtcAddress"`
	}
	if err := account.decode(&acct); err != nil {
		return nil, false, err
	}
	if !t.actingAs(acct.Owner) {
		return nil, false, reject("DAML_AUTHORIZATION_ERROR", "owner %s must submit", acct.Owner)
	}
	if a.BurnMintFactoryCid != t.s.burnFactory.id || !t.disclosed[a.BurnMintFactoryCid] {
		return nil, false, reject("CONTRACT_NOT_FOUND", "burn mint factory %s was not disclosed", a.BurnMintFactoryCid)
	}
	if err := t.contextContract(a.ExtraArgs, contextKeyInstrumentConfiguration, t.s.instrumentCfg); err != nil {
		return nil, false, err
	}
	if !t.s.omitOptional {
		if err := t.contextList(a.ExtraArgs, contextKeyIssuerCredentials, t.s.issuerCred); err != nil {
			return nil, false, err
		}
	}

	amount, err := decimal.NewFromString(a.Amount)
	if err != nil || !amount.IsPositive() {
		return nil, false, reject("INVALID_ARGUMENT", "invalid amount %q", a.Amount)
	}
	total, err := t.spend(acct.Owner, a.Tokens)
	if err != nil {
		return nil, false, err
	}
	if total.LessThan(amount) {
		return nil, false, reject("INSUFFICIENT_FUNDS", "holdings total %s, need %s", total, amount)
	}
	if change := total.Sub(amount); change.IsPositive() {
		t.createHolding(acct.Owner, InstrumentID, change, false)
	}

	req := t.create(TemplateWithdrawRequest, map[string]any{
		"owner":                 acct.Owner,
		"registrar":             Admin,
		"amount":                numeric(amount),
		"destinationBtcAddress": acct.DestinationBtcAddress,
		"btcTxId":               nil,
		"sourceAccountId":       account.id,
	}, acct.Owner, Operator, Admin)
	return req.id, false, nil
}

type transferRecord struct {
	Sender           string     `json:"sender"`
	Receiver         string     `json:"receiver"`
	Amount           string     `json:"amount"`
	InstrumentID     instrument `json:"instrumentId"`
	RequestedAt      time.Time  `json:"requestedAt"`
	ExecuteBefore    time.Time  `json:"executeBefore"`
	InputHoldingCids []string   `json:"inputHoldingCids"`
	Meta             metadata   `json:"meta"`
}

func (r transferRecord) validate() (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(r.Amount)
	if err != nil || !amount.IsPositive() {
		return decimal.Zero, reject("INVALID_ARGUMENT", "invalid amount %q", r.Amount)
	}
	if r.InstrumentID.Admin != Admin || r.InstrumentID.ID != InstrumentID {
		return decimal.Zero, reject("INVALID_ARGUMENT", "unknown instrument %s/%s", r.InstrumentID.Admin, r.InstrumentID.ID)
	}
	if !r.ExecuteBefore.After(r.RequestedAt) {
		return decimal.Zero, reject("INVALID_ARGUMENT", "executeBefore must be after requestedAt")
	}
	if r.Sender == "" || r.Receiver == "" {
		return decimal.Zero, reject("INVALID_ARGUMENT", "sender and receiver are required")
	}
	return amount, nil
}

func transferResult(tag string, change []string, value map[string]any) map[string]any {
	if change == nil {
		change = []string{}
	}
	return map[string]any{
		"output":           map[string]any{"tag": tag, "value": value},
		"senderChangeCids": change,
		"meta":             metadata{Values: map[string]string{}},
	}
}

func transferFactoryTransfer(t *tx, _ *contract, arg json.RawMessage) (any, bool, error) {
	var a struct {
		ExpectedAdmin string         `json:"expectedAdmin"`
		Transfer      transferRecord `json:"transfer"`
		ExtraArgs     extraArgs      `json:"extraArgs"`
	}
	if err := decodeArg(arg, &a); err != nil {
		return nil, false, err
	}
	if a.ExpectedAdmin != Admin {
		return nil, false, reject("INVALID_ARGUMENT", "unexpected admin %s", a.ExpectedAdmin)
	}
	tr := a.Transfer
	amount, err := tr.validate()
	if err != nil {
		return nil, false, err
	}
	if !t.actingAs(tr.Sender) {
		return nil, false, reject("DAML_AUTHORIZATION_ERROR", "sender %s must submit", tr.Sender)
	}
	if err := t.contextContract(a.ExtraArgs, contextKeyInstrumentConfiguration, t.s.instrumentCfg); err != nil {
		return nil, false, err
	}

	total, err := t.spend(tr.Sender, tr.InputHoldingCids)
	if err != nil {
		return nil, false, err
	}
	if total.LessThan(amount) {
		return nil, false, reject("INSUFFICIENT_FUNDS", "inputs total %s, need %s", total, amount)
	}

	var change []string
	if rest := total.Sub(amount); rest.IsPositive() {
		change = append(change, t.createHolding(tr.Sender, InstrumentID, rest, false).id)
	}

	if tr.Sender == tr.Receiver {
		out := t.createHolding(tr.Receiver, InstrumentID, amount, false)
		return transferResult("TransferInstructionResult_Completed", change,
			map[string]any{"receiverHoldingCids": []string{out.id}}), false, nil
	}

	offer := t.create(TemplateTransferOffer, map[string]any{"transfer": tr}, tr.Sender, tr.Receiver, Admin)
	offer.views[packageID(InterfaceTransferInstruction)] = map[string]any{
		"originalInstructionCid": nil,
		"transfer":               tr,
		"status":                 map[string]any{"tag": "TransferPendingReceiverAcceptance", "value": map[string]any{}},
		"meta":                   metadata{Values: map[string]string{}},
	}
	return transferResult("TransferInstructionResult_Pending", change,
		map[string]any{"transferInstructionCid": offer.id}), false, nil
}

func offerTransfer(c *contract) (transferRecord, decimal.Decimal, error) {
	var o struct {
		Transfer transferRecord `json:"transfer"`
	}
	if err := c.decode(&o); err != nil {
		return transferRecord{}, decimal.Zero, err
	}
	amount, err := decimal.NewFromString(o.Transfer.Amount)
	if err != nil {
		return transferRecord{}, decimal.Zero, err
	}
	return o.Transfer, amount, nil
}

func acceptInstruction(t *tx, offer *contract, _ json.RawMessage) (any, bool, error) {
	tr, amount, err := offerTransfer(offer)
	if err != nil {
		return nil, false, err
	}
	if !t.actingAs(tr.Receiver) {
		return nil, false, reject("DAML_AUTHORIZATION_ERROR", "receiver %s must accept", tr.Receiver)
	}
	out := t.createHolding(tr.Receiver, InstrumentID, amount, false)
	return transferResult("TransferInstructionResult_Completed", nil,
		map[string]any{"receiverHoldingCids": []string{out.id}}), true, nil
}

// returnInstruction gives the escrowed amount back to the sender, either on
// the sender's withdrawal or the receiver's rejection.
func returnInstruction(bySender bool) choiceFunc {
	return func(t *tx, offer *contract, _ json.RawMessage) (any, bool, error) {
		tr, amount, err := offerTransfer(offer)
		if err != nil {
			return nil, false, err
		}
		actor := tr.Receiver
		if bySender {
			actor = tr.Sender
		}
		if !t.actingAs(actor) {
			return nil, false, reject("DAML_AUTHORIZATION_ERROR", "%s must submit", actor)
		}
		back := t.createHolding(tr.Sender, InstrumentID, amount, false)
		return transferResult("TransferInstructionResult_Failed", []string{back.id}, map[string]any{}), true, nil
	}
}
