package ledgertest

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
)

// contract is a contract instance held by the simulated ledger.
type contract struct {
	id           string
	templateID   string
	arg          map[string]any
	views        map[string]map[string]any
	stakeholders []string
	createdAt    int64
	archivedAt   int64
}

func (c *contract) active() bool { return c.archivedAt == 0 }

func (c *contract) activeAt(offset int64) bool {
	return c.createdAt <= offset && (c.archivedAt == 0 || c.archivedAt > offset)
}

func (c *contract) visibleTo(parties ...string) bool {
	for _, p := range parties {
		if slices.Contains(c.stakeholders, p) {
			return true
		}
	}
	return false
}

// implements reports whether c is an instance of id, either as its template
// or through an interface view.
func (c *contract) implements(id string) bool {
	if sameTemplate(c.templateID, id) {
		return true
	}
	for iface := range c.views {
		if sameTemplate(iface, id) {
			return true
		}
	}
	return false
}

func (c *contract) decode(out any) error {
	b, err := json.Marshal(c.arg)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, out)
}

func (c *contract) blob() string {
	return base64.StdEncoding.EncodeToString([]byte("blob:" + c.id))
}

func (c *contract) createdEvent(interfaceID string) map[string]any {
	ev := map[string]any{
		"contractId":       c.id,
		"templateId":       c.templateID,
		"createArgument":   c.arg,
		"createdEventBlob": c.blob(),
		"signatories":      []string{Admin},
		"observers":        c.stakeholders,
	}
	if interfaceID != "" {
		for iface, view := range c.views {
			if sameTemplate(iface, interfaceID) {
				ev["interfaceViews"] = []map[string]any{{"interfaceId": iface, "viewValue": view}}
			}
		}
	}
	return ev
}

func (c *contract) disclosed() map[string]any {
	return map[string]any{
		"templateId":       c.templateID,
		"contractId":       c.id,
		"createdEventBlob": c.blob(),
		"synchronizerId":   SynchronizerID,
	}
}

func (c *contract) info() map[string]any {
	return map[string]any{
		"contract_id":        c.id,
		"template_id":        c.templateID,
		"created_event_blob": c.blob(),
	}
}

// packageID rewrites a package-name reference ("#pkg:Module:Entity") into
// the package-id form the ledger reports.
func packageID(ref string) string {
	if !strings.HasPrefix(ref, "#") {
		return ref
	}
	name, rest, ok := strings.Cut(ref[1:], ":")
	if !ok {
		return ref
	}
	sum := sha256.Sum256([]byte(name))
	return hex.EncodeToString(sum[:]) + ":" + rest
}

func sameTemplate(a, b string) bool {
	_, sa, _ := strings.Cut(a, ":")
	_, sb, _ := strings.Cut(b, ":")
	return sa == sb
}

func toMap(v any) map[string]any {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		panic(err)
	}
	return out
}

// rejection is a submission the ledger refuses.
type rejection struct {
	code  string
	cause string
}

func (r *rejection) Error() string { return r.code + ": " + r.cause }

func reject(code, format string, args ...any) *rejection {
	return &rejection{code: code, cause: fmt.Sprintf(format, args...)}
}

// tx collects the effects of one submission; nothing is visible until commit.
type tx struct {
	s         *Server
	actAs     []string
	readAs    []string
	disclosed map[string]bool
	nodes     []map[string]any
	archived  map[string]bool
	created   []*contract
	args      map[string]json.RawMessage
}

func (s *Server) begin(actAs, readAs []string) *tx {
	return &tx{
		s:         s,
		actAs:     actAs,
		readAs:    readAs,
		disclosed: make(map[string]bool),
		archived:  make(map[string]bool),
		args:      make(map[string]json.RawMessage),
	}
}

func (t *tx) actingAs(party string) bool { return slices.Contains(t.actAs, party) }

// fetch returns a committed, active contract the submitters can see or that
// was disclosed with the command.
func (t *tx) fetch(cid string) (*contract, error) {
	c := t.s.byID[cid]
	if c == nil || !c.active() || t.archived[cid] {
		return nil, reject("CONTRACT_NOT_FOUND", "contract %s not found or not active", cid)
	}
	readers := append(append([]string{}, t.actAs...), t.readAs...)
	if !c.visibleTo(readers...) && !t.disclosed[cid] {
		return nil, reject("CONTRACT_NOT_FOUND", "contract %s is not visible to the submitters and was not disclosed", cid)
	}
	return c, nil
}

func (t *tx) create(templateID string, arg any, stakeholders ...string) *contract {
	t.s.nextID++
	c := &contract{
		id:           fmt.Sprintf("00%08x%s", t.s.nextID, strings.Repeat("0", 24)),
		templateID:   packageID(templateID),
		arg:          toMap(arg),
		views:        make(map[string]map[string]any),
		stakeholders: stakeholders,
	}
	t.created = append(t.created, c)
	t.nodes = append(t.nodes, map[string]any{"CreatedTreeEvent": map[string]any{"value": c.createdEvent("")}})
	return c
}

func (t *tx) archive(c *contract) {
	t.archived[c.id] = true
	t.nodes = append(t.nodes, map[string]any{"ExercisedTreeEvent": map[string]any{"value": map[string]any{
		"contractId":     c.id,
		"templateId":     c.templateID,
		"choice":         "Archive",
		"consuming":      true,
		"choiceArgument": map[string]any{},
		"exerciseResult": map[string]any{},
	}}})
}

func (t *tx) exercise(cmd *exerciseCommand) error {
	handler, ok := choices[cmd.Choice]
	if !ok {
		return reject("UNKNOWN_CHOICE", "choice %s is not supported", cmd.Choice)
	}
	target, err := t.fetch(cmd.ContractID)
	if err != nil {
		return err
	}
	if !target.implements(cmd.TemplateID) {
		return reject("WRONGLY_TYPED_CONTRACT", "contract %s is not a %s", cmd.ContractID, cmd.TemplateID)
	}

	node := len(t.nodes)
	t.nodes = append(t.nodes, nil)

	result, consuming, err := handler(t, target, cmd.ChoiceArgument)
	if err != nil {
		return err
	}
	if consuming {
		t.archived[target.id] = true
	}

	var arg any = map[string]any{}
	if len(cmd.ChoiceArgument) > 0 {
		arg = cmd.ChoiceArgument
	}
	t.nodes[node] = map[string]any{"ExercisedTreeEvent": map[string]any{"value": map[string]any{
		"contractId":     target.id,
		"templateId":     target.templateID,
		"choice":         cmd.Choice,
		"consuming":      consuming,
		"choiceArgument": arg,
		"exerciseResult": result,
	}}}
	t.args[cmd.Choice] = cmd.ChoiceArgument
	return nil
}

// commit applies t at a new offset and returns the submission response.
func (s *Server) commit(t *tx, commandID string) []byte {
	s.offset++
	for cid := range t.archived {
		if c := s.byID[cid]; c != nil {
			c.archivedAt = s.offset
		}
	}
	for _, c := range t.created {
		c.createdAt = s.offset
		s.contracts = append(s.contracts, c)
		s.byID[c.id] = c
	}
	for choice, arg := range t.args {
		s.lastArgs[choice] = arg
	}

	events := make(map[string]any, len(t.nodes))
	for i, n := range t.nodes {
		events[strconv.Itoa(i)] = n
	}
	body, err := json.Marshal(map[string]any{"transactionTree": map[string]any{
		"updateId":       fmt.Sprintf("1220%08x", s.offset),
		"commandId":      commandID,
		"offset":         s.offset,
		"synchronizerId": SynchronizerID,
		"eventsById":     events,
	}})
	if err != nil {
		panic(err)
	}
	return body
}

// apply commits changes made outside of any submission, such as attestor
// activity.
func (s *Server) apply(fn func(t *tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.begin([]string{Admin, Operator}, nil)
	if err := fn(t); err != nil {
		return err
	}
	s.commit(t, "external-"+strconv.FormatInt(s.offset+1, 10))
	return nil
}

func (s *Server) handleLedgerEnd(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]int64{"offset": s.offset})
}

type activeContractsRequest struct {
	Filter struct {
		FiltersByParty map[string]struct {
			Cumulative []struct {
				IdentifierFilter struct {
					TemplateFilter *struct {
						Value struct {
							TemplateID string `json:"templateId"`
						} `json:"value"`
					} `json:"TemplateFilter"`
					InterfaceFilter *struct {
						Value struct {
							InterfaceID string `json:"interfaceId"`
						} `json:"value"`
					} `json:"InterfaceFilter"`
				} `json:"identifierFilter"`
			} `json:"cumulative"`
		} `json:"filtersByParty"`
	} `json:"filter"`
	ActiveAtOffset int64 `json:"activeAtOffset"`
}

func (s *Server) handleActiveContracts(w http.ResponseWriter, r *http.Request) {
	var req activeContractsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeRejection(w, "INVALID_ARGUMENT", err.Error())
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if req.ActiveAtOffset > s.offset {
		writeRejection(w, "OFFSET_AFTER_LEDGER_END", fmt.Sprintf("offset %d is after ledger end %d", req.ActiveAtOffset, s.offset))
		return
	}

	seen := make(map[string]bool)
	out := make([]map[string]any, 0)
	for party, pf := range req.Filter.FiltersByParty {
		for _, cf := range pf.Cumulative {
			var templateID, interfaceID string
			switch f := cf.IdentifierFilter; {
			case f.TemplateFilter != nil:
				templateID = f.TemplateFilter.Value.TemplateID
			case f.InterfaceFilter != nil:
				interfaceID = f.InterfaceFilter.Value.InterfaceID
			default:
				continue
			}
			for _, c := range s.contracts {
				if seen[c.id] || !c.activeAt(req.ActiveAtOffset) || !c.visibleTo(party) {
					continue
				}
				if templateID != "" && !sameTemplate(c.templateID, templateID) {
					continue
				}
				if interfaceID != "" && !c.implements(interfaceID) {
					continue
				}
				seen[c.id] = true
				out = append(out, map[string]any{"contractEntry": map[string]any{"JsActiveContract": map[string]any{
					"createdEvent":   c.createdEvent(interfaceID),
					"synchronizerId": SynchronizerID,
				}}})
			}
		}
	}
	writeJSON(w, http.StatusOK, out)
}

type exerciseCommand struct {
	TemplateID     string          `json:"templateId"`
	ContractID     string          `json:"contractId"`
	Choice         string          `json:"choice"`
	ChoiceArgument json.RawMessage `json:"choiceArgument"`
}

type submitRequest struct {
	Commands []struct {
		ExerciseCommand *exerciseCommand `json:"ExerciseCommand"`
	} `json:"commands"`
	CommandID          string   `json:"commandId"`
	ActAs              []string `json:"actAs"`
	ReadAs             []string `json:"readAs"`
	UserID             string   `json:"userId"`
	DisclosedContracts []struct {
		ContractID       string `json:"contractId"`
		CreatedEventBlob string `json:"createdEventBlob"`
	} `json:"disclosedContracts"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeRejection(w, "INVALID_ARGUMENT", err.Error())
		return
	}
	if req.CommandID == "" || len(req.ActAs) == 0 || len(req.Commands) == 0 || req.UserID == "" {
		writeRejection(w, "INVALID_ARGUMENT", "commandId, actAs, userId and commands are required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++

	body, done := s.commands[req.CommandID]
	if !done {
		t := s.begin(req.ActAs, req.ReadAs)
		for _, d := range req.DisclosedContracts {
			c := s.byID[d.ContractID]
			if c == nil || d.CreatedEventBlob != c.blob() {
				writeRejection(w, "INVALID_DISCLOSED_CONTRACT", "disclosed contract "+d.ContractID+" does not match")
				return
			}
			t.disclosed[d.ContractID] = true
		}
		for _, cmd := range req.Commands {
			if cmd.ExerciseCommand == nil {
				writeRejection(w, "INVALID_ARGUMENT", "only exercise commands are supported")
				return
			}
			if err := t.exercise(cmd.ExerciseCommand); err != nil {
				if rj, ok := err.(*rejection); ok {
					writeRejection(w, rj.code, rj.cause)
					return
				}
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
		}
		body = s.commit(t, req.CommandID)
		s.commands[req.CommandID] = body
		s.submissions++
	}

	if s.dropResponses > 0 {
		s.dropResponses--
		http.Error(w, "response lost", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}
