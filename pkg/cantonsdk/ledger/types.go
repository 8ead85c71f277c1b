package ledger

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Filter selects which contracts an active-contracts query returns.
// Exactly one of TemplateID or InterfaceID is set.
type Filter struct {
	TemplateID  string
	InterfaceID string
}

// TemplateFilter matches contracts of a concrete template.
func TemplateFilter(templateID string) Filter { return Filter{TemplateID: templateID} }

// InterfaceFilter matches contracts implementing an interface and asks for the interface view.
func InterfaceFilter(interfaceID string) Filter { return Filter{InterfaceID: interfaceID} }

func (f Filter) validate() error {
	if (f.TemplateID == "") == (f.InterfaceID == "") {
		return fmt.Errorf("exactly one of template id or interface id is required")
	}
	return nil
}

// InterfaceView is the projection of a contract onto an interface.
type InterfaceView struct {
	InterfaceID string          `json:"interfaceId"`
	ViewValue   json.RawMessage `json:"viewValue"`
}

// CreatedEvent is a contract creation as reported by the JSON Ledger API.
type CreatedEvent struct {
	ContractID       string          `json:"contractId"`
	TemplateID       string          `json:"templateId"`
	CreateArgument   json.RawMessage `json:"createArgument"`
	CreatedEventBlob string          `json:"createdEventBlob"`
	InterfaceViews   []InterfaceView `json:"interfaceViews,omitempty"`
	Signatories      []string        `json:"signatories,omitempty"`
	Observers        []string        `json:"observers,omitempty"`
}

// View returns the view value for interfaceID, or nil.
func (e *CreatedEvent) View(interfaceID string) json.RawMessage {
	for _, v := range e.InterfaceViews {
		if v.InterfaceID == interfaceID || templateSuffix(v.InterfaceID) == templateSuffix(interfaceID) {
			return v.ViewValue
		}
	}
	return nil
}

// ActiveContract is a created event together with the synchronizer it lives on.
type ActiveContract struct {
	CreatedEvent   *CreatedEvent
	SynchronizerID string
}

// Disclosed returns the contract as an explicit disclosure for a submission.
func (a *ActiveContract) Disclosed() DisclosedContract {
	return DisclosedContract{
		TemplateID:       a.CreatedEvent.TemplateID,
		ContractID:       a.CreatedEvent.ContractID,
		CreatedEventBlob: a.CreatedEvent.CreatedEventBlob,
		SynchronizerID:   a.SynchronizerID,
	}
}

// DisclosedContract is a contract supplied alongside a command because the
// submitting party cannot see it.
type DisclosedContract struct {
	TemplateID       string `json:"templateId"`
	ContractID       string `json:"contractId"`
	CreatedEventBlob string `json:"createdEventBlob"`
	SynchronizerID   string `json:"synchronizerId,omitempty"`
}

// ExerciseCommand exercises a choice on an existing contract.
type ExerciseCommand struct {
	TemplateID     string `json:"templateId"`
	ContractID     string `json:"contractId"`
	Choice         string `json:"choice"`
	ChoiceArgument any    `json:"choiceArgument"`
}

// MarshalJSON wraps the command in the tagged form the JSON API expects.
func (c ExerciseCommand) MarshalJSON() ([]byte, error) {
	type plain ExerciseCommand
	return json.Marshal(map[string]plain{"ExerciseCommand": plain(c)})
}

// SubmitRequest is the body of submit-and-wait-for-transaction-tree.
type SubmitRequest struct {
	Commands           []ExerciseCommand   `json:"commands"`
	CommandID          string              `json:"commandId"`
	ActAs              []string            `json:"actAs"`
	ReadAs             []string            `json:"readAs,omitempty"`
	UserID             string              `json:"userId,omitempty"`
	DisclosedContracts []DisclosedContract `json:"disclosedContracts,omitempty"`
	SynchronizerID     string              `json:"synchronizerId,omitempty"`
}

// ExercisedEvent is a choice exercise inside a transaction tree.
type ExercisedEvent struct {
	ContractID     string          `json:"contractId"`
	TemplateID     string          `json:"templateId"`
	Choice         string          `json:"choice"`
	Consuming      bool            `json:"consuming"`
	ChoiceArgument json.RawMessage `json:"choiceArgument,omitempty"`
	ExerciseResult json.RawMessage `json:"exerciseResult,omitempty"`
}

// ArchivedEvent is an explicit archival inside a transaction tree.
type ArchivedEvent struct {
	ContractID string `json:"contractId"`
	TemplateID string `json:"templateId"`
}

// TreeEvent is one node of a transaction tree. Exactly one of the event
// pointers is set.
type TreeEvent struct {
	NodeID    int
	Created   *CreatedEvent
	Exercised *ExercisedEvent
	Archived  *ArchivedEvent
}

// TransactionTree is the committed result of a submission.
type TransactionTree struct {
	UpdateID  string
	CommandID string
	Offset    int64
	// Events are ordered by node id.
	Events []TreeEvent
}

type rawTransactionTree struct {
	UpdateID   string                     `json:"updateId"`
	CommandID  string                     `json:"commandId"`
	Offset     int64                      `json:"offset"`
	EventsByID map[string]json.RawMessage `json:"eventsById"`
}

type rawTreeEvent struct {
	Created *struct {
		Value CreatedEvent `json:"value"`
	} `json:"CreatedTreeEvent"`
	Exercised *struct {
		Value ExercisedEvent `json:"value"`
	} `json:"ExercisedTreeEvent"`
	Archived *struct {
		Value ArchivedEvent `json:"value"`
	} `json:"ArchivedEvent"`
}

// UnmarshalJSON decodes the map-keyed events of the JSON API into an
// ordered slice.
func (t *TransactionTree) UnmarshalJSON(b []byte) error {
	var raw rawTransactionTree
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	events := make([]TreeEvent, 0, len(raw.EventsByID))
	for key, body := range raw.EventsByID {
		nodeID, err := strconv.Atoi(key)
		if err != nil {
			return fmt.Errorf("event node id %q: %w", key, err)
		}
		var ev rawTreeEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return fmt.Errorf("decode event %d: %w", nodeID, err)
		}
		te := TreeEvent{NodeID: nodeID}
		switch {
		case ev.Exercised != nil:
			te.Exercised = &ev.Exercised.Value
		case ev.Created != nil:
			te.Created = &ev.Created.Value
		case ev.Archived != nil:
			te.Archived = &ev.Archived.Value
		default:
			continue
		}
		events = append(events, te)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].NodeID < events[j].NodeID })

	*t = TransactionTree{
		UpdateID:  raw.UpdateID,
		CommandID: raw.CommandID,
		Offset:    raw.Offset,
		Events:    events,
	}
	return nil
}

// templateSuffix strips the package reference of a template id,
// leaving "Module:Entity".
func templateSuffix(id string) string {
	for i := 0; i < len(id); i++ {
		if id[i] == ':' {
			return id[i+1:]
		}
	}
	return id
}

// SameTemplate reports whether two template ids name the same module and
// entity, ignoring how the package is referenced (package id or #name).
func SameTemplate(a, b string) bool {
	return templateSuffix(a) == templateSuffix(b)
}
