package values

import "encoding/json"

// Well-known Splice metadata keys.
const (
	MetaKeyReason    = "splice.lfdecentralizedtrust.org/reason"
	MetaKeyReference = "splice.lfdecentralizedtrust.org/reference"
	MetaKeyTxKind    = "splice.lfdecentralizedtrust.org/tx-kind"

	TxKindMergeSplit = "merge-split"
)

// Tags of the Splice AnyValue variant.
const (
	TagContractID = "AV_ContractId"
	TagList       = "AV_List"
	TagText       = "AV_Text"
)

// Metadata is a Splice Metadata { values : TextMap Text }.
type Metadata struct {
	Values map[string]string `json:"values"`
}

// EncodeMetadata creates a Splice Metadata value. Empty entries are dropped.
func EncodeMetadata(kvs map[string]string) Metadata {
	out := make(map[string]string, len(kvs))
	for k, v := range kvs {
		if v == "" {
			continue
		}
		out[k] = v
	}
	return Metadata{Values: out}
}

// EmptyMetadata returns an empty Splice Metadata record.
func EmptyMetadata() Metadata {
	return Metadata{Values: map[string]string{}}
}

// InstrumentID is a Splice InstrumentId { admin : Party, id : Text }.
type InstrumentID struct {
	Admin string `json:"admin"`
	ID    string `json:"id"`
}

// AnyValue is the tagged Splice AnyValue used in choice contexts.
type AnyValue struct {
	Tag   string `json:"tag"`
	Value any    `json:"value"`
}

// ContractIDValue wraps a contract id as AV_ContractId.
func ContractIDValue(cid string) AnyValue {
	return AnyValue{Tag: TagContractID, Value: cid}
}

// TextValue wraps text as AV_Text.
func TextValue(s string) AnyValue {
	return AnyValue{Tag: TagText, Value: s}
}

// ListValue wraps elements as AV_List.
func ListValue(elements ...AnyValue) AnyValue {
	if elements == nil {
		elements = []AnyValue{}
	}
	return AnyValue{Tag: TagList, Value: elements}
}

// ChoiceContext is a Splice ChoiceContext { values : TextMap AnyValue }.
type ChoiceContext struct {
	Values map[string]AnyValue `json:"values"`
}

// EmptyChoiceContext returns a choice context with no entries.
func EmptyChoiceContext() ChoiceContext {
	return ChoiceContext{Values: map[string]AnyValue{}}
}

// MarshalJSON never emits a null values map.
func (c ChoiceContext) MarshalJSON() ([]byte, error) {
	vals := c.Values
	if vals == nil {
		vals = map[string]AnyValue{}
	}
	return json.Marshal(struct {
		Values map[string]AnyValue `json:"values"`
	}{vals})
}

// ExtraArgs is a Splice ExtraArgs { context : ChoiceContext, meta : Metadata }.
type ExtraArgs struct {
	Context ChoiceContext `json:"context"`
	Meta    Metadata      `json:"meta"`
}

// EncodeExtraArgs builds ExtraArgs from a choice context and metadata entries.
func EncodeExtraArgs(ctx ChoiceContext, meta map[string]string) ExtraArgs {
	return ExtraArgs{Context: ctx, Meta: EncodeMetadata(meta)}
}

// EmptyExtraArgs returns ExtraArgs with an empty context and metadata.
func EmptyExtraArgs() ExtraArgs {
	return ExtraArgs{Context: EmptyChoiceContext(), Meta: EmptyMetadata()}
}
