package ledger

import (
	"encoding/json"
	"testing"
)

func TestTransactionTree_EventsOrderedByNodeID(t *testing.T) {
	raw := `{"updateId":"u","commandId":"c","offset":3,"eventsById":{
		"10":{"CreatedTreeEvent":{"value":{"contractId":"c10"}}},
		"2":{"CreatedTreeEvent":{"value":{"contractId":"c2"}}},
		"0":{"ExercisedTreeEvent":{"value":{"contractId":"root","choice":"Go","consuming":true}}},
		"1":{"ArchivedEvent":{"value":{"contractId":"old"}}}
	}}`

	var tree TransactionTree
	if err := json.Unmarshal([]byte(raw), &tree); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(tree.Events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(tree.Events))
	}
	want := []int{0, 1, 2, 10}
	for i, ev := range tree.Events {
		if ev.NodeID != want[i] {
			t.Errorf("event %d: expected node %d, got %d", i, want[i], ev.NodeID)
		}
	}
	if tree.Events[3].Created == nil || tree.Events[3].Created.ContractID != "c10" {
		t.Errorf("expected c10 last, got %+v", tree.Events[3])
	}
}

func TestTransactionTree_BadNodeID(t *testing.T) {
	var tree TransactionTree
	if err := json.Unmarshal([]byte(`{"eventsById":{"x":{}}}`), &tree); err == nil {
		t.Error("expected error for non-numeric node id")
	}
}

func TestSameTemplate(t *testing.T) {
	cases := []struct {
		a, b string
		want bool
	}{
		{"#cbtc:CBTC.DepositAccount:CBTCDepositAccount", "f00d:CBTC.DepositAccount:CBTCDepositAccount", true},
		{"#cbtc:CBTC.DepositAccount:CBTCDepositAccount", "#cbtc:CBTC.DepositRequest:CBTCDepositRequest", false},
	}
	for _, c := range cases {
		if got := SameTemplate(c.a, c.b); got != c.want {
			t.Errorf("SameTemplate(%q, %q) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestExerciseCommand_TaggedEncoding(t *testing.T) {
	b, err := json.Marshal(ExerciseCommand{TemplateID: "#p:M:T", ContractID: "00a", Choice: "C", ChoiceArgument: map[string]string{}})
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]map[string]any
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatal(err)
	}
	if got["ExerciseCommand"]["choice"] != "C" {
		t.Errorf("expected tagged ExerciseCommand, got %s", b)
	}
}
