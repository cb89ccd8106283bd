package model

import (
	"encoding/json"
	"reflect"
	"sort"
	"strings"
	"testing"
)

func TestEventRecordJSONFields(t *testing.T) {
	record := EventRecord{
		Chain:       "arbitrum",
		Attacker:    "0x000000000000000000000000abcabcabcabcabcabcabcabcabcabcabcabcabc0",
		Action:      DefaultAction,
		Amount:      "0x00000000000000000000000000000000000000000000003635c9adc5dea00000",
		Timestamp:   1700000000,
		TxHash:      "0xdef456",
		BlockNumber: 12,
		HasBlock:    true,
		LogIndex:    3,
	}

	data, err := json.Marshal(record)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if strings.Contains(string(data), "\n") {
		t.Fatalf("record line must not contain newlines: %s", data)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}

	keys := make([]string, 0, len(decoded))
	for k := range decoded {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	want := []string{"action", "amount", "attacker", "chain", "timestamp", "tx_hash"}
	if !reflect.DeepEqual(keys, want) {
		t.Fatalf("fields mismatch: %v != %v", keys, want)
	}
	if _, ok := decoded["amount"].(string); !ok {
		t.Fatalf("amount should be string")
	}
}

func TestChainTargetActive(t *testing.T) {
	tests := []struct {
		name   string
		target ChainTarget
		want   bool
	}{
		{"enabled with address", ChainTarget{Chain: "arbitrum", Address: "0x1", Enabled: true}, true},
		{"enabled without address", ChainTarget{Chain: "base", Enabled: true}, false},
		{"disabled with address", ChainTarget{Chain: "blast", Address: "0x1"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.target.Active(); got != tt.want {
				t.Fatalf("Active() = %v, want %v", got, tt.want)
			}
		})
	}
}
