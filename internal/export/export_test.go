package export

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dexterai/traingen/internal/example"
	"github.com/dexterai/traingen/internal/storage"
)

func newSeededStore(t *testing.T, valid, invalid int) *storage.Store {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	for i := 0; i < valid; i++ {
		seedExample(t, store, fmt.Sprintf("valid-%03d", i), example.StatusValid)
	}
	for i := 0; i < invalid; i++ {
		seedExample(t, store, fmt.Sprintf("invalid-%03d", i), example.StatusInvalid)
	}
	return store
}

func seedExample(t *testing.T, store *storage.Store, id, status string) {
	t.Helper()
	sc := example.Scenario{
		ScenarioType: "liquidation_risk",
		MarketContext: example.MarketContext{
			Mids: map[string]float64{"BTC": 43500, "ETH": 2300},
			KeyIndicators: map[string]example.Indicator{
				"BTC": {Momentum24h: -0.02, RSI: 65, ATRPct: 1.8},
			},
			MarketConditions: map[string]string{"trend": "volatile with downside pressure"},
		},
		AccountState: example.AccountState{
			Equity:        10000,
			Leverage:      2.5,
			OpenPositions: []map[string]any{{"coin": "BTC", "size": 0.2, "entry_price": 42000.0}},
			RiskLevel:     example.RiskMedium,
		},
		DecisionPrompt: "Should we reduce exposure before the funding window?",
		Complexity:     "medium",
		Metadata: example.Metadata{
			GeneratedAt: time.Now().UTC(),
			ModelID:     "test/model",
			ScenarioID:  id,
		},
	}
	r := example.Reasoning{
		Reasoning: strings.Repeat("The market shows elevated risk. ", 5),
		Decision: example.Decision{
			Action:           "reduce_position",
			Parameters:       map[string]any{"coin": "BTC", "fraction": 0.5},
			Confidence:       0.8,
			ReasoningSummary: "Cutting BTC exposure ahead of funding.",
		},
		FullResponse: "full text",
		Metadata:     example.ReasoningMetadata{ModelID: "test/model"},
	}
	scJSON, err := json.Marshal(sc)
	if err != nil {
		t.Fatalf("marshal scenario: %v", err)
	}
	rJSON, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal reasoning: %v", err)
	}
	if err := store.UpsertExample(storage.Record{
		ScenarioID:       id,
		ScenarioJSON:     string(scJSON),
		ReasoningJSON:    string(rJSON),
		ValidationStatus: status,
	}); err != nil {
		t.Fatalf("upsert %s: %v", id, err)
	}
}

func countLines(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening %s: %v", path, err)
	}
	defer f.Close()
	n := 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 1<<20), 1<<20)
	for sc.Scan() {
		n++
	}
	if err := sc.Err(); err != nil {
		t.Fatalf("scanning %s: %v", path, err)
	}
	return n
}

func TestExportSplitCounts(t *testing.T) {
	store := newSeededStore(t, 20, 3)
	dir := t.TempDir()

	sum, err := New(store, dir).Export(DefaultSplits)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if sum.Total != 20 {
		t.Fatalf("Total = %d, want 20 (invalid rows must be excluded)", sum.Total)
	}
	if sum.Train+sum.Val+sum.Test != sum.Total {
		t.Fatalf("splits %d+%d+%d != total %d", sum.Train, sum.Val, sum.Test, sum.Total)
	}
	if sum.Train != 16 || sum.Val != 2 || sum.Test != 2 {
		t.Fatalf("split sizes = %d/%d/%d, want 16/2/2", sum.Train, sum.Val, sum.Test)
	}

	for name, want := range map[string]int{"train.jsonl": 16, "val.jsonl": 2, "test.jsonl": 2} {
		got := countLines(t, filepath.Join(dir, name))
		if got != want {
			t.Errorf("%s has %d lines, want %d", name, got, want)
		}
	}
}

func TestExportChatShape(t *testing.T) {
	store := newSeededStore(t, 1, 0)
	dir := t.TempDir()

	if _, err := New(store, dir).Export(Splits{Train: 1, Val: 0, Test: 0}); err != nil {
		t.Fatalf("Export: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "train.jsonl"))
	if err != nil {
		t.Fatalf("reading train.jsonl: %v", err)
	}
	var ex chatExample
	if err := json.Unmarshal(data, &ex); err != nil {
		t.Fatalf("decoding line: %v", err)
	}
	if len(ex.Messages) != 3 {
		t.Fatalf("got %d messages, want 3", len(ex.Messages))
	}
	if ex.Messages[0].Role != "system" || ex.Messages[0].Content != systemPrompt {
		t.Errorf("system message = %+v", ex.Messages[0])
	}
	if ex.Messages[1].Role != "user" {
		t.Errorf("second role = %q, want user", ex.Messages[1].Role)
	}
	for _, part := range []string{"Market context:", "Account state:", "What should we do?", "funding window"} {
		if !strings.Contains(ex.Messages[1].Content, part) {
			t.Errorf("user content missing %q", part)
		}
	}
	if ex.Messages[2].Role != "assistant" {
		t.Errorf("third role = %q, want assistant", ex.Messages[2].Role)
	}
	for _, part := range []string{"<reasoning>", "</reasoning>", "<decision>", "</decision>", "reduce_position"} {
		if !strings.Contains(ex.Messages[2].Content, part) {
			t.Errorf("assistant content missing %q", part)
		}
	}
}

func TestExportRejectsBadSplits(t *testing.T) {
	store := newSeededStore(t, 2, 0)
	dir := t.TempDir()

	if _, err := New(store, dir).Export(Splits{Train: 0.5, Val: 0.3, Test: 0.3}); err == nil {
		t.Fatal("expected error for splits summing to 1.1")
	}
	if _, err := New(store, dir).Export(Splits{Train: 1.2, Val: -0.1, Test: -0.1}); err == nil {
		t.Fatal("expected error for negative split")
	}
}

func TestExportNoValidExamples(t *testing.T) {
	store := newSeededStore(t, 0, 2)

	if _, err := New(store, t.TempDir()).Export(DefaultSplits); err == nil {
		t.Fatal("expected error when no valid examples exist")
	}
}
