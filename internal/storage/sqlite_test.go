package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/dexterai/traingen/internal/example"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testRecord(t *testing.T, scenarioID, status string) Record {
	t.Helper()
	sc := example.Scenario{
		ScenarioType:   "position_sizing",
		DecisionPrompt: "How large should the BTC position be?",
		MarketContext: example.MarketContext{
			Mids:          map[string]float64{"BTC": 43500},
			KeyIndicators: map[string]example.Indicator{"BTC": {RSI: 55}},
		},
		AccountState: example.AccountState{Equity: 10000, RiskLevel: example.RiskLow},
		Metadata:     example.Metadata{ScenarioID: scenarioID, ModelID: "test/model"},
	}
	r := example.Reasoning{
		Reasoning: "Position sizing follows from volatility and account risk budget here.",
		Decision: example.Decision{
			Action:           "open_long",
			Confidence:       0.7,
			ReasoningSummary: "Quarter-size entry on BTC",
		},
	}
	scJSON, err := json.Marshal(sc)
	if err != nil {
		t.Fatal(err)
	}
	rJSON, err := json.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	return Record{
		ScenarioID:       scenarioID,
		ScenarioJSON:     string(scJSON),
		ReasoningJSON:    string(rJSON),
		ValidationStatus: status,
	}
}

func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	indexes := []string{"idx_training_examples_status", "idx_training_examples_created_at"}
	for _, idx := range indexes {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying index %s: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %s missing", idx)
		}
	}
}

func TestUpsertExample_Idempotent(t *testing.T) {
	s := openTestStore(t)

	rec := testRecord(t, "scen-1", example.StatusValid)
	if err := s.UpsertExample(rec); err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	if err := s.UpsertExample(rec); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	st, err := s.GetStats()
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if st.Total != 1 || st.Valid != 1 {
		t.Errorf("stats = %+v, want one valid row", st)
	}
}

func TestUpsertExample_ReplacesStatus(t *testing.T) {
	s := openTestStore(t)

	if err := s.UpsertExample(testRecord(t, "scen-1", example.StatusValid)); err != nil {
		t.Fatal(err)
	}
	invalid := testRecord(t, "scen-1", example.StatusInvalid)
	invalid.ValidationError = "stage 2 (format): invalid RSI for BTC: 140"
	if err := s.UpsertExample(invalid); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetExample("scen-1")
	if err != nil {
		t.Fatalf("GetExample: %v", err)
	}
	if got.ValidationStatus != example.StatusInvalid {
		t.Errorf("status = %q after replace", got.ValidationStatus)
	}
	if got.ValidationError == "" {
		t.Error("validation error not stored")
	}
}

func TestGetExample_NotFound(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetExample("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestGetStats_Breakdown(t *testing.T) {
	s := openTestStore(t)

	for i := 0; i < 3; i++ {
		if err := s.UpsertExample(testRecord(t, fmt.Sprintf("valid-%d", i), example.StatusValid)); err != nil {
			t.Fatal(err)
		}
	}
	for i := 0; i < 2; i++ {
		if err := s.UpsertExample(testRecord(t, fmt.Sprintf("invalid-%d", i), example.StatusInvalid)); err != nil {
			t.Fatal(err)
		}
	}

	st, err := s.GetStats()
	if err != nil {
		t.Fatal(err)
	}
	if st.Total != 5 || st.Valid != 3 || st.Invalid != 2 {
		t.Errorf("stats = %+v, want 5/3/2", st)
	}

	n, err := s.CountValid()
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("CountValid = %d", n)
	}
}

func TestValidExamples_FiltersAndDecodes(t *testing.T) {
	s := openTestStore(t)

	if err := s.UpsertExample(testRecord(t, "valid-1", example.StatusValid)); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertExample(testRecord(t, "invalid-1", example.StatusInvalid)); err != nil {
		t.Fatal(err)
	}

	pairs, err := s.ValidExamples(0)
	if err != nil {
		t.Fatalf("ValidExamples: %v", err)
	}
	if len(pairs) != 1 {
		t.Fatalf("len(pairs) = %d, want 1", len(pairs))
	}
	if pairs[0].Scenario.Metadata.ScenarioID != "valid-1" {
		t.Errorf("ScenarioID = %q", pairs[0].Scenario.Metadata.ScenarioID)
	}
	if pairs[0].Reasoning.Decision.Action != "open_long" {
		t.Errorf("Action = %q", pairs[0].Reasoning.Decision.Action)
	}
}

func TestWriteBatch_SingleTransaction(t *testing.T) {
	s := openTestStore(t)

	recs := make([]Record, 10)
	for i := range recs {
		recs[i] = testRecord(t, fmt.Sprintf("batch-%d", i), example.StatusValid)
	}
	// Duplicate inside the batch exercises the conflict path.
	recs[9] = testRecord(t, "batch-0", example.StatusInvalid)

	if err := s.WriteBatch(recs); err != nil {
		t.Fatalf("WriteBatch: %v", err)
	}

	st, err := s.GetStats()
	if err != nil {
		t.Fatal(err)
	}
	if st.Total != 9 {
		t.Errorf("total = %d, want 9 (duplicate collapsed)", st.Total)
	}

	got, err := s.GetExample("batch-0")
	if err != nil {
		t.Fatal(err)
	}
	if got.ValidationStatus != example.StatusInvalid {
		t.Errorf("last write should win, status = %q", got.ValidationStatus)
	}
}

func TestRecentExamples_Limit(t *testing.T) {
	s := openTestStore(t)

	for i := 0; i < 5; i++ {
		if err := s.UpsertExample(testRecord(t, fmt.Sprintf("scen-%d", i), example.StatusValid)); err != nil {
			t.Fatal(err)
		}
	}

	recent, err := s.RecentExamples(3)
	if err != nil {
		t.Fatalf("RecentExamples: %v", err)
	}
	if len(recent) != 3 {
		t.Errorf("len = %d, want 3", len(recent))
	}
}
