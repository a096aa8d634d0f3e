// Package export writes the validated dataset out as LLaMA chat-template
// JSONL, shuffled and divided into train/val/test splits.
package export

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/dexterai/traingen/internal/storage"
)

const systemPrompt = "You are Dexter, a crypto trading bot assistant. Provide structured trading reasoning with decisions."

// Splits are the dataset fractions per output file. They must sum to 1.
type Splits struct {
	Train float64
	Val   float64
	Test  float64
}

// DefaultSplits is the standard 80/10/10 division.
var DefaultSplits = Splits{Train: 0.8, Val: 0.1, Test: 0.1}

func (s Splits) validate() error {
	if s.Train < 0 || s.Val < 0 || s.Test < 0 {
		return fmt.Errorf("negative split fraction: %+v", s)
	}
	if math.Abs(s.Train+s.Val+s.Test-1.0) > 0.01 {
		return fmt.Errorf("splits must sum to 1.0, got %g", s.Train+s.Val+s.Test)
	}
	return nil
}

// message mirrors the chat-template message shape expected by fine-tuning
// tooling.
type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatExample struct {
	Messages []message `json:"messages"`
}

// Exporter writes valid examples from a store into split JSONL files.
type Exporter struct {
	store     *storage.Store
	outputDir string
}

// New creates an exporter writing into outputDir (created if absent).
func New(store *storage.Store, outputDir string) *Exporter {
	return &Exporter{store: store, outputDir: outputDir}
}

// Summary reports how many examples went into each file.
type Summary struct {
	Total int
	Train int
	Val   int
	Test  int
}

// Export shuffles all VALID examples, splits them per the given fractions,
// and writes train.jsonl, val.jsonl, and test.jsonl concurrently.
func (e *Exporter) Export(splits Splits) (Summary, error) {
	if err := splits.validate(); err != nil {
		return Summary{}, err
	}

	pairs, err := e.store.ValidExamples(0)
	if err != nil {
		return Summary{}, fmt.Errorf("loading valid examples: %w", err)
	}
	if len(pairs) == 0 {
		return Summary{}, fmt.Errorf("no valid examples to export")
	}

	if err := os.MkdirAll(e.outputDir, 0o755); err != nil {
		return Summary{}, fmt.Errorf("creating output directory: %w", err)
	}

	rand.Shuffle(len(pairs), func(i, j int) {
		pairs[i], pairs[j] = pairs[j], pairs[i]
	})

	total := len(pairs)
	trainEnd := int(float64(total) * splits.Train)
	valEnd := trainEnd + int(float64(total)*splits.Val)

	sum := Summary{
		Total: total,
		Train: trainEnd,
		Val:   valEnd - trainEnd,
		Test:  total - valEnd,
	}
	slog.Info("exporting dataset",
		"total", sum.Total, "train", sum.Train, "val", sum.Val, "test", sum.Test)

	var g errgroup.Group
	for _, part := range []struct {
		name  string
		pairs []storage.Pair
	}{
		{"train.jsonl", pairs[:trainEnd]},
		{"val.jsonl", pairs[trainEnd:valEnd]},
		{"test.jsonl", pairs[valEnd:]},
	} {
		g.Go(func() error {
			return e.writeSplit(part.name, part.pairs)
		})
	}
	if err := g.Wait(); err != nil {
		return Summary{}, err
	}
	return sum, nil
}

func (e *Exporter) writeSplit(filename string, pairs []storage.Pair) error {
	path := filepath.Join(e.outputDir, filename)
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", filename, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, p := range pairs {
		ex, err := formatChatExample(p)
		if err != nil {
			return fmt.Errorf("formatting example %s: %w", p.Scenario.Metadata.ScenarioID, err)
		}
		if err := enc.Encode(ex); err != nil {
			return fmt.Errorf("writing %s: %w", filename, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flushing %s: %w", filename, err)
	}
	return f.Close()
}

// formatChatExample renders one pair as a three-message chat exchange: the
// fixed system prompt, the scenario as the user turn, and the tagged
// reasoning plus decision as the assistant turn.
func formatChatExample(p storage.Pair) (chatExample, error) {
	market, err := json.MarshalIndent(p.Scenario.MarketContext, "", "  ")
	if err != nil {
		return chatExample{}, err
	}
	account, err := json.MarshalIndent(p.Scenario.AccountState, "", "  ")
	if err != nil {
		return chatExample{}, err
	}
	decision, err := json.MarshalIndent(p.Reasoning.Decision, "", "  ")
	if err != nil {
		return chatExample{}, err
	}

	user := fmt.Sprintf("Market context:\n%s\n\nAccount state:\n%s\n\nWhat should we do?\n%s",
		market, account, p.Scenario.DecisionPrompt)
	assistant := fmt.Sprintf("<reasoning>\n%s\n</reasoning>\n\n<decision>\n%s\n</decision>",
		p.Reasoning.Reasoning, decision)

	return chatExample{
		Messages: []message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: user},
			{Role: "assistant", Content: assistant},
		},
	}, nil
}
