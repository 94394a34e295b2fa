package pipeline

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ordermatch/internal/provider"
)

const (
	// DefaultMemoModel is the logical chat model for line-level memos.
	DefaultMemoModel = "gpt-4o-3"
	// DefaultMemoTimeout bounds the line-level memo call.
	DefaultMemoTimeout = 45 * time.Second
)

type memoLine struct {
	Index       int    `json:"index"`
	Content     string `json:"itemContent"`
	Description string `json:"itemDescription"`
	ProductName string `json:"itemProductName"`
	AllContent  string `json:"allContent"`
}

type lineMemo struct {
	Index  int    `json:"index"`
	Memo   string `json:"memo"`
	Reason string `json:"reason"`
}

type lineMaterial struct {
	MaterialHint
	Reason string `json:"reason"`
}

// memoResult is the line-level memo and material extraction.
type memoResult struct {
	Memos     []lineMemo     `json:"line_level_memos"`
	Materials []lineMaterial `json:"line_level_materials"`
}

func (m memoResult) memo(index int) string {
	for _, lm := range m.Memos {
		if lm.Index == index {
			return lm.Memo
		}
	}
	return ""
}

// memos asks the model for line-specific memos and material numbers.
// Failures and timeouts yield an empty result.
func (p *Pipeline) memos(ctx context.Context, chat Chatter, items []Item, hints []MaterialHint) memoResult {
	if len(items) == 0 {
		return memoResult{}
	}
	lines := make([]memoLine, len(items))
	for i, it := range items {
		var all []string
		for _, s := range []string{it.Content, it.Description, it.ProductCode} {
			if s = strings.TrimSpace(s); s != "" {
				all = append(all, s)
			}
		}
		lines[i] = memoLine{
			Index:       i,
			Content:     it.Content,
			Description: it.Description,
			ProductName: hintFor(hints, i).ProductName,
			AllContent:  strings.Join(all, " | "),
		}
	}
	body, err := json.Marshal(lines)
	if err != nil {
		p.logger.Warn(ctx, "marshaling memo lines", zap.Error(err))
		return memoResult{}
	}

	ctx, cancel := context.WithTimeout(ctx, p.memoTimeout)
	defer cancel()

	var out memoResult
	err = chat.ChatJSON(ctx, provider.ChatRequest{
		Model: p.memoModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: memoInstructions},
			{Role: openai.ChatMessageRoleUser, Content: string(body)},
		},
	}, &out)
	if err != nil {
		p.logger.Warn(ctx, "line-level memo call failed, continuing without memos",
			zap.Int("lines", len(lines)), zap.Error(err))
		return memoResult{}
	}

	valid := out.Memos[:0]
	for _, m := range out.Memos {
		if m.Index < 0 || m.Index >= len(items) {
			p.logger.Warn(ctx, "memo index out of range", zap.Int("index", m.Index), zap.Int("lines", len(items)))
			continue
		}
		valid = append(valid, m)
	}
	out.Memos = valid
	return out
}

// mergeHints unions line-level material numbers into the extracted
// hints with the same index. Line-level hints without an extracted
// counterpart are added.
func mergeHints(hints []MaterialHint, extra []lineMaterial) []MaterialHint {
	out := make([]MaterialHint, len(hints))
	copy(out, hints)
	for _, lm := range extra {
		merged := false
		for i := range out {
			if out[i].Index != lm.Index {
				continue
			}
			out[i].MaterialNumbers = dedupe(append(append([]string(nil), out[i].MaterialNumbers...), lm.MaterialNumbers...))
			if out[i].ProductName == "" {
				out[i].ProductName = lm.ProductName
			}
			merged = true
			break
		}
		if !merged {
			out = append(out, lm.MaterialHint)
		}
	}
	return out
}

func hintFor(hints []MaterialHint, index int) MaterialHint {
	for _, h := range hints {
		if h.Index == index {
			return h
		}
	}
	return MaterialHint{Index: index}
}

func batchFor(batches []Batch, index int) string {
	for _, b := range batches {
		if b.Index == index {
			return b.Batch.String()
		}
	}
	return ""
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

const memoInstructions = `# Instructions

You are given line items extracted from a purchase order. Each item has:
- index: the 0-based line index
- itemContent: the raw content of the line
- itemDescription: the extracted description
- itemProductName: the extracted product name
- allContent: every extracted value of the line

For each line, extract:
1. Memos that apply to that line only, such as lot requests, batch instructions, delivery notes or packaging requirements for that product. Do not assign document-level notes to a line and do not copy a memo from one line to another.
2. Material or catalog numbers that appear in that line's content, and the product name.

Return empty arrays when nothing line-specific is found.

Respond with JSON only:
{
    "line_level_memos": [
        {"index": 0, "memo": "memo text for this line", "reason": "why this memo belongs to this line"}
    ],
    "line_level_materials": [
        {"index": 0, "materialNumbers": ["12345"], "productName": "name of product", "reason": "how the numbers were found"}
    ]
}`
