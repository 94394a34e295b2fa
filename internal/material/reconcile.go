package material

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ordermatch/internal/logging"
	"github.com/fyrsmithlabs/ordermatch/internal/provider"
)

// DefaultModel is the logical chat model for reconciliation.
const DefaultModel = "o3-mini-2"

// Chatter runs a JSON chat completion.
type Chatter interface {
	ChatJSON(ctx context.Context, req provider.ChatRequest, out interface{}) error
}

// Line is one line item presented for reconciliation.
type Line struct {
	Content         string      `json:"itemContent"`
	Description     string      `json:"itemDescription"`
	ProductName     string      `json:"itemProductName"`
	CurrentMaterial string      `json:"currentMaterial"`
	Candidates      []Candidate `json:"combinedMaterials"`
}

// Assignment is the reconciled material for a line.
type Assignment struct {
	Material string
	// Cleared is set when the model rejected every candidate.
	Cleared bool
	Reason  string
}

// BoundsError reports a selected index outside a line's candidates.
type BoundsError struct {
	Line  int
	Index int
	Len   int
}

func (e *BoundsError) Error() string {
	return fmt.Sprintf("line %d: index %d out of range [0,%d)", e.Line, e.Index, e.Len)
}

// Reconciler asks a model to confirm or reject each line's candidates.
type Reconciler struct {
	model  string
	logger *logging.Logger
}

// NewReconciler returns a reconciler. An empty model uses DefaultModel.
func NewReconciler(model string, logger *logging.Logger) *Reconciler {
	if model == "" {
		model = DefaultModel
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Reconciler{model: model, logger: logger.Named("material")}
}

type reconcileResponse struct {
	Materials []struct {
		Index  json.RawMessage `json:"index"`
		Reason string          `json:"reason"`
	} `json:"materials"`
}

// Reconcile returns one assignment per line. Lines the model skipped,
// or answered with an unusable index, keep their current material; the
// per-line problems are returned in the error slice.
func (r *Reconciler) Reconcile(ctx context.Context, chat Chatter, lines []Line) ([]Assignment, []error, error) {
	out := make([]Assignment, len(lines))
	for i, l := range lines {
		out[i] = Assignment{Material: l.CurrentMaterial}
	}
	if len(lines) == 0 {
		return out, nil, nil
	}

	body, err := json.Marshal(lines)
	if err != nil {
		return out, nil, fmt.Errorf("marshaling lines: %w", err)
	}
	var resp reconcileResponse
	err = chat.ChatJSON(ctx, provider.ChatRequest{
		Model:           r.model,
		ReasoningEffort: "high",
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: reconcileInstructions},
			{Role: openai.ChatMessageRoleUser, Content: string(body)},
		},
	}, &resp)
	if err != nil {
		r.logger.Warn(ctx, "material reconciliation failed, keeping search results", zap.Error(err))
		return out, nil, err
	}

	var problems []error
	for i, m := range resp.Materials {
		if i >= len(lines) {
			break
		}
		a, err := pick(i, m.Index, lines[i])
		if err != nil {
			r.logger.Warn(ctx, "ignoring material selection", zap.Int("line", i), zap.Error(err))
			problems = append(problems, err)
			continue
		}
		a.Reason = m.Reason
		out[i] = a
	}
	return out, problems, nil
}

var errUnreadable = errors.New("unreadable selection")

// maxIndex bounds numeric answers; anything larger is not an index.
const maxIndex = 1 << 31

func pick(line int, raw json.RawMessage, l Line) (Assignment, error) {
	raw = bytes.TrimSpace(raw)
	if bytes.Equal(raw, []byte("false")) {
		return Assignment{Cleared: true}, nil
	}
	var idx float64
	if err := json.Unmarshal(raw, &idx); err != nil || len(raw) == 0 {
		return Assignment{}, fmt.Errorf("line %d: %w: %s", line, errUnreadable, string(raw))
	}
	if idx != math.Trunc(idx) || math.Abs(idx) >= maxIndex {
		return Assignment{}, fmt.Errorf("line %d: %w: %s", line, errUnreadable, string(raw))
	}
	n := int(idx)
	if n < 0 || n >= len(l.Candidates) {
		return Assignment{}, &BoundsError{Line: line, Index: n, Len: len(l.Candidates)}
	}
	return Assignment{Material: l.Candidates[n].Code()}, nil
}

const reconcileInstructions = `## Material Matching

Each element of the input array is one invoice line with:
- itemContent: the raw text of the line
- itemDescription: the product description
- itemProductName: the product name, when known
- currentMaterial: the material currently assigned
- combinedMaterials: catalog candidates with id, metadata and score

For every line choose the candidate that is actually being ordered:
- Candidates with score 0 are exact code matches. Prefer them, but confirm the description fits the line.
- Otherwise compare the line's content, description and product name with each candidate's materialDescription.
- When candidates are equally good, prefer the lower index.
- Answer false when no candidate matches what the customer is ordering.

Return a JSON object with one entry per line, in input order:

{
  "materials": [
    {"index": 0, "reason": "exact code match and the description agrees"},
    {"index": false, "reason": "no candidate describes this product"}
  ]
}
`
