package pipeline

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/ordermatch/internal/embeddings"
	"github.com/fyrsmithlabs/ordermatch/internal/material"
	"github.com/fyrsmithlabs/ordermatch/internal/provider"
)

// resolveItems assembles and resolves every line item, then reconciles
// the chosen materials in one model call.
func (p *Pipeline) resolveItems(ctx context.Context, emb embeddings.Embedder, chat Chatter, doc *Document, country string) ([]ItemRecord, error) {
	ctx, span := tracer.Start(ctx, "pipeline.resolveItems")
	defer span.End()

	memo := p.memos(ctx, chat, doc.Items, doc.Materials)
	hints := mergeHints(doc.Materials, memo.Materials)

	var kept []int
	for i, it := range doc.Items {
		if p.stopAtDeclaration && !it.beforeDeclaration(doc.DeclarationPage) {
			continue
		}
		kept = append(kept, i)
	}
	if dropped := len(doc.Items) - len(kept); dropped > 0 {
		p.logger.Info(ctx, "dropped lines after declaration page",
			zap.Int("dropped", dropped), zap.Int("declaration_page", doc.DeclarationPage))
	}

	out := make([]ItemRecord, len(kept))
	g, gctx := errgroup.WithContext(ctx)
	if p.maxConcurrency > 0 {
		g.SetLimit(p.maxConcurrency)
	}
	for slot, idx := range kept {
		g.Go(func() error {
			rec, err := p.resolveItem(gctx, emb, idx, doc.Items[idx], hintFor(hints, idx), batchFor(doc.Batches, idx), country)
			rec.Memo = memo.memo(idx)
			out[slot] = rec
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return out, err
	}

	p.reconcile(ctx, chat, out)
	for i := range out {
		clearBatch(&out[i])
	}
	return out, nil
}

func (p *Pipeline) resolveItem(ctx context.Context, emb embeddings.Embedder, index int, it Item, hint MaterialHint, batch, country string) (ItemRecord, error) {
	rec := ItemRecord{
		Index:       index,
		Content:     it.Content,
		Description: strings.TrimSpace(it.Description),
		ProductName: hint.ProductName,
		Batch:       batch,
		Confidence:  it.Confidence,
	}
	codes := hint.MaterialNumbers
	if it.ProductCode != "" {
		codes = append([]string{it.ProductCode}, codes...)
	}
	codes = dedupe(codes)

	switch {
	case rec.Description != "":
		cands, err := p.materials.Resolve(ctx, emb, material.Query{Codes: codes, Description: rec.Description, Country: country})
		if err != nil {
			return rec, p.itemError(ctx, index, err)
		}
		rec.Candidates = cands
		if len(cands) > 0 {
			rec.Material = cands[0].Code()
		} else if len(codes) > 0 {
			rec.Material = codes[0]
		}
		if rec.ProductName != "" {
			extracted := dedupe(append(material.ExtractCodes(rec.Description), material.ExtractCodes(it.Content)...))
			secondary, err := p.materials.Resolve(ctx, emb, material.Query{Codes: extracted, ProductHint: rec.ProductName, Country: country})
			if err != nil {
				return rec, p.itemError(ctx, index, err)
			}
			if len(secondary) > 0 {
				rec.Secondary = secondary[0].ID
			}
			if id, ok := material.PreferSecondary(cands, secondary); ok {
				rec.Material = id
			}
		}
	case len(codes) > 0:
		cands, err := p.materials.Resolve(ctx, emb, material.Query{Codes: codes, Country: country})
		if err != nil {
			return rec, p.itemError(ctx, index, err)
		}
		rec.Candidates = cands
		if len(cands) > 0 {
			rec.Material = cands[0].Code()
		}
	}
	if rec.Candidates == nil {
		rec.Candidates = []material.Candidate{}
	}
	return rec, nil
}

// itemError keeps a line failure local unless no provider can serve.
func (p *Pipeline) itemError(ctx context.Context, index int, err error) error {
	if errors.Is(err, provider.ErrProviderUnavailable) {
		return err
	}
	p.logger.Warn(ctx, "material search failed for line", zap.Int("line", index), zap.Error(err))
	return nil
}

// reconcile asks the model to confirm each line's material among its
// candidates. Lines without candidates are not sent.
func (p *Pipeline) reconcile(ctx context.Context, chat Chatter, items []ItemRecord) {
	var lines []material.Line
	var slots []int
	for i, it := range items {
		if len(it.Candidates) == 0 {
			continue
		}
		lines = append(lines, material.Line{
			Content:         it.Content,
			Description:     it.Description,
			ProductName:     it.ProductName,
			CurrentMaterial: it.Material,
			Candidates:      it.Candidates,
		})
		slots = append(slots, i)
	}
	if len(lines) == 0 {
		return
	}
	assigned, problems, err := p.reconciler.Reconcile(ctx, chat, lines)
	if err != nil {
		return
	}
	if len(problems) > 0 {
		p.logger.Debug(ctx, "reconciliation kept search results for some lines", zap.Int("lines", len(problems)))
	}
	for j, a := range assigned {
		it := &items[slots[j]]
		it.Material = a.Material
		it.MaterialReason = a.Reason
	}
}

// clearBatch drops a batch number that merely repeats the material.
func clearBatch(it *ItemRecord) {
	if it.Batch != "" && it.Batch == it.Material {
		it.Batch = ""
	}
}
