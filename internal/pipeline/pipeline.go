// Package pipeline resolves one extracted document end to end: partner
// addresses through search, ranking and finalization, line-item
// materials through the material resolver, and the document confidence.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/ordermatch/internal/config"
	"github.com/fyrsmithlabs/ordermatch/internal/confidence"
	"github.com/fyrsmithlabs/ordermatch/internal/embeddings"
	"github.com/fyrsmithlabs/ordermatch/internal/events"
	"github.com/fyrsmithlabs/ordermatch/internal/logging"
	"github.com/fyrsmithlabs/ordermatch/internal/material"
	"github.com/fyrsmithlabs/ordermatch/internal/provider"
	"github.com/fyrsmithlabs/ordermatch/internal/resolve"
	"github.com/fyrsmithlabs/ordermatch/internal/scoring"
	"github.com/fyrsmithlabs/ordermatch/internal/search"
	"github.com/fyrsmithlabs/ordermatch/internal/session"
	"github.com/fyrsmithlabs/ordermatch/internal/translate"
)

var tracer = otel.Tracer("ordermatch.pipeline")

// ErrInvalidDependencies is returned by New when a required
// collaborator is missing.
var ErrInvalidDependencies = errors.New("pipeline: invalid dependencies")

// Chatter runs a JSON chat completion.
type Chatter interface {
	ChatJSON(ctx context.Context, req provider.ChatRequest, out interface{}) error
}

// ChatSource hands out a chat client bound to a session's winner.
type ChatSource interface {
	ForSession(winner *provider.WinnerCache) Chatter
}

// RacerChat binds chat calls to the provider race.
type RacerChat struct {
	Racer *provider.Racer
}

func (r RacerChat) ForSession(winner *provider.WinnerCache) Chatter {
	return r.Racer.Bind(winner)
}

// Searcher finds address candidates.
type Searcher interface {
	Search(ctx context.Context, emb embeddings.Embedder, req search.Request) (search.Result, error)
}

// MaterialResolver finds material candidates.
type MaterialResolver interface {
	Resolve(ctx context.Context, emb embeddings.Embedder, q material.Query) ([]material.Candidate, error)
}

// Publisher receives terminal document events.
type Publisher interface {
	Publish(ctx context.Context, ev events.Event) error
}

// Deps are the collaborators of a Pipeline. Translator, Partners and
// Publisher are optional.
type Deps struct {
	Searcher   Searcher
	Materials  MaterialResolver
	Embeddings embeddings.Source
	Chat       ChatSource
	Translator translate.Translator
	Partners   resolve.PartnerLookup
	Publisher  Publisher
}

// Pipeline resolves documents. It is safe for concurrent use; all
// per-document state lives in a session.
type Pipeline struct {
	searcher   Searcher
	materials  MaterialResolver
	embedder   embeddings.Source
	chat       ChatSource
	translator translate.Translator
	partners   resolve.PartnerLookup
	publisher  Publisher

	scorer     *scoring.Scorer
	finalizer  *resolve.Finalizer
	reconciler *material.Reconciler

	maxConcurrency    int
	memoModel         string
	memoTimeout       time.Duration
	stopAtDeclaration bool
	logger            *logging.Logger
}

// New builds a pipeline from deps and cfg.
func New(deps Deps, cfg config.PipelineConfig, logger *logging.Logger) (*Pipeline, error) {
	switch {
	case deps.Searcher == nil:
		return nil, fmt.Errorf("%w: searcher is required", ErrInvalidDependencies)
	case deps.Materials == nil:
		return nil, fmt.Errorf("%w: material resolver is required", ErrInvalidDependencies)
	case deps.Embeddings == nil:
		return nil, fmt.Errorf("%w: embedding source is required", ErrInvalidDependencies)
	case deps.Chat == nil:
		return nil, fmt.Errorf("%w: chat source is required", ErrInvalidDependencies)
	}
	if cfg.MaxConcurrency < 0 {
		return nil, fmt.Errorf("%w: max concurrency must be >= 0", ErrInvalidDependencies)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if deps.Translator == nil {
		deps.Translator = translate.Identity{}
	}
	if deps.Publisher == nil {
		deps.Publisher = events.Discard{}
	}
	vendors := cfg.VendorNames
	if len(vendors) == 0 {
		vendors = scoring.DefaultVendorNames
	}
	p := &Pipeline{
		searcher:          deps.Searcher,
		materials:         deps.Materials,
		embedder:          deps.Embeddings,
		chat:              deps.Chat,
		translator:        deps.Translator,
		partners:          deps.Partners,
		publisher:         deps.Publisher,
		scorer:            scoring.NewScorer(vendors),
		finalizer:         resolve.NewFinalizer(cfg.FinalizerModel, logger),
		reconciler:        material.NewReconciler(cfg.MaterialModel, logger),
		maxConcurrency:    cfg.MaxConcurrency,
		memoModel:         cfg.MemoModel,
		memoTimeout:       cfg.MemoTimeout.Duration(),
		stopAtDeclaration: cfg.StopAtDeclaration,
		logger:            logger.Named("pipeline"),
	}
	if p.memoModel == "" {
		p.memoModel = DefaultMemoModel
	}
	if p.memoTimeout <= 0 {
		p.memoTimeout = DefaultMemoTimeout
	}
	return p, nil
}

// Resolve processes doc in a new session. The record is always
// returned; on a non-recoverable failure its status is failed, it
// carries whatever resolved before the failure, and the error is
// returned as well.
func (p *Pipeline) Resolve(ctx context.Context, doc *Document) (*Record, error) {
	if doc == nil {
		doc = &Document{}
	}
	sess := session.New(doc.ID)
	ctx = sess.Context(ctx)
	ctx, span := tracer.Start(ctx, "pipeline.Resolve")
	defer span.End()
	span.SetAttributes(
		attribute.String("session.id", sess.ID),
		attribute.String("document.id", doc.ID),
		attribute.Int("items", len(doc.Items)),
	)

	emb := p.embedder.ForSession(sess.Winner)
	chat := p.chat.ForSession(sess.Winner)
	rec := &Record{SessionID: sess.ID, DocumentID: doc.ID, HeaderMemo: doc.HeaderMemo}

	parties := p.parties(ctx, doc)
	country := documentCountry(parties)

	var (
		entities resolve.Entities
		ranked   map[search.Role][]scoring.Scored
		items    []ItemRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		entities, ranked, err = p.resolveParties(gctx, sess, emb, chat, parties)
		return err
	})
	g.Go(func() error {
		var err error
		items, err = p.resolveItems(gctx, emb, chat, doc, country)
		return err
	})
	err := g.Wait()

	for _, role := range search.Roles {
		*rec.Role(role) = roleRecord(parties[role], entities.Get(role), ranked[role])
	}
	rec.Items = items
	if rec.Items == nil {
		rec.Items = []ItemRecord{}
	}
	conf := make([]float64, len(items))
	for i, it := range items {
		conf[i] = it.Confidence
	}
	rec.Confidence = confidence.Score(conf, rec.SoldTo.Number != nil, rec.ShipTo.Number != nil)
	rec.CandidateNames = sess.Names()
	rec.ElapsedMS = sess.Elapsed().Milliseconds()

	rec.Status = events.StatusCompleted
	if err != nil {
		rec.Status = events.StatusFailed
		rec.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		p.logger.Error(ctx, "document resolution failed", zap.Error(err))
	} else {
		p.logger.Info(ctx, "document resolved",
			zap.Float64("confidence", rec.Confidence),
			zap.Int("resolved_roles", rec.resolvedRoles()),
			zap.Int("items", len(rec.Items)),
			zap.Duration("elapsed", sess.Elapsed()))
	}
	DocumentsTotal.WithLabelValues(string(rec.Status)).Inc()
	DocumentDuration.Observe(sess.Elapsed().Seconds())
	ConfidenceScore.Observe(rec.Confidence)

	p.publish(ctx, rec)
	return rec, err
}

func (p *Pipeline) publish(ctx context.Context, rec *Record) {
	err := p.publisher.Publish(ctx, events.Event{
		SessionID:  rec.SessionID,
		DocumentID: rec.DocumentID,
		Status:     rec.Status,
		Confidence: rec.Confidence,
		Items:      len(rec.Items),
		Resolved:   rec.resolvedRoles(),
		Error:      rec.Error,
		ElapsedMS:  rec.ElapsedMS,
	})
	if err != nil {
		p.logger.Warn(ctx, "failed to publish document event", zap.Error(err))
	}
}

// parties reads the recognized roles from doc and applies the name and
// address fallbacks between siblings.
func (p *Pipeline) parties(ctx context.Context, doc *Document) map[search.Role]party {
	out := make(map[search.Role]party, len(search.Roles))
	keys := make([]string, 0, len(doc.Parties))
	for k := range doc.Parties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fields := doc.Parties[k]
		role, ok := knownRole(k)
		if !ok {
			p.logger.Warn(ctx, "dropping unknown party", zap.String("key", k))
			continue
		}
		if len(fields.Unknown) > 0 {
			p.logger.Warn(logging.WithRole(ctx, k), "dropping unknown party fields", zap.Strings("keys", fields.Unknown))
		}
		out[role] = party{PartyFields: fields}
	}

	sold, ship := out[search.SoldTo], out[search.ShipTo]
	if sold.NameEnglish != "" && ship.Name == "" {
		ship.Name = sold.NameEnglish
	}
	if ship.AddressEnglish != "" && sold.Address == "" {
		sold.Address = ship.AddressEnglish
	}
	out[search.SoldTo], out[search.ShipTo] = sold, ship

	for _, fb := range []struct{ role, from search.Role }{
		{search.SoldTo, search.ShipTo},
		{search.ShipTo, search.SoldTo},
		{search.Consignee, search.ShipTo},
	} {
		out[fb.role] = p.withName(ctx, out[fb.role], out[fb.from])
	}
	return out
}

// withName fills a missing name from fallback and sets the translated
// name, translating only when no English name was extracted.
func (p *Pipeline) withName(ctx context.Context, pt, fallback party) party {
	if strings.TrimSpace(pt.Name) == "" {
		pt.Name = fallback.Name
		pt.TranslatedName = fallback.TranslatedName
		if pt.TranslatedName == "" {
			pt.TranslatedName = pt.Name
		}
		return pt
	}
	if pt.NameEnglish != "" {
		pt.TranslatedName = pt.NameEnglish
		return pt
	}
	pt.TranslatedName = p.translator.Translate(ctx, pt.Name).Text
	return pt
}

func documentCountry(parties map[search.Role]party) string {
	for _, r := range []search.Role{search.SoldTo, search.ShipTo} {
		if c := strings.TrimSpace(parties[r].Country); c != "" {
			return c
		}
	}
	return ""
}
