// Package search finds catalog candidates for a partner address. It
// runs one vector query per query variant under each series and
// country filter, narrows by name similarity, and retries once with a
// translated address when nothing matched.
package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ordermatch/internal/address"
	"github.com/fyrsmithlabs/ordermatch/internal/embeddings"
	"github.com/fyrsmithlabs/ordermatch/internal/logging"
	"github.com/fyrsmithlabs/ordermatch/internal/scoring"
	"github.com/fyrsmithlabs/ordermatch/internal/translate"
	"github.com/fyrsmithlabs/ordermatch/internal/vectorstore"
)

const (
	// DefaultTopK is the number of matches per vector query.
	DefaultTopK = 3
	// MaxTranslationRounds bounds translated re-searches per request.
	MaxTranslationRounds = 1
	// NarrowThreshold is the name similarity that narrows a query's
	// results to close names.
	NarrowThreshold = 0.85
	// SiblingThreshold is the name similarity above which a customer's
	// international record is fetched.
	SiblingThreshold = 0.75
	// SiblingBonus is added to the similarity of a fetched
	// international record.
	SiblingBonus = 0.1
)

// ErrInvalidRequest is returned for requests that cannot be searched.
var ErrInvalidRequest = errors.New("invalid search request")

// Parser expands addresses.
type Parser interface {
	Parse(ctx context.Context, raw string) address.Parsed
}

// Request describes one partner to search for.
type Request struct {
	Role    Role
	Address string
	// Street is an extra query string searched alongside the parsed
	// address, such as a separately extracted street line.
	Street string
	// AddressEnglish triggers an extra ship-to pass over the English
	// rendering of the address.
	AddressEnglish string
	Country        string
	Name           string
	TranslatedName string
	// Series overrides Role.Series when non-empty.
	Series []string
}

// Result is the outcome of Search.
type Result struct {
	Candidates []scoring.Candidate
	Parsed     address.Parsed
	// TranslatedAddress is set when a translation round ran.
	TranslatedAddress string
	Rounds            int
}

// Engine runs candidate searches against the address catalog.
type Engine struct {
	catalog    *vectorstore.Catalog
	parser     Parser
	translator translate.Translator
	topK       int
	logger     *logging.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithTopK sets the matches per vector query.
func WithTopK(k int) Option {
	return func(e *Engine) {
		if k > 0 {
			e.topK = k
		}
	}
}

// NewEngine creates a search engine. A nil translator disables the
// translation round.
func NewEngine(catalog *vectorstore.Catalog, parser Parser, translator translate.Translator, logger *logging.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = logging.NewNop()
	}
	if translator == nil {
		translator = translate.Identity{}
	}
	e := &Engine{
		catalog:    catalog,
		parser:     parser,
		translator: translator,
		topK:       DefaultTopK,
		logger:     logger.Named("search"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Search parses req.Address, queries its variants and, if nothing
// matched and the address is not English, retries with a translation.
func (e *Engine) Search(ctx context.Context, emb embeddings.Embedder, req Request) (Result, error) {
	if !req.Role.Valid() {
		return Result{}, fmt.Errorf("%w: unknown role %q", ErrInvalidRequest, req.Role)
	}
	ctx, span := otel.Tracer("ordermatch.search").Start(ctx, "search.Search")
	defer span.End()
	span.SetAttributes(attribute.String("role", string(req.Role)), attribute.String("country", req.Country))
	ctx = logging.WithRole(ctx, string(req.Role))

	series := req.Series
	if len(series) == 0 {
		series = req.Role.Series()
	}
	q := querier{engine: e, emb: emb, vectors: map[string][]float32{}}

	parsed := e.parser.Parse(ctx, req.Address)
	res := Result{Parsed: parsed}
	found, err := q.run(ctx, series, req, queryVariants(parsed.Data, req.Street, parsed.Street()))
	if err != nil {
		return res, err
	}

	for round := 0; round < MaxTranslationRounds && len(found) == 0 && strings.TrimSpace(req.Address) != ""; round++ {
		tr := e.translator.Translate(ctx, req.Address)
		if tr.IsEnglish() {
			break
		}
		res.Rounds++
		res.TranslatedAddress = tr.Text
		e.logger.Debug(ctx, "no candidates, searching translated address",
			zap.String("language", tr.DetectedLanguage), zap.Int("round", res.Rounds))

		tp := e.parser.Parse(ctx, tr.Text)
		tp.Translated = true
		found, err = q.run(ctx, series, req, queryVariants(tp.Data, tp.StreetWithCountry(), tp.NoHouse()))
		if err != nil {
			return res, err
		}
	}

	if req.Role == ShipTo && strings.TrimSpace(req.AddressEnglish) != "" {
		extra, err := q.run(ctx, series, req, queryVariants(req.AddressEnglish))
		if err != nil {
			return res, err
		}
		found = append(found, extra...)
	}

	res.Candidates = found
	span.SetAttributes(attribute.Int("candidates", len(found)), attribute.Int("translation_rounds", res.Rounds))
	e.logger.Debug(ctx, "search complete",
		zap.Int("candidates", len(found)), zap.Strings("series", series))
	return res, nil
}

// Query runs queries for role under its series (or series when given)
// and the country passes, concatenating every query's results.
func (e *Engine) Query(ctx context.Context, emb embeddings.Embedder, role Role, queries []string, country string, series []string) ([]scoring.Candidate, error) {
	if len(series) == 0 {
		series = role.Series()
	}
	q := querier{engine: e, emb: emb, vectors: map[string][]float32{}}
	return q.run(ctx, series, Request{Role: role, Country: country}, queryVariants(queries...))
}

// queryVariants drops blank and repeated strings, keeping order.
func queryVariants(qs ...string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(qs))
	for _, q := range qs {
		q = strings.TrimSpace(q)
		if q == "" || seen[q] {
			continue
		}
		seen[q] = true
		out = append(out, q)
	}
	return out
}

// querier holds per-request state: embeddings are computed once per
// query string and reused across series and country passes.
type querier struct {
	engine  *Engine
	emb     embeddings.Embedder
	vectors map[string][]float32
}

func (q *querier) vector(ctx context.Context, text string) ([]float32, error) {
	key := address.QueryText(text)
	if v, ok := q.vectors[key]; ok {
		return v, nil
	}
	v, err := q.emb.Embed(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	q.vectors[key] = v
	return v, nil
}

func (q *querier) run(ctx context.Context, series []string, req Request, queries []string) ([]scoring.Candidate, error) {
	var out []scoring.Candidate
	for _, s := range series {
		sf, err := SeriesFilter(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
		for _, cf := range CountryFilters(req.Country) {
			filter := sf.And(cf...)
			for _, text := range queries {
				found, err := q.one(ctx, text, filter, req)
				if err != nil {
					return nil, err
				}
				out = append(out, found...)
			}
		}
	}
	return out, nil
}

// one runs a single vector query. When a name is known, results are
// narrowed to close names and each close customer's international
// record is appended.
func (q *querier) one(ctx context.Context, text string, filter vectorstore.Filter, req Request) ([]scoring.Candidate, error) {
	vec, err := q.vector(ctx, text)
	if err != nil {
		return nil, err
	}
	matches, err := q.engine.catalog.Search(ctx, vec, q.engine.topK, filter)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", q.engine.catalog.Name(), err)
	}

	raw := make([]scoring.Candidate, len(matches))
	for i, m := range matches {
		raw[i] = scoring.Candidate{Match: m}
	}
	if req.Name == "" && req.TranslatedName == "" {
		return raw, nil
	}

	var near []scoring.Candidate
	ids := map[string]bool{}
	for i := range raw {
		raw[i].Similarity = scoring.NameSimilarity(req.Name, req.TranslatedName, raw[i].Metadata.String("name1"))
		if raw[i].Similarity >= NarrowThreshold {
			near = append(near, raw[i])
			ids[raw[i].ID] = true
		}
	}
	if len(near) == 0 {
		return raw, nil
	}

	probed := map[string]bool{}
	for _, c := range near {
		customer := c.Metadata["customer"]
		key := c.Metadata.String("customer")
		if customer == nil || probed[key] || c.Similarity <= SiblingThreshold {
			continue
		}
		probed[key] = true
		hits, err := q.engine.catalog.Lookup(ctx, 1, vectorstore.Filter{
			vectorstore.Eq("customer", customer),
			vectorstore.Eq("international", true),
		})
		if err != nil {
			q.engine.logger.Warn(ctx, "international sibling lookup failed",
				zap.String("customer", key), zap.Error(err))
			continue
		}
		for _, h := range hits {
			if ids[h.ID] {
				continue
			}
			ids[h.ID] = true
			near = append(near, scoring.Candidate{Match: h, Similarity: c.Similarity + SiblingBonus})
		}
	}
	sort.SliceStable(near, func(i, j int) bool { return near[i].Similarity > near[j].Similarity })
	return near, nil
}
