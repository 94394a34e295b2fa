// Package material resolves line-item product codes against the
// material catalog: exact code lookups first, a semantic description
// search as fallback, country-specific code variants, and a final
// model reconciliation per document.
package material

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ordermatch/internal/embeddings"
	"github.com/fyrsmithlabs/ordermatch/internal/logging"
	"github.com/fyrsmithlabs/ordermatch/internal/vectorstore"
)

// DefaultFallbackTopK is the number of description matches returned
// when no code matched exactly.
const DefaultFallbackTopK = 3

// CountrySuffixes maps a country to the suffix of its localized
// material codes.
var CountrySuffixes = map[string]string{
	"br": "V",
	"cn": "CN",
}

// Metadata is the catalog payload of a material.
type Metadata struct {
	Material    string `json:"material"`
	Description string `json:"materialDescription"`
}

// Candidate is a catalog material proposed for a line. Exact lookups
// score 0; fuzzy results carry cosine or blended similarity.
type Candidate struct {
	ID       string   `json:"id"`
	Metadata Metadata `json:"metadata"`
	Score    float64  `json:"score"`
}

// Code returns the catalog material number, falling back to ID.
func (c Candidate) Code() string {
	if c.Metadata.Material != "" {
		return c.Metadata.Material
	}
	return c.ID
}

// Exact reports whether c came from a code lookup.
func (c Candidate) Exact() bool {
	return c.Score == 0
}

func fromMatch(m vectorstore.Match) Candidate {
	return Candidate{
		ID: m.ID,
		Metadata: Metadata{
			Material:    m.Metadata.String("material"),
			Description: m.Metadata.String("materialDescription"),
		},
		Score: m.Score,
	}
}

// Query is one line's material search input.
type Query struct {
	Codes       []string
	Description string
	// ProductHint switches to product mode: candidates are scored by
	// Blend against it.
	ProductHint string
	Country     string
}

// Resolver searches the material catalog.
type Resolver struct {
	catalog *vectorstore.Catalog
	topK    int
	logger  *logging.Logger
}

// NewResolver returns a resolver over catalog.
func NewResolver(catalog *vectorstore.Catalog, logger *logging.Logger) *Resolver {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Resolver{catalog: catalog, topK: DefaultFallbackTopK, logger: logger.Named("material")}
}

// Resolve returns the candidates for q, best first. Codes are taken
// from the description when none are given.
func (r *Resolver) Resolve(ctx context.Context, emb embeddings.Embedder, q Query) ([]Candidate, error) {
	ctx, span := otel.Tracer("ordermatch.material").Start(ctx, "material.Resolve")
	defer span.End()

	codes := dedupe(q.Codes)
	if len(codes) == 0 {
		codes = ExtractFromDescription(q.Description)
	}
	span.SetAttributes(attribute.Int("codes", len(codes)), attribute.Bool("product_mode", q.ProductHint != ""))

	found, err := r.exact(ctx, codes)
	if err != nil {
		return nil, err
	}
	text := q.Description
	if text == "" {
		text = q.ProductHint
	}
	if len(found) == 0 && strings.TrimSpace(text) != "" {
		found, err = r.describe(ctx, emb, text)
		if err != nil {
			return nil, err
		}
	}
	if q.ProductHint != "" {
		for i := range found {
			if found[i].Metadata.Description != "" {
				found[i].Score = Blend(q.ProductHint, found[i].Metadata.Description)
			}
		}
		sort.SliceStable(found, func(i, j int) bool { return found[i].Score > found[j].Score })
	}
	if len(found) > 0 && q.Country != "" {
		if local, ok, err := r.localize(ctx, found, q.Country); err != nil {
			return nil, err
		} else if ok {
			return []Candidate{local}, nil
		}
	}
	return found, nil
}

// Lookup returns the catalog entry whose material number is code.
func (r *Resolver) Lookup(ctx context.Context, code string) (Candidate, bool, error) {
	matches, err := r.catalog.Lookup(ctx, 1, vectorstore.Filter{vectorstore.Eq("material", code)})
	if err != nil {
		return Candidate{}, false, fmt.Errorf("material lookup %q: %w", code, err)
	}
	if len(matches) == 0 {
		return Candidate{}, false, nil
	}
	c := fromMatch(matches[0])
	c.Score = 0
	return c, true, nil
}

func (r *Resolver) exact(ctx context.Context, codes []string) ([]Candidate, error) {
	var out []Candidate
	for _, code := range codes {
		for _, v := range Variations(code) {
			c, ok, err := r.Lookup(ctx, v)
			if err != nil {
				return nil, err
			}
			if ok {
				c.ID = code
				out = append(out, c)
				r.logger.Debug(ctx, "material code matched", zap.String("code", code), zap.String("variation", v))
				break
			}
		}
	}
	return out, nil
}

func (r *Resolver) describe(ctx context.Context, emb embeddings.Embedder, text string) ([]Candidate, error) {
	vec, err := emb.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding description: %w", err)
	}
	matches, err := r.catalog.Search(ctx, vec, r.topK, nil)
	if err != nil {
		return nil, fmt.Errorf("material search: %w", err)
	}
	out := make([]Candidate, len(matches))
	for i, m := range matches {
		out[i] = fromMatch(m)
	}
	return out, nil
}

// localize probes the country-specific variant of each found material.
// The first variant that exists replaces the whole result.
func (r *Resolver) localize(ctx context.Context, found []Candidate, country string) (Candidate, bool, error) {
	for _, c := range found {
		base := c.Metadata.Material
		variant := CountryVariant(base, country)
		if base == "" || variant == "" || variant == base {
			continue
		}
		local, ok, err := r.Lookup(ctx, variant)
		if err != nil {
			return Candidate{}, false, err
		}
		if ok {
			local.ID = c.ID
			r.logger.Debug(ctx, "using country-specific material",
				zap.String("base", base), zap.String("variant", variant), zap.String("country", country))
			return local, true, nil
		}
	}
	return Candidate{}, false, nil
}

// CountryVariant returns the material number to probe for country, or
// "" when none applies. Countries with a suffix get it appended; other
// countries get a known suffix stripped.
func CountryVariant(material, country string) string {
	if material == "" {
		return ""
	}
	suffix, ok := CountrySuffixes[strings.ToLower(country)]
	if ok {
		if strings.HasSuffix(material, suffix) {
			return ""
		}
		return material + suffix
	}
	for _, s := range []string{"CN", "V"} {
		if strings.HasSuffix(material, s) && len(material) > len(s) {
			return strings.TrimSuffix(material, s)
		}
	}
	return ""
}

// PreferSecondary returns the secondary code's top hit when the
// primary top hit is fuzzy and the secondary one exact. Numeric ids
// must exceed 100 to qualify.
func PreferSecondary(primary, secondary []Candidate) (string, bool) {
	if len(primary) == 0 || len(secondary) == 0 || primary[0].Exact() || !secondary[0].Exact() {
		return "", false
	}
	id := secondary[0].ID
	if n, err := strconv.Atoi(id); err == nil {
		return id, n > 100
	}
	return id, id != ""
}
