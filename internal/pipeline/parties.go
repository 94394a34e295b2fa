package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/ordermatch/internal/embeddings"
	"github.com/fyrsmithlabs/ordermatch/internal/logging"
	"github.com/fyrsmithlabs/ordermatch/internal/provider"
	"github.com/fyrsmithlabs/ordermatch/internal/resolve"
	"github.com/fyrsmithlabs/ordermatch/internal/scoring"
	"github.com/fyrsmithlabs/ordermatch/internal/search"
	"github.com/fyrsmithlabs/ordermatch/internal/session"
)

// resolveParties searches and ranks every role concurrently, then
// finalizes them together. Only an unavailable provider is fatal; any
// other search failure leaves that role without candidates.
func (p *Pipeline) resolveParties(ctx context.Context, sess *session.Session, emb embeddings.Embedder, chat Chatter, parties map[search.Role]party) (resolve.Entities, map[search.Role][]scoring.Scored, error) {
	ctx, span := tracer.Start(ctx, "pipeline.resolveParties")
	defer span.End()

	var mu sync.Mutex
	ranked := make(map[search.Role][]scoring.Scored, len(search.Roles))
	inputs := make(map[search.Role]resolve.Party, len(search.Roles))

	g, gctx := errgroup.WithContext(ctx)
	for _, role := range search.Roles {
		pt := parties[role]
		g.Go(func() error {
			rp, err := p.rankParty(logging.WithRole(gctx, string(role)), sess, emb, role, pt)
			if err != nil {
				return err
			}
			mu.Lock()
			inputs[role] = rp
			ranked[role] = rp.Candidates
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, ranked, err
	}

	outcome, err := p.finalizer.Finalize(ctx, chat, inputs)
	if err != nil {
		// explicit codes still apply; the rest stay unresolved
		p.logger.Warn(ctx, "finalization degraded", zap.Error(err))
	}
	es := outcome.Entities
	if p.partners != nil && resolve.ApplyPartnerFunction(es, p.partners) {
		p.logger.Info(ctx, "sold_to taken from partner function",
			zap.String("customer", es.Get(search.SoldTo).CustomerNumber))
	}
	if resolve.PromoteShipTo(es) {
		p.logger.Info(ctx, "sold_to promoted from ship_to",
			zap.String("customer", es.Get(search.SoldTo).CustomerNumber))
	}
	return es, ranked, nil
}

func (p *Pipeline) rankParty(ctx context.Context, sess *session.Session, emb embeddings.Embedder, role search.Role, pt party) (resolve.Party, error) {
	rp := resolve.Party{
		Name:           pt.Name,
		TranslatedName: pt.TranslatedName,
		Address:        pt.Address,
		AddressEnglish: pt.AddressEnglish,
		CustomerCode:   pt.CustomerCode.String(),
	}
	if strings.TrimSpace(pt.Address) == "" && strings.TrimSpace(pt.AddressEnglish) == "" {
		return rp, nil
	}

	res, err := p.searcher.Search(ctx, emb, search.Request{
		Role:           role,
		Address:        pt.Address,
		Street:         pt.Street,
		AddressEnglish: pt.AddressEnglish,
		Country:        strings.ToLower(strings.TrimSpace(pt.Country)),
		Name:           pt.Name,
		TranslatedName: pt.TranslatedName,
	})
	if err != nil {
		if errors.Is(err, provider.ErrProviderUnavailable) {
			return rp, err
		}
		p.logger.Warn(ctx, "address search failed, role left without candidates", zap.Error(err))
		return rp, nil
	}

	rp.TranslatedAddress = res.TranslatedAddress
	rp.Candidates = p.scorer.Rank(res.Candidates, pt.Name, pt.TranslatedName)
	for _, c := range rp.Candidates {
		sess.AddName(c.Name)
	}
	p.logger.Debug(ctx, "candidates ranked",
		zap.Int("matches", len(res.Candidates)), zap.Int("ranked", len(rp.Candidates)))
	return rp, nil
}
