// Package resolver matches inbound lead messages to a property.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	"estate_portal_backend/internal/properties"
	"estate_portal_backend/platform/ai/embeddings"
	"estate_portal_backend/platform/logger"
	"estate_portal_backend/platform/qdrant"

	"github.com/google/uuid"
)

// Strategy names, in chain order.
const (
	StrategyExplicit  = "explicit"
	StrategyURL       = "url"
	StrategyReference = "reference"
	StrategyFuzzy     = "fuzzy"
	StrategyVector    = "vector"
	StrategyNone      = "none"
)

// Confidence assigned by each strategy.
const (
	ConfidenceExplicit  = 1.0
	ConfidenceURL       = 0.9
	ConfidenceReference = 0.85
	ConfidenceVector    = 0.78
	ConfidenceFuzzyBase = 0.6
	ConfidenceFuzzyMax  = 0.8
	fuzzyBonus          = 0.1
)

const (
	fuzzyLimit        = 5
	fuzzyPriceBandPct = 20
	fuzzyPriceClose   = 0.10
	vectorSearchLimit = 3
	referenceLimit    = 1
)

// PropertyFinder is the property lookup surface the strategies query.
type PropertyFinder interface {
	GetByID(ctx context.Context, orgID, id uuid.UUID) (properties.Property, error)
	GetBySlug(ctx context.Context, orgID uuid.UUID, slug string) (properties.Property, error)
	ListByIDs(ctx context.Context, orgID uuid.UUID, ids []uuid.UUID) ([]properties.Property, error)
	FindByReference(ctx context.Context, orgID uuid.UUID, code string, limit int) ([]properties.Property, error)
	FuzzySearch(ctx context.Context, orgID uuid.UUID, fq properties.FuzzyQuery) ([]properties.Property, error)
}

// VectorSearcher is the subset of the Qdrant client used for similarity lookups.
type VectorSearcher interface {
	Search(ctx context.Context, vector []float32, opts qdrant.SearchOptions) ([]qdrant.SearchResult, error)
}

// Input is one message to resolve.
type Input struct {
	OrganizationID uuid.UUID
	LeadID         uuid.UUID
	Text           string
	Payload        map[string]any
}

// Match is the property a message was resolved to.
type Match struct {
	Property   properties.Property
	Confidence float64
	Evidence   string
	Strategy   string
}

type strategy struct {
	name string
	run  func(ctx context.Context, in Input) (*Match, error)
}

// Resolver runs the strategy chain and stops at the first match.
type Resolver struct {
	finder     PropertyFinder
	embedder   embeddings.Embedder
	vectors    VectorSearcher
	strategies []strategy
	metrics    *Metrics
	log        *logger.Logger
}

// New builds a resolver. The vector strategy is skipped unless both embedder and vectors are set.
func New(finder PropertyFinder, embedder embeddings.Embedder, vectors VectorSearcher, metrics *Metrics, log *logger.Logger) *Resolver {
	r := &Resolver{
		finder:   finder,
		embedder: embedder,
		vectors:  vectors,
		metrics:  metrics,
		log:      log,
	}
	r.strategies = []strategy{
		{name: StrategyExplicit, run: r.explicit},
		{name: StrategyURL, run: r.url},
		{name: StrategyReference, run: r.reference},
		{name: StrategyFuzzy, run: r.fuzzy},
	}
	if embedder != nil && vectors != nil {
		r.strategies = append(r.strategies, strategy{name: StrategyVector, run: r.vector})
	}
	return r
}

// Resolve returns the first strategy's match, or nil when nothing matched.
// Strategy errors are logged and never returned.
func (r *Resolver) Resolve(ctx context.Context, in Input) (*Match, error) {
	for _, s := range r.strategies {
		match, err := s.run(ctx, in)
		if err != nil {
			r.log.Warn("resolver strategy failed",
				"strategy", s.name,
				"lead_id", in.LeadID.String(),
				"organization_id", in.OrganizationID.String(),
				"error", err)
			continue
		}
		if match != nil {
			match.Strategy = s.name
			r.metrics.observe(s.name)
			return match, nil
		}
	}
	r.metrics.observe(StrategyNone)
	return nil, nil
}

func (r *Resolver) explicit(ctx context.Context, in Input) (*Match, error) {
	if raw := payloadString(in.Payload, "property_id"); raw != "" {
		if id, err := uuid.Parse(raw); err == nil {
			p, err := r.finder.GetByID(ctx, in.OrganizationID, id)
			if err == nil {
				return &Match{Property: p, Confidence: ConfidenceExplicit, Evidence: "Explicit property_id in payload"}, nil
			}
			if !errors.Is(err, properties.ErrNotFound) {
				return nil, err
			}
		}
	}

	if slug := strings.ToLower(payloadString(in.Payload, "property_slug")); slug != "" {
		p, ok, err := r.bySlug(ctx, in.OrganizationID, slug)
		if err != nil || ok {
			return matchOrErr(p, ok, ConfidenceExplicit, "Explicit property_slug in payload", err)
		}
	}

	if slug := slugFromURL(payloadString(in.Payload, "property_url")); slug != "" {
		p, ok, err := r.bySlug(ctx, in.OrganizationID, slug)
		if err != nil || ok {
			return matchOrErr(p, ok, ConfidenceExplicit, "Explicit property_url in payload", err)
		}
	}
	return nil, nil
}

func (r *Resolver) url(ctx context.Context, in Input) (*Match, error) {
	if in.Text == "" {
		return nil, nil
	}
	if m := propertyPathRe.FindStringSubmatch(in.Text); m != nil {
		slug := strings.ToLower(m[1])
		p, ok, err := r.bySlug(ctx, in.OrganizationID, slug)
		if err != nil || ok {
			return matchOrErr(p, ok, ConfidenceURL, "Property URL match: "+slug, err)
		}
	}
	for _, slug := range urlSlugCandidates(in.Text) {
		p, ok, err := r.bySlug(ctx, in.OrganizationID, slug)
		if err != nil || ok {
			return matchOrErr(p, ok, ConfidenceURL, "URL/slug regex match: "+slug, err)
		}
	}
	return nil, nil
}

func (r *Resolver) reference(ctx context.Context, in Input) (*Match, error) {
	code := extractReference(in.Text)
	if code == "" {
		return nil, nil
	}
	found, err := r.finder.FindByReference(ctx, in.OrganizationID, code, referenceLimit)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, nil
	}
	return &Match{Property: found[0], Confidence: ConfidenceReference, Evidence: "MLS/ref code match: " + code}, nil
}

func (r *Resolver) fuzzy(ctx context.Context, in Input) (*Match, error) {
	signals := ExtractSignals(in.Text)
	if signals.Empty() {
		return nil, nil
	}

	fq := properties.FuzzyQuery{
		Cities:   signals.Cities,
		Keywords: signals.Keywords,
		Limit:    fuzzyLimit,
	}
	if signals.Price != nil {
		price := *signals.Price
		lo := price * (100 - fuzzyPriceBandPct) / 100
		hi := (price*(100+fuzzyPriceBandPct) + 99) / 100
		fq.MinPrice, fq.MaxPrice = &lo, &hi
	}

	found, err := r.finder.FuzzySearch(ctx, in.OrganizationID, fq)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, nil
	}
	best := found[0]
	return &Match{
		Property:   best,
		Confidence: FuzzyConfidence(best, signals),
		Evidence:   "Fuzzy match: title/keywords/price proximity",
	}, nil
}

// FuzzyConfidence scores a fuzzy candidate: a base score plus a bonus each for a
// close price and a matching city, capped.
func FuzzyConfidence(p properties.Property, s Signals) float64 {
	score := ConfidenceFuzzyBase
	if s.Price != nil && *s.Price > 0 && p.PriceAmount != nil {
		diff := math.Abs(float64(*p.PriceAmount-*s.Price)) / float64(*s.Price)
		if diff < fuzzyPriceClose {
			score += fuzzyBonus
		}
	}
	for _, city := range s.Cities {
		if containsFold(p.City, city) || containsFold(p.Area, city) {
			score += fuzzyBonus
			break
		}
	}
	return math.Min(score, ConfidenceFuzzyMax)
}

// containsFold mirrors the ILIKE '%term%' filter FuzzySearch applies to city and area.
func containsFold(s, term string) bool {
	term = strings.TrimSpace(term)
	return term != "" && strings.Contains(strings.ToLower(s), strings.ToLower(term))
}

func (r *Resolver) vector(ctx context.Context, in Input) (*Match, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return nil, nil
	}
	vec, err := r.embedder.Embed(ctx, text, embeddings.PurposeQuery)
	if err != nil {
		return nil, fmt.Errorf("embed message: %w", err)
	}
	hits, err := r.vectors.Search(ctx, vec, qdrant.SearchOptions{
		Limit:  vectorSearchLimit,
		Filter: qdrant.MatchValue("organization_id", in.OrganizationID.String()),
	})
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	ids := make([]uuid.UUID, 0, len(hits))
	seen := make(map[uuid.UUID]struct{}, len(hits))
	for _, h := range hits {
		raw, _ := h.Payload["property_id"].(string)
		id, err := uuid.Parse(raw)
		if err != nil {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	found, err := r.finder.ListByIDs(ctx, in.OrganizationID, ids)
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, nil
	}
	return &Match{Property: found[0], Confidence: ConfidenceVector, Evidence: "Vector similarity search"}, nil
}

func (r *Resolver) bySlug(ctx context.Context, orgID uuid.UUID, slug string) (properties.Property, bool, error) {
	p, err := r.finder.GetBySlug(ctx, orgID, slug)
	if errors.Is(err, properties.ErrNotFound) {
		return properties.Property{}, false, nil
	}
	if err != nil {
		return properties.Property{}, false, err
	}
	return p, true, nil
}

func matchOrErr(p properties.Property, ok bool, confidence float64, evidence string, err error) (*Match, error) {
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &Match{Property: p, Confidence: confidence, Evidence: evidence}, nil
}

func payloadString(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	switch v := payload[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	}
	return ""
}
