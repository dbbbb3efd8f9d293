package properties

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"estate_portal_backend/internal/events"
	"estate_portal_backend/platform/ai/embeddings"
	"estate_portal_backend/platform/logger"
	"estate_portal_backend/platform/qdrant"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

const (
	chunkSize       = 500
	chunkOverlap    = 60
	embedParallel   = 4
	payloadOrgKey   = "organization_id"
	payloadPropKey  = "property_id"
	payloadChunkKey = "chunk"
)

// ErrIndexDisabled is returned when no embedder or vector store is configured.
var ErrIndexDisabled = errors.New("property index is not configured")

// VectorStore is the subset of the Qdrant client the indexer uses.
type VectorStore interface {
	EnsureCollection(ctx context.Context, dimensions int) error
	Upsert(ctx context.Context, points []qdrant.Point) error
	DeleteByFilter(ctx context.Context, filter *qdrant.Filter) error
}

// PropertyReader loads properties for indexing.
type PropertyReader interface {
	GetByID(ctx context.Context, orgID, id uuid.UUID) (Property, error)
	ListActiveIDs(ctx context.Context, orgID uuid.UUID) ([]uuid.UUID, error)
}

// Indexer keeps the Qdrant property index in sync with the database.
type Indexer struct {
	reader   PropertyReader
	embedder embeddings.Embedder
	vectors  VectorStore
	log      *logger.Logger
}

// NewIndexer creates an indexer. With a nil embedder or vector store every call returns ErrIndexDisabled.
func NewIndexer(reader PropertyReader, embedder embeddings.Embedder, vectors VectorStore, log *logger.Logger) *Indexer {
	return &Indexer{reader: reader, embedder: embedder, vectors: vectors, log: log}
}

// Enabled reports whether indexing is configured.
func (ix *Indexer) Enabled() bool {
	return ix.embedder != nil && ix.vectors != nil
}

// RegisterHandlers subscribes the indexer to property events.
func (ix *Indexer) RegisterHandlers(bus events.Bus) {
	bus.Subscribe(events.PropertyCreated{}.EventName(), ix)
	bus.Subscribe(events.PropertyEnriched{}.EventName(), ix)
}

// Handle re-indexes the property named by the event.
func (ix *Indexer) Handle(ctx context.Context, event events.Event) error {
	if !ix.Enabled() {
		return nil
	}
	switch e := event.(type) {
	case events.PropertyCreated:
		return ix.IndexProperty(ctx, e.OrganizationID, e.PropertyID)
	case events.PropertyEnriched:
		return ix.IndexProperty(ctx, e.OrganizationID, e.PropertyID)
	}
	return nil
}

// IndexProperty replaces the property's points with freshly embedded chunks.
func (ix *Indexer) IndexProperty(ctx context.Context, orgID, propertyID uuid.UUID) error {
	if !ix.Enabled() {
		return ErrIndexDisabled
	}
	p, err := ix.reader.GetByID(ctx, orgID, propertyID)
	if err != nil {
		return err
	}

	chunks := ChunkText(BuildDocument(p), chunkSize, chunkOverlap)
	vectors := make([][]float32, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedParallel)
	for i, chunk := range chunks {
		g.Go(func() error {
			v, err := ix.embedder.Embed(gctx, chunk, embeddings.PurposeDocument)
			if err != nil {
				return fmt.Errorf("embed chunk %d: %w", i, err)
			}
			vectors[i] = v
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if len(vectors) == 0 {
		return nil
	}

	if err := ix.vectors.EnsureCollection(ctx, len(vectors[0])); err != nil {
		return err
	}
	if err := ix.vectors.DeleteByFilter(ctx, propertyFilter(orgID, propertyID)); err != nil {
		return err
	}

	points := make([]qdrant.Point, 0, len(chunks))
	for i, chunk := range chunks {
		points = append(points, qdrant.Point{
			ID:     uuid.NewSHA1(propertyID, []byte(fmt.Sprintf("chunk-%d", i))).String(),
			Vector: vectors[i],
			Payload: map[string]any{
				payloadOrgKey:   orgID.String(),
				payloadPropKey:  propertyID.String(),
				payloadChunkKey: chunk,
			},
		})
	}
	if err := ix.vectors.Upsert(ctx, points); err != nil {
		return err
	}
	ix.log.Info("property indexed", "property_id", propertyID.String(), "chunks", len(points))
	return nil
}

// Reindex rebuilds the index for every active property of an organization and
// returns how many were indexed. Individual failures are logged and skipped.
func (ix *Indexer) Reindex(ctx context.Context, orgID uuid.UUID) (int, error) {
	if !ix.Enabled() {
		return 0, ErrIndexDisabled
	}
	ids, err := ix.reader.ListActiveIDs(ctx, orgID)
	if err != nil {
		return 0, err
	}
	indexed := 0
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return indexed, err
		}
		if err := ix.IndexProperty(ctx, orgID, id); err != nil {
			ix.log.Warn("property reindex failed", "property_id", id.String(), "error", err)
			continue
		}
		indexed++
	}
	return indexed, nil
}

func propertyFilter(orgID, propertyID uuid.UUID) *qdrant.Filter {
	return &qdrant.Filter{Must: []qdrant.Condition{
		{Key: payloadOrgKey, Match: qdrant.Match{Value: orgID.String()}},
		{Key: payloadPropKey, Match: qdrant.Match{Value: propertyID.String()}},
	}}
}

// BuildDocument renders the text that is embedded for a property.
func BuildDocument(p Property) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Property: %s\n", p.Title)
	fmt.Fprintf(&b, "Location: %s\n", joinNonEmpty(", ", p.Area, p.City))
	if p.PriceAmount != nil {
		fmt.Fprintf(&b, "Price: %d\n", *p.PriceAmount)
	}
	if p.Beds != nil {
		fmt.Fprintf(&b, "Bedrooms: %d\n", *p.Beds)
	}
	if p.Baths != nil {
		fmt.Fprintf(&b, "Bathrooms: %d\n", *p.Baths)
	}
	if p.FloorAreaSqm != nil {
		fmt.Fprintf(&b, "Floor area: %d sqm\n", *p.FloorAreaSqm)
	}
	if len(p.Badges) > 0 {
		fmt.Fprintf(&b, "Features: %s\n", strings.Join(p.Badges, ", "))
	}
	if len(p.Enrichment) > 0 {
		var e Enrichment
		if json.Unmarshal(p.Enrichment, &e) == nil {
			if e.Narrative != "" {
				fmt.Fprintf(&b, "Analysis: %s\n", e.Narrative)
			}
			if e.Estimate != nil {
				fmt.Fprintf(&b, "Market estimate: %d\n", *e.Estimate)
			}
			if e.NeighborhoodAvg != nil {
				fmt.Fprintf(&b, "Neighborhood average: %d\n", *e.NeighborhoodAvg)
			}
		}
	}
	b.WriteString(p.Description)
	return strings.TrimSpace(b.String())
}

func joinNonEmpty(sep string, parts ...string) string {
	out := parts[:0:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, sep)
}

// ChunkText splits text into windows of at most size runes that overlap by
// overlap runes, preferring to break on a space in the second half of a window.
func ChunkText(text string, size, overlap int) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}
	if len(runes) <= size {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + size
		if end < len(runes) {
			for i := end - 1; i > start+size/2; i-- {
				if runes[i] == ' ' {
					end = i
					break
				}
			}
		} else {
			end = len(runes)
		}

		if chunk := strings.TrimSpace(string(runes[start:end])); chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end >= len(runes) {
			break
		}
		start = end - overlap
	}
	return chunks
}
