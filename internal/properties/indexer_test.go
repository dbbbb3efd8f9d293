package properties

import (
	"context"
	"strings"
	"sync"
	"testing"

	"estate_portal_backend/internal/events"
	"estate_portal_backend/platform/ai/embeddings"
	"estate_portal_backend/platform/logger"
	"estate_portal_backend/platform/qdrant"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmbedder struct {
	mu       sync.Mutex
	calls    int
	purposes []embeddings.Purpose
}

func (f *fakeEmbedder) Embed(_ context.Context, text string, purpose embeddings.Purpose) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.purposes = append(f.purposes, purpose)
	return []float32{float32(len(text)), 1, 0}, nil
}

type fakeVectors struct {
	dims    int
	deleted []*qdrant.Filter
	points  []qdrant.Point
}

func (f *fakeVectors) EnsureCollection(_ context.Context, dims int) error {
	f.dims = dims
	return nil
}

func (f *fakeVectors) Upsert(_ context.Context, points []qdrant.Point) error {
	f.points = append(f.points, points...)
	return nil
}

func (f *fakeVectors) DeleteByFilter(_ context.Context, filter *qdrant.Filter) error {
	f.deleted = append(f.deleted, filter)
	return nil
}

type fakeReader struct {
	props map[uuid.UUID]Property
}

func (f *fakeReader) GetByID(_ context.Context, orgID, id uuid.UUID) (Property, error) {
	p, ok := f.props[id]
	if !ok || p.OrganizationID != orgID {
		return Property{}, ErrNotFound
	}
	return p, nil
}

func (f *fakeReader) ListActiveIDs(_ context.Context, orgID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for id, p := range f.props {
		if p.OrganizationID == orgID {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func TestChunkText(t *testing.T) {
	assert.Nil(t, ChunkText("", 500, 60))
	assert.Equal(t, []string{"short"}, ChunkText("short", 500, 60))

	text := strings.Repeat("word ", 300)
	chunks := ChunkText(text, 500, 60)
	require.Greater(t, len(chunks), 2)
	for _, c := range chunks {
		assert.LessOrEqual(t, len([]rune(c)), 500)
		assert.False(t, strings.HasPrefix(c, " "))
	}

	// Consecutive chunks overlap.
	tail := chunks[0][len(chunks[0])-20:]
	assert.Contains(t, chunks[1], strings.TrimSpace(tail))
}

func TestBuildDocument(t *testing.T) {
	beds := 3
	doc := BuildDocument(Property{
		Title:       "Canal House",
		City:        "Amsterdam",
		Area:        "Jordaan",
		PriceAmount: int64Ptr(450000),
		Beds:        &beds,
		Badges:      []string{"MLS-1234"},
		Enrichment:  []byte(`{"narrative":"Quiet street","estimate":460000,"source":"n8n"}`),
		Description: "Bright family home.",
	})
	assert.Contains(t, doc, "Property: Canal House\n")
	assert.Contains(t, doc, "Location: Jordaan, Amsterdam\n")
	assert.Contains(t, doc, "Price: 450000\n")
	assert.Contains(t, doc, "Bedrooms: 3\n")
	assert.Contains(t, doc, "Features: MLS-1234\n")
	assert.Contains(t, doc, "Analysis: Quiet street\n")
	assert.Contains(t, doc, "Market estimate: 460000\n")
	assert.True(t, strings.HasSuffix(doc, "Bright family home."))
}

func TestIndexPropertyReplacesPoints(t *testing.T) {
	orgID := uuid.New()
	prop := Property{ID: uuid.New(), OrganizationID: orgID, Title: "Loft", City: "Utrecht", Description: strings.Repeat("light ", 200)}
	reader := &fakeReader{props: map[uuid.UUID]Property{prop.ID: prop}}
	embedder := &fakeEmbedder{}
	vectors := &fakeVectors{}
	ix := NewIndexer(reader, embedder, vectors, logger.Nop())

	require.NoError(t, ix.IndexProperty(context.Background(), orgID, prop.ID))

	chunks := ChunkText(BuildDocument(prop), chunkSize, chunkOverlap)
	assert.Equal(t, len(chunks), embedder.calls)
	for _, purpose := range embedder.purposes {
		assert.Equal(t, embeddings.PurposeDocument, purpose)
	}
	assert.Equal(t, 3, vectors.dims)
	require.Len(t, vectors.deleted, 1)
	assert.Len(t, vectors.deleted[0].Must, 2)
	require.Len(t, vectors.points, len(chunks))
	for i, p := range vectors.points {
		assert.Equal(t, orgID.String(), p.Payload[payloadOrgKey])
		assert.Equal(t, prop.ID.String(), p.Payload[payloadPropKey])
		assert.Equal(t, chunks[i], p.Payload[payloadChunkKey])
	}

	// Re-indexing produces the same point ids.
	first := vectors.points[0].ID
	vectors.points = nil
	require.NoError(t, ix.IndexProperty(context.Background(), orgID, prop.ID))
	assert.Equal(t, first, vectors.points[0].ID)
}

func TestIndexerHandlesPropertyEvents(t *testing.T) {
	orgID := uuid.New()
	prop := Property{ID: uuid.New(), OrganizationID: orgID, Title: "Loft"}
	vectors := &fakeVectors{}
	ix := NewIndexer(&fakeReader{props: map[uuid.UUID]Property{prop.ID: prop}}, &fakeEmbedder{}, vectors, logger.Nop())

	err := ix.Handle(context.Background(), events.PropertyCreated{PropertyID: prop.ID, OrganizationID: orgID})
	require.NoError(t, err)
	assert.Len(t, vectors.points, 1)

	n, err := ix.Reindex(context.Background(), orgID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestIndexerDisabled(t *testing.T) {
	ix := NewIndexer(&fakeReader{}, nil, nil, logger.Nop())
	assert.False(t, ix.Enabled())
	assert.ErrorIs(t, ix.IndexProperty(context.Background(), uuid.New(), uuid.New()), ErrIndexDisabled)
	assert.NoError(t, ix.Handle(context.Background(), events.PropertyCreated{}))
}
