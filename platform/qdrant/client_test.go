package qdrant

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchSendsFilterAndDecodesResults(t *testing.T) {
	var captured SearchRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/collections/properties/points/search", r.URL.Path)
		assert.Equal(t, "secret", r.Header.Get("api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_, _ = w.Write([]byte(`{"result":[{"id":"p1","score":0.91,"payload":{"property_id":"abc"}}],"status":"ok","time":0.01}`))
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL + "/", APIKey: "secret", Collection: "properties"})
	results, err := client.Search(context.Background(), []float32{0.1, 0.2}, SearchOptions{
		Limit:  3,
		Filter: MatchValue("organization_id", "org-1"),
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "abc", results[0].Payload["property_id"])
	assert.Equal(t, 3, captured.Limit)
	require.NotNil(t, captured.Filter)
	assert.Equal(t, "organization_id", captured.Filter.Must[0].Key)
}

func TestEnsureCollectionCreatesWhenMissing(t *testing.T) {
	var created bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.WriteHeader(http.StatusNotFound)
		case http.MethodPut:
			created = true
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, Collection: "properties"})
	require.NoError(t, client.EnsureCollection(context.Background(), 768))
	assert.True(t, created)
}

func TestDisabledClient(t *testing.T) {
	client := NewClient(Config{Collection: "properties"})
	err := client.Upsert(context.Background(), []Point{{ID: "x", Vector: []float32{1}}})
	assert.True(t, errors.Is(err, ErrDisabled))
}
