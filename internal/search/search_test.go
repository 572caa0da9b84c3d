package search

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erazemk/shramba/internal/db"
	"github.com/erazemk/shramba/internal/model"
	"github.com/erazemk/shramba/internal/store"
)

func seedItem(t *testing.T, database *sql.DB, name, description string) *model.Item {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()

	loc := &model.Location{ID: store.NewID(), Name: "Garage-" + name, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.InsertLocation(ctx, database, loc))
	bin := &model.Bin{ID: store.NewID(), LocationID: loc.ID, Name: "Shelf", CreatedAt: now, UpdatedAt: now}
	require.NoError(t, store.InsertBin(ctx, database, bin))
	item := &model.Item{
		ID: store.NewID(), BinID: bin.ID, Name: name, Description: description,
		Quantity: model.Quantity{Type: model.QuantityExact, Value: 1},
		Source:   model.SourceManual, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, store.InsertItem(ctx, database, item))
	return item
}

func countRows(t *testing.T, database *sql.DB, itemID string) int {
	t.Helper()
	var n int
	require.NoError(t, database.QueryRow(`SELECT COUNT(*) FROM items_fts WHERE item_id = ?`, itemID).Scan(&n))
	return n
}

func TestFTSUpsertIsIdempotent(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	fts := NewFTS()
	item := seedItem(t, database, "M3 Screws", "stainless")

	doc := DocumentFor(item)
	require.NoError(t, fts.Upsert(ctx, database, doc))
	first, err := fts.Search(ctx, database, "screw", 10)
	require.NoError(t, err)

	require.NoError(t, fts.Upsert(ctx, database, doc))
	second, err := fts.Search(ctx, database, "screw", 10)
	require.NoError(t, err)

	assert.Equal(t, 1, countRows(t, database, item.ID))
	assert.Equal(t, first, second)
}

func TestFTSDeleteIsIdempotent(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	fts := NewFTS()
	item := seedItem(t, database, "Hammer", "")

	require.NoError(t, fts.Upsert(ctx, database, DocumentFor(item)))
	require.NoError(t, fts.Delete(ctx, database, item.ID))
	require.NoError(t, fts.Delete(ctx, database, item.ID))
	assert.Zero(t, countRows(t, database, item.ID))
}

func TestFTSSearchMatchesAliasesAndIgnoresSyntax(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	fts := NewFTS()
	item := seedItem(t, database, "Claw hammer", "")
	item.Aliases = []string{"mallet"}
	require.NoError(t, fts.Upsert(ctx, database, DocumentFor(item)))

	hits, err := fts.Search(ctx, database, "mall", 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, item.ID, hits[0].ItemID)

	hits, err = fts.Search(ctx, database, `ham" (`, 10)
	require.NoError(t, err)
	assert.Len(t, hits, 1)

	hits, err = fts.Search(ctx, database, "   ", 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestChangesRollBackWithTransaction(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	syncer := NewSynchronizer(NewFTS(), nil, nil)
	item := seedItem(t, database, "Tape", "")

	err := db.WithTx(ctx, database, func(tx *sql.Tx) error {
		changes := syncer.Track()
		if err := changes.Upsert(ctx, tx, item); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)
	assert.Zero(t, countRows(t, database, item.ID))
}

type fakeEmbedder struct {
	calls atomic.Int32
}

func (f *fakeEmbedder) Model() string { return "fake-1" }

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls.Add(1)
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = []float32{float32(len(text)), 0.5, -1}
	}
	return out, nil
}

func TestRefresherSkipsUnchangedContent(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	embedder := &fakeEmbedder{}
	refresher := NewRefresher(database, embedder, nil, 4)
	item := seedItem(t, database, "Solder", "lead free")

	require.NoError(t, refresher.Refresh(ctx, item.ID))
	require.NoError(t, refresher.Refresh(ctx, item.ID))
	assert.Equal(t, int32(1), embedder.calls.Load())

	vec, err := Embedding(ctx, database, item.ID)
	require.NoError(t, err)
	assert.Equal(t, []float32{float32(len(DocumentFor(item).Text())), 0.5, -1}, vec)

	item.Notes = "60/40 is banned"
	item.UpdatedAt = time.Now().UTC()
	require.NoError(t, store.UpdateItem(ctx, database, item))
	require.NoError(t, refresher.Refresh(ctx, item.ID))
	assert.Equal(t, int32(2), embedder.calls.Load())
}

func TestRefresherIgnoresDeletedItems(t *testing.T) {
	database := db.NewTestDB(t)
	embedder := &fakeEmbedder{}
	refresher := NewRefresher(database, embedder, nil, 4)

	require.NoError(t, refresher.Refresh(context.Background(), "missing"))
	assert.Zero(t, embedder.calls.Load())
}

func TestRefresherWorkersDrainQueue(t *testing.T) {
	database := db.NewTestDB(t)
	embedder := &fakeEmbedder{}
	refresher := NewRefresher(database, embedder, nil, 4)
	item := seedItem(t, database, "Flux", "")

	refresher.Start(context.Background(), 1)
	refresher.Enqueue(item.ID)
	refresher.Close()

	vec, err := Embedding(context.Background(), database, item.ID)
	require.NoError(t, err)
	assert.NotNil(t, vec)
}

func TestRefresherEnqueueAfterCloseIsIgnored(t *testing.T) {
	database := db.NewTestDB(t)
	embedder := &fakeEmbedder{}
	refresher := NewRefresher(database, embedder, nil, 4)
	item := seedItem(t, database, "Rosin", "")

	refresher.Start(context.Background(), 2)
	refresher.Close()
	assert.NotPanics(t, func() {
		refresher.Enqueue(item.ID)
		refresher.Enqueue("x")
	})
	assert.NotPanics(t, refresher.Close)
	assert.Zero(t, embedder.calls.Load())

	// Never started: Close then Enqueue still must not send.
	idle := NewRefresher(database, nil, nil, 4)
	idle.Close()
	assert.NotPanics(t, func() { idle.Enqueue("x") })
}

type pickyEmbedder struct {
	fakeEmbedder
}

func (p *pickyEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	for _, text := range texts {
		if strings.Contains(text, "Cursed") {
			return nil, errors.New("rejected")
		}
	}
	return p.fakeEmbedder.Embed(ctx, texts)
}

func TestRefreshAllBackfillsEveryItem(t *testing.T) {
	database := db.NewTestDB(t)
	ctx := context.Background()
	embedder := &pickyEmbedder{}
	refresher := NewRefresher(database, embedder, nil, 4)

	good := seedItem(t, database, "Multimeter", "")
	other := seedItem(t, database, "Test leads", "")
	seedItem(t, database, "Cursed cable", "")

	res, err := refresher.RefreshAll(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, ReindexResult{Items: 3, Failed: 1}, res)

	for _, id := range []string{good.ID, other.ID} {
		vec, err := Embedding(ctx, database, id)
		require.NoError(t, err)
		assert.NotNil(t, vec)
	}

	// A second pass finds nothing changed.
	calls := embedder.calls.Load()
	res, err = refresher.RefreshAll(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, calls, embedder.calls.Load())
}

func TestVoyageEmbed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "voyage-test", req.Model)
		assert.Equal(t, []string{"a", "b"}, req.Input)

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"data":[{"embedding":[0.25,1],"index":1},{"embedding":[0.5,2],"index":0}]}`))
	}))
	defer server.Close()

	v, err := NewVoyage("key", "voyage-test", WithVoyageBaseURL(server.URL))
	require.NoError(t, err)

	vectors, err := v.Embed(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0.5, 2}, {0.25, 1}}, vectors)
}

func TestVoyageRequiresKey(t *testing.T) {
	_, err := NewVoyage("", "")
	assert.Error(t, err)
}
