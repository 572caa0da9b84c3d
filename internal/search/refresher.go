package search

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/erazemk/shramba/internal/metrics"
	"github.com/erazemk/shramba/internal/store"
)

// Refresher regenerates item embeddings in the background. Requests for the
// same item are collapsed, and items whose content hash is unchanged are
// skipped.
type Refresher struct {
	db       *sql.DB
	embedder Embedder
	logger   *slog.Logger

	group singleflight.Group
	queue chan string
	wg    sync.WaitGroup

	// mu guards closed and every send on queue.
	mu     sync.Mutex
	closed bool
}

// NewRefresher creates a refresher with a queue of the given size.
func NewRefresher(database *sql.DB, embedder Embedder, logger *slog.Logger, queueSize int) *Refresher {
	if logger == nil {
		logger = slog.Default()
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Refresher{
		db:       database,
		embedder: embedder,
		logger:   logger,
		queue:    make(chan string, queueSize),
	}
}

// Start launches workers that drain the queue until Close is called.
func (r *Refresher) Start(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 1
	}
	for range workers {
		r.wg.Add(1)
		go func() {
			defer r.wg.Done()
			for id := range r.queue {
				refreshCtx, cancel := context.WithTimeout(ctx, time.Minute)
				if err := r.Refresh(refreshCtx, id); err != nil {
					r.logger.Warn("embedding refresh failed", "item_id", id, "error", err)
				}
				cancel()
			}
		}()
	}
}

// Enqueue schedules a refresh without blocking. When the queue is full the
// request is dropped; the next mutation of the item schedules it again.
// After Close it does nothing.
func (r *Refresher) Enqueue(itemID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		metrics.EmbeddingRefreshesTotal.WithLabelValues("dropped").Inc()
		return
	}
	select {
	case r.queue <- itemID:
	default:
		metrics.EmbeddingRefreshesTotal.WithLabelValues("dropped").Inc()
		r.logger.Warn("embedding queue full, dropping refresh", "item_id", itemID)
	}
}

// Close stops accepting work and waits for the workers to finish.
func (r *Refresher) Close() {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()
	r.wg.Wait()
}

// Refresh brings one item's embedding up to date.
func (r *Refresher) Refresh(ctx context.Context, itemID string) error {
	_, err, _ := r.group.Do(itemID, func() (any, error) {
		return nil, r.refresh(ctx, itemID)
	})
	return err
}

// ReindexResult counts the items a RefreshAll pass visited.
type ReindexResult struct {
	Items  int `json:"items"`
	Failed int `json:"failed"`
}

// RefreshAll brings every item's embedding up to date with at most workers
// refreshes in flight. Items whose content is unchanged cost no embedding
// call. Per-item failures are logged and counted; the error is only set when
// listing fails or ctx ends.
func (r *Refresher) RefreshAll(ctx context.Context, workers int) (ReindexResult, error) {
	items, err := store.ListItems(ctx, r.db, store.ItemFilter{})
	if err != nil {
		return ReindexResult{}, err
	}

	var failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(workers, 1))
	for _, item := range items {
		g.Go(func() error {
			if err := r.Refresh(gctx, item.ID); err != nil {
				failed.Add(1)
				r.logger.Warn("embedding refresh failed", "item_id", item.ID, "error", err)
			}
			return nil
		})
	}
	g.Wait()

	res := ReindexResult{Items: len(items), Failed: int(failed.Load())}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}

func (r *Refresher) refresh(ctx context.Context, itemID string) error {
	item, err := store.GetItem(ctx, r.db, itemID)
	if err != nil {
		return err
	}
	if item == nil {
		// Deleted since it was queued; its embedding row cascaded away.
		metrics.EmbeddingRefreshesTotal.WithLabelValues("skipped").Inc()
		return nil
	}

	doc := DocumentFor(item)
	hash := doc.Hash()

	var current, currentModel string
	err = r.db.QueryRowContext(ctx,
		`SELECT content_hash, model FROM item_embeddings WHERE item_id = ?`, itemID,
	).Scan(&current, &currentModel)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("reading embedding hash: %w", err)
	}
	if current == hash && currentModel == r.embedder.Model() {
		metrics.EmbeddingRefreshesTotal.WithLabelValues("unchanged").Inc()
		return nil
	}

	vectors, err := r.embedder.Embed(ctx, []string{doc.Text()})
	if err != nil {
		metrics.EmbeddingRefreshesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("embedding item %s: %w", itemID, err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO item_embeddings (item_id, model, content_hash, vector, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (item_id) DO UPDATE SET
		     model = excluded.model,
		     content_hash = excluded.content_hash,
		     vector = excluded.vector,
		     updated_at = excluded.updated_at`,
		itemID, r.embedder.Model(), hash, encodeVector(vectors[0]), time.Now().UTC(),
	)
	if store.IsForeignKeyViolation(err) {
		metrics.EmbeddingRefreshesTotal.WithLabelValues("skipped").Inc()
		return nil
	}
	if err != nil {
		metrics.EmbeddingRefreshesTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("storing embedding: %w", err)
	}

	metrics.EmbeddingRefreshesTotal.WithLabelValues("updated").Inc()
	return nil
}

// Embedding returns the stored vector of an item, or nil if none exists.
func Embedding(ctx context.Context, database *sql.DB, itemID string) ([]float32, error) {
	var blob []byte
	err := database.QueryRowContext(ctx,
		`SELECT vector FROM item_embeddings WHERE item_id = ?`, itemID,
	).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading embedding: %w", err)
	}
	return decodeVector(blob), nil
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return v
}
