// Package search keeps the derived search index consistent with the catalog.
//
// Lexical index writes run on the caller's transaction, so an item mutation
// and its index update commit or roll back together. Embedding regeneration is
// deferred to a background Refresher once the transaction has committed.
package search

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/crypto/blake2b"

	"github.com/erazemk/shramba/internal/db"
	"github.com/erazemk/shramba/internal/model"
)

// Document is the searchable projection of an item.
type Document struct {
	ItemID      string
	Name        string
	Description string
	Notes       string
	Aliases     []string
}

// DocumentFor projects an item. Aliases must be loaded on the item.
func DocumentFor(item *model.Item) Document {
	return Document{
		ItemID:      item.ID,
		Name:        item.Name,
		Description: item.Description,
		Notes:       item.Notes,
		Aliases:     item.Aliases,
	}
}

// Text is the content embedded for vector search.
func (d Document) Text() string {
	parts := []string{d.Name}
	if d.Description != "" {
		parts = append(parts, d.Description)
	}
	if d.Notes != "" {
		parts = append(parts, d.Notes)
	}
	if len(d.Aliases) > 0 {
		parts = append(parts, "Also known as: "+strings.Join(d.Aliases, ", "))
	}
	return strings.Join(parts, "\n")
}

// Hash fingerprints the document content.
func (d Document) Hash() string {
	sum := blake2b.Sum256([]byte(d.Text()))
	return hex.EncodeToString(sum[:])
}

// Index is the search collaborator. Both operations must be idempotent.
type Index interface {
	Upsert(ctx context.Context, q db.Querier, doc Document) error
	Delete(ctx context.Context, q db.Querier, itemID string) error
}

// Searcher is an Index that can also answer queries.
type Searcher interface {
	Index
	Search(ctx context.Context, q db.Querier, query string, limit int) ([]Hit, error)
}

// FTS is an Index backed by the items_fts SQLite FTS5 table.
type FTS struct{}

// NewFTS returns the FTS5 index.
func NewFTS() *FTS {
	return &FTS{}
}

// Upsert replaces the item's row. Running it twice leaves one row.
func (f *FTS) Upsert(ctx context.Context, q db.Querier, doc Document) error {
	if err := f.Delete(ctx, q, doc.ItemID); err != nil {
		return err
	}
	_, err := q.ExecContext(ctx,
		`INSERT INTO items_fts (item_id, name, description, notes, aliases) VALUES (?, ?, ?, ?, ?)`,
		doc.ItemID, doc.Name, doc.Description, doc.Notes, strings.Join(doc.Aliases, " "),
	)
	if err != nil {
		return fmt.Errorf("indexing item %s: %w", doc.ItemID, err)
	}
	return nil
}

// Delete removes the item's row, if any.
func (f *FTS) Delete(ctx context.Context, q db.Querier, itemID string) error {
	if _, err := q.ExecContext(ctx, `DELETE FROM items_fts WHERE item_id = ?`, itemID); err != nil {
		return fmt.Errorf("unindexing item %s: %w", itemID, err)
	}
	return nil
}

// Hit is one lexical search result.
type Hit struct {
	ItemID string  `json:"item_id"`
	Rank   float64 `json:"rank"`
}

// Search runs a prefix match over every indexed column, best match first.
func (f *FTS) Search(ctx context.Context, q db.Querier, query string, limit int) ([]Hit, error) {
	match := matchExpression(query)
	if match == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := q.QueryContext(ctx,
		`SELECT item_id, rank FROM items_fts WHERE items_fts MATCH ? ORDER BY rank LIMIT ?`,
		match, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("searching items: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.ItemID, &h.Rank); err != nil {
			return nil, fmt.Errorf("scanning search hit: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// matchExpression turns free text into an FTS5 query of quoted prefix terms.
// Quoting keeps user input from being parsed as FTS5 syntax.
func matchExpression(query string) string {
	words := strings.FieldsFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	terms := make([]string, 0, len(words))
	for _, w := range words {
		terms = append(terms, `"`+w+`"*`)
	}
	return strings.Join(terms, " ")
}
