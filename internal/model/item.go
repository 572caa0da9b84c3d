package model

import (
	"time"

	"github.com/erazemk/shramba/internal/apperr"
)

// QuantityType describes how an item's quantity is counted.
type QuantityType string

// Quantity types.
const (
	QuantityExact       QuantityType = "exact"
	QuantityApproximate QuantityType = "approximate"
	QuantityBoolean     QuantityType = "boolean"
)

// Quantity is an item's quantity descriptor. Boolean quantities record
// presence only and always carry Value 1.
type Quantity struct {
	Type  QuantityType `json:"type"`
	Value int          `json:"value"`
	Label string       `json:"label,omitempty"`
}

// Normalize validates q and returns its canonical form. An empty type means
// exact; boolean quantities are forced to 1.
func (q Quantity) Normalize() (Quantity, error) {
	switch q.Type {
	case "":
		q.Type = QuantityExact
	case QuantityExact, QuantityApproximate:
	case QuantityBoolean:
		q.Value = 1
		return q, nil
	default:
		return q, apperr.Invalidf("unknown quantity type %q", q.Type)
	}
	if q.Value < 0 {
		return q, apperr.Invalidf("quantity must not be negative, got %d", q.Value)
	}
	return q, nil
}

// IsBoolean reports whether the quantity records presence only.
func (q Quantity) IsBoolean() bool {
	return q.Type == QuantityBoolean
}

// Source records how an item entered the catalog.
type Source string

// Item sources.
const (
	SourceManual  Source = "manual"
	SourceVision  Source = "vision"
	SourceBarcode Source = "barcode"
)

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	switch s {
	case SourceManual, SourceVision, SourceBarcode:
		return true
	}
	return false
}

// Item is a canonical catalog entry held in a bin.
type Item struct {
	ID              string    `json:"id"`
	BinID           string    `json:"bin_id"`
	CategoryID      *string   `json:"category_id,omitempty"`
	Name            string    `json:"name"`
	Description     string    `json:"description,omitempty"`
	Quantity        Quantity  `json:"quantity"`
	Source          Source    `json:"source"`
	SourceReference string    `json:"source_reference,omitempty"`
	Notes           string    `json:"notes,omitempty"`
	PhotoRef        string    `json:"photo_ref,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`

	// Joined fields (not always populated).
	Aliases []string `json:"aliases,omitempty"`
}

// Alias is an alternate search string bound to one item.
type Alias struct {
	ID        string    `json:"id"`
	ItemID    string    `json:"item_id"`
	Alias     string    `json:"alias"`
	CreatedAt time.Time `json:"created_at"`
}
