package model

import "time"

// Location is a top-level physical area that owns bins.
type Location struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Bin is a container of items, optionally nested in another bin of the same
// location.
type Bin struct {
	ID          string    `json:"id"`
	LocationID  string    `json:"location_id"`
	ParentBinID *string   `json:"parent_bin_id,omitempty"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// Joined fields (not always populated).
	LocationName string `json:"location_name,omitempty"`
	ItemCount    int    `json:"item_count,omitempty"`
}

// BinImage is a photo attached to a bin, usually promoted from a session.
type BinImage struct {
	ID                   string    `json:"id"`
	BinID                string    `json:"bin_id"`
	ImageRef             string    `json:"image_ref"`
	ThumbnailRef         string    `json:"thumbnail_ref,omitempty"`
	Caption              string    `json:"caption,omitempty"`
	IsPrimary            bool      `json:"is_primary"`
	SourceSessionID      *string   `json:"source_session_id,omitempty"`
	SourceSessionImageID *string   `json:"source_session_image_id,omitempty"`
	Width                int       `json:"width"`
	Height               int       `json:"height"`
	SizeBytes            int64     `json:"size_bytes"`
	CreatedAt            time.Time `json:"created_at"`
}

// Category is a node in the item classification hierarchy.
type Category struct {
	ID          string    `json:"id"`
	ParentID    *string   `json:"parent_id,omitempty"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// DefaultBinName names the bin created when a session commits against a
// location without a specific bin.
const DefaultBinName = "Default"
