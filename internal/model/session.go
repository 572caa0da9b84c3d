package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// SessionStatus is the state of a staging session.
type SessionStatus string

// Session statuses. Committed and cancelled are terminal.
const (
	SessionPending   SessionStatus = "pending"
	SessionCommitted SessionStatus = "committed"
	SessionCancelled SessionStatus = "cancelled"
)

// Session is a temporary staging area for batch-importing items.
type Session struct {
	ID               string          `json:"id"`
	Status           SessionStatus   `json:"status"`
	TargetBinID      *string         `json:"target_bin_id,omitempty"`
	TargetLocationID *string         `json:"target_location_id,omitempty"`
	Summary          *SessionSummary `json:"summary,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	CommittedAt      *time.Time      `json:"committed_at,omitempty"`
	CancelledAt      *time.Time      `json:"cancelled_at,omitempty"`

	// Computed on read.
	Stale       bool `json:"stale"`
	IdleMinutes int  `json:"idle_minutes"`
}

// SessionSummary is the snapshot written once when a session leaves pending.
// Exactly one of Commit or Cancel is set.
type SessionSummary struct {
	Commit *CommitSummary `json:"commit,omitempty"`
	Cancel *CancelSummary `json:"cancel,omitempty"`
}

// CommitSummary records what a commit produced.
type CommitSummary struct {
	ItemsAdded  []string `json:"items_added"`
	ImagesSaved []string `json:"images_saved"`
	TargetBinID string   `json:"target_bin_id"`
	BinCreated  bool     `json:"bin_created"`
}

// CancelSummary records why a session was cancelled.
type CancelSummary struct {
	Reason string `json:"reason,omitempty"`
}

// Validate checks that exactly one variant is set.
func (s SessionSummary) Validate() error {
	switch {
	case s.Commit != nil && s.Cancel != nil:
		return fmt.Errorf("session summary has both commit and cancel variants")
	case s.Commit == nil && s.Cancel == nil:
		return fmt.Errorf("session summary has no variant")
	case s.Commit != nil && s.Commit.TargetBinID == "":
		return fmt.Errorf("commit summary without target bin")
	}
	return nil
}

// EncodeSummary validates and serialises a summary for storage.
func EncodeSummary(s SessionSummary) (string, error) {
	if err := s.Validate(); err != nil {
		return "", err
	}
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("encoding session summary: %w", err)
	}
	return string(data), nil
}

// DecodeSummary parses a stored summary.
func DecodeSummary(raw string) (*SessionSummary, error) {
	var s SessionSummary
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("decoding session summary: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// StaleSession describes a pending session that blocks new ones.
type StaleSession struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	IdleMinutes  int       `json:"idle_minutes"`
	PendingItems int       `json:"pending_items"`
}

// ActiveSession is a pending session with its staging counts.
type ActiveSession struct {
	Session
	PendingItems int `json:"pending_items"`
	Images       int `json:"images"`
}

// ExtractionStatus tracks vision extraction for a staged image.
type ExtractionStatus string

// Extraction statuses.
const (
	ExtractionNone   ExtractionStatus = "none"
	ExtractionQueued ExtractionStatus = "queued"
	ExtractionDone   ExtractionStatus = "done"
	ExtractionFailed ExtractionStatus = "failed"
)

// SessionImage is an image staged under a session.
type SessionImage struct {
	ID               string           `json:"id"`
	SessionID        string           `json:"session_id"`
	ImageRef         string           `json:"image_ref"`
	ThumbnailRef     string           `json:"thumbnail_ref,omitempty"`
	OriginalFilename string           `json:"original_filename,omitempty"`
	Width            int              `json:"width"`
	Height           int              `json:"height"`
	SizeBytes        int64            `json:"size_bytes"`
	ExtractionStatus ExtractionStatus `json:"extraction_status"`
	Extraction       *Extraction      `json:"extraction,omitempty"`
	ExtractionError  string           `json:"extraction_error,omitempty"`
	Discarded        bool             `json:"discarded"`
	CreatedAt        time.Time        `json:"created_at"`
}

// Extraction is the payload the vision collaborator produced for one image.
type Extraction struct {
	Model       string      `json:"model,omitempty"`
	Candidates  []Candidate `json:"candidates"`
	Labels      []string    `json:"labels,omitempty"`
	Suggestions string      `json:"suggestions,omitempty"`
}

// Candidate is one item proposed by the vision collaborator.
type Candidate struct {
	Name               string   `json:"name"`
	Description        string   `json:"description,omitempty"`
	QuantityEstimate   string   `json:"quantity_estimate"`
	Quantity           Quantity `json:"quantity"`
	Confidence         float64  `json:"confidence"`
	CategorySuggestion string   `json:"category_suggestion,omitempty"`
}

// PendingSource records where a pending item came from.
type PendingSource string

// Pending item sources.
const (
	PendingVision PendingSource = "vision"
	PendingManual PendingSource = "manual"
)

// ItemSource maps a pending source to the canonical item source.
func (s PendingSource) ItemSource() Source {
	if s == PendingVision {
		return SourceVision
	}
	return SourceManual
}

// PendingItem is a candidate item staged inside a session.
type PendingItem struct {
	ID            string        `json:"id"`
	SessionID     string        `json:"session_id"`
	SourceImageID *string       `json:"source_image_id,omitempty"`
	CategoryID    *string       `json:"category_id,omitempty"`
	Name          string        `json:"name"`
	Description   string        `json:"description,omitempty"`
	Quantity      Quantity      `json:"quantity"`
	Source        PendingSource `json:"source"`
	Confidence    *float64      `json:"confidence,omitempty"`
	Notes         string        `json:"notes,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// SessionDetail is a session with its staged children.
type SessionDetail struct {
	Session
	Images       []SessionImage `json:"images"`
	PendingItems []PendingItem  `json:"pending_items"`
}
