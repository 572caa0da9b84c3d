package model

import "time"

// Action is the kind of mutation an activity entry records.
type Action string

// Ledger actions.
const (
	ActionAdded   Action = "added"
	ActionRemoved Action = "removed"
	ActionMoved   Action = "moved"
	ActionUpdated Action = "updated"
	ActionUsed    Action = "used"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionAdded, ActionRemoved, ActionMoved, ActionUpdated, ActionUsed:
		return true
	}
	return false
}

// ActivityEntry is one immutable ledger record.
type ActivityEntry struct {
	Seq           int64         `json:"seq"`
	ID            string        `json:"id"`
	ItemID        string        `json:"item_id"`
	RelatedItemID *string       `json:"related_item_id,omitempty"`
	ItemName      string        `json:"item_name"`
	Action        Action        `json:"action"`
	QuantityDelta *int          `json:"quantity_delta,omitempty"`
	FromBinID     *string       `json:"from_bin_id,omitempty"`
	ToBinID       *string       `json:"to_bin_id,omitempty"`
	Note          string        `json:"note,omitempty"`
	Split         *SplitDetails `json:"split,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}

// SplitDetails is the structured note of a move that split an item in two.
type SplitDetails struct {
	Split          bool   `json:"split"`
	SourceItemID   string `json:"source_item_id"`
	NewItemID      string `json:"new_item_id"`
	QuantityMoved  int    `json:"quantity_moved"`
	QuantityBefore int    `json:"quantity_before"`
}

// ActivityFilter narrows a ledger query. Zero values match everything.
type ActivityFilter struct {
	ItemID string
	BinID  string
	Action Action
	Since  time.Time
	Until  time.Time
	Limit  int
}
