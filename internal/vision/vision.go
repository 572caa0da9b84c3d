// Package vision proposes candidate items from a photo. Extraction is slow and
// may fail; callers run it outside any database transaction.
package vision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/erazemk/shramba/internal/model"
)

// ErrNotConfigured is returned when no extraction backend is set up.
var ErrNotConfigured = errors.New("vision extraction is not configured")

// Request is one extraction call.
type Request struct {
	Image     []byte
	MediaType string
	// Hint is free text from the caller, such as "this is a hardware bin".
	Hint string
	// Categories are existing category names the model should prefer.
	Categories []string
}

// Extractor turns an image into candidate items.
type Extractor interface {
	Extract(ctx context.Context, req Request) (*model.Extraction, error)
}

// ParseEstimate converts a quantity estimate of the form "exact:N",
// "approximate:label" or "boolean" into a quantity. Anything unrecognised is
// treated as a single uncounted object.
func ParseEstimate(estimate string) model.Quantity {
	estimate = strings.TrimSpace(estimate)
	kind, rest, _ := strings.Cut(estimate, ":")

	switch strings.ToLower(kind) {
	case "exact":
		n, err := strconv.Atoi(strings.TrimSpace(rest))
		if err != nil || n < 0 {
			n = 1
		}
		return model.Quantity{Type: model.QuantityExact, Value: n}
	case "approximate":
		label := strings.TrimSpace(rest)
		if label == "" {
			label = "various"
		}
		return model.Quantity{Type: model.QuantityApproximate, Value: 1, Label: label}
	}
	return model.Quantity{Type: model.QuantityBoolean, Value: 1}
}

type extractionPayload struct {
	Items []struct {
		Name               string  `json:"name"`
		Description        string  `json:"description"`
		QuantityEstimate   string  `json:"quantity_estimate"`
		Confidence         float64 `json:"confidence"`
		CategorySuggestion string  `json:"category_suggestion"`
	} `json:"items"`
	Labels      []string `json:"labels_detected"`
	Suggestions string   `json:"suggestions"`
}

// parseResponse extracts the JSON object from a model reply, which may be
// wrapped in a markdown code block or surrounded by prose.
func parseResponse(text string) (*model.Extraction, error) {
	text = strings.TrimSpace(text)
	if start := strings.Index(text, "```"); start >= 0 {
		inner := text[start+3:]
		inner = strings.TrimPrefix(inner, "json")
		if end := strings.Index(inner, "```"); end >= 0 {
			text = strings.TrimSpace(inner[:end])
		}
	}
	if start, end := strings.Index(text, "{"), strings.LastIndex(text, "}"); start >= 0 && end > start {
		text = text[start : end+1]
	}

	var payload extractionPayload
	if err := json.Unmarshal([]byte(text), &payload); err != nil {
		return nil, fmt.Errorf("parse json: %w (response: %s)", err, text)
	}

	ex := &model.Extraction{
		Candidates:  make([]model.Candidate, 0, len(payload.Items)),
		Labels:      payload.Labels,
		Suggestions: payload.Suggestions,
	}
	for _, it := range payload.Items {
		name := model.NormalizeName(it.Name)
		if name == "" {
			name = "Unknown item"
		}
		estimate := it.QuantityEstimate
		if estimate == "" {
			estimate = "boolean"
		}
		confidence := it.Confidence
		if confidence < 0 || confidence > 1 {
			confidence = 0.5
		}
		ex.Candidates = append(ex.Candidates, model.Candidate{
			Name:               name,
			Description:        it.Description,
			QuantityEstimate:   estimate,
			Quantity:           ParseEstimate(estimate),
			Confidence:         confidence,
			CategorySuggestion: it.CategorySuggestion,
		})
	}
	return ex, nil
}
