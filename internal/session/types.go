// Package session turns a flat stream of impression and click observations
// into one summary per (session, search term).
package session

import (
	"fmt"
	"slices"
)

// ObservationType distinguishes impressions from clicks.
type ObservationType string

// Observation types.
const (
	Impression ObservationType = "impression"
	Click      ObservationType = "click"
)

// ParseObservationType validates a raw observation type.
func ParseObservationType(s string) (ObservationType, error) {
	switch ObservationType(s) {
	case Impression, Click:
		return ObservationType(s), nil
	default:
		return "", fmt.Errorf("unknown observation type %q", s)
	}
}

// Observation is one impression or click of a document at a 1-based rank.
type Observation struct {
	SessionID  string          `json:"session_id"`
	SearchTerm string          `json:"search_term"`
	DocumentID string          `json:"document_id"`
	Rank       int             `json:"rank"`
	Type       ObservationType `json:"observation_type"`
}

// Validate checks the fields a segmenter relies on.
func (o Observation) Validate() error {
	if o.SessionID == "" {
		return fmt.Errorf("observation has no session id")
	}
	if o.DocumentID == "" {
		return fmt.Errorf("observation in session %s has no document id", o.SessionID)
	}
	if o.Rank < 1 {
		return fmt.Errorf("observation in session %s has rank %d, want >= 1", o.SessionID, o.Rank)
	}
	if _, err := ParseObservationType(string(o.Type)); err != nil {
		return err
	}
	return nil
}

// Key identifies one search within a session.
type Key struct {
	SessionID  string
	SearchTerm string
}

// Summary is one search session restricted to a single query. Summaries are
// immutable once built.
type Summary struct {
	SessionID          string   `json:"session_id"`
	SearchTerm         string   `json:"search_term"`
	ClickedDocuments   []string `json:"clicked_documents"`
	SkippedDocuments   []string `json:"skipped_documents"`
	FinalClickDocument string   `json:"final_click_document"`
	FinalClickRank     int      `json:"final_click_rank"`
}

// Validate checks the summary invariants.
func (s Summary) Validate() error {
	if len(s.ClickedDocuments) == 0 {
		return fmt.Errorf("session %s has no clicks", s.SessionID)
	}
	if !slices.Contains(s.ClickedDocuments, s.FinalClickDocument) {
		return fmt.Errorf("session %s: final click %s is not among clicked documents", s.SessionID, s.FinalClickDocument)
	}
	if s.FinalClickRank < 1 {
		return fmt.Errorf("session %s: final click rank %d, want >= 1", s.SessionID, s.FinalClickRank)
	}
	return nil
}

// Occurrence is one exploded (session, query, document) row.
type Occurrence struct {
	SessionID  string `json:"session_id"`
	SearchTerm string `json:"search_term"`
	DocumentID string `json:"document_id"`
}

// Explode returns one clicked and one skipped occurrence per document of
// every summary.
func Explode(summaries []Summary) (clicked, skipped []Occurrence) {
	for _, s := range summaries {
		for _, doc := range s.ClickedDocuments {
			clicked = append(clicked, Occurrence{SessionID: s.SessionID, SearchTerm: s.SearchTerm, DocumentID: doc})
		}
		for _, doc := range s.SkippedDocuments {
			skipped = append(skipped, Occurrence{SessionID: s.SessionID, SearchTerm: s.SearchTerm, DocumentID: doc})
		}
	}
	return clicked, skipped
}
