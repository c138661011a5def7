// Package sdbn estimates document relevance with a simplified dynamic
// Bayesian network: a user examines every result down to their last click,
// clicks on the attractive ones and stops at the one that satisfies them.
package sdbn

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/ricesearch/clickrank/internal/ranking"
)

// Column names of the parameter table.
const (
	ColSearchTerm          = "search_term"
	ColDocumentID          = "document_id"
	ColClicked             = "clicked"
	ColSkipped             = "skipped"
	ColChosen              = "chosen"
	ColClickedError        = "clicked_error"
	ColSkippedError        = "skipped_error"
	ColChosenError         = "chosen_error"
	ColExamined            = "examined"
	ColExaminedError       = "examined_error"
	ColAttractiveness      = "attractiveness"
	ColAttractivenessError = "attractiveness_error"
	ColSatisfaction        = "satisfaction"
	ColSatisfactionError   = "satisfaction_error"
	ColRelevance           = "relevance"
	ColRelevanceError      = "relevance_error"
	ColRelevanceLowerBound = "relevance_lower_bound"
)

// Key identifies one row of the parameter table.
type Key struct {
	SearchTerm string
	DocumentID string
}

// Statistic holds the counts and derived estimates for one (query, document).
type Statistic struct {
	SearchTerm string `json:"search_term"`
	DocumentID string `json:"document_id"`

	Clicked int `json:"clicked"`
	Skipped int `json:"skipped"`
	Chosen  int `json:"chosen"`

	ClickedError float64 `json:"clicked_error"`
	SkippedError float64 `json:"skipped_error"`
	ChosenError  float64 `json:"chosen_error"`

	Examined      int     `json:"examined"`
	ExaminedError float64 `json:"examined_error"`

	Attractiveness      float64 `json:"attractiveness"`
	AttractivenessError float64 `json:"attractiveness_error"`
	Satisfaction        float64 `json:"satisfaction"`
	SatisfactionError   float64 `json:"satisfaction_error"`

	Relevance           float64 `json:"relevance"`
	RelevanceError      float64 `json:"relevance_error"`
	RelevanceLowerBound float64 `json:"relevance_lower_bound"`
}

// Key returns the row key.
func (s Statistic) Key() Key {
	return Key{SearchTerm: s.SearchTerm, DocumentID: s.DocumentID}
}

// Covariances are the table-wide covariance terms used during training.
type Covariances struct {
	ClickedSkipped             float64 `json:"clicked_skipped"`
	ClickedExamined            float64 `json:"clicked_examined"`
	ChosenClicked              float64 `json:"chosen_clicked"`
	AttractivenessSatisfaction float64 `json:"attractiveness_satisfaction"`
}

// Model is a trained parameter table. It is never mutated after training or
// loading.
type Model struct {
	rows           []Statistic
	byKey          map[Key]int
	byQuery        map[string][]int
	covariances    Covariances
	hasUncertainty bool
}

// newModel indexes rows, which must already be sorted by key.
func newModel(rows []Statistic, hasUncertainty bool) *Model {
	m := &Model{
		rows:           rows,
		byKey:          make(map[Key]int, len(rows)),
		byQuery:        make(map[string][]int),
		hasUncertainty: hasUncertainty,
	}
	for i, r := range rows {
		m.byKey[r.Key()] = i
		m.byQuery[r.SearchTerm] = append(m.byQuery[r.SearchTerm], i)
	}
	return m
}

func sortRows(rows []Statistic) {
	slices.SortFunc(rows, func(a, b Statistic) int {
		if c := cmp.Compare(a.SearchTerm, b.SearchTerm); c != 0 {
			return c
		}
		return cmp.Compare(a.DocumentID, b.DocumentID)
	})
}

// HasUncertainty reports whether relevance lower bounds are available. Models
// loaded from a table without them rank by plain relevance.
func (m *Model) HasUncertainty() bool {
	return m.hasUncertainty
}

// Covariances returns the covariance terms the model was trained with.
func (m *Model) Covariances() Covariances {
	return m.covariances
}

// Relevance returns every document known for query, best first. Documents
// are scored by their relevance lower bound when available, otherwise by
// relevance. Equal scores are ordered by document ID.
func (m *Model) Relevance(query string) []ranking.ScoredDocument {
	idx := m.byQuery[query]
	docs := make([]ranking.ScoredDocument, 0, len(idx))
	for _, i := range idx {
		docs = append(docs, ranking.ScoredDocument{
			DocumentID: m.rows[i].DocumentID,
			Score:      m.score(m.rows[i]),
		})
	}
	slices.SortStableFunc(docs, func(a, b ranking.ScoredDocument) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.DocumentID, b.DocumentID)
	})
	return docs
}

func (m *Model) score(s Statistic) float64 {
	if m.hasUncertainty {
		return s.RelevanceLowerBound
	}
	return s.Relevance
}

// Statistic returns the row for (query, document).
func (m *Model) Statistic(query, documentID string) (Statistic, bool) {
	i, ok := m.byKey[Key{SearchTerm: query, DocumentID: documentID}]
	if !ok {
		return Statistic{}, false
	}
	return m.rows[i], true
}

// Statistics returns a copy of the whole table in key order.
func (m *Model) Statistics() []Statistic {
	return slices.Clone(m.rows)
}

// Queries returns the distinct search terms in sorted order.
func (m *Model) Queries() []string {
	queries := make([]string, 0, len(m.byQuery))
	for q := range m.byQuery {
		queries = append(queries, q)
	}
	slices.Sort(queries)
	return queries
}

// Len implements checks.Dataset.
func (m *Model) Len() int {
	return len(m.rows)
}

// Column implements checks.Dataset.
func (m *Model) Column(name string) ([]float64, bool) {
	get, ok := columnGetters[name]
	if !ok {
		return nil, false
	}
	out := make([]float64, len(m.rows))
	for i, r := range m.rows {
		out[i] = get(r)
	}
	return out, true
}

// Describe implements checks.Dataset.
func (m *Model) Describe(row int) string {
	r := m.rows[row]
	return fmt.Sprintf("%q/%q clicked=%d skipped=%d chosen=%d examined=%d attractiveness=%g satisfaction=%g relevance=%g±%g",
		r.SearchTerm, r.DocumentID, r.Clicked, r.Skipped, r.Chosen, r.Examined,
		r.Attractiveness, r.Satisfaction, r.Relevance, r.RelevanceError)
}

var columnGetters = map[string]func(Statistic) float64{
	ColClicked:             func(s Statistic) float64 { return float64(s.Clicked) },
	ColSkipped:             func(s Statistic) float64 { return float64(s.Skipped) },
	ColChosen:              func(s Statistic) float64 { return float64(s.Chosen) },
	ColClickedError:        func(s Statistic) float64 { return s.ClickedError },
	ColSkippedError:        func(s Statistic) float64 { return s.SkippedError },
	ColChosenError:         func(s Statistic) float64 { return s.ChosenError },
	ColExamined:            func(s Statistic) float64 { return float64(s.Examined) },
	ColExaminedError:       func(s Statistic) float64 { return s.ExaminedError },
	ColAttractiveness:      func(s Statistic) float64 { return s.Attractiveness },
	ColAttractivenessError: func(s Statistic) float64 { return s.AttractivenessError },
	ColSatisfaction:        func(s Statistic) float64 { return s.Satisfaction },
	ColSatisfactionError:   func(s Statistic) float64 { return s.SatisfactionError },
	ColRelevance:           func(s Statistic) float64 { return s.Relevance },
	ColRelevanceError:      func(s Statistic) float64 { return s.RelevanceError },
	ColRelevanceLowerBound: func(s Statistic) float64 { return s.RelevanceLowerBound },
}
