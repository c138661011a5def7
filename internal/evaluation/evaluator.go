// Package evaluation replays held-out sessions against a ranking and
// measures how much the user would have gained from it.
package evaluation

import (
	"github.com/ricesearch/clickrank/internal/pkg/logger"
	"github.com/ricesearch/clickrank/internal/ranking"
	"github.com/ricesearch/clickrank/internal/session"
)

// Ranker ranks the documents of a query.
type Ranker interface {
	Rank(query string) ranking.Ranking
}

// Evaluator computes per-session metrics. It never mutates the ranker.
type Evaluator struct {
	ranker Ranker
	log    *logger.Logger
}

// NewEvaluator creates a new evaluator. log may be nil.
func NewEvaluator(ranker Ranker, log *logger.Logger) *Evaluator {
	return &Evaluator{
		ranker: ranker,
		log:    logger.OrDefault(log),
	}
}

// Evaluate returns one result per session, in input order. Sessions the
// model cannot judge get zero-valued metrics.
func (e *Evaluator) Evaluate(test []session.Summary) []Result {
	results := make([]Result, 0, len(test))
	for _, s := range test {
		results = append(results, e.EvaluateSession(s))
	}
	return results
}

// EvaluateSession computes the metrics of one session.
func (e *Evaluator) EvaluateSession(s session.Summary) Result {
	ranks := e.ranker.Rank(s.SearchTerm)
	newRank, _ := ranks.Lookup(s.FinalClickDocument)

	change := e.changeInRank(s, ranks)
	return Result{
		SessionID:            s.SessionID,
		SearchTerm:           s.SearchTerm,
		FinalClickDocument:   s.FinalClickDocument,
		FinalClickRank:       s.FinalClickRank,
		NewRank:              newRank,
		SavedClicks:          e.savedClicks(s, ranks),
		ChangeInRank:         change,
		WeightedChangeInRank: change * s.FinalClickRank,
	}
}

// SavedClicks counts the session's other clicks that the new ranking places
// below the final click.
func (e *Evaluator) SavedClicks(s session.Summary) int {
	return e.savedClicks(s, e.ranker.Rank(s.SearchTerm))
}

// ChangeInRank returns old rank minus new rank of the final click; positive
// means it moved up. Unknown documents give 0.
func (e *Evaluator) ChangeInRank(s session.Summary) int {
	return e.changeInRank(s, e.ranker.Rank(s.SearchTerm))
}

func (e *Evaluator) savedClicks(s session.Summary, ranks ranking.Ranking) int {
	finalRank, ok := ranks.Lookup(s.FinalClickDocument)
	if !ok {
		e.log.WithQuery(s.SearchTerm).Debug("Final click not ranked",
			"session_id", s.SessionID,
			"document_id", s.FinalClickDocument,
		)
		return 0
	}

	saved := 0
	for _, doc := range s.ClickedDocuments {
		if doc == s.FinalClickDocument {
			continue
		}
		rank, ok := ranks.Lookup(doc)
		if !ok {
			e.log.WithQuery(s.SearchTerm).Debug("Clicked document not ranked",
				"session_id", s.SessionID,
				"document_id", doc,
			)
			continue
		}
		if rank > finalRank {
			saved++
		}
	}
	return saved
}

func (e *Evaluator) changeInRank(s session.Summary, ranks ranking.Ranking) int {
	newRank, ok := ranks.Lookup(s.FinalClickDocument)
	if !ok {
		return 0
	}
	return s.FinalClickRank - newRank
}

// Summarize aggregates results across sessions.
func Summarize(results []Result) *Summary {
	if len(results) == 0 {
		return &Summary{}
	}

	summary := &Summary{Sessions: len(results)}

	saved := make([]float64, len(results))
	change := make([]float64, len(results))
	weighted := make([]float64, len(results))
	var oldRR, newRR []float64
	for i, r := range results {
		saved[i] = float64(r.SavedClicks)
		change[i] = float64(r.ChangeInRank)
		weighted[i] = float64(r.WeightedChangeInRank)

		if r.Evaluated() {
			summary.Evaluated++
			oldRR = append(oldRR, ReciprocalRank(r.FinalClickRank))
			newRR = append(newRR, ReciprocalRank(r.NewRank))
		}
	}

	summary.MeanSavedClicks = Mean(saved)
	summary.MedianSavedClicks = Median(saved)
	summary.MeanChangeInRank = Mean(change)
	summary.MedianChangeInRank = Median(change)
	summary.MeanWeightedChangeInRank = Mean(weighted)
	summary.OldMRR = Mean(oldRR)
	summary.NewMRR = Mean(newRR)

	return summary
}
