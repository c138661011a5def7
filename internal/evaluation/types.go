package evaluation

// Result holds the counterfactual metrics for one held-out session.
type Result struct {
	SessionID          string `json:"session_id"`
	SearchTerm         string `json:"search_term"`
	FinalClickDocument string `json:"final_click_document"`
	FinalClickRank     int    `json:"final_click_rank"`

	// NewRank is the final click's rank under the model, 0 if the model does
	// not know the document.
	NewRank int `json:"new_rank"`

	SavedClicks  int `json:"saved_clicks"`
	ChangeInRank int `json:"change_in_rank"`

	// WeightedChangeInRank scales ChangeInRank by the old rank, so moves deep
	// in the list count for more.
	WeightedChangeInRank int `json:"weighted_change_in_rank"`
}

// Evaluated reports whether the model knew the final click.
func (r Result) Evaluated() bool {
	return r.NewRank > 0
}

// Summary aggregates results across held-out sessions.
type Summary struct {
	Sessions  int `json:"sessions"`
	Evaluated int `json:"evaluated"`

	MeanSavedClicks   float64 `json:"mean_saved_clicks"`
	MedianSavedClicks float64 `json:"median_saved_clicks"`

	MeanChangeInRank   float64 `json:"mean_change_in_rank"`
	MedianChangeInRank float64 `json:"median_change_in_rank"`

	MeanWeightedChangeInRank float64 `json:"mean_weighted_change_in_rank"`

	// Reciprocal rank of the final click, before and after re-ranking,
	// averaged over evaluated sessions.
	OldMRR float64 `json:"old_mrr"`
	NewMRR float64 `json:"new_mrr"`
}
