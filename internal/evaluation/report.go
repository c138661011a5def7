package evaluation

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

var reportHeader = []string{
	"session_id",
	"search_term",
	"final_click_document",
	"final_click_rank",
	"new_rank",
	"saved_clicks",
	"change_in_rank",
	"weighted_change_in_rank",
}

// WriteReport writes one CSV row per result.
func WriteReport(w io.Writer, results []Result) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(reportHeader); err != nil {
		return fmt.Errorf("write report header: %w", err)
	}

	for _, r := range results {
		record := []string{
			r.SessionID,
			r.SearchTerm,
			r.FinalClickDocument,
			strconv.Itoa(r.FinalClickRank),
			strconv.Itoa(r.NewRank),
			strconv.Itoa(r.SavedClicks),
			strconv.Itoa(r.ChangeInRank),
			strconv.Itoa(r.WeightedChangeInRank),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write report row for session %s: %w", r.SessionID, err)
		}
	}

	cw.Flush()
	return cw.Error()
}
