package session

import (
	"cmp"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/ricesearch/clickrank/internal/pkg/logger"
)

// Rejection reasons.
const (
	ReasonNoClicks           = "no_clicks"
	ReasonMissingImpressions = "missing_impressions"
	ReasonDatabaseErrors     = "database_errors"
)

// Recorder receives rejection events, e.g. for metrics.
type Recorder interface {
	RecordRejection(reason string)
}

// RejectionCounter counts discarded sessions by reason.
type RejectionCounter struct {
	mu       sync.Mutex
	counts   map[string]int
	recorder Recorder
}

// NewRejectionCounter creates a counter. recorder may be nil.
func NewRejectionCounter(recorder Recorder) *RejectionCounter {
	return &RejectionCounter{
		counts:   make(map[string]int),
		recorder: recorder,
	}
}

// Inc records one rejection.
func (c *RejectionCounter) Inc(reason string) {
	c.mu.Lock()
	c.counts[reason]++
	c.mu.Unlock()

	if c.recorder != nil {
		c.recorder.RecordRejection(reason)
	}
}

// Count returns the number of rejections for reason.
func (c *RejectionCounter) Count(reason string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[reason]
}

// Counts returns a copy of all counts.
func (c *RejectionCounter) Counts() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[string]int, len(c.counts))
	for k, v := range c.counts {
		out[k] = v
	}
	return out
}

// Total returns the number of rejected sessions.
func (c *RejectionCounter) Total() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := 0
	for _, v := range c.counts {
		total += v
	}
	return total
}

// String renders the counts in a stable order.
func (c *RejectionCounter) String() string {
	counts := c.Counts()
	reasons := make([]string, 0, len(counts))
	for r := range counts {
		reasons = append(reasons, r)
	}
	sort.Strings(reasons)

	out := "{"
	for i, r := range reasons {
		if i > 0 {
			out += ", "
		}
		out += fmt.Sprintf("%s: %d", r, counts[r])
	}
	return out + "}"
}

// Segmenter builds session summaries and discards sessions whose evidence
// cannot be trusted.
type Segmenter struct {
	rejections *RejectionCounter
	log        *logger.Logger
}

// NewSegmenter creates a segmenter reporting into rejections.
func NewSegmenter(rejections *RejectionCounter, log *logger.Logger) *Segmenter {
	if rejections == nil {
		rejections = NewRejectionCounter(nil)
	}
	return &Segmenter{
		rejections: rejections,
		log:        logger.OrDefault(log),
	}
}

// Rejections returns the counter this segmenter reports into.
func (s *Segmenter) Rejections() *RejectionCounter {
	return s.rejections
}

// Group maps each (session, search term) to its observations. Keys are
// returned in first-seen order.
func Group(observations []Observation) ([]Key, map[Key][]Observation) {
	groups := make(map[Key][]Observation)
	var order []Key
	for _, o := range observations {
		k := Key{SessionID: o.SessionID, SearchTerm: o.SearchTerm}
		if _, seen := groups[k]; !seen {
			order = append(order, k)
		}
		groups[k] = append(groups[k], o)
	}
	return order, groups
}

// Segment summarises every valid (session, search term) group.
func (s *Segmenter) Segment(observations []Observation) []Summary {
	order, groups := Group(observations)

	summaries := make([]Summary, 0, len(order))
	for _, k := range order {
		summary, ok := s.Process(groups[k])
		if !ok {
			continue
		}
		summaries = append(summaries, summary)
	}
	return summaries
}

// Process summarises the observations of one (session, search term). It
// returns false when the session is discarded.
func (s *Segmenter) Process(group []Observation) (Summary, bool) {
	if len(group) == 0 {
		return Summary{}, false
	}

	// Highest rank first; the stable sort keeps declaration order for ties.
	rankOrder := slices.Clone(group)
	slices.SortStableFunc(rankOrder, func(a, b Observation) int {
		return cmp.Compare(b.Rank, a.Rank)
	})

	var finalClick *Observation
	for i := range rankOrder {
		if rankOrder[i].Type == Click {
			finalClick = &rankOrder[i]
			break
		}
	}

	key := Key{SessionID: group[0].SessionID, SearchTerm: group[0].SearchTerm}
	log := s.log.WithQuery(key.SearchTerm).With("session_id", key.SessionID)
	if finalClick == nil {
		log.Debug("No clicks")
		s.rejections.Inc(ReasonNoClicks)
		return Summary{}, false
	}

	finalRank := finalClick.Rank

	// Every rank above the final click must have an impression.
	covered := make(map[int]bool, max(finalRank-1, 0))
	var passedOver []Observation
	for _, o := range group {
		if o.Type == Impression && o.Rank < finalRank {
			covered[o.Rank] = true
			passedOver = append(passedOver, o)
		}
	}
	complete := len(covered) == finalRank-1
	for r := 1; complete && r < finalRank; r++ {
		complete = covered[r]
	}
	if !complete {
		log.Debug("Impression data incomplete",
			"final_rank", finalRank,
			"covered_ranks", len(covered),
		)
		s.rejections.Inc(ReasonMissingImpressions)
		return Summary{}, false
	}

	clicks := make([]Observation, 0, len(group))
	for _, o := range group {
		if o.Type == Click {
			clicks = append(clicks, o)
		}
	}
	slices.SortStableFunc(clicks, func(a, b Observation) int {
		return cmp.Compare(a.Rank, b.Rank)
	})

	clicked := make([]string, 0, len(clicks))
	seenClicked := make(map[string]bool, len(clicks))
	for _, c := range clicks {
		if seenClicked[c.DocumentID] {
			continue
		}
		seenClicked[c.DocumentID] = true
		clicked = append(clicked, c.DocumentID)
	}

	slices.SortStableFunc(passedOver, func(a, b Observation) int {
		return cmp.Compare(a.Rank, b.Rank)
	})
	var skipped []string
	seenSkipped := make(map[string]bool, len(passedOver))
	for _, o := range passedOver {
		if seenClicked[o.DocumentID] || seenSkipped[o.DocumentID] {
			continue
		}
		seenSkipped[o.DocumentID] = true
		skipped = append(skipped, o.DocumentID)
	}

	return Summary{
		SessionID:          key.SessionID,
		SearchTerm:         key.SearchTerm,
		ClickedDocuments:   clicked,
		SkippedDocuments:   skipped,
		FinalClickDocument: finalClick.DocumentID,
		FinalClickRank:     finalRank,
	}, true
}
