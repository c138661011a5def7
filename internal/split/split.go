// Package split divides session summaries into training and test sets.
package split

import (
	"fmt"
	"hash/fnv"
	"math"
	"math/rand/v2"

	"github.com/ricesearch/clickrank/internal/session"
)

// DefaultTestFraction is the share of each query's sessions held out.
const DefaultTestFraction = 0.25

// ByQuery splits every search term's sessions independently, so each query
// keeps its share of the training set. For a query with n sessions,
// ceil(testFraction*n) are held out, but at least one always stays in
// training. The split is a pure function of (summaries, testFraction, seed),
// and both outputs preserve input order.
func ByQuery(summaries []session.Summary, testFraction float64, seed uint64) (training, test []session.Summary, err error) {
	if testFraction < 0 || testFraction >= 1 || math.IsNaN(testFraction) {
		return nil, nil, fmt.Errorf("test fraction %v outside [0, 1)", testFraction)
	}

	byQuery := make(map[string][]int)
	var order []string
	for i, s := range summaries {
		if _, seen := byQuery[s.SearchTerm]; !seen {
			order = append(order, s.SearchTerm)
		}
		byQuery[s.SearchTerm] = append(byQuery[s.SearchTerm], i)
	}

	held := make([]bool, len(summaries))
	for _, q := range order {
		idx := byQuery[q]
		n := len(idx)

		nTest := int(math.Ceil(testFraction * float64(n)))
		if nTest > n-1 {
			nTest = n - 1
		}
		if nTest <= 0 {
			continue
		}

		rng := rand.New(rand.NewPCG(seed, queryStream(q)))
		shuffled := append([]int(nil), idx...)
		rng.Shuffle(n, func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		for _, i := range shuffled[:nTest] {
			held[i] = true
		}
	}

	for i, s := range summaries {
		if held[i] {
			test = append(test, s)
		} else {
			training = append(training, s)
		}
	}
	return training, test, nil
}

// queryStream derives a per-query random stream so a query's split does not
// depend on which other queries are present.
func queryStream(query string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(query))
	return h.Sum64()
}
