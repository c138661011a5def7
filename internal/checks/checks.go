// Package checks validates computed columns of a tabular dataset against
// declared invariants. Every check runs as soon as it is declared, so a
// failure points at the derivation step that produced it. Checks never
// filter or repair data.
package checks

import (
	"fmt"
	"math"
	"strings"

	"github.com/ricesearch/clickrank/internal/pkg/logger"
)

// maxSampleRows bounds how many offending rows a violation renders.
const maxSampleRows = 5

// Dataset is a table addressable by column name.
type Dataset interface {
	// Len returns the number of rows.
	Len() int

	// Column returns the values of a named numeric column.
	Column(name string) ([]float64, bool)

	// Describe renders one row for diagnostics.
	Describe(row int) string
}

// ViolationError reports the first failed check.
type ViolationError struct {
	Check   string
	Column  string
	Operand string
	Rows    []int
	Samples []string
}

// Error implements the error interface.
func (e *ViolationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "failed check %s on %s", e.Check, e.Column)
	if e.Operand != "" {
		fmt.Fprintf(&b, " (%s)", e.Operand)
	}
	fmt.Fprintf(&b, ": %d offending rows", len(e.Rows))
	for _, s := range e.Samples {
		b.WriteString("\n  ")
		b.WriteString(s)
	}
	return b.String()
}

// Checker binds checks to one dataset and keeps the first violation.
type Checker struct {
	ds  Dataset
	log *logger.Logger
	err *ViolationError
}

// New creates a checker for ds. log may be nil.
func New(ds Dataset, log *logger.Logger) *Checker {
	return &Checker{ds: ds, log: log}
}

// Column starts a chain of checks on a named column.
func (c *Checker) Column(name string) *Series {
	return &Series{checker: c, name: name}
}

// Err returns the first violation, or nil.
func (c *Checker) Err() error {
	if c.err == nil {
		return nil
	}
	return c.err
}

// run evaluates bad(i) over every row unless a previous check already failed.
func (c *Checker) run(check, column, operand string, bad func(i int) bool) {
	if c.err != nil {
		return
	}

	var rows []int
	for i := 0; i < c.ds.Len(); i++ {
		if bad(i) {
			rows = append(rows, i)
		}
	}
	if len(rows) == 0 {
		return
	}

	c.fail(check, column, operand, rows)
}

func (c *Checker) fail(check, column, operand string, rows []int) {
	v := &ViolationError{
		Check:   check,
		Column:  column,
		Operand: operand,
		Rows:    rows,
	}
	for _, r := range rows {
		if len(v.Samples) == maxSampleRows {
			break
		}
		v.Samples = append(v.Samples, c.ds.Describe(r))
	}
	c.err = v

	if c.log != nil {
		c.log.Error("Dataset check failed",
			"check", check,
			"column", column,
			"operand", operand,
			"offending_rows", len(rows),
			"sample", strings.Join(v.Samples, " | "),
		)
	}
}

// Series is a fluent handle on one column.
type Series struct {
	checker *Checker
	name    string
}

func (s *Series) values(check string) ([]float64, bool) {
	if s.checker.err != nil {
		return nil, false
	}
	vals, ok := s.checker.ds.Column(s.name)
	if !ok {
		s.checker.err = &ViolationError{Check: check, Column: s.name, Operand: "unknown column"}
		return nil, false
	}
	return vals, true
}

func (s *Series) other(check, name string) ([]float64, bool) {
	if s.checker.err != nil {
		return nil, false
	}
	vals, ok := s.checker.ds.Column(name)
	if !ok {
		s.checker.err = &ViolationError{Check: check, Column: s.name, Operand: "unknown column " + name}
		return nil, false
	}
	return vals, true
}

// Complete fails on NaN or infinite values.
func (s *Series) Complete() *Series {
	vals, ok := s.values("complete")
	if !ok {
		return s
	}
	s.checker.run("complete", s.name, "", func(i int) bool {
		return math.IsNaN(vals[i]) || math.IsInf(vals[i], 0)
	})
	return s
}

// LessThan requires every value to be strictly below the other column.
func (s *Series) LessThan(column string) *Series {
	return s.compare("less_than", column, func(a, b float64) bool { return a < b })
}

// AtMost requires every value to be at most the other column.
func (s *Series) AtMost(column string) *Series {
	return s.compare("at_most", column, func(a, b float64) bool { return a <= b })
}

// AtLeast requires every value to be at least the other column.
func (s *Series) AtLeast(column string) *Series {
	return s.compare("at_least", column, func(a, b float64) bool { return a >= b })
}

// Within requires every value to lie in [lower, upper].
func (s *Series) Within(lower, upper float64) *Series {
	vals, ok := s.values("within")
	if !ok {
		return s
	}
	operand := fmt.Sprintf("[%g, %g]", lower, upper)
	s.checker.run("within", s.name, operand, func(i int) bool {
		return !(vals[i] >= lower && vals[i] <= upper)
	})
	return s
}

// NonNegative requires every value to be >= 0.
func (s *Series) NonNegative() *Series {
	return s.Within(0, math.Inf(1))
}

func (s *Series) compare(check, column string, holds func(a, b float64) bool) *Series {
	vals, ok := s.values(check)
	if !ok {
		return s
	}
	others, ok := s.other(check, column)
	if !ok {
		return s
	}
	s.checker.run(check, s.name, column, func(i int) bool {
		return !holds(vals[i], others[i])
	})
	return s
}
