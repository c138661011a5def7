package sdbn

import (
	"fmt"
	"math"

	"github.com/ricesearch/clickrank/internal/checks"
	"github.com/ricesearch/clickrank/internal/pkg/errors"
	"github.com/ricesearch/clickrank/internal/pkg/logger"
	"github.com/ricesearch/clickrank/internal/session"
	"github.com/ricesearch/clickrank/internal/uncertainty"
)

// Option configures training and loading.
type Option func(*options)

type options struct {
	log *logger.Logger
}

// WithLogger sets the logger used for progress and invariant violations.
func WithLogger(l *logger.Logger) Option {
	return func(o *options) {
		o.log = l
	}
}

func buildOptions(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	o.log = logger.OrDefault(o.log)
	return o
}

// TrainSessions trains on the training summaries alone, deriving the clicked
// and skipped occurrences from them.
func TrainSessions(training []session.Summary, opts ...Option) (*Model, error) {
	clicked, skipped := session.Explode(training)
	return Train(training, clicked, skipped, opts...)
}

// Train builds the parameter table from the training summaries and the
// exploded clicked/skipped occurrences. Occurrences from sessions outside the
// training set are ignored. Any broken invariant aborts training with a
// MODEL_INTEGRITY error wrapping the *checks.ViolationError.
func Train(training []session.Summary, clicked, skipped []session.Occurrence, opts ...Option) (*Model, error) {
	o := buildOptions(opts)

	inTraining := make(map[session.Key]struct{}, len(training))
	for _, s := range training {
		inTraining[session.Key{SessionID: s.SessionID, SearchTerm: s.SearchTerm}] = struct{}{}
	}

	counts := make(map[Key]*Statistic)
	row := func(query, doc string) *Statistic {
		k := Key{SearchTerm: query, DocumentID: doc}
		s, ok := counts[k]
		if !ok {
			s = &Statistic{SearchTerm: query, DocumentID: doc}
			counts[k] = s
		}
		return s
	}
	included := func(occ session.Occurrence) bool {
		_, ok := inTraining[session.Key{SessionID: occ.SessionID, SearchTerm: occ.SearchTerm}]
		return ok
	}

	for _, occ := range clicked {
		if included(occ) {
			row(occ.SearchTerm, occ.DocumentID).Clicked++
		}
	}
	for _, occ := range skipped {
		if included(occ) {
			row(occ.SearchTerm, occ.DocumentID).Skipped++
		}
	}
	for _, s := range training {
		row(s.SearchTerm, s.FinalClickDocument).Chosen++
	}

	rows := make([]Statistic, 0, len(counts))
	for _, s := range counts {
		rows = append(rows, *s)
	}
	sortRows(rows)

	m := newModel(rows, true)
	if err := m.derive(o.log); err != nil {
		return nil, err
	}

	o.log.Info("Trained relevance model",
		"sessions", len(training),
		"queries", len(m.byQuery),
		"documents", len(m.rows),
		"cov_clicked_skipped", m.covariances.ClickedSkipped,
		"cov_clicked_examined", m.covariances.ClickedExamined,
		"cov_chosen_clicked", m.covariances.ChosenClicked,
		"cov_attractiveness_satisfaction", m.covariances.AttractivenessSatisfaction,
	)
	return m, nil
}

// step is one derivation followed by the invariants it must leave intact.
type step struct {
	name   string
	derive func(m *Model) error
	check  func(c *checks.Checker)
}

var steps = []step{
	{
		name:   "counts",
		derive: func(*Model) error { return nil },
		check: func(c *checks.Checker) {
			c.Column(ColClicked).Complete().NonNegative()
			c.Column(ColSkipped).Complete().NonNegative()
			c.Column(ColChosen).Complete().NonNegative()
		},
	},
	{
		name:   "counting errors",
		derive: (*Model).deriveCountingErrors,
		check: func(c *checks.Checker) {
			c.Column(ColClickedError).Complete().NonNegative()
			c.Column(ColSkippedError).Complete().NonNegative()
			c.Column(ColChosenError).Complete().NonNegative()
		},
	},
	{
		name:   "examined",
		derive: (*Model).deriveExamined,
		check: func(c *checks.Checker) {
			c.Column(ColExamined).Complete().NonNegative()
			c.Column(ColClicked).AtMost(ColExamined)
			c.Column(ColSkipped).AtMost(ColExamined)
			c.Column(ColExaminedError).Complete().NonNegative().
				AtLeast(ColClickedError).
				AtLeast(ColSkippedError)
		},
	},
	{
		name:   "attractiveness",
		derive: (*Model).deriveAttractiveness,
		check: func(c *checks.Checker) {
			c.Column(ColAttractiveness).Complete().Within(0, 1)
			c.Column(ColAttractivenessError).Complete().NonNegative()
		},
	},
	{
		name:   "satisfaction",
		derive: (*Model).deriveSatisfaction,
		check: func(c *checks.Checker) {
			c.Column(ColChosen).AtMost(ColClicked)
			c.Column(ColSatisfaction).Complete().Within(0, 1)
			c.Column(ColSatisfactionError).Complete().NonNegative()
		},
	},
	{
		name:   "relevance",
		derive: (*Model).deriveRelevance,
		check: func(c *checks.Checker) {
			c.Column(ColRelevance).Complete().Within(0, 1)
			c.Column(ColRelevanceError).Complete().NonNegative()
			c.Column(ColRelevanceLowerBound).Complete().Within(0, 1).AtMost(ColRelevance)
		},
	},
}

// derive fills every derived column from the raw counts, checking the
// table after each step.
func (m *Model) derive(log *logger.Logger) error {
	for _, s := range steps {
		if err := s.derive(m); err != nil {
			return errors.InternalError(fmt.Sprintf("derive %s", s.name), err)
		}

		c := checks.New(m, log)
		s.check(c)
		if err := c.Err(); err != nil {
			return errors.ModelIntegrityError(fmt.Sprintf("invariant broken after %s", s.name), err).
				WithDetail("step", s.name)
		}
	}
	return nil
}

func (m *Model) column(name string) []float64 {
	vals, _ := m.Column(name)
	return vals
}

func (m *Model) deriveCountingErrors() error {
	clickedErr := uncertainty.CountingErrors(m.column(ColClicked))
	skippedErr := uncertainty.CountingErrors(m.column(ColSkipped))
	chosenErr := uncertainty.CountingErrors(m.column(ColChosen))
	for i := range m.rows {
		m.rows[i].ClickedError = clickedErr[i]
		m.rows[i].SkippedError = skippedErr[i]
		m.rows[i].ChosenError = chosenErr[i]
	}
	return nil
}

func (m *Model) deriveExamined() error {
	cov, err := uncertainty.Covariance(m.column(ColClicked), m.column(ColSkipped))
	if err != nil {
		return err
	}
	m.covariances.ClickedSkipped = cov

	// The shared covariance is floored at zero. A negative one would let
	// examined_error drop below clicked_error and skipped_error, which the
	// examined check rejects, so those rows get the independent-errors sum.
	examinedErr, err := uncertainty.SumErrors(m.column(ColClickedError), m.column(ColSkippedError), math.Max(0, cov))
	if err != nil {
		return err
	}
	for i := range m.rows {
		m.rows[i].Examined = m.rows[i].Clicked + m.rows[i].Skipped
		m.rows[i].ExaminedError = examinedErr[i]
	}
	return nil
}

func (m *Model) deriveAttractiveness() error {
	clicked := m.column(ColClicked)
	examined := m.column(ColExamined)

	cov, err := uncertainty.Covariance(clicked, examined)
	if err != nil {
		return err
	}
	m.covariances.ClickedExamined = cov

	rel, err := uncertainty.RatioRelativeErrors(clicked, examined, m.column(ColClickedError), m.column(ColExaminedError), cov)
	if err != nil {
		return err
	}
	for i := range m.rows {
		a := ratio(clicked[i], examined[i])
		m.rows[i].Attractiveness = a
		m.rows[i].AttractivenessError = a * rel[i]
	}
	return nil
}

func (m *Model) deriveSatisfaction() error {
	chosen := m.column(ColChosen)
	clicked := m.column(ColClicked)

	cov, err := uncertainty.Covariance(chosen, clicked)
	if err != nil {
		return err
	}
	m.covariances.ChosenClicked = cov

	rel, err := uncertainty.RatioRelativeErrors(chosen, clicked, m.column(ColChosenError), m.column(ColClickedError), cov)
	if err != nil {
		return err
	}
	for i := range m.rows {
		s := ratio(chosen[i], clicked[i])
		m.rows[i].Satisfaction = s
		m.rows[i].SatisfactionError = s * rel[i]
	}
	return nil
}

func (m *Model) deriveRelevance() error {
	attractiveness := m.column(ColAttractiveness)
	satisfaction := m.column(ColSatisfaction)

	cov, err := uncertainty.Covariance(attractiveness, satisfaction)
	if err != nil {
		return err
	}
	m.covariances.AttractivenessSatisfaction = cov

	rel, err := uncertainty.ProductRelativeErrors(attractiveness, satisfaction,
		m.column(ColAttractivenessError), m.column(ColSatisfactionError), cov)
	if err != nil {
		return err
	}
	for i := range m.rows {
		r := m.rows[i].Attractiveness * m.rows[i].Satisfaction
		m.rows[i].Relevance = r
		m.rows[i].RelevanceError = r * rel[i]
		m.rows[i].RelevanceLowerBound = math.Max(0, r-m.rows[i].RelevanceError)
	}
	return nil
}

// ratio divides two counts; an empty denominator gives zero.
func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}
