package sdbn

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/ricesearch/clickrank/internal/pkg/errors"
)

// FormatVersion is written on the first line of every saved parameter table.
const FormatVersion = "v2"

const versionPrefix = "#clickrank-params "

// header lists the columns written by Save, in order.
var header = []string{
	ColSearchTerm, ColDocumentID,
	ColClicked, ColSkipped, ColChosen,
	ColClickedError, ColSkippedError, ColChosenError,
	ColExamined, ColExaminedError,
	ColAttractiveness, ColAttractivenessError,
	ColSatisfaction, ColSatisfactionError,
	ColRelevance, ColRelevanceError, ColRelevanceLowerBound,
}

// requiredColumns must be present in any table Load accepts. Everything else
// is recomputed from them.
var requiredColumns = []string{ColSearchTerm, ColDocumentID, ColClicked, ColSkipped, ColChosen}

// Save writes the parameter table as versioned CSV.
func (m *Model) Save(w io.Writer) error {
	if _, err := io.WriteString(w, versionPrefix+FormatVersion+"\n"); err != nil {
		return fmt.Errorf("write version: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	for _, r := range m.rows {
		record := []string{
			r.SearchTerm, r.DocumentID,
			strconv.Itoa(r.Clicked), strconv.Itoa(r.Skipped), strconv.Itoa(r.Chosen),
			formatFloat(r.ClickedError), formatFloat(r.SkippedError), formatFloat(r.ChosenError),
			strconv.Itoa(r.Examined), formatFloat(r.ExaminedError),
			formatFloat(r.Attractiveness), formatFloat(r.AttractivenessError),
			formatFloat(r.Satisfaction), formatFloat(r.SatisfactionError),
			formatFloat(r.Relevance), formatFloat(r.RelevanceError), formatFloat(r.RelevanceLowerBound),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write row %s/%s: %w", r.SearchTerm, r.DocumentID, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// SaveFile writes the model to path.
func (m *Model) SaveFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.StorageError("create model file", err).WithDetail("path", path)
	}
	if err := m.Save(f); err != nil {
		f.Close()
		return errors.StorageError("save model", err).WithDetail("path", path)
	}
	if err := f.Close(); err != nil {
		return errors.StorageError("close model file", err).WithDetail("path", path)
	}
	return nil
}

// Load reads a parameter table written by Save, or an unversioned table from
// an older release. Raw counts are required; derived columns are recomputed
// and re-checked. Relevance lower bounds are only used for ranking when the
// table carries them.
func Load(r io.Reader, opts ...Option) (*Model, error) {
	o := buildOptions(opts)

	br := bufio.NewReader(r)
	first, err := br.ReadString('\n')
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("read model: %w", err)
	}

	version := "v1"
	var body io.Reader = br
	if strings.HasPrefix(first, versionPrefix) {
		version = strings.TrimSpace(strings.TrimPrefix(first, versionPrefix))
		if version != FormatVersion {
			return nil, errors.ValidationError(fmt.Sprintf("unsupported model format %q", version))
		}
	} else {
		body = io.MultiReader(strings.NewReader(first), br)
	}

	cr := csv.NewReader(body)
	columns, err := cr.Read()
	if err == io.EOF {
		return nil, errors.ValidationError("model file is empty")
	}
	if err != nil {
		return nil, fmt.Errorf("read model header: %w", err)
	}

	index := make(map[string]int, len(columns))
	for i, c := range columns {
		index[strings.TrimSpace(c)] = i
	}
	for _, c := range requiredColumns {
		if _, ok := index[c]; !ok {
			return nil, errors.ValidationError(fmt.Sprintf("model file has no %s column", c))
		}
	}
	_, hasLowerBound := index[ColRelevanceLowerBound]

	var rows []Statistic
	seen := make(map[Key]bool)
	for line := 2; ; line++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read model row %d: %w", line, err)
		}

		s := Statistic{
			SearchTerm: record[index[ColSearchTerm]],
			DocumentID: record[index[ColDocumentID]],
		}
		for _, f := range []struct {
			col string
			dst *int
		}{
			{ColClicked, &s.Clicked},
			{ColSkipped, &s.Skipped},
			{ColChosen, &s.Chosen},
		} {
			n, err := parseCount(record[index[f.col]])
			if err != nil {
				return nil, errors.ValidationError(fmt.Sprintf("row %d: %s: %v", line, f.col, err))
			}
			*f.dst = n
		}

		if seen[s.Key()] {
			return nil, errors.ValidationError(fmt.Sprintf("row %d: duplicate key %s/%s", line, s.SearchTerm, s.DocumentID))
		}
		seen[s.Key()] = true
		rows = append(rows, s)
	}

	sortRows(rows)
	m := newModel(rows, hasLowerBound)
	if err := m.derive(o.log); err != nil {
		return nil, err
	}

	o.log.Info("Loaded relevance model",
		"format", version,
		"queries", len(m.byQuery),
		"documents", len(m.rows),
		"uncertainty", hasLowerBound,
	)
	return m, nil
}

// LoadFile reads a model from path.
func LoadFile(path string, opts ...Option) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.StorageError("open model file", err).WithDetail("path", path)
	}
	defer f.Close()
	return Load(f, opts...)
}

// parseCount accepts integers and integral floats such as "3.0".
func parseCount(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("not a count: %q", s)
	}
	if f != math.Trunc(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("not a whole count: %q", s)
	}
	return int(f), nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
