// Package events reads impression and click observations from the sources a
// session log can arrive in.
package events

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/ricesearch/clickrank/internal/pkg/errors"
	"github.com/ricesearch/clickrank/internal/session"
)

// Source yields a finite batch of observations.
type Source interface {
	Read(ctx context.Context) ([]session.Observation, error)
}

// ColumnMap lists the accepted header names for each observation field.
type ColumnMap struct {
	SessionID  []string
	SearchTerm []string
	DocumentID []string
	Rank       []string
	Type       []string
}

// DefaultColumns accepts snake_case names and the analytics export names.
var DefaultColumns = ColumnMap{
	SessionID:  []string{"session_id", "searchSessionId"},
	SearchTerm: []string{"search_term", "searchTerm"},
	DocumentID: []string{"document_id", "contentIdOrPath"},
	Rank:       []string{"rank", "linkPosition"},
	Type:       []string{"observation_type", "observationType"},
}

type columnIndex struct {
	session, term, doc, rank, typ int
}

func (m ColumnMap) resolve(header []string) (columnIndex, error) {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		pos[strings.TrimSpace(h)] = i
	}

	find := func(field string, names []string) (int, error) {
		for _, n := range names {
			if i, ok := pos[n]; ok {
				return i, nil
			}
		}
		return 0, errors.ValidationError(fmt.Sprintf("no %s column (tried %s)", field, strings.Join(names, ", ")))
	}

	var idx columnIndex
	var err error
	if idx.session, err = find("session id", m.SessionID); err != nil {
		return idx, err
	}
	if idx.term, err = find("search term", m.SearchTerm); err != nil {
		return idx, err
	}
	if idx.doc, err = find("document id", m.DocumentID); err != nil {
		return idx, err
	}
	if idx.rank, err = find("rank", m.Rank); err != nil {
		return idx, err
	}
	if idx.typ, err = find("observation type", m.Type); err != nil {
		return idx, err
	}
	return idx, nil
}

// ReadCSV parses observations from CSV with a header row. Any malformed row
// fails the whole read.
func ReadCSV(r io.Reader, columns ColumnMap) ([]session.Observation, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, errors.IngestError("read header", err)
	}

	idx, err := columns.resolve(header)
	if err != nil {
		return nil, err
	}

	var out []session.Observation
	for line := 2; ; line++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.IngestError(fmt.Sprintf("read line %d", line), err)
		}

		obs, err := parseRecord(record, idx)
		if err != nil {
			return nil, errors.IngestError(fmt.Sprintf("line %d", line), err)
		}
		out = append(out, obs)
	}
	return out, nil
}

func parseRecord(record []string, idx columnIndex) (session.Observation, error) {
	field := func(i int) (string, error) {
		if i >= len(record) {
			return "", fmt.Errorf("expected at least %d fields, got %d", i+1, len(record))
		}
		return record[i], nil
	}

	var obs session.Observation
	var err error
	if obs.SessionID, err = field(idx.session); err != nil {
		return obs, err
	}
	if obs.SearchTerm, err = field(idx.term); err != nil {
		return obs, err
	}
	if obs.DocumentID, err = field(idx.doc); err != nil {
		return obs, err
	}

	rawRank, err := field(idx.rank)
	if err != nil {
		return obs, err
	}
	if obs.Rank, err = strconv.Atoi(strings.TrimSpace(rawRank)); err != nil {
		return obs, fmt.Errorf("invalid rank %q", rawRank)
	}

	rawType, err := field(idx.typ)
	if err != nil {
		return obs, err
	}
	if obs.Type, err = session.ParseObservationType(strings.TrimSpace(rawType)); err != nil {
		return obs, err
	}

	return obs, obs.Validate()
}

// CSVSource reads observations from a file.
type CSVSource struct {
	Path    string
	Columns ColumnMap
}

// Read implements Source.
func (s CSVSource) Read(ctx context.Context) ([]session.Observation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(s.Path)
	if err != nil {
		return nil, errors.IngestError("open events file", err).WithDetail("path", s.Path)
	}
	defer f.Close()

	columns := s.Columns
	if columns.SessionID == nil {
		columns = DefaultColumns
	}
	return ReadCSV(f, columns)
}
