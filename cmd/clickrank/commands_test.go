package main

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/ricesearch/clickrank/internal/ranking"
)

func TestRankedRows(t *testing.T) {
	docs := []ranking.ScoredDocument{
		{DocumentID: "a", Score: 0.9},
		{DocumentID: "b", Score: 0.5},
		{DocumentID: "c", Score: 0.5},
		{DocumentID: "d", Score: 0.1},
	}
	titles := map[string]string{"a": "Tax guide"}

	tests := []struct {
		name      string
		limit     int
		wantDocs  []string
		wantRanks []int
	}{
		{"all", 0, []string{"a", "b", "c", "d"}, []int{1, 2, 2, 4}},
		{"limited", 2, []string{"a", "b"}, []int{1, 2}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows := rankedRows(docs, titles, tt.limit)
			if len(rows) != len(tt.wantDocs) {
				t.Fatalf("got %d rows, want %d", len(rows), len(tt.wantDocs))
			}
			for i, r := range rows {
				if r.DocumentID != tt.wantDocs[i] || r.Rank != tt.wantRanks[i] {
					t.Errorf("row %d = %s@%d, want %s@%d", i, r.DocumentID, r.Rank, tt.wantDocs[i], tt.wantRanks[i])
				}
			}
			if rows[0].Title != "Tax guide" {
				t.Errorf("title = %q, want Tax guide", rows[0].Title)
			}
		})
	}
}

func TestPrintOutput(t *testing.T) {
	v := map[string]int{"sessions": 3}
	text := func(w io.Writer) { io.WriteString(w, "3 sessions\n") }

	tests := []struct {
		format string
		want   string
	}{
		{"json", `"sessions": 3`},
		{"text", "3 sessions"},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			if err := printOutput(&buf, tt.format, v, text); err != nil {
				t.Fatalf("printOutput() error = %v", err)
			}
			if !strings.Contains(buf.String(), tt.want) {
				t.Errorf("output = %q, want it to contain %q", buf.String(), tt.want)
			}
		})
	}
}

func TestNewApp_FlagsOverrideBeforeValidation(t *testing.T) {
	t.Setenv("CLICKRANK_STORE_TYPE", "postgres")
	t.Setenv("CLICKRANK_DATABASE_URL", "")

	cmd := &cobra.Command{Use: "test"}
	addGlobalFlags(cmd)
	if err := cmd.ParseFlags([]string{"--database-url", "postgres://localhost/clickrank"}); err != nil {
		t.Fatalf("ParseFlags() error = %v", err)
	}

	a, err := newApp(cmd)
	if err != nil {
		t.Fatalf("newApp() error = %v", err)
	}
	defer a.close()

	if a.cfg.Store.Type != "postgres" {
		t.Errorf("Store.Type = %s, want postgres", a.cfg.Store.Type)
	}
	if a.cfg.Database.URL != "postgres://localhost/clickrank" {
		t.Errorf("Database.URL = %s, want flag value", a.cfg.Database.URL)
	}
}
