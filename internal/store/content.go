package store

import (
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/ricesearch/clickrank/internal/pkg/errors"
)

// ReadContentItems parses a content export with a content_id, base_path,
// title header. Column order is free and title may be missing.
func ReadContentItems(r io.Reader) ([]ContentItem, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, errors.IngestError("read content header", err)
	}

	pos := map[string]int{"content_id": -1, "base_path": -1, "title": -1}
	for i, h := range header {
		if _, ok := pos[strings.TrimSpace(h)]; ok {
			pos[strings.TrimSpace(h)] = i
		}
	}
	if pos["content_id"] < 0 {
		return nil, errors.ValidationError("content file has no content_id column")
	}

	field := func(record []string, col string) string {
		i := pos[col]
		if i < 0 || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	var items []ContentItem
	for line := 2; ; line++ {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.IngestError(fmt.Sprintf("read content line %d", line), err)
		}

		it := ContentItem{
			ContentID: field(record, "content_id"),
			BasePath:  field(record, "base_path"),
			Title:     field(record, "title"),
		}
		if it.ContentID == "" {
			return nil, errors.ValidationError(fmt.Sprintf("content line %d has no content_id", line))
		}
		items = append(items, it)
	}
	return items, nil
}
