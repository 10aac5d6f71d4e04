package catalog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/parquet-go/parquet-go"
)

// Entry is a validated catalog entry that has not been assigned an id yet
type Entry struct {
	Name       string
	Start      int
	End        int
	HasPicture bool
}

func (e Entry) validate(index int) error {
	if strings.TrimSpace(e.Name) == "" {
		return fieldError(ErrInvalidValue, index, "name")
	}
	if e.Start > e.End {
		return fieldError(ErrInvalidValue, index, "end")
	}
	return nil
}

// Source produces the entries of a catalog
type Source interface {
	Entries() ([]Entry, error)
}

// OpenSource picks a source implementation from the file extension
func OpenSource(path string) (Source, error) {
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".json":
		return NewJSONSource(path), nil
	case ".parquet":
		return NewParquetSource(path), nil
	default:
		return nil, fmt.Errorf("unsupported catalog format: %s (supported: .json, .parquet)", ext)
	}
}

// JSONSource reads a JSON array of catalog objects
type JSONSource struct {
	path string
}

func NewJSONSource(path string) *JSONSource {
	return &JSONSource{path: path}
}

func (s *JSONSource) Entries() ([]Entry, error) {
	slog.Debug("Opening JSON catalog", "path", s.path)

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, sourceError(ErrSourceUnreadable, err)
	}

	return ParseJSON(data)
}

// ParseJSON parses catalog entries from a JSON document.
// Elements that are not objects are skipped; every other problem is an error.
func ParseJSON(data []byte) ([]Entry, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, sourceError(ErrMalformedSource, err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, sourceError(ErrMalformedSource, errors.New("unexpected data after the top level value"))
	}

	items, ok := doc.([]any)
	if !ok {
		return nil, sourceError(ErrMalformedSource, errors.New("top level value is not an array"))
	}

	entries := make([]Entry, 0, len(items))
	for i, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			slog.Warn("Skipping catalog entry that is not an object", "index", i, "value", item)
			continue
		}

		entry, err := entryFromObject(i, obj)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

func entryFromObject(index int, obj map[string]any) (Entry, error) {
	var entry Entry

	raw, ok := obj["name"]
	if !ok {
		return entry, fieldError(ErrMissingField, index, "name")
	}
	name, ok := raw.(string)
	if !ok {
		return entry, fieldError(ErrWrongType, index, "name")
	}
	entry.Name = name

	start, err := intField(index, obj, "start")
	if err != nil {
		return entry, err
	}
	entry.Start = start

	end, err := intField(index, obj, "end")
	if err != nil {
		return entry, err
	}
	entry.End = end

	entry.HasPicture = true
	if raw, ok := obj["has_picture"]; ok {
		hasPicture, ok := raw.(bool)
		if !ok {
			return entry, fieldError(ErrWrongType, index, "has_picture")
		}
		entry.HasPicture = hasPicture
	}

	return entry, entry.validate(index)
}

func intField(index int, obj map[string]any, field string) (int, error) {
	raw, ok := obj[field]
	if !ok {
		return 0, fieldError(ErrMissingField, index, field)
	}
	num, ok := raw.(json.Number)
	if !ok {
		return 0, fieldError(ErrWrongType, index, field)
	}
	v, err := num.Int64()
	if err != nil {
		return 0, fieldError(ErrWrongType, index, field)
	}
	return int(v), nil
}

// parquetRow mirrors the JSON object layout; every column is optional so that
// missing values can be reported per field.
type parquetRow struct {
	Name       *string `parquet:"name,optional"`
	Start      *int64  `parquet:"start,optional"`
	End        *int64  `parquet:"end,optional"`
	HasPicture *bool   `parquet:"has_picture,optional"`
}

// ParquetSource reads catalog rows from a Parquet file
type ParquetSource struct {
	path string
}

func NewParquetSource(path string) *ParquetSource {
	return &ParquetSource{path: path}
}

func (s *ParquetSource) Entries() ([]Entry, error) {
	slog.Debug("Opening Parquet catalog", "path", s.path)

	file, err := os.Open(s.path)
	if err != nil {
		return nil, sourceError(ErrSourceUnreadable, err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, sourceError(ErrSourceUnreadable, err)
	}

	pf, err := parquet.OpenFile(file, info.Size())
	if err != nil {
		return nil, sourceError(ErrMalformedSource, err)
	}

	slog.Debug("Parquet catalog opened", "num_rows", pf.NumRows(), "num_row_groups", len(pf.RowGroups()))

	reader := parquet.NewGenericReader[parquetRow](pf)
	defer reader.Close()

	var entries []Entry
	rows := make([]parquetRow, 128)
	index := 0

	for {
		n, err := reader.Read(rows)
		for _, row := range rows[:n] {
			entry, rowErr := entryFromRow(index, row)
			if rowErr != nil {
				return nil, rowErr
			}
			entries = append(entries, entry)
			index++
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, sourceError(ErrMalformedSource, err)
		}
	}

	return entries, nil
}

func entryFromRow(index int, row parquetRow) (Entry, error) {
	var entry Entry

	if row.Name == nil {
		return entry, fieldError(ErrMissingField, index, "name")
	}
	if row.Start == nil {
		return entry, fieldError(ErrMissingField, index, "start")
	}
	if row.End == nil {
		return entry, fieldError(ErrMissingField, index, "end")
	}

	entry.Name = *row.Name
	entry.Start = int(*row.Start)
	entry.End = int(*row.End)
	entry.HasPicture = row.HasPicture == nil || *row.HasPicture

	return entry, entry.validate(index)
}
