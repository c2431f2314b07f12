package source

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/JonMunkholm/tracker/internal/core"
)

// ContextCheckInterval is how often, in rows, the CSV reader checks for
// cancellation.
var ContextCheckInterval = 100

// HeaderIndex maps a normalized column name to its position in the row.
type HeaderIndex map[string]int

// MakeHeaderIndex builds a HeaderIndex from a header row. Names are trimmed
// and lower-cased; the first occurrence of a repeated name wins.
func MakeHeaderIndex(header []string) HeaderIndex {
	idx := make(HeaderIndex, len(header))
	for i, h := range header {
		key := strings.ToLower(core.CleanCell(h))
		if _, dup := idx[key]; !dup {
			idx[key] = i
		}
	}
	return idx
}

// Missing returns the required fields absent from the header.
func (h HeaderIndex) Missing() []string {
	var missing []string
	for _, name := range core.RequiredFields {
		if _, ok := h[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// FileSource reads one batch extract from disk.
type FileSource struct {
	path     string
	maxBytes int64
}

// NewFileSource returns a source for the extract at path. A positive
// maxBytes rejects larger files as unreadable.
func NewFileSource(path string, maxBytes int64) *FileSource {
	return &FileSource{path: path, maxBytes: maxBytes}
}

// Name returns the file's base name, used in row refs.
func (s *FileSource) Name() string {
	return filepath.Base(s.path)
}

// Records reads the whole extract.
func (s *FileSource) Records(ctx context.Context) ([]core.RawRecord, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", core.ErrSourceNotFound, s.path)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", core.ErrSourceUnreadable, s.path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: stat %s: %w", core.ErrSourceUnreadable, s.path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", core.ErrSourceUnreadable, s.path)
	}
	if s.maxBytes > 0 && info.Size() > s.maxBytes {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit is %d",
			core.ErrSourceUnreadable, s.path, info.Size(), s.maxBytes)
	}

	return ReadCSV(ctx, s.Name(), f, s.maxBytes)
}

// ReaderSource reads one batch extract from an already open stream, such
// as an HTTP request body.
type ReaderSource struct {
	name     string
	r        io.Reader
	maxBytes int64
}

// NewReaderSource wraps r. name is used in row refs.
func NewReaderSource(name string, r io.Reader, maxBytes int64) *ReaderSource {
	return &ReaderSource{name: name, r: r, maxBytes: maxBytes}
}

func (s *ReaderSource) Name() string { return s.name }

func (s *ReaderSource) Records(ctx context.Context) ([]core.RawRecord, error) {
	return ReadCSV(ctx, s.name, s.r, s.maxBytes)
}

// ReadCSV parses a comma-separated extract with a header row into raw
// records. Each record's Ref is "name:line" using the physical line the row
// starts on. Cells missing from short rows are left out of Fields so the
// validator reports them as missing. A header with no data rows returns
// core.ErrEmptySource; any other failure wraps core.ErrSourceUnreadable.
func ReadCSV(ctx context.Context, name string, r io.Reader, maxBytes int64) ([]core.RawRecord, error) {
	clean := cleanReader(r, maxBytes)

	cr := csv.NewReader(clean)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %s: no header row", core.ErrSourceUnreadable, name)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: header: %w", core.ErrSourceUnreadable, name, err)
	}

	headerIdx := MakeHeaderIndex(header)
	if missing := headerIdx.Missing(); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s: header lacks %s",
			core.ErrSourceUnreadable, name, strings.Join(missing, ", "))
	}

	var records []core.RawRecord
	for i := 0; ; i++ {
		if i%ContextCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", core.ErrSourceUnreadable, name, err)
		}

		line, _ := cr.FieldPos(0)
		fields := make(map[string]any, len(core.RequiredFields))
		for _, field := range core.RequiredFields {
			pos := headerIdx[field]
			if pos < len(row) {
				fields[field] = strings.TrimSpace(row[pos])
			}
		}

		records = append(records, core.RawRecord{
			Ref:    fmt.Sprintf("%s:%d", name, line),
			Fields: fields,
		})
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s", core.ErrEmptySource, name)
	}
	return records, nil
}
