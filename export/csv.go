package export

import (
	"encoding/csv"
	"io"
	"os"
	"strconv"

	"github.com/spf13/afero"
	"golang.org/x/xerrors"

	"github.com/ddsvuln/vuln-dataset/types"
)

// Columns of the CSV dataset, in order.
var Columns = []string{
	"id", "title", "description", "vendor", "published", "cvss_score", "severity",
	"cwe_category", "cwe_explanation", "ai_vendor", "cause", "impact", "source", "known_exploited",
}

type CSVExporter struct {
	fs         afero.Fs
	path       string
	appendMode bool
}

func NewCSVExporter(fs afero.Fs, path string, appendMode bool) CSVExporter {
	return CSVExporter{fs: fs, path: path, appendMode: appendMode}
}

// Export writes records as CSV. In append mode, records whose id is already
// present in the file are skipped and the header is written only to a new or
// empty file.
func (e CSVExporter) Export(records []types.Record) (int, error) {
	if err := ensureDir(e.fs, e.path); err != nil {
		return 0, xerrors.Errorf("unable to create a directory: %w", err)
	}

	existing := map[string]struct{}{}
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	writeHeader := true
	if e.appendMode {
		ids, hasHeader, err := e.existingIDs()
		if err != nil {
			return 0, err
		}
		existing = ids
		writeHeader = !hasHeader
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}

	f, err := e.fs.OpenFile(e.path, flags, 0o644)
	if err != nil {
		return 0, xerrors.Errorf("unable to open %s: %w", e.path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if writeHeader {
		if err := w.Write(Columns); err != nil {
			return 0, xerrors.Errorf("failed to write CSV header: %w", err)
		}
	}

	written := 0
	for _, r := range records {
		if _, ok := existing[r.ID]; ok {
			continue
		}
		if err := w.Write(row(r)); err != nil {
			return written, xerrors.Errorf("failed to write CSV row %s: %w", r.ID, err)
		}
		existing[r.ID] = struct{}{}
		written++
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return written, xerrors.Errorf("failed to flush CSV: %w", err)
	}
	return written, nil
}

// existingIDs reads the id column of an existing file.
func (e CSVExporter) existingIDs() (map[string]struct{}, bool, error) {
	ids := map[string]struct{}{}
	f, err := e.fs.Open(e.path)
	if os.IsNotExist(err) {
		return ids, false, nil
	} else if err != nil {
		return nil, false, xerrors.Errorf("unable to open %s: %w", e.path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err == io.EOF {
		return ids, false, nil
	} else if err != nil {
		return nil, false, xerrors.Errorf("failed to read CSV header: %w", err)
	}

	idCol := -1
	for i, h := range header {
		if h == "id" {
			idCol = i
			break
		}
	}
	if idCol < 0 {
		return nil, false, xerrors.Errorf("%s has no id column", e.path)
	}

	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, false, xerrors.Errorf("failed to read CSV: %w", err)
		}
		if idCol < len(rec) {
			ids[rec[idCol]] = struct{}{}
		}
	}
	return ids, true, nil
}

func row(r types.Record) []string {
	score := ""
	if r.CVSSScore != nil {
		score = strconv.FormatFloat(*r.CVSSScore, 'f', -1, 64)
	}
	severity := ""
	if r.Severity != nil {
		severity = *r.Severity
	}
	return []string{
		r.ID,
		r.Title,
		r.Description,
		r.Vendor,
		r.Published,
		score,
		severity,
		r.Classification.CWECategory,
		r.Classification.Explanation,
		r.Classification.Vendor,
		r.Classification.Cause,
		r.Classification.Impact,
		string(r.Source),
		strconv.FormatBool(r.KnownExploited),
	}
}
