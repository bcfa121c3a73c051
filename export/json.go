package export

import (
	"encoding/json"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/spf13/afero"
	"golang.org/x/xerrors"

	"github.com/ddsvuln/vuln-dataset/types"
	"github.com/ddsvuln/vuln-dataset/utils"
)

// JSONExporter writes an indented JSON array, zstd-compressed when the path
// ends in ".zst". The file is always replaced.
type JSONExporter struct {
	fs   afero.Fs
	path string
}

func NewJSONExporter(fs afero.Fs, path string) JSONExporter {
	return JSONExporter{fs: fs, path: path}
}

func (e JSONExporter) Export(records []types.Record) (int, error) {
	if records == nil {
		records = []types.Record{}
	}
	if !strings.HasSuffix(strings.ToLower(e.path), ".zst") {
		if err := utils.NewFs(e.fs).WriteJSON(e.path, records); err != nil {
			return 0, xerrors.Errorf("failed to write %s: %w", e.path, err)
		}
		return len(records), nil
	}

	if err := ensureDir(e.fs, e.path); err != nil {
		return 0, xerrors.Errorf("unable to create a directory: %w", err)
	}
	f, err := e.fs.Create(e.path)
	if err != nil {
		return 0, xerrors.Errorf("unable to open %s: %w", e.path, err)
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f)
	if err != nil {
		return 0, xerrors.Errorf("unable to create zstd writer: %w", err)
	}
	b, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		_ = enc.Close()
		return 0, xerrors.Errorf("failed to marshal JSON: %w", err)
	}
	if _, err = enc.Write(b); err != nil {
		_ = enc.Close()
		return 0, xerrors.Errorf("failed to write %s: %w", e.path, err)
	}
	if err = enc.Close(); err != nil {
		return 0, xerrors.Errorf("failed to finish %s: %w", e.path, err)
	}
	return len(records), nil
}
