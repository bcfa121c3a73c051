package export

import (
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/ddsvuln/vuln-dataset/types"
)

// Exporter persists the final records. It returns how many were written.
type Exporter interface {
	Export(records []types.Record) (int, error)
}

// New picks the exporter from the path extension: ".json" and ".json.zst"
// write JSON, anything else CSV.
func New(fs afero.Fs, path string, appendMode bool) Exporter {
	lower := strings.ToLower(path)
	if strings.HasSuffix(lower, ".json") || strings.HasSuffix(lower, ".zst") {
		return NewJSONExporter(fs, path)
	}
	return NewCSVExporter(fs, path, appendMode)
}

func ensureDir(fs afero.Fs, path string) error {
	if dir := filepath.Dir(path); dir != "." {
		return fs.MkdirAll(dir, 0o755)
	}
	return nil
}
