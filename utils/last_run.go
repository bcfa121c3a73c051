package utils

import (
	"os"
	"path/filepath"
	"time"

	"golang.org/x/xerrors"
)

const lastRunFile = "last_run.json"

// LastRun summarises the most recent pipeline run.
type LastRun struct {
	RunID     string         `json:"run_id"`
	Finished  time.Time      `json:"finished"`
	Collected map[string]int `json:"collected"`
	Dropped   map[string]int `json:"dropped"`
	Exported  int            `json:"exported"`
}

// GetLastRun returns the summary stored in dir. The zero value is returned when
// no run has been recorded yet.
func (fs Fs) GetLastRun(dir string) (LastRun, error) {
	var lr LastRun
	err := fs.ReadJSON(filepath.Join(dir, lastRunFile), &lr)
	if xerrors.Is(err, os.ErrNotExist) {
		return LastRun{}, nil
	} else if err != nil {
		return LastRun{}, xerrors.Errorf("failed to get last run: %w", err)
	}
	return lr, nil
}

func (fs Fs) SetLastRun(dir string, lr LastRun) error {
	if err := fs.WriteJSON(filepath.Join(dir, lastRunFile), lr); err != nil {
		return xerrors.Errorf("failed to write last run: %w", err)
	}
	return nil
}
