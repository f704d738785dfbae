package delivery

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alanmitchell/file-to-bmon/internal/domain"
)

func lastPostPath(stateDir string, dest domain.DestinationID) string {
	return filepath.Join(stateDir, string(dest)+"_last_post_time")
}

func rejectedPath(stateDir string, dest domain.DestinationID) string {
	return filepath.Join(stateDir, string(dest)+"_rejected.jsonl")
}

// ReadLastPost returns the time of the last successful post for dest, or the
// zero time if nothing was ever posted.
func ReadLastPost(stateDir string, dest domain.DestinationID) (time.Time, error) {
	data, err := os.ReadFile(lastPostPath(stateDir, dest))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	ts, err := time.Parse(time.RFC3339, strings.TrimSpace(string(data)))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse last post time: %w", err)
	}
	return ts, nil
}

func writeLastPost(stateDir string, dest domain.DestinationID, at time.Time) error {
	tmp := lastPostPath(stateDir, dest) + ".tmp"
	if err := os.WriteFile(tmp, []byte(at.UTC().Format(time.RFC3339)+"\n"), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, lastPostPath(stateDir, dest))
}

// appendRejected keeps a copy of a batch the destination refused.
func appendRejected(stateDir string, b *domain.Batch, cause error) error {
	rec := struct {
		*domain.Batch
		Error string `json:"error"`
	}{Batch: b, Error: cause.Error()}
	line, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(rejectedPath(stateDir, b.Destination), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	_, err = f.Write(append(line, '\n'))
	return errors.Join(err, f.Close())
}
