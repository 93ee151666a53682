package remotesync

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/piwardrive/piwardrive/internal/domain"
)

// ExportOffsets writes every known SyncOffset to path as JSON, for
// operator inspection (spec.md §6 persisted layout: $PW_HOME/offsets.json).
// The Store row is always authoritative; this file is a convenience
// mirror written only when ExportOffsets is called. Neither the daemon
// nor the sync engine calls it, at boot or after a sync.
func ExportOffsets(path string, offsets []domain.SyncOffset) error {
	data, err := json.MarshalIndent(offsets, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ImportOffsets reads a previously exported offsets.json. Returns an
// empty slice, not an error, if the file does not exist yet (first boot).
func ImportOffsets(path string) ([]domain.SyncOffset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var offsets []domain.SyncOffset
	if err := json.Unmarshal(data, &offsets); err != nil {
		return nil, err
	}
	return offsets, nil
}
