package archive

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// WriteExport serializes a timeline snapshot as a single gzipped JSON
// document at dir/<runID>.json.gz. The document is written to a temp file
// and renamed into place so a partial export is never visible.
func WriteExport(dir, runID string, snap *TimelineSnapshot) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, runID+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp export: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	gz := gzip.NewWriter(tmp)
	enc := json.NewEncoder(gz)
	if err := enc.Encode(snap); err != nil {
		tmp.Close()
		return "", fmt.Errorf("encode export: %w", err)
	}
	if err := gz.Close(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("flush export: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close export: %w", err)
	}

	dest := filepath.Join(dir, runID+".json.gz")
	if err := os.Rename(tmpName, dest); err != nil {
		return "", fmt.Errorf("publish export: %w", err)
	}
	return dest, nil
}
