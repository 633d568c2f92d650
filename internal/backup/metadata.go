package backup

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const ManifestFilename = "manifest.json"

// Record describes one staged source.
type Record struct {
	Kind       string    `json:"kind"` // "database" or "files"
	Name       string    `json:"name"`
	Path       string    `json:"path"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
	SizeBytes  int64     `json:"size_bytes"`
}

// Manifest is written at the top of the workspace and so ends up inside the
// archive, next to the data it describes.
type Manifest struct {
	RunID     string    `json:"run_id"`
	Name      string    `json:"name"`
	Host      string    `json:"host,omitempty"`
	StartedAt time.Time `json:"started_at"`
	Records   []Record  `json:"records"`
}

// Add appends a record.
func (m *Manifest) Add(r Record) {
	m.Records = append(m.Records, r)
}

// Write stores the manifest as dirPath/manifest.json with owner-only
// permissions.
func (m *Manifest) Write(dirPath string) error {
	filePath := filepath.Join(dirPath, ManifestFilename)

	jsonFile, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create manifest file %q: %w", filePath, err)
	}
	defer jsonFile.Close()

	encoder := json.NewEncoder(jsonFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(m); err != nil {
		return fmt.Errorf("encode manifest JSON: %w", err)
	}
	return jsonFile.Close()
}

// PathSize returns the total size of regular files under path. Hardlinked
// files are counted at their full size.
func PathSize(path string) (int64, error) {
	var total int64
	err := filepath.WalkDir(path, func(_ string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		total += info.Size()
		return nil
	})
	return total, err
}
