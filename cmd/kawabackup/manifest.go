package main

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"time"
)

// backupManifest describes one completed backup. Fleet inventory tooling
// collects these sidecars from the backup share to track which robots have
// current backups without re-reading the .as files.
type backupManifest struct {
	Robot      string    `json:"robot"`
	Mode       string    `json:"mode"`
	CreatedAt  time.Time `json:"created_at"`
	Duration   string    `json:"duration"`
	SizeBytes  int64     `json:"size_bytes"`
	SHA256     string    `json:"sha256"`
	BackupFile string    `json:"backup_file"`
	DebugFile  string    `json:"debug_file"`
}

// writeManifest writes <backup>.manifest.json next to the backup file and
// returns its path.
func writeManifest(outPath, debugPath, robot, mode string, started time.Time) (string, error) {
	sum, size, err := fileDigest(outPath)
	if err != nil {
		return "", err
	}

	m := backupManifest{
		Robot:      robot,
		Mode:       mode,
		CreatedAt:  started.UTC(),
		Duration:   time.Since(started).Round(time.Millisecond).String(),
		SizeBytes:  size,
		SHA256:     sum,
		BackupFile: filepath.Base(outPath),
		DebugFile:  filepath.Base(debugPath),
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return "", err
	}
	data = append(data, '\n')

	manifestPath := outPath + ".manifest.json"
	if err := os.WriteFile(manifestPath, data, 0644); err != nil {
		return "", err
	}
	return manifestPath, nil
}

func fileDigest(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
