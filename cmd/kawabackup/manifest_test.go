package main

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteManifest(t *testing.T) {
	dir := t.TempDir()
	outPath := filepath.Join(dir, "cell7.as")
	debugPath := filepath.Join(dir, "debug_cell7_20260101_120000.log")

	content := []byte(".PROGRAM main()\r\n.END\r\n")
	require.NoError(t, os.WriteFile(outPath, content, 0644))

	started := time.Now().Add(-3 * time.Second)
	manifestPath, err := writeManifest(outPath, debugPath, "10.0.0.1", "program", started)
	require.NoError(t, err)
	assert.Equal(t, outPath+".manifest.json", manifestPath)

	data, err := os.ReadFile(manifestPath)
	require.NoError(t, err)

	var m backupManifest
	require.NoError(t, json.Unmarshal(data, &m))

	wantSum := sha256.Sum256(content)
	assert.Equal(t, "10.0.0.1", m.Robot)
	assert.Equal(t, "program", m.Mode)
	assert.Equal(t, int64(len(content)), m.SizeBytes)
	assert.Equal(t, hex.EncodeToString(wantSum[:]), m.SHA256)
	assert.Equal(t, "cell7.as", m.BackupFile)
	assert.Equal(t, "debug_cell7_20260101_120000.log", m.DebugFile)
	assert.NotEmpty(t, m.Duration)
}

func TestWriteManifestMissingBackup(t *testing.T) {
	dir := t.TempDir()
	_, err := writeManifest(filepath.Join(dir, "absent.as"), "x.log", "10.0.0.1", "full", time.Now())
	assert.Error(t, err)
}
