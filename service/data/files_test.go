package data

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/khaledhikmat/traffic-go/model"
	"github.com/khaledhikmat/traffic-go/service/config"
)

func newTestDB(t *testing.T) (IService, string) {
	dir := t.TempDir()
	t.Setenv("DATA_FOLDER", dir)
	cfg, err := config.New("")
	require.NoError(t, err)

	svc := NewFilesDB(cfg)
	t.Cleanup(func() { svc.Close() })
	return svc, dir
}

func readLines(t *testing.T, path string) []map[string]interface{} {
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []map[string]interface{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		out = append(out, m)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestNewErrorAppendsLines(t *testing.T) {
	svc, dir := newTestDB(t)

	require.NoError(t, svc.NewError(model.GenError("lane_ingestor", model.ErrRead, map[string]interface{}{"direction": "north"}, "read failed")))
	require.NoError(t, svc.NewError(xerrors.New("plain")))

	lines := readLines(t, filepath.Join(dir, "errors.jsonl"))
	require.Len(t, lines, 2)
	assert.Equal(t, "lane_ingestor", lines[0]["processor"])
	assert.Equal(t, "read error", lines[0]["innerError"])
	assert.Equal(t, "N/A", lines[1]["processor"])
	assert.Equal(t, "plain", lines[1]["message"])
}

func TestStatsAreStamped(t *testing.T) {
	svc, dir := newTestDB(t)

	require.NoError(t, svc.NewIngestorStats(model.IngestorStats{ID: "x", Direction: model.East, Frames: 12}))

	lines := readLines(t, filepath.Join(dir, "ingestor-stats.jsonl"))
	require.Len(t, lines, 1)
	assert.Equal(t, "east", lines[0]["direction"])
	assert.EqualValues(t, 12, lines[0]["frames"])
	assert.NotZero(t, lines[0]["timestamp"])
}
