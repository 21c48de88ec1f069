package pipeline

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReporTree_Run(t *testing.T) {
	dir := t.TempDir()
	metadata := filepath.Join(dir, "metadata.tsv")
	cgmlst := filepath.Join(dir, "cgmlst.tsv")
	require.NoError(t, writeFile(metadata, "sample\nS1\n"))
	require.NoError(t, writeFile(cgmlst, "sample\nS1\n"))

	var gotName string
	var gotArgs []string
	rt := NewReporTree()
	rt.runCommand = func(_ context.Context, name string, args ...string) ([]byte, error) {
		gotName = name
		gotArgs = args
		return nil, nil
	}

	require.NoError(t, rt.Run(context.Background(), dir, metadata, cgmlst, "staphylococcus_aureus"))

	assert.Equal(t, "docker", gotName)
	joined := strings.Join(gotArgs, " ")
	assert.Contains(t, joined, "insapathogenomics/reportree:v2.5.4")
	assert.Contains(t, joined, "-m /data/metadata.tsv")
	assert.Contains(t, joined, "-a /data/cgmlst.tsv")
	assert.Contains(t, joined, "-out /data/staphylococcus_aureus")
	assert.Contains(t, joined, "--analysis grapetree")
	assert.Contains(t, joined, "--method MSTreeV2")
	assert.Contains(t, joined, "-thr 9")
	assert.Contains(t, joined, dir+":/data")
}

func TestReporTree_MissingInput(t *testing.T) {
	rt := NewReporTree()
	err := rt.Run(context.Background(), t.TempDir(), "nope.tsv", "also-nope.tsv", "p")
	require.Error(t, err)
}

func TestReporTree_CommandFailure(t *testing.T) {
	dir := t.TempDir()
	metadata := filepath.Join(dir, "m.tsv")
	cgmlst := filepath.Join(dir, "c.tsv")
	require.NoError(t, writeFile(metadata, "sample\n"))
	require.NoError(t, writeFile(cgmlst, "sample\n"))

	rt := NewReporTree()
	rt.runCommand = func(context.Context, string, ...string) ([]byte, error) {
		return []byte("tool exploded"), eris.New("exit status 1")
	}

	err := rt.Run(context.Background(), dir, metadata, cgmlst, "p")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tool exploded")
}
