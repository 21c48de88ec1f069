package profile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
profiles:
  - name: staphylococcus_aureus
    mlst: true
  - name: escherichia_coli
`), 0o644))

	reg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"staphylococcus_aureus", "escherichia_coli"}, reg.Names())

	p, ok := reg.Lookup("escherichia_coli")
	require.True(t, ok)
	assert.False(t, p.MLST)
}

func TestLoad_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	require.NoError(t, os.WriteFile(path, []byte("profiles: []\n"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no profiles")
}

func TestResolve_All(t *testing.T) {
	reg := Default()

	profiles, err := reg.Resolve([]string{"All"})
	require.NoError(t, err)
	assert.Len(t, profiles, len(reg.Profiles))
}

func TestResolve_Named(t *testing.T) {
	reg := Default()

	profiles, err := reg.Resolve([]string{"klebsiella_pneumoniae"})
	require.NoError(t, err)
	require.Len(t, profiles, 1)
	assert.Equal(t, "klebsiella_pneumoniae", profiles[0].Name)
}

func TestResolve_Unknown(t *testing.T) {
	_, err := Default().Resolve([]string{"martian_flu"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown profile")
}

func TestResolve_NoneSelected(t *testing.T) {
	_, err := Default().Resolve(nil)
	require.Error(t, err)
}
