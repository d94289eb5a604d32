package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "vmcore-gdbstub.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadParsesTOML(t *testing.T) {
	path := writeConfig(t, "hostname = \"0.0.0.0\"\nport = 4444\nverbose = true\n")
	f, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", f.Hostname)
	assert.Equal(t, 4444, f.Port)
	assert.True(t, f.Verbose)
}

func TestApplyDefaultsOnlyFillsUnsetFlags(t *testing.T) {
	f := &File{Hostname: "0.0.0.0", Port: 4444, Verbose: true}
	hostname := "localhost"
	port := 1234
	verbose := false

	ApplyDefaults(f, &hostname, &port, &verbose, true /* hostnameSet */, false, false)

	assert.Equal(t, "localhost", hostname, "explicitly-set flag must not be overridden")
	assert.Equal(t, 4444, port)
	assert.True(t, verbose)
}

func TestApplyDefaultsNilFileIsNoop(t *testing.T) {
	hostname := "localhost"
	ApplyDefaults(nil, &hostname, new(int), new(bool), false, false, false)
	assert.Equal(t, "localhost", hostname)
}
