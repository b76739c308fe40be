package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const providerConfigA = `
server:
  admin_address: ":9001"
`

const providerConfigB = `
server:
  admin_address: ":9002"
`

func TestFileProviderInitialLoad(t *testing.T) {
	path := writeConfig(t, providerConfigA)
	p, err := NewFileProvider(path, nil)
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, ":9001", p.Current().Server.AdminAddress)
}

func TestFileProviderRejectsInvalidInitialConfig(t *testing.T) {
	path := writeConfig(t, "logging:\n  level: verbose\n")
	_, err := NewFileProvider(path, nil)
	assert.Error(t, err)
}

func TestFileProviderReload(t *testing.T) {
	path := writeConfig(t, providerConfigA)
	p, err := NewFileProvider(path, nil)
	require.NoError(t, err)
	defer p.Close()

	updates := p.Subscribe()
	require.NoError(t, os.WriteFile(path, []byte(providerConfigB), 0o600))

	select {
	case cfg := <-updates:
		require.NotNil(t, cfg)
		assert.Equal(t, ":9002", cfg.Server.AdminAddress)
	case <-time.After(3 * time.Second):
		t.Fatal("no reload notification received")
	}
	assert.Equal(t, ":9002", p.Current().Server.AdminAddress)
}

func TestFileProviderKeepsPreviousOnBadReload(t *testing.T) {
	path := writeConfig(t, providerConfigA)
	p, err := NewFileProvider(path, nil)
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, os.WriteFile(path, []byte("server: [broken\n"), 0o600))

	// Give the debounce and reload a moment, then confirm the previous
	// snapshot survived.
	time.Sleep(600 * time.Millisecond)
	assert.Equal(t, ":9001", p.Current().Server.AdminAddress)
}

func TestFileProviderIgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "reliability.yaml")
	require.NoError(t, os.WriteFile(path, []byte(providerConfigA), 0o600))

	p, err := NewFileProvider(path, nil)
	require.NoError(t, err)
	defer p.Close()

	updates := p.Subscribe()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte(providerConfigB), 0o600))

	select {
	case <-updates:
		t.Fatal("unexpected notification for sibling file")
	case <-time.After(500 * time.Millisecond):
	}
}

func TestFileProviderCloseClosesSubscribers(t *testing.T) {
	path := writeConfig(t, providerConfigA)
	p, err := NewFileProvider(path, nil)
	require.NoError(t, err)

	updates := p.Subscribe()
	require.NoError(t, p.Close())

	_, open := <-updates
	assert.False(t, open)
}
