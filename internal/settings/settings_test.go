package settings

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "nested", "settings.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestGetMissing(t *testing.T) {
	s := openTemp(t)
	_, ok, err := s.Get("nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSetOverwrites(t *testing.T) {
	s := openTemp(t)
	require.NoError(t, s.Set("a", "1"))
	require.NoError(t, s.Set("a", "2"))
	require.NoError(t, s.Set("b", "x"))

	v, ok, err := s.Get("a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "2", v)

	all, err := s.All()
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "2", "b": "x"}, all)

	require.NoError(t, s.Delete("a"))
	require.NoError(t, s.Delete("a"))
	_, ok, err = s.Get("a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTypedAccessors(t *testing.T) {
	s := openTemp(t)

	mode, err := s.ConnectionMode("bluetooth")
	require.NoError(t, err)
	assert.Equal(t, "bluetooth", mode)
	require.NoError(t, s.SetConnectionMode("demo"))
	mode, err = s.ConnectionMode("bluetooth")
	require.NoError(t, err)
	assert.Equal(t, "demo", mode)

	name, err := s.CurrentProfile("default")
	require.NoError(t, err)
	assert.Equal(t, "default", name)
	require.NoError(t, s.SetCurrentProfile("obs"))
	name, err = s.CurrentProfile("default")
	require.NoError(t, err)
	assert.Equal(t, "obs", name)

	on, err := s.KeepAlive(false)
	require.NoError(t, err)
	assert.False(t, on)
	require.NoError(t, s.SetKeepAlive(true))
	on, err = s.KeepAlive(false)
	require.NoError(t, err)
	assert.True(t, on)

	require.NoError(t, s.Set(KeyKeepAlive, "maybe"))
	on, err = s.KeepAlive(true)
	require.NoError(t, err)
	assert.True(t, on)
}

func TestPersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.SetConnectionMode("demo"))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	mode, err := s.ConnectionMode("bluetooth")
	require.NoError(t, err)
	assert.Equal(t, "demo", mode)
}

func TestCloseNilDB(t *testing.T) {
	s := &Store{}
	assert.NoError(t, s.Close())
}
