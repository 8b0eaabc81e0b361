package bootstrap

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coral-mesh/devbridge/internal/safe"
)

func TestEmbedded(t *testing.T) {
	s := Embedded()
	assert.Equal(t, OriginEmbedded, s.Origin)
	assert.NotEmpty(t, s.Source)
	assert.Equal(t, len(s.Source), s.Size())
}

func TestLoad(t *testing.T) {
	t.Run("empty path falls back to embedded", func(t *testing.T) {
		s, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, Embedded(), s)
	})

	t.Run("reads file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "backend.js")
		require.NoError(t, os.WriteFile(path, []byte("window.x = 1;"), 0o600))

		s, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, "window.x = 1;", s.Source)
		assert.Equal(t, path, s.Origin)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "missing.js"))
		require.Error(t, err)
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("empty file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "empty.js")
		require.NoError(t, os.WriteFile(path, nil, 0o600))

		_, err := Load(path)
		assert.ErrorIs(t, err, ErrEmptyScript)
	})

	t.Run("directory", func(t *testing.T) {
		_, err := Load(t.TempDir())
		assert.ErrorIs(t, err, safe.ErrNotRegular)
	})
}

func TestDigest(t *testing.T) {
	a := Script{Source: "a"}
	b := Script{Source: "b"}

	assert.Equal(t, a.Digest(), Script{Source: "a", Origin: "elsewhere"}.Digest())
	assert.NotEqual(t, a.Digest(), b.Digest())
	assert.NotEmpty(t, Embedded().Digest())
}
