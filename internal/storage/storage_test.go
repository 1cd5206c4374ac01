package storage

import (
	"bytes"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 4, 4))))
	return buf.Bytes()
}

func TestSave(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "uploads")
	s := New(dir)
	data := pngBytes(t)

	path, err := s.Save("leaf.png", data)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "leaf.png"), path)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestSaveOverwritesSameName(t *testing.T) {
	s := New(t.TempDir())
	first := pngBytes(t)

	_, err := s.Save("leaf.png", first)
	require.NoError(t, err)

	second := append(pngBytes(t), 0x00)
	path, err := s.Save("leaf.png", second)
	require.NoError(t, err)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, second, got)

	entries, err := os.ReadDir(s.Dir())
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSaveStripsDirectories(t *testing.T) {
	dir := t.TempDir()
	s := New(dir)

	for _, name := range []string{"../../etc/leaf.png", `C:\photos\leaf.png`, "/tmp/leaf.png"} {
		path, err := s.Save(name, pngBytes(t))
		require.NoError(t, err, name)
		assert.Equal(t, filepath.Join(dir, "leaf.png"), path)
	}
}

func TestSaveRejects(t *testing.T) {
	s := New(t.TempDir())

	_, err := s.Save("notes.txt", []byte("hello world, not an image"))
	assert.ErrorIs(t, err, ErrNotImage)

	_, err = s.Save("..", pngBytes(t))
	assert.ErrorIs(t, err, ErrBadFilename)

	_, err = s.Save("", pngBytes(t))
	assert.ErrorIs(t, err, ErrBadFilename)
}

func TestRead(t *testing.T) {
	s := New(t.TempDir())

	data, err := s.Read(bytes.NewReader([]byte("small")))
	require.NoError(t, err)
	assert.Equal(t, "small", string(data))

	_, err = s.Read(bytes.NewReader(make([]byte, MaxUploadSize)))
	assert.ErrorIs(t, err, ErrTooLarge)
}
