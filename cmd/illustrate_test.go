package cmd

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bookreader/document"
)

func TestWriteIllustrated(t *testing.T) {
	doc := document.New("a castle at dusk")
	require.NoError(t, doc.AddImageResource("abc", []byte("\x89PNG\r\n\x1a\n"), "image/png"))
	require.NoError(t, doc.Edit(func(e document.Editor) error {
		_, err := e.InsertBlockAfter(0, document.BlockSpec{
			Image:   &document.ImageSpec{ResourceID: "abc", Width: 10, Height: 10},
			Caption: "a castle",
		})
		return err
	}))

	out := filepath.Join(t.TempDir(), "book.html")
	require.NoError(t, writeIllustrated(doc, "A <Title>", out))

	page, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(page), "<title>A &lt;Title&gt;</title>")
	assert.Contains(t, string(page), `src="book-abc.png"`)

	img, err := os.ReadFile(filepath.Join(filepath.Dir(out), "book-abc.png"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(img), "\x89PNG"))
}

func TestNewLogger(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, newLogger("DEBUG").GetLevel())
	assert.Equal(t, zerolog.InfoLevel, newLogger("").GetLevel())
	assert.Equal(t, zerolog.InfoLevel, newLogger("loud").GetLevel())
}
