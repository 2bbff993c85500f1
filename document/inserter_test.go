package document

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/png"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pngBase64(t *testing.T, w, h int) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return base64.StdEncoding.EncodeToString(buf.Bytes())
}

func tenBlocks() *Document {
	return New("0", "1", "2", "3", "4", "5", "6", "a castle at dusk", "8", "9")
}

func TestScaleToBound(t *testing.T) {
	tests := []struct {
		w, h, bound, wantW, wantH int
	}{
		{2000, 1000, 768, 768, 384},
		{1000, 2000, 768, 384, 768},
		{512, 512, 768, 512, 512},
		{768, 768, 768, 768, 768},
		{1000, 333, 768, 768, 255},
		{1792, 1024, 768, 768, 438},
	}
	for _, tt := range tests {
		w, h := ScaleToBound(tt.w, tt.h, tt.bound)
		assert.Equal(t, tt.wantW, w, "%dx%d", tt.w, tt.h)
		assert.Equal(t, tt.wantH, h, "%dx%d", tt.w, tt.h)
	}
}

func TestDecodeImage(t *testing.T) {
	img, err := DecodeImage(pngBase64(t, 3, 2))
	require.NoError(t, err)
	assert.Equal(t, "image/png", img.MimeType)
	assert.Equal(t, 3, img.Width)
	assert.Equal(t, 2, img.Height)

	img, err = DecodeImage("data:image/png;base64," + pngBase64(t, 4, 4))
	require.NoError(t, err)
	assert.Equal(t, 4, img.Width)

	_, err = DecodeImage(base64.StdEncoding.EncodeToString([]byte("just some text")))
	assert.ErrorIs(t, err, ErrNotImage)

	_, err = DecodeImage("!!not base64!!")
	assert.Error(t, err)
}

func TestInsertIllustration(t *testing.T) {
	doc := tenBlocks()
	require.NoError(t, doc.Select(7, 7))
	sel, _ := doc.CurrentSelection()

	in := NewInserter(doc, 768, false, zerolog.Nop())
	res, err := in.Insert(Illustration{
		ImageData:   pngBase64(t, 512, 512),
		TargetBlock: sel.EndBlock,
		Caption:     Caption(sel.Text, 79),
	})
	require.NoError(t, err)

	assert.Equal(t, Inserted, res.State)
	assert.Equal(t, 8, res.Block)
	assert.Equal(t, 11, doc.BlockCount())

	b, err := doc.Block(8)
	require.NoError(t, err)
	spec := b.Spec()
	require.NotNil(t, spec)
	assert.True(t, spec.Centered)
	assert.Equal(t, IllustrationMarginTop, spec.MarginTop)
	assert.Equal(t, "a castle at dusk", spec.Caption)
	require.NotNil(t, spec.Image)
	assert.Equal(t, 512, spec.Image.Width)
	assert.Equal(t, 512, spec.Image.Height)

	r, ok := doc.Resource(res.ResourceID)
	require.True(t, ok)
	assert.Equal(t, "image/png", r.MimeType)
	assert.Len(t, res.ResourceID, 36)

	next, _ := doc.Block(9)
	assert.Equal(t, "8", next.Text())

	assert.True(t, doc.Undo())
	assert.Equal(t, 10, doc.BlockCount())
}

func TestInsertOversized(t *testing.T) {
	doc := tenBlocks()
	in := NewInserter(doc, 768, false, zerolog.Nop())
	res, err := in.Insert(Illustration{ImageData: pngBase64(t, 2000, 1000), TargetBlock: 0})
	require.NoError(t, err)
	assert.Equal(t, 768, res.Width)
	assert.Equal(t, 384, res.Height)

	b, _ := doc.Block(1)
	assert.Equal(t, "", b.Spec().Caption)
}

func TestInsertDownsample(t *testing.T) {
	doc := tenBlocks()
	in := NewInserter(doc, 100, true, zerolog.Nop())
	res, err := in.Insert(Illustration{ImageData: pngBase64(t, 400, 200), TargetBlock: 9})
	require.NoError(t, err)

	r, ok := doc.Resource(res.ResourceID)
	require.True(t, ok)
	img, err := DecodeImage(base64.StdEncoding.EncodeToString(r.Data))
	require.NoError(t, err)
	assert.Equal(t, 100, img.Width)
	assert.Equal(t, 50, img.Height)
}

func TestInsertStaleTarget(t *testing.T) {
	doc := tenBlocks()
	in := NewInserter(doc, 768, false, zerolog.Nop())

	res, err := in.Insert(Illustration{ImageData: pngBase64(t, 8, 8), TargetBlock: 10})
	require.NoError(t, err)
	assert.Equal(t, Dropped, res.State)
	assert.Equal(t, 10, doc.BlockCount())
	assert.Empty(t, doc.resources)
	assert.False(t, doc.Undo())
}

func TestInsertBadPayload(t *testing.T) {
	doc := tenBlocks()
	in := NewInserter(doc, 768, false, zerolog.Nop())
	res, err := in.Insert(Illustration{ImageData: "bm9wZQ==", TargetBlock: 1})
	assert.ErrorIs(t, err, ErrNotImage)
	assert.Equal(t, Received, res.State)
	assert.Equal(t, 10, doc.BlockCount())
}
