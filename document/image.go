package document

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"github.com/nfnt/resize"
	_ "golang.org/x/image/webp"
)

// ErrNotImage is returned when a payload does not decode to an image.
var ErrNotImage = errors.New("payload is not an image")

// DecodedImage is an image payload with its native dimensions.
type DecodedImage struct {
	Data     []byte
	MimeType string
	Width    int
	Height   int
}

// DecodeImage decodes a base64 payload. A data URL prefix is tolerated.
func DecodeImage(b64 string) (*DecodedImage, error) {
	b64 = strings.TrimSpace(b64)
	if strings.HasPrefix(b64, "data:") {
		if i := strings.Index(b64, ","); i >= 0 {
			b64 = b64[i+1:]
		}
	}
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("decode base64 image data: %w", err)
	}
	mt := mimetype.Detect(data)
	if !strings.HasPrefix(mt.String(), "image/") {
		return nil, fmt.Errorf("%w: detected %s", ErrNotImage, mt.String())
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotImage, err)
	}
	return &DecodedImage{
		Data:     data,
		MimeType: mt.String(),
		Width:    cfg.Width,
		Height:   cfg.Height,
	}, nil
}

// ScaleToBound fits width x height into bound. Sizes already within bound are
// returned unchanged; otherwise the larger side becomes bound and the other
// is scaled proportionally, rounding down.
func ScaleToBound(width, height, bound int) (int, int) {
	if width <= bound && height <= bound {
		return width, height
	}
	if width >= height {
		return bound, height * bound / width
	}
	return width * bound / height, bound
}

// Downsample re-encodes img at width x height. PNG and WebP keep their
// format; anything else is written as JPEG.
func Downsample(img *DecodedImage, width, height int) (*DecodedImage, error) {
	src, _, err := image.Decode(bytes.NewReader(img.Data))
	if err != nil {
		return nil, fmt.Errorf("decode image for resizing: %w", err)
	}
	dst := resize.Resize(uint(width), uint(height), src, resize.Lanczos3)

	var buf bytes.Buffer
	mimeType := img.MimeType
	switch mimeType {
	case "image/png":
		err = imaging.Encode(&buf, dst, imaging.PNG)
	case "image/webp":
		err = webp.Encode(&buf, dst, &webp.Options{Quality: 90})
	default:
		mimeType = "image/jpeg"
		err = imaging.Encode(&buf, dst, imaging.JPEG, imaging.JPEGQuality(90))
	}
	if err != nil {
		return nil, fmt.Errorf("encode resized image: %w", err)
	}
	b := dst.Bounds()
	return &DecodedImage{
		Data:     buf.Bytes(),
		MimeType: mimeType,
		Width:    b.Dx(),
		Height:   b.Dy(),
	}, nil
}
