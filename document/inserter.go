package document

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"bookreader/metrics"
)

// Block layout of an inserted illustration.
const (
	IllustrationMarginTop    = 20
	IllustrationMarginBottom = 20
)

// View is the part of a document the inserter mutates.
type View interface {
	BlockCount() int
	AddImageResource(id string, data []byte, mimeType string) error
	Edit(fn func(Editor) error) error
}

// State is how far an illustration got through insertion.
type State int

const (
	Received State = iota
	Decoded
	Located
	Inserted
	Dropped
)

func (s State) String() string {
	switch s {
	case Received:
		return "received"
	case Decoded:
		return "decoded"
	case Located:
		return "located"
	case Inserted:
		return "inserted"
	case Dropped:
		return "dropped"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Insertion reports what happened to one illustration.
type Insertion struct {
	State      State
	Block      int
	ResourceID string
	Width      int
	Height     int
}

// Inserter splices generated illustrations into a document.
type Inserter struct {
	view       View
	maxSize    int
	downsample bool
	log        zerolog.Logger
}

// NewInserter returns an inserter that fits images into maxSize. With
// downsample set, oversized images are also stored at their display size.
func NewInserter(view View, maxSize int, downsample bool, log zerolog.Logger) *Inserter {
	return &Inserter{
		view:       view,
		maxSize:    maxSize,
		downsample: downsample,
		log:        log.With().Str("component", "inserter").Logger(),
	}
}

// Insert places ill in a new block right after its target block, as one
// undoable edit. If the target block no longer exists the illustration is
// dropped and the document is left untouched; that is not an error.
func (in *Inserter) Insert(ill Illustration) (Insertion, error) {
	res := Insertion{State: Received, Block: -1}

	img, err := DecodeImage(ill.ImageData)
	if err != nil {
		metrics.IllustrationsTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
		return res, fmt.Errorf("decode illustration: %w", err)
	}
	res.State = Decoded
	res.Width, res.Height = ScaleToBound(img.Width, img.Height, in.maxSize)

	if ill.TargetBlock < 0 || ill.TargetBlock >= in.view.BlockCount() {
		in.log.Warn().
			Int("target_block", ill.TargetBlock).
			Int("block_count", in.view.BlockCount()).
			Msg("target block is gone, dropping illustration")
		metrics.IllustrationsTotal.WithLabelValues(metrics.OutcomeDropped).Inc()
		res.State = Dropped
		return res, nil
	}
	res.State = Located

	if in.downsample && (res.Width != img.Width || res.Height != img.Height) {
		small, err := Downsample(img, res.Width, res.Height)
		if err != nil {
			in.log.Warn().Err(err).Msg("downsampling failed, keeping original image")
		} else {
			img = small
		}
	}

	res.ResourceID = uuid.NewString()
	if err := in.view.AddImageResource(res.ResourceID, img.Data, img.MimeType); err != nil {
		metrics.IllustrationsTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
		return res, fmt.Errorf("register image resource: %w", err)
	}

	spec := BlockSpec{
		Centered:     true,
		MarginTop:    IllustrationMarginTop,
		MarginBottom: IllustrationMarginBottom,
		Image:        &ImageSpec{ResourceID: res.ResourceID, Width: res.Width, Height: res.Height},
		Caption:      ill.Caption,
	}
	err = in.view.Edit(func(e Editor) error {
		idx, err := e.InsertBlockAfter(ill.TargetBlock, spec)
		if err != nil {
			return err
		}
		res.Block = idx
		return nil
	})
	if err != nil {
		metrics.IllustrationsTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
		return res, fmt.Errorf("insert illustration after block %d: %w", ill.TargetBlock, err)
	}
	res.State = Inserted
	metrics.IllustrationsTotal.WithLabelValues(metrics.OutcomeInserted).Inc()
	in.log.Info().
		Int("block", res.Block).
		Str("resource_id", res.ResourceID).
		Int("width", res.Width).
		Int("height", res.Height).
		Msg("illustration inserted")
	return res, nil
}
