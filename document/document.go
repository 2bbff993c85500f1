package document

import (
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	// ErrNotFound is returned when a block index does not exist.
	ErrNotFound = errors.New("block not found")
	// ErrDuplicateResource is returned when a resource id is registered twice.
	ErrDuplicateResource = errors.New("duplicate resource id")
)

// blockSelector matches the elements that become document blocks.
const blockSelector = "p, h1, h2, h3, h4, h5, h6, li, blockquote, pre, dt, dd, figure, div"

// ImageSpec places a registered image resource at a display size.
type ImageSpec struct {
	ResourceID string
	Width      int
	Height     int
}

// BlockSpec describes a block inserted by an edit.
type BlockSpec struct {
	Centered     bool
	MarginTop    int
	MarginBottom int
	Image        *ImageSpec
	// Caption is rendered as small italic text right after the image.
	Caption string
}

// Block is one paragraph-level unit of the document.
type Block struct {
	html string
	text string
	spec *BlockSpec
}

// Text returns the plain text of the block.
func (b Block) Text() string { return b.text }

// Spec returns the BlockSpec of an inserted block, or nil for book content.
func (b Block) Spec() *BlockSpec { return b.spec }

// Resource is an image registered with the document.
type Resource struct {
	Data     []byte
	MimeType string
}

// Selection is the current text selection, in block indices.
type Selection struct {
	Text       string
	StartBlock int
	EndBlock   int
}

// Editor mutates the document inside one edit transaction.
type Editor interface {
	// InsertBlockAfter inserts a new block right after block and returns its index.
	InsertBlockAfter(block int, spec BlockSpec) (int, error)
}

// Document is an in-memory rich-text document made of blocks. It is not safe
// for concurrent use; callers confine it to a single goroutine.
type Document struct {
	blocks     []Block
	stylesheet string
	resources  map[string]Resource
	selection  *Selection
	undo       [][]int
}

// New returns a document with one plain paragraph per text.
func New(paragraphs ...string) *Document {
	d := &Document{resources: make(map[string]Resource)}
	for _, p := range paragraphs {
		d.blocks = append(d.blocks, Block{
			html: "<p>" + html.EscapeString(p) + "</p>",
			text: p,
		})
	}
	return d
}

// Parse splits HTML documents into blocks, in order. Elements that contain
// other block elements are descended into rather than kept whole.
func Parse(docs []string, stylesheet string) (*Document, error) {
	d := &Document{
		stylesheet: stylesheet,
		resources:  make(map[string]Resource),
	}
	for i, src := range docs {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
		if err != nil {
			return nil, fmt.Errorf("parse html document %d: %w", i, err)
		}
		body := doc.Find("body")
		before := len(d.blocks)
		body.Find(blockSelector).Each(func(_ int, s *goquery.Selection) {
			if s.Find(blockSelector).Length() > 0 {
				return
			}
			text := strings.Join(strings.Fields(s.Text()), " ")
			if text == "" && s.Find("img, image, svg").Length() == 0 {
				return
			}
			outer, err := goquery.OuterHtml(s)
			if err != nil {
				return
			}
			d.blocks = append(d.blocks, Block{html: outer, text: text})
		})
		if len(d.blocks) == before {
			if text := strings.Join(strings.Fields(body.Text()), " "); text != "" {
				inner, _ := body.Html()
				d.blocks = append(d.blocks, Block{html: "<div>" + inner + "</div>", text: text})
			}
		}
	}
	return d, nil
}

// BlockCount returns the number of blocks.
func (d *Document) BlockCount() int { return len(d.blocks) }

// Block returns the block at index i.
func (d *Document) Block(i int) (Block, error) {
	if i < 0 || i >= len(d.blocks) {
		return Block{}, fmt.Errorf("%w: %d", ErrNotFound, i)
	}
	return d.blocks[i], nil
}

// Stylesheet returns the default stylesheet of the document.
func (d *Document) Stylesheet() string { return d.stylesheet }

// Select selects the text of blocks start..end inclusive.
func (d *Document) Select(start, end int) error {
	if start > end {
		start, end = end, start
	}
	if start < 0 || end >= len(d.blocks) {
		return fmt.Errorf("%w: selection %d..%d of %d blocks", ErrNotFound, start, end, len(d.blocks))
	}
	texts := make([]string, 0, end-start+1)
	for _, b := range d.blocks[start : end+1] {
		if b.text != "" {
			texts = append(texts, b.text)
		}
	}
	d.selection = &Selection{Text: strings.Join(texts, "\n"), StartBlock: start, EndBlock: end}
	return nil
}

// ClearSelection removes the current selection.
func (d *Document) ClearSelection() { d.selection = nil }

// CurrentSelection returns the selection, if any.
func (d *Document) CurrentSelection() (Selection, bool) {
	if d.selection == nil {
		return Selection{}, false
	}
	return *d.selection, true
}

// AddImageResource registers image data under id.
func (d *Document) AddImageResource(id string, data []byte, mimeType string) error {
	if _, ok := d.resources[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateResource, id)
	}
	d.resources[id] = Resource{Data: data, MimeType: mimeType}
	return nil
}

// Resource returns the image registered under id.
func (d *Document) Resource(id string) (Resource, bool) {
	r, ok := d.resources[id]
	return r, ok
}

// Edit runs fn as one transaction. If fn fails, its insertions are rolled
// back; otherwise they are undone together by a single Undo.
func (d *Document) Edit(fn func(Editor) error) error {
	t := &tx{d: d}
	if err := fn(t); err != nil {
		d.revert(t.inserted)
		return err
	}
	if len(t.inserted) > 0 {
		d.undo = append(d.undo, t.inserted)
	}
	return nil
}

// Undo reverts the most recent edit transaction. It reports whether there was one.
func (d *Document) Undo() bool {
	if len(d.undo) == 0 {
		return false
	}
	last := d.undo[len(d.undo)-1]
	d.undo = d.undo[:len(d.undo)-1]
	d.revert(last)
	return true
}

func (d *Document) revert(inserted []int) {
	for i := len(inserted) - 1; i >= 0; i-- {
		idx := inserted[i]
		if b := d.blocks[idx]; b.spec != nil && b.spec.Image != nil {
			delete(d.resources, b.spec.Image.ResourceID)
		}
		d.blocks = append(d.blocks[:idx], d.blocks[idx+1:]...)
	}
}

type tx struct {
	d        *Document
	inserted []int
}

func (t *tx) InsertBlockAfter(block int, spec BlockSpec) (int, error) {
	d := t.d
	if block < 0 || block >= len(d.blocks) {
		return 0, fmt.Errorf("%w: %d", ErrNotFound, block)
	}
	if spec.Image != nil {
		if _, ok := d.resources[spec.Image.ResourceID]; !ok {
			return 0, fmt.Errorf("%w: image resource %s", ErrNotFound, spec.Image.ResourceID)
		}
	}
	s := spec
	idx := block + 1
	d.blocks = append(d.blocks, Block{})
	copy(d.blocks[idx+1:], d.blocks[idx:])
	d.blocks[idx] = Block{text: spec.Caption, spec: &s}
	t.inserted = append(t.inserted, idx)
	return idx, nil
}

// HTML renders the document. resourceURL maps an image resource id to the URL it is served at.
// Each block is wrapped in a div whose data-block attribute holds its index,
// the same index Select and InsertBlockAfter take.
func (d *Document) HTML(resourceURL func(id string) string) string {
	var sb strings.Builder
	for i, b := range d.blocks {
		fmt.Fprintf(&sb, `<div data-block="%d">`, i)
		if b.spec == nil {
			sb.WriteString(b.html)
		} else {
			renderSpec(&sb, b.spec, resourceURL)
		}
		sb.WriteString("</div>\n")
	}
	return sb.String()
}

func renderSpec(sb *strings.Builder, s *BlockSpec, resourceURL func(string) string) {
	sb.WriteString(`<p style="`)
	if s.Centered {
		sb.WriteString("text-align: center; ")
	}
	fmt.Fprintf(sb, `margin-top: %dpx; margin-bottom: %dpx;">`, s.MarginTop, s.MarginBottom)
	if s.Image != nil {
		fmt.Fprintf(sb, `<img src="%s" width="%d" height="%d" alt="">`,
			html.EscapeString(resourceURL(s.Image.ResourceID)), s.Image.Width, s.Image.Height)
	}
	if s.Caption != "" {
		if s.Image != nil {
			sb.WriteString("<br>")
		}
		fmt.Fprintf(sb, `<span style="font-size: small; font-style: italic;">%s</span>`, html.EscapeString(s.Caption))
	}
	sb.WriteString("</p>")
}
