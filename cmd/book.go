package cmd

import (
	"fmt"
	"path"
	"strings"

	"bookreader/document"
	"bookreader/epub"
	"bookreader/server"
)

// openBook reads and unpacks the EPUB at bookPath into a document.
func openBook(bookPath string) (server.Book, error) {
	b, err := epub.Read(bookPath)
	if err != nil {
		return server.Book{}, err
	}
	dir, err := b.Extract(cfg.Settings.ExtractDir)
	if err != nil {
		return server.Book{}, err
	}

	htmls := b.HTMLContent()
	for i, h := range htmls {
		htmls[i] = epub.RemoveFontFamily(h)
	}
	stylesheet := epub.RemoveFontFamily(strings.Join(b.CSSContent(), "\n"))

	doc, err := document.Parse(htmls, stylesheet)
	if err != nil {
		return server.Book{}, fmt.Errorf("load %s: %w", bookPath, err)
	}

	title := b.Title
	if title == "" {
		title = path.Base(bookPath)
	}
	logger.Info().
		Str("title", title).
		Int("blocks", doc.BlockCount()).
		Str("extract_dir", dir).
		Msg("book opened")

	return server.Book{
		Title:      title,
		Document:   doc,
		ExtractDir: dir,
		BaseHref:   path.Join("/book", b.RootDir) + "/",
	}, nil
}
