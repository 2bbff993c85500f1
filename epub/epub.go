package epub

import (
	"archive/zip"
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

// ErrInvalidBook is returned when an archive is not a readable EPUB container.
var ErrInvalidBook = errors.New("invalid epub")

const containerPath = "META-INF/container.xml"

type container struct {
	XMLName   xml.Name   `xml:"container"`
	RootFiles []rootFile `xml:"rootfiles>rootfile"`
}

type rootFile struct {
	FullPath  string `xml:"full-path,attr"`
	MediaType string `xml:"media-type,attr"`
}

type opfPackage struct {
	XMLName  xml.Name `xml:"package"`
	Title    string   `xml:"metadata>title"`
	Manifest []item   `xml:"manifest>item"`
	Spine    []struct {
		IDRef string `xml:"idref,attr"`
	} `xml:"spine>itemref"`
}

type item struct {
	ID        string `xml:"id,attr"`
	Href      string `xml:"href,attr"`
	MediaType string `xml:"media-type,attr"`
}

// Book is an EPUB read fully into memory.
type Book struct {
	Path  string
	Title string
	// RootDir is the directory of the package document inside the archive.
	// Relative links in the content resolve against it.
	RootDir string

	html  []string
	css   []string
	files map[string][]byte
	sum   string
}

// Read opens the EPUB at filePath and loads its documents and stylesheets.
func Read(filePath string) (*Book, error) {
	raw, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read epub file: %w", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidBook, filePath, err)
	}

	sum := md5.Sum(raw)
	b := &Book{
		Path:  filePath,
		files: make(map[string][]byte, len(zr.File)),
		sum:   hex.EncodeToString(sum[:]),
	}
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		data, err := readZipFile(f)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidBook, f.Name, err)
		}
		b.files[f.Name] = data
	}

	containerXML, ok := b.files[containerPath]
	if !ok {
		return nil, fmt.Errorf("%w: %s not found", ErrInvalidBook, containerPath)
	}
	var c container
	if err := xml.Unmarshal(containerXML, &c); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalidBook, containerPath, err)
	}
	if len(c.RootFiles) == 0 {
		return nil, fmt.Errorf("%w: no rootfile in %s", ErrInvalidBook, containerPath)
	}
	opfPath := c.RootFiles[0].FullPath
	opfXML, ok := b.files[opfPath]
	if !ok {
		return nil, fmt.Errorf("%w: package document %s not found", ErrInvalidBook, opfPath)
	}
	var pkg opfPackage
	if err := xml.Unmarshal(opfXML, &pkg); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalidBook, opfPath, err)
	}
	b.Title = strings.TrimSpace(pkg.Title)
	b.RootDir = path.Dir(opfPath)

	manifest := make(map[string]item, len(pkg.Manifest))
	for _, it := range pkg.Manifest {
		manifest[it.ID] = it
		if it.MediaType == "text/css" {
			if data, ok := b.files[b.resolve(it.Href)]; ok {
				b.css = append(b.css, string(data))
			}
		}
	}
	for _, ref := range pkg.Spine {
		it, ok := manifest[ref.IDRef]
		if !ok || (it.MediaType != "application/xhtml+xml" && it.MediaType != "text/html") {
			continue
		}
		if data, ok := b.files[b.resolve(it.Href)]; ok {
			b.html = append(b.html, string(data))
		}
	}
	if len(b.html) == 0 {
		return nil, fmt.Errorf("%w: no content documents in spine", ErrInvalidBook)
	}
	return b, nil
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (b *Book) resolve(href string) string {
	if i := strings.IndexAny(href, "#?"); i >= 0 {
		href = href[:i]
	}
	return path.Clean(path.Join(b.RootDir, href))
}

// HTMLContent returns the content documents in reading order.
func (b *Book) HTMLContent() []string {
	return append([]string(nil), b.html...)
}

// CSSContent returns the stylesheets listed in the manifest.
func (b *Book) CSSContent() []string {
	return append([]string(nil), b.css...)
}

// File returns an archive member by its path inside the container.
func (b *Book) File(name string) ([]byte, bool) {
	data, ok := b.files[name]
	return data, ok
}

// Extract unpacks the book into baseDir/<md5 of the book file> and returns
// that directory. An existing extraction is reused.
func (b *Book) Extract(baseDir string) (string, error) {
	dir := filepath.Join(baseDir, b.sum)
	if _, err := os.Stat(filepath.Join(dir, filepath.FromSlash(containerPath))); err == nil {
		return dir, nil
	}
	for name, data := range b.files {
		target := filepath.Join(dir, filepath.FromSlash(name))
		if !strings.HasPrefix(target, filepath.Clean(dir)+string(os.PathSeparator)) {
			return "", fmt.Errorf("%w: illegal member path %q", ErrInvalidBook, name)
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return "", fmt.Errorf("create extraction directory: %w", err)
		}
		if err := os.WriteFile(target, data, 0o644); err != nil {
			return "", fmt.Errorf("extract %s: %w", name, err)
		}
	}
	return dir, nil
}

// A declaration ends at ';', at the closing quote of a style attribute or at
// the end of a rule. Quoted family names, raw or entity-escaped, are part of
// the value.
var fontFamilyRE = regexp.MustCompile(`([;"\s{])font-family(?:&(?:quot|#34);[\w\s-]*&(?:quot|#34);|"[\w\s-]*"|[^;"}])*;?`)

// RemoveFontFamily strips font-family declarations so the reader's font applies.
func RemoveFontFamily(s string) string {
	for {
		out := fontFamilyRE.ReplaceAllString(s, "$1")
		if out == s {
			return out
		}
		s = out
	}
}
