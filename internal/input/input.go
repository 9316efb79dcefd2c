// Package input turns uploaded files and pasted text into the bounded text
// submitted for analysis.
package input

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
)

const (
	// MaxChars is the most characters submitted for one analysis.
	MaxChars = 50000
	// BinaryScanLimit bounds the string extraction scan of binary files.
	BinaryScanLimit = 50 * 1024
	// MinRunLength is the shortest printable run kept from a binary file.
	MinRunLength = 5

	sniffLen     = 8000
	maxReadBytes = 8 << 20
)

var binaryExtensions = map[string]bool{
	".pcap":   true,
	".pcapng": true,
	".cap":    true,
	".evtx":   true,
	".etl":    true,
	".bin":    true,
	".exe":    true,
	".dll":    true,
	".dmp":    true,
}

// Document is analysis input ready for submission.
type Document struct {
	Name      string `json:"name"`
	Text      string `json:"-"`
	Binary    bool   `json:"binary"`
	HTML      bool   `json:"html"`
	Truncated bool   `json:"truncated"`
	Size      int64  `json:"size"`
}

// ReadError reports an input that could not be read.
type ReadError struct {
	Name string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read %s: %v", e.Name, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

// ReadFile loads the file at path.
func ReadFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ReadError{Name: path, Err: err}
	}
	defer f.Close()
	return Load(filepath.Base(path), f)
}

// Load reads an upload. Binary content is reduced to its printable strings,
// HTML is converted to markdown, and the result is truncated to MaxChars.
func Load(name string, r io.Reader) (*Document, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxReadBytes+1))
	if err != nil {
		return nil, &ReadError{Name: name, Err: err}
	}
	overflow := len(data) > maxReadBytes
	if overflow {
		data = data[:maxReadBytes]
	}

	doc := &Document{Name: name, Size: int64(len(data))}
	var text string
	switch {
	case IsBinary(name, data):
		doc.Binary = true
		text = ExtractStrings(data)
	case isHTML(name):
		doc.HTML = true
		md, err := htmltomarkdown.ConvertString(string(data))
		if err != nil {
			// Unparseable markup is still useful as raw text.
			md = string(data)
		}
		text = md
	default:
		text = strings.ToValidUTF8(string(data), "�")
	}

	doc.Text, doc.Truncated = Truncate(text)
	doc.Truncated = doc.Truncated || (overflow && !doc.Binary)
	return doc, nil
}

// FromText wraps pasted text.
func FromText(text string) *Document {
	doc := &Document{Name: "pasted", Size: int64(len(text))}
	doc.Text, doc.Truncated = Truncate(text)
	return doc
}

// Truncate cuts s to MaxChars characters and reports whether it cut.
func Truncate(s string) (string, bool) {
	if len(s) <= MaxChars {
		return s, false
	}
	n := 0
	for i := range s {
		if n == MaxChars {
			return s[:i], true
		}
		n++
	}
	return s, false
}

// IsBinary reports whether an upload should go through string extraction:
// a known capture/binary extension, or a NUL byte or invalid UTF-8 near the start.
func IsBinary(name string, data []byte) bool {
	if binaryExtensions[strings.ToLower(filepath.Ext(name))] {
		return true
	}
	head := data
	if len(head) > sniffLen {
		head = head[:sniffLen]
		// don't count a rune split at the sniff boundary
		for i := 0; i < utf8.UTFMax && len(head) > 0 && !utf8.Valid(head); i++ {
			head = head[:len(head)-1]
		}
	}
	return bytes.IndexByte(head, 0) >= 0 || !utf8.Valid(head)
}

// ExtractStrings returns the runs of at least MinRunLength printable ASCII
// characters in the first BinaryScanLimit bytes of data, one run per line.
func ExtractStrings(data []byte) string {
	if len(data) > BinaryScanLimit {
		data = data[:BinaryScanLimit]
	}

	var out strings.Builder
	start := -1
	flush := func(end int) {
		if start >= 0 && end-start >= MinRunLength {
			out.Write(data[start:end])
			out.WriteByte('\n')
		}
		start = -1
	}

	for i, b := range data {
		if isPrintable(b) {
			if start < 0 {
				start = i
			}
			continue
		}
		flush(i)
	}
	flush(len(data))

	return out.String()
}

func isPrintable(b byte) bool {
	return (b >= 0x20 && b <= 0x7e) || b == '\t'
}

func isHTML(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".html", ".htm":
		return true
	}
	return false
}
