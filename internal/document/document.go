// Package document is the format-agnostic projection of an EPUB or PDF
// package that handlers mutate and audits inspect.
//
// Artifacts are stored as the JSON encoding of Document. Binary container
// editing happens outside this service.
package document

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// Format identifies the source container.
type Format string

const (
	FormatEPUB Format = "epub"
	FormatPDF  Format = "pdf"
)

// Accessibility metadata properties.
const (
	MetaAccessMode           = "schema:accessMode"
	MetaAccessibilityFeature = "schema:accessibilityFeature"
	MetaAccessibilitySummary = "schema:accessibilitySummary"
	MetaAccessibilityHazard  = "schema:accessibilityHazard"
	MetaTitle                = "dc:title"
)

// ErrInvalid is returned when bytes do not decode to a usable document.
var ErrInvalid = errors.New("invalid document")

// Image is an embedded image.
type Image struct {
	ID         string `json:"id"`
	Src        string `json:"src,omitempty"`
	Alt        string `json:"alt,omitempty"`
	Decorative bool   `json:"decorative,omitempty"`
}

// MissingAlt reports whether the image needs alternative text.
func (i Image) MissingAlt() bool {
	return i.Alt == "" && !i.Decorative
}

// Content is one content document (an XHTML file, or a PDF page).
type Content struct {
	Path   string  `json:"path"`
	Title  string  `json:"title,omitempty"`
	Lang   string  `json:"lang,omitempty"`
	Images []Image `json:"images,omitempty"`
}

// Document is the mutable artifact shared by handlers within one job.
type Document struct {
	Format   Format              `json:"format"`
	Package  string              `json:"package,omitempty"`
	Title    string              `json:"title,omitempty"`
	Language string              `json:"language,omitempty"`
	Metadata map[string][]string `json:"metadata,omitempty"`
	Contents []Content           `json:"contents,omitempty"`
	Nav      []string            `json:"nav,omitempty"`
}

// Decode parses an artifact.
func Decode(data []byte) (*Document, error) {
	var d Document
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	switch d.Format {
	case FormatEPUB, FormatPDF:
	default:
		return nil, fmt.Errorf("%w: unknown format %q", ErrInvalid, d.Format)
	}
	if d.Metadata == nil {
		d.Metadata = make(map[string][]string)
	}
	if d.Package == "" && d.Format == FormatEPUB {
		d.Package = "content.opf"
	}
	return &d, nil
}

// Encode serializes the document.
func (d *Document) Encode() ([]byte, error) {
	return json.MarshalIndent(d, "", "  ")
}

// Meta returns the values of a metadata property.
func (d *Document) Meta(key string) []string {
	return d.Metadata[key]
}

// HasMeta reports whether a property has at least one non-empty value.
func (d *Document) HasMeta(key string) bool {
	for _, v := range d.Metadata[key] {
		if v != "" {
			return true
		}
	}
	return false
}

// AddMeta appends values not already present and returns the ones added.
func (d *Document) AddMeta(key string, values ...string) []string {
	if d.Metadata == nil {
		d.Metadata = make(map[string][]string)
	}
	existing := make(map[string]bool, len(d.Metadata[key]))
	for _, v := range d.Metadata[key] {
		existing[v] = true
	}
	var added []string
	for _, v := range values {
		if v == "" || existing[v] {
			continue
		}
		d.Metadata[key] = append(d.Metadata[key], v)
		existing[v] = true
		added = append(added, v)
	}
	return added
}

// MetaKeys returns the metadata properties in sorted order.
func (d *Document) MetaKeys() []string {
	keys := make([]string, 0, len(d.Metadata))
	for k := range d.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
