package handlers

import (
	"errors"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/remedyd/internal/document"
)

// ErrMissingOption is returned by quick-fix handlers run without the
// reviewer input they need.
var ErrMissingOption = errors.New("required option missing")

const defaultSummary = "This publication declares its language and accessibility metadata " +
	"and provides structural navigation."

// NewDefaultRegistry wires the built-in handlers. defaultLanguage is used
// when no "language" option is given.
func NewDefaultRegistry(defaultLanguage string) *Registry {
	r := NewRegistry()
	lang := Language(defaultLanguage)

	r.MustRegister("EPUB-META-001", lang)
	r.MustRegister("PDF-LANG-001", lang)
	r.MustRegister("EPUB-META-002", Metadata(document.MetaAccessMode, "textual", "visual"))
	r.MustRegister("EPUB-META-003", Metadata(document.MetaAccessibilityFeature, "structuralNavigation", "tableOfContents"))
	r.MustRegister("EPUB-META-004", Summary(defaultSummary))
	r.MustRegister("EPUB-SEM-001", ContentLanguage(defaultLanguage))
	r.MustRegister("PDF-TITLE-001", Title())

	r.MustRegister("EPUB-META-005", Hazard())
	r.MustRegister("EPUB-IMG-001", ImageAlt())
	r.MustRegister("PDF-IMG-ALT-001", ImageAlt())
	r.MustRegister("EPUB-NAV-001", PageList())
	return r
}

// Language sets the document language.
func Language(defaultLanguage string) Handler {
	return func(doc *document.Document, opts Options) ([]Result, error) {
		if doc.Language != "" {
			return []Result{{Description: "language already set to " + doc.Language}}, nil
		}
		lang := firstNonEmpty(opts["language"], defaultLanguage)
		if lang == "" {
			return nil, fmt.Errorf("%w: language", ErrMissingOption)
		}
		doc.Language = lang
		return []Result{{
			Success:     true,
			Description: "set document language to " + lang,
			After:       lang,
		}}, nil
	}
}

// Metadata adds values to an accessibility metadata property when it has none.
func Metadata(key string, values ...string) Handler {
	return func(doc *document.Document, opts Options) ([]Result, error) {
		if doc.HasMeta(key) {
			return []Result{{Description: key + " already present"}}, nil
		}
		want := values
		if v := opts["value"]; v != "" {
			want = strings.Split(v, ",")
		}
		added := doc.AddMeta(key, want...)
		if len(added) == 0 {
			return []Result{{Description: key + ": no values to add"}}, nil
		}
		return []Result{{
			Success:     true,
			Description: "added " + key,
			After:       strings.Join(added, ","),
		}}, nil
	}
}

// Summary writes an accessibility summary.
func Summary(text string) Handler {
	return func(doc *document.Document, opts Options) ([]Result, error) {
		if doc.HasMeta(document.MetaAccessibilitySummary) {
			return []Result{{Description: "accessibility summary already present"}}, nil
		}
		summary := firstNonEmpty(opts["summary"], text)
		doc.AddMeta(document.MetaAccessibilitySummary, summary)
		return []Result{{Success: true, Description: "added accessibility summary", After: summary}}, nil
	}
}

// ContentLanguage sets lang on every content document missing one. The
// package language wins over the default.
func ContentLanguage(defaultLanguage string) Handler {
	return func(doc *document.Document, opts Options) ([]Result, error) {
		lang := firstNonEmpty(opts["language"], doc.Language, defaultLanguage)
		var results []Result
		for i := range doc.Contents {
			c := &doc.Contents[i]
			if c.Lang != "" {
				continue
			}
			if lang == "" {
				return nil, fmt.Errorf("%w: language", ErrMissingOption)
			}
			c.Lang = lang
			results = append(results, Result{
				Success:     true,
				Description: "set lang on " + c.Path,
				After:       lang,
			})
		}
		if len(results) == 0 {
			return []Result{{Description: "lang already present on all content documents"}}, nil
		}
		return results, nil
	}
}

// Title sets the document title from the "title" option, dc:title, or the
// first titled content document, in that order.
func Title() Handler {
	return func(doc *document.Document, opts Options) ([]Result, error) {
		if doc.Title != "" {
			return []Result{{Description: "title already set"}}, nil
		}
		title := opts["title"]
		if title == "" {
			if v := doc.Meta(document.MetaTitle); len(v) > 0 {
				title = v[0]
			}
		}
		for i := 0; title == "" && i < len(doc.Contents); i++ {
			title = doc.Contents[i].Title
		}
		if title == "" {
			return []Result{{Description: "no title source available"}}, nil
		}
		doc.Title = title
		return []Result{{Success: true, Description: "set document title", After: title}}, nil
	}
}

// Hazard records the reviewer's accessibilityHazard declaration.
func Hazard() Handler {
	return func(doc *document.Document, opts Options) ([]Result, error) {
		if doc.HasMeta(document.MetaAccessibilityHazard) {
			return []Result{{Description: "accessibility hazard already present"}}, nil
		}
		v := opts["hazard"]
		if v == "" {
			return nil, fmt.Errorf("%w: hazard", ErrMissingOption)
		}
		added := doc.AddMeta(document.MetaAccessibilityHazard, strings.Split(v, ",")...)
		return []Result{{Success: true, Description: "declared accessibility hazards", After: strings.Join(added, ",")}}, nil
	}
}

// ImageAlt applies reviewer alt text. "alt:<image id>" targets one image;
// "alt" applies to every image still missing text.
func ImageAlt() Handler {
	return func(doc *document.Document, opts Options) ([]Result, error) {
		var results []Result
		for ci := range doc.Contents {
			c := &doc.Contents[ci]
			for ii := range c.Images {
				img := &c.Images[ii]
				if !img.MissingAlt() {
					continue
				}
				alt := firstNonEmpty(opts["alt:"+img.ID], opts["alt"])
				if alt == "" {
					results = append(results, Result{Description: "no alt text supplied for " + c.Path + "#" + img.ID})
					continue
				}
				img.Alt = alt
				results = append(results, Result{
					Success:     true,
					Description: "set alt text on " + c.Path + "#" + img.ID,
					After:       alt,
				})
			}
		}
		if len(results) == 0 {
			return []Result{{Description: "alt text already present"}}, nil
		}
		return results, nil
	}
}

// PageList builds navigation entries from the content documents.
func PageList() Handler {
	return func(doc *document.Document, _ Options) ([]Result, error) {
		if len(doc.Nav) > 0 {
			return []Result{{Description: "page list already present"}}, nil
		}
		if len(doc.Contents) == 0 {
			return []Result{{Description: "no content documents to list"}}, nil
		}
		for _, c := range doc.Contents {
			doc.Nav = append(doc.Nav, c.Path)
		}
		return []Result{{
			Success:     true,
			Description: "generated page list",
			After:       strings.Join(doc.Nav, ","),
		}}, nil
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
