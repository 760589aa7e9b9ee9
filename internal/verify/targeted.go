package verify

import (
	"github.com/fyrsmithlabs/remedyd/internal/classify"
	"github.com/fyrsmithlabs/remedyd/internal/document"
)

// Check reads one property back from the document. It returns false and a
// short reason when the fix did not hold.
type Check func(doc *document.Document) (bool, string)

// Checks maps issue codes to targeted checks. Codes compare
// case-insensitively.
type Checks map[string]Check

// Lookup finds the check for code, directly or through its canonical alias.
func (c Checks) Lookup(code string, cl *classify.Classifier) (Check, bool) {
	if chk, ok := c[classify.NormalizeCode(code)]; ok {
		return chk, true
	}
	if cl != nil {
		if canonical, ok := cl.Canonical(code); ok {
			chk, ok := c[classify.NormalizeCode(canonical)]
			return chk, ok
		}
	}
	return nil, false
}

func languageSet(doc *document.Document) (bool, string) {
	if doc.Language == "" {
		return false, "language tag still missing"
	}
	return true, ""
}

func metaSet(key string) Check {
	return func(doc *document.Document) (bool, string) {
		if !doc.HasMeta(key) {
			return false, key + " still missing"
		}
		return true, ""
	}
}

func contentLangSet(doc *document.Document) (bool, string) {
	for _, c := range doc.Contents {
		if c.Lang == "" {
			return false, c.Path + " still has no lang"
		}
	}
	return true, ""
}

func titleSet(doc *document.Document) (bool, string) {
	if doc.Title == "" {
		return false, "title still missing"
	}
	return true, ""
}

func altTextSet(doc *document.Document) (bool, string) {
	for _, c := range doc.Contents {
		for _, img := range c.Images {
			if img.MissingAlt() {
				return false, c.Path + "#" + img.ID + " still has no alt text"
			}
		}
	}
	return true, ""
}

func pageListSet(doc *document.Document) (bool, string) {
	if len(doc.Nav) == 0 {
		return false, "page list still missing"
	}
	return true, ""
}

// DefaultChecks covers the built-in handlers.
func DefaultChecks() Checks {
	return Checks{
		"epub-meta-001":   languageSet,
		"pdf-lang-001":    languageSet,
		"epub-meta-002":   metaSet(document.MetaAccessMode),
		"epub-meta-003":   metaSet(document.MetaAccessibilityFeature),
		"epub-meta-004":   metaSet(document.MetaAccessibilitySummary),
		"epub-meta-005":   metaSet(document.MetaAccessibilityHazard),
		"epub-sem-001":    contentLangSet,
		"pdf-title-001":   titleSet,
		"epub-img-001":    altTextSet,
		"pdf-img-alt-001": altTextSet,
		"epub-nav-001":    pageListSet,
	}
}
