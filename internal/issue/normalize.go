package issue

import (
	"regexp"
	"strings"
)

var (
	pdfPagePattern     = regexp.MustCompile(`(?i)^(?:page|p\.?)\s*[:.]?\s*(\d+)$`)
	epubcheckPosSuffix = regexp.MustCompile(`\(\d+(?:,\s*\d+)?\)$`)
)

var containerRoots = []string{"oebps/", "ops/", "epub/"}

// sourceNormalizers rewrite engine-specific location syntax before the
// shared rules apply.
var sourceNormalizers = map[Source]func(string) string{
	// EPUBCheck appends "(line,col)" to the resource path.
	SourceEPUBCheck: func(loc string) string {
		return strings.TrimSpace(epubcheckPosSuffix.ReplaceAllString(loc, ""))
	},
	// Ace reports "path.xhtml#cfi" style anchors; drop an empty fragment.
	SourceAce: func(loc string) string {
		return strings.TrimSuffix(loc, "#")
	},
}

// NormalizeLocation maps a reported location to the single form used for
// deduplication, task IDs and strict reconciliation.
//
// Rules, in order: source pre-normalizer, trim, backslashes to slashes,
// strip leading "./" and "/", strip one EPUB container root (OEBPS/, OPS/,
// EPUB/), lowercase the path while preserving the #fragment. PDF page forms
// ("page 3", "p.3", "Page:3") become "page:3".
func NormalizeLocation(src Source, loc string) string {
	if fn, ok := sourceNormalizers[src]; ok {
		loc = fn(loc)
	}
	loc = strings.TrimSpace(loc)
	if loc == "" {
		return ""
	}

	if m := pdfPagePattern.FindStringSubmatch(loc); m != nil {
		n := strings.TrimLeft(m[1], "0")
		if n == "" {
			n = "0"
		}
		return "page:" + n
	}

	loc = strings.ReplaceAll(loc, `\`, "/")
	for strings.HasPrefix(loc, "./") || strings.HasPrefix(loc, "/") {
		loc = strings.TrimPrefix(strings.TrimPrefix(loc, "./"), "/")
	}

	path, fragment, hasFragment := strings.Cut(loc, "#")
	path = strings.ToLower(path)
	for _, root := range containerRoots {
		if strings.HasPrefix(path, root) {
			path = strings.TrimPrefix(path, root)
			break
		}
	}

	if hasFragment {
		return path + "#" + fragment
	}
	return path
}
