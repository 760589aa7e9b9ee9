// Package classify maps issue codes to fix tiers.
//
// The catalog is a static TOML document embedded in the binary. Tiers are
// pairwise disjoint and any code missing from the catalog is MANUAL, so an
// unrecognized defect is never auto-applied.
package classify

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
)

//go:embed catalog.toml
var defaultCatalog []byte

// Tier is the amount of human involvement a fix needs.
type Tier string

const (
	TierAutoFixable Tier = "AUTO_FIXABLE"
	TierQuickFix    Tier = "QUICK_FIX"
	TierManual      Tier = "MANUAL"
)

// Tiers lists all tiers.
var Tiers = []Tier{TierAutoFixable, TierQuickFix, TierManual}

type catalogFile struct {
	Tiers struct {
		AutoFixable []string `toml:"auto_fixable"`
		QuickFix    []string `toml:"quick_fix"`
		Manual      []string `toml:"manual"`
	} `toml:"tiers"`
	Duplicates map[string]string `toml:"duplicates"`
}

// Classifier is an immutable code lookup. Safe for concurrent use.
type Classifier struct {
	tiers      map[string]Tier   // normalized code -> tier
	spelling   map[string]string // normalized code -> catalog spelling
	duplicates map[string]string // normalized alias -> canonical spelling
}

// NormalizeCode is the comparison key for codes: trimmed and lowercased.
func NormalizeCode(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}

// Default returns the classifier built from the embedded catalog.
func Default() (*Classifier, error) {
	return Parse(defaultCatalog)
}

// Load reads a catalog override from path. An empty path yields Default.
func Load(path string) (*Classifier, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path) // #nosec G304 -- configured catalog path
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	return Parse(data)
}

// Parse builds a classifier from TOML catalog bytes and validates it.
func Parse(data []byte) (*Classifier, error) {
	var cf catalogFile
	if _, err := toml.Decode(string(data), &cf); err != nil {
		return nil, fmt.Errorf("decoding catalog: %w", err)
	}

	c := &Classifier{
		tiers:      make(map[string]Tier),
		spelling:   make(map[string]string),
		duplicates: make(map[string]string),
	}

	add := func(tier Tier, codes []string) error {
		for _, code := range codes {
			key := NormalizeCode(code)
			if key == "" {
				return fmt.Errorf("empty code in %s tier", tier)
			}
			if prev, ok := c.tiers[key]; ok {
				return fmt.Errorf("code %q listed in both %s and %s", code, prev, tier)
			}
			c.tiers[key] = tier
			c.spelling[key] = strings.TrimSpace(code)
		}
		return nil
	}
	if err := add(TierAutoFixable, cf.Tiers.AutoFixable); err != nil {
		return nil, err
	}
	if err := add(TierQuickFix, cf.Tiers.QuickFix); err != nil {
		return nil, err
	}
	if err := add(TierManual, cf.Tiers.Manual); err != nil {
		return nil, err
	}

	for alias, canonical := range cf.Duplicates {
		c.duplicates[NormalizeCode(alias)] = strings.TrimSpace(canonical)
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Classify returns the tier for code. Unknown codes are MANUAL.
func (c *Classifier) Classify(code string) Tier {
	if t, ok := c.tiers[NormalizeCode(code)]; ok {
		return t
	}
	return TierManual
}

// Known reports whether code appears in any tier.
func (c *Classifier) Known(code string) bool {
	_, ok := c.tiers[NormalizeCode(code)]
	return ok
}

// Canonical returns the canonical code an alias duplicates.
func (c *Classifier) Canonical(code string) (string, bool) {
	canonical, ok := c.duplicates[NormalizeCode(code)]
	return canonical, ok
}

// CanonicalOrSelf resolves an alias, or returns code unchanged.
func (c *Classifier) CanonicalOrSelf(code string) string {
	if canonical, ok := c.Canonical(code); ok {
		return canonical
	}
	return strings.TrimSpace(code)
}

// Codes returns the codes of a tier in sorted order.
func (c *Classifier) Codes(tier Tier) []string {
	var out []string
	for key, t := range c.tiers {
		if t == tier {
			out = append(out, c.spelling[key])
		}
	}
	sort.Strings(out)
	return out
}

// Validate checks catalog consistency: every alias points at a different,
// classified code of the same tier.
func (c *Classifier) Validate() error {
	for alias, canonical := range c.duplicates {
		key := NormalizeCode(canonical)
		if key == alias {
			return fmt.Errorf("duplicate alias %q points to itself", alias)
		}
		ct, ok := c.tiers[key]
		if !ok {
			return fmt.Errorf("duplicate alias %q targets unclassified code %q", alias, canonical)
		}
		if at, ok := c.tiers[alias]; ok && at != ct {
			return fmt.Errorf("alias %q is %s but canonical %q is %s", alias, at, canonical, ct)
		}
	}
	return nil
}
