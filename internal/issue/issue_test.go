package issue

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
		check   func(t *testing.T, i Issue)
	}{
		{
			name: "valid ace issue",
			raw:  `{"id":"a1","code":"image-alt","source":"ace","severity":"Serious","location":"OEBPS/ch1.xhtml#img3","ace":{"rule":"image-alt"}}`,
			check: func(t *testing.T, i Issue) {
				assert.Equal(t, "a1", i.ID)
				assert.Equal(t, SeveritySerious, i.Severity)
				assert.Equal(t, "ch1.xhtml#img3", i.NormalizedLocation())
				require.NotNil(t, i.Ace)
			},
		},
		{
			name: "id derived when absent",
			raw:  `{"code":"PDF-TITLE-001","source":"pdf","severity":"moderate","location":"page 1"}`,
			check: func(t *testing.T, i Issue) {
				assert.Regexp(t, `^iss-[0-9a-f]{12}$`, i.ID)
			},
		},
		{name: "array", raw: `[1,2]`, wantErr: true},
		{name: "string", raw: `"hello"`, wantErr: true},
		{name: "null", raw: `null`, wantErr: true},
		{name: "empty code", raw: `{"code":" ","source":"ace","severity":"minor"}`, wantErr: true},
		{name: "unknown source", raw: `{"code":"X","source":"axe","severity":"minor"}`, wantErr: true},
		{name: "unknown severity", raw: `{"code":"X","source":"ace","severity":"blocker"}`, wantErr: true},
		{name: "numeric location", raw: `{"code":"X","source":"ace","severity":"minor","location":7}`, wantErr: true},
		{name: "mismatched detail", raw: `{"code":"X","source":"ace","severity":"minor","pdf":{"page":2}}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			i, err := Parse(json.RawMessage(tt.raw))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrMalformed))
				return
			}
			require.NoError(t, err)
			if tt.check != nil {
				tt.check(t, i)
			}
		})
	}
}

func TestParseList_DropsMalformed(t *testing.T) {
	data := []byte(`[
		{"code":"EPUB-META-001","source":"epubcheck","severity":"serious","location":"OEBPS/content.opf"},
		42,
		{"code":"","source":"ace","severity":"minor"},
		{"code":"epub-lang","source":"ace","severity":"serious","location":"content.opf"}
	]`)

	issues, dropped, err := ParseList(data)
	require.NoError(t, err)
	assert.Len(t, issues, 2)
	assert.Equal(t, 2, dropped)
	assert.Equal(t, "EPUB-META-001", issues[0].Code)

	_, _, err = ParseList([]byte(`{"not":"a list"}`))
	assert.Error(t, err)
}

func TestDeriveID_Stable(t *testing.T) {
	a := Issue{Code: "X", Source: SourceAce, Severity: SeverityMinor, Location: "OEBPS/A.xhtml"}
	b := Issue{Code: "X", Source: SourceAce, Severity: SeverityMinor, Location: "a.xhtml"}
	assert.Equal(t, DeriveID(a), DeriveID(b))

	b.Message = "different"
	assert.NotEqual(t, DeriveID(a), DeriveID(b))
}

func TestNormalizeLocation(t *testing.T) {
	tests := []struct {
		src  Source
		in   string
		want string
	}{
		{SourceAce, "  OEBPS/Text/Chapter1.xhtml#Fig2 ", "text/chapter1.xhtml#Fig2"},
		{SourceEPUBCheck, "OEBPS/content.opf(12,5)", "content.opf"},
		{SourceEPUBCheck, `.\OPS\nav.xhtml`, "nav.xhtml"},
		{SourceBuiltin, "/EPUB/package.opf", "package.opf"},
		{SourceAce, "chapter1.xhtml#", "chapter1.xhtml"},
		{SourcePDF, "page 3", "page:3"},
		{SourcePDF, "p.3", "page:3"},
		{SourcePDF, "Page:03", "page:3"},
		{SourcePDF, "page 0", "page:0"},
		{SourceBuiltin, "", ""},
		{SourceBuiltin, "oebps/oebps/x.xhtml", "oebps/x.xhtml"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeLocation(tt.src, tt.in), "%s %q", tt.src, tt.in)
	}
}

func TestLoadFile_YAMLAndJSON(t *testing.T) {
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "issues.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`
- code: EPUB-IMG-001
  source: ace
  severity: serious
  location: OEBPS/ch2.xhtml#img1
  ace:
    rule: image-alt
- just a string
- code: PDF-LANG-001
  source: pdf
  severity: critical
  pdf:
    page: 1
`), 0o600))

	issues, dropped, err := LoadFile(yamlPath)
	require.NoError(t, err)
	require.Len(t, issues, 2)
	assert.Equal(t, 1, dropped)
	assert.Equal(t, 1, issues[1].PDF.Page)

	jsonPath := filepath.Join(dir, "issues.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`[{"code":"X","source":"builtin","severity":"minor"}]`), 0o600))
	issues, dropped, err = LoadFile(jsonPath)
	require.NoError(t, err)
	assert.Len(t, issues, 1)
	assert.Zero(t, dropped)

	_, _, err = LoadFile(filepath.Join(dir, "issues.csv"))
	assert.Error(t, err)
}

func TestLoadRaw_KeepsMalformedEntries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "issues.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
- code: EPUB-META-001
  source: ace
  severity: critical
- 42
`), 0o600))

	raws, dropped, err := LoadRaw(path)
	require.NoError(t, err)
	assert.Len(t, raws, 2)
	assert.Zero(t, dropped)

	issues, bad := ParseAll(raws)
	assert.Len(t, issues, 1)
	assert.Equal(t, 1, bad)
}
