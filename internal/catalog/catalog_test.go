package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clausecheck/internal/types"
)

const validCatalog = `version: "2024.1"
provisions:
  - id: pay-if-paid
    priority: critical
    canonical_wording: "payment is contingent upon receipt of payment from the owner"
    definition: "Subcontractor payment conditioned on owner payment as a condition precedent."
    synonyms:
      - "contingent payment clause"
    exact_match_patterns:
      - "condition precedent"
    false_positive_traps:
      - "pay-when-paid timing clauses are not pay-if-paid"
    confidence_rubric:
      high: "explicit condition precedent language"
      medium: "contingency language without the phrase condition precedent"
      low: "ambiguous timing language only"
    suggested_action: "Negotiate removal or add a time-certain backstop."
  - id: lien-waiver
    priority: high
    canonical_wording: "waives and releases all lien rights"
    definition: "Advance waiver of mechanic's lien rights."
`

func writeCatalog(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadValidCatalog(t *testing.T) {
	cat, err := Load(writeCatalog(t, validCatalog))
	require.NoError(t, err)

	assert.Equal(t, "2024.1", cat.Version)
	require.Equal(t, 2, cat.Len())

	p, ok := cat.Get("pay-if-paid")
	require.True(t, ok, "pay-if-paid not indexed")
	assert.Equal(t, types.PriorityCritical, p.Priority)
	assert.Len(t, p.FalsePositiveTraps, 1)
	assert.NotEmpty(t, p.Rubric.High)
	assert.NotEmpty(t, p.SuggestedAction)

	counts := cat.CountByPriority()
	assert.Equal(t, 1, counts[types.PriorityCritical])
	assert.Equal(t, 1, counts[types.PriorityHigh])
}

func TestLoadRejectsDuplicateIDs(t *testing.T) {
	bad := strings.ReplaceAll(validCatalog, "id: lien-waiver", "id: pay-if-paid")
	_, err := Load(writeCatalog(t, bad))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestLoadRejectsInvalidPriority(t *testing.T) {
	bad := strings.ReplaceAll(validCatalog, "priority: high", "priority: urgent")
	_, err := Load(writeCatalog(t, bad))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "priority")
}

func TestLoadRejectsMissingFields(t *testing.T) {
	cases := map[string]string{
		"missing id":        strings.ReplaceAll(validCatalog, "id: lien-waiver", `id: ""`),
		"missing canonical": strings.ReplaceAll(validCatalog, `canonical_wording: "waives and releases all lien rights"`, `canonical_wording: ""`),
		"missing definition": strings.ReplaceAll(validCatalog,
			`definition: "Advance waiver of mechanic's lien rights."`, `definition: ""`),
	}
	for name, content := range cases {
		_, err := Load(writeCatalog(t, content))
		assert.Error(t, err, name)
	}
}

func TestLoadRejectsEmptyCatalog(t *testing.T) {
	_, err := Load(writeCatalog(t, "version: \"1\"\nprovisions: []\n"))
	assert.Error(t, err)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	_, err := Load(writeCatalog(t, "provisions: [unclosed"))
	assert.Error(t, err, "malformed yaml accepted")

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err, "missing file accepted")
}

func TestManagerReloadKeepsOldOnFailure(t *testing.T) {
	path := writeCatalog(t, validCatalog)
	mgr, err := NewManager(path)
	require.NoError(t, err)
	before := mgr.Current()

	// A broken edit must not displace the live catalog.
	require.NoError(t, os.WriteFile(path, []byte("provisions: [unclosed"), 0o644))
	require.Error(t, mgr.Reload())
	assert.Same(t, before, mgr.Current(), "broken reload replaced the live catalog")

	// Fixing the file swaps in the new catalog.
	fixed := strings.ReplaceAll(validCatalog, `version: "2024.1"`, `version: "2024.2"`)
	require.NoError(t, os.WriteFile(path, []byte(fixed), 0o644))
	require.NoError(t, mgr.Reload())
	assert.Equal(t, "2024.2", mgr.Current().Version)
}
