package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const acmeYAML = `
tenantId: acme
goals:
  - id: contact
    name: Contact details
    priority: high
    order: 1
    type: data_collection
    isPrimary: true
    dataToCapture:
      fields:
        - email
        - name: phone
          required: false
  - id: schedule_visit
    name: Schedule a visit
    type: scheduling
    triggers:
      prerequisiteGoals: [contact]
    dataToCapture:
      fields: [preferredDate, preferredTime]
globalSettings:
  maxGoalsPerTurn: 2
businessHours:
  monday:
    - from: "09:00"
      to: "17:00"
timezone: America/New_York
`

const acmeSalesJSON = `{
  "tenantId": "acme",
  "personaId": "sales",
  "goals": [
    {"id": "budget", "priority": "critical", "dataToCapture": {"fields": ["budget"]}}
  ]
}`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParse_YAML(t *testing.T) {
	cfg, err := Parse([]byte(acmeYAML), "yaml")
	require.NoError(t, err)
	require.Len(t, cfg.Goals, 2)

	contact := cfg.Goals[0]
	require.Len(t, contact.DataToCapture.Fields, 2)
	assert.True(t, contact.DataToCapture.Fields[0].Required)
	assert.False(t, contact.DataToCapture.Fields[1].Required)
	assert.Equal(t, 1, contact.EffectiveOrder())
	assert.Equal(t, []string{"contact"}, cfg.Goals[1].Triggers.PrerequisiteGoals)
	assert.Equal(t, 2, cfg.GlobalSettings.MaxGoalsPerTurn)
}

func TestParse_JSON(t *testing.T) {
	cfg, err := Parse([]byte(acmeSalesJSON), "json")
	require.NoError(t, err)
	assert.Equal(t, "sales", cfg.PersonaID)
	assert.Equal(t, models.PriorityCritical, cfg.Goals[0].Priority)
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		format string
	}{
		{"unknown format", "{}", "toml"},
		{"unknown field", `{"goals": [], "bogus": 1}`, "json"},
		{"missing goal id", `{"goals": [{"name": "x"}]}`, "json"},
		{"bad priority", `{"goals": [{"id": "a", "priority": "urgent"}]}`, "json"},
		{"adherence out of range", `{"goals": [{"id": "a", "adherence": 11}]}`, "json"},
		{"duplicate ids", `{"goals": [{"id": "a"}, {"id": "a"}]}`, "json"},
		{"unknown primary", `{"goals": [{"id": "a"}], "primaryGoal": "b"}`, "json"},
		{"bad timezone", `{"goals": [], "timezone": "Mars/Olympus"}`, "json"},
		{"bad business hours", `{"goals": [], "businessHours": {"funday": [{"from": "09:00", "to": "10:00"}]}}`, "json"},
		{"strict ordering out of range", "goals: []\nglobalSettings:\n  strictOrdering: 11\n", "yaml"},
		{"inverted timing", `{"goals": [{"id": "a", "timing": {"minMessages": 5, "maxMessages": 2}}]}`, "json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data), tt.format)
			assert.Error(t, err)
		})
	}
}

func TestStaticSource(t *testing.T) {
	def := &models.GoalConfiguration{TenantID: "acme"}
	sales := &models.GoalConfiguration{TenantID: "acme", PersonaID: "sales"}
	src := NewStaticSource(def, sales)
	ctx := context.Background()

	got, err := src.Get(ctx, "acme", "sales")
	require.NoError(t, err)
	assert.Same(t, sales, got)

	got, err = src.Get(ctx, "acme", "support")
	require.NoError(t, err)
	assert.Same(t, def, got)

	_, err = src.Get(ctx, "globex", "")
	assert.ErrorIs(t, err, ErrCatalogNotFound)
}

func TestFileSource_LoadAndFallback(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "acme.yaml", acmeYAML)
	writeFile(t, dir, "acme-sales.json", acmeSalesJSON)
	writeFile(t, dir, "notes.txt", "ignored")
	writeFile(t, dir, "globex.yml", "goals:\n  - id: hello\n")

	fs, err := NewFileSource(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"acme/", "acme/sales", "globex/"}, fs.Keys())

	ctx := context.Background()
	cfg, err := fs.Get(ctx, "acme", "sales")
	require.NoError(t, err)
	assert.Equal(t, "budget", cfg.Goals[0].ID)

	cfg, err = fs.Get(ctx, "acme", "")
	require.NoError(t, err)
	assert.Equal(t, "contact", cfg.Goals[0].ID)

	cfg, err = fs.Get(ctx, "globex", "any")
	require.NoError(t, err)
	assert.Equal(t, "globex", cfg.TenantID, "tenant taken from file name")

	_, err = fs.Get(ctx, "initech", "")
	assert.ErrorIs(t, err, ErrCatalogNotFound)
}

func TestFileSource_ReloadKeepsPreviousOnError(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "acme.yaml", acmeYAML)
	fs, err := NewFileSource(dir)
	require.NoError(t, err)

	writeFile(t, dir, "acme.yaml", "goals: [{id: a}, {id: a}]\n")
	assert.Error(t, fs.Reload())
	cfg, err := fs.Get(context.Background(), "acme", "")
	require.NoError(t, err)
	assert.Equal(t, "contact", cfg.Goals[0].ID)

	require.NoError(t, os.Remove(path))
	require.NoError(t, fs.Reload())
	_, err = fs.Get(context.Background(), "acme", "")
	assert.ErrorIs(t, err, ErrCatalogNotFound)
}

func TestFileSource_DuplicateKey(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.json", acmeSalesJSON)
	writeFile(t, dir, "b.json", acmeSalesJSON)
	_, err := NewFileSource(dir)
	assert.Error(t, err)
}

func TestNewFileSource_MissingDir(t *testing.T) {
	_, err := NewFileSource(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestFileSource_Watch(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "acme.yaml", acmeYAML)
	fs, err := NewFileSource(dir)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	reloaded := make(chan error, 4)
	require.NoError(t, fs.Watch(ctx, 20*time.Millisecond, func(err error) {
		select {
		case reloaded <- err:
		default:
		}
	}))

	writeFile(t, dir, "globex.yaml", "goals:\n  - id: hello\n")

	select {
	case <-reloaded:
	case <-time.After(5 * time.Second):
		t.Fatal("catalog was not reloaded")
	}
	assert.Eventually(t, func() bool {
		_, err := fs.Get(context.Background(), "globex", "")
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)
}
