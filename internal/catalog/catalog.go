// Package catalog loads tenant goal catalogs from YAML or JSON files and serves them by
// tenant and persona.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/scheduling"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrCatalogNotFound is returned when no catalog exists for a tenant persona.
var ErrCatalogNotFound = errors.New("goal catalog not found")

// Source returns the goal catalog of a tenant persona.
type Source interface {
	Get(ctx context.Context, tenantID, personaID string) (*models.GoalConfiguration, error)
}

var validate = validator.New()

// key identifies a catalog. An empty persona is the tenant default.
func key(tenantID, personaID string) string {
	return tenantID + "/" + personaID
}

// Validate checks the struct tags of cfg and the cross-field rules the tags cannot
// express. Unknown goal references are left for the orchestrator to sanitize.
func Validate(cfg *models.GoalConfiguration) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid goal catalog: %w", err)
	}
	seen := make(map[string]bool, len(cfg.Goals))
	for _, g := range cfg.Goals {
		if seen[g.ID] {
			return fmt.Errorf("invalid goal catalog: duplicate goal id %q", g.ID)
		}
		seen[g.ID] = true
		if g.Timing != nil && g.Timing.MaxMessages > 0 && g.Timing.MaxMessages < g.Timing.MinMessages {
			return fmt.Errorf("invalid goal catalog: goal %q has maxMessages below minMessages", g.ID)
		}
	}
	if cfg.PrimaryGoal != "" && !seen[cfg.PrimaryGoal] {
		return fmt.Errorf("invalid goal catalog: primary goal %q is not in the catalog", cfg.PrimaryGoal)
	}
	if cfg.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Timezone); err != nil {
			return fmt.Errorf("invalid goal catalog: timezone %q: %w", cfg.Timezone, err)
		}
	}
	if _, err := scheduling.ParseBusinessHours(cfg.BusinessHours); err != nil {
		return fmt.Errorf("invalid goal catalog: %w", err)
	}
	return nil
}

// Parse decodes a catalog. format is "json" or "yaml".
func Parse(data []byte, format string) (*models.GoalConfiguration, error) {
	var cfg models.GoalConfiguration
	switch format {
	case "json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("decode json catalog: %w", err)
		}
	case "yaml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("decode yaml catalog: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported catalog format %q", format)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func formatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return "json"
	case ".yaml", ".yml":
		return "yaml"
	default:
		return ""
	}
}

// StaticSource serves catalogs held in memory.
type StaticSource struct {
	mu       sync.RWMutex
	catalogs map[string]*models.GoalConfiguration
}

// NewStaticSource creates a StaticSource. Each catalog is keyed by its own TenantID and PersonaID.
func NewStaticSource(cfgs ...*models.GoalConfiguration) *StaticSource {
	s := &StaticSource{catalogs: make(map[string]*models.GoalConfiguration)}
	for _, c := range cfgs {
		s.Put(c)
	}
	return s
}

// Put adds or replaces a catalog.
func (s *StaticSource) Put(cfg *models.GoalConfiguration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalogs[key(cfg.TenantID, cfg.PersonaID)] = cfg
}

// Get returns the persona catalog, falling back to the tenant default.
func (s *StaticSource) Get(_ context.Context, tenantID, personaID string) (*models.GoalConfiguration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lookup(s.catalogs, tenantID, personaID)
}

func lookup(m map[string]*models.GoalConfiguration, tenantID, personaID string) (*models.GoalConfiguration, error) {
	if c, ok := m[key(tenantID, personaID)]; ok {
		return c, nil
	}
	if personaID != "" {
		if c, ok := m[key(tenantID, "")]; ok {
			return c, nil
		}
	}
	return nil, fmt.Errorf("%w: tenant %q persona %q", ErrCatalogNotFound, tenantID, personaID)
}

// FileSource serves catalogs read from a directory. Each file holds one catalog; a
// file without tenantId takes the tenant from its base name.
type FileSource struct {
	dir string

	mu       sync.RWMutex
	catalogs map[string]*models.GoalConfiguration
	files    map[string]string // path -> key
}

// NewFileSource loads every catalog under dir.
func NewFileSource(dir string) (*FileSource, error) {
	fs := &FileSource{
		dir:      dir,
		catalogs: make(map[string]*models.GoalConfiguration),
		files:    make(map[string]string),
	}
	if err := fs.Reload(); err != nil {
		return nil, err
	}
	return fs, nil
}

// Dir returns the watched directory.
func (fs *FileSource) Dir() string { return fs.dir }

// Get returns the persona catalog, falling back to the tenant default.
func (fs *FileSource) Get(_ context.Context, tenantID, personaID string) (*models.GoalConfiguration, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return lookup(fs.catalogs, tenantID, personaID)
}

// Keys returns the loaded catalog keys in sorted order.
func (fs *FileSource) Keys() []string {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	keys := make([]string, 0, len(fs.catalogs))
	for k := range fs.catalogs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func loadFile(path string) (*models.GoalConfiguration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(data, formatOf(path))
	if err != nil {
		return nil, err
	}
	if cfg.TenantID == "" {
		cfg.TenantID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return cfg, nil
}

// Reload rereads the directory. A file that fails to load keeps its previously loaded
// catalog; removed files drop theirs. It returns the joined load errors.
func (fs *FileSource) Reload() error {
	entries, err := os.ReadDir(fs.dir)
	if err != nil {
		return fmt.Errorf("read catalog dir %s: %w", fs.dir, err)
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	catalogs := make(map[string]*models.GoalConfiguration, len(fs.catalogs))
	files := make(map[string]string, len(fs.files))
	var errs []error
	for _, e := range entries {
		if e.IsDir() || formatOf(e.Name()) == "" {
			continue
		}
		path := filepath.Join(fs.dir, e.Name())
		cfg, err := loadFile(path)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.Name(), err))
			if k, ok := fs.files[path]; ok {
				catalogs[k] = fs.catalogs[k]
				files[path] = k
				slog.Warn("FileSource.Reload: keeping previous catalog", "file", e.Name(), "error", err)
			} else {
				slog.Error("FileSource.Reload: failed to load catalog", "file", e.Name(), "error", err)
			}
			continue
		}
		k := key(cfg.TenantID, cfg.PersonaID)
		if other, dup := findPath(files, k); dup {
			errs = append(errs, fmt.Errorf("%s: catalog %s already defined by %s", e.Name(), k, filepath.Base(other)))
			continue
		}
		catalogs[k] = cfg
		files[path] = k
	}
	fs.catalogs = catalogs
	fs.files = files
	slog.Info("FileSource.Reload: catalogs loaded", "dir", fs.dir, "count", len(catalogs), "errors", len(errs))
	return errors.Join(errs...)
}

func findPath(files map[string]string, k string) (string, bool) {
	for p, fk := range files {
		if fk == k {
			return p, true
		}
	}
	return "", false
}
