package fieldtrack_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/fieldtrack"
	"github.com/sells-group/fieldtrack/internal/config"
	"github.com/sells-group/fieldtrack/internal/source"
	"github.com/sells-group/fieldtrack/internal/store"
)

type contact struct {
	id     string
	fields map[string]any
	health int
}

func (c *contact) Ref() fieldtrack.Ref  { return fieldtrack.NewRef("contact", c.id) }
func (c *contact) Get(field string) any { return c.fields[field] }
func (c *contact) Set(field string, v any) error {
	c.fields[field] = v
	return nil
}
func (c *contact) CachedHealth() int     { return c.health }
func (c *contact) SetCachedHealth(h int) { c.health = h }

type contacts struct {
	mu   sync.Mutex
	now  func() time.Time
	next int
	rows map[string]map[string]any
}

func (s *contacts) Save(_ context.Context, e fieldtrack.Entity) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := e.(*contact)
	if c.id == "" {
		s.next++
		c.id = fmt.Sprintf("c-%d", s.next)
	}
	row := make(map[string]any, len(c.fields))
	for k, v := range c.fields {
		row[k] = v
	}
	s.rows[c.id] = row
	return s.now(), nil
}

func (s *contacts) Delete(_ context.Context, ref fieldtrack.Ref) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, ref.ID)
	return nil
}

const declarations = `
entities:
  contact:
    - name: name
      weight: 90
      max_age: 30
    - name: email
      weight: 50
`

func testConfig(t *testing.T, driver string) *fieldtrack.Config {
	t.Helper()
	dir := t.TempDir()
	specs := filepath.Join(dir, "fields.yaml")
	require.NoError(t, os.WriteFile(specs, []byte(declarations), 0o600))
	return &fieldtrack.Config{
		Store:    config.StoreConfig{Driver: driver, DatabaseURL: filepath.Join(dir, "changes.db")},
		Tracking: config.TrackingConfig{SpecsPath: specs, ConfidenceMode: "live", ReportConcurrency: 2},
		Retry:    config.RetryConfig{MaxAttempts: 2, InitialBackoffMs: 1, MaxBackoffMs: 2},
	}
}

func TestOpen_EndToEnd(t *testing.T) {
	for _, driver := range []string{"memory", "sqlite"} {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			now := time.Date(2026, 1, 15, 8, 0, 0, 0, time.UTC)
			clock := func() time.Time { return now }

			sources := source.NewDirectory()
			admin := fieldtrack.NewRef("admin_user", "7")
			sources.Put(admin, 100)

			people := &contacts{now: clock, rows: map[string]map[string]any{}}
			sys, err := fieldtrack.Open(ctx, testConfig(t, driver), people,
				fieldtrack.WithResolver(sources),
				fieldtrack.WithClock(clock),
			)
			require.NoError(t, err)
			defer sys.Close() //nolint:errcheck

			spec := sys.Registry.Spec("contact", "email")
			require.NotNil(t, spec)
			assert.Equal(t, 50, spec.Weight)
			assert.Equal(t, float64(365), spec.MaxAge)

			c := &contact{fields: map[string]any{}}
			m := sys.Tracker.Mutate(c)
			require.NoError(t, m.Set("name", "Ada Lovelace"))
			require.NoError(t, m.Set("email", "ada@example.com"))
			_, err = m.Commit(ctx)
			require.NoError(t, err)

			_, err = sys.Tracker.ConfirmAllFields(ctx, c, &admin)
			require.NoError(t, err)

			report, err := sys.Engine.Report(ctx, c)
			require.NoError(t, err)
			for _, fs := range report.Fields {
				assert.Equal(t, 100, fs.Freshness, fs.Field)
				assert.Equal(t, 100, fs.Confidence, fs.Field)
				assert.Equal(t, 100, fs.Health, fs.Field)
			}
			assert.Equal(t, 70, report.Importance)
			assert.Equal(t, 142, report.Overall)

			require.NoError(t, sys.Tracker.Delete(ctx, c))
			for _, field := range []string{"name", "email"} {
				recs, err := sys.Changes.AllFor(ctx, c.Ref(), field)
				require.NoError(t, err)
				assert.Empty(t, recs)
			}
		})
	}
}

func TestOpen_Errors(t *testing.T) {
	ctx := context.Background()
	people := &contacts{now: time.Now, rows: map[string]map[string]any{}}

	_, err := fieldtrack.Open(ctx, nil, people)
	require.Error(t, err)

	cfg := testConfig(t, "memory")
	cfg.Store.Driver = "mongo"
	_, err = fieldtrack.Open(ctx, cfg, people)
	require.Error(t, err)

	cfg = testConfig(t, "memory")
	cfg.Tracking.SpecsPath = ""
	_, err = fieldtrack.Open(ctx, cfg, people)
	require.Error(t, err)
	var ce *fieldtrack.ConfigurationError
	assert.ErrorAs(t, err, &ce)

	cfg = testConfig(t, "memory")
	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("entities:\n  contact:\n    - name: name\n      weight: 120\n"), 0o600))
	cfg.Tracking.SpecsPath = bad
	_, err = fieldtrack.Open(ctx, cfg, people)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "weight 120")
}

func TestOpen_AppliesLogConfig(t *testing.T) {
	prev := zap.L()
	t.Cleanup(func() { zap.ReplaceGlobals(prev) })
	ctx := context.Background()
	people := &contacts{now: time.Now, rows: map[string]map[string]any{}}

	cfg := testConfig(t, "memory")
	cfg.Log = config.LogConfig{Level: "warn", Format: "json"}
	sys, err := fieldtrack.Open(ctx, cfg, people)
	require.NoError(t, err)
	require.NoError(t, sys.Close())
	assert.False(t, zap.L().Core().Enabled(zapcore.InfoLevel))
	assert.True(t, zap.L().Core().Enabled(zapcore.WarnLevel))

	cfg = testConfig(t, "memory")
	cfg.Log = config.LogConfig{Level: "loud"}
	_, err = fieldtrack.Open(ctx, cfg, people)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse log level")
}

func TestOpen_WithRegistryAndChangeLog(t *testing.T) {
	ctx := context.Background()
	reg := fieldtrack.NewRegistry()
	require.NoError(t, reg.Register("account", fieldtrack.FieldSpec{Name: "plan", Weight: 60, MaxAge: 90}))
	changes := store.NewMemory()

	cfg := testConfig(t, "memory")
	cfg.Tracking.SpecsPath = ""
	sys, err := fieldtrack.Open(ctx, cfg, &contacts{now: time.Now, rows: map[string]map[string]any{}},
		fieldtrack.WithRegistry(reg),
		fieldtrack.WithChangeLog(changes),
	)
	require.NoError(t, err)
	require.NoError(t, sys.Close())
	assert.Same(t, changes, sys.Changes)

	imp, err := sys.Engine.ObjectImportance("account")
	require.NoError(t, err)
	assert.Equal(t, 60, imp)

	_, err = sys.Engine.ObjectImportance("contact")
	assert.True(t, eris.Is(err, fieldtrack.ErrDegenerateAggregate))
}

func ExampleOpen() {
	ctx := context.Background()
	now := time.Date(2026, 1, 15, 8, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	reg := fieldtrack.NewRegistry()
	name, _ := fieldtrack.NewFieldSpec("name", fieldtrack.WithWeight(90), fieldtrack.WithMaxAge(30))
	email, _ := fieldtrack.NewFieldSpec("email", fieldtrack.WithWeight(50))
	reg.MustRegister("contact", name, email)

	sources := source.NewDirectory()
	crawler := fieldtrack.NewRef("crawler", "linkedin")
	sources.Put(crawler, 40)

	cfg := &fieldtrack.Config{Store: config.StoreConfig{Driver: "memory"}}
	sys, err := fieldtrack.Open(ctx, cfg, &contacts{now: clock, rows: map[string]map[string]any{}},
		fieldtrack.WithRegistry(reg),
		fieldtrack.WithResolver(sources),
		fieldtrack.WithClock(clock),
	)
	if err != nil {
		fmt.Println(err)
		return
	}
	defer sys.Close() //nolint:errcheck

	c := &contact{fields: map[string]any{}}
	m := sys.Tracker.Mutate(c).Source(&crawler)
	_ = m.Set("name", "Ada Lovelace")
	_ = m.Set("nickname", "Ada")
	recs, _ := m.Commit(ctx)

	conf, _ := sys.Engine.Confidence(ctx, c, "name")
	fresh, _ := sys.Engine.Freshness(ctx, c, "name")
	fmt.Println(len(recs), conf, fresh)
	// Output: 1 40 100
}
