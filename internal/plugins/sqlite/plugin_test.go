package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"kactivitymanagerd/internal/activities"
	"kactivitymanagerd/internal/logging"
	"kactivitymanagerd/internal/modules"
	"kactivitymanagerd/internal/plugins"
	"kactivitymanagerd/internal/resources"
	"kactivitymanagerd/internal/testsupport"
)

func TestPluginRecordsResourceAndActivityEvents(t *testing.T) {
	registry := testsupport.StartModules(t, activities.Factory(), resources.Factory())
	dataDir := t.TempDir()
	ctx := context.Background()

	p := New(Options{})
	require.NoError(t, plugins.Init(p, plugins.Env{Modules: registry, Logger: logging.NewNop(), DataDir: dataDir}))
	t.Cleanup(func() { _ = p.Close() })
	require.Equal(t, filepath.Join(dataDir, DatabaseFile), p.Store().Path())

	scorer, err := modules.Lookup[*resources.Scorer](registry, resources.ModuleName)
	require.NoError(t, err)
	manager, err := modules.Lookup[*activities.Manager](registry, activities.ModuleName)
	require.NoError(t, err)

	require.NoError(t, scorer.Record(ctx, resources.Event{Application: "dolphin", URI: "file:///home", Type: resources.Opened}))
	require.NoError(t, scorer.Record(ctx, resources.Event{Application: "dolphin", URI: "file:///tmp", Type: resources.Accessed}))
	workID, err := manager.Add(ctx, "Work")
	require.NoError(t, err)

	require.NoError(t, p.Flush(ctx))

	count, err := p.Store().CountResourceEvents(ctx, manager.Current())
	require.NoError(t, err)
	require.Equal(t, 2, count)

	known, err := p.Store().KnownActivities(ctx)
	require.NoError(t, err)
	require.Equal(t, "Work", known[workID])
	require.Equal(t, activities.DefaultActivityName, known[manager.Current()])
}

func TestPluginStopsRecordingAfterClose(t *testing.T) {
	registry := testsupport.StartModules(t, activities.Factory(), resources.Factory())
	ctx := context.Background()
	dataDir := t.TempDir()

	p := New(Options{})
	require.NoError(t, plugins.Init(p, plugins.Env{Modules: registry, DataDir: dataDir}))
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	scorer, err := modules.Lookup[*resources.Scorer](registry, resources.ModuleName)
	require.NoError(t, err)
	require.NoError(t, scorer.Record(ctx, resources.Event{URI: "file:///late"}))

	store, err := Open(ctx, dataDir)
	require.NoError(t, err)
	defer store.Close()
	count, err := store.CountResourceEvents(ctx, "")
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestPruneRemovesEventsOutsideRetention(t *testing.T) {
	registry := testsupport.StartModules(t, activities.Factory(), resources.Factory())
	ctx := context.Background()

	p := New(Options{RetentionDays: 30})
	require.NoError(t, plugins.Init(p, plugins.Env{Modules: registry, DataDir: t.TempDir()}))
	t.Cleanup(func() { _ = p.Close() })

	now := time.Now()
	require.NoError(t, p.Store().RecordResourceEvent(ctx, resources.Event{Activity: "a", URI: "old", Timestamp: now.AddDate(0, 0, -45)}))
	require.NoError(t, p.Store().RecordResourceEvent(ctx, resources.Event{Activity: "a", URI: "new", Timestamp: now.AddDate(0, 0, -5)}))

	removed, err := p.Prune(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, removed)

	count, err := p.Store().CountResourceEvents(ctx, "a")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestInitRejectsBadSchedule(t *testing.T) {
	p := New(Options{PruneSchedule: "not a schedule", RetentionDays: 1})
	err := plugins.Init(p, plugins.Env{Modules: testsupport.StartModules(t, activities.Factory(), resources.Factory()), DataDir: t.TempDir()})
	require.Error(t, err)
	require.NoError(t, p.Close())
}

func TestMigrationsAreIdempotent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	first, err := Open(ctx, dir)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := Open(ctx, dir)
	require.NoError(t, err)
	require.NoError(t, second.Close())
}

func TestBuiltinUsesCoreIdentifier(t *testing.T) {
	builtin := Builtin(Options{})
	require.Equal(t, plugins.SQLiteID, builtin.ID)
	require.NotNil(t, builtin.New())
}
