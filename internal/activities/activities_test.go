package activities_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"kactivitymanagerd/internal/activities"
	"kactivitymanagerd/internal/logging"
	"kactivitymanagerd/internal/modules"
)

func startManager(t *testing.T) *activities.Manager {
	t.Helper()
	host := modules.NewHost(logging.NewNop(), time.Second)
	t.Cleanup(func() { _ = host.Shutdown() })
	registry, err := host.Start(context.Background(), []modules.Factory{activities.Factory()})
	require.NoError(t, err)
	manager, err := modules.Lookup[*activities.Manager](registry, activities.ModuleName)
	require.NoError(t, err)
	return manager
}

func TestStartCreatesDefaultActivity(t *testing.T) {
	manager := startManager(t)

	list := manager.List()
	require.Len(t, list, 1)
	require.Equal(t, activities.DefaultActivityName, list[0].Name)
	require.Equal(t, list[0].ID, manager.Current())
	require.Equal(t, activities.StateRunning, list[0].State)
}

func TestSwitchingNotifiesSubscribers(t *testing.T) {
	manager := startManager(t)
	ctx := context.Background()

	var mu sync.Mutex
	var kinds []activities.EventKind
	manager.Subscribe(func(evt activities.Event) {
		mu.Lock()
		defer mu.Unlock()
		kinds = append(kinds, evt.Kind)
	})

	id, err := manager.Add(ctx, "Work")
	require.NoError(t, err)
	require.NoError(t, manager.SetCurrent(ctx, id))
	require.Equal(t, id, manager.Current())

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []activities.EventKind{activities.EventAdded, activities.EventCurrentChanged}, kinds)
}

func TestStoppingCurrentMovesToNextRunning(t *testing.T) {
	manager := startManager(t)
	ctx := context.Background()
	first := manager.Current()

	second, err := manager.Add(ctx, "Research")
	require.NoError(t, err)
	require.NoError(t, manager.StopActivity(ctx, first))

	require.Equal(t, second, manager.Current())
	activity, ok := manager.Get(first)
	require.True(t, ok)
	require.Equal(t, activities.StateStopped, activity.State)

	require.NoError(t, manager.StartActivity(ctx, first))
	activity, _ = manager.Get(first)
	require.Equal(t, activities.StateRunning, activity.State)
}

func TestRemoveRules(t *testing.T) {
	manager := startManager(t)
	ctx := context.Background()
	first := manager.Current()

	require.ErrorIs(t, manager.Remove(ctx, first), activities.ErrLastActive)
	require.ErrorIs(t, manager.Remove(ctx, "missing"), activities.ErrNotFound)
	require.ErrorIs(t, manager.SetCurrent(ctx, "missing"), activities.ErrNotFound)

	second, err := manager.Add(ctx, "Travel")
	require.NoError(t, err)
	require.NoError(t, manager.Remove(ctx, first))
	require.Equal(t, second, manager.Current())
	require.Len(t, manager.List(), 1)
}

func TestAddRejectsBlankName(t *testing.T) {
	manager := startManager(t)
	_, err := manager.Add(context.Background(), "  ")
	require.Error(t, err)
}
