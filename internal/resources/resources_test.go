package resources_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"kactivitymanagerd/internal/activities"
	"kactivitymanagerd/internal/logging"
	"kactivitymanagerd/internal/modules"
	"kactivitymanagerd/internal/resources"
)

func start(t *testing.T) (*activities.Manager, *resources.Scorer) {
	t.Helper()
	host := modules.NewHost(logging.NewNop(), time.Second)
	t.Cleanup(func() { _ = host.Shutdown() })
	registry, err := host.Start(context.Background(), []modules.Factory{activities.Factory(), resources.Factory()})
	require.NoError(t, err)
	manager, err := modules.Lookup[*activities.Manager](registry, activities.ModuleName)
	require.NoError(t, err)
	scorer, err := modules.Lookup[*resources.Scorer](registry, resources.ModuleName)
	require.NoError(t, err)
	return manager, scorer
}

func TestFactoryRequiresActivities(t *testing.T) {
	host := modules.NewHost(logging.NewNop(), time.Second)
	_, err := host.Start(context.Background(), []modules.Factory{resources.Factory()})
	require.ErrorIs(t, err, modules.ErrModuleNotFound)
}

func TestRecordTagsCurrentActivity(t *testing.T) {
	manager, scorer := start(t)
	ctx := context.Background()

	var got []resources.Event
	scorer.Subscribe(func(evt resources.Event) { got = append(got, evt) })

	require.NoError(t, scorer.Record(ctx, resources.Event{Application: "okular", URI: "file:///a.pdf", Type: resources.Opened}))
	require.NoError(t, scorer.Record(ctx, resources.Event{Application: "okular", URI: "file:///a.pdf", Type: resources.Accessed}))
	require.NoError(t, scorer.Record(ctx, resources.Event{Application: "kate", URI: "file:///b.txt", Type: resources.Opened}))
	require.NoError(t, scorer.Record(ctx, resources.Event{Application: "kate", URI: "file:///b.txt", Type: resources.Closed}))

	require.Len(t, got, 4)
	for _, evt := range got {
		require.Equal(t, manager.Current(), evt.Activity)
		require.False(t, evt.Timestamp.IsZero())
	}

	top := scorer.Top(manager.Current(), 10)
	require.Len(t, top, 2)
	require.Equal(t, "file:///a.pdf", top[0].URI)
	require.Equal(t, 2, top[0].Count)
	require.Equal(t, 1, top[1].Count)

	require.Len(t, scorer.Top(manager.Current(), 1), 1)
}

func TestRecordRejectsEmptyURI(t *testing.T) {
	_, scorer := start(t)
	require.Error(t, scorer.Record(context.Background(), resources.Event{URI: " "}))
}

func TestForgetDropsActivityUsage(t *testing.T) {
	manager, scorer := start(t)
	ctx := context.Background()
	require.NoError(t, scorer.Record(ctx, resources.Event{URI: "https://kde.org"}))
	require.NoError(t, scorer.Forget(ctx, manager.Current()))
	require.Empty(t, scorer.Top(manager.Current(), 0))
}

func TestParseEventTypeRoundTrip(t *testing.T) {
	kind, ok := resources.ParseEventType("focused_in")
	require.True(t, ok)
	require.Equal(t, resources.FocusedIn, kind)
	_, ok = resources.ParseEventType("teleported")
	require.False(t, ok)
}
