package slc_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"kactivitymanagerd/internal/activities"
	"kactivitymanagerd/internal/features"
	"kactivitymanagerd/internal/modules"
	"kactivitymanagerd/internal/plugins"
	"kactivitymanagerd/internal/plugins/slc"
	"kactivitymanagerd/internal/resources"
	"kactivitymanagerd/internal/testsupport"
)

func TestPublishesFocusedResourcePerActivity(t *testing.T) {
	registry := testsupport.StartModules(t, activities.Factory(), resources.Factory(), features.Factory())

	p := slc.New()
	require.NoError(t, plugins.Init(p, plugins.Env{Modules: registry}))
	t.Cleanup(func() { _ = p.Close() })

	scorer, _ := modules.Lookup[*resources.Scorer](registry, resources.ModuleName)
	manager, _ := modules.Lookup[*activities.Manager](registry, activities.ModuleName)
	reg, _ := modules.Lookup[*features.Registry](registry, features.ModuleName)
	activity := manager.Current()
	ctx := context.Background()

	require.NoError(t, scorer.Record(ctx, resources.Event{URI: "file:///a.txt", Type: resources.FocusedIn}))
	require.Eventually(t, func() bool {
		value, ok := reg.Get(slc.Key(activity))
		return ok && value == "file:///a.txt"
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, scorer.Record(ctx, resources.Event{URI: "file:///a.txt", Type: resources.Closed}))
	require.Eventually(t, func() bool {
		_, ok := reg.Get(slc.Key(activity))
		return !ok
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, p.Close())
	require.NoError(t, p.Close())
}

func TestInitRequiresFeatures(t *testing.T) {
	registry := testsupport.StartModules(t, activities.Factory(), resources.Factory())

	p := slc.New()
	require.ErrorIs(t, plugins.Init(p, plugins.Env{Modules: registry}), modules.ErrModuleNotFound)
	require.NoError(t, p.Close())
}
