package modules_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"kactivitymanagerd/internal/modules"
)

func TestSubscribersNotifyInOrderAndRemove(t *testing.T) {
	var subs modules.Subscribers[int]
	var got []string

	removeFirst := subs.Add(func(v int) { got = append(got, "first") })
	subs.Add(func(v int) { got = append(got, "second") })
	require.Equal(t, 2, subs.Len())

	subs.Notify(1)
	removeFirst()
	subs.Notify(2)

	require.Equal(t, []string{"first", "second", "second"}, got)
	require.Equal(t, 1, subs.Len())
}
