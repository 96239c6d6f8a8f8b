package eventlog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLog_RecordAndSnapshotOrdering(t *testing.T) {
	l := New()
	l.Record("cycle_started", nil)
	l.Record("signal_emitted", map[string]any{"type": "stale_goal"})

	snap := l.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "cycle_started", snap[0].Event)
	assert.Equal(t, "signal_emitted", snap[1].Event)
}

func TestLog_WrapsAtCapacity(t *testing.T) {
	l := New()
	for i := 0; i < Capacity+10; i++ {
		l.Record("event", map[string]any{"i": i})
	}
	snap := l.Snapshot()
	assert.Len(t, snap, Capacity)
	assert.Equal(t, 10, int(snap[0].Data["i"].(int)))
}

func TestMerge_DeduplicatesByEventAndTimestamp(t *testing.T) {
	shared := Event{Event: "cycle_started", TS: 1000}
	persisted := []Event{shared, {Event: "older", TS: 500}}
	live := []Event{shared, {Event: "newer", TS: 2000}}

	merged := Merge(persisted, live)
	require.Len(t, merged, 3)
	assert.Equal(t, "older", merged[0].Event)
	assert.Equal(t, "cycle_started", merged[1].Event)
	assert.Equal(t, "newer", merged[2].Event)
}

func TestMerge_CapsAtCapacity(t *testing.T) {
	persisted := make([]Event, 0, Capacity)
	for i := 0; i < Capacity; i++ {
		persisted = append(persisted, Event{Event: "p", TS: int64(i)})
	}
	live := []Event{{Event: "newest", TS: int64(Capacity + 1)}}

	merged := Merge(persisted, live)
	assert.Len(t, merged, Capacity)
	assert.Equal(t, "newest", merged[len(merged)-1].Event)
}
