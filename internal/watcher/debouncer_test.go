package watcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ev(path string, op Operation) FileEvent {
	return FileEvent{Path: path, Operation: op, Timestamp: time.Now()}
}

func TestMerge(t *testing.T) {
	tests := []struct {
		name   string
		prev   Operation
		next   Operation
		want   Operation
		wantOK bool
	}{
		{"create then modify stays create", OpCreate, OpModify, OpCreate, true},
		{"create then delete cancels", OpCreate, OpDelete, 0, false},
		{"create then rename cancels", OpCreate, OpRename, 0, false},
		{"modify then delete is delete", OpModify, OpDelete, OpDelete, true},
		{"delete then create is modify", OpDelete, OpCreate, OpModify, true},
		{"rename then create is modify", OpRename, OpCreate, OpModify, true},
		{"modify then modify is modify", OpModify, OpModify, OpModify, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := merge(ev("a.md", tt.prev), ev("a.md", tt.next))
			require.Equal(t, tt.wantOK, ok)
			if ok {
				assert.Equal(t, tt.want, got.Operation)
			}
		})
	}
}

func TestDebouncer_EmitsOneSortedBatch(t *testing.T) {
	// Given a debouncer with a short window
	d := NewDebouncer(30*time.Millisecond, 4)
	defer d.Stop()

	// When a burst of events arrives for several paths
	d.Add(ev("b.md", OpCreate))
	d.Add(ev("a.md", OpModify))
	d.Add(ev("b.md", OpModify))
	d.Add(ev("c.md", OpCreate))
	d.Add(ev("c.md", OpDelete))

	// Then one batch arrives, sorted, with per-path merging applied
	select {
	case batch := <-d.Output():
		require.Len(t, batch, 2)
		assert.Equal(t, "a.md", batch[0].Path)
		assert.Equal(t, OpModify, batch[0].Operation)
		assert.Equal(t, "b.md", batch[1].Path)
		assert.Equal(t, OpCreate, batch[1].Operation)
	case <-time.After(2 * time.Second):
		t.Fatal("no batch emitted")
	}
}

func TestDebouncer_StopClosesOutputAndIgnoresAdds(t *testing.T) {
	d := NewDebouncer(10*time.Millisecond, 1)
	d.Add(ev("a.md", OpCreate))

	d.Stop()
	d.Stop()
	d.Add(ev("b.md", OpCreate))

	_, open := <-d.Output()
	assert.False(t, open)
}
