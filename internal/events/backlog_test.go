package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seqs(events []Event) []uint64 {
	out := make([]uint64, 0, len(events))
	for _, e := range events {
		out = append(out, e.Seq)
	}
	return out
}

func fill(b *Backlog, n int) {
	for i := 0; i < n; i++ {
		b.Append(Event{Kind: KindView})
	}
}

func TestBacklog_AppendStampsSequence(t *testing.T) {
	b := NewBacklog(4)

	first := b.Append(Event{Kind: KindToast})
	second := b.Append(Event{Kind: KindView})

	assert.Equal(t, uint64(1), first.Seq)
	assert.Equal(t, uint64(2), second.Seq)
	assert.Equal(t, uint64(2), b.LastSeq())
}

func TestBacklog_Since(t *testing.T) {
	b := NewBacklog(4)
	fill(b, 3)

	assert.Equal(t, []uint64{1, 2, 3}, seqs(b.Since(0)))
	assert.Equal(t, []uint64{3}, seqs(b.Since(2)))
	assert.Nil(t, b.Since(3))
	assert.Nil(t, b.Since(100))
}

func TestBacklog_Empty(t *testing.T) {
	b := NewBacklog(4)
	assert.Nil(t, b.Since(0))
	assert.Equal(t, uint64(0), b.LastSeq())
}

func TestBacklog_WrapAround(t *testing.T) {
	b := NewBacklog(3)
	fill(b, 7)

	// Only 5, 6 and 7 are retained.
	assert.Equal(t, []uint64{5, 6, 7}, seqs(b.Since(0)))
	assert.Equal(t, []uint64{5, 6, 7}, seqs(b.Since(4)))
	assert.Equal(t, []uint64{6, 7}, seqs(b.Since(5)))
	assert.Equal(t, []uint64{7}, seqs(b.Since(6)))
}

func TestBacklog_PreservesPayload(t *testing.T) {
	b := NewBacklog(2)
	b.Append(Event{Kind: KindToast, DashboardID: "d1"})
	b.Append(Event{Kind: KindNavigate, DashboardID: "d1"})
	b.Append(Event{Kind: KindView, DashboardID: "d1"})

	got := b.Since(0)
	require.Len(t, got, 2)
	assert.Equal(t, KindNavigate, got[0].Kind)
	assert.Equal(t, KindView, got[1].Kind)
}

func TestBacklog_DefaultCapacity(t *testing.T) {
	b := NewBacklog(0)
	fill(b, DefaultBacklog+5)
	assert.Len(t, b.Since(0), DefaultBacklog)
}
