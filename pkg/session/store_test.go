package session

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGetOrCreateStartsAtNew(t *testing.T) {
	st := NewStore(8, 0)
	sess := st.GetOrCreate("521000")
	require.Equal(t, StageNew, sess.Stage)
	require.Equal(t, "521000", sess.SenderID)
}

func TestGetOrCreateReturnsCopies(t *testing.T) {
	st := NewStore(8, 0)
	a := st.GetOrCreate("521000")
	a.Stage = StageEscalated

	b := st.GetOrCreate("521000")
	require.Equal(t, StageNew, b.Stage, "mutating a returned session must not touch the store")
}

func TestCommitMarksSeenAtomically(t *testing.T) {
	st := NewStore(8, 0)
	sess := st.GetOrCreate("521000")

	require.False(t, st.HasSeen("521000", "wamid.1"))

	next := sess.Clone()
	next.Stage = StageMenuRoot
	require.NoError(t, st.Commit("521000", StageNew, next, "wamid.1"))

	require.True(t, st.HasSeen("521000", "wamid.1"))
	got, ok := st.Snapshot("521000")
	require.True(t, ok)
	require.Equal(t, StageMenuRoot, got.Stage)
}

func TestCommitStageConflict(t *testing.T) {
	st := NewStore(8, 0)
	sess := st.GetOrCreate("521000")

	first := sess.Clone()
	first.Stage = StageMenuRoot
	require.NoError(t, st.Commit("521000", StageNew, first, "wamid.1"))

	// A second commit still expecting NEW must fail and change nothing.
	stale := sess.Clone()
	stale.Stage = StageEscalated
	err := st.Commit("521000", StageNew, stale, "wamid.2")
	require.ErrorIs(t, err, ErrStageConflict)

	got, _ := st.Snapshot("521000")
	require.Equal(t, StageMenuRoot, got.Stage)
	require.False(t, st.HasSeen("521000", "wamid.2"))
}

func TestDedupWindowEvictsOldest(t *testing.T) {
	st := NewStore(3, 0)
	st.GetOrCreate("521000")

	for i := 0; i < 4; i++ {
		sess, _ := st.Snapshot("521000")
		require.NoError(t, st.Commit("521000", sess.Stage, sess, fmt.Sprintf("wamid.%d", i)))
	}

	require.False(t, st.HasSeen("521000", "wamid.0"), "oldest id should be evicted")
	require.True(t, st.HasSeen("521000", "wamid.1"))
	require.True(t, st.HasSeen("521000", "wamid.3"))
}

func TestLRUEviction(t *testing.T) {
	st := NewStore(8, 2)
	sh := st.shardFor("a")

	// Pick sender ids that land on one shard so the bound applies.
	var ids []string
	for i := 0; len(ids) < 3; i++ {
		id := fmt.Sprintf("sender-%d", i)
		if st.shardFor(id) == sh {
			ids = append(ids, id)
		}
	}

	st.GetOrCreate(ids[0])
	st.GetOrCreate(ids[1])
	st.GetOrCreate(ids[2]) // evicts ids[0]

	_, ok := st.Snapshot(ids[0])
	require.False(t, ok)
	_, ok = st.Snapshot(ids[2])
	require.True(t, ok)
}

func TestExpireEscalations(t *testing.T) {
	st := NewStore(8, 0)

	sess := st.GetOrCreate("521000")
	sess.Stage = StageEscalated
	sess.EscalatedAt = time.Now().Add(-time.Hour)
	require.NoError(t, st.Commit("521000", StageNew, sess, ""))

	fresh := st.GetOrCreate("521001")
	fresh.Stage = StageEscalated
	fresh.EscalatedAt = time.Now()
	require.NoError(t, st.Commit("521001", StageNew, fresh, ""))

	expired := st.ExpireEscalations(time.Now().Add(-30 * time.Minute))
	require.Equal(t, []string{"521000"}, expired)

	got, _ := st.Snapshot("521000")
	require.Equal(t, StageMenuRoot, got.Stage)
	got, _ = st.Snapshot("521001")
	require.Equal(t, StageEscalated, got.Stage)
}

func TestConcurrentDistinctSenders(t *testing.T) {
	st := NewStore(8, 0)
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			sender := fmt.Sprintf("sender-%d", n)
			for j := 0; j < 50; j++ {
				sess := st.GetOrCreate(sender)
				next := sess.Clone()
				next.Stage = StageMenuRoot
				next.LastActiveAt = time.Now()
				_ = st.Commit(sender, sess.Stage, next, fmt.Sprintf("wamid.%d.%d", n, j))
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < 64; i++ {
		got, ok := st.Snapshot(fmt.Sprintf("sender-%d", i))
		require.True(t, ok)
		require.Equal(t, StageMenuRoot, got.Stage)
	}
}
