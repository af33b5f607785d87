package session

import (
	"container/list"
	"errors"
	"hash/fnv"
	"sync"
	"time"
)

// ErrStageConflict means the stored stage no longer matches the stage the
// caller read before deciding. The caller should re-read and retry.
var ErrStageConflict = errors.New("session stage changed since read")

const shardCount = 32

// Store holds one session per sender across lock-sharded maps, so distinct
// senders never contend on a common lock. Each shard is LRU-bounded.
//
// The store guards map and record integrity; end-to-end serialization of a
// single sender's processing (dedup check through commit) is the
// dispatcher's per-sender actor. Together they make the check-then-commit
// window race-free.
type Store struct {
	shards      [shardCount]*shard
	dedupWindow int
	maxPerShard int
}

type shard struct {
	mu       sync.Mutex
	sessions map[string]*list.Element
	order    *list.List // front = most recently used
}

// NewStore creates a Store. dedupWindow is the per-sender message id
// capacity; maxPerShard bounds sessions kept per shard (0 disables
// eviction).
func NewStore(dedupWindow, maxPerShard int) *Store {
	if dedupWindow <= 0 {
		dedupWindow = 32
	}
	st := &Store{
		dedupWindow: dedupWindow,
		maxPerShard: maxPerShard,
	}
	for i := range st.shards {
		st.shards[i] = &shard{
			sessions: make(map[string]*list.Element),
			order:    list.New(),
		}
	}
	return st
}

func (st *Store) shardFor(senderID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(senderID))
	return st.shards[h.Sum32()%shardCount]
}

func (sh *shard) get(senderID string) *Session {
	elem, ok := sh.sessions[senderID]
	if !ok {
		return nil
	}
	sh.order.MoveToFront(elem)
	return elem.Value.(*Session)
}

func (sh *shard) put(sess *Session, maxPerShard int) {
	if elem, ok := sh.sessions[sess.SenderID]; ok {
		elem.Value = sess
		sh.order.MoveToFront(elem)
		return
	}
	sh.sessions[sess.SenderID] = sh.order.PushFront(sess)

	if maxPerShard > 0 {
		for sh.order.Len() > maxPerShard {
			oldest := sh.order.Back()
			if oldest == nil {
				break
			}
			sh.order.Remove(oldest)
			delete(sh.sessions, oldest.Value.(*Session).SenderID)
		}
	}
}

// GetOrCreate returns a copy of the sender's session, creating it at
// StageNew when absent.
func (st *Store) GetOrCreate(senderID string) *Session {
	sh := st.shardFor(senderID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if sess := sh.get(senderID); sess != nil {
		return sess.Clone()
	}

	sess := NewSession(senderID)
	sh.put(sess, st.maxPerShard)
	return sess.Clone()
}

// HasSeen reports whether messageID is inside the sender's dedup window.
func (st *Store) HasSeen(senderID, messageID string) bool {
	sh := st.shardFor(senderID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sess := sh.get(senderID)
	return sess != nil && sess.HasSeen(messageID)
}

// Commit stores next under its sender and marks messageID seen in the same
// critical section, so redelivery cannot slip between the two. expected is
// the stage the caller read; a mismatch returns ErrStageConflict and
// commits nothing.
func (st *Store) Commit(senderID string, expected Stage, next *Session, messageID string) error {
	sh := st.shardFor(senderID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	var seen []string
	if cur := sh.get(senderID); cur != nil {
		if cur.Stage != expected {
			return ErrStageConflict
		}
		seen = cur.seen
	}

	stored := next.Clone()
	stored.SenderID = senderID
	stored.seen = seen
	if messageID != "" && !stored.HasSeen(messageID) {
		stored.seen = append(stored.seen, messageID)
		if len(stored.seen) > st.dedupWindow {
			stored.seen = stored.seen[len(stored.seen)-st.dedupWindow:]
		}
	}

	sh.put(stored, st.maxPerShard)
	return nil
}

// Snapshot returns a copy of the sender's session without creating one.
func (st *Store) Snapshot(senderID string) (*Session, bool) {
	sh := st.shardFor(senderID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sess := sh.get(senderID)
	if sess == nil {
		return nil, false
	}
	return sess.Clone(), true
}

// Reset returns the sender to the root menu. Used by operator commands.
func (st *Store) Reset(senderID string) bool {
	sh := st.shardFor(senderID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	sess := sh.get(senderID)
	if sess == nil {
		return false
	}
	sess.Stage = StageMenuRoot
	sess.Topic = ""
	sess.EscalatedAt = time.Time{}
	return true
}

// ClearPendingRelay drops the pending relay handle if it still matches
// relayID. A newer relay on the same session is left untouched.
func (st *Store) ClearPendingRelay(senderID, relayID string) {
	sh := st.shardFor(senderID)
	sh.mu.Lock()
	defer sh.mu.Unlock()

	if sess := sh.get(senderID); sess != nil && sess.PendingRelay == relayID {
		sess.PendingRelay = ""
	}
}

// ExpireEscalations reverts sessions escalated before cutoff back to the
// root menu and returns their sender ids.
func (st *Store) ExpireEscalations(cutoff time.Time) []string {
	var expired []string
	for _, sh := range st.shards {
		sh.mu.Lock()
		for elem := sh.order.Front(); elem != nil; elem = elem.Next() {
			sess := elem.Value.(*Session)
			if sess.Stage == StageEscalated && !sess.EscalatedAt.IsZero() && sess.EscalatedAt.Before(cutoff) {
				sess.Stage = StageMenuRoot
				sess.EscalatedAt = time.Time{}
				expired = append(expired, sess.SenderID)
			}
		}
		sh.mu.Unlock()
	}
	return expired
}
