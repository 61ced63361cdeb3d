package upload

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/buntdb"
	"golang.org/x/sync/singleflight"

	"github.com/552020/futura-alpha-icp-sub007/blob"
	"github.com/552020/futura-alpha-icp-sub007/cluster"
	"github.com/552020/futura-alpha-icp-sub007/cmn"
	"github.com/552020/futura-alpha-icp-sub007/kv"
	"github.com/552020/futura-alpha-icp-sub007/memory"
)

// Engine is the upload session engine, wiring the capsule
// store (for authorization and the final memory attach), the blob store
// (for chunk staging and commit), and the kv substrate (for session
// records and the SessionId counter).
type Engine struct {
	db       *kv.DB
	capsules *cluster.Store
	blobs    *blob.Store

	// sf coalesces concurrent identical finish calls (same session) so a
	// retried client request and its original in-flight call don't race to
	// commit the same blob twice.
	sf singleflight.Group
}

func NewEngine(db *kv.DB, capsules *cluster.Store, blobs *blob.Store) *Engine {
	return &Engine{db: db, capsules: capsules, blobs: blobs}
}

// Begin starts a new upload session.
func (e *Engine) Begin(capsuleID cmn.CapsuleId, caller cmn.PersonRef, meta cluster.MemoryMeta, expectedChunks uint32, idem string) (cmn.SessionId, error) {
	cfg := cmn.GCO.Get()
	if expectedChunks == 0 {
		return 0, cmn.InvalidArgument("expected_chunks_zero")
	}
	if int(expectedChunks) > cfg.MaxChunks {
		return 0, cmn.InvalidArgument("expected_chunks_too_large")
	}

	cap, err := e.capsules.Get(capsuleID)
	if err != nil {
		return 0, err
	}
	if cap == nil {
		return 0, cmn.NotFound("capsule")
	}
	if !cap.CanUpload(caller) {
		return 0, cmn.Unauthorized("not_owner_or_controller")
	}

	callerKey := caller.Key()
	now := cmn.NowUnix()
	ttlNanos := cfg.SessionTTL.Nanoseconds()

	var sessionID cmn.SessionId
	var reaped []cmn.SessionId
	txErr := e.db.Raw().Update(func(tx *buntdb.Tx) error {
		toReap, rerr := expiredPending(tx, capsuleID, callerKey, now, ttlNanos)
		if rerr != nil {
			return rerr
		}
		for _, m := range toReap {
			if derr := clearPendingIndexes(tx, m); derr != nil {
				return derr
			}
			if derr := deleteSession(tx, m.ID); derr != nil {
				return derr
			}
			reaped = append(reaped, m.ID)
		}

		if raw, gerr := tx.Get(idemKey(capsuleID, callerKey, idem)); gerr == nil {
			n, perr := parseSessionID(raw)
			if perr == nil {
				sessionID = n
				return nil
			}
		} else if gerr != buntdb.ErrNotFound {
			return gerr
		}

		active := 0
		if err := tx.AscendGreaterOrEqual("", pendingPrefix(capsuleID, callerKey), func(key, _ string) bool {
			if !strings.HasPrefix(key, pendingPrefix(capsuleID, callerKey)) {
				return false
			}
			active++
			return true
		}); err != nil {
			return err
		}
		if active >= cfg.MaxActivePerCaller {
			return cmn.ResourceExhausted("too_many_active_sessions")
		}

		n, cerr := kv.NextTx(tx, kv.CounterSession)
		if cerr != nil {
			return cerr
		}
		sessionID = cmn.SessionId(n)
		sm := &Meta{
			ID:                  sessionID,
			CapsuleID:           capsuleID,
			Caller:              caller,
			ProvisionalMemoryID: cmn.GenMemoryId(),
			ChunkCount:          expectedChunks,
			Meta:                meta,
			Idem:                idem,
			CreatedAt:           now,
			Status:              Pending,
		}
		if err := putSession(tx, sm); err != nil {
			return err
		}
		return setPendingIndexes(tx, sm)
	})

	if txErr == nil {
		for _, id := range reaped {
			_ = e.blobs.DeleteChunks(id)
		}
	}

	if txErr != nil {
		return 0, translateErr(txErr)
	}
	return sessionID, nil
}

func parseSessionID(raw string) (cmn.SessionId, error) {
	n, err := strconv.ParseUint(raw, 10, 64)
	return cmn.SessionId(n), err
}

// expiredPending returns Pending sessions for (capsuleID, callerKey) whose
// age exceeds ttlNanos, to be reaped before counting back-pressure.
func expiredPending(tx *buntdb.Tx, capsuleID cmn.CapsuleId, callerKey cmn.PersonRefKey, now, ttlNanos int64) ([]*Meta, error) {
	prefix := pendingPrefix(capsuleID, callerKey)
	var expired []*Meta
	err := tx.AscendGreaterOrEqual("", prefix, func(key, _ string) bool {
		if !strings.HasPrefix(key, prefix) {
			return false
		}
		idStr := strings.TrimPrefix(key, prefix)
		n, serr := strconv.ParseUint(idStr, 10, 64)
		if serr != nil {
			return true
		}
		m, gerr := getSession(tx, cmn.SessionId(n))
		if gerr != nil || m == nil {
			return true
		}
		if now-m.CreatedAt > ttlNanos {
			expired = append(expired, m)
		}
		return true
	})
	return expired, err
}

// ReapExpired is the explicit out-of-band cleanup hook. It walks every
// Pending session regardless of capsule/caller and aborts those older than
// the configured TTL, freeing their chunk pages.
func (e *Engine) ReapExpired() (reaped int, err error) {
	cfg := cmn.GCO.Get()
	now := cmn.NowUnix()
	ttlNanos := cfg.SessionTTL.Nanoseconds()

	var toSweep []cmn.SessionId
	txErr := e.db.Raw().Update(func(tx *buntdb.Tx) error {
		return tx.AscendGreaterOrEqual("", sessionKeyPrefix, func(key, raw string) bool {
			if !strings.HasPrefix(key, sessionKeyPrefix) {
				return false
			}
			var m Meta
			if jerr := json.Unmarshal([]byte(raw), &m); jerr != nil {
				return true
			}
			if m.Status != Pending || now-m.CreatedAt <= ttlNanos {
				return true
			}
			if derr := clearPendingIndexes(tx, &m); derr != nil {
				return true
			}
			if derr := deleteSession(tx, m.ID); derr != nil {
				return true
			}
			toSweep = append(toSweep, m.ID)
			return true
		})
	})
	if txErr != nil {
		return 0, translateErr(txErr)
	}
	for _, id := range toSweep {
		_ = e.blobs.DeleteChunks(id)
	}
	return len(toSweep), nil
}

// PutChunk stages one chunk.
func (e *Engine) PutChunk(sessionID cmn.SessionId, caller cmn.PersonRef, chunkIdx uint32, data []byte) error {
	cfg := cmn.GCO.Get()
	var m *Meta
	txErr := e.db.Raw().View(func(tx *buntdb.Tx) error {
		got, gerr := getSession(tx, sessionID)
		if gerr != nil {
			return gerr
		}
		m = got
		return nil
	})
	if txErr != nil {
		return translateErr(txErr)
	}
	if m == nil {
		return cmn.NotFound("session")
	}
	if !m.Caller.Equal(caller) {
		return cmn.Unauthorized("caller_mismatch")
	}
	if chunkIdx >= m.ChunkCount {
		return cmn.InvalidArgument(fmt.Sprintf("chunk_index_out_of_range: idx=%d, max=%d", chunkIdx, m.ChunkCount))
	}
	if len(data) > int(cfg.ChunkSize) {
		return cmn.ResourceExhausted(fmt.Sprintf("chunk_too_large: len=%d, max=%d", len(data), cfg.ChunkSize))
	}
	if m.Status != Pending {
		return cmn.InvalidArgument(fmt.Sprintf("session_not_pending: status=%s", m.Status))
	}
	return e.blobs.PutChunk(sessionID, chunkIdx, data)
}

// Finish commits a session into a Memory attached to its capsule.
// expectedSHA256 is passed through verbatim to the blob store; a mismatch
// there propagates as the blob store's own error.
func (e *Engine) Finish(sessionID cmn.SessionId, caller cmn.PersonRef, expectedSHA256 [32]byte, totalLen uint64) (cmn.MemoryId, error) {
	key := fmt.Sprintf("%d", sessionID)
	v, err, _ := e.sf.Do(key, func() (interface{}, error) {
		return e.finishOnce(sessionID, caller, expectedSHA256, totalLen)
	})
	if err != nil {
		return "", err
	}
	return v.(cmn.MemoryId), nil
}

func (e *Engine) finishOnce(sessionID cmn.SessionId, caller cmn.PersonRef, expectedSHA256 [32]byte, totalLen uint64) (cmn.MemoryId, error) {
	cfg := cmn.GCO.Get()

	var m *Meta
	if err := e.db.Raw().View(func(tx *buntdb.Tx) error {
		got, gerr := getSession(tx, sessionID)
		if gerr != nil {
			return gerr
		}
		m = got
		return nil
	}); err != nil {
		return "", translateErr(err)
	}
	if m == nil {
		return "", cmn.NotFound("session")
	}
	if !m.Caller.Equal(caller) {
		return "", cmn.Unauthorized("caller_mismatch")
	}

	switch m.Status {
	case Aborted:
		return "", cmn.InvalidArgument("session_aborted")
	case Committed:
		return e.attachIfMissing(m, expectedSHA256, totalLen)
	}

	maxLen := uint64(m.ChunkCount) * uint64(cfg.ChunkSize)
	if totalLen == 0 || totalLen > maxLen {
		return "", cmn.InvalidArgument("total_len out of bounds")
	}
	for idx := uint32(0); idx < m.ChunkCount; idx++ {
		if !e.blobs.HasChunk(sessionID, idx) {
			return "", cmn.InvalidArgument(fmt.Sprintf("missing_chunk: idx=%d", idx))
		}
	}

	bm, err := e.blobs.StoreFromChunks(sessionID, m.ChunkCount, totalLen, expectedSHA256)
	if err != nil {
		return "", err
	}

	m.Status = Committed
	m.BlobID = bm.ID
	if err := e.db.Raw().Update(func(tx *buntdb.Tx) error {
		if err := clearPendingIndexes(tx, m); err != nil {
			return err
		}
		return putSession(tx, m)
	}); err != nil {
		return "", translateErr(err)
	}

	return e.attachIfMissing(m, expectedSHA256, totalLen)
}

// attachIfMissing implements the Committed branch of finish's state
// machine: idempotent retry if the memory is already attached, otherwise
// attach it now (the crash-recovery path).
func (e *Engine) attachIfMissing(m *Meta, expectedSHA256 [32]byte, totalLen uint64) (cmn.MemoryId, error) {
	cfg := cmn.GCO.Get()
	blobRef := cluster.BlobRef{SHA256: expectedSHA256, Len: totalLen, Locator: fmt.Sprintf("%s%d", cluster.LocatorBlobPrefix, m.BlobID)}

	memID, err := cluster.UpdateWith(e.capsules, m.CapsuleID, func(c *cluster.Capsule) (cmn.MemoryId, error) {
		return memory.FinalizeWithID(c, m.Caller, blobRef, m.Meta, m.Idem, cmn.NowUnix(), cfg, m.ProvisionalMemoryID)
	})
	if err != nil {
		return "", err
	}

	if derr := e.db.Raw().Update(func(tx *buntdb.Tx) error {
		return deleteSession(tx, m.ID)
	}); derr != nil {
		return "", translateErr(derr)
	}
	_ = e.blobs.DeleteChunks(m.ID)
	return memID, nil
}

// Abort discards a session and its staged chunk pages. Safe to call on a
// non-existent session.
func (e *Engine) Abort(sessionID cmn.SessionId, caller cmn.PersonRef) error {
	var m *Meta
	txErr := e.db.Raw().Update(func(tx *buntdb.Tx) error {
		got, gerr := getSession(tx, sessionID)
		if gerr != nil {
			return gerr
		}
		if got == nil {
			return nil
		}
		if !got.Caller.Equal(caller) {
			return cmn.Unauthorized("caller_mismatch")
		}
		m = got
		if derr := clearPendingIndexes(tx, m); derr != nil {
			return derr
		}
		return deleteSession(tx, sessionID)
	})
	if txErr != nil {
		return translateErr(txErr)
	}
	if m != nil {
		_ = e.blobs.DeleteChunks(sessionID)
	}
	return nil
}

func translateErr(err error) error {
	if err == nil {
		return nil
	}
	if ce, ok := err.(*cmn.Error); ok {
		return ce
	}
	return cmn.WrapInternal(err, "upload engine")
}
