package upload

import (
	"bytes"
	"crypto/sha256"
	"testing"
	"time"

	"github.com/552020/futura-alpha-icp-sub007/blob"
	"github.com/552020/futura-alpha-icp-sub007/cluster"
	"github.com/552020/futura-alpha-icp-sub007/cmn"
	"github.com/552020/futura-alpha-icp-sub007/kv"
)

func newTestEngine(t *testing.T) (*Engine, *cluster.Store, cmn.PersonRef, cmn.CapsuleId) {
	t.Helper()
	db, err := kv.Open("")
	if err != nil {
		t.Fatalf("open kv: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	capsules := cluster.NewStore(db)
	blobs := blob.NewStore(db, t.TempDir())
	engine := NewEngine(db, capsules, blobs)

	owner := cmn.NewOpaque("owner")
	id := cmn.GenCapsuleId()
	if err := capsules.PutIfAbsent(cluster.NewCapsule(id, owner, owner, cmn.NowUnix())); err != nil {
		t.Fatalf("create capsule: %v", err)
	}
	return engine, capsules, owner, id
}

func TestUploadHappyPath(t *testing.T) {
	engine, capsules, owner, capsuleID := newTestEngine(t)

	chunks := [][]byte{[]byte("part-one-"), []byte("part-two")}
	var full []byte
	for _, c := range chunks {
		full = append(full, c...)
	}
	sum := sha256.Sum256(full)

	sid, err := engine.Begin(capsuleID, owner, cluster.MemoryMeta{Name: "video"}, uint32(len(chunks)), "idem-1")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	for i, c := range chunks {
		if err := engine.PutChunk(sid, owner, uint32(i), c); err != nil {
			t.Fatalf("PutChunk %d: %v", i, err)
		}
	}
	memID, err := engine.Finish(sid, owner, sum, uint64(len(full)))
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if memID == "" {
		t.Fatal("expected a non-empty MemoryId")
	}

	cap, err := capsules.Get(capsuleID)
	if err != nil {
		t.Fatalf("Get capsule: %v", err)
	}
	m, ok := cap.Memories[memID]
	if !ok {
		t.Fatal("finished upload should have attached a memory to the capsule")
	}
	if m.Blob.Len != uint64(len(full)) {
		t.Fatalf("attached memory length mismatch: got %d, want %d", m.Blob.Len, len(full))
	}
}

func TestUploadRejectsChunkFromWrongCaller(t *testing.T) {
	engine, _, owner, capsuleID := newTestEngine(t)
	stranger := cmn.NewOpaque("stranger")

	sid, err := engine.Begin(capsuleID, owner, cluster.MemoryMeta{Name: "x"}, 1, "")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	err = engine.PutChunk(sid, stranger, 0, []byte("data"))
	if !cmn.IsKind(err, cmn.KindUnauthorized) {
		t.Fatalf("expected Unauthorized, got %v", err)
	}
}

func TestUploadRejectsOutOfRangeChunkIndex(t *testing.T) {
	engine, _, owner, capsuleID := newTestEngine(t)
	sid, err := engine.Begin(capsuleID, owner, cluster.MemoryMeta{Name: "x"}, 1, "")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	err = engine.PutChunk(sid, owner, 5, []byte("data"))
	if !cmn.IsKind(err, cmn.KindInvalidArgument) {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

func TestUploadAbortDiscardsSessionAndChunks(t *testing.T) {
	engine, _, owner, capsuleID := newTestEngine(t)
	sid, err := engine.Begin(capsuleID, owner, cluster.MemoryMeta{Name: "x"}, 1, "")
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := engine.PutChunk(sid, owner, 0, []byte("staged")); err != nil {
		t.Fatalf("PutChunk: %v", err)
	}
	if err := engine.Abort(sid, owner); err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if engine.blobs.HasChunk(sid, 0) {
		t.Fatal("Abort should have deleted the staged chunk page")
	}

	sum := sha256.Sum256([]byte("staged"))
	_, err = engine.Finish(sid, owner, sum, 6)
	if !cmn.IsKind(err, cmn.KindNotFound) {
		t.Fatalf("expected Finish on an aborted session to fail NotFound, got %v", err)
	}
}

func TestReapExpiredSweepsOldPendingSessions(t *testing.T) {
	engine, _, owner, capsuleID := newTestEngine(t)

	cfg := cmn.GCO.BeginUpdate()
	cfg.SessionTTL = 1 * time.Millisecond
	cmn.GCO.CommitUpdate(cfg)
	defer func() {
		restore := cmn.GCO.BeginUpdate()
		restore.SessionTTL = 30 * time.Minute
		cmn.GCO.CommitUpdate(restore)
	}()

	if _, err := engine.Begin(capsuleID, owner, cluster.MemoryMeta{Name: "stale"}, 1, ""); err != nil {
		t.Fatalf("Begin: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	n, err := engine.ReapExpired()
	if err != nil {
		t.Fatalf("ReapExpired: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 reaped session, got %d", n)
	}
}

func TestBeginIsIdempotentOnRepeatedIdem(t *testing.T) {
	engine, _, owner, capsuleID := newTestEngine(t)

	sid1, err := engine.Begin(capsuleID, owner, cluster.MemoryMeta{Name: "x"}, 1, "same-idem")
	if err != nil {
		t.Fatalf("first Begin: %v", err)
	}
	sid2, err := engine.Begin(capsuleID, owner, cluster.MemoryMeta{Name: "x"}, 1, "same-idem")
	if err != nil {
		t.Fatalf("second Begin: %v", err)
	}
	if sid1 != sid2 {
		t.Fatalf("expected the same SessionId for a repeated idem key, got %d vs %d", sid1, sid2)
	}
}

var _ = bytes.Equal
