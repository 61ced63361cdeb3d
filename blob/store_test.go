package blob

import (
	"bytes"
	"crypto/sha256"
	"testing"

	"github.com/552020/futura-alpha-icp-sub007/cmn"
	"github.com/552020/futura-alpha-icp-sub007/kv"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := kv.Open("")
	if err != nil {
		t.Fatalf("open kv: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db, t.TempDir())
}

func TestPutInlineAndRead(t *testing.T) {
	s := newTestStore(t)
	data := []byte("small inline payload")

	m, err := s.PutInline(data)
	if err != nil {
		t.Fatalf("PutInline: %v", err)
	}
	want := sha256.Sum256(data)
	if m.SHA256 != want {
		t.Fatalf("stored sha256 mismatch")
	}

	got, err := s.Read(m.ID)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatalf("Read returned %q, want %q", got, data)
	}
}

func TestPutInlineCompressesLargePages(t *testing.T) {
	s := newTestStore(t)
	data := bytes.Repeat([]byte("x"), compressThreshold*4)

	m, err := s.PutInline(data)
	if err != nil {
		t.Fatalf("PutInline: %v", err)
	}
	got, err := s.Read(m.ID)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("compressed page did not round-trip byte-for-byte")
	}
}

func TestStoreFromChunksAssemblesInOrder(t *testing.T) {
	s := newTestStore(t)
	sessionID := cmn.SessionId(7)
	chunks := [][]byte{[]byte("chunk-0-"), []byte("chunk-1-"), []byte("chunk-2")}

	var full []byte
	for i, c := range chunks {
		if err := s.PutChunk(sessionID, uint32(i), c); err != nil {
			t.Fatalf("PutChunk %d: %v", i, err)
		}
		full = append(full, c...)
	}
	sum := sha256.Sum256(full)

	m, err := s.StoreFromChunks(sessionID, uint32(len(chunks)), uint64(len(full)), sum)
	if err != nil {
		t.Fatalf("StoreFromChunks: %v", err)
	}
	got, err := s.Read(m.ID)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got, full) {
		t.Fatalf("assembled blob mismatch: got %q, want %q", got, full)
	}
}

func TestStoreFromChunksRejectsChecksumMismatch(t *testing.T) {
	s := newTestStore(t)
	sessionID := cmn.SessionId(8)
	if err := s.PutChunk(sessionID, 0, []byte("actual content")); err != nil {
		t.Fatalf("PutChunk: %v", err)
	}
	wrongSum := sha256.Sum256([]byte("different content"))

	_, err := s.StoreFromChunks(sessionID, 1, uint64(len("actual content")), wrongSum)
	if !cmn.IsKind(err, cmn.KindInvalidArgument) {
		t.Fatalf("expected InvalidArgument on checksum mismatch, got %v", err)
	}
}

func TestStoreFromChunksRejectsSizeMismatch(t *testing.T) {
	s := newTestStore(t)
	sessionID := cmn.SessionId(9)
	data := []byte("some bytes")
	if err := s.PutChunk(sessionID, 0, data); err != nil {
		t.Fatalf("PutChunk: %v", err)
	}
	sum := sha256.Sum256(data)

	_, err := s.StoreFromChunks(sessionID, 1, uint64(len(data))+1, sum)
	if !cmn.IsKind(err, cmn.KindInvalidArgument) {
		t.Fatalf("expected InvalidArgument on size mismatch, got %v", err)
	}
}

func TestHeadReturnsNilForMissingBlob(t *testing.T) {
	s := newTestStore(t)
	m, err := s.Head(cmn.BlobId(999))
	if err != nil {
		t.Fatalf("Head: %v", err)
	}
	if m != nil {
		t.Fatal("expected nil BlobMeta for a blob that was never written")
	}
}

func TestDeleteRemovesMetaAndPages(t *testing.T) {
	s := newTestStore(t)
	m, err := s.PutInline([]byte("to be deleted"))
	if err != nil {
		t.Fatalf("PutInline: %v", err)
	}
	if err := s.Delete(m.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Read(m.ID); !cmn.IsKind(err, cmn.KindNotFound) {
		t.Fatalf("expected NotFound reading a deleted blob, got %v", err)
	}
}
