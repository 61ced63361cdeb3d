package memory

import (
	"encoding/binary"
	"sync"

	cuckoo "github.com/seiflotfy/cuckoofilter"

	"github.com/552020/futura-alpha-icp-sub007/cluster"
	"github.com/552020/futura-alpha-icp-sub007/cmn"
	"github.com/552020/futura-alpha-icp-sub007/cmn/debug"
)

// dedupeFilterCapacity is sized for a capsule with a large but bounded
// memory count; the filter is a fast negative pre-check, not the source of
// truth, so undersizing only costs occasional extra exact scans (P6).
const dedupeFilterCapacity = 1 << 14

var (
	dedupeMu     sync.Mutex
	dedupeByCaps = map[cmn.CapsuleId]*cuckoo.Filter{}
)

func dedupeKey(sha256 [32]byte, length uint64, idem string) []byte {
	buf := make([]byte, 0, 32+8+len(idem))
	buf = append(buf, sha256[:]...)
	var lb [8]byte
	binary.BigEndian.PutUint64(lb[:], length)
	buf = append(buf, lb[:]...)
	buf = append(buf, idem...)
	return buf
}

// filterFor lazily builds the capsule's dedupe sketch from its current
// memories on first touch in this process; subsequent calls reuse it.
func filterFor(cap *cluster.Capsule) *cuckoo.Filter {
	dedupeMu.Lock()
	defer dedupeMu.Unlock()
	f, ok := dedupeByCaps[cap.ID]
	if !ok {
		f = cuckoo.NewFilter(dedupeFilterCapacity)
		for _, m := range cap.Memories {
			f.InsertUnique(dedupeKey(m.Blob.SHA256, m.Blob.Len, m.Idem))
		}
		dedupeByCaps[cap.ID] = f
	}
	return f
}

// ForgetCapsule drops a capsule's cached filter, called once the capsule
// itself is deleted, so the cache does not grow unbounded.
func ForgetCapsule(id cmn.CapsuleId) {
	dedupeMu.Lock()
	delete(dedupeByCaps, id)
	dedupeMu.Unlock()
}

// findDuplicate checks the dedupe cuckoo filter before scanning memories.
// The filter never produces false negatives, so a miss here is a
// guaranteed absence; a hit still requires the exact scan below since the
// filter can false-positive.
func findDuplicate(cap *cluster.Capsule, sha256 [32]byte, length uint64, idem string) (cmn.MemoryId, bool) {
	key := dedupeKey(sha256, length, idem)
	if !filterFor(cap).Lookup(key) {
		return "", false
	}
	for _, m := range cap.Memories {
		if m.Blob.SHA256 == sha256 && m.Blob.Len == length && m.Idem == idem {
			return m.ID, true
		}
	}
	return "", false
}

// Finalize is the single routine shared by the inline and chunked-upload
// creation paths, invoked by the caller inside
// capsule_store.update_with. blobRef must already be committed to the blob
// store; Finalize never writes blob bytes itself. A fresh MemoryId is
// allocated for the new record.
func Finalize(cap *cluster.Capsule, caller cmn.PersonRef, blobRef cluster.BlobRef, meta cluster.MemoryMeta, idem string, now int64, cfg *cmn.Config) (cmn.MemoryId, error) {
	return finalize(cap, caller, blobRef, meta, idem, now, cfg, "")
}

// FinalizeWithID is the variant the upload engine's finish uses: the
// session's provisional_memory_id is the record's identity across retries,
// so a crash between blob commit and capsule attach is recoverable by
// checking for that exact id before falling through to the generic
// content-tuple dedupe.
func FinalizeWithID(cap *cluster.Capsule, caller cmn.PersonRef, blobRef cluster.BlobRef, meta cluster.MemoryMeta, idem string, now int64, cfg *cmn.Config, id cmn.MemoryId) (cmn.MemoryId, error) {
	return finalize(cap, caller, blobRef, meta, idem, now, cfg, id)
}

func finalize(cap *cluster.Capsule, caller cmn.PersonRef, blobRef cluster.BlobRef, meta cluster.MemoryMeta, idem string, now int64, cfg *cmn.Config, presetID cmn.MemoryId) (cmn.MemoryId, error) {
	if !cap.CanWrite(caller) {
		return "", cmn.Unauthorized("not_owner_or_subject")
	}

	if presetID != "" {
		if existing, ok := cap.Memories[presetID]; ok {
			return existing.ID, nil
		}
	}

	if blobRef.IsInline() {
		budget := uint64(cfg.CapsuleInlineBudget)
		if cfg.CapsuleInlineBudget < 0 || cap.InlineBytesUsed+blobRef.Len > budget {
			return "", cmn.ResourceExhausted("inline_budget_exceeded")
		}
	}

	if id, found := findDuplicate(cap, blobRef.SHA256, blobRef.Len, idem); found {
		return id, nil
	}

	id := presetID
	if id == "" {
		id = cmn.GenMemoryId()
	}
	m := cluster.Memory{ID: id, Blob: blobRef, Meta: meta, CreatedAt: now, Idem: idem}
	cap.Memories[id] = m
	filterFor(cap).InsertUnique(dedupeKey(blobRef.SHA256, blobRef.Len, idem))

	if blobRef.IsInline() {
		cap.InlineBytesUsed += blobRef.Len
	}
	debug.Assert(cfg.CapsuleInlineBudget < 0 || cap.InlineBytesUsed <= uint64(cfg.CapsuleInlineBudget),
		"finalize: inline budget exceeded after accounting")
	debug.Assert(len(cap.Memories) > 0, "finalize: memory map empty right after insert")
	cap.UpdatedAt = now
	return id, nil
}
