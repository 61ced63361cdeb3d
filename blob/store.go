// Package blob implements the blob store: immutable,
// content-addressed storage for large memory payloads, plus the chunk
// staging area the upload engine writes into before a session commits.
//
// BlobMeta records live in the durable kv substrate; page bytes live as
// files under a root directory, written by writePage with the same
// tmp-then-rename discipline as cmn/jsp.Save so a crash mid-write never
// corrupts a previously committed page.
/*
 * Copyright (c) 2024, 552020. All rights reserved.
 */
package blob

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strconv"

	jsoniter "github.com/json-iterator/go"
	"github.com/pierrec/lz4/v3"
	"github.com/tidwall/buntdb"

	"github.com/552020/futura-alpha-icp-sub007/cmn"
	"github.com/552020/futura-alpha-icp-sub007/kv"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// compressThreshold gates lz4 page compression: pages smaller than this
// rarely compress well enough to be worth the CPU, so they're stored raw.
const compressThreshold = 4 * 1024

const blobMetaKeyPrefix = "blobmeta:"

func blobMetaKey(id cmn.BlobId) string { return blobMetaKeyPrefix + strconv.FormatUint(uint64(id), 10) }

// BlobMeta is the durable record for one committed blob.
type BlobMeta struct {
	ID        cmn.BlobId `json:"id"`
	SHA256    [32]byte   `json:"sha256"`
	Size      uint64     `json:"size"`
	PageCount uint32     `json:"page_count"`
	CreatedAt int64      `json:"created_at"`
}

// Store is the blob store. root is the filesystem directory pages live
// under; db is the kv substrate BlobMeta records persist in.
type Store struct {
	db   *kv.DB
	root string
}

func NewStore(db *kv.DB, root string) *Store { return &Store{db: db, root: root} }

func (s *Store) putMeta(m *BlobMeta) error {
	data, err := json.Marshal(m)
	if err != nil {
		return cmn.WrapInternal(err, "encode blob meta")
	}
	return s.db.Raw().Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(blobMetaKey(m.ID), string(data), nil)
		return err
	})
}

func (s *Store) deleteMeta(id cmn.BlobId) error {
	return s.db.Raw().Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(blobMetaKey(id))
		if err != nil && err != buntdb.ErrNotFound {
			return err
		}
		return nil
	})
}

// Head returns the blob's metadata, or nil if it does not exist.
func (s *Store) Head(id cmn.BlobId) (*BlobMeta, error) {
	var m *BlobMeta
	err := s.db.Raw().View(func(tx *buntdb.Tx) error {
		raw, err := tx.Get(blobMetaKey(id))
		if err == buntdb.ErrNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		var v BlobMeta
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return cmn.WrapInternal(err, "decode blob meta")
		}
		m = &v
		return nil
	})
	if err != nil {
		return nil, translateErr(err, "head")
	}
	return m, nil
}

// writePage compresses (above threshold) and writes a single page via
// tmp-then-rename; it never leaves a partial file behind on failure.
func writePage(fqn string, data []byte) error {
	flag := byte(0)
	payload := data
	if len(data) >= compressThreshold {
		var buf bytes.Buffer
		lzw := lz4.NewWriter(&buf)
		if _, err := lzw.Write(data); err == nil && lzw.Close() == nil && buf.Len() < len(data) {
			flag = 1
			payload = buf.Bytes()
		}
	}
	out := make([]byte, 0, len(payload)+1)
	out = append(out, flag)
	out = append(out, payload...)
	tmp := fqn + ".tmp"
	if err := os.WriteFile(tmp, out, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, fqn); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// readPage reverses writePage's optional compression; the returned bytes
// are always the caller's original, uncompressed page.
func readPage(fqn string) ([]byte, error) {
	raw, err := os.ReadFile(fqn)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("blob: empty page file %s", fqn)
	}
	flag, body := raw[0], raw[1:]
	if flag == 0 {
		return body, nil
	}
	r := lz4.NewReader(bytes.NewReader(body))
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return out, nil
}

// PutInline writes a single-page blob from bytes already held in memory.
func (s *Store) PutInline(data []byte) (*BlobMeta, error) {
	id := cmn.BlobId(0)
	n, err := s.db.Next(kv.CounterBlob)
	if err != nil {
		return nil, err
	}
	id = cmn.BlobId(n)

	if err := ensureDir(s.root, blobContent, uint64(id)); err != nil {
		return nil, cmn.WrapInternal(err, "create blob dir")
	}
	if err := writePage(pageFQN(s.root, blobContent, uint64(id), 0), data); err != nil {
		_ = removeDir(s.root, blobContent, uint64(id))
		return nil, cmn.WrapInternal(err, "write inline page")
	}
	sum := sha256.Sum256(data)
	m := &BlobMeta{ID: id, SHA256: sum, Size: uint64(len(data)), PageCount: 1, CreatedAt: cmn.NowUnix()}
	if err := s.putMeta(m); err != nil {
		_ = removeDir(s.root, blobContent, uint64(id))
		return nil, err
	}
	return m, nil
}

// PutChunk stages one chunk of an in-progress upload session. Overwriting
// the same (sessionID, idx) replaces the previous bytes silently — the
// documented idempotent-retry contract.
func (s *Store) PutChunk(sessionID cmn.SessionId, idx uint32, data []byte) error {
	if err := ensureDir(s.root, chunkContent, uint64(sessionID)); err != nil {
		return cmn.WrapInternal(err, "create chunk dir")
	}
	if err := writePage(pageFQN(s.root, chunkContent, uint64(sessionID), idx), data); err != nil {
		return cmn.WrapInternal(err, "write chunk")
	}
	return nil
}

// HasChunk reports whether a chunk page exists for (sessionID, idx) —
// used by the upload engine's chunk-completeness check before finish calls
// StoreFromChunks.
func (s *Store) HasChunk(sessionID cmn.SessionId, idx uint32) bool {
	_, err := os.Stat(pageFQN(s.root, chunkContent, uint64(sessionID), idx))
	return err == nil
}

// DeleteChunks removes every staged chunk page for a session.
func (s *Store) DeleteChunks(sessionID cmn.SessionId) error {
	if err := removeDir(s.root, chunkContent, uint64(sessionID)); err != nil {
		return cmn.WrapInternal(err, "delete chunk pages")
	}
	return nil
}

// StoreFromChunks assembles a committed blob out of a session's staged
// chunk pages. On any mismatch, every page and meta entry written for the
// new BlobId is removed before the error returns — no orphan blobs left
// behind.
func (s *Store) StoreFromChunks(sessionID cmn.SessionId, chunkCount uint32, expectedLen uint64, expectedSHA256 [32]byte) (*BlobMeta, error) {
	n, err := s.db.Next(kv.CounterBlob)
	if err != nil {
		return nil, err
	}
	id := cmn.BlobId(n)

	if err := ensureDir(s.root, blobContent, uint64(id)); err != nil {
		return nil, cmn.WrapInternal(err, "create blob dir")
	}

	h := sha256.New()
	var totalWritten uint64
	for idx := uint32(0); idx < chunkCount; idx++ {
		data, err := readPage(pageFQN(s.root, chunkContent, uint64(sessionID), idx))
		if err != nil {
			_ = removeDir(s.root, blobContent, uint64(id))
			return nil, cmn.InvalidArgument(fmt.Sprintf("missing_chunk: idx=%d", idx))
		}
		if err := writePage(pageFQN(s.root, blobContent, uint64(id), idx), data); err != nil {
			_ = removeDir(s.root, blobContent, uint64(id))
			return nil, cmn.WrapInternal(err, "write blob page")
		}
		h.Write(data)
		totalWritten += uint64(len(data))
	}

	if totalWritten != expectedLen {
		_ = removeDir(s.root, blobContent, uint64(id))
		return nil, cmn.InvalidArgument(fmt.Sprintf("size_mismatch: expected=%d, actual=%d", expectedLen, totalWritten))
	}
	var actual [32]byte
	copy(actual[:], h.Sum(nil))
	if actual != expectedSHA256 {
		_ = removeDir(s.root, blobContent, uint64(id))
		return nil, cmn.InvalidArgument(fmt.Sprintf("checksum_mismatch: expected=%s, actual=%s",
			hex.EncodeToString(expectedSHA256[:]), hex.EncodeToString(actual[:])))
	}

	m := &BlobMeta{ID: id, SHA256: actual, Size: totalWritten, PageCount: chunkCount, CreatedAt: cmn.NowUnix()}
	if err := s.putMeta(m); err != nil {
		_ = removeDir(s.root, blobContent, uint64(id))
		return nil, err
	}
	return m, nil
}

// Read streams every page in order and returns the concatenation, bounded
// by BlobMeta.Size.
func (s *Store) Read(id cmn.BlobId) ([]byte, error) {
	m, err := s.Head(id)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, cmn.NotFound("blob")
	}
	out := make([]byte, 0, m.Size)
	for idx := uint32(0); idx < m.PageCount; idx++ {
		data, err := readPage(pageFQN(s.root, blobContent, uint64(id), idx))
		if err != nil {
			return nil, cmn.WrapInternal(err, fmt.Sprintf("read blob page %d", idx))
		}
		out = append(out, data...)
	}
	if uint64(len(out)) != m.Size {
		return nil, cmn.Internal(fmt.Sprintf("blob %d: size mismatch on read: meta=%d actual=%d", id, m.Size, len(out)))
	}
	return out, nil
}

// Delete removes meta first, then every page.
func (s *Store) Delete(id cmn.BlobId) error {
	if err := s.deleteMeta(id); err != nil {
		return translateErr(err, "delete blob meta")
	}
	if err := removeDir(s.root, blobContent, uint64(id)); err != nil {
		return cmn.WrapInternal(err, "delete blob pages")
	}
	return nil
}

func translateErr(err error, op string) error {
	if err == nil {
		return nil
	}
	if ce, ok := err.(*cmn.Error); ok {
		return ce
	}
	return cmn.WrapInternal(err, op)
}
