// Package upload is the upload session engine: a bounded,
// authenticated staging area for chunked payloads, with idempotency and
// back-pressure, durable across restarts via the kv substrate.
//
// The session state machine (Pending -> Committed | Aborted) is a durable,
// restart-surviving record rather than an in-memory registry, since a
// crash must be recoverable through the committed state.
/*
 * Copyright (c) 2024, 552020. All rights reserved.
 */
package upload

import (
	"strconv"

	jsoniter "github.com/json-iterator/go"
	"github.com/tidwall/buntdb"

	"github.com/552020/futura-alpha-icp-sub007/cluster"
	"github.com/552020/futura-alpha-icp-sub007/cmn"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Status is the session's position in its lifecycle.
type Status int

const (
	Pending Status = iota
	Committed
	Aborted
)

func (s Status) String() string {
	switch s {
	case Pending:
		return "pending"
	case Committed:
		return "committed"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Meta is the durable session record.
type Meta struct {
	ID                  cmn.SessionId       `json:"id"`
	CapsuleID           cmn.CapsuleId       `json:"capsule_id"`
	Caller              cmn.PersonRef       `json:"caller"`
	ProvisionalMemoryID cmn.MemoryId        `json:"provisional_memory_id"`
	ChunkCount          uint32              `json:"chunk_count"`
	Meta                cluster.MemoryMeta  `json:"meta"`
	Idem                string              `json:"idem"`
	CreatedAt           int64               `json:"created_at"`
	Status              Status              `json:"status"`
	BlobID              cmn.BlobId          `json:"blob_id,omitempty"` // valid only once Status == Committed
}

const (
	sessionKeyPrefix = "session:"
	pendingKeyPrefix = "sess_pending:"
	idemKeyPrefix    = "sess_idem:"
)

func sessionKey(id cmn.SessionId) string { return sessionKeyPrefix + strconv.FormatUint(uint64(id), 10) }

func pendingKey(capsuleID cmn.CapsuleId, caller cmn.PersonRefKey, id cmn.SessionId) string {
	return pendingKeyPrefix + string(capsuleID) + ":" + string(caller) + ":" + strconv.FormatUint(uint64(id), 10)
}

func pendingPrefix(capsuleID cmn.CapsuleId, caller cmn.PersonRefKey) string {
	return pendingKeyPrefix + string(capsuleID) + ":" + string(caller) + ":"
}

func idemKey(capsuleID cmn.CapsuleId, caller cmn.PersonRefKey, idem string) string {
	return idemKeyPrefix + string(capsuleID) + ":" + string(caller) + ":" + idem
}

// putSession persists m's session record only; the back-pressure and
// idempotency index entries are maintained separately by setPendingIndexes
// and clearPendingIndexes. Called only from within the engine's own
// buntdb.Update transactions.
func putSession(tx *buntdb.Tx, m *Meta) error {
	data, err := json.Marshal(m)
	if err != nil {
		return cmn.WrapInternal(err, "encode session")
	}
	if _, _, err := tx.Set(sessionKey(m.ID), string(data), nil); err != nil {
		return err
	}
	return nil
}

func getSession(tx *buntdb.Tx, id cmn.SessionId) (*Meta, error) {
	raw, err := tx.Get(sessionKey(id))
	if err == buntdb.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var m Meta
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, cmn.WrapInternal(err, "decode session")
	}
	return &m, nil
}

// setPendingIndexes writes the back-pressure and idempotency sentinel keys
// for a freshly created Pending session.
func setPendingIndexes(tx *buntdb.Tx, m *Meta) error {
	ck := m.Caller.Key()
	if _, _, err := tx.Set(pendingKey(m.CapsuleID, ck, m.ID), "", nil); err != nil {
		return err
	}
	if _, _, err := tx.Set(idemKey(m.CapsuleID, ck, m.Idem), strconv.FormatUint(uint64(m.ID), 10), nil); err != nil {
		return err
	}
	return nil
}

// clearPendingIndexes removes both index entries; called on commit, abort,
// and reap so a session leaving Pending stops counting against
// back-pressure and idempotency lookups.
func clearPendingIndexes(tx *buntdb.Tx, m *Meta) error {
	ck := m.Caller.Key()
	if _, err := tx.Delete(pendingKey(m.CapsuleID, ck, m.ID)); err != nil && err != buntdb.ErrNotFound {
		return err
	}
	if _, err := tx.Delete(idemKey(m.CapsuleID, ck, m.Idem)); err != nil && err != buntdb.ErrNotFound {
		return err
	}
	return nil
}

func deleteSession(tx *buntdb.Tx, id cmn.SessionId) error {
	_, err := tx.Delete(sessionKey(id))
	if err != nil && err != buntdb.ErrNotFound {
		return err
	}
	return nil
}
