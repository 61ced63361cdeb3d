// Package memory implements the shared memory finalizer:
// the single routine invoked inside capsule_store.update_with by both the
// inline creation path and the chunked-upload commit path.
/*
 * Copyright (c) 2024, 552020. All rights reserved.
 */
package memory

import (
	"github.com/552020/futura-alpha-icp-sub007/cluster"
)

// CreatePayload is the unified memories_create request: exactly one of Inline or BlobRef is set.
type CreatePayload struct {
	Inline  *InlinePayload
	BlobRef *BlobRefPayload
}

// InlinePayload carries bytes already resident in memory, bounded by
// INLINE_MAX at the façade before the blob store ever sees them.
type InlinePayload struct {
	Bytes []byte
	Meta  cluster.MemoryMeta
}

// BlobRefPayload references content already committed to the blob store
// (a finished upload session, or external ingest with a pre-verified
// hash/length).
type BlobRefPayload struct {
	Blob cluster.BlobRef
	Meta cluster.MemoryMeta
	Idem string
}
