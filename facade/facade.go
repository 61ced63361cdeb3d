// Package facade is the outer layer tying the capsule store, blob store,
// upload engine and memory finalizer together into one operation set. It is
// intentionally thin: no business logic beyond routing, and no error
// mapping beyond reshaping internal faults into the common taxonomy —
// every invariant and check already lives in the component it routes to.
/*
 * Copyright (c) 2024, 552020. All rights reserved.
 */
package facade

import (
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/552020/futura-alpha-icp-sub007/blob"
	"github.com/552020/futura-alpha-icp-sub007/cluster"
	"github.com/552020/futura-alpha-icp-sub007/cmn"
	"github.com/552020/futura-alpha-icp-sub007/kv"
	"github.com/552020/futura-alpha-icp-sub007/memory"
	"github.com/552020/futura-alpha-icp-sub007/stats"
	"github.com/552020/futura-alpha-icp-sub007/upload"
)

// Core is the single entry point an external adapter (CLI, RPC handler, test
// harness) talks to. It wires the three owning components and nothing else;
// it never touches the substrate directly.
type Core struct {
	capsules *cluster.Store
	blobs    *blob.Store
	uploads  *upload.Engine
	metrics  *stats.Core

	// createSF coalesces concurrent memories_create calls carrying the same
	// (capsule, idem) so a retried client request racing its own original
	// in-flight call doesn't run the finalizer twice.
	createSF singleflight.Group
}

// New wires a Core from an already-open substrate and blob root. There is
// no HTTP listener here; Core is meant to be embedded by whatever transport
// an adapter wants.
func New(db *kv.DB, blobRoot string) *Core {
	capsules := cluster.NewStore(db)
	blobs := blob.NewStore(db, blobRoot)
	return &Core{
		capsules: capsules,
		blobs:    blobs,
		uploads:  upload.NewEngine(db, capsules, blobs),
		metrics:  stats.New(),
	}
}

// Stats exposes the metrics tracker for an operator CLI subcommand to read
// (e.g. "capsulectl stats"), without this package ever opening a network
// listener itself.
func (c *Core) Stats() *stats.Core { return c.metrics }

// CapsuleCreationResult is capsules_create's return value: the new capsule's
// id and the subject it ended up bound to (the caller if none was passed).
type CapsuleCreationResult struct {
	ID      cmn.CapsuleId
	Subject cmn.PersonRef
}

// CapsuleInfo is the capsules_read_basic projection: summary counts instead
// of the full memory/gallery maps, for callers that only need to know the
// capsule exists and its shape.
type CapsuleInfo struct {
	ID              cmn.CapsuleId
	Subject         cmn.PersonRef
	OwnerCount      int
	ControllerCount int
	MemoryCount     int
	GalleryCount    int
	BoundToWeb2     bool
	InlineBytesUsed uint64
	CreatedAt       int64
	UpdatedAt       int64
}

// CapsuleHeader is one row of a capsules_list page — cheaper than a full
// Capsule to marshal across a page of results.
type CapsuleHeader struct {
	ID          cmn.CapsuleId
	Subject     cmn.PersonRef
	OwnerCount  int
	MemoryCount int
	CreatedAt   int64
	UpdatedAt   int64
}

// MemoryHeader is one row of a memories_list page.
type MemoryHeader struct {
	ID        cmn.MemoryId
	Name      string
	MimeType  string
	Len       uint64
	CreatedAt int64
}

// PageArgs is the common pagination request shape.
type PageArgs struct {
	After *cmn.CapsuleId
	Limit int
	Order cluster.Order
}

// CapsulePatch is capsules_update's payload: owners/controllers/connections
// only; nil fields are left untouched. Removal is expressed by
// listing a key in the matching Remove slice.
type CapsulePatch struct {
	AddOwners        []cmn.PersonRef
	RemoveOwners     []cmn.PersonRef
	AddControllers   []cmn.PersonRef
	RemoveControllers []cmn.PersonRef
	UpsertConnections map[cmn.PersonRefKey]cluster.Connection
	RemoveConnections []cmn.PersonRefKey
}

// MemoryPatch is memories_update's payload: metadata only, the blob itself
// is immutable once committed.
type MemoryPatch struct {
	Name        *string
	Description *string
	Tags        []string
	MimeType    *string
	Extra       map[string]string
}

func translateErr(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*cmn.Error); ok {
		return err
	}
	return cmn.WrapInternal(err, "facade")
}

// recordErr tallies err's Kind before returning it. CapsulesCreate,
// CapsulesDelete, MemoriesCreate, MemoriesReadBlob's blob read,
// MemoriesDelete and the Uploads*/ReapExpired wrappers run their errors
// through it; the other read, list, update and bind operations return their
// errors without counting them.
func (c *Core) recordErr(err error) error {
	if err == nil {
		return nil
	}
	if ce, ok := err.(*cmn.Error); ok {
		c.metrics.IncError(ce.Kind)
	}
	return err
}

// CapsulesCreate allocates a fresh capsule, binding it to subject if given
// or to caller otherwise, with caller as its sole initial owner.
func (c *Core) CapsulesCreate(caller cmn.PersonRef, subject *cmn.PersonRef) (CapsuleCreationResult, error) {
	sub := caller
	if subject != nil {
		sub = *subject
	}
	now := cmn.NowUnix()
	id := cmn.GenCapsuleId()
	cap := cluster.NewCapsule(id, sub, caller, now)
	if err := c.capsules.PutIfAbsent(cap); err != nil {
		return CapsuleCreationResult{}, c.recordErr(translateErr(err))
	}
	c.metrics.IncCapsuleCreate()
	return CapsuleCreationResult{ID: id, Subject: sub}, nil
}

// CapsulesRead returns the full capsule record.
func (c *Core) CapsulesRead(id cmn.CapsuleId) (*cluster.Capsule, error) {
	cap, err := c.capsules.Get(id)
	if err != nil {
		return nil, translateErr(err)
	}
	if cap == nil {
		return nil, cmn.NotFound("capsule")
	}
	return cap, nil
}

// CapsulesReadBasic returns the summary projection.
func (c *Core) CapsulesReadBasic(id cmn.CapsuleId) (*CapsuleInfo, error) {
	cap, err := c.CapsulesRead(id)
	if err != nil {
		return nil, err
	}
	return &CapsuleInfo{
		ID:              cap.ID,
		Subject:         cap.Subject,
		OwnerCount:      len(cap.Owners),
		ControllerCount: len(cap.Controllers),
		MemoryCount:     len(cap.Memories),
		GalleryCount:    len(cap.Galleries),
		BoundToWeb2:     cap.BoundToWeb2,
		InlineBytesUsed: cap.InlineBytesUsed,
		CreatedAt:       cap.CreatedAt,
		UpdatedAt:       cap.UpdatedAt,
	}, nil
}

// CapsulesList pages through capsules ordered by CapsuleId.
func (c *Core) CapsulesList(args PageArgs) ([]CapsuleHeader, *cmn.CapsuleId, error) {
	page, err := c.capsules.Paginate(args.After, args.Limit, args.Order)
	if err != nil {
		return nil, nil, translateErr(err)
	}
	headers := make([]CapsuleHeader, len(page.Items))
	for i, cap := range page.Items {
		headers[i] = CapsuleHeader{
			ID:          cap.ID,
			Subject:     cap.Subject,
			OwnerCount:  len(cap.Owners),
			MemoryCount: len(cap.Memories),
			CreatedAt:   cap.CreatedAt,
			UpdatedAt:   cap.UpdatedAt,
		}
	}
	return headers, page.NextCursor, nil
}

// CapsulesBindNeon records an opaque resource binding annotation. The core
// does not interpret resourceType/resourceID; it stores them verbatim for
// an external system to reconcile. Owner or controller may flip the
// binding, same gate as upload.
func (c *Core) CapsulesBindNeon(id cmn.CapsuleId, caller cmn.PersonRef, resourceType, resourceID string, bind bool) error {
	_, err := cluster.UpdateWith(c.capsules, id, func(cap *cluster.Capsule) (struct{}, error) {
		if !cap.CanUpload(caller) {
			return struct{}{}, cmn.Unauthorized("not_owner_or_controller")
		}
		found := -1
		for i, b := range cap.NeonBinding {
			if b.ResourceType == resourceType && b.ResourceID == resourceID {
				found = i
				break
			}
		}
		nb := cluster.NeonBinding{ResourceType: resourceType, ResourceID: resourceID, Bound: bind}
		if found >= 0 {
			cap.NeonBinding[found] = nb
		} else {
			cap.NeonBinding = append(cap.NeonBinding, nb)
		}
		cap.UpdatedAt = cmn.NowUnix()
		return struct{}{}, nil
	})
	return translateErr(err)
}

// CapsulesUpdate applies an owners/controllers/connections patch. Only an
// existing owner may mutate the owner/controller sets; owners non-empty
// is enforced by rejecting a removal that would empty cap.owners.
func (c *Core) CapsulesUpdate(id cmn.CapsuleId, caller cmn.PersonRef, patch CapsulePatch) error {
	_, err := cluster.UpdateWith(c.capsules, id, func(cap *cluster.Capsule) (struct{}, error) {
		if !cap.IsOwner(caller) {
			return struct{}{}, cmn.Unauthorized("not_owner")
		}
		now := cmn.NowUnix()
		for _, p := range patch.AddOwners {
			cap.Owners[p.Key()] = cluster.OwnerState{LastActivityAt: now}
		}
		for _, p := range patch.RemoveOwners {
			delete(cap.Owners, p.Key())
		}
		if len(cap.Owners) == 0 {
			return struct{}{}, cmn.InvalidArgument("owners_cannot_be_empty")
		}
		for _, p := range patch.AddControllers {
			cap.Controllers[p.Key()] = cluster.ControllerState{GrantedAt: now}
		}
		for _, p := range patch.RemoveControllers {
			delete(cap.Controllers, p.Key())
		}
		for k, conn := range patch.UpsertConnections {
			cap.Connections[k] = conn
		}
		for _, k := range patch.RemoveConnections {
			delete(cap.Connections, k)
		}
		cap.UpdatedAt = now
		return struct{}{}, nil
	})
	return translateErr(err)
}

// CapsulesDelete removes the capsule and forgets its cached dedupe filter.
func (c *Core) CapsulesDelete(id cmn.CapsuleId, caller cmn.PersonRef) error {
	cap, err := c.capsules.Get(id)
	if err != nil {
		return c.recordErr(translateErr(err))
	}
	if cap == nil {
		return c.recordErr(cmn.NotFound("capsule"))
	}
	if !cap.IsOwner(caller) {
		return c.recordErr(cmn.Unauthorized("not_owner"))
	}
	if _, err := c.capsules.Remove(id); err != nil {
		return c.recordErr(translateErr(err))
	}
	memory.ForgetCapsule(id)
	c.metrics.IncCapsuleDelete()
	return nil
}

// MemoriesCreate is the unified creation entry point: exactly
// one of payload.Inline or payload.BlobRef must be set.
func (c *Core) MemoriesCreate(capsuleID cmn.CapsuleId, caller cmn.PersonRef, payload memory.CreatePayload, idem string) (cmn.MemoryId, error) {
	key := string(capsuleID) + "\x00" + idem
	v, err, _ := c.createSF.Do(key, func() (interface{}, error) {
		return c.memoriesCreateOnce(capsuleID, caller, payload, idem)
	})
	if err != nil {
		return "", c.recordErr(err)
	}
	c.metrics.IncMemoryCreate()
	return v.(cmn.MemoryId), nil
}

func (c *Core) memoriesCreateOnce(capsuleID cmn.CapsuleId, caller cmn.PersonRef, payload memory.CreatePayload, idem string) (cmn.MemoryId, error) {
	cfg := cmn.GCO.Get()

	var blobRef cluster.BlobRef
	var meta cluster.MemoryMeta

	switch {
	case payload.Inline != nil:
		if n := int64(len(payload.Inline.Bytes)); n > cfg.InlineMax {
			return "", cmn.InvalidArgument(fmt.Sprintf("inline_too_large:%d>%d", n, cfg.InlineMax))
		}
		bm, err := c.blobs.PutInline(payload.Inline.Bytes)
		if err != nil {
			return "", translateErr(err)
		}
		c.metrics.AddBlobPutSize(bm.Size)
		blobRef = cluster.BlobRef{
			SHA256:  bm.SHA256,
			Len:     bm.Size,
			Locator: fmt.Sprintf("%s%d", cluster.LocatorInlinePrefix, bm.ID),
		}
		meta = payload.Inline.Meta
	case payload.BlobRef != nil:
		head, err := c.blobs.Head(blobIDFromLocator(payload.BlobRef.Blob.Locator))
		if err != nil {
			return "", translateErr(err)
		}
		if head == nil {
			return "", cmn.NotFound("blob")
		}
		if head.SHA256 != payload.BlobRef.Blob.SHA256 || head.Size != payload.BlobRef.Blob.Len {
			return "", cmn.InvalidArgument("blob_mismatch")
		}
		blobRef = payload.BlobRef.Blob
		meta = payload.BlobRef.Meta
		idem = payload.BlobRef.Idem
	default:
		return "", cmn.InvalidArgument("payload_empty")
	}

	return cluster.UpdateWith(c.capsules, capsuleID, func(cap *cluster.Capsule) (cmn.MemoryId, error) {
		before := len(cap.Memories)
		id, err := memory.Finalize(cap, caller, blobRef, meta, idem, cmn.NowUnix(), cfg)
		if err == nil && len(cap.Memories) == before {
			c.metrics.IncMemoryDedupe()
		}
		return id, err
	})
}

// blobIDFromLocator parses the numeric BlobId out of a "blob_<id>" or
// "inline_<id>" locator — both prefixes address the same blob store, the
// prefix only records which creation path produced the blob.
func blobIDFromLocator(locator string) cmn.BlobId {
	prefix := cluster.LocatorBlobPrefix
	if len(locator) >= len(cluster.LocatorInlinePrefix) && locator[:len(cluster.LocatorInlinePrefix)] == cluster.LocatorInlinePrefix {
		prefix = cluster.LocatorInlinePrefix
	}
	n := uint64(0)
	if len(locator) > len(prefix) {
		for _, r := range locator[len(prefix):] {
			if r < '0' || r > '9' {
				break
			}
			n = n*10 + uint64(r-'0')
		}
	}
	return cmn.BlobId(n)
}

// MemoriesRead returns one memory record.
func (c *Core) MemoriesRead(capsuleID cmn.CapsuleId, id cmn.MemoryId) (*cluster.Memory, error) {
	cap, err := c.capsules.Get(capsuleID)
	if err != nil {
		return nil, translateErr(err)
	}
	if cap == nil {
		return nil, cmn.NotFound("capsule")
	}
	m, ok := cap.Memories[id]
	if !ok {
		return nil, cmn.NotFound("memory")
	}
	return &m, nil
}

// MemoriesReadBlob returns a memory's underlying bytes, for adapters that
// need the payload rather than just its record, regardless of
// whether the memory's blob originated inline or via chunked upload.
func (c *Core) MemoriesReadBlob(capsuleID cmn.CapsuleId, id cmn.MemoryId) ([]byte, error) {
	m, err := c.MemoriesRead(capsuleID, id)
	if err != nil {
		return nil, err
	}
	data, err := c.blobs.Read(blobIDFromLocator(m.Blob.Locator))
	if err != nil {
		return nil, c.recordErr(translateErr(err))
	}
	c.metrics.AddBlobReadSize(uint64(len(data)))
	return data, nil
}

// MemoriesUpdate patches a memory's metadata only; the blob is immutable.
func (c *Core) MemoriesUpdate(capsuleID cmn.CapsuleId, caller cmn.PersonRef, id cmn.MemoryId, patch MemoryPatch) error {
	_, err := cluster.UpdateWith(c.capsules, capsuleID, func(cap *cluster.Capsule) (struct{}, error) {
		if !cap.CanWrite(caller) {
			return struct{}{}, cmn.Unauthorized("not_owner_or_subject")
		}
		m, ok := cap.Memories[id]
		if !ok {
			return struct{}{}, cmn.NotFound("memory")
		}
		if patch.Name != nil {
			m.Meta.Name = *patch.Name
		}
		if patch.Description != nil {
			m.Meta.Description = *patch.Description
		}
		if patch.Tags != nil {
			m.Meta.Tags = patch.Tags
		}
		if patch.MimeType != nil {
			m.Meta.MimeType = *patch.MimeType
		}
		if patch.Extra != nil {
			m.Meta.Extra = patch.Extra
		}
		m.Meta.UpdatedAt = cmn.NowUnix()
		cap.Memories[id] = m
		cap.UpdatedAt = m.Meta.UpdatedAt
		return struct{}{}, nil
	})
	return translateErr(err)
}

// MemoriesDelete removes a memory record. The underlying blob is left in
// place: other memories (or external references, e.g. BlobRef-created
// memories sharing the same blob via dedupe) may still point at it. Blob
// garbage collection is out of scope.
func (c *Core) MemoriesDelete(capsuleID cmn.CapsuleId, caller cmn.PersonRef, id cmn.MemoryId) error {
	_, err := cluster.UpdateWith(c.capsules, capsuleID, func(cap *cluster.Capsule) (struct{}, error) {
		if !cap.CanWrite(caller) {
			return struct{}{}, cmn.Unauthorized("not_owner_or_subject")
		}
		if _, ok := cap.Memories[id]; !ok {
			return struct{}{}, cmn.NotFound("memory")
		}
		delete(cap.Memories, id)
		cap.UpdatedAt = cmn.NowUnix()
		return struct{}{}, nil
	})
	if err != nil {
		return c.recordErr(translateErr(err))
	}
	c.metrics.IncMemoryDelete()
	return nil
}

// MemoriesList pages through one capsule's memories. Memories have no
// durable secondary sort key of their own (unlike capsules), so the page is
// built by sorting the in-memory map by MemoryId and slicing — acceptable
// since a single capsule's memory count is bounded by the inline/chunk
// budgets, never a cluster-wide scan.
func (c *Core) MemoriesList(capsuleID cmn.CapsuleId, args PageArgs) ([]MemoryHeader, error) {
	cap, err := c.capsules.Get(capsuleID)
	if err != nil {
		return nil, translateErr(err)
	}
	if cap == nil {
		return nil, cmn.NotFound("capsule")
	}
	cfg := cmn.GCO.Get()
	limit := args.Limit
	if limit <= 0 {
		limit = cfg.PageLimitDefault
	}
	if limit > cfg.PageLimitMax {
		limit = cfg.PageLimitMax
	}

	ids := make([]cmn.MemoryId, 0, len(cap.Memories))
	for id := range cap.Memories {
		ids = append(ids, id)
	}
	sortMemoryIds(ids)

	headers := make([]MemoryHeader, 0, limit)
	for _, id := range ids {
		if len(headers) >= limit {
			break
		}
		m := cap.Memories[id]
		headers = append(headers, MemoryHeader{ID: m.ID, Name: m.Meta.Name, MimeType: m.Meta.MimeType, Len: m.Blob.Len, CreatedAt: m.CreatedAt})
	}
	return headers, nil
}

func sortMemoryIds(ids []cmn.MemoryId) {
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
}

// MemoriesPing checks presence of a batch of MemoryIds scoped to one
// capsule, without fetching their full records.
func (c *Core) MemoriesPing(capsuleID cmn.CapsuleId, ids []cmn.MemoryId) ([]struct {
	ID      cmn.MemoryId
	Present bool
}, error) {
	cap, err := c.capsules.Get(capsuleID)
	if err != nil {
		return nil, translateErr(err)
	}
	if cap == nil {
		return nil, cmn.NotFound("capsule")
	}
	out := make([]struct {
		ID      cmn.MemoryId
		Present bool
	}, len(ids))
	for i, id := range ids {
		_, ok := cap.Memories[id]
		out[i] = struct {
			ID      cmn.MemoryId
			Present bool
		}{ID: id, Present: ok}
	}
	return out, nil
}

// UploadConfig exposes the tunables an external adapter needs to implement
// the inline-vs-chunked decision tree.
type UploadConfig struct {
	InlineMax             int64
	ChunkSize             int64
	InlineBudgetPerCapsule int64
}

func (c *Core) UploadConfig() UploadConfig {
	cfg := cmn.GCO.Get()
	return UploadConfig{InlineMax: cfg.InlineMax, ChunkSize: cfg.ChunkSize, InlineBudgetPerCapsule: cfg.CapsuleInlineBudget}
}

func (c *Core) UploadsBegin(capsuleID cmn.CapsuleId, caller cmn.PersonRef, meta cluster.MemoryMeta, expectedChunks uint32, idem string) (cmn.SessionId, error) {
	id, err := c.uploads.Begin(capsuleID, caller, meta, expectedChunks, idem)
	if err != nil {
		return 0, c.recordErr(err)
	}
	c.metrics.IncUploadBegin()
	return id, nil
}

func (c *Core) UploadsPutChunk(sessionID cmn.SessionId, caller cmn.PersonRef, chunkIdx uint32, data []byte) error {
	if err := c.uploads.PutChunk(sessionID, caller, chunkIdx, data); err != nil {
		return c.recordErr(err)
	}
	c.metrics.AddBlobPutSize(uint64(len(data)))
	return nil
}

func (c *Core) UploadsFinish(sessionID cmn.SessionId, caller cmn.PersonRef, expectedSHA256 [32]byte, totalLen uint64) (cmn.MemoryId, error) {
	start := time.Now()
	id, err := c.uploads.Finish(sessionID, caller, expectedSHA256, totalLen)
	c.metrics.ObserveUploadFinishSeconds(time.Since(start).Seconds())
	if err != nil {
		return "", c.recordErr(err)
	}
	c.metrics.IncUploadFinish()
	return id, nil
}

func (c *Core) UploadsAbort(sessionID cmn.SessionId, caller cmn.PersonRef) error {
	if err := c.uploads.Abort(sessionID, caller); err != nil {
		return c.recordErr(err)
	}
	c.metrics.IncUploadAbort()
	return nil
}

// ReapExpired is the periodic cleanup hook the engine exposes for an
// operator CLI or scheduler to call.
func (c *Core) ReapExpired() (int, error) {
	n, err := c.uploads.ReapExpired()
	if err != nil {
		return 0, c.recordErr(err)
	}
	c.metrics.IncUploadReap(n)
	return n, nil
}

// Verify runs the startup orphan-page reconciliation pass.
func (c *Core) Verify() (blobsRemoved, chunksSwept int, err error) {
	return c.blobs.Verify()
}
