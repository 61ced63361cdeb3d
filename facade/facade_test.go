package facade

import (
	"crypto/sha256"
	"os"
	"sync"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/552020/futura-alpha-icp-sub007/cluster"
	"github.com/552020/futura-alpha-icp-sub007/cmn"
	"github.com/552020/futura-alpha-icp-sub007/kv"
	"github.com/552020/futura-alpha-icp-sub007/memory"
)

func newTestCore() (core *Core, cleanup func()) {
	db, err := kv.Open("")
	Expect(err).NotTo(HaveOccurred())
	root, err := os.MkdirTemp("", "capsule-facade-test-*")
	Expect(err).NotTo(HaveOccurred())
	return New(db, root), func() { _ = os.RemoveAll(root) }
}

var _ = Describe("Capsule lifecycle", func() {
	var (
		core    *Core
		owner   cmn.PersonRef
		cleanup func()
	)

	BeforeEach(func() {
		core, cleanup = newTestCore()
		owner = cmn.NewOpaque("owner-1")
	})

	AfterEach(func() { cleanup() })

	It("creates a capsule bound to the caller as subject when none is given", func() {
		res, err := core.CapsulesCreate(owner, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(res.ID).NotTo(BeEmpty())
		Expect(res.Subject).To(Equal(owner))

		cap, err := core.CapsulesRead(res.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(cap.IsOwner(owner)).To(BeTrue())
	})

	It("reads back the summary projection via CapsulesReadBasic", func() {
		res, err := core.CapsulesCreate(owner, nil)
		Expect(err).NotTo(HaveOccurred())

		info, err := core.CapsulesReadBasic(res.ID)
		Expect(err).NotTo(HaveOccurred())
		Expect(info.OwnerCount).To(Equal(1))
		Expect(info.MemoryCount).To(Equal(0))
	})

	It("rejects CapsulesUpdate from a non-owner", func() {
		res, err := core.CapsulesCreate(owner, nil)
		Expect(err).NotTo(HaveOccurred())

		stranger := cmn.NewOpaque("stranger")
		err = core.CapsulesUpdate(res.ID, stranger, CapsulePatch{AddOwners: []cmn.PersonRef{stranger}})
		Expect(cmn.IsKind(err, cmn.KindUnauthorized)).To(BeTrue())
	})

	It("rejects removing the last owner", func() {
		res, err := core.CapsulesCreate(owner, nil)
		Expect(err).NotTo(HaveOccurred())

		err = core.CapsulesUpdate(res.ID, owner, CapsulePatch{RemoveOwners: []cmn.PersonRef{owner}})
		Expect(cmn.IsKind(err, cmn.KindInvalidArgument)).To(BeTrue())
	})

	It("deletes a capsule so reading it returns NotFound", func() {
		res, err := core.CapsulesCreate(owner, nil)
		Expect(err).NotTo(HaveOccurred())

		Expect(core.CapsulesDelete(res.ID, owner)).To(Succeed())

		_, err = core.CapsulesRead(res.ID)
		Expect(cmn.IsKind(err, cmn.KindNotFound)).To(BeTrue())
	})
})

var _ = Describe("Memory creation and retrieval", func() {
	var (
		core      *Core
		owner     cmn.PersonRef
		capsuleID cmn.CapsuleId
		cleanup   func()
	)

	BeforeEach(func() {
		core, cleanup = newTestCore()
		owner = cmn.NewOpaque("owner-1")
		res, err := core.CapsulesCreate(owner, nil)
		Expect(err).NotTo(HaveOccurred())
		capsuleID = res.ID
	})

	AfterEach(func() { cleanup() })

	It("creates an inline memory and reads its blob back", func() {
		data := []byte("hello inline")
		id, err := core.MemoriesCreate(capsuleID, owner, memory.CreatePayload{
			Inline: &memory.InlinePayload{Bytes: data, Meta: cluster.MemoryMeta{Name: "greeting"}},
		}, "")
		Expect(err).NotTo(HaveOccurred())
		Expect(id).NotTo(BeEmpty())

		got, err := core.MemoriesReadBlob(capsuleID, id)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(data))
	})

	It("rejects an inline payload over the configured limit", func() {
		cfg := cmn.GCO.BeginUpdate()
		cfg.InlineMax = 4
		cmn.GCO.CommitUpdate(cfg)
		defer func() {
			restore := cmn.GCO.BeginUpdate()
			restore.InlineMax = cmn.DefaultConfig().InlineMax
			cmn.GCO.CommitUpdate(restore)
		}()

		_, err := core.MemoriesCreate(capsuleID, owner, memory.CreatePayload{
			Inline: &memory.InlinePayload{Bytes: []byte("too long for the limit")},
		}, "")
		Expect(cmn.IsKind(err, cmn.KindInvalidArgument)).To(BeTrue())
	})

	It("coalesces concurrent creations sharing the same idempotency key", func() {
		var (
			wg   sync.WaitGroup
			ids  = make([]cmn.MemoryId, 8)
			errs = make([]error, 8)
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ids[i], errs[i] = core.MemoriesCreate(capsuleID, owner, memory.CreatePayload{
					Inline: &memory.InlinePayload{Bytes: []byte("same content")},
				}, "race-idem")
			}(i)
		}
		wg.Wait()

		for _, err := range errs {
			Expect(err).NotTo(HaveOccurred())
		}
		for _, id := range ids[1:] {
			Expect(id).To(Equal(ids[0]), "every racing call sharing an idem key must settle on one MemoryId")
		}
	})

	It("lists memories and pings their presence", func() {
		id, err := core.MemoriesCreate(capsuleID, owner, memory.CreatePayload{
			Inline: &memory.InlinePayload{Bytes: []byte("x"), Meta: cluster.MemoryMeta{Name: "x"}},
		}, "")
		Expect(err).NotTo(HaveOccurred())

		headers, err := core.MemoriesList(capsuleID, PageArgs{})
		Expect(err).NotTo(HaveOccurred())
		Expect(headers).To(HaveLen(1))

		results, err := core.MemoriesPing(capsuleID, []cmn.MemoryId{id, "cap_missing"})
		Expect(err).NotTo(HaveOccurred())
		Expect(results[0].Present).To(BeTrue())
		Expect(results[1].Present).To(BeFalse())
	})
})

var _ = Describe("Upload session round trip through the façade", func() {
	It("begins, stages, and finishes a chunked upload into a readable memory", func() {
		core, cleanup := newTestCore()
		defer cleanup()
		owner := cmn.NewOpaque("owner-1")
		res, err := core.CapsulesCreate(owner, nil)
		Expect(err).NotTo(HaveOccurred())

		data := []byte("chunked payload bytes")
		sid, err := core.UploadsBegin(res.ID, owner, cluster.MemoryMeta{Name: "upload"}, 1, "")
		Expect(err).NotTo(HaveOccurred())

		Expect(core.UploadsPutChunk(sid, owner, 0, data)).To(Succeed())

		sum := sha256.Sum256(data)
		id, err := core.UploadsFinish(sid, owner, sum, uint64(len(data)))
		Expect(err).NotTo(HaveOccurred())

		got, err := core.MemoriesReadBlob(res.ID, id)
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(Equal(data))
	})
})
