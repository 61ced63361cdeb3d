package cluster

import (
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/552020/futura-alpha-icp-sub007/cmn"
	"github.com/552020/futura-alpha-icp-sub007/kv"
)

func newTestStore() *Store {
	db, err := kv.Open("")
	Expect(err).NotTo(HaveOccurred())
	return NewStore(db)
}

var _ = Describe("Capsule store", func() {
	var (
		store  *Store
		owner  cmn.PersonRef
		other  cmn.PersonRef
		now    int64
	)

	BeforeEach(func() {
		store = newTestStore()
		owner = cmn.NewOpaque("owner-1")
		other = cmn.NewOpaque("owner-2")
		now = 1000
	})

	It("creates a capsule with exactly the initial owner", func() {
		id := cmn.GenCapsuleId()
		cap := NewCapsule(id, owner, owner, now)
		Expect(store.PutIfAbsent(cap)).To(Succeed())

		got, err := store.Get(id)
		Expect(err).NotTo(HaveOccurred())
		Expect(got.IsOwner(owner)).To(BeTrue())
		Expect(len(got.Owners)).To(Equal(1))
	})

	It("rejects a second capsule reusing the same id", func() {
		id := cmn.GenCapsuleId()
		cap := NewCapsule(id, owner, owner, now)
		Expect(store.PutIfAbsent(cap)).To(Succeed())

		dup := NewCapsule(id, other, other, now)
		err := store.PutIfAbsent(dup)
		Expect(err).To(HaveOccurred())
		Expect(cmn.IsKind(err, cmn.KindConflict)).To(BeTrue())
	})

	It("rejects two capsules bound to the same subject", func() {
		subject := cmn.NewOpaque("shared-subject")
		a := NewCapsule(cmn.GenCapsuleId(), subject, owner, now)
		Expect(store.PutIfAbsent(a)).To(Succeed())

		b := NewCapsule(cmn.GenCapsuleId(), subject, other, now)
		err := store.PutIfAbsent(b)
		Expect(err).To(HaveOccurred())
		Expect(cmn.IsKind(err, cmn.KindConflict)).To(BeTrue())
	})

	It("returns nil without error reading a missing capsule", func() {
		got, err := store.Get(cmn.CapsuleId("cap_missing"))
		Expect(err).NotTo(HaveOccurred())
		Expect(got).To(BeNil())
	})

	It("applies mutations only via UpdateWith and rolls back on error", func() {
		id := cmn.GenCapsuleId()
		cap := NewCapsule(id, owner, owner, now)
		Expect(store.PutIfAbsent(cap)).To(Succeed())

		_, err := UpdateWith(store, id, func(c *Capsule) (struct{}, error) {
			c.Owners[other.Key()] = OwnerState{LastActivityAt: now}
			return struct{}{}, cmn.InvalidArgument("force rollback")
		})
		Expect(err).To(HaveOccurred())

		got, _ := store.Get(id)
		Expect(got.IsOwner(other)).To(BeFalse(), "a failed UpdateWith must not persist partial mutation")
	})

	It("removes a capsule and its index entries", func() {
		id := cmn.GenCapsuleId()
		cap := NewCapsule(id, owner, owner, now)
		Expect(store.PutIfAbsent(cap)).To(Succeed())

		removed, err := store.Remove(id)
		Expect(err).NotTo(HaveOccurred())
		Expect(removed.ID).To(Equal(id))

		got, _ := store.Get(id)
		Expect(got).To(BeNil())

		// subject is free again for a new capsule.
		fresh := NewCapsule(cmn.GenCapsuleId(), cap.Subject, owner, now)
		Expect(store.PutIfAbsent(fresh)).To(Succeed())
	})

	It("paginates capsules in ascending order by id", func() {
		ids := make([]cmn.CapsuleId, 0, 5)
		for i := 0; i < 5; i++ {
			id := cmn.GenCapsuleId()
			ids = append(ids, id)
			Expect(store.PutIfAbsent(NewCapsule(id, cmn.NewOpaque(string(id)), owner, now))).To(Succeed())
		}

		page, err := store.Paginate(nil, 2, Asc)
		Expect(err).NotTo(HaveOccurred())
		Expect(len(page.Items)).To(Equal(2))
		Expect(page.NextCursor).NotTo(BeNil())

		next, err := store.Paginate(page.NextCursor, 10, Asc)
		Expect(err).NotTo(HaveOccurred())
		Expect(len(next.Items)).To(Equal(3))
	})
})

var _ = Describe("Capsule authorization gates", func() {
	It("CanWrite admits owner or subject only", func() {
		subject := cmn.NewOpaque("subj")
		owner := cmn.NewOpaque("own")
		stranger := cmn.NewOpaque("nope")
		cap := NewCapsule(cmn.GenCapsuleId(), subject, owner, 1)

		Expect(cap.CanWrite(owner)).To(BeTrue())
		Expect(cap.CanWrite(subject)).To(BeTrue())
		Expect(cap.CanWrite(stranger)).To(BeFalse())
	})

	It("CanUpload admits owner or controller only", func() {
		owner := cmn.NewOpaque("own")
		controller := cmn.NewOpaque("ctrl")
		stranger := cmn.NewOpaque("nope")
		cap := NewCapsule(cmn.GenCapsuleId(), owner, owner, 1)
		cap.Controllers[controller.Key()] = ControllerState{GrantedAt: 1}

		Expect(cap.CanUpload(owner)).To(BeTrue())
		Expect(cap.CanUpload(controller)).To(BeTrue())
		Expect(cap.CanUpload(stranger)).To(BeFalse())
	})
})
