package wqueue_test

import (
	"context"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/ledgerline/stomp-relay/wqueue"
)

var _ = Describe("Queue", func() {
	It("computes default watermarks as ceil(3N/4) and ceil(N/4)", func() {
		q := wqueue.New[int](8)
		var highFired, lowFired int32
		q.OnHigh(func() { atomic.AddInt32(&highFired, 1) })
		q.OnLow(func() { atomic.AddInt32(&lowFired, 1) })

		ctx := context.Background()
		for i := 0; i < 6; i++ { // high = ceil(24/4) = 6
			Expect(q.Put(ctx, i)).To(Succeed())
		}
		Expect(atomic.LoadInt32(&highFired)).To(Equal(int32(1)))

		for i := 0; i < 4; i++ { // drain down to low = 2
			_, err := q.Get(ctx)
			Expect(err).NotTo(HaveOccurred())
		}
		Expect(atomic.LoadInt32(&lowFired)).To(Equal(int32(1)))
	})

	It("fires OnHigh exactly once for a capacity-2 queue (scenario 5: pause_reading after two unacked RECEIPTs)", func() {
		q := wqueue.New[int](2) // high = ceil(6/4) = 2 == cap
		var highFired int32
		q.OnHigh(func() { atomic.AddInt32(&highFired, 1) })

		ctx := context.Background()
		Expect(q.Put(ctx, 1)).To(Succeed())
		Expect(atomic.LoadInt32(&highFired)).To(Equal(int32(0)))
		Expect(q.Put(ctx, 2)).To(Succeed()) // len reaches cap == high here
		Expect(atomic.LoadInt32(&highFired)).To(Equal(int32(1)))
	})

	It("only fires on the edge, not on every Put above the watermark", func() {
		q := wqueue.New[int](4) // high = 3
		var highFired int32
		q.OnHigh(func() { atomic.AddInt32(&highFired, 1) })

		ctx := context.Background()
		Expect(q.Put(ctx, 1)).To(Succeed())
		Expect(q.Put(ctx, 2)).To(Succeed())
		Expect(q.Put(ctx, 3)).To(Succeed()) // crosses high here
		Expect(q.Put(ctx, 4)).To(Succeed()) // already above; must not refire
		Expect(atomic.LoadInt32(&highFired)).To(Equal(int32(1)))
	})

	It("blocks Put at capacity until a Get makes room", func() {
		q := wqueue.New[int](1)
		ctx := context.Background()
		Expect(q.Put(ctx, 1)).To(Succeed())

		done := make(chan struct{})
		go func() {
			defer close(done)
			Expect(q.Put(ctx, 2)).To(Succeed())
		}()

		Consistently(done, 50*time.Millisecond).ShouldNot(BeClosed())
		_, err := q.Get(ctx)
		Expect(err).NotTo(HaveOccurred())
		Eventually(done, time.Second).Should(BeClosed())
	})

	It("unblocks Get/Put with the context error when ctx is canceled", func() {
		q := wqueue.New[int](1)
		ctx, cancel := context.WithCancel(context.Background())

		errCh := make(chan error, 1)
		go func() {
			_, err := q.Get(ctx)
			errCh <- err
		}()
		time.Sleep(20 * time.Millisecond)
		cancel()
		Eventually(errCh, time.Second).Should(Receive(Equal(context.Canceled)))
	})

	It("wakes blocked callers with ErrClosed on Close", func() {
		q := wqueue.New[int](1)
		errCh := make(chan error, 1)
		go func() {
			_, err := q.Get(context.Background())
			errCh <- err
		}()
		time.Sleep(20 * time.Millisecond)
		q.Close()
		Eventually(errCh, time.Second).Should(Receive(Equal(wqueue.ErrClosed)))
	})
})
