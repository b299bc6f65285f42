package system

import (
	"context"
	"testing"
	"time"

	"emperror.dev/errors"
	. "github.com/franela/goblin"
)

func TestLocker(t *testing.T) {
	g := Goblin(t)

	g.Describe("Locker", func() {
		var l *Locker
		g.BeforeEach(func() {
			l = NewLocker()
		})

		g.Describe("Locker#IsLocked", func() {
			g.It("should return false when the channel is empty", func() {
				g.Assert(cap(l.ch)).Equal(1)
				g.Assert(l.IsLocked()).IsFalse()
			})

			g.It("should return true when the channel is at capacity", func() {
				l.ch <- true
				g.Assert(l.IsLocked()).IsTrue()
				<-l.ch
				g.Assert(l.IsLocked()).IsFalse()
			})
		})

		g.Describe("Locker#Acquire", func() {
			g.It("should acquire a lock when channel is empty", func() {
				err := l.Acquire()

				g.Assert(err).IsNil()
				g.Assert(len(l.ch)).Equal(1)
			})

			g.It("should return an error when the channel is full", func() {
				l.ch <- true

				err := l.Acquire()

				g.Assert(err).IsNotNil()
				g.Assert(errors.Is(err, ErrLockerLocked)).IsTrue()
				g.Assert(len(l.ch)).Equal(1)
			})
		})

		g.Describe("Locker#TryAcquire", func() {
			g.It("should return an error once the context expires", func() {
				g.Timeout(time.Second)
				ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*100)
				defer cancel()

				l.ch <- true
				err := l.TryAcquire(ctx)

				g.Assert(errors.Is(err, ErrLockerLocked)).IsTrue()
				g.Assert(l.IsLocked()).IsTrue()
			})

			g.It("should wait until the lock is released", func() {
				g.Timeout(time.Second)
				ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*500)
				defer cancel()

				g.Assert(l.Acquire()).IsNil()
				time.AfterFunc(time.Millisecond*50, l.Release)

				err := l.TryAcquire(ctx)
				g.Assert(err).IsNil()
				g.Assert(l.IsLocked()).IsTrue()
			})
		})

		g.Describe("Locker#Release", func() {
			g.It("should release when channel is full", func() {
				g.Assert(l.Acquire()).IsNil()
				l.Release()
				g.Assert(l.IsLocked()).IsFalse()
			})

			g.It("should be a no-op when channel is empty", func() {
				l.Release()
				g.Assert(len(l.ch)).Equal(0)
			})
		})
	})

	g.Describe("AtomicBool", func() {
		g.It("should only swap once", func() {
			b := NewAtomicBool(false)
			g.Assert(b.SwapIf(true)).IsTrue()
			g.Assert(b.SwapIf(true)).IsFalse()
			g.Assert(b.Load()).IsTrue()
		})
	})
}
