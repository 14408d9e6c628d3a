package inference

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// mockGenerator records concurrent use and can block until released
type mockGenerator struct {
	suffix   string
	err      error
	release  chan struct{}
	started  chan struct{}
	active   atomic.Int32
	peak     atomic.Int32
	calls    atomic.Int32
	closed   atomic.Bool
	closeErr error
}

func (m *mockGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	m.calls.Add(1)
	n := m.active.Add(1)
	defer m.active.Add(-1)
	for {
		peak := m.peak.Load()
		if n <= peak || m.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	if m.started != nil {
		m.started <- struct{}{}
	}
	if m.release != nil {
		select {
		case <-m.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if m.err != nil {
		return "", m.err
	}
	return prompt + m.suffix, nil
}

func (m *mockGenerator) Close() error {
	m.closed.Store(true)
	return m.closeErr
}

var _ = Describe("Pool", func() {
	var (
		generator *mockGenerator
		pool      *Pool
	)

	BeforeEach(func() {
		generator = &mockGenerator{suffix: "{}"}
	})

	JustBeforeEach(func() {
		var err error
		pool, err = NewPool([]Generator{generator}, 4)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		pool.Close()
	})

	It("should return the generator's output", func() {
		raw, err := pool.Generate(context.Background(), "prompt:")
		Expect(err).NotTo(HaveOccurred())
		Expect(raw).To(Equal("prompt:{}"))
	})

	It("should report its size", func() {
		Expect(pool.Size()).To(Equal(1))
	})

	It("should never run one generator concurrently", func() {
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer GinkgoRecover()
				defer wg.Done()
				_, err := pool.Generate(context.Background(), "p")
				Expect(err).NotTo(HaveOccurred())
			}()
		}
		wg.Wait()

		Expect(generator.calls.Load()).To(BeNumerically("==", 8))
		Expect(generator.peak.Load()).To(BeNumerically("==", 1))
	})

	When("the generator fails", func() {
		BeforeEach(func() {
			generator.err = errors.New("CUDA out of memory")
		})

		It("should return an InferenceError", func() {
			_, err := pool.Generate(context.Background(), "p")
			var ie *InferenceError
			Expect(errors.As(err, &ie)).To(BeTrue())
			Expect(err).To(MatchError(ContainSubstring("CUDA out of memory")))
		})
	})

	When("a caller gives up while queued", func() {
		BeforeEach(func() {
			generator.release = make(chan struct{})
			generator.started = make(chan struct{}, 1)
		})

		It("should release the caller and skip the job", func() {
			firstDone := make(chan error, 1)
			go func() {
				_, err := pool.Generate(context.Background(), "first")
				firstDone <- err
			}()
			Eventually(generator.started).Should(Receive())

			ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
			defer cancel()
			_, err := pool.Generate(ctx, "second")
			Expect(errors.Is(err, context.DeadlineExceeded)).To(BeTrue())
			var ie *InferenceError
			Expect(errors.As(err, &ie)).To(BeTrue())

			close(generator.release)
			Eventually(firstDone).Should(Receive(BeNil()))
			Consistently(generator.calls.Load).Should(BeNumerically("==", 1))
		})
	})

	When("the pool is closed", func() {
		It("should close the generators", func() {
			Expect(pool.Close()).To(Succeed())
			Expect(generator.closed.Load()).To(BeTrue())
		})

		It("should reject new requests", func() {
			Expect(pool.Close()).To(Succeed())
			_, err := pool.Generate(context.Background(), "p")
			Expect(errors.Is(err, ErrPoolClosed)).To(BeTrue())
		})

		It("should be safe to close twice", func() {
			Expect(pool.Close()).To(Succeed())
			Expect(pool.Close()).To(Succeed())
		})
	})

	It("should require a generator", func() {
		_, err := NewPool(nil, 1)
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Pool with several instances", func() {
	It("should run instances in parallel", func() {
		release := make(chan struct{})
		started := make(chan struct{}, 2)
		a := &mockGenerator{release: release, started: started}
		b := &mockGenerator{release: release, started: started}

		pool, err := NewPool([]Generator{a, b}, 0)
		Expect(err).NotTo(HaveOccurred())
		defer pool.Close()

		for i := 0; i < 2; i++ {
			go pool.Generate(context.Background(), "p")
		}
		Eventually(started).Should(Receive())
		Eventually(started).Should(Receive())
		close(release)

		Expect(a.calls.Load() + b.calls.Load()).To(BeNumerically("==", 2))
	})
})
