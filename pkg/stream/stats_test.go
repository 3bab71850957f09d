package stream_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/Alpaca-Network/gatewayz-frontend-sub017/pkg/stream"
)

var _ = Describe("Stats", func() {
	var base time.Time

	BeforeEach(func() {
		base = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	})

	It("derives timing from the recorded moments", func() {
		st := stream.NewStats(base)
		st.RecordFirstToken(base.Add(500 * time.Millisecond))
		st.AddChars(400)

		timing := st.Snapshot(base.Add(10*time.Second + 500*time.Millisecond))
		Expect(timing.TimeToFirstToken).To(Equal(500 * time.Millisecond))
		Expect(timing.TotalTime).To(Equal(10*time.Second + 500*time.Millisecond))
		Expect(timing.EstimatedTokens).To(Equal(100))
		// 100 estimated tokens over the 10s generation window.
		Expect(timing.TokensPerSecond).To(BeNumerically("~", 10.0, 0.001))
	})

	It("only honors the first RecordFirstToken call", func() {
		st := stream.NewStats(base)
		st.RecordFirstToken(base.Add(time.Second))
		st.RecordFirstToken(base.Add(5 * time.Second))

		first, ok := st.FirstToken()
		Expect(ok).To(BeTrue())
		Expect(first).To(Equal(base.Add(time.Second)))
	})

	It("reports no throughput when no token ever arrived", func() {
		st := stream.NewStats(base)

		timing := st.Snapshot(base.Add(3 * time.Second))
		Expect(timing.TimeToFirstToken).To(BeZero())
		Expect(timing.TokensPerSecond).To(BeZero())
		Expect(timing.TotalTime).To(Equal(3 * time.Second))

		_, ok := st.FirstToken()
		Expect(ok).To(BeFalse())
	})

	It("reports no throughput over an empty generation window", func() {
		st := stream.NewStats(base)
		end := base.Add(2 * time.Second)
		st.RecordFirstToken(end)
		st.AddChars(40)

		timing := st.Snapshot(end)
		Expect(timing.TokensPerSecond).To(BeZero())
		Expect(timing.EstimatedTokens).To(Equal(10))
	})

	It("rounds estimated tokens down", func() {
		st := stream.NewStats(base)
		st.AddChars(7)

		timing := st.Snapshot(base.Add(time.Second))
		Expect(timing.EstimatedTokens).To(Equal(1))
	})
})
