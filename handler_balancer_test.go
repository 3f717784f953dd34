package frontproxy

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("NewWeightedUpstreams", func() {
	It("builds half-open ranges via a prefix-sum walk", func() {
		ups := NewWeightedUpstreams(
			[]string{"a", "b", "c"},
			[]int{1, 2, 3},
			[]float64{0.5, 0.3, 0.2},
		)

		Expect(ups[0].Lo).To(Equal(0.0))
		Expect(ups[0].Hi).To(Equal(0.5))
		Expect(ups[1].Lo).To(Equal(0.5))
		Expect(ups[1].Hi).To(BeNumerically("~", 0.8, 1e-9))
		Expect(ups[2].Lo).To(BeNumerically("~", 0.8, 1e-9))
		Expect(ups[2].Hi).To(BeNumerically("~", 1.0, 1e-9))
	})
})

var _ = Describe("LoadBalancerHandler.selectUpstream", func() {
	When("round_robin", func() {
		It("cycles through upstreams in order", func() {
			h := NewLoadBalancerHandler(RoundRobin, []Upstream{
				{Host: "a", Port: 1},
				{Host: "b", Port: 2},
			})

			first, err := h.selectUpstream()
			Expect(err).NotTo(HaveOccurred())
			second, err := h.selectUpstream()
			Expect(err).NotTo(HaveOccurred())
			third, err := h.selectUpstream()
			Expect(err).NotTo(HaveOccurred())

			Expect(first.Host).To(Equal("a"))
			Expect(second.Host).To(Equal("b"))
			Expect(third.Host).To(Equal("a"))
		})
	})

	When("weighted", func() {
		It("always selects the sole upstream covering the full [0,1) range", func() {
			h := NewLoadBalancerHandler(Weighted, []Upstream{{Host: "only", Port: 1, Lo: 0, Hi: 1}})

			for i := 0; i < 20; i++ {
				u, err := h.selectUpstream()
				Expect(err).NotTo(HaveOccurred())
				Expect(u.Host).To(Equal("only"))
			}
		})

		It("reports no match when the ranges don't cover the sample", func() {
			h := NewLoadBalancerHandler(Weighted, []Upstream{{Host: "only", Port: 1, Lo: 0, Hi: 0}})
			_, err := h.selectUpstream()
			Expect(err).To(MatchError(ErrNoRangeMatched))
		})

		It("converges on the configured weights over many selections", func() {
			ups := NewWeightedUpstreams(
				[]string{"a", "b", "c"},
				[]int{1, 2, 3},
				[]float64{0.6, 0.3, 0.1},
			)
			h := NewLoadBalancerHandler(Weighted, ups)

			const n = 10000
			counts := map[string]int{}
			for i := 0; i < n; i++ {
				u, err := h.selectUpstream()
				Expect(err).NotTo(HaveOccurred())
				counts[u.Host]++
			}

			// a tolerance of 2 percentage points against n=10000 samples
			// keeps this well clear of flaking on binomial noise while
			// still catching a badly broken range walk.
			const tolerance = 0.02
			Expect(float64(counts["a"]) / n).To(BeNumerically("~", 0.6, tolerance))
			Expect(float64(counts["b"]) / n).To(BeNumerically("~", 0.3, tolerance))
			Expect(float64(counts["c"]) / n).To(BeNumerically("~", 0.1, tolerance))
		})
	})

	When("no upstreams are configured", func() {
		It("returns ErrUpstreamUnavailable", func() {
			h := NewLoadBalancerHandler(RoundRobin, nil)
			_, err := h.selectUpstream()
			Expect(err).To(MatchError(ErrUpstreamUnavailable))
		})
	})
})
