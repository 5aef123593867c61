package orderbook

import "container/heap"

// offerHeap implements heap.Interface over open orders, cheapest unit price on top and
// older slots first on ties.
type offerHeap []*Order

func (h offerHeap) Len() int { return len(h) }
func (h offerHeap) Less(i, j int) bool {
	if c := h[i].UnitPrice.Cmp(h[j].UnitPrice); c != 0 {
		return c < 0
	}
	return h[i].ID < h[j].ID
}
func (h offerHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *offerHeap) Push(x interface{}) {
	*h = append(*h, x.(*Order))
}

func (h *offerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[0 : n-1]
	return x
}

// BestOffers returns up to n open orders of round with remaining amount, cheapest first.
// n <= 0 returns all of them.
func (b *Book) BestOffers(round uint64, n int) []*Order {
	h := &offerHeap{}
	for _, o := range b.rounds[round] {
		if o.Open && !o.Amount.IsZero() {
			*h = append(*h, o)
		}
	}
	heap.Init(h)

	if n <= 0 || n > h.Len() {
		n = h.Len()
	}
	out := make([]*Order, 0, n)
	for len(out) < n {
		out = append(out, heap.Pop(h).(*Order).Clone())
	}
	return out
}
