// Package ranking хранит ограниченный top-k рейтинг с детерминированным порядком.
package ranking

import (
	"container/heap"
	"sort"
	"time"

	"twitch-chat-analytics/model"
)

// TopK держит k лучших ключей по score. Порядок: score по убыванию,
// затем более раннее First, затем ключ.
//
// Score ключа может только расти: ключ, вытесненный из top-k, возвращается
// через следующий Offer с новым суммарным значением. Не потокобезопасен.
type TopK struct {
	k     int
	items minHeap
	index map[string]*item
}

type item struct {
	key   string
	name  string
	score float64
	first time.Time
	pos   int
}

// New создаёт рейтинг ёмкостью k (минимум 1).
func New(k int) *TopK {
	if k < 1 {
		k = 1
	}
	return &TopK{k: k, index: make(map[string]*item, k)}
}

// Offer сообщает новое суммарное значение для ключа.
// first хранит время первого вклада ключа, name отображаемое имя.
func (t *TopK) Offer(key, name string, score float64, first time.Time) {
	if it, ok := t.index[key]; ok {
		it.score = score
		if name != "" {
			it.name = name
		}
		if !first.IsZero() && (it.first.IsZero() || first.Before(it.first)) {
			it.first = first
		}
		heap.Fix(&t.items, it.pos)
		return
	}

	candidate := &item{key: key, name: name, score: score, first: first}
	if len(t.items) < t.k {
		heap.Push(&t.items, candidate)
		t.index[key] = candidate
		return
	}

	worst := t.items[0]
	if !better(candidate, worst) {
		return
	}
	delete(t.index, worst.key)
	candidate.pos = 0
	t.items[0] = candidate
	t.index[key] = candidate
	heap.Fix(&t.items, 0)
}

// Len возвращает число ключей в рейтинге.
func (t *TopK) Len() int { return len(t.items) }

// Cap возвращает ёмкость рейтинга.
func (t *TopK) Cap() int { return t.k }

// Top возвращает до n лучших ключей в порядке рейтинга. n <= 0 означает все.
func (t *TopK) Top(n int) []model.Ranked {
	sorted := make([]*item, len(t.items))
	copy(sorted, t.items)
	sort.Slice(sorted, func(i, j int) bool { return better(sorted[i], sorted[j]) })

	if n <= 0 || n > len(sorted) {
		n = len(sorted)
	}
	out := make([]model.Ranked, 0, n)
	for _, it := range sorted[:n] {
		out = append(out, it.ranked())
	}
	return out
}

// Reset очищает рейтинг, сохраняя ёмкость.
func (t *TopK) Reset() {
	t.items = t.items[:0]
	t.index = make(map[string]*item, t.k)
}

func better(a, b *item) bool {
	return Less(a.ranked(), b.ranked())
}

func (it *item) ranked() model.Ranked {
	return model.Ranked{UserID: it.key, Name: it.name, Score: it.score, First: it.first}
}

// Less сообщает, стоит ли a в рейтинге выше b: score по убыванию, затем
// более раннее First, затем UserID.
func Less(a, b model.Ranked) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if !a.First.Equal(b.First) {
		return a.First.Before(b.First)
	}
	return a.UserID < b.UserID
}

// Sort упорядочивает rs в порядке рейтинга.
func Sort(rs []model.Ranked) {
	sort.Slice(rs, func(i, j int) bool { return Less(rs[i], rs[j]) })
}

// minHeap держит худший элемент в корне.
type minHeap []*item

func (h minHeap) Len() int           { return len(h) }
func (h minHeap) Less(i, j int) bool { return better(h[j], h[i]) }
func (h minHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].pos = i
	h[j].pos = j
}

func (h *minHeap) Push(x any) {
	it := x.(*item)
	it.pos = len(*h)
	*h = append(*h, it)
}

func (h *minHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}
