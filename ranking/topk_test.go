package ranking

import (
	"fmt"
	"math/rand"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twitch-chat-analytics/model"
)

func TestTopKOrdersByScoreThenFirst(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	top := New(3)
	top.Offer("b", "B", 10, base.Add(2*time.Second))
	top.Offer("a", "A", 10, base.Add(time.Second))
	top.Offer("c", "C", 20, base.Add(3*time.Second))

	got := top.Top(0)
	require.Len(t, got, 3)
	assert.Equal(t, "c", got[0].UserID)
	assert.Equal(t, "a", got[1].UserID)
	assert.Equal(t, "b", got[2].UserID)
	assert.Equal(t, got, top.Top(0))
}

func TestTopKEvictsWorstAndReadmitsOnGrowth(t *testing.T) {
	base := time.Now()
	top := New(2)
	top.Offer("a", "", 5, base)
	top.Offer("b", "", 3, base.Add(time.Second))
	top.Offer("c", "", 4, base.Add(2*time.Second))

	got := top.Top(0)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].UserID)
	assert.Equal(t, "c", got[1].UserID)

	top.Offer("b", "", 9, base.Add(time.Second))
	got = top.Top(0)
	assert.Equal(t, "b", got[0].UserID)
	assert.Equal(t, 9.0, got[0].Score)
	assert.Equal(t, "a", got[1].UserID)
	assert.Equal(t, 2, top.Len())
}

func TestTopKTopLimitsResult(t *testing.T) {
	top := New(10)
	for i := 0; i < 5; i++ {
		top.Offer(fmt.Sprint(i), "", float64(i), time.Time{})
	}
	assert.Len(t, top.Top(3), 3)
	assert.Len(t, top.Top(100), 5)

	top.Reset()
	assert.Empty(t, top.Top(0))
	assert.Equal(t, 10, top.Cap())
}

func TestTopKMatchesFullSort(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	const k = 5

	top := New(k)
	totals := map[string]float64{}
	firsts := map[string]time.Time{}
	for i := 0; i < 2000; i++ {
		key := fmt.Sprintf("u%02d", rng.Intn(40))
		if _, ok := firsts[key]; !ok {
			firsts[key] = base.Add(time.Duration(i) * time.Second)
		}
		totals[key] += float64(rng.Intn(3))
		top.Offer(key, "", totals[key], firsts[key])
	}

	type row struct {
		key   string
		score float64
		first time.Time
	}
	var all []row
	for k, v := range totals {
		all = append(all, row{k, v, firsts[k]})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score > all[j].score
		}
		if !all[i].first.Equal(all[j].first) {
			return all[i].first.Before(all[j].first)
		}
		return all[i].key < all[j].key
	})

	got := top.Top(k)
	require.Len(t, got, k)
	for i := range got {
		assert.Equal(t, all[i].key, got[i].UserID, "position %d", i)
		assert.Equal(t, all[i].score, got[i].Score)
	}
}

func TestSortMatchesTopKOrder(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rs := []model.Ranked{
		{UserID: "b", Score: 10, First: base.Add(2 * time.Second)},
		{UserID: "d", Score: 10, First: base.Add(time.Second)},
		{UserID: "a", Score: 10, First: base.Add(time.Second)},
		{UserID: "c", Score: 20, First: base.Add(3 * time.Second)},
	}
	top := New(len(rs))
	for _, r := range rs {
		top.Offer(r.UserID, "", r.Score, r.First)
	}

	Sort(rs)
	ids := make([]string, 0, len(rs))
	for _, r := range rs {
		ids = append(ids, r.UserID)
	}
	assert.Equal(t, []string{"c", "a", "d", "b"}, ids)

	got := top.Top(0)
	for i := range got {
		assert.Equal(t, ids[i], got[i].UserID)
	}
	assert.True(t, Less(rs[0], rs[1]))
	assert.False(t, Less(rs[1], rs[0]))
}
