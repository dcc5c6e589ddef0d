package sequencer

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSequentialNext(t *testing.T) {
	tests := []struct {
		name     string
		size     int
		repeat   bool
		current  int
		wantNext int
		wantOK   bool
	}{
		{name: "Middle of list", size: 3, repeat: false, current: 0, wantNext: 1, wantOK: true},
		{name: "Last item no repeat", size: 3, repeat: false, current: 2, wantOK: false},
		{name: "Last item with repeat", size: 3, repeat: true, current: 2, wantNext: 0, wantOK: true},
		{name: "Single item no repeat", size: 1, repeat: false, current: 0, wantOK: false},
		{name: "Single item with repeat", size: 1, repeat: true, current: 0, wantNext: 0, wantOK: true},
		{name: "Empty list", size: 0, repeat: true, current: 0, wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(tt.size, ModeSequential, tt.repeat)
			next, ok := s.Next(tt.current)
			assert.Equal(t, tt.wantOK, ok)
			if tt.wantOK {
				assert.Equal(t, tt.wantNext, next)
			}
		})
	}
}

func TestPreviewAdvancesLikeSequential(t *testing.T) {
	s := New(3, ModePreview, false)

	next, ok := s.Next(0)
	require.True(t, ok)
	assert.Equal(t, 1, next)

	_, ok = s.Next(2)
	assert.False(t, ok)
}

func TestShuffleOrderIsPermutation(t *testing.T) {
	const n = 20
	s := New(n, ModeShuffle, true)

	order := s.Order()
	require.Len(t, order, n)

	sorted := make([]int, n)
	copy(sorted, order)
	sort.Ints(sorted)
	for i, v := range sorted {
		assert.Equal(t, i, v, "order must be a permutation of [0, n) without duplicates")
	}
}

func TestShuffleWalkVisitsEveryIndexOnce(t *testing.T) {
	const n = 7
	s := New(n, ModeShuffle, true)

	order := s.Order()
	start := order[0]

	seen := map[int]bool{start: true}
	current := start
	for i := 0; i < n-1; i++ {
		next, ok := s.Next(current)
		require.True(t, ok)
		assert.False(t, seen[next], "index %d visited twice", next)
		seen[next] = true
		current = next
	}

	// 循环开启时第N步回到起点
	next, ok := s.Next(current)
	require.True(t, ok)
	assert.Equal(t, start, next)
	assert.Len(t, seen, n)
}

func TestShuffleStopsAtOrderEndWithoutRepeat(t *testing.T) {
	const n = 5
	s := New(n, ModeShuffle, false)

	order := s.Order()
	last := order[len(order)-1]

	_, ok := s.Next(last)
	assert.False(t, ok, "walk must stop instead of wrapping when repeat is off")
}

func TestShuffleJumpToRotatesOrder(t *testing.T) {
	const n = 6
	s := New(n, ModeShuffle, false)

	original := s.Order()
	target := original[3]
	s.JumpTo(target)

	rotated := s.Order()
	require.Len(t, rotated, n)
	assert.Equal(t, target, rotated[0], "selected index becomes the new head")

	// 旋转不改变排列的成员
	sortedOrig := append([]int(nil), original...)
	sortedRot := append([]int(nil), rotated...)
	sort.Ints(sortedOrig)
	sort.Ints(sortedRot)
	assert.Equal(t, sortedOrig, sortedRot)

	// 旋转后仍然能无重复走完剩余曲目
	seen := map[int]bool{target: true}
	current := target
	for {
		next, ok := s.Next(current)
		if !ok {
			break
		}
		assert.False(t, seen[next])
		seen[next] = true
		current = next
	}
	assert.Len(t, seen, n)
}

func TestSetModeRegeneratesShuffleOrder(t *testing.T) {
	s := New(10, ModeSequential, false)
	assert.Empty(t, s.Order())

	s.SetMode(ModeShuffle)
	assert.Len(t, s.Order(), 10)

	s.SetMode(ModeSequential)
	assert.Empty(t, s.Order())
}

func TestSetSizeReshuffles(t *testing.T) {
	s := New(4, ModeShuffle, false)
	s.SetSize(8)

	order := s.Order()
	require.Len(t, order, 8)

	sorted := append([]int(nil), order...)
	sort.Ints(sorted)
	for i, v := range sorted {
		assert.Equal(t, i, v)
	}
}
