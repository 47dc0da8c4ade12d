package client

import (
	"fmt"
	"testing"
)

// sliceLoader serves pages out of a backing slice, tracking the extent the
// pager has loaded so far.
type sliceLoader struct {
	data []int
	low  int
	high int
}

func newSliceLoader(data []int) *sliceLoader {
	return &sliceLoader{data: data, low: len(data), high: len(data)}
}

func (l *sliceLoader) load(direction Direction, count int) ([]int, error) {
	switch direction {
	case PageUp:
		newLow := l.low - count
		if newLow < 0 {
			newLow = 0
		}
		out := l.data[newLow:l.low]
		l.low = newLow
		return out, nil
	default:
		newHigh := l.high + count
		if newHigh > len(l.data) {
			newHigh = len(l.data)
		}
		out := l.data[l.high:newHigh]
		l.high = newHigh
		return out, nil
	}
}

func checkWindow(t *testing.T, p *Pager[int], lower, upper, lowerLoaded, upperLoaded int) {
	t.Helper()
	gotLower, gotUpper, gotLowerLoaded, gotUpperLoaded := p.Window()
	if gotLower != lower || gotUpper != upper || gotLowerLoaded != lowerLoaded || gotUpperLoaded != upperLoaded {
		t.Fatalf("window = [%d,%d] loaded [%d,%d], want [%d,%d] loaded [%d,%d]",
			gotLower, gotUpper, gotLowerLoaded, gotUpperLoaded,
			lower, upper, lowerLoaded, upperLoaded)
	}
	if !(gotLowerLoaded <= gotLower && gotLower <= gotUpper && gotUpper <= gotUpperLoaded) {
		t.Fatalf("window [%d,%d] escapes loaded extent [%d,%d]",
			gotLower, gotUpper, gotLowerLoaded, gotUpperLoaded)
	}
}

func checkPagerVisibleRange(t *testing.T, p *Pager[int], first, last int) {
	t.Helper()
	visible := p.Visible()
	if len(visible) == 0 {
		t.Fatal("visible window is empty")
	}
	if visible[0] != first || visible[len(visible)-1] != last {
		t.Fatalf("visible = %d..%d (%d elements), want %d..%d",
			visible[0], visible[len(visible)-1], len(visible), first, last)
	}
	for i := 1; i < len(visible); i++ {
		if visible[i] != visible[i-1]+1 {
			t.Fatalf("visible window not contiguous at index %d", i)
		}
	}
}

// Walking back through 100 elements with 20-element pages and a 3-page
// window: the first three calls grow the window, the fourth slides it.
func TestPagerGrowsThenSlides(t *testing.T) {
	data := make([]int, 100)
	for i := range data {
		data[i] = i
	}
	loader := newSliceLoader(data)
	pager := NewPager(20, 3, len(data), loader.load)

	if got := pager.Visible(); got != nil {
		t.Fatalf("visible before first ChangePage = %v, want nil", got)
	}

	steps := []struct {
		lower, upper int
		first, last  int
	}{
		{4, 4, 80, 99}, // prime: tail page only
		{3, 4, 60, 99}, // grow
		{2, 4, 40, 99}, // grow to the 3-page cap
		{1, 3, 20, 79}, // slide
		{0, 2, 0, 59},  // slide to the start
	}
	for i, step := range steps {
		t.Run(fmt.Sprintf("up_%d", i), func(t *testing.T) {
			if err := pager.ChangePage(PageUp); err != nil {
				t.Fatalf("ChangePage: %v", err)
			}
			checkWindow(t, pager, step.lower, step.upper, 4-i, 4)
			checkPagerVisibleRange(t, pager, step.first, step.last)
		})
	}

	// The window cannot go below page zero.
	if err := pager.ChangePage(PageUp); err != nil {
		t.Fatalf("ChangePage at start: %v", err)
	}
	checkWindow(t, pager, 0, 2, 0, 4)

	// Walking back down slides without loading: everything is resident.
	if err := pager.ChangePage(PageDown); err != nil {
		t.Fatalf("ChangePage down: %v", err)
	}
	checkWindow(t, pager, 1, 3, 0, 4)
	checkPagerVisibleRange(t, pager, 20, 79)

	if loader.low != 0 || loader.high != 100 {
		t.Errorf("loader extent = [%d,%d), want [0,100)", loader.low, loader.high)
	}
}

func TestPagerStopsAtNewestPage(t *testing.T) {
	data := make([]int, 50)
	for i := range data {
		data[i] = i
	}
	loader := newSliceLoader(data)
	pager := NewPager(20, 3, len(data), loader.load)

	if err := pager.ChangePage(PageDown); err != nil {
		t.Fatalf("prime: %v", err)
	}
	// Already on the newest page; down is a no-op.
	if err := pager.ChangePage(PageDown); err != nil {
		t.Fatalf("ChangePage: %v", err)
	}
	checkWindow(t, pager, 2, 2, 2, 2)
	checkPagerVisibleRange(t, pager, 40, 49)
}

func TestPagerAppendExtendsTail(t *testing.T) {
	data := make([]int, 10)
	for i := range data {
		data[i] = i
	}
	loader := newSliceLoader(data)
	pager := NewPager(20, 3, len(data), loader.load)

	if err := pager.ChangePage(PageUp); err != nil {
		t.Fatalf("prime: %v", err)
	}
	checkPagerVisibleRange(t, pager, 0, 9)

	// Live messages arrive: splice them in and follow the tail.
	extra := make([]int, 15)
	for i := range extra {
		extra[i] = 10 + i
	}
	pager.Append(extra...)

	if err := pager.ChangePage(PageDown); err != nil {
		t.Fatalf("ChangePage after append: %v", err)
	}
	checkWindow(t, pager, 0, 1, 0, 1)
	checkPagerVisibleRange(t, pager, 0, 24)
}
