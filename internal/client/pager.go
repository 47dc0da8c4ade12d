package client

// Direction selects which edge of the pager window moves.
type Direction int

const (
	// PageUp moves toward older elements (lower indices).
	PageUp Direction = iota
	// PageDown moves toward newer elements.
	PageDown
)

// PageLoader fetches count elements beyond the currently loaded extent in
// the given direction. For PageUp the elements directly precede the
// loaded extent, oldest first; for PageDown they directly follow it.
type PageLoader[T any] func(direction Direction, count int) ([]T, error)

// Pager keeps a bounded visible window over a long ordered sequence,
// lazily growing the loaded extent one page at a time. The window grows
// from nothing up to maxPages pages, then slides. Pages are fixed-size
// slices of the full backing sequence; only [lowerLoadedPage,
// upperLoadedPage] is resident.
type Pager[T any] struct {
	pageSize    int
	maxPages    int
	totalLength int
	load        PageLoader[T]

	primed bool
	items  []T

	lowerPage       int
	upperPage       int
	lowerLoadedPage int
	upperLoadedPage int
}

func NewPager[T any](pageSize, maxPages, totalLength int, load PageLoader[T]) *Pager[T] {
	return &Pager[T]{
		pageSize:    pageSize,
		maxPages:    maxPages,
		totalLength: totalLength,
		load:        load,
	}
}

func (p *Pager[T]) lastPage() int {
	if p.totalLength <= 0 {
		return 0
	}
	return (p.totalLength - 1) / p.pageSize
}

// prime materializes the tail page; the first ChangePage call lands here.
func (p *Pager[T]) prime() error {
	tail := p.lastPage()
	count := p.totalLength - tail*p.pageSize
	if count > 0 {
		items, err := p.load(PageUp, count)
		if err != nil {
			return err
		}
		p.items = items
	}
	p.lowerPage, p.upperPage = tail, tail
	p.lowerLoadedPage, p.upperLoadedPage = tail, tail
	p.primed = true
	return nil
}

// ChangePage moves the window one page in the given direction, loading
// another page when the window edge already sits on the loaded edge. While
// the window spans fewer than maxPages pages only the leading edge moves
// (grow); afterwards the whole window slides.
func (p *Pager[T]) ChangePage(direction Direction) error {
	if !p.primed {
		return p.prime()
	}

	switch direction {
	case PageUp:
		if p.lowerPage == 0 {
			return nil
		}
		if p.lowerPage == p.lowerLoadedPage {
			fetched, err := p.load(PageUp, p.pageSize)
			if err != nil {
				return err
			}
			p.items = append(fetched, p.items...)
			p.lowerLoadedPage--
		}
		p.lowerPage--
		if p.upperPage-p.lowerPage > p.maxPages-1 {
			p.upperPage--
		}

	case PageDown:
		if p.upperPage >= p.lastPage() {
			return nil
		}
		if p.upperPage == p.upperLoadedPage {
			fetched, err := p.load(PageDown, p.pageSize)
			if err != nil {
				return err
			}
			p.items = append(p.items, fetched...)
			p.upperLoadedPage++
		}
		p.upperPage++
		if p.upperPage-p.lowerPage > p.maxPages-1 {
			p.lowerPage++
		}
	}
	return nil
}

// SetTotalLength accounts for external growth of the backing sequence
// (e.g. a live append already spliced into the loaded items), recomputing
// the upper loaded edge so page arithmetic stays consistent.
func (p *Pager[T]) SetTotalLength(n int) {
	if n <= p.totalLength {
		return
	}
	p.totalLength = n
	if !p.primed {
		return
	}
	loadedEnd := p.lowerLoadedPage*p.pageSize + len(p.items)
	if loadedEnd > 0 {
		if newUpper := (loadedEnd - 1) / p.pageSize; newUpper > p.upperLoadedPage {
			p.upperLoadedPage = newUpper
		}
	}
}

// Append splices live elements onto the loaded tail and grows the backing
// length accordingly.
func (p *Pager[T]) Append(items ...T) {
	if !p.primed {
		p.totalLength += len(items)
		return
	}
	p.items = append(p.items, items...)
	p.SetTotalLength(p.totalLength + len(items))
}

// Visible returns the elements inside the current window.
func (p *Pager[T]) Visible() []T {
	if !p.primed {
		return nil
	}
	start := (p.lowerPage - p.lowerLoadedPage) * p.pageSize
	end := start + (p.upperPage-p.lowerPage+1)*p.pageSize
	if end > len(p.items) {
		end = len(p.items)
	}
	if start > len(p.items) {
		start = len(p.items)
	}
	return p.items[start:end]
}

// Window exposes the page bounds for diagnostics and tests.
func (p *Pager[T]) Window() (lowerPage, upperPage, lowerLoadedPage, upperLoadedPage int) {
	return p.lowerPage, p.upperPage, p.lowerLoadedPage, p.upperLoadedPage
}
