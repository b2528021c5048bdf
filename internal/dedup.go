package internal

import "sync"

// DefaultDedupWindow is the number of recently admitted claim ids remembered
const DefaultDedupWindow = 64

// Deduplicator rejects claim ids that were admitted recently.
//
// It remembers the last `window` admitted ids in arrival order. With a window of one
// only back-to-back redeliveries are caught, which is how the relay behaved when the
// watermark was a single scalar.
type Deduplicator struct {
	mu        sync.Mutex
	window    int
	recent    []uint64
	seen      map[uint64]struct{}
	watermark uint64
}

// NewDeduplicator creates a deduplicator remembering up to window ids (minimum 1)
func NewDeduplicator(window int) *Deduplicator {
	if window < 1 {
		window = 1
	}
	return &Deduplicator{
		window: window,
		recent: make([]uint64, 0, window),
		seen:   make(map[uint64]struct{}, window),
	}
}

// Admit returns true and records the id unless it is already remembered
func (d *Deduplicator) Admit(claimID uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[claimID]; ok {
		return false
	}
	if len(d.recent) == d.window {
		oldest := d.recent[0]
		d.recent = d.recent[1:]
		delete(d.seen, oldest)
	}
	d.recent = append(d.recent, claimID)
	d.seen[claimID] = struct{}{}
	if claimID > d.watermark {
		d.watermark = claimID
	}
	return true
}

// Forget drops an id from the window so a later delivery is admitted again.
// The watermark is left untouched.
func (d *Deduplicator) Forget(claimID uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[claimID]; !ok {
		return
	}
	delete(d.seen, claimID)
	for i, id := range d.recent {
		if id == claimID {
			d.recent = append(d.recent[:i], d.recent[i+1:]...)
			break
		}
	}
}

// Watermark returns the highest claim id admitted so far, 0 before the first admit
func (d *Deduplicator) Watermark() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.watermark
}

// Last returns the most recently admitted claim id
func (d *Deduplicator) Last() (uint64, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.recent) == 0 {
		return 0, false
	}
	return d.recent[len(d.recent)-1], true
}
