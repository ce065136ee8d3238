package monitor

// Predictor is a fixed-window frequency counter over recent point-query
// outcomes, used to decide which index to probe first. Each slot records
// which side answered (or should have answered) a query.
type Predictor struct {
	window   []uint8 // 0 = sorted, 1 = unsorted
	idx      int     // next slot to overwrite
	filled   int
	sorted   int
	unsorted int
}

func NewPredictor(size int) *Predictor {
	return &Predictor{window: make([]uint8, size)}
}

// Update records one outcome, evicting the oldest slot once the window is
// full.
func (p *Predictor) Update(unsorted bool) {
	if len(p.window) == 0 {
		return
	}
	if p.filled == len(p.window) {
		if p.window[p.idx] == 1 {
			p.unsorted--
		} else {
			p.sorted--
		}
	} else {
		p.filled++
	}

	if unsorted {
		p.window[p.idx] = 1
		p.unsorted++
	} else {
		p.window[p.idx] = 0
		p.sorted++
	}
	p.idx = (p.idx + 1) % len(p.window)
}

// ProbeUnsortedFirst recommends probing the unsorted index first when it has
// answered strictly more of the recent queries.
func (p *Predictor) ProbeUnsortedFirst() bool {
	return p.unsorted > p.sorted
}

// Primed reports whether the window has seen enough outcomes to trust.
func (p *Predictor) Primed() bool {
	return len(p.window) > 0 && p.filled == len(p.window)
}
