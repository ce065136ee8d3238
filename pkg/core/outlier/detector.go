// Package outlier classifies whether a key continues the sorted run of the
// insertion stream or jumps too far ahead of it. The detector keeps a running
// mean of consecutive key gaps in the sorted index and flags a key whose gap
// reaches avgGap * tolerance; the tolerance factor itself adapts toward the
// workload's expected gap.
package outlier

import "duodb/pkg/common"

const errBand = 0.5

// Detector state is runtime-only: after a reopen it restarts from the
// sentinel and relearns the stream, which affects routing quality only.
type Detector struct {
	prevKey  common.KeyType
	havePrev bool
	avgGap   float64 // -1 until two keys have been observed
	tol      float64

	initTol  float64
	minTol   float64
	expected float64 // expected mean gap of the sorted run
}

// New builds a detector. A non-positive initTol disables it: IsOutlier
// always answers false.
func New(initTol, minTol, expected float64) *Detector {
	return &Detector{
		avgGap:   -1,
		tol:      initTol,
		initTol:  initTol,
		minTol:   minTol,
		expected: expected,
	}
}

// IsOutlier decides whether k breaks the sorted run. n is the sorted index
// size before this key is admitted. A true verdict leaves all state
// untouched (the key goes elsewhere); a false verdict folds k's gap into the
// running mean and adapts the tolerance.
func (d *Detector) IsOutlier(k common.KeyType, n int) bool {
	if d.tol <= 0 {
		return false
	}
	if d.avgGap < 0 {
		if !d.havePrev {
			d.prevKey = k
			d.havePrev = true
			return false
		}
		d.avgGap = float64(k - d.prevKey)
		d.prevKey = k
		return false
	}

	gap := float64(k - d.prevKey)
	if gap >= d.avgGap*d.tol {
		return true
	}

	d.avgGap = (d.avgGap*float64(n-1) + gap) / float64(n)
	d.prevKey = k
	d.adapt()
	return false
}

// ObserveDense is called after an insert lands inside the tail leaf rather
// than at the true tail. Such keys sit between existing ones, so the
// observed gap is nudged toward 1. n is the sorted index size including the
// new key.
func (d *Detector) ObserveDense(n int) {
	if d.tol <= 0 || d.avgGap < 0 || n < 1 {
		return
	}
	d.avgGap = (d.avgGap*float64(n-1) + 1) / float64(n)
	d.adapt()
}

// adapt applies the ratio rule: snap the tolerance back to its initial value
// while the mean gap sits near the expected one, otherwise scale it down in
// proportion, never below the floor. Disabled when the expected gap is
// configured at or below 1.
func (d *Detector) adapt() {
	if d.expected > 1 {
		if d.avgGap < d.expected+errBand {
			d.tol = d.initTol
		} else {
			d.tol = d.tol * (d.expected / d.avgGap)
		}
	}
	if d.tol < d.minTol {
		d.tol = d.minTol
	}
}

// AvgGap exposes the running mean gap (-1 before two keys were seen).
func (d *Detector) AvgGap() float64 { return d.avgGap }

// Tolerance exposes the current tolerance factor.
func (d *Detector) Tolerance() float64 { return d.tol }
