package content

import "sync"

// ProgressFunc receives completion fractions in [0, 1]. Implementations
// must tolerate calls from multiple goroutines.
type ProgressFunc func(fraction float64)

// Progress accumulates fractional progress from concurrent workers. Updates
// go through a mutex rather than a lock-free add because the accumulator is
// a float; concurrent read-modify-write cycles would lose increments.
type Progress struct {
	mu       sync.Mutex
	fraction float64
	report   ProgressFunc
}

// NewProgress returns an accumulator that forwards each new total to report.
// A nil report is allowed; the accumulator then only tracks the fraction.
func NewProgress(report ProgressFunc) *Progress {
	return &Progress{report: report}
}

// Add adds delta to the completed fraction, clamped to 1.0.
func (p *Progress) Add(delta float64) {
	if p == nil {
		return
	}
	p.mu.Lock()
	p.fraction += delta
	if p.fraction > 1 {
		p.fraction = 1
	}
	f := p.fraction
	report := p.report
	p.mu.Unlock()
	if report != nil {
		report(f)
	}
}

// Fraction returns the completed fraction so far.
func (p *Progress) Fraction() float64 {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fraction
}
