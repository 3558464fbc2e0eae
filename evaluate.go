package pngshrink

import (
	"runtime"
	"sync"
)

// Candidate is the evaluator's winner: the encoded image, the filter that
// produced it, and whether it came from a reduction rather than the
// baseline.
type Candidate struct {
	Image       *PngData
	Filter      RowFilter
	IsReduction bool
}

// Evaluator accepts competing image proposals, filters each with a small
// filter set, compresses them at a cheap level, and retains the smallest.
// Images are shared across trials, never copied.
type Evaluator struct {
	deadline    *Deadline
	filters     []RowFilter
	compression int

	bestSize *AtomicMin
	sem      chan struct{}
	wg       sync.WaitGroup
	seq      int

	mu   sync.Mutex
	best *evalEntry
}

type evalEntry struct {
	size      int
	filter    RowFilter
	baseline  bool
	seq       int
	candidate *PngData
}

func NewEvaluator(deadline *Deadline, filters []RowFilter, compression int) *Evaluator {
	workers := runtime.GOMAXPROCS(0)
	if workers < 1 {
		workers = 1
	}
	return &Evaluator{
		deadline:    deadline,
		filters:     filters,
		compression: compression,
		bestSize:    NewAtomicMin(),
		sem:         make(chan struct{}, workers),
	}
}

// SetBestSize seeds the ceiling, so trials from a previous stage carry over.
func (e *Evaluator) SetBestSize(n int) {
	e.bestSize.SetMin(n)
}

// TryImage submits a candidate produced by a reduction.
func (e *Evaluator) TryImage(img *PngImage) {
	e.tryImage(img, false)
}

// SetBaseline registers the un-reduced image. Its compressed size becomes
// the threshold: a reduction is only retained if it strictly beats it.
func (e *Evaluator) SetBaseline(img *PngImage) {
	e.tryImage(img, true)
}

func (e *Evaluator) tryImage(img *PngImage, baseline bool) {
	for _, f := range e.filters {
		if e.deadline.Passed() {
			return
		}
		e.seq++
		seq := e.seq
		f := f
		e.wg.Add(1)
		e.sem <- struct{}{}
		go func() {
			defer func() {
				<-e.sem
				e.wg.Done()
			}()
			e.runTrial(img, f, baseline, seq)
		}()
	}
}

func (e *Evaluator) runTrial(img *PngImage, f RowFilter, baseline bool, seq int) {
	filtered := FilterImage(img, f)
	idat, err := deflate(filtered, e.compression, e.bestSize)
	if err != nil {
		// DeflatedTooLongError and any other failure both mean this trial
		// loses; failures stay local to the trial.
		return
	}
	entry := &evalEntry{
		size:     len(idat),
		filter:   f,
		baseline: baseline,
		seq:      seq,
		candidate: &PngData{
			Raw:      img,
			IdatData: idat,
			Filtered: filtered,
		},
	}
	e.bestSize.SetMin(len(idat))
	e.mu.Lock()
	if entry.betterThan(e.best) {
		e.best = entry
	}
	e.mu.Unlock()
}

// betterThan orders trial outcomes deterministically, irrespective of
// completion order: smaller size wins; on ties the baseline wins, then the
// lower filter ordinal, then the earlier submission.
func (n *evalEntry) betterThan(old *evalEntry) bool {
	if old == nil {
		return true
	}
	if n.size != old.size {
		return n.size < old.size
	}
	if n.baseline != old.baseline {
		return n.baseline
	}
	if n.filter != old.filter {
		return n.filter < old.filter
	}
	return n.seq < old.seq
}

// GetBestCandidate waits for all pending trials and returns the winner,
// or nil when every trial failed or was beaten by nothing.
func (e *Evaluator) GetBestCandidate() *Candidate {
	e.wg.Wait()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.best == nil {
		return nil
	}
	return &Candidate{
		Image:       e.best.candidate,
		Filter:      e.best.filter,
		IsReduction: !e.best.baseline,
	}
}
