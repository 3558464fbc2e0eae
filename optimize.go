package pngshrink

import (
	"io"
	"log"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// Logging is a side channel that never affects results; it is silent
// unless a logger is installed.
var logger = log.New(io.Discard, "", 0)

// SetLogger installs a destination for progress output. Pass nil to
// silence it again.
func SetLogger(l *log.Logger) {
	if l == nil {
		logger = log.New(io.Discard, "", 0)
	} else {
		logger = l
	}
}

// Options controls the output of Optimize.
type Options struct {
	// FixErrors tolerates recoverable decode errors instead of failing.
	FixErrors bool
	// Check decodes only and never recodes.
	Check bool
	// Pretend computes the best result without the caller emitting output.
	// The library always returns the computed bytes; the flag is honored by
	// the CLI layer.
	Pretend bool
	// Force adopts the recoded output even when it is larger than the input.
	Force bool
	// Filter lists the row filters tried during the trial phase. Empty
	// means pick automatically.
	Filter []RowFilter
	// Interlace, when set, converts the file to the given interlacing.
	Interlace *Interlacing
	// OptimizeAlpha permits alpha-safe rewrites of invisible pixels.
	OptimizeAlpha bool

	BitDepthReduction  bool
	ColorTypeReduction bool
	PaletteReduction   bool
	GrayscaleReduction bool

	// IdatRecoding, when false, skips the trial phase unless a reduction
	// changed the image anyway.
	IdatRecoding bool
	// Strip selects which ancillary chunks are removed.
	Strip StripChunks
	// Deflate is the compressor used for the main trials.
	Deflate Deflater
	// FastEvaluation picks the filter at a cheap level first and runs a
	// single main compression pass on the winner.
	FastEvaluation bool
	// Timeout bounds optimization time. Nil means unbounded; a zero
	// duration stops before any reduction or trial.
	Timeout *time.Duration
}

// DefaultOptions matches preset 2.
func DefaultOptions() *Options {
	return &Options{
		Filter:             []RowFilter{FilterNone, FilterSub, FilterEntropy, FilterBigrams},
		BitDepthReduction:  true,
		ColorTypeReduction: true,
		PaletteReduction:   true,
		GrayscaleReduction: true,
		IdatRecoding:       true,
		Strip:              StripNone(),
		Deflate:            CheapDeflater{Compression: 11},
		FastEvaluation:     true,
	}
}

// OptionsFromPreset returns the numbered optimization presets. Levels
// beyond 6 do not exist and fall back to 6.
func OptionsFromPreset(level int) *Options {
	opts := DefaultOptions()
	switch level {
	case 0:
		opts.Filter = nil
		opts.Deflate = CheapDeflater{Compression: 5}
	case 1:
		opts.Filter = nil
		opts.Deflate = CheapDeflater{Compression: 10}
	case 2:
	case 3:
		opts.FastEvaluation = false
		opts.Filter = []RowFilter{FilterNone, FilterBigrams, FilterBigEnt, FilterBrute}
	case 4:
		opts.FastEvaluation = false
		opts.Filter = []RowFilter{FilterNone, FilterBigrams, FilterBigEnt, FilterBrute}
		opts.Deflate = CheapDeflater{Compression: 12}
	case 5:
		opts.FastEvaluation = false
		opts.Filter = append(opts.Filter, FilterUp, FilterMinSum, FilterBigEnt, FilterBrute)
		opts.Deflate = CheapDeflater{Compression: 12}
	default:
		if level > 6 {
			logger.Printf("Level 7 and above don't exist yet and are identical to level 6")
		}
		opts.FastEvaluation = false
		opts.Filter = append(opts.Filter,
			FilterUp, FilterMinSum, FilterBigEnt, FilterBrute, FilterAverage, FilterPaeth)
		opts.Deflate = CheapDeflater{Compression: 12}
	}
	return opts
}

// Deadline tracks the optimization timeout. Passed is polled at coarse
// safe points: between reductions and between trials, never inside
// scanline loops.
type Deadline struct {
	start   time.Time
	timeout time.Duration
	active  bool
	warned  atomic.Bool
}

func NewDeadline(timeout *time.Duration) *Deadline {
	d := &Deadline{start: time.Now()}
	if timeout != nil {
		d.timeout = *timeout
		d.active = true
	}
	return d
}

// Passed reports whether the timeout has elapsed and no new work should be
// started. The first passing call logs a warning.
func (d *Deadline) Passed() bool {
	if d == nil || !d.active {
		return false
	}
	elapsed := time.Since(d.start)
	if elapsed <= d.timeout {
		return false
	}
	if d.warned.CompareAndSwap(false, true) {
		logger.Printf("Timed out after %d second(s)", int(elapsed.Seconds()))
	}
	return true
}

// Optimize transforms PNG bytes into a semantically equivalent PNG of
// smaller byte size. A timeout is not an error: the best result found in
// time is returned. When no recoding improves on the input, Force is off
// and no Interlace change is requested, the input bytes are returned
// unchanged.
func Optimize(input []byte, opts *Options) ([]byte, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	deadline := NewDeadline(opts.Timeout)

	png, err := Decode(input, opts.FixErrors)
	if err != nil {
		return nil, err
	}
	if opts.Check {
		logger.Printf("Running in check mode, not optimizing")
		return input, nil
	}

	output, err := optimizePng(png, input, opts, deadline)
	if err != nil {
		return nil, err
	}
	if isFullyOptimized(len(input), len(output), opts) {
		logger.Printf("Image already optimized")
		return input, nil
	}
	return output, nil
}

// trialOptions identifies a single compression trial.
type trialOptions struct {
	filter      RowFilter
	compression int
}

type trialResult struct {
	trial trialOptions
	idat  []byte
}

// betterThan is the deterministic trial tie-break: smaller output, then
// lower filter ordinal, then lower compression level.
func (r *trialResult) betterThan(o *trialResult) bool {
	if len(r.idat) != len(o.idat) {
		return len(r.idat) < len(o.idat)
	}
	if r.trial.filter != o.trial.filter {
		return r.trial.filter < o.trial.filter
	}
	return r.trial.compression < o.trial.compression
}

func optimizePng(png *PngData, originalData []byte, opts *Options, deadline *Deadline) ([]byte, error) {
	fileOriginalSize := len(originalData)
	idatOriginalSize := len(png.IdatData)
	logger.Printf("    %dx%d pixels, PNG format", png.Raw.IHDR.Width, png.Raw.IHDR.Height)
	reportFormat("    ", png.Raw)
	logger.Printf("    IDAT size = %d bytes", idatOriginalSize)
	logger.Printf("    File size = %d bytes", fileOriginalSize)

	// Strip first so reductions can ignore chunks such as bKGD.
	performStrip(png, opts)
	strippedPng := png.clone()

	// Interlacing is not part of the evaluator trials but must be settled
	// first so everything after it is evaluated in the right layout.
	reductionOccurred := false
	if opts.Interlace != nil {
		if reduced := changeInterlacing(png.Raw, *opts.Interlace); reduced != nil {
			png.Raw = reduced
			reductionOccurred = true
		}
	}

	// A black-alpha pass before the reductions can unlock alpha-to-indexed
	// reductions that would not be found otherwise.
	if opts.OptimizeAlpha {
		if reduced := cleanedAlphaChannel(png.Raw); reduced != nil {
			png.Raw = reduced
		}
	}

	// Cheap lazy compression is representative; greedy levels are not.
	const evalCompression = 5
	// None and Bigrams work well together, especially for alpha reductions.
	evalFilters := []RowFilter{FilterNone, FilterBigrams}
	eval := NewEvaluator(deadline, evalFilters, evalCompression)
	performReductions(png.Raw, opts, deadline, eval)
	var evalFilter *RowFilter
	if result := eval.GetBestCandidate(); result != nil {
		png = result.Image
		if result.IsReduction {
			reductionOccurred = true
		}
		f := result.Filter
		evalFilter = &f
	}

	if reductionOccurred {
		reportFormat("Reducing image to ", png.Raw)
	}

	if opts.IdatRecoding || reductionOccurred {
		filters := dedupFilters(opts.Filter)
		fastEval := opts.FastEvaluation && (len(filters) > 1 || evalFilter != nil)
		var best *trialResult
		if fastEval {
			// Fast evaluation of the remaining filters, then one main
			// compression pass on the winner.
			remaining := filters
			if evalFilter != nil {
				remaining = filterDifference(filters, evalFilters)
			}
			if len(remaining) > 0 {
				logger.Printf("Evaluating: %d filters", len(remaining))
				next := NewEvaluator(deadline, remaining, evalCompression)
				if evalFilter != nil {
					next.SetBestSize(len(png.IdatData))
				}
				next.TryImage(png.Raw)
				if result := next.GetBestCandidate(); result != nil {
					png = result.Image
					f := result.Filter
					evalFilter = &f
				}
			}
			if evalFilter != nil {
				trial := trialOptions{filter: *evalFilter, compression: opts.Deflate.compressionLevel()}
				if trial.compression > 0 && trial.compression <= evalCompression {
					// The evaluator already compressed at this level or better.
					if len(png.IdatData) < idatOriginalSize || opts.Force {
						best = &trialResult{trial: trial, idat: png.IdatData}
					}
				} else {
					logger.Printf("Trying: %s", trial.filter)
					bestSize := NewAtomicMin()
					if !opts.Force {
						bestSize.SetMin(idatOriginalSize)
					}
					best = performTrial(png.Filtered, opts, trial, bestSize)
				}
			}
		} else {
			// Full compression trials of every selected filter in parallel.
			if len(filters) == 0 {
				if png.Raw.IHDR.BitDepth >= 8 {
					// Bigrams is the best all-rounder with at least one
					// byte per pixel.
					filters = []RowFilter{FilterBigrams}
				} else {
					// Delta filters rarely pay off below one byte per
					// pixel.
					filters = []RowFilter{FilterNone}
				}
			}
			logger.Printf("Trying: %d filters", len(filters))
			bestSize := NewAtomicMin()
			if !opts.Force {
				bestSize.SetMin(idatOriginalSize)
			}
			results := make([]*trialResult, len(filters))
			var wg sync.WaitGroup
			sem := make(chan struct{}, runtime.GOMAXPROCS(0))
			for i, f := range filters {
				if deadline.Passed() {
					break
				}
				wg.Add(1)
				sem <- struct{}{}
				go func(i int, f RowFilter) {
					defer func() {
						<-sem
						wg.Done()
					}()
					filtered := FilterImage(png.Raw, f)
					trial := trialOptions{filter: f, compression: opts.Deflate.compressionLevel()}
					results[i] = performTrial(filtered, opts, trial, bestSize)
				}(i, f)
			}
			wg.Wait()
			for _, r := range results {
				if r != nil && (best == nil || r.betterThan(best)) {
					best = r
				}
			}
		}

		if best != nil {
			png.IdatData = best.idat
			logger.Printf("Found better combination:")
			logger.Printf("    zc = %d  f = %s  %d bytes",
				best.trial.compression, best.trial.filter, len(best.idat))
		} else {
			png = strippedPng
		}
	} else if len(png.IdatData) >= idatOriginalSize {
		png = strippedPng
	}

	output := png.Output()

	if idatOriginalSize >= len(png.IdatData) {
		logger.Printf("    IDAT size = %d bytes (%d bytes decrease)",
			len(png.IdatData), idatOriginalSize-len(png.IdatData))
	} else {
		logger.Printf("    IDAT size = %d bytes (%d bytes increase)",
			len(png.IdatData), len(png.IdatData)-idatOriginalSize)
	}

	if !validateOutput(output, originalData) {
		return nil, errors.WithStack(ErrInvariantViolated)
	}
	return output, nil
}

// performReductions proposes every applicable lossless reduction to the
// evaluator rather than picking greedily; the evaluator decides by
// compressed size. The baseline is registered only if something was
// proposed.
func performReductions(raw *PngImage, opts *Options, deadline *Deadline, eval *Evaluator) {
	baseline := raw
	reductionOccurred := false

	if opts.PaletteReduction {
		if reduced := reducedPalette(raw, opts.OptimizeAlpha); reduced != nil {
			raw = reduced
			eval.TryImage(raw)
			reductionOccurred = true
		}
		if deadline.Passed() {
			return
		}
	}

	if opts.BitDepthReduction {
		if reduced := reduceBitDepth(raw, 1); reduced != nil {
			previous := raw
			bits := reduced.IHDR.BitDepth
			raw = reduced
			eval.TryImage(raw)
			if (bits == 1 || bits == 2) && previous.IHDR.BitDepth != 4 {
				// 16-color mode sometimes compresses better than the
				// minimal depth.
				if widened := reduceBitDepth(previous, 4); widened != nil {
					eval.TryImage(widened)
				}
			}
			reductionOccurred = true
		}
		if deadline.Passed() {
			return
		}
	}

	if opts.ColorTypeReduction {
		if reduced := reduceColorType(raw, opts.GrayscaleReduction, opts.OptimizeAlpha); reduced != nil {
			raw = reduced
			eval.TryImage(raw)
			reductionOccurred = true
		}
		if deadline.Passed() {
			return
		}
	}

	if reductionOccurred {
		eval.SetBaseline(baseline)
	}
}

// performTrial runs one compression trial. A DeflatedTooLongError means
// the trial loses; any other failure is also local to the trial.
func performTrial(filtered []byte, opts *Options, trial trialOptions, bestSize *AtomicMin) *trialResult {
	idat, err := opts.Deflate.Deflate(filtered, bestSize)
	if err != nil {
		var tooLong *DeflatedTooLongError
		if errors.As(err, &tooLong) {
			logger.Printf("    zc = %d  f = %s >%d bytes",
				trial.compression, trial.filter, tooLong.Size)
		}
		return nil
	}
	if cur, ok := bestSize.Get(); ok && len(idat) > cur {
		return nil
	}
	bestSize.SetMin(len(idat))
	logger.Printf("    zc = %d  f = %s  %d bytes", trial.compression, trial.filter, len(idat))
	return &trialResult{trial: trial, idat: idat}
}

// performStrip removes ancillary chunks per the strip policy and
// canonicalizes sRGB-equivalent iCCP profiles.
func performStrip(png *PngData, opts *Options) {
	aux := png.Raw.AuxHeaders
	aux.Retain(opts.Strip.keeps)

	if !opts.Strip.mayReplaceIccp() {
		return
	}
	if _, ok := aux.Get(SRGBChunk); ok {
		// Files aren't supposed to have both chunks; honor sRGB.
		aux.Delete(ICCPChunk)
	} else if iccp, ok := aux.Get(ICCPChunk); ok {
		if intent, ok := srgbRenderingIntent(iccp); ok {
			aux.Delete(ICCPChunk)
			aux.Set(SRGBChunk, []byte{intent})
		}
	}
}

func reportFormat(prefix string, raw *PngImage) {
	if raw.Palette != nil {
		logger.Printf("%s%d bits/pixel, %d colors in palette (%s)",
			prefix, raw.IHDR.BitDepth, len(raw.Palette), raw.IHDR.Interlaced)
	} else {
		logger.Printf("%s%dx%d bits/pixel, %s (%s)",
			prefix, raw.IHDR.ColorType.Channels(), raw.IHDR.BitDepth,
			raw.IHDR.ColorType, raw.IHDR.Interlaced)
	}
}

// isFullyOptimized reports whether the input was already at its best prior
// to our work.
func isFullyOptimized(originalSize, optimizedSize int, opts *Options) bool {
	return originalSize <= optimizedSize && !opts.Force && opts.Interlace == nil
}

func dedupFilters(filters []RowFilter) []RowFilter {
	seen := make(map[RowFilter]bool, len(filters))
	out := make([]RowFilter, 0, len(filters))
	for _, f := range filters {
		if !seen[f] {
			seen[f] = true
			out = append(out, f)
		}
	}
	return out
}

func filterDifference(filters, exclude []RowFilter) []RowFilter {
	skip := make(map[RowFilter]bool, len(exclude))
	for _, f := range exclude {
		skip[f] = true
	}
	out := make([]RowFilter, 0, len(filters))
	for _, f := range filters {
		if !skip[f] {
			out = append(out, f)
		}
	}
	return out
}
