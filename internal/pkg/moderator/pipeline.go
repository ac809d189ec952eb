package moderator

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"mediaguard/internal/pkg/classifier"
	"mediaguard/internal/pkg/video"
)

// State is a step of the video analysis.
type State int

const (
	StateSampling State = iota
	StateClassifying
	StateEarlyFlagged
	StateCompleted
	StateFingerprinting
	StateDone
)

func (s State) String() string {
	switch s {
	case StateSampling:
		return "sampling"
	case StateClassifying:
		return "classifying"
	case StateEarlyFlagged:
		return "early_flagged"
	case StateCompleted:
		return "completed"
	case StateFingerprinting:
		return "fingerprinting"
	case StateDone:
		return "done"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// frameOutcome is one worker's answer for one frame.
type frameOutcome struct {
	frame video.Frame
	res   *classifier.Result
	err   error
}

// classification is the resolved outcome of the dense pass.
type classification struct {
	state     State
	decision  classifier.Verdict
	reason    string
	labels    map[string]any
	timestamp *float64
	analyzed  int
	evidence  []byte
	err       error
	// cancelled is set when the pass was stopped from outside.
	cancelled bool
}

// FrameObserver is told about every frame whose result was committed.
type FrameObserver func(f video.Frame, res *classifier.Result, err error)

// classifyFrames classifies the dense sequence with a bounded worker pool.
//
// Results are committed strictly in frame order: outcomes that arrive early
// are buffered until every earlier frame has been resolved. The first flagged
// frame in order ends the pass. Once any frame is known to be flagged, frames
// after it are neither dispatched nor classified, so the pass only waits on
// earlier frames. Workers never block on a consumer that has gone away.
func classifyFrames(ctx context.Context, stream *video.Stream, cls Classifier, workers int, observe FrameObserver) classification {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if workers <= 0 {
		workers = 1
	}
	jobs := make(chan video.Frame)
	results := make(chan frameOutcome, workers)

	// lowestFlag is the smallest frame index seen flagged so far.
	var lowestFlag atomic.Int64
	lowestFlag.Store(math.MaxInt64)
	beyondFlag := func(f video.Frame) bool {
		return int64(f.Index) > lowestFlag.Load()
	}
	markFlagged := func(idx int) {
		for {
			cur := lowestFlag.Load()
			if int64(idx) >= cur || lowestFlag.CompareAndSwap(cur, int64(idx)) {
				return
			}
		}
	}

	go func() {
		defer close(jobs)
		for {
			f, ok := stream.Next(ctx)
			if !ok || beyondFlag(f) {
				return
			}
			select {
			case jobs <- f:
			case <-ctx.Done():
				return
			}
		}
	}()

	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			for f := range jobs {
				if beyondFlag(f) {
					continue
				}
				out := frameOutcome{frame: f}
				img, err := f.Decode()
				if err != nil {
					out.err = err
				} else if ctx.Err() != nil {
					return
				} else if beyondFlag(f) {
					continue
				} else {
					out.res, out.err = cls.Classify(ctx, img)
					if out.err == nil && out.res.Decision == classifier.Flagged {
						markFlagged(f.Index)
					}
				}
				select {
				case results <- out:
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	pending := make(map[int]frameOutcome)
	next := 0
	var firstReview *frameOutcome

	for out := range results {
		if beyondFlag(out.frame) {
			continue
		}
		pending[out.frame.Index] = out
		for {
			o, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			next++
			if observe != nil {
				observe(o.frame, o.res, o.err)
			}

			if o.err != nil {
				if ctx.Err() != nil {
					break
				}
				return classification{
					state:    StateCompleted,
					decision: classifier.Review,
					reason:   ReasonProcessingError,
					analyzed: next,
					err:      o.err,
				}
			}
			switch o.res.Decision {
			case classifier.Flagged:
				cancel()
				ts := o.frame.Timestamp
				return classification{
					state:     StateEarlyFlagged,
					decision:  classifier.Flagged,
					reason:    o.res.Reason,
					labels:    o.res.Labels(),
					timestamp: &ts,
					analyzed:  next,
					evidence:  o.frame.JPEG,
				}
			case classifier.Review:
				if firstReview == nil {
					cp := o
					firstReview = &cp
				}
			}
		}
	}

	if ctx.Err() != nil {
		return classification{state: StateCompleted, cancelled: true, analyzed: next, err: ctx.Err()}
	}
	if err := stream.Err(); err != nil {
		return classification{
			state:    StateCompleted,
			decision: classifier.Review,
			reason:   ReasonProcessingError,
			err:      err,
		}
	}
	if next == 0 {
		return classification{state: StateCompleted, decision: classifier.Pass, reason: ReasonNoFrames}
	}
	if firstReview != nil {
		ts := firstReview.frame.Timestamp
		return classification{
			state:     StateCompleted,
			decision:  classifier.Review,
			reason:    firstReview.res.Reason,
			labels:    firstReview.res.Labels(),
			timestamp: &ts,
			analyzed:  next,
		}
	}
	return classification{
		state:    StateCompleted,
		decision: classifier.Pass,
		reason:   "content_approved",
		analyzed: next,
	}
}
