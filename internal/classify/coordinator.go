// Package classify wraps the external classification capability with bounded
// retries and label validation. The capability is opaque: one image frame in,
// one category (or undetermined) out.
package classify

import (
	"context"
	"time"

	"github.com/itrash/kiosk/internal/monitoring"
	"github.com/itrash/kiosk/internal/state"
	"github.com/itrash/kiosk/internal/timeutil"
)

const (
	maxAttempts    = 3
	attemptBackoff = 500 * time.Millisecond
)

// Classifier is one external classification call. Implementations may block
// for unbounded time; the coordinator's caller enforces the wall-clock cap.
type Classifier interface {
	Classify(ctx context.Context, image []byte) (state.Category, error)
}

// ClassifierFunc adapts a function to the Classifier interface.
type ClassifierFunc func(ctx context.Context, image []byte) (state.Category, error)

// Classify calls f.
func (f ClassifierFunc) Classify(ctx context.Context, image []byte) (state.Category, error) {
	return f(ctx, image)
}

// Feedback receives advisory busy/done signals around an attempt-set, for
// lighting pulses or similar. Correctness never depends on it.
type Feedback interface {
	Busy()
	Done()
}

// Coordinator runs up to three classification attempts with a short fixed
// backoff, validating each returned label against the closed category set.
type Coordinator struct {
	classifier Classifier
	clock      timeutil.Clock
	feedback   Feedback
}

// NewCoordinator creates a Coordinator. feedback may be nil.
func NewCoordinator(classifier Classifier, clock timeutil.Clock, feedback Feedback) *Coordinator {
	return &Coordinator{
		classifier: classifier,
		clock:      clock,
		feedback:   feedback,
	}
}

// Process classifies one image frame. It returns a valid category or
// undetermined; it never returns an error and never panics across the worker
// boundary — every failure from the external call is counted as an invalid
// attempt.
func (c *Coordinator) Process(ctx context.Context, image []byte) state.Category {
	if c.feedback != nil {
		c.feedback.Busy()
		defer c.feedback.Done()
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result := c.attempt(ctx, image)
		if result.Valid() {
			monitoring.Logf("classify: attempt %d returned %q", attempt, result)
			return result
		}
		monitoring.Logf("classify: attempt %d invalid (%q)", attempt, result)

		if attempt < maxAttempts {
			c.clock.Sleep(attemptBackoff)
		}
		if ctx.Err() != nil {
			break
		}
	}
	return state.CategoryUndetermined
}

// attempt runs one external call, converting errors and panics into an
// undetermined result so nothing propagates past the coordinator.
func (c *Coordinator) attempt(ctx context.Context, image []byte) (result state.Category) {
	defer func() {
		if r := recover(); r != nil {
			monitoring.Logf("classify: classifier panicked: %v", r)
			result = state.CategoryUndetermined
		}
	}()

	result, err := c.classifier.Classify(ctx, image)
	if err != nil {
		monitoring.Debugf("classify: attempt error: %v", err)
		return state.CategoryUndetermined
	}
	return result
}
