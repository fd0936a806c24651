package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/felixgrant/boardscan/extract"
	"github.com/felixgrant/boardscan/llm"
)

// DefaultCooldown is how long a run pauses after the provider signals a rate
// limit, before retrying the throttled image.
const DefaultCooldown = 60 * time.Second

// Image is one uploaded board photo.
type Image struct {
	Name     string
	Data     []byte
	MIMEType string
}

// Failure records one image the batch could not extract.
type Failure struct {
	SourceFile      string `json:"source_file"`
	Stage           string `json:"stage"` // structure or extraction
	Message         string `json:"message"`
	CooldownApplied bool   `json:"cooldown_applied"`
}

// Aggregate collects every record extracted during one batch invocation, in
// upload order. It is owned by the runner for the duration of the run and
// never mutated afterwards.
type Aggregate struct {
	ID       uuid.UUID            `json:"id"`
	Model    string               `json:"model"`
	Images   int                  `json:"images"`
	Votes    []extract.VoteRecord `json:"voting_data"`
	Notes    []extract.NoteRecord `json:"sticky_notes"`
	Failures []Failure            `json:"failures,omitempty"`
}

// Progress receives batch progress updates. Implementations must not block;
// the runner calls them inline on its single control path.
type Progress interface {
	Update(fraction float64, stage string)
}

// ProgressFunc adapts a function to the Progress interface.
type ProgressFunc func(fraction float64, stage string)

func (f ProgressFunc) Update(fraction float64, stage string) { f(fraction, stage) }

// Option configures a Runner.
type Option func(*Runner)

// WithCooldown overrides the rate-limit pause duration.
func WithCooldown(d time.Duration) Option {
	return func(r *Runner) { r.cooldown = d }
}

// WithProgress attaches a progress sink.
func WithProgress(p Progress) Option {
	return func(r *Runner) { r.progress = p }
}

// Runner iterates the extraction pipeline over a set of images, strictly
// sequentially, isolating per-image failures so one bad photo never aborts
// the batch.
type Runner struct {
	pipeline *extract.Pipeline
	cooldown time.Duration
	progress Progress

	// sleep is swapped out by tests so cooldowns don't take real time.
	sleep func(ctx context.Context, d time.Duration, tick func(remaining time.Duration)) error
}

// NewRunner creates a batch runner over the given pipeline.
func NewRunner(pipeline *extract.Pipeline, opts ...Option) *Runner {
	r := &Runner{
		pipeline: pipeline,
		cooldown: DefaultCooldown,
		sleep:    countdownSleep,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run processes images in upload order and returns the aggregate. The only
// hard error is context cancellation; everything else is recorded per image.
//
// Rate-limit handling: a throttled image triggers one unconditional cooldown
// and a single retry of that same image. If the retry fails too (for any
// reason) the image is recorded as failed and the run moves on without a
// second cooldown.
func (r *Runner) Run(ctx context.Context, images []Image, model string) (*Aggregate, error) {
	agg := &Aggregate{
		ID:     uuid.New(),
		Model:  model,
		Images: len(images),
		Votes:  []extract.VoteRecord{},
		Notes:  []extract.NoteRecord{},
	}
	total := len(images)
	if total == 0 {
		r.report(1, "nothing to process")
		return agg, nil
	}

	start := time.Now()
	for i, img := range images {
		r.report(float64(i)/float64(total), fmt.Sprintf("analyzing %s", img.Name))

		result, err := r.pipeline.Run(ctx, img.Data, img.MIMEType, model)
		cooled := false
		if err != nil && llm.RateLimited(err) {
			cooled = true
			slog.Warn("batch: rate limited, cooling down",
				"file", img.Name, "cooldown", r.cooldown, "error", err)
			if serr := r.coolDown(ctx, img.Name); serr != nil {
				return agg, serr
			}
			result, err = r.pipeline.Run(ctx, img.Data, img.MIMEType, model)
		}

		if err != nil {
			if ctx.Err() != nil {
				return agg, ctx.Err()
			}
			f := Failure{
				SourceFile:      img.Name,
				Stage:           stageOf(err),
				Message:         err.Error(),
				CooldownApplied: cooled,
			}
			agg.Failures = append(agg.Failures, f)
			slog.Warn("batch: image failed",
				"file", f.SourceFile, "stage", f.Stage,
				"cooldown_applied", f.CooldownApplied, "error", f.Message)
			continue
		}

		for _, v := range result.Votes {
			v.SourceFile = img.Name
			agg.Votes = append(agg.Votes, v)
		}
		for _, n := range result.Notes {
			n.SourceFile = img.Name
			agg.Notes = append(agg.Notes, n)
		}
	}

	r.report(1, "complete")
	slog.Info("batch: complete",
		"batch_id", agg.ID.String(),
		"images", total,
		"failed", len(agg.Failures),
		"votes", len(agg.Votes),
		"notes", len(agg.Notes),
		"elapsed", time.Since(start).Round(time.Millisecond))
	return agg, nil
}

func (r *Runner) coolDown(ctx context.Context, file string) error {
	return r.sleep(ctx, r.cooldown, func(remaining time.Duration) {
		r.reportSame(fmt.Sprintf("rate limited on %s, resuming in %ds",
			file, int(remaining.Seconds())))
	})
}

// report sends a progress update if a sink is attached.
func (r *Runner) report(fraction float64, stage string) {
	if r.progress != nil {
		r.progress.Update(fraction, stage)
	}
}

// reportSame updates only the stage label. A negative fraction tells sinks
// to keep their last known value, so the reported fraction stays monotonic
// through a cooldown.
func (r *Runner) reportSame(stage string) {
	if r.progress != nil {
		r.progress.Update(-1, stage)
	}
}

func stageOf(err error) string {
	switch {
	case errors.Is(err, extract.ErrStructure):
		return "structure"
	case errors.Is(err, extract.ErrExtraction):
		return "extraction"
	default:
		return "pipeline"
	}
}

// countdownSleep waits for d, invoking tick once per second with the time
// remaining. Cancellation interrupts the wait.
func countdownSleep(ctx context.Context, d time.Duration, tick func(remaining time.Duration)) error {
	deadline := time.Now().Add(d)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	timer := time.NewTimer(d)
	defer timer.Stop()

	tick(d)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		case <-ticker.C:
			tick(time.Until(deadline))
		}
	}
}
