package simulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/art-injener/satscan-go/internal/tracker"
)

// Recorder принимает статистику прогонов (метрики).
type Recorder interface {
	RunCompleted(stats RunStats)
	RunFailed(reason string)
}

// RunStats итог успешного прогона.
type RunStats struct {
	Model    string
	Duration time.Duration
	Samples  int
	Failures map[string]int
	Matches  int
}

type nopRecorder struct{}

func (nopRecorder) RunCompleted(RunStats) {}
func (nopRecorder) RunFailed(string)      {}

// Runner выполняет прогоны. Безопасен для конкурентного использования.
type Runner struct {
	workers    int
	maxSamples int
	model      tracker.Model
	gravity    tracker.GravityModel
	logger     *slog.Logger
	recorder   Recorder
	now        func() time.Time
}

// Option функция настройки Runner.
type Option func(*Runner)

// WithWorkers задаёт число воркеров дискретизации.
func WithWorkers(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithMaxSamples ограничивает число отсчётов одного прогона.
// Окно длиннее предела отклоняется с *BudgetError до расчёта.
func WithMaxSamples(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.maxSamples = n
		}
	}
}

// WithModel задаёт модель пропагации.
func WithModel(m tracker.Model) Option {
	return func(r *Runner) {
		r.model = m
	}
}

// WithGravity задаёт модель гравитации SGP4.
func WithGravity(g tracker.GravityModel) Option {
	return func(r *Runner) {
		r.gravity = g
	}
}

// WithLogger логгер для Runner.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithRecorder подключает сборщик метрик.
func WithRecorder(rec Recorder) Option {
	return func(r *Runner) {
		if rec != nil {
			r.recorder = rec
		}
	}
}

// WithClock задаёт источник текущего времени для режима текущего положения.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		r.now = now
	}
}

// NewRunner создаёт Runner.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		workers:    runtime.GOMAXPROCS(0),
		maxSamples: DefaultMaxSamples,
		model:      tracker.ModelSGP4,
		gravity:    tracker.GravityWGS84,
		logger:     slog.Default(),
		recorder:   nopRecorder{},
		now:        time.Now,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Run выполняет прогон. Ошибки параметров возвращаются без частичных результатов.
func (r *Runner) Run(ctx context.Context, req Request) (*Report, error) {
	started := time.Now()
	runID := uuid.NewString()
	logger := r.logger.With("run_id", runID)

	report, err := r.run(ctx, runID, req)
	if err != nil {
		reason := tracker.ReasonOf(err)
		if errors.Is(err, ErrInvalidRequest) || errors.Is(err, ErrUnknownRateUnit) {
			reason = "invalid_request"
		}
		if errors.Is(err, ErrNoSamples) {
			reason = "no_samples"
		}
		if errors.Is(err, ErrTooManySamples) {
			reason = "too_many_samples"
		}
		if ctx.Err() != nil {
			reason = "canceled"
		}

		r.recorder.RunFailed(reason)
		logger.WarnContext(ctx, "simulation failed", "reason", reason, "error", err)

		return nil, err
	}

	elapsed := time.Since(started)
	r.recorder.RunCompleted(RunStats{
		Model:    r.model.String(),
		Duration: elapsed,
		Samples:  len(report.Track.Samples),
		Failures: report.FailureCounts,
		Matches:  report.Scan.Count(),
	})

	logger.InfoContext(ctx, "simulation completed",
		"norad_id", report.NoradID,
		"samples", len(report.Track.Samples),
		"failures", len(report.Failures),
		"matches", report.Scan.Count(),
		"duration_ms", elapsed.Milliseconds(),
	)

	for _, f := range report.Failures {
		logger.DebugContext(ctx, "sample failed",
			"index", f.Index,
			"stage", string(f.Stage),
			"reason", f.Reason(),
			"error", f.Err,
		)
	}

	return report, nil
}

func (r *Runner) run(ctx context.Context, runID string, req Request) (*Report, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	tle, err := tracker.ParseTLELines(req.Name, req.Line1, req.Line2)
	if err != nil {
		return nil, err
	}

	window, err := req.window(tle)
	if err != nil {
		return nil, err
	}
	if n := window.Len(); n > r.maxSamples {
		return nil, &BudgetError{Samples: int64(n), Max: r.maxSamples}
	}

	calc, err := tracker.NewSquareFootprintCalculator(req.areaKm())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	prop, err := tracker.NewPropagator(tle, tracker.WithModel(r.model), tracker.WithGravity(r.gravity))
	if err != nil {
		return nil, err
	}

	sampler, err := tracker.NewSampler(prop, window)
	if err != nil {
		return nil, err
	}

	track, err := r.collect(ctx, sampler, tle.NoradID)
	if err != nil {
		return nil, err
	}

	if len(track.Samples) == 0 {
		return nil, fmt.Errorf("%w: %d of %d samples failed (%s)",
			ErrNoSamples, len(track.Failures), sampler.Len(), formatCounts(countReasons(track.Failures)))
	}

	footprints, fpFailures, err := calc.Footprints(track)
	if err != nil {
		return nil, err
	}

	failures := slices.Concat(track.Failures, fpFailures)

	report := &Report{
		RunID:         runID,
		NoradID:       tle.NoradID,
		Name:          tle.Name,
		Model:         r.model.String(),
		Window:        window,
		AreaKm:        req.areaKm(),
		Track:         track,
		Footprints:    footprints,
		Failures:      failures,
		FailureCounts: countReasons(failures),
	}

	if req.Target != nil {
		scan, err := tracker.Query(footprints, *req.Target)
		if err != nil {
			return nil, err
		}

		report.Scan = scan
		report.Passes = scan.Passes()
	}

	report.Summary = report.summary()

	return report, nil
}

// sampleResult отсчёт или ошибка по индексу.
type sampleResult struct {
	sample tracker.GroundSample
	err    error
}

// collect вычисляет отсчёты пулом воркеров и собирает трассу в порядке индексов.
func (r *Runner) collect(ctx context.Context, sampler *tracker.Sampler, noradID int) (*tracker.Track, error) {
	n := sampler.Len()
	results := make([]sampleResult, n)

	jobs := make(chan int, r.workers*2)

	var wg sync.WaitGroup
	for range min(r.workers, n) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				sample, err := sampler.At(i)
				results[i] = sampleResult{sample: sample, err: err}
			}
		}()
	}

feed:
	for i := range n {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	track := &tracker.Track{
		NoradID: noradID,
		Window:  sampler.Window(),
		Samples: make([]tracker.GroundSample, 0, n),
	}

	for _, res := range results {
		if err := track.Add(res.sample, res.err); err != nil {
			return nil, err
		}
	}

	return track, nil
}

// Live вычисляет текущее положение спутника.
func (r *Runner) Live(ctx context.Context, req LiveRequest) (*LiveFix, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	tle, err := tracker.ParseTLELines(req.Name, req.Line1, req.Line2)
	if err != nil {
		return nil, err
	}

	prop, err := tracker.NewPropagator(tle, tracker.WithModel(r.model), tracker.WithGravity(r.gravity))
	if err != nil {
		return nil, err
	}

	now := r.now().UTC()

	sample, err := tracker.Live(prop, now)
	if err != nil {
		r.logger.WarnContext(ctx, "live position failed",
			"norad_id", tle.NoradID,
			"reason", tracker.ReasonOf(err),
			"error", err,
		)
		return nil, err
	}

	ecef := sample.Geodetic().ECEF()

	return &LiveFix{
		NoradID: tle.NoradID,
		Name:    tle.Name,
		Sample:  sample,
		ECEF:    [3]float64{ecef.X, ecef.Y, ecef.Z},
		TLEAge:  tle.AgeAt(now),
	}, nil
}
