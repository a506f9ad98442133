package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"nodewatch/models"
)

// ErrNotInitialized is returned by Push before Init has loaded the day bucket.
var ErrNotInitialized = errors.New("time series not initialized")

const defaultClearRetryInterval = 5 * time.Second

// TimeSeries keeps one point per cycle in a day bucket and folds each
// finished UTC day into a single point of the main series.
type TimeSeries struct {
	day    DocumentCollection
	main   DocumentCollection
	mode   models.AggregateMode
	logger *zap.Logger

	clearRetryInterval time.Duration

	// pushMu serializes Push; mu guards the fields below and is never held
	// across store calls.
	pushMu      sync.Mutex
	mu          sync.Mutex
	initialized bool
	bucket      []models.TimeSeriesPoint
}

func NewTimeSeries(db CollectionProvider, dayCollection, mainCollection string, mode models.AggregateMode, logger *zap.Logger) *TimeSeries {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TimeSeries{
		day:                db.Collection(dayCollection),
		main:               db.Collection(mainCollection),
		mode:               mode,
		logger:             logger.With(zap.String("series", mainCollection)),
		clearRetryInterval: defaultClearRetryInterval,
	}
}

// Init loads the persisted day bucket. It must complete before the first Push.
// Points from a day the main series already holds are left over from an
// interrupted clear and are skipped.
func (ts *TimeSeries) Init(ctx context.Context) error {
	points, err := findAll[models.TimeSeriesPoint](ctx, ts.day)
	if err != nil {
		return fmt.Errorf("load day bucket: %w", err)
	}
	rolled, err := findAll[models.TimeSeriesPoint](ctx, ts.main)
	if err != nil {
		return fmt.Errorf("load main series: %w", err)
	}
	sortPoints(points)

	stale := 0
	if len(rolled) > 0 {
		latest := rolled[0].Date
		for _, p := range rolled[1:] {
			if p.Date.After(latest) {
				latest = p.Date
			}
		}
		kept := points[:0]
		for _, p := range points {
			if isLaterDay(p.Date, latest) {
				kept = append(kept, p)
			}
		}
		stale = len(points) - len(kept)
		points = kept
	}

	ts.mu.Lock()
	ts.bucket = points
	ts.initialized = true
	ts.mu.Unlock()

	ts.logger.Info("time series initialized", zap.Int("day_points", len(points)), zap.Int("skipped_rolled", stale))
	return nil
}

func (ts *TimeSeries) Initialized() bool {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.initialized
}

// Push appends a point to the day bucket. A point dated on a later UTC day
// than the bucket first rolls the bucket into the main series; the point then
// opens the new day's bucket.
func (ts *TimeSeries) Push(ctx context.Context, point models.TimeSeriesPoint) error {
	ts.pushMu.Lock()
	defer ts.pushMu.Unlock()

	ts.mu.Lock()
	initialized := ts.initialized
	bucket := ts.bucket
	ts.mu.Unlock()

	if !initialized {
		return ErrNotInitialized
	}

	point.Date = point.Date.UTC()

	if len(bucket) > 0 && isLaterDay(point.Date, bucket[0].Date) {
		if err := ts.rollup(ctx, bucket); err != nil {
			return err
		}
	}

	if err := ts.day.InsertMany(ctx, []interface{}{point}); err != nil {
		return fmt.Errorf("append to day bucket: %w", err)
	}
	ts.mu.Lock()
	ts.bucket = append(ts.bucket, point)
	ts.mu.Unlock()
	return nil
}

// rollup writes the aggregate of bucket to the main series and only then
// clears the persisted bucket. Caller holds ts.pushMu.
func (ts *TimeSeries) rollup(ctx context.Context, bucket []models.TimeSeriesPoint) error {
	aggregated := models.TimeSeriesPoint{
		Date:   bucket[len(bucket)-1].Date,
		Values: Aggregate(bucket, ts.mode),
	}

	before, err := ts.main.Count(ctx)
	if err != nil {
		return fmt.Errorf("count main series: %w", err)
	}
	if err := ts.main.InsertMany(ctx, []interface{}{aggregated}); err != nil {
		return fmt.Errorf("write main series point: %w", err)
	}
	after, err := ts.main.Count(ctx)
	if err != nil {
		return fmt.Errorf("count main series: %w", err)
	}
	if after != before+1 {
		return fmt.Errorf("%w: %s holds %d points after insert, expected %d",
			ErrReplaceVerification, ts.main.Name(), after, before+1)
	}

	// The main point is durable from here on, so the day must never be
	// rolled again even if the clear below gives up.
	ts.mu.Lock()
	ts.bucket = nil
	ts.mu.Unlock()

	clearBucket := func() error {
		_, err := ts.day.DeleteAll(ctx)
		return err
	}
	notify := func(err error, wait time.Duration) {
		ts.logger.Warn("failed to clear day bucket, retrying", zap.Duration("in", wait), zap.Error(err))
	}
	policy := backoff.WithContext(backoff.NewConstantBackOff(ts.clearRetryInterval), ctx)
	if err := backoff.RetryNotify(clearBucket, policy, notify); err != nil {
		return fmt.Errorf("clear day bucket: %w", err)
	}

	ts.logger.Info("rolled up day bucket",
		zap.Time("date", aggregated.Date),
		zap.Int("points", len(bucket)),
	)
	return nil
}

// Points returns the main series and a copy of the open day bucket.
func (ts *TimeSeries) Points(ctx context.Context) (days, today []models.TimeSeriesPoint, err error) {
	days, err = findAll[models.TimeSeriesPoint](ctx, ts.main)
	if err != nil {
		return nil, nil, err
	}
	sortPoints(days)

	ts.mu.Lock()
	today = append([]models.TimeSeriesPoint(nil), ts.bucket...)
	ts.mu.Unlock()
	return days, today, nil
}

// Aggregate folds points into one set of values. Every key present in any
// point is summed; average modes divide by the number of points.
func Aggregate(points []models.TimeSeriesPoint, mode models.AggregateMode) map[string]float64 {
	sums := make(map[string]float64)
	for _, p := range points {
		for k, v := range p.Values {
			sums[k] += v
		}
	}
	if len(points) == 0 {
		return sums
	}

	n := float64(len(points))
	switch mode {
	case models.AggregateAverage:
		for k, v := range sums {
			sums[k] = v / n
		}
	case models.AggregateAverageRound:
		for k, v := range sums {
			sums[k] = math.Round(v / n)
		}
	}
	return sums
}

// isLaterDay reports whether a falls on a strictly later UTC calendar day than b.
func isLaterDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC).After(time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC))
}

func sortPoints(points []models.TimeSeriesPoint) {
	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Date.Before(points[j].Date)
	})
}
