// Package crushd keeps the current crush map of a running service and
// answers resolution requests against it.  Maps arrive from a
// mapsource.Provider and are swapped in atomically, readers never observe a
// partially applied map.
package crushd

import (
	"context"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/couchbase/crushmap/common/crushmap"
	"github.com/couchbase/crushmap/common/crushrule"
	"github.com/couchbase/crushmap/common/mapsource"
	"github.com/couchbase/crushmap/pkg/metrics"
	"github.com/pkg/errors"
	"github.com/zhangyunhao116/skipmap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type SystemOptions struct {
	Logger   *zap.Logger
	Provider mapsource.Provider

	// Strict rejects maps which fail crushmap.Validate.
	Strict bool

	Metrics *metrics.CrushMetrics
}

// mapState is everything derived from one accepted snapshot.  The resolution
// cache lives and dies with the map it was computed from.
type mapState struct {
	snap     *mapsource.Snapshot
	loadedAt time.Time
	cache    *skipmap.FuncMap[string, *crushrule.Resolution]
}

type System struct {
	logger   *zap.Logger
	provider mapsource.Provider
	strict   bool
	metrics  *metrics.CrushMetrics
	tracer   trace.Tracer

	state atomic.Pointer[mapState]
}

func NewSystem(opts *SystemOptions) (*System, error) {
	if opts == nil || opts.Provider == nil {
		return nil, errors.New("a map provider is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	crushMetrics := opts.Metrics
	if crushMetrics == nil {
		crushMetrics = metrics.GetCrushMetrics()
	}

	return &System{
		logger:   logger,
		provider: opts.Provider,
		strict:   opts.Strict,
		metrics:  crushMetrics,
		tracer:   otel.Tracer("github.com/couchbase/crushmap/crushd"),
	}, nil
}

func newResolutionCache() *skipmap.FuncMap[string, *crushrule.Resolution] {
	return skipmap.NewFunc[string, *crushrule.Resolution](func(a, b string) bool {
		return a < b
	})
}

// Apply installs a snapshot as the current map.  Snapshots which are not
// newer than the current one fail with ErrStaleRevision, and in strict mode
// maps which do not validate are rejected with their integrity errors.
func (s *System) Apply(ctx context.Context, snap *mapsource.Snapshot) error {
	sourceAttr := metric.WithAttributes(attribute.String("source", snap.Source))

	current := s.state.Load()
	if current != nil && mapsource.CompareRevisions(snap.Revision, current.snap.Revision) <= 0 {
		s.metrics.StaleSnapshots.Add(ctx, 1, sourceAttr)
		return errors.Wrapf(ErrStaleRevision, "revision %v against current %v", snap.Revision, current.snap.Revision)
	}

	if s.strict {
		err := snap.Map.Validate()
		if err != nil {
			s.metrics.MapReloadFailures.Add(ctx, 1, sourceAttr)
			return err
		}
	}

	newState := &mapState{
		snap:     snap,
		loadedAt: time.Now(),
		cache:    newResolutionCache(),
	}

	// a concurrent Apply may have won the race, in which case we re-check
	// the revision against whatever it installed.
	if !s.state.CompareAndSwap(current, newState) {
		return s.Apply(ctx, snap)
	}

	s.metrics.MapReloads.Add(ctx, 1, sourceAttr)

	s.logger.Info("applied crush map",
		zap.String("source", snap.Source),
		zap.Uint64s("revision", snap.Revision),
		zap.Int("devices", len(snap.Map.Devices())),
		zap.Int("buckets", len(snap.Map.Buckets())),
		zap.Int("rules", len(snap.Map.Rules())))

	return nil
}

// Load fetches the current document from the provider once and applies it.
func (s *System) Load(ctx context.Context) error {
	snap, err := s.provider.Get(ctx)
	if err != nil {
		return err
	}

	return s.Apply(ctx, snap)
}

// Run applies every snapshot published by the provider until ctx is
// cancelled or the provider stops watching.  Rejected snapshots are logged
// and the previous map stays current.
func (s *System) Run(ctx context.Context) error {
	watchCh, err := s.provider.Watch(ctx)
	if err != nil {
		return err
	}

	for snap := range latestSnapshots(ctx, watchCh) {
		err := s.Apply(ctx, snap)
		if errors.Is(err, ErrStaleRevision) {
			s.logger.Debug("ignoring stale crush map snapshot",
				zap.String("source", snap.Source),
				zap.Uint64s("revision", snap.Revision))
		} else if err != nil {
			s.logger.Warn("rejected crush map snapshot",
				zap.String("source", snap.Source),
				zap.Uint64s("revision", snap.Revision),
				zap.Error(err))
		}
	}

	return ctx.Err()
}

func (s *System) Ready() bool {
	return s.state.Load() != nil
}

// Snapshot returns the currently applied snapshot, or nil if none.
func (s *System) Snapshot() *mapsource.Snapshot {
	state := s.state.Load()
	if state == nil {
		return nil
	}
	return state.snap
}

func (s *System) LoadedAt() time.Time {
	state := s.state.Load()
	if state == nil {
		return time.Time{}
	}
	return state.loadedAt
}

func (s *System) Map() (*crushmap.CrushMap, error) {
	state := s.state.Load()
	if state == nil {
		return nil, ErrNotReady
	}
	return state.snap.Map, nil
}

// Resolve evaluates a rule against the current map.  Results are cached per
// map and shared between callers, so they must be treated as read-only.
func (s *System) Resolve(ctx context.Context, ruleName string) (*crushrule.Resolution, error) {
	ctx, span := s.tracer.Start(ctx, "Resolve",
		trace.WithAttributes(attribute.String("crush.rule", ruleName)))
	defer span.End()

	ruleAttr := metric.WithAttributes(attribute.String("rule", ruleName))
	s.metrics.Resolutions.Add(ctx, 1, ruleAttr)

	state := s.state.Load()
	if state == nil {
		span.SetStatus(codes.Error, ErrNotReady.Error())
		s.metrics.ResolutionFailures.Add(ctx, 1, ruleAttr)
		return nil, ErrNotReady
	}

	if res, ok := state.cache.Load(ruleName); ok {
		span.SetAttributes(attribute.Bool("crush.cached", true))
		s.metrics.ResolutionCacheHits.Add(ctx, 1, ruleAttr)
		return res, nil
	}

	stime := time.Now()
	res, err := s.resolveUncached(state.snap.Map, ruleName)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.metrics.ResolutionFailures.Add(ctx, 1, ruleAttr)
		return nil, err
	}
	s.metrics.ResolutionDuration.Record(ctx, time.Since(stime).Seconds(), ruleAttr)

	span.SetAttributes(attribute.Int("crush.groups", len(res.Groups)))

	// LoadOrStore keeps a single shared result when two callers race
	cached, _ := state.cache.LoadOrStore(ruleName, res)
	return cached, nil
}

func (s *System) resolveUncached(m *crushmap.CrushMap, ruleName string) (*crushrule.Resolution, error) {
	rule, err := m.RuleByName(ruleName)
	if err != nil {
		return nil, err
	}

	return crushrule.ResolveRule(m, rule)
}

// ResolveAll resolves every rule of the current map in load order.  All
// rules are resolved against the same map even if a reload happens midway.
func (s *System) ResolveAll(ctx context.Context) ([]*crushrule.Resolution, error) {
	state := s.state.Load()
	if state == nil {
		return nil, ErrNotReady
	}

	rules := state.snap.Map.Rules()
	out := make([]*crushrule.Resolution, 0, len(rules))
	for _, rule := range rules {
		res, ok := state.cache.Load(rule.Name)
		if !ok {
			var err error
			res, err = crushrule.ResolveRule(state.snap.Map, rule)
			if err != nil {
				return nil, err
			}
			res, _ = state.cache.LoadOrStore(rule.Name, res)
		}
		out = append(out, res)
	}

	return out, nil
}

// ExpandBucket lists the devices below a bucket, referenced either by name
// or by its numeric id.
func (s *System) ExpandBucket(ctx context.Context, ref string) ([]crushmap.Device, error) {
	_, span := s.tracer.Start(ctx, "ExpandBucket",
		trace.WithAttributes(attribute.String("crush.bucket", ref)))
	defer span.End()

	m, err := s.Map()
	if err != nil {
		return nil, err
	}

	devices, err := ExpandRef(m, ref)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	return devices, nil
}

// ExpandRef expands a bucket or device referenced by name or numeric id.
func ExpandRef(m *crushmap.CrushMap, ref string) ([]crushmap.Device, error) {
	id, err := strconv.Atoi(ref)
	if err != nil {
		bucket, err := m.BucketByName(ref)
		if err != nil {
			return nil, err
		}
		id = bucket.ID
	}

	return crushrule.ExpandToDevices(m, id)
}
