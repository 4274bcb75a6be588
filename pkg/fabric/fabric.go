// Package fabric runs a topology setup cycle: identity mapping, validation
// against the specification, aperture allocation and route construction.
package fabric

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/lwfabric/fabtopo/pkg/aperture"
	"github.com/lwfabric/fabtopo/pkg/device"
	"github.com/lwfabric/fabtopo/pkg/identity"
	"github.com/lwfabric/fabtopo/pkg/route"
	"github.com/lwfabric/fabtopo/pkg/spec"
	"github.com/lwfabric/fabtopo/pkg/util"
	"github.com/lwfabric/fabtopo/pkg/verify"
)

// Stage names a step of the setup cycle.
type Stage string

const (
	StageMap       Stage = "map"
	StageValidate  Stage = "validate"
	StageAllocate  Stage = "allocate"
	StageConstruct Stage = "construct"
)

// SetupError is returned when a setup cycle stops. Mismatches holds every
// record gathered up to that point.
type SetupError struct {
	Stage      Stage
	Err        error
	Mismatches []verify.MismatchRecord
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("topology setup failed at %s: %v", e.Stage, e.Err)
}

func (e *SetupError) Unwrap() error {
	return e.Err
}

// Result is the outcome of one setup cycle. Routes is nil when the cycle
// failed.
type Result struct {
	CycleID    uuid.UUID
	Mapping    *identity.Mapping
	Mismatches []verify.MismatchRecord
	Apertures  *aperture.Map
	Routes     *route.Store
	Devices    []device.Device
	Started    time.Time
	Duration   time.Duration
}

// FabricContext owns everything one fabric's setup cycles share. Cycles on
// the same context run one at a time; the identity mapper persists between
// them so bindings are reused.
type FabricContext struct {
	Catalog device.Catalog
	Spec    *spec.Spec

	// Policy overrides the specification's match policy when set.
	Policy spec.MatchPolicy
	// Granularity overrides the specification's aperture size when non-zero.
	Granularity uint64
	Log         *logrus.Entry

	mu     sync.Mutex
	mapper *identity.Mapper
	last   *Result
}

// New returns a context for catalog checked against s.
func New(catalog device.Catalog, s *spec.Spec) *FabricContext {
	return &FabricContext{Catalog: catalog, Spec: s}
}

// EffectivePolicy returns the policy cycles run under.
func (fc *FabricContext) EffectivePolicy() spec.MatchPolicy {
	if fc.Policy != "" {
		return fc.Policy
	}
	if p := fc.Spec.MatchPolicy(); p != "" {
		return p
	}
	return spec.DefaultMatchPolicy
}

// EffectiveGranularity returns the aperture size cycles allocate with.
func (fc *FabricContext) EffectiveGranularity() uint64 {
	if fc.Granularity != 0 {
		return fc.Granularity
	}
	if g := fc.Spec.Granularity(); g != 0 {
		return g
	}
	return aperture.DefaultGranularity
}

// Last returns the result of the most recent cycle, or nil.
func (fc *FabricContext) Last() *Result {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.last
}

// Reset forgets all identity bindings and the last result.
func (fc *FabricContext) Reset() {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if fc.mapper != nil {
		fc.mapper.Reset()
	}
	fc.last = nil
}

// SetupTopology runs one setup cycle. On failure the returned Result is
// partial (no routes) and the error is a *SetupError. Either way the result
// replaces the previous one.
func (fc *FabricContext) SetupTopology(ctx context.Context) (*Result, error) {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	if fc.Catalog == nil || fc.Spec == nil {
		return nil, fmt.Errorf("fabric context needs a catalog and a spec: %w", util.ErrInvalidInput)
	}

	res := &Result{CycleID: uuid.New(), Started: time.Now()}
	log := fc.cycleLog(res.CycleID)
	policy := fc.EffectivePolicy()

	res.Devices = fc.Catalog.Devices()
	log.Infof("setup cycle started: %d devices, policy %s", len(res.Devices), policy)

	fail := func(stage Stage, err error) (*Result, error) {
		res.Duration = time.Since(res.Started)
		fc.last = res
		log.WithField("stage", stage).Errorf("setup cycle failed: %v", err)
		return res, &SetupError{Stage: stage, Err: err, Mismatches: res.Mismatches}
	}

	if fc.mapper == nil {
		fc.mapper = identity.NewMapper(policy)
	}
	fc.mapper.SetPolicy(policy)
	fc.mapper.SetLogger(log.WithField("operation", "map"))

	validator := &verify.Validator{Spec: fc.Spec, Policy: policy, Log: log.WithField("operation", "validate")}

	m, err := fc.mapper.AssignIdentities(res.Devices, fc.Spec)
	res.Mapping = fc.mapper.Mapping().Clone()
	if err != nil {
		res.Mismatches = validator.MappingRecords(res.Devices, res.Mapping)
		return fail(StageMap, err)
	}
	if err := ctx.Err(); err != nil {
		return fail(StageMap, err)
	}

	ok, records := validator.Validate(res.Devices, m)
	res.Mismatches = records
	if !ok {
		return fail(StageValidate, verify.Error(records))
	}

	alloc := &aperture.Allocator{
		Spec:        fc.Spec,
		Granularity: fc.EffectiveGranularity(),
		Log:         log.WithField("operation", "apertures"),
	}
	res.Apertures, err = alloc.Allocate(res.Devices, m)
	if err != nil {
		return fail(StageAllocate, err)
	}

	c := &route.Constructor{
		Devices:   res.Devices,
		Mapping:   m,
		Apertures: res.Apertures,
		Log:       log.WithField("operation", "routes"),
	}
	res.Routes, err = c.Run(ctx)
	if err != nil {
		return fail(StageConstruct, err)
	}

	res.Duration = time.Since(res.Started)
	fc.last = res
	log.Infof("setup cycle done in %s: %d mapped, %d apertures, %d routes, %s",
		res.Duration.Round(time.Millisecond), res.Mapping.Len(), res.Apertures.Len(),
		len(res.Routes.GetRoutes()), verify.SummaryLine(res.Mismatches))
	return res, nil
}

func (fc *FabricContext) cycleLog(id uuid.UUID) *logrus.Entry {
	if fc.Log != nil {
		return fc.Log.WithField("cycle", id.String())
	}
	return util.WithCycle(id.String())
}
