// Package health grades the outcome of a topology setup cycle.
package health

import (
	"context"
	"fmt"
	"time"

	"github.com/lwfabric/fabtopo/pkg/device"
	"github.com/lwfabric/fabtopo/pkg/fabric"
	"github.com/lwfabric/fabtopo/pkg/verify"
)

// Status represents the health status of a component
type Status string

const (
	StatusOK       Status = "ok"
	StatusWarning  Status = "warning"
	StatusCritical Status = "critical"
	StatusUnknown  Status = "unknown"
)

// Result represents the result of a health check
type Result struct {
	Check     string        `json:"check"`
	Status    Status        `json:"status"`
	Message   string        `json:"message"`
	Details   interface{}   `json:"details,omitempty"`
	Duration  time.Duration `json:"duration"`
	Timestamp time.Time     `json:"timestamp"`
}

// Report contains all health check results for one setup cycle
type Report struct {
	Cycle     string        `json:"cycle"`
	Timestamp time.Time     `json:"timestamp"`
	Overall   Status        `json:"overall"`
	Results   []Result      `json:"results"`
	Duration  time.Duration `json:"duration"`
}

// Check defines the interface for health checks
type Check interface {
	Name() string
	Run(ctx context.Context, r *fabric.Result) Result
}

// Checker runs health checks over a setup result
type Checker struct {
	checks []Check
}

// NewChecker creates a new health checker with default checks
func NewChecker() *Checker {
	return &Checker{
		checks: []Check{
			&MismatchCheck{},
			&ApertureCheck{},
			&CoverageCheck{},
			&PathCheck{},
			&UnusedCheck{},
		},
	}
}

// AddCheck appends a custom check.
func (c *Checker) AddCheck(check Check) {
	c.checks = append(c.checks, check)
}

// ListChecks returns the names of all registered checks.
func (c *Checker) ListChecks() []string {
	names := make([]string, len(c.checks))
	for i, check := range c.checks {
		names[i] = check.Name()
	}
	return names
}

// Run executes all health checks and returns a report
func (c *Checker) Run(ctx context.Context, r *fabric.Result) (*Report, error) {
	if r == nil {
		return nil, fmt.Errorf("no setup result")
	}

	start := time.Now()
	report := &Report{
		Cycle:     r.CycleID.String(),
		Timestamp: start,
		Results:   make([]Result, 0, len(c.checks)),
		Overall:   StatusOK,
	}

	for _, check := range c.checks {
		result := check.Run(ctx, r)
		report.Results = append(report.Results, result)
		report.Overall = worst(report.Overall, result.Status)
	}

	report.Duration = time.Since(start)
	return report, nil
}

// RunCheck runs a specific health check by name
func (c *Checker) RunCheck(ctx context.Context, r *fabric.Result, name string) (*Result, error) {
	for _, check := range c.checks {
		if check.Name() == name {
			result := check.Run(ctx, r)
			return &result, nil
		}
	}
	return nil, fmt.Errorf("health check '%s' not found", name)
}

// worst wins; unknown only outranks ok
func worst(overall, s Status) Status {
	switch {
	case s == StatusCritical:
		return StatusCritical
	case s == StatusWarning && overall != StatusCritical:
		return StatusWarning
	case s == StatusUnknown && overall == StatusOK:
		return StatusUnknown
	}
	return overall
}

func begin(name string) Result {
	return Result{Check: name, Timestamp: time.Now()}
}

func (r Result) done(status Status, format string, args ...interface{}) Result {
	r.Status = status
	r.Message = fmt.Sprintf(format, args...)
	r.Duration = time.Since(r.Timestamp)
	return r
}

// MismatchCheck grades the validator's records.
type MismatchCheck struct{}

func (c *MismatchCheck) Name() string { return "mismatches" }

func (c *MismatchCheck) Run(ctx context.Context, r *fabric.Result) Result {
	result := begin(c.Name())
	counts := verify.Summarize(r.Mismatches)
	details := make(map[string]int, len(counts))
	for k, n := range counts {
		details[string(k)] = n
	}
	result.Details = details

	var errs int
	for _, m := range r.Mismatches {
		if m.IsError() {
			errs++
		}
	}
	switch {
	case errs > 0:
		return result.done(StatusCritical, "%d blocking mismatches: %s", errs, verify.SummaryLine(r.Mismatches))
	case len(r.Mismatches) > 0:
		return result.done(StatusWarning, "%s", verify.SummaryLine(r.Mismatches))
	}
	return result.done(StatusOK, "Fabric matches its specification")
}

// ApertureCheck verifies every mapped endpoint owns address space.
type ApertureCheck struct{}

func (c *ApertureCheck) Name() string { return "apertures" }

func (c *ApertureCheck) Run(ctx context.Context, r *fabric.Result) Result {
	result := begin(c.Name())
	if r.Apertures == nil || r.Mapping == nil {
		return result.done(StatusUnknown, "Apertures were not allocated")
	}

	var missing []string
	for _, d := range r.Mapping.Devices() {
		if d.IsEndpoint() && len(r.Apertures.ByDevice(d)) == 0 {
			missing = append(missing, device.Name(d))
		}
	}
	result.Details = map[string]interface{}{
		"apertures": r.Apertures.Len(),
		"owners":    len(r.Apertures.Devices()),
		"missing":   missing,
	}
	if len(missing) > 0 {
		return result.done(StatusCritical, "%d endpoints own no aperture", len(missing))
	}
	return result.done(StatusOK, "%d apertures over %d endpoints", r.Apertures.Len(), len(r.Apertures.Devices()))
}

// CoverageCheck verifies every ordered pair of aperture owners has a route.
type CoverageCheck struct{}

func (c *CoverageCheck) Name() string { return "route-coverage" }

func (c *CoverageCheck) Run(ctx context.Context, r *fabric.Result) Result {
	result := begin(c.Name())
	if r.Routes == nil || r.Apertures == nil {
		return result.done(StatusUnknown, "Routes were not built")
	}

	owners := r.Apertures.Devices()
	var want, missing int
	var unreachable []string
	for _, src := range owners {
		for _, dst := range owners {
			if src == dst {
				continue
			}
			want++
			if _, ok := r.Routes.Route(src, dst); !ok {
				missing++
				unreachable = append(unreachable, device.Name(src)+" -> "+device.Name(dst))
			}
		}
	}
	result.Details = map[string]interface{}{"pairs": want, "missing": missing, "unreachable": unreachable}

	switch {
	case missing == 0:
		return result.done(StatusOK, "All %d endpoint pairs routed", want)
	case missing*2 < want:
		return result.done(StatusWarning, "%d of %d endpoint pairs unrouted", missing, want)
	}
	return result.done(StatusCritical, "%d of %d endpoint pairs unrouted", missing, want)
}

// PathCheck re-validates every stored path.
type PathCheck struct{}

func (c *PathCheck) Name() string { return "path-validity" }

func (c *PathCheck) Run(ctx context.Context, r *fabric.Result) Result {
	result := begin(c.Name())
	if r.Routes == nil {
		return result.done(StatusUnknown, "Routes were not built")
	}
	var total, invalid int
	for _, rt := range r.Routes.GetRoutes() {
		for _, p := range rt.Paths {
			total++
			if p.Validate() != nil {
				invalid++
			}
		}
	}
	result.Details = map[string]int{"paths": total, "invalid": invalid}
	if invalid > 0 {
		return result.done(StatusCritical, "%d of %d paths invalid", invalid, total)
	}
	return result.done(StatusOK, "All %d paths valid", total)
}

// UnusedCheck flags adjacencies no path traverses.
type UnusedCheck struct{}

func (c *UnusedCheck) Name() string { return "unused-connections" }

func (c *UnusedCheck) Run(ctx context.Context, r *fabric.Result) Result {
	result := begin(c.Name())
	if r.Routes == nil {
		return result.done(StatusUnknown, "Routes were not built")
	}
	var unused []string
	conns := r.Routes.Connections()
	for _, conn := range conns {
		if conn.Unused {
			unused = append(unused, conn.String())
		}
	}
	result.Details = map[string]interface{}{"connections": len(conns), "unused": unused}
	if len(unused) > 0 {
		return result.done(StatusWarning, "%d of %d connections carry no path", len(unused), len(conns))
	}
	return result.done(StatusOK, "All %d connections in use", len(conns))
}
