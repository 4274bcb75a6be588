// Package verify compares detected fabric wiring against the declared
// specification and reports every discrepancy as a MismatchRecord.
package verify

import (
	"fmt"
	"sort"
	"strings"

	"github.com/lwfabric/fabtopo/pkg/device"
	"github.com/lwfabric/fabtopo/pkg/util"
)

// Kind classifies a mismatch.
type Kind string

const (
	KindPeerNotFound Kind = "peer-device-not-found"
	KindPortMismatch Kind = "port-mismatch"
	KindMultipleIDs  Kind = "multiple-topology-ids-assigned"
	KindUnassigned   Kind = "device-not-assigned-topology-id"
	KindUnmappedIDs  Kind = "unmapped-topology-ids-found"
)

// Kinds lists the mismatch kinds in report order.
var Kinds = []Kind{KindMultipleIDs, KindUnassigned, KindUnmappedIDs, KindPeerNotFound, KindPortMismatch}

// Severity is error under the strict policy and warning otherwise.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// MismatchRecord is one reconciliation failure.
type MismatchRecord struct {
	Kind       Kind            `json:"kind"`
	Severity   Severity        `json:"severity"`
	DeviceType device.Type     `json:"device_type,omitempty"`
	Device     string          `json:"device,omitempty"` // stable id
	TopologyID int             `json:"topology_id"`      // -1 when unmapped or not device-scoped
	Link       int             `json:"link"`             // -1 when not link-scoped
	Expected   string          `json:"expected,omitempty"`
	Detected   string          `json:"detected,omitempty"`
	IDs        []int           `json:"ids,omitempty"`
	Grading    *device.Grading `json:"grading,omitempty"`
	Message    string          `json:"message"`
}

func (r MismatchRecord) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", r.Severity, r.Kind)
	if r.Device != "" {
		fmt.Fprintf(&b, " %s(%s)", r.DeviceType, r.Device)
	} else if r.DeviceType != "" {
		fmt.Fprintf(&b, " %s", r.DeviceType)
	}
	if r.Link >= 0 {
		fmt.Fprintf(&b, " link %d", r.Link)
	}
	if r.Message != "" {
		b.WriteString(": ")
		b.WriteString(r.Message)
	}
	return b.String()
}

// IsError reports whether the record fails validation.
func (r MismatchRecord) IsError() bool {
	return r.Severity == SeverityError
}

func newRecord(kind Kind, sev Severity, d device.Device, id, link int) MismatchRecord {
	r := MismatchRecord{Kind: kind, Severity: sev, TopologyID: id, Link: link}
	if d != nil {
		r.DeviceType = d.Type()
		r.Device = d.StableID()
	}
	return r
}

// Summarize counts records per kind.
func Summarize(records []MismatchRecord) map[Kind]int {
	counts := make(map[Kind]int)
	for _, r := range records {
		counts[r.Kind]++
	}
	return counts
}

// SummaryLine renders Summarize as "kind=n, ..." in report order.
func SummaryLine(records []MismatchRecord) string {
	counts := Summarize(records)
	var parts []string
	for _, k := range Kinds {
		if counts[k] > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", k, counts[k]))
		}
	}
	if len(parts) == 0 {
		return "no mismatches"
	}
	return strings.Join(parts, ", ")
}

// Error folds the error-severity records into a ValidationError, or nil.
func Error(records []MismatchRecord) error {
	v := &util.ValidationBuilder{}
	for _, r := range records {
		if r.IsError() {
			v.AddError(r.String())
		}
	}
	return v.Build()
}

// Sort orders records by kind, device type, device then link.
func Sort(records []MismatchRecord) {
	rank := make(map[Kind]int, len(Kinds))
	for i, k := range Kinds {
		rank[k] = i
	}
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.Kind != b.Kind {
			return rank[a.Kind] < rank[b.Kind]
		}
		if a.DeviceType != b.DeviceType {
			return a.DeviceType < b.DeviceType
		}
		if a.Device != b.Device {
			return a.Device < b.Device
		}
		return a.Link < b.Link
	})
}
