package verify

import (
	"errors"
	"strings"
	"testing"

	"github.com/lwfabric/fabtopo/internal/testutil"
	"github.com/lwfabric/fabtopo/pkg/device"
	"github.com/lwfabric/fabtopo/pkg/identity"
	"github.com/lwfabric/fabtopo/pkg/spec"
	"github.com/lwfabric/fabtopo/pkg/util"
)

func mapFixture(t *testing.T, fx *testutil.Fixture, policy spec.MatchPolicy) *identity.Mapping {
	t.Helper()
	m, err := identity.AssignIdentities(fx.Fabric.Devices(), fx.Spec, policy)
	if err != nil {
		t.Fatalf("AssignIdentities() error = %v", err)
	}
	return m
}

func findRecords(records []MismatchRecord, kind Kind) []MismatchRecord {
	var out []MismatchRecord
	for _, r := range records {
		if r.Kind == kind {
			out = append(out, r)
		}
	}
	return out
}

func TestValidateClean(t *testing.T) {
	fx := testutil.SingleSwitch(t)
	m := mapFixture(t, fx, spec.PolicyStrict)

	ok, records := Validate(fx.Fabric.Devices(), fx.Spec, m, spec.PolicyStrict)
	if !ok || len(records) != 0 {
		t.Errorf("Validate() = %v, %v, want ok with no records", ok, records)
	}
	if err := Error(records); err != nil {
		t.Errorf("Error() = %v, want nil", err)
	}
}

func TestValidatePortMismatch(t *testing.T) {
	tests := []struct {
		policy   spec.MatchPolicy
		wantOK   bool
		severity Severity
	}{
		{spec.PolicyStrict, false, SeverityError},
		{spec.PolicyPermissiveForced, true, SeverityWarning},
	}
	for _, tt := range tests {
		t.Run(string(tt.policy), func(t *testing.T) {
			fx := testutil.Miswired(t)
			m := mapFixture(t, fx, tt.policy)

			ok, records := Validate(fx.Fabric.Devices(), fx.Spec, m, tt.policy)
			if ok != tt.wantOK {
				t.Errorf("Validate() ok = %v, want %v", ok, tt.wantOK)
			}
			mismatches := findRecords(records, KindPortMismatch)
			if len(mismatches) != 2 {
				t.Fatalf("port-mismatch records = %v, want ports 0 and 3", records)
			}
			port3 := mismatches[1]
			if port3.Link != 3 || port3.Device != testutil.SwitchX || port3.TopologyID != 0 {
				t.Errorf("record = %+v, want switch X port 3", port3)
			}
			if port3.Expected != "gpu1:0" || port3.Detected != "gpu0:0" {
				t.Errorf("expected/detected = %q/%q, want gpu1:0/gpu0:0", port3.Expected, port3.Detected)
			}
			if port3.Severity != tt.severity {
				t.Errorf("severity = %s, want %s", port3.Severity, tt.severity)
			}
		})
	}
}

func TestValidateMissingPeer(t *testing.T) {
	fx := testutil.MissingGPU(t)
	grading := device.Grading{RxInit: []int{1, 0, 0, 1}}
	fx.Device(t, testutil.SwitchX).SetGrading(3, grading)
	m := mapFixture(t, fx, spec.PolicyPermissiveMinimal)

	ok, records := Validate(fx.Fabric.Devices(), fx.Spec, m, spec.PolicyPermissiveMinimal)
	if !ok {
		t.Error("permissive validation should pass")
	}

	notFound := findRecords(records, KindPeerNotFound)
	if len(notFound) != 1 || notFound[0].Link != 3 {
		t.Fatalf("peer-device-not-found records = %v, want port 3", notFound)
	}
	if notFound[0].Grading == nil || len(notFound[0].Grading.RxInit) != 4 {
		t.Errorf("grading not attached: %+v", notFound[0])
	}

	unmapped := findRecords(records, KindUnmappedIDs)
	if len(unmapped) != 1 || unmapped[0].DeviceType != device.TypeGPU || len(unmapped[0].IDs) != 1 || unmapped[0].IDs[0] != 1 {
		t.Errorf("unmapped-topology-ids-found = %v, want gpu id 1", unmapped)
	}
	if err := Error(records); err != nil {
		t.Errorf("warnings should not produce an error: %v", err)
	}
}

func TestValidateUnexpectedConnection(t *testing.T) {
	fx := testutil.SingleSwitch(t)
	extra := fx.Fabric.MustAddDevice(device.TypeBridge, "npu0", 2)
	fx.Fabric.MustConnect(extra, 0, fx.Device(t, testutil.SwitchX), 5)
	m := mapFixture(t, fx, spec.PolicyStrict)

	ok, records := Validate(fx.Fabric.Devices(), fx.Spec, m, spec.PolicyStrict)
	if ok {
		t.Error("unexpected connection should fail strict validation")
	}
	mismatches := findRecords(records, KindPortMismatch)
	if len(mismatches) != 1 || mismatches[0].Link != 5 {
		t.Fatalf("records = %v, want one port-mismatch on port 5", records)
	}
	if !strings.Contains(mismatches[0].Detected, "npu0") {
		t.Errorf("detected = %q, want the unmapped bridge's stable id", mismatches[0].Detected)
	}

	err := Error(records)
	if !errors.Is(err, util.ErrValidationFailed) {
		t.Errorf("Error() = %v, want ErrValidationFailed", err)
	}
}

func TestMappingRecords(t *testing.T) {
	// both gpu entries point at Y: gpu1 conflicts, Z stays unassigned
	file := &spec.FabricSpecFile{Devices: map[device.Type][]*spec.DeviceEntry{
		device.TypeGPU: {
			{ID: 0, PhysicalID: testutil.GPUY},
			{ID: 1, PhysicalID: testutil.GPUY},
		},
	}}
	s := testutil.MustSpec(t, file)
	fx := testutil.SingleSwitch(t)

	m, err := identity.AssignIdentities(fx.Fabric.Devices(), s, spec.PolicyPermissiveMinimal)
	if err != nil {
		t.Fatal(err)
	}

	v := &Validator{Spec: s, Policy: spec.PolicyPermissiveMinimal}
	records := v.MappingRecords(fx.Fabric.Devices(), m)
	counts := Summarize(records)
	if counts[KindMultipleIDs] != 1 || counts[KindUnassigned] != 1 || counts[KindUnmappedIDs] != 1 {
		t.Errorf("Summarize() = %v", counts)
	}
	for _, r := range findRecords(records, KindUnassigned) {
		if r.Device != testutil.GPUZ {
			t.Errorf("unassigned device = %s, want Z", r.Device)
		}
	}
	line := SummaryLine(records)
	if !strings.HasPrefix(line, "multiple-topology-ids-assigned=1") {
		t.Errorf("SummaryLine() = %q", line)
	}
}
