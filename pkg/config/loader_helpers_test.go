package config

import "testing"

func TestMergeConfigsPreservesBooleanDefaults(t *testing.T) {
	base := DefaultConfig()
	override := &Config{
		Approval: ApprovalConfig{Mode: "ask"},
	}
	raw := map[string]any{
		"approval": map[string]any{
			"mode": "ask",
		},
	}

	mergeConfigs(base, override, raw)

	if !base.Safety.RequireBackupBeforeDestructiveOps {
		t.Fatalf("backup flag should remain true when not overridden")
	}
	if base.Approval.Mode != "ask" {
		t.Fatalf("expected approval mode to be overridden")
	}
}

func TestMergeConfigsRespectsBooleanOverrides(t *testing.T) {
	base := DefaultConfig()
	override := &Config{}
	override.Safety.RequireConfirmationForWholeSheetOps = false
	raw := map[string]any{
		"safety": map[string]any{
			"require_confirmation_for_whole_sheet_ops": false,
		},
	}

	mergeConfigs(base, override, raw)

	if base.Safety.RequireConfirmationForWholeSheetOps {
		t.Fatalf("expected confirmation flag to update when override is explicit")
	}
}

func TestMergeConfigsAllowsZeroDeleteLimits(t *testing.T) {
	base := DefaultConfig()
	override := &Config{}
	raw := map[string]any{
		"safety": map[string]any{
			"max_rows_to_delete": 0,
		},
	}

	mergeConfigs(base, override, raw)

	if base.Safety.MaxRowsToDelete != 0 {
		t.Fatalf("explicit zero should disable row deletes, got %d", base.Safety.MaxRowsToDelete)
	}
	if base.Safety.MaxColumnsToDelete != DefaultMaxColumnsToDelete {
		t.Fatalf("column limit should be untouched, got %d", base.Safety.MaxColumnsToDelete)
	}
}

func TestMergeConfigsNATS(t *testing.T) {
	base := DefaultConfig()
	override := &Config{}
	override.Bus.Backend = BusBackendNATS
	override.Bus.NATS.URL = "nats://bus:4222"
	override.Bus.NATS.TLS = true
	raw := map[string]any{
		"bus": map[string]any{
			"backend": "nats",
			"nats": map[string]any{
				"url": "nats://bus:4222",
				"tls": true,
			},
		},
	}

	mergeConfigs(base, override, raw)

	if base.Bus.Backend != BusBackendNATS || base.Bus.NATS.URL != "nats://bus:4222" || !base.Bus.NATS.TLS {
		t.Fatalf("unexpected bus config: %+v", base.Bus)
	}
	if base.Bus.NATS.ConnectTimeout == 0 {
		t.Fatalf("connect timeout default should survive")
	}
}

func TestMergeConfigsNilOverride(t *testing.T) {
	base := DefaultConfig()
	mergeConfigs(base, nil, nil)
	if base.Memory.Cap != DefaultMemoryCap {
		t.Fatalf("nil override should be a no-op")
	}
}

func TestBoolFieldSet(t *testing.T) {
	raw := map[string]any{
		"a": map[string]any{
			"b": map[string]any{"c": false},
		},
		"flat": "x",
	}

	if !boolFieldSet(raw, "a", "b", "c") {
		t.Error("expected nested key to be found")
	}
	if boolFieldSet(raw, "a", "b", "missing") {
		t.Error("missing key should not be reported as set")
	}
	if boolFieldSet(raw, "flat", "deeper") {
		t.Error("descending into a scalar should fail")
	}
	if boolFieldSet(nil, "a") || boolFieldSet(raw) {
		t.Error("nil map or empty path should be false")
	}
}
