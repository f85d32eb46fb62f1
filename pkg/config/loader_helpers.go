package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// loadAndMerge loads a YAML file and merges it into the config.
func loadAndMerge(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var override Config
	if err := yaml.Unmarshal(data, &override); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}

	mergeConfigs(cfg, &override, raw)
	return nil
}

// mergeConfigs merges override into base. Scalars overwrite when non-zero;
// booleans overwrite only when the key is present in raw.
func mergeConfigs(base, override *Config, raw map[string]any) {
	if override == nil {
		return
	}

	if override.Safety.MaxCellsToWrite != 0 {
		base.Safety.MaxCellsToWrite = override.Safety.MaxCellsToWrite
	}
	if boolFieldSet(raw, "safety", "max_rows_to_delete") {
		base.Safety.MaxRowsToDelete = override.Safety.MaxRowsToDelete
	}
	if boolFieldSet(raw, "safety", "max_columns_to_delete") {
		base.Safety.MaxColumnsToDelete = override.Safety.MaxColumnsToDelete
	}
	if boolFieldSet(raw, "safety", "require_confirmation_for_whole_sheet_ops") {
		base.Safety.RequireConfirmationForWholeSheetOps = override.Safety.RequireConfirmationForWholeSheetOps
	}
	if boolFieldSet(raw, "safety", "require_backup_before_destructive_ops") {
		base.Safety.RequireBackupBeforeDestructiveOps = override.Safety.RequireBackupBeforeDestructiveOps
	}
	if boolFieldSet(raw, "safety", "read_only_mode") {
		base.Safety.ReadOnlyMode = override.Safety.ReadOnlyMode
	}
	if boolFieldSet(raw, "safety", "experimental_features_enabled") {
		base.Safety.ExperimentalFeaturesEnabled = override.Safety.ExperimentalFeaturesEnabled
	}

	if override.Approval.Mode != "" {
		base.Approval.Mode = override.Approval.Mode
	}

	if override.Memory.Cap != 0 {
		base.Memory.Cap = override.Memory.Cap
	}
	if override.Memory.Backend != "" {
		base.Memory.Backend = override.Memory.Backend
	}

	if override.Storage.Path != "" {
		base.Storage.Path = override.Storage.Path
	}

	if override.Workbook.Path != "" {
		base.Workbook.Path = override.Workbook.Path
	}
	if override.Workbook.Selection != "" {
		base.Workbook.Selection = override.Workbook.Selection
	}
	if boolFieldSet(raw, "workbook", "preview_rows") {
		base.Workbook.PreviewRows = override.Workbook.PreviewRows
	}
	if boolFieldSet(raw, "workbook", "preview_cols") {
		base.Workbook.PreviewCols = override.Workbook.PreviewCols
	}
	if boolFieldSet(raw, "workbook", "watch") {
		base.Workbook.Watch = override.Workbook.Watch
	}

	if override.Email.From != "" {
		base.Email.From = override.Email.From
	}
	if override.Email.OutboxQueue != "" {
		base.Email.OutboxQueue = override.Email.OutboxQueue
	}
	if override.Email.RatePerMinute != 0 {
		base.Email.RatePerMinute = override.Email.RatePerMinute
	}
	if override.Email.Burst != 0 {
		base.Email.Burst = override.Email.Burst
	}

	if override.Bus.Backend != "" {
		base.Bus.Backend = override.Bus.Backend
	}
	if override.Bus.NATS.URL != "" {
		base.Bus.NATS.URL = override.Bus.NATS.URL
	}
	if override.Bus.NATS.Username != "" {
		base.Bus.NATS.Username = override.Bus.NATS.Username
	}
	if override.Bus.NATS.Password != "" {
		base.Bus.NATS.Password = override.Bus.NATS.Password
	}
	if override.Bus.NATS.Token != "" {
		base.Bus.NATS.Token = override.Bus.NATS.Token
	}
	if boolFieldSet(raw, "bus", "nats", "tls") {
		base.Bus.NATS.TLS = override.Bus.NATS.TLS
	}
	if override.Bus.NATS.ConnectTimeout != 0 {
		base.Bus.NATS.ConnectTimeout = override.Bus.NATS.ConnectTimeout
	}

	if override.Tools.Timeout != 0 {
		base.Tools.Timeout = override.Tools.Timeout
	}
	if boolFieldSet(raw, "tools", "max_retries") {
		base.Tools.MaxRetries = override.Tools.MaxRetries
	}
	if override.Tools.ReviewTTL != 0 {
		base.Tools.ReviewTTL = override.Tools.ReviewTTL
	}
	if len(override.Tools.Disabled) > 0 {
		base.Tools.Disabled = append([]string(nil), override.Tools.Disabled...)
	}

	if override.Server.Bind != "" {
		base.Server.Bind = override.Server.Bind
	}
	if override.Server.AuthToken != "" {
		base.Server.AuthToken = override.Server.AuthToken
	}

	if override.Logging.Dir != "" {
		base.Logging.Dir = override.Logging.Dir
	}
	if override.Logging.Level != "" {
		base.Logging.Level = override.Logging.Level
	}

	if boolFieldSet(raw, "telemetry", "tracing_enabled") {
		base.Telemetry.TracingEnabled = override.Telemetry.TracingEnabled
	}
	if boolFieldSet(raw, "telemetry", "metrics_enabled") {
		base.Telemetry.MetricsEnabled = override.Telemetry.MetricsEnabled
	}
	if override.Telemetry.ServiceName != "" {
		base.Telemetry.ServiceName = override.Telemetry.ServiceName
	}
}

func boolFieldSet(raw map[string]any, path ...string) bool {
	if len(path) == 0 || raw == nil {
		return false
	}
	current := any(raw)
	for _, key := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return false
		}
		val, ok := m[key]
		if !ok {
			return false
		}
		current = val
	}
	return true
}
