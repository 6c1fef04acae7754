package config

import (
	"os"
	"path/filepath"
	"testing"

	"malariad/internal/model"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing-config.yaml"))

	cfg := LoadConfig()

	if cfg.ListenAddr != ":8080" {
		t.Fatalf("unexpected listen addr default: %q", cfg.ListenAddr)
	}
	if cfg.DBPath != "./clinical_records.db" {
		t.Fatalf("unexpected db path default: %q", cfg.DBPath)
	}
	if cfg.SnapshotDir != "./snapshots" {
		t.Fatalf("unexpected snapshot dir default: %q", cfg.SnapshotDir)
	}
	if cfg.BackupRetention != 10 {
		t.Fatalf("unexpected backup retention default: %d", cfg.BackupRetention)
	}
	if cfg.RetrainEnabled {
		t.Fatal("retraining must default to disabled")
	}
	if cfg.RetrainThreshold != 5 {
		t.Fatalf("unexpected retrain threshold default: %d", cfg.RetrainThreshold)
	}
	if cfg.RetrainWindow != 100 {
		t.Fatalf("unexpected retrain window default: %d", cfg.RetrainWindow)
	}
	if cfg.RetrainEpochs != 50 {
		t.Fatalf("unexpected retrain epochs default: %d", cfg.RetrainEpochs)
	}
	if cfg.DuplicateLookbackDays != 30 {
		t.Fatalf("unexpected lookback default: %d", cfg.DuplicateLookbackDays)
	}
	if len(cfg.Features) != len(DefaultFeatures) {
		t.Fatalf("expected %d default features, got %d", len(DefaultFeatures), len(cfg.Features))
	}
	if cfg.Features[0] != "chill_cold" || cfg.Features[len(cfg.Features)-1] != "diarrhea" {
		t.Fatalf("default feature order changed: %v", cfg.Features)
	}
}

func TestLoadConfigYAMLAndEnvOverride(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	content := `
listen_addr: ":9090"
db_path: "/tmp/yaml.db"
retrain_enabled: true
retrain_threshold: 20
features:
  - fever
  - chills
`
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("CONFIG_PATH", cfgPath)
	t.Setenv("DB_PATH", "/tmp/env.db")
	t.Setenv("RETRAIN_THRESHOLD", "7")

	cfg := LoadConfig()

	if cfg.ListenAddr != ":9090" {
		t.Fatalf("yaml listen addr not applied: %q", cfg.ListenAddr)
	}
	if cfg.DBPath != "/tmp/env.db" {
		t.Fatalf("env must override yaml, got %q", cfg.DBPath)
	}
	if !cfg.RetrainEnabled {
		t.Fatal("yaml retrain_enabled not applied")
	}
	if cfg.RetrainThreshold != 7 {
		t.Fatalf("env must override yaml threshold, got %d", cfg.RetrainThreshold)
	}
	if len(cfg.Features) != 2 || cfg.Features[0] != "fever" {
		t.Fatalf("yaml features not applied: %v", cfg.Features)
	}
}

func TestLoadConfigFeaturesFromEnv(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing-config.yaml"))
	t.Setenv("FEATURES", "fever, chills , headache,")

	cfg := LoadConfig()

	want := []string{"fever", "chills", "headache"}
	if len(cfg.Features) != len(want) {
		t.Fatalf("expected %d features, got %v", len(want), cfg.Features)
	}
	for i, name := range want {
		if cfg.Features[i] != name {
			t.Fatalf("feature %d: got %q, want %q", i, cfg.Features[i], name)
		}
	}
}

func TestLoadConfigIgnoresInvalidIntEnv(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing-config.yaml"))
	t.Setenv("RETRAIN_THRESHOLD", "lots")

	cfg := LoadConfig()
	if cfg.RetrainThreshold != 5 {
		t.Fatalf("invalid env must fall back to default, got %d", cfg.RetrainThreshold)
	}
}

func TestValidatePatientID(t *testing.T) {
	var cfg Config // zero value falls back to 3..50 and the default charset

	valid := []string{"PAT", "PAT001", "patient_01", "a-b-c-1"}
	for _, id := range valid {
		if err := cfg.ValidatePatientID(id); err != nil {
			t.Errorf("ValidatePatientID(%q) rejected valid id: %v", id, err)
		}
	}

	invalid := []string{
		"",
		"ab",
		"PAT 01",
		"PAT#01",
		"p@tient",
		"0123456789012345678901234567890123456789012345678901", // 52 chars
	}
	for _, id := range invalid {
		err := cfg.ValidatePatientID(id)
		if err == nil {
			t.Errorf("ValidatePatientID(%q) accepted invalid id", id)
			continue
		}
		if !model.IsValidation(err) {
			t.Errorf("ValidatePatientID(%q): expected validation error, got %v", id, err)
		}
	}
}

func TestValidatePatientIDConfiguredBounds(t *testing.T) {
	cfg := Config{PatientIDMinLength: 5, PatientIDMaxLength: 8}

	if err := cfg.ValidatePatientID("PAT1"); err == nil {
		t.Fatal("expected rejection below configured minimum")
	}
	if err := cfg.ValidatePatientID("PAT12"); err != nil {
		t.Fatalf("id at configured minimum rejected: %v", err)
	}
	if err := cfg.ValidatePatientID("PAT123456"); err == nil {
		t.Fatal("expected rejection above configured maximum")
	}
}
