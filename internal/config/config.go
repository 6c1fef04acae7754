package config

import (
	"log"
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"malariad/internal/model"
)

const defaultPatientIDPattern = `^[A-Za-z0-9_-]+$`

// DefaultFeatures is the recognized symptom schema, in the fixed order used
// for every stored vector. Supplying a different schema via config or env
// changes the vector layout for the whole process lifetime.
var DefaultFeatures = []string{
	"chill_cold",
	"headache",
	"fever",
	"generalized_body_pain",
	"abdominal_pain",
	"loss_of_appetite",
	"joint_pain",
	"vomiting",
	"nausea",
	"diarrhea",
}

type Config struct {
	ListenAddr string `yaml:"listen_addr"`

	DBPath      string `yaml:"db_path"`
	SnapshotDir string `yaml:"snapshot_dir"`

	BackupDir       string `yaml:"backup_dir"`
	BackupRetention int    `yaml:"backup_retention"`

	Features []string `yaml:"features"`

	// Retraining. The source material disagrees on a trigger threshold
	// (5 in one place, 20-50 in another), so it is a config value with a
	// default rather than a constant anywhere else in the code.
	RetrainEnabled   bool `yaml:"retrain_enabled"`
	RetrainThreshold int  `yaml:"retrain_threshold"`
	RetrainWindow    int  `yaml:"retrain_window"`
	RetrainEpochs    int  `yaml:"retrain_epochs"`

	// SnapshotWatchSchedule is a 5-field cron expression for polling the
	// snapshot dir for externally dropped policy artifacts. Empty disables
	// the watcher.
	SnapshotWatchSchedule string `yaml:"snapshot_watch_schedule"`

	DuplicateLookbackDays int `yaml:"duplicate_lookback_days"`

	PatientIDMinLength int    `yaml:"patient_id_min_length"`
	PatientIDMaxLength int    `yaml:"patient_id_max_length"`
	PatientIDPattern   string `yaml:"patient_id_pattern"`

	patientIDRe *regexp.Regexp `yaml:"-"`
}

func LoadConfig() Config {
	var cfg Config

	// Load from config.yaml if it exists
	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatalf("Error parsing %s: %v", configPath, err)
		}
		log.Printf("Loaded config from %s", configPath)
	}

	// Env vars override YAML values
	envOverride(&cfg.ListenAddr, "LISTEN_ADDR")
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverride(&cfg.SnapshotDir, "SNAPSHOT_DIR")
	envOverride(&cfg.BackupDir, "BACKUP_DIR")
	envOverrideInt(&cfg.BackupRetention, "BACKUP_RETENTION")
	envOverrideBool(&cfg.RetrainEnabled, "ENABLE_RETRAINING")
	envOverrideInt(&cfg.RetrainThreshold, "RETRAIN_THRESHOLD")
	envOverrideInt(&cfg.RetrainWindow, "RETRAIN_WINDOW")
	envOverrideInt(&cfg.RetrainEpochs, "RETRAIN_EPOCHS")
	envOverride(&cfg.SnapshotWatchSchedule, "SNAPSHOT_WATCH_SCHEDULE")
	envOverrideInt(&cfg.DuplicateLookbackDays, "DUPLICATE_LOOKBACK_DAYS")
	envOverrideInt(&cfg.PatientIDMinLength, "PATIENT_ID_MIN_LENGTH")
	envOverrideInt(&cfg.PatientIDMaxLength, "PATIENT_ID_MAX_LENGTH")
	envOverride(&cfg.PatientIDPattern, "PATIENT_ID_PATTERN")

	if names := os.Getenv("FEATURES"); names != "" {
		cfg.Features = nil
		for _, name := range strings.Split(names, ",") {
			name = strings.TrimSpace(name)
			if name != "" {
				cfg.Features = append(cfg.Features, name)
			}
		}
	}

	// Defaults
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./clinical_records.db"
	}
	if cfg.SnapshotDir == "" {
		cfg.SnapshotDir = "./snapshots"
	}
	if cfg.BackupDir == "" {
		cfg.BackupDir = "./backups"
	}
	if cfg.BackupRetention == 0 {
		cfg.BackupRetention = 10
	}
	if len(cfg.Features) == 0 {
		cfg.Features = append([]string(nil), DefaultFeatures...)
	}
	if cfg.RetrainThreshold == 0 {
		cfg.RetrainThreshold = 5
	}
	if cfg.RetrainWindow == 0 {
		cfg.RetrainWindow = 100
	}
	if cfg.RetrainEpochs == 0 {
		cfg.RetrainEpochs = 50
	}
	if cfg.DuplicateLookbackDays == 0 {
		cfg.DuplicateLookbackDays = 30
	}
	if cfg.PatientIDMinLength == 0 {
		cfg.PatientIDMinLength = 3
	}
	if cfg.PatientIDMaxLength == 0 {
		cfg.PatientIDMaxLength = 50
	}
	if cfg.PatientIDPattern == "" {
		cfg.PatientIDPattern = defaultPatientIDPattern
	}

	re, err := regexp.Compile(cfg.PatientIDPattern)
	if err != nil {
		log.Fatalf("Invalid patient_id_pattern %q: %v", cfg.PatientIDPattern, err)
	}
	cfg.patientIDRe = re

	return cfg
}

// PatientIDRegexp resolves the allowed-charset pattern, falling back to the
// default when the config was built by hand (tests, zero value).
func (c Config) PatientIDRegexp() *regexp.Regexp {
	if c.patientIDRe != nil {
		return c.patientIDRe
	}
	return regexp.MustCompile(defaultPatientIDPattern)
}

// ValidatePatientID checks the configured length bounds and character set.
func (c Config) ValidatePatientID(patientID string) error {
	if patientID == "" {
		return &model.ValidationError{Field: "patient id", Reason: "cannot be empty"}
	}
	min := c.PatientIDMinLength
	if min == 0 {
		min = 3
	}
	max := c.PatientIDMaxLength
	if max == 0 {
		max = 50
	}
	if len(patientID) < min {
		return &model.ValidationError{Field: "patient id", Reason: "shorter than " + strconv.Itoa(min) + " characters"}
	}
	if len(patientID) > max {
		return &model.ValidationError{Field: "patient id", Reason: "longer than " + strconv.Itoa(max) + " characters"}
	}
	if !c.PatientIDRegexp().MatchString(patientID) {
		return &model.ValidationError{Field: "patient id", Reason: "contains disallowed characters"}
	}
	return nil
}

func envOverride(target *string, envVar string) {
	if v := os.Getenv(envVar); v != "" {
		*target = v
	}
}

func envOverrideInt(target *int, envVar string) {
	if v := os.Getenv(envVar); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*target = n
		} else {
			log.Printf("Ignoring invalid %s=%q: %v", envVar, v, err)
		}
	}
}

func envOverrideBool(target *bool, envVar string) {
	if v := os.Getenv(envVar); v != "" {
		if b, err := strconv.ParseBool(strings.ToLower(v)); err == nil {
			*target = b
		} else {
			log.Printf("Ignoring invalid %s=%q: %v", envVar, v, err)
		}
	}
}
