// Package config loads process-wide configuration for the memory service.
// Precedence is defaults, then an optional YAML file (MEMORY_CONFIG_FILE),
// then environment variables; the override mechanics (defaults struct,
// then file overlay, then per-field env overrides, then Validate) mirror
// emergent-company-specmcp's config loader shape, with `gopkg.in/yaml.v3`
// standing in for its TOML layer.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// PermissionsMode gates which writes require elevated (admin) credentials.
type PermissionsMode string

const (
	ModePermissive PermissionsMode = "permissive"
	ModeStandard   PermissionsMode = "standard"
	ModeStrict     PermissionsMode = "strict"
)

// Config holds every environment-driven setting enumerated in spec §6.
type Config struct {
	PermissionsMode PermissionsMode `yaml:"permissionsMode"`

	RestAPIKey  string `yaml:"restApiKey"`
	AdminKey    string `yaml:"adminKey"`
	RestAgentID string `yaml:"restAgentId"`

	ClassifierBaseURL string `yaml:"classifierBaseUrl"`
	ClassifierModel   string `yaml:"classifierModel"`

	MaxImportEntries int `yaml:"maxImportEntries"`

	CaptureCooldownMs int64 `yaml:"captureCooldownMs"`

	DBPath     string `yaml:"dbPath"`
	BackupDir  string `yaml:"backupDir"`
	HTTPAddr   string `yaml:"httpAddr"`
	Production bool   `yaml:"production"`

	Maintenance MaintenanceConfig `yaml:"maintenance"`
}

// MaintenanceConfig holds the maintenance runner's defaults (spec §6).
type MaintenanceConfig struct {
	LibrarianSchedule             string  `yaml:"librarianSchedule"`
	AutoPromoteThreshold          float64 `yaml:"autoPromoteThreshold"`
	ReviewThreshold               float64 `yaml:"reviewThreshold"`
	EmbeddingSimilarityThreshold  float64 `yaml:"embeddingSimilarityThreshold"`
	TrajectorySimilarityThreshold float64 `yaml:"trajectorySimilarityThreshold"`
	MinPatternSize                int     `yaml:"minPatternSize"`
	LLMMaintenanceTasksEnabled     bool    `yaml:"llmMaintenanceTasksEnabled"`
	MaxEntriesPerRun               int     `yaml:"maxEntriesPerRun"`
}

// Load builds a Config from defaults overlaid with environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		PermissionsMode:  ModeStandard,
		MaxImportEntries: 10000,
		CaptureCooldownMs: 2000,
		DBPath:           "memory.db",
		BackupDir:        "backups",
		HTTPAddr:         ":8085",
		Maintenance: MaintenanceConfig{
			LibrarianSchedule:             "0 5 * * *",
			AutoPromoteThreshold:          0.9,
			ReviewThreshold:               0.7,
			EmbeddingSimilarityThreshold:  0.75,
			TrajectorySimilarityThreshold: 0.75,
			MinPatternSize:                2,
			LLMMaintenanceTasksEnabled:    false,
			MaxEntriesPerRun:              500,
		},
	}

	if path := os.Getenv("MEMORY_CONFIG_FILE"); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// overlayFile decodes a YAML document at path onto c, leaving any field
// the file doesn't set at its prior (default) value since yaml.v3 only
// assigns keys present in the document.
func (c *Config) overlayFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("MEMORY_PERMISSIONS_MODE"); v != "" {
		c.PermissionsMode = PermissionsMode(v)
	}
	envOverride("MEMORY_REST_API_KEY", &c.RestAPIKey)
	envOverride("MEMORY_ADMIN_KEY", &c.AdminKey)
	envOverride("MEMORY_REST_AGENT_ID", &c.RestAgentID)
	envOverride("MEMORY_CLASSIFIER_BASE_URL", &c.ClassifierBaseURL)
	envOverride("MEMORY_CLASSIFIER_MODEL", &c.ClassifierModel)
	envOverride("MEMORY_DB_PATH", &c.DBPath)
	envOverride("MEMORY_BACKUP_DIR", &c.BackupDir)
	envOverride("MEMORY_HTTP_ADDR", &c.HTTPAddr)

	if v := os.Getenv("MEMORY_MAX_IMPORT_ENTRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.MaxImportEntries = n
		}
	}
	if v := os.Getenv("MEMORY_PRODUCTION"); v != "" {
		c.Production = v == "true" || v == "1"
	}
	if v := os.Getenv("MEMORY_CAPTURE_COOLDOWN_MS"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			c.CaptureCooldownMs = n
		}
	}

	envOverride("MEMORY_LIBRARIAN_SCHEDULE", &c.Maintenance.LibrarianSchedule)
	envFloat("MEMORY_AUTO_PROMOTE_THRESHOLD", &c.Maintenance.AutoPromoteThreshold)
	envFloat("MEMORY_REVIEW_THRESHOLD", &c.Maintenance.ReviewThreshold)
	envFloat("MEMORY_EMBEDDING_SIMILARITY_THRESHOLD", &c.Maintenance.EmbeddingSimilarityThreshold)
	envFloat("MEMORY_TRAJECTORY_SIMILARITY_THRESHOLD", &c.Maintenance.TrajectorySimilarityThreshold)
	if v := os.Getenv("MEMORY_MIN_PATTERN_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Maintenance.MinPatternSize = n
		}
	}
	if v := os.Getenv("MEMORY_LLM_MAINTENANCE_ENABLED"); v != "" {
		c.Maintenance.LLMMaintenanceTasksEnabled = v == "true" || v == "1"
	}
}

// Validate enforces the invariants the boundary relies on.
func (c *Config) Validate() error {
	switch c.PermissionsMode {
	case ModePermissive, ModeStandard, ModeStrict:
	default:
		return fmt.Errorf("invalid permissions mode: %q", c.PermissionsMode)
	}
	if c.PermissionsMode != ModePermissive && c.RestAPIKey == "" {
		return fmt.Errorf("MEMORY_REST_API_KEY is required outside permissive mode")
	}
	return nil
}

func envOverride(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}
