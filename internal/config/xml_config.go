// Package config provides XML-based configuration management for air-gapped deployment.
package config

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// AppConfig represents the root XML configuration structure
type AppConfig struct {
	XMLName xml.Name `xml:"LogAnalytics"`

	// Server configuration
	Server ServerConfig `xml:"Server"`

	// Storage configuration
	Storage StorageConfig `xml:"Storage"`

	// Ingestion configuration
	Ingest IngestConfig `xml:"Ingest"`

	// Security configuration
	Security SecurityConfig `xml:"Security"`

	// Advanced options
	Advanced AdvancedConfig `xml:"Advanced"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port         int    `xml:"Port"`
	BindAddress  string `xml:"BindAddress"`
	EnableCORS   bool   `xml:"EnableCORS"`
	AllowOrigins string `xml:"AllowOrigins"`
	ReadTimeout  int    `xml:"ReadTimeoutSeconds"`
	WriteTimeout int    `xml:"WriteTimeoutSeconds"`
	IdleTimeout  int    `xml:"IdleTimeoutSeconds"`
	BodyLimit    string `xml:"BodyLimit"`
}

// StorageConfig contains database and file storage settings
type StorageConfig struct {
	DataDirectory    string `xml:"DataDirectory"`
	DatabasePath     string `xml:"DatabasePath"`
	ExportsDirectory string `xml:"ExportsDirectory"`
	EquipmentRoster  string `xml:"EquipmentRosterFile"`
}

// IngestConfig contains ingestion and scheduling settings
type IngestConfig struct {
	HistoryDirName  string `xml:"HistoryDirName"`
	Timezone        string `xml:"Timezone"`
	EnableScheduler bool   `xml:"EnableScheduler"`
	ScheduleHour    int    `xml:"ScheduleHour"` // local hour, 0-23
}

// SecurityConfig contains security settings
type SecurityConfig struct {
	APIToken string `xml:"APIToken"` // empty disables the token check
}

// AdvancedConfig contains advanced/tuning options
type AdvancedConfig struct {
	LogLevel             string `xml:"LogLevel"`
	EnableRequestLogging bool   `xml:"EnableRequestLogging"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:         8090,
			BindAddress:  "0.0.0.0",
			EnableCORS:   true,
			AllowOrigins: "*",
			ReadTimeout:  30,
			WriteTimeout: 60,
			IdleTimeout:  120,
			BodyLimit:    "8M",
		},
		Storage: StorageConfig{
			DataDirectory:    "./data",
			DatabasePath:     "./data/analytics.duckdb",
			ExportsDirectory: "./data/exports",
			EquipmentRoster:  "./data/equipment.yaml",
		},
		Ingest: IngestConfig{
			HistoryDirName:  "S100_test_log",
			Timezone:        "Asia/Taipei",
			EnableScheduler: true,
			ScheduleHour:    23,
		},
		Security: SecurityConfig{
			APIToken: "",
		},
		Advanced: AdvancedConfig{
			LogLevel:             "info",
			EnableRequestLogging: true,
		},
	}
}

// LoadConfig loads configuration from XML file
func LoadConfig(configPath string) (*AppConfig, error) {
	// If file doesn't exist, create default
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		config := DefaultConfig()
		if err := config.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		return config, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := &AppConfig{}
	if err := xml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Apply environment variable overrides
	config.applyEnvironmentOverrides()

	// Resolve relative paths
	config.resolvePaths(filepath.Dir(configPath))

	return config, nil
}

// Save saves the configuration to XML file
func (c *AppConfig) Save(configPath string) error {
	output, err := xml.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(xml.Header + "\n<!-- Equipment Log Analytics Configuration -->\n<!-- This file is auto-generated on first run -->\n\n")
	content := append(header, output...)

	if err := os.WriteFile(configPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// applyEnvironmentOverrides allows environment variables to override config values
func (c *AppConfig) applyEnvironmentOverrides() {
	// PORT override
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}

	// DATA_DIR override
	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		c.Storage.DataDirectory = dataDir
		c.Storage.DatabasePath = filepath.Join(dataDir, "analytics.duckdb")
		c.Storage.ExportsDirectory = filepath.Join(dataDir, "exports")
		c.Storage.EquipmentRoster = filepath.Join(dataDir, "equipment.yaml")
	}

	// API_TOKEN override
	if token := os.Getenv("API_TOKEN"); token != "" {
		c.Security.APIToken = token
	}
}

// resolvePaths converts relative paths to absolute based on config file location
func (c *AppConfig) resolvePaths(configDir string) {
	if !filepath.IsAbs(c.Storage.DataDirectory) {
		c.Storage.DataDirectory = filepath.Join(configDir, c.Storage.DataDirectory)
	}
	if !filepath.IsAbs(c.Storage.DatabasePath) {
		c.Storage.DatabasePath = filepath.Join(configDir, c.Storage.DatabasePath)
	}
	if !filepath.IsAbs(c.Storage.ExportsDirectory) {
		c.Storage.ExportsDirectory = filepath.Join(configDir, c.Storage.ExportsDirectory)
	}
	if !filepath.IsAbs(c.Storage.EquipmentRoster) {
		c.Storage.EquipmentRoster = filepath.Join(configDir, c.Storage.EquipmentRoster)
	}
}

// GetDataDir returns the absolute data directory path
func (c *AppConfig) GetDataDir() string {
	return c.Storage.DataDirectory
}

// GetServerAddr returns the server bind address
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// Location resolves the configured fixed local zone. All log timestamps are
// interpreted in this zone; when the tz database is unavailable (minimal
// containers) it falls back to a fixed UTC+8 offset matching the default.
func (c *AppConfig) Location() *time.Location {
	if loc, err := time.LoadLocation(c.Ingest.Timezone); err == nil {
		return loc
	}
	return time.FixedZone("UTC+8", 8*3600)
}

// EnsureDirectories creates all necessary directories
func (c *AppConfig) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDirectory,
		c.Storage.ExportsDirectory,
		filepath.Dir(c.Storage.DatabasePath),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
