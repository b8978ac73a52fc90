package config

import (
	"os"
	"path"
	"strconv"
)

// Config is the complete deployer configuration. Every field has a default
// (see Default), so a config file only needs to name what differs.
type Config struct {
	// Root is the directory host paths are resolved under. Production runs
	// use "/"; tests point it at a scratch directory.
	Root string `yaml:"root,omitempty" json:"root,omitempty"`

	// App describes the application being deployed.
	App AppConfig `yaml:"app" json:"app"`

	// Source configures where the application code is fetched from.
	Source SourceConfig `yaml:"source" json:"source"`

	// Packages lists the OS packages later stages depend on.
	Packages PackagesConfig `yaml:"packages" json:"packages"`

	// Python configures the isolated runtime environment.
	Python PythonConfig `yaml:"python" json:"python"`

	// Secrets configures the application's secrets file.
	Secrets SecretsConfig `yaml:"secrets" json:"secrets"`

	// Service configures the systemd unit.
	Service ServiceConfig `yaml:"service" json:"service"`

	// Proxy configures the nginx site.
	Proxy ProxyConfig `yaml:"proxy" json:"proxy"`

	// Firewall configures the ufw profiles to allow.
	Firewall FirewallConfig `yaml:"firewall" json:"firewall"`

	// Journal configures the on-host run history.
	Journal JournalConfig `yaml:"journal" json:"journal"`

	// Telemetry configures logs, metrics and traces.
	Telemetry TelemetryConfig `yaml:"telemetry" json:"telemetry"`
}

// AppConfig describes the deployed application.
type AppConfig struct {
	// Name identifies the application (e.g. "discharge-summary").
	Name string `yaml:"name" json:"name" validate:"required,hostname_rfc1123"`

	// Dir is the application directory. It is fully replaced on every run.
	Dir string `yaml:"dir" json:"dir" validate:"required,abspath"`

	// User is the runtime identity that owns Dir and runs the service.
	User string `yaml:"user" json:"user" validate:"required"`

	// Group is the runtime identity's group.
	Group string `yaml:"group" json:"group" validate:"required"`

	// Domain is the public hostname shown in follow-up instructions.
	Domain string `yaml:"domain" json:"domain" validate:"required"`

	// Port is the internal port the application listens on. The secrets
	// file's PORT is expected to match it.
	Port int `yaml:"port" json:"port" validate:"min=1,max=65535"`
}

// SourceConfig describes where application code comes from.
type SourceConfig struct {
	// RepoURL is the git clone URL.
	RepoURL string `yaml:"repo_url" json:"repo_url" validate:"required"`

	// Branch is an optional branch or tag to clone.
	Branch string `yaml:"branch,omitempty" json:"branch,omitempty"`

	// Depth limits clone history; 0 clones everything.
	Depth int `yaml:"depth" json:"depth" validate:"min=0"`

	// Preserve lists files, relative to the application directory, that
	// survive the full replace of the directory.
	Preserve []string `yaml:"preserve,omitempty" json:"preserve,omitempty" validate:"dive,required,relpath"`
}

// PackagesConfig lists required OS packages.
type PackagesConfig struct {
	// Manager is "apt" or "dnf". Empty means auto-detect.
	Manager string `yaml:"manager,omitempty" json:"manager,omitempty" validate:"omitempty,oneof=apt dnf"`

	// Names are the packages to ensure are installed.
	Names []string `yaml:"names" json:"names" validate:"required,min=1,dive,required"`
}

// PythonConfig configures the runtime environment builder.
type PythonConfig struct {
	// Interpreter is the system interpreter used to create the environment.
	Interpreter string `yaml:"interpreter" json:"interpreter" validate:"required"`

	// VenvDir is the environment directory, relative to the application directory.
	VenvDir string `yaml:"venv_dir" json:"venv_dir" validate:"required,relpath"`

	// Requirements is the dependency manifest, relative to the application directory.
	Requirements string `yaml:"requirements" json:"requirements" validate:"required,relpath"`
}

// SecretsConfig configures the secrets file.
type SecretsConfig struct {
	// File is the secrets file, relative to the application directory.
	File string `yaml:"file" json:"file" validate:"required,relpath"`

	// Template is the placeholder file copied on first run, relative to the
	// application directory.
	Template string `yaml:"template" json:"template" validate:"required,relpath"`

	// Mode is the octal permission mode applied to the secrets file.
	Mode string `yaml:"mode" json:"mode" validate:"required,filemode"`

	// RequiredKeys are the keys the operator must fill in.
	RequiredKeys []string `yaml:"required_keys" json:"required_keys" validate:"dive,required"`
}

// ServiceConfig configures the systemd unit.
type ServiceConfig struct {
	// Name is the unit name without the ".service" suffix.
	Name string `yaml:"name" json:"name" validate:"required"`

	// UnitFile is the shipped unit, relative to the application directory.
	UnitFile string `yaml:"unit_file" json:"unit_file" validate:"required,relpath"`

	// UnitDir is the systemd registry directory.
	UnitDir string `yaml:"unit_dir" json:"unit_dir" validate:"required,abspath"`
}

// ProxyConfig configures the nginx site.
type ProxyConfig struct {
	// SiteName is the file name used under sites-available and sites-enabled.
	SiteName string `yaml:"site_name" json:"site_name" validate:"required"`

	// SiteFile is the shipped site definition, relative to the application directory.
	SiteFile string `yaml:"site_file" json:"site_file" validate:"required,relpath"`

	// AvailableDir is nginx's sites-available directory.
	AvailableDir string `yaml:"available_dir" json:"available_dir" validate:"required,abspath"`

	// EnabledDir is nginx's sites-enabled directory.
	EnabledDir string `yaml:"enabled_dir" json:"enabled_dir" validate:"required,abspath"`

	// DefaultSite is the catch-all site removed from EnabledDir.
	DefaultSite string `yaml:"default_site" json:"default_site"`

	// Binary is the nginx executable used for validation.
	Binary string `yaml:"binary" json:"binary" validate:"required"`

	// ServiceName is the systemd unit that runs nginx.
	ServiceName string `yaml:"service_name" json:"service_name" validate:"required"`
}

// FirewallConfig configures ufw.
type FirewallConfig struct {
	// AdminProfile is the remote-administration profile. It is always
	// allowed before enforcement is enabled.
	AdminProfile string `yaml:"admin_profile" json:"admin_profile" validate:"required"`

	// Profiles are the additional profiles to allow (web traffic).
	Profiles []string `yaml:"profiles" json:"profiles" validate:"required,min=1,dive,required"`
}

// JournalConfig configures the run journal.
type JournalConfig struct {
	// Enabled turns run recording on.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Path is the SQLite database file.
	Path string `yaml:"path" json:"path" validate:"omitempty,abspath"`
}

// TelemetryConfig configures diagnostic output.
type TelemetryConfig struct {
	// LogLevel is the zerolog level (trace, debug, info, warn, error).
	LogLevel string `yaml:"log_level" json:"log_level" validate:"oneof=trace debug info warn error"`

	// LogFormat is "console" or "json".
	LogFormat string `yaml:"log_format" json:"log_format" validate:"oneof=console json"`

	// MetricsTextfile is where run metrics are written for the node exporter
	// textfile collector. Empty disables metrics.
	MetricsTextfile string `yaml:"metrics_textfile,omitempty" json:"metrics_textfile,omitempty" validate:"omitempty,abspath"`

	// TraceExporter is "none", "stdout" or "otlp".
	TraceExporter string `yaml:"trace_exporter" json:"trace_exporter" validate:"oneof=none stdout otlp"`

	// TraceEndpoint is the OTLP gRPC endpoint, or the output file for the
	// stdout exporter (empty means standard error).
	TraceEndpoint string `yaml:"trace_endpoint,omitempty" json:"trace_endpoint,omitempty" validate:"required_if=TraceExporter otlp"`

	// TraceInsecure disables TLS for the OTLP connection.
	TraceInsecure bool `yaml:"trace_insecure,omitempty" json:"trace_insecure,omitempty"`
}

// AppPath resolves a path relative to the application directory.
func (c *Config) AppPath(rel string) string {
	return path.Join(c.App.Dir, rel)
}

// SecretsMode returns the parsed secrets file mode.
func (c *Config) SecretsMode() os.FileMode {
	mode, err := strconv.ParseUint(c.Secrets.Mode, 8, 32)
	if err != nil {
		return 0600
	}
	return os.FileMode(mode)
}

// Owner returns the "user:group" ownership string for chown.
func (c *Config) Owner() string {
	return c.App.User + ":" + c.App.Group
}
