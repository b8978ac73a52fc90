package config

// DefaultRepoURL is the origin the application is always fetched from
// unless a config file says otherwise.
const DefaultRepoURL = "https://github.com/discharge-summary/discharge-summary.git"

// Default returns the configuration for the standard single-VPS layout.
func Default() *Config {
	return &Config{
		Root: "/",
		App: AppConfig{
			Name:   "discharge-summary",
			Dir:    "/var/www/discharge-summary",
			User:   "www-data",
			Group:  "www-data",
			Domain: "your-domain.com",
			Port:   5000,
		},
		Source: SourceConfig{
			RepoURL:  DefaultRepoURL,
			Depth:    1,
			Preserve: []string{".env"},
		},
		Packages: PackagesConfig{
			Names: []string{"python3", "python3-pip", "python3-venv", "nginx", "git"},
		},
		Python: PythonConfig{
			Interpreter:  "python3",
			VenvDir:      "venv",
			Requirements: "requirements.txt",
		},
		Secrets: SecretsConfig{
			File:         ".env",
			Template:     ".env.example",
			Mode:         "0600",
			RequiredKeys: []string{"GEMINI_API_KEY", "SECRET_KEY"},
		},
		Service: ServiceConfig{
			Name:     "discharge-summary",
			UnitFile: "discharge-summary.service",
			UnitDir:  "/etc/systemd/system",
		},
		Proxy: ProxyConfig{
			SiteName:     "discharge-summary",
			SiteFile:     "nginx.conf",
			AvailableDir: "/etc/nginx/sites-available",
			EnabledDir:   "/etc/nginx/sites-enabled",
			DefaultSite:  "default",
			Binary:       "nginx",
			ServiceName:  "nginx",
		},
		Firewall: FirewallConfig{
			AdminProfile: "OpenSSH",
			Profiles:     []string{"Nginx Full"},
		},
		Journal: JournalConfig{
			Enabled: true,
			Path:    "/var/lib/deployer/journal.db",
		},
		Telemetry: TelemetryConfig{
			LogLevel:      "warn",
			LogFormat:     "console",
			TraceExporter: "none",
		},
	}
}
