package policy

import (
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/openfroyo/deployer/pkg/config"
	"github.com/openfroyo/deployer/pkg/engine"
)

func newTestEngine(t *testing.T, policies ...Policy) *Engine {
	t.Helper()
	eng, err := NewEngine(context.Background(), zerolog.Nop(), policies...)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return eng
}

func TestNewEngine(t *testing.T) {
	eng := newTestEngine(t)

	expected := []string{
		"firewall-admin-access",
		"secrets-permissions",
		"source-transport",
		"runtime-identity",
	}
	got := eng.Policies()
	if len(got) != len(expected) {
		t.Fatalf("Expected %d policies, got %d", len(expected), len(got))
	}
	for i := range expected {
		if got[i] != expected[i] {
			t.Errorf("Policy %d: expected %s, got %s", i, expected[i], got[i])
		}
	}
}

func TestDefaultConfigIsAllowed(t *testing.T) {
	eng := newTestEngine(t)

	result, err := eng.Evaluate(context.Background(), config.Default())
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if !result.Allowed {
		t.Fatalf("Expected default config to be allowed, got violations: %+v", result.Violations)
	}
	if len(result.Violations) != 0 {
		t.Errorf("Expected no violations, got %+v", result.Violations)
	}
}

func TestBuiltinPolicyViolations(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*config.Config)
		policy   string
		field    string
		severity Severity
	}{
		{
			name:     "secrets readable by group",
			mutate:   func(c *config.Config) { c.Secrets.Mode = "0640" },
			policy:   "secrets-permissions",
			field:    "secrets.mode",
			severity: SeverityError,
		},
		{
			name:     "secrets not writable by owner",
			mutate:   func(c *config.Config) { c.Secrets.Mode = "0400" },
			policy:   "secrets-permissions",
			field:    "secrets.mode",
			severity: SeverityWarning,
		},
		{
			name:     "plain http repository",
			mutate:   func(c *config.Config) { c.Source.RepoURL = "http://git.example.org/app.git" },
			policy:   "source-transport",
			field:    "source.repo_url",
			severity: SeverityError,
		},
		{
			name:     "empty admin profile",
			mutate:   func(c *config.Config) { c.Firewall.AdminProfile = "" },
			policy:   "firewall-admin-access",
			field:    "firewall.admin_profile",
			severity: SeverityError,
		},
		{
			name:     "unusual admin profile",
			mutate:   func(c *config.Config) { c.Firewall.AdminProfile = "Admin Console" },
			policy:   "firewall-admin-access",
			field:    "firewall.admin_profile",
			severity: SeverityWarning,
		},
		{
			name:     "root runtime user",
			mutate:   func(c *config.Config) { c.App.User = "root" },
			policy:   "runtime-identity",
			field:    "app.user",
			severity: SeverityError,
		},
	}

	eng := newTestEngine(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(cfg)

			result, err := eng.Evaluate(context.Background(), cfg)
			if err != nil {
				t.Fatalf("Evaluation failed: %v", err)
			}
			if len(result.Violations) != 1 {
				t.Fatalf("Expected 1 violation, got %+v", result.Violations)
			}

			v := result.Violations[0]
			if v.Policy != tt.policy {
				t.Errorf("Expected policy %s, got %s", tt.policy, v.Policy)
			}
			if v.Field != tt.field {
				t.Errorf("Expected field %s, got %s", tt.field, v.Field)
			}
			if v.Severity != tt.severity {
				t.Errorf("Expected severity %s, got %s", tt.severity, v.Severity)
			}
			if result.Allowed != (tt.severity != SeverityError) {
				t.Errorf("Unexpected allowed=%v for severity %s", result.Allowed, tt.severity)
			}
		})
	}
}

func TestSSHRepositoryIsAllowed(t *testing.T) {
	eng := newTestEngine(t)
	for _, url := range []string{
		"git@github.com:clinic/discharge-summary.git",
		"ssh://git@git.example.org/app.git",
	} {
		cfg := config.Default()
		cfg.Source.RepoURL = url
		result, err := eng.Evaluate(context.Background(), cfg)
		if err != nil {
			t.Fatalf("Evaluation failed: %v", err)
		}
		if !result.Allowed {
			t.Errorf("Expected %s to be allowed, got %+v", url, result.Violations)
		}
	}
}

func TestCheckReturnsConfigError(t *testing.T) {
	eng := newTestEngine(t)
	cfg := config.Default()
	cfg.App.User = "root"
	cfg.Source.RepoURL = "file:///srv/app.git"

	_, err := eng.Check(context.Background(), cfg)
	if err == nil {
		t.Fatal("Expected error")
	}
	if !engine.IsKind(err, engine.KindConfig) {
		t.Errorf("Expected ConfigError, got %v", err)
	}
	if !strings.Contains(err.Error(), "app.user") || !strings.Contains(err.Error(), "source.repo_url") {
		t.Errorf("Expected both violations in message, got %v", err)
	}
}

func TestCheckReturnsWarnings(t *testing.T) {
	eng := newTestEngine(t)
	cfg := config.Default()
	cfg.Firewall.AdminProfile = "Admin Console"

	warnings, err := eng.Check(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if len(warnings) != 1 {
		t.Errorf("Expected 1 warning, got %+v", warnings)
	}
}

func TestCustomPolicy(t *testing.T) {
	custom := Policy{
		Name:     "domain-set",
		Severity: SeverityWarning,
		Enabled:  true,
		Rego: `package deployer.preflight.domain

deny contains "app.domain is still the placeholder" if {
	input.config.app.domain == "your-domain.com"
}
`,
	}
	eng := newTestEngine(t, custom)

	result, err := eng.Evaluate(context.Background(), config.Default())
	if err != nil {
		t.Fatalf("Evaluation failed: %v", err)
	}
	if len(result.Violations) != 1 || result.Violations[0].Severity != SeverityWarning {
		t.Fatalf("Expected one warning, got %+v", result.Violations)
	}
	if !result.Allowed {
		t.Error("Warnings must not block")
	}
}

func TestInvalidPolicy(t *testing.T) {
	_, err := NewEngine(context.Background(), zerolog.Nop(), Policy{
		Name:    "broken",
		Enabled: true,
		Rego:    "package broken\n\ndeny contains x if {",
	})
	if err == nil {
		t.Fatal("Expected compile error")
	}
}
