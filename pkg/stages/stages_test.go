package stages

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/deployer/pkg/engine"
	"github.com/openfroyo/deployer/pkg/hostexec"
	"github.com/openfroyo/deployer/pkg/stores"
)

func TestGuard(t *testing.T) {
	h := newTestHost(t)

	out, err := NewGuard(h.deps()).Run(t.Context(), &engine.Run{})
	require.NoError(t, err)
	assert.False(t, out.Changed)

	h.euid = 1000
	_, err = NewGuard(h.deps()).Run(t.Context(), &engine.Run{})
	require.Error(t, err)
	assert.True(t, engine.IsKind(err, engine.KindPrivilege))
	assert.Contains(t, err.Error(), "uid 1000")
}

func TestPackagesInstallsOnlyMissing(t *testing.T) {
	h := newTestHost(t)
	h.runner.On("dpkg-query", func(cmd hostexec.Command) (*hostexec.Result, error) {
		name := cmd.Args[len(cmd.Args)-1]
		switch name {
		case "nginx":
			return &hostexec.Result{Stdout: "install ok installed"}, nil
		case "git":
			return &hostexec.Result{Stdout: "deinstall ok config-files"}, nil
		default:
			return &hostexec.Result{ExitCode: 1, Stderr: "dpkg-query: no packages found matching " + name}, nil
		}
	})

	out, err := NewPackages(h.deps()).Run(t.Context(), &engine.Run{})
	require.NoError(t, err)

	assert.True(t, out.Changed)
	assert.Equal(t, 0, h.runner.Index("apt-get update"))
	assert.True(t, h.runner.Ran("apt-get install -y python3 python3-pip python3-venv git"), h.runner.Calls())

	cmds := h.runner.Commands()
	assert.Contains(t, cmds[0].Env, "DEBIAN_FRONTEND=noninteractive")
}

func TestPackagesAlreadyInstalledOnlyRefreshes(t *testing.T) {
	h := newTestHost(t)

	out, err := NewPackages(h.deps()).Run(t.Context(), &engine.Run{})
	require.NoError(t, err)

	assert.False(t, out.Changed)
	assert.True(t, h.runner.Ran("apt-get update"))
	assert.False(t, h.runner.Ran("apt-get install"))
}

func TestPackagesFailures(t *testing.T) {
	h := newTestHost(t)
	h.runner.Exit("apt-get update", 100, "E: Could not get lock /var/lib/apt/lists/lock")

	_, err := NewPackages(h.deps()).Run(t.Context(), &engine.Run{})
	require.Error(t, err)
	assert.True(t, engine.IsKind(err, engine.KindDependency))
	assert.Equal(t, 100, engine.ExitCode(err))
	assert.False(t, h.runner.Ran("dpkg-query"))

	h = newTestHost(t)
	h.runner.Stdout("dpkg-query", "")
	h.runner.Exit("apt-get install", 100, "E: Unable to locate package python3-venv")

	_, err = NewPackages(h.deps()).Run(t.Context(), &engine.Run{})
	require.Error(t, err)
	var se *engine.StageError
	require.ErrorAs(t, err, &se)
	assert.Contains(t, se.Output, "Unable to locate package")
}

func TestPackagesDetectsManager(t *testing.T) {
	h := newTestHost(t)
	h.cfg.Packages.Manager = ""
	d := h.deps()
	d.LookPath = func(file string) (string, error) {
		if file == "dnf" {
			return "/usr/bin/dnf", nil
		}
		return "", errors.New("not found")
	}
	h.runner.Exit("rpm -q", 1, "package nginx is not installed")

	_, err := NewPackages(d).Run(t.Context(), &engine.Run{})
	require.NoError(t, err)
	assert.True(t, h.runner.Ran("dnf makecache -y"))
	assert.True(t, h.runner.Ran("dnf install -y python3"))

	_, err = NewPackages(h.deps()).Run(t.Context(), &engine.Run{})
	require.Error(t, err)
	assert.True(t, engine.IsKind(err, engine.KindDependency))
}

func TestFetchReplacesDirectoryAndKeepsSecrets(t *testing.T) {
	h := newTestHost(t)
	h.cfg.Source.Branch = "main"
	h.write("/var/www/discharge-summary/stale.py", "old\n", 0644)
	h.write("/var/www/discharge-summary/.env", "SECRET_KEY=keep\n", 0600)

	out, err := NewFetch(h.deps()).Run(t.Context(), &engine.Run{})
	require.NoError(t, err)

	assert.False(t, h.exists("/var/www/discharge-summary/stale.py"))
	assert.True(t, h.exists("/var/www/discharge-summary/app.py"))
	assert.Equal(t, "SECRET_KEY=keep\n", h.read("/var/www/discharge-summary/.env"))
	assert.False(t, h.exists("/var/www/.discharge-summary.deployer-preserve"))
	assert.Contains(t, out.Warnings, "kept existing .env")

	calls := h.runner.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "git clone --depth 1 --branch main "+h.cfg.Source.RepoURL+" "+h.path("/var/www/discharge-summary"), calls[0])
	assert.Equal(t, "chown -R www-data:www-data "+h.path("/var/www/discharge-summary"), calls[1])
}

func TestFetchKeepsSecretsFileNotListedInPreserve(t *testing.T) {
	h := newTestHost(t)
	h.cfg.Secrets.File = "instance/.env"
	h.cfg.Source.Preserve = nil
	h.write("/var/www/discharge-summary/instance/.env", "SECRET_KEY=keep\n", 0600)

	out, err := NewFetch(h.deps()).Run(t.Context(), &engine.Run{})
	require.NoError(t, err)

	assert.Equal(t, "SECRET_KEY=keep\n", h.read("/var/www/discharge-summary/instance/.env"))
	assert.Equal(t, []string{"kept existing instance/.env"}, out.Warnings)
}

func TestFetchFailureKeepsSecrets(t *testing.T) {
	h := newTestHost(t)
	h.write("/var/www/discharge-summary/.env", "SECRET_KEY=keep\n", 0600)
	h.runner.Exit("git clone", 128, "fatal: repository not found")

	_, err := NewFetch(h.deps()).Run(t.Context(), &engine.Run{})
	require.Error(t, err)

	var se *engine.StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, engine.KindFetch, se.Kind)
	assert.Equal(t, 128, se.ExitCode)
	assert.Contains(t, se.Hint, h.cfg.Source.RepoURL)
	assert.Equal(t, "SECRET_KEY=keep\n", h.read("/var/www/discharge-summary/.env"))
	assert.False(t, h.runner.Ran("chown"))
}

func TestFetchRecoversInterruptedStash(t *testing.T) {
	h := newTestHost(t)
	h.write("/var/www/.discharge-summary.deployer-preserve/.env", "SECRET_KEY=survivor\n", 0600)

	_, err := NewFetch(h.deps()).Run(t.Context(), &engine.Run{})
	require.NoError(t, err)
	assert.Equal(t, "SECRET_KEY=survivor\n", h.read("/var/www/discharge-summary/.env"))
}

func TestVenv(t *testing.T) {
	h := newTestHost(t)
	h.write("/var/www/discharge-summary/requirements.txt", "flask\n", 0644)

	out, err := NewVenv(h.deps()).Run(t.Context(), &engine.Run{})
	require.NoError(t, err)
	assert.True(t, out.Changed)

	venv := h.path("/var/www/discharge-summary/venv")
	assert.Equal(t, []string{
		"python3 -m venv " + venv,
		venv + "/bin/pip install --upgrade pip",
		venv + "/bin/pip install -r " + h.path("/var/www/discharge-summary/requirements.txt"),
	}, h.runner.Calls())

	cmds := h.runner.Commands()
	assert.Equal(t, h.path("/var/www/discharge-summary"), cmds[2].Dir)
}

func TestVenvFailures(t *testing.T) {
	h := newTestHost(t)
	_, err := NewVenv(h.deps()).Run(t.Context(), &engine.Run{})
	require.Error(t, err)
	assert.True(t, engine.IsKind(err, engine.KindEnvironment))
	assert.Empty(t, h.runner.Calls())

	h.write("/var/www/discharge-summary/requirements.txt", "flask==99.0\n", 0644)
	pip := h.path("/var/www/discharge-summary/venv/bin/pip")
	h.runner.Exit(pip+" install -r", 1, "ERROR: No matching distribution found for flask==99.0")

	_, err = NewVenv(h.deps()).Run(t.Context(), &engine.Run{})
	require.Error(t, err)

	var se *engine.StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, engine.KindEnvironment, se.Kind)
	assert.Equal(t, 1, se.ExitCode)
	assert.Contains(t, se.Output, "No matching distribution found for flask==99.0")
}

func TestSecretsCreatesFromTemplate(t *testing.T) {
	h := newTestHost(t)
	h.write("/var/www/discharge-summary/.env.example", envTemplate, 0644)

	out, err := NewSecrets(h.deps()).Run(t.Context(), &engine.Run{})
	require.NoError(t, err)

	assert.True(t, out.Changed)
	require.Len(t, out.Warnings, 1)
	assert.Contains(t, out.Warnings[0], "GEMINI_API_KEY and SECRET_KEY")
	assert.Equal(t, envTemplate, h.read("/var/www/discharge-summary/.env"))
	assert.EqualValues(t, 0600, h.mode("/var/www/discharge-summary/.env"))
}

func TestSecretsKeepsExistingFileAndTightensMode(t *testing.T) {
	h := newTestHost(t)
	h.write("/var/www/discharge-summary/.env.example", envTemplate, 0644)
	existing := "# edited by hand\nGEMINI_API_KEY=\"abc\"\nSECRET_KEY=your_secret_key_here\n"
	h.write("/var/www/discharge-summary/.env", existing, 0644)

	out, err := NewSecrets(h.deps()).Run(t.Context(), &engine.Run{})
	require.NoError(t, err)

	assert.False(t, out.Changed)
	assert.Equal(t, existing, h.read("/var/www/discharge-summary/.env"))
	assert.EqualValues(t, 0600, h.mode("/var/www/discharge-summary/.env"))
	assert.Equal(t, []string{"SECRET_KEY is not set in /var/www/discharge-summary/.env"}, out.Warnings)
}

func TestSecretsMissingTemplate(t *testing.T) {
	h := newTestHost(t)
	_, err := NewSecrets(h.deps()).Run(t.Context(), &engine.Run{})
	require.Error(t, err)
	assert.True(t, engine.IsKind(err, engine.KindSecrets))
}

func TestSecretsWarnsAboutUnsetKeys(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		warnings []string
	}{
		{
			name:    "all set",
			content: "GEMINI_API_KEY=AIzaSyExample\nSECRET_KEY='a=b'\nPORT=5000\n",
		},
		{
			name:     "comment only value",
			content:  "GEMINI_API_KEY= # paste key here\nSECRET_KEY=s3cr3t\n",
			warnings: []string{"GEMINI_API_KEY is not set in /var/www/discharge-summary/.env"},
		},
		{
			name:     "missing and exported placeholder",
			content:  "# comment\n\nexport SECRET_KEY=your_secret_key_here\n",
			warnings: []string{
				"GEMINI_API_KEY is not set in /var/www/discharge-summary/.env",
				"SECRET_KEY is not set in /var/www/discharge-summary/.env",
			},
		},
		{
			name:     "port mismatch",
			content:  "GEMINI_API_KEY=k\nSECRET_KEY=s\nPORT=8000\n",
			warnings: []string{"PORT=8000 in /var/www/discharge-summary/.env differs from the proxied port 5000"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHost(t)
			h.write("/var/www/discharge-summary/.env.example", envTemplate, 0644)
			h.write("/var/www/discharge-summary/.env", tt.content, 0600)

			out, err := NewSecrets(h.deps()).Run(t.Context(), &engine.Run{})
			require.NoError(t, err)
			assert.Equal(t, tt.warnings, out.Warnings)
			assert.Equal(t, tt.content, h.read("/var/www/discharge-summary/.env"))
		})
	}
}

func TestIsPlaceholder(t *testing.T) {
	assert.True(t, isPlaceholder(""))
	assert.True(t, isPlaceholder("your_gemini_api_key_here"))
	assert.True(t, isPlaceholder("<secret>"))
	assert.True(t, isPlaceholder("# paste key here"))
	assert.False(t, isPlaceholder("AIzaSyExample"))
}

func TestServiceStartFailureShowsJournal(t *testing.T) {
	h := newTestHost(t)
	h.write("/var/www/discharge-summary/discharge-summary.service", unitFile, 0644)
	h.runner.Exit("systemctl restart", 1, "Job for discharge-summary.service failed")
	h.runner.Stdout("journalctl", "gunicorn: error: No module named app")

	_, err := NewService(h.deps()).Run(t.Context(), &engine.Run{})
	require.Error(t, err)

	var se *engine.StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, engine.KindServiceStart, se.Kind)
	assert.Contains(t, se.Hint, "journalctl -u discharge-summary -n 50 --no-pager")
	assert.Equal(t, "gunicorn: error: No module named app", se.Output)
	assert.Equal(t, unitFile, h.read("/etc/systemd/system/discharge-summary.service"))
}

func TestServiceInactiveAfterRestart(t *testing.T) {
	h := newTestHost(t)
	h.write("/var/www/discharge-summary/discharge-summary.service", unitFile, 0644)
	h.runner.On("systemctl is-active", func(hostexec.Command) (*hostexec.Result, error) {
		return &hostexec.Result{ExitCode: 3, Stdout: "failed\n"}, nil
	})

	_, err := NewService(h.deps()).Run(t.Context(), &engine.Run{})
	require.Error(t, err)
	assert.True(t, engine.IsKind(err, engine.KindServiceStart))
	assert.Contains(t, err.Error(), "discharge-summary.service is failed after restart")
	assert.Equal(t, 3, engine.ExitCode(err))
}

func TestServiceMissingUnit(t *testing.T) {
	h := newTestHost(t)
	_, err := NewService(h.deps()).Run(t.Context(), &engine.Run{})
	require.Error(t, err)
	assert.True(t, engine.IsKind(err, engine.KindServiceStart))
	assert.False(t, h.runner.Ran("systemctl"))
}

func TestProxyIdempotentRelink(t *testing.T) {
	h := newTestHost(t)
	h.write("/var/www/discharge-summary/nginx.conf", siteFile, 0644)

	out, err := NewProxy(h.deps()).Run(t.Context(), &engine.Run{})
	require.NoError(t, err)
	assert.True(t, out.Changed)

	out, err = NewProxy(h.deps()).Run(t.Context(), &engine.Run{})
	require.NoError(t, err)
	assert.False(t, out.Changed)

	assert.Equal(t, siteFile, h.read("/etc/nginx/sites-available/discharge-summary"))
	test := h.runner.Index("nginx -t")
	reload := h.runner.Index("systemctl reload nginx")
	assert.True(t, test >= 0 && reload > test)
}

func TestProxyReloadFailure(t *testing.T) {
	h := newTestHost(t)
	h.write("/var/www/discharge-summary/nginx.conf", siteFile, 0644)
	h.runner.Exit("systemctl reload nginx", 1, "nginx.service is not active, cannot reload.")

	_, err := NewProxy(h.deps()).Run(t.Context(), &engine.Run{})
	require.Error(t, err)

	var se *engine.StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, engine.KindConfigValidation, se.Kind)
	assert.Contains(t, se.Message, "nginx")
	assert.Equal(t, 1, se.ExitCode)
	assert.Contains(t, se.Output, "cannot reload")
	assert.Contains(t, se.Hint, "journalctl -u nginx -n 50 --no-pager")
}

func TestFirewallAllowsAdminBeforeEnabling(t *testing.T) {
	h := newTestHost(t)

	_, err := NewFirewall(h.deps()).Run(t.Context(), &engine.Run{})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"ufw allow OpenSSH",
		`ufw allow "Nginx Full"`,
		"ufw --force enable",
	}, h.runner.Calls())
}

func TestFirewallFailure(t *testing.T) {
	h := newTestHost(t)
	h.runner.Exit("ufw allow OpenSSH", 1, "ERROR: Could not find a profile matching 'OpenSSH'")

	_, err := NewFirewall(h.deps()).Run(t.Context(), &engine.Run{})
	require.Error(t, err)
	assert.True(t, engine.IsKind(err, engine.KindFirewall))
	assert.False(t, h.runner.Ran("ufw --force enable"))
}

type fakeHistory struct {
	rec *stores.RunRecord
	err error
}

func (f fakeHistory) LastSuccess(context.Context) (*stores.RunRecord, error) {
	return f.rec, f.err
}

func TestReport(t *testing.T) {
	h := newTestHost(t)
	d := h.deps()
	d.History = fakeHistory{err: stores.ErrNotFound}

	run := &engine.Run{
		Total: 2,
		Results: []*engine.StageResult{
			{Index: 1, Title: "Checking for root privileges", Numbered: true, Status: engine.StageStatusSucceeded},
			{Index: 2, Title: "Provisioning secrets file", Numbered: true, Status: engine.StageStatusSucceeded,
				Changed: true, Summary: "created .env", Warnings: []string{"populate GEMINI_API_KEY and SECRET_KEY"}},
			{Index: 3, Title: "Deployment summary", Status: engine.StageStatusRunning},
		},
	}

	out, err := NewReport(d).Run(t.Context(), run)
	require.NoError(t, err)
	assert.False(t, out.Changed)

	report := h.out.String()
	assert.Contains(t, report, "Application port 5000 is served through nginx at http://your-domain.com/")
	assert.Contains(t, report, "[2/2] Provisioning secrets file")
	assert.NotContains(t, report, "Deployment summary")
	assert.Contains(t, report, "  - populate GEMINI_API_KEY and SECRET_KEY")
	assert.Contains(t, report, "First successful deployment recorded on this host.")

	steps := []string{
		"1. Set GEMINI_API_KEY and SECRET_KEY in /var/www/discharge-summary/.env",
		"2. Set server_name to your-domain.com in /etc/nginx/sites-available/discharge-summary",
		"3. Restart the application: sudo systemctl restart discharge-summary",
		"4. (Optional) Obtain a TLS certificate: sudo certbot --nginx -d your-domain.com",
		"systemctl status discharge-summary",
		"journalctl -u discharge-summary -f",
	}
	last := -1
	for _, s := range steps {
		i := strings.Index(report, s)
		require.GreaterOrEqual(t, i, 0, s)
		assert.Greater(t, i, last, "checklist order")
		last = i
	}
}

func TestReportPreviousRun(t *testing.T) {
	h := newTestHost(t)
	d := h.deps()
	d.History = fakeHistory{rec: &stores.RunRecord{ID: "run-42", CompletedAt: time.Now()}}

	_, err := NewReport(d).Run(t.Context(), &engine.Run{})
	require.NoError(t, err)
	assert.Contains(t, h.out.String(), "Previous successful deployment:")
	assert.Contains(t, h.out.String(), "(run run-42)")
}
