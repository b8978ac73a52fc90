package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/openfroyo/deployer/pkg/engine"
	"github.com/openfroyo/deployer/pkg/hostexec"
)

// Packages refreshes the package index and installs whatever is missing.
type Packages struct {
	names    []string
	manager  string
	runner   hostexec.Runner
	lookPath func(string) (string, error)
	logger   zerolog.Logger
}

// NewPackages creates the package installer stage.
func NewPackages(d Deps) *Packages {
	d.withDefaults()
	return &Packages{
		names:    d.Config.Packages.Names,
		manager:  d.Config.Packages.Manager,
		runner:   d.Runner,
		lookPath: d.LookPath,
		logger:   d.logger(NamePackages),
	}
}

func (p *Packages) Name() string  { return NamePackages }
func (p *Packages) Title() string { return "Installing system packages" }

// Run refreshes the index, then installs missing packages in a single call.
// Packages already present are left alone.
func (p *Packages) Run(ctx context.Context, _ *engine.Run) (*engine.Outcome, error) {
	manager, err := p.detectManager()
	if err != nil {
		return nil, err
	}

	if _, err := execStep(ctx, p.runner, engine.KindDependency, "failed to refresh package index", refreshCommand(manager)); err != nil {
		return nil, err
	}

	var missing []string
	for _, name := range p.names {
		installed, err := p.isInstalled(ctx, manager, name)
		if err != nil {
			return nil, engine.NewError(engine.KindDependency, fmt.Sprintf("failed to query package %s", name), err)
		}
		if !installed {
			missing = append(missing, name)
		}
	}

	if len(missing) == 0 {
		p.logger.Debug().Strs("packages", p.names).Msg("all packages already installed")
		return &engine.Outcome{Summary: fmt.Sprintf("%d packages already installed", len(p.names))}, nil
	}

	if _, err := execStep(ctx, p.runner, engine.KindDependency,
		fmt.Sprintf("failed to install %s", strings.Join(missing, ", ")),
		installCommand(manager, missing)); err != nil {
		return nil, err
	}

	p.logger.Debug().Strs("packages", missing).Msg("packages installed")
	return &engine.Outcome{Changed: true, Summary: "installed " + strings.Join(missing, ", ")}, nil
}

func (p *Packages) detectManager() (string, error) {
	if p.manager != "" {
		return p.manager, nil
	}
	if _, err := p.lookPath("apt-get"); err == nil {
		return "apt", nil
	}
	if _, err := p.lookPath("dnf"); err == nil {
		return "dnf", nil
	}
	return "", engine.Errorf(engine.KindDependency, "no supported package manager found (apt-get or dnf)").
		WithHint("Set packages.manager in the deployer configuration.")
}

// isInstalled asks the package database about a single package. A non-zero
// exit means the package is unknown or not installed.
func (p *Packages) isInstalled(ctx context.Context, manager, name string) (bool, error) {
	var cmd hostexec.Command
	switch manager {
	case "apt":
		cmd = hostexec.Cmd("dpkg-query", "-W", "-f=${Status}", name)
	default:
		cmd = hostexec.Cmd("rpm", "-q", name)
	}

	res, err := p.runner.Run(ctx, cmd)
	if err != nil {
		return false, err
	}
	if res.ExitCode != 0 {
		return false, nil
	}
	if manager == "apt" {
		return strings.Contains(res.Stdout, "ok installed"), nil
	}
	return true, nil
}

func refreshCommand(manager string) hostexec.Command {
	if manager == "apt" {
		return hostexec.Cmd("apt-get", "update").WithEnv("DEBIAN_FRONTEND=noninteractive")
	}
	return hostexec.Cmd("dnf", "makecache", "-y")
}

func installCommand(manager string, names []string) hostexec.Command {
	if manager == "apt" {
		return hostexec.Cmd("apt-get", append([]string{"install", "-y"}, names...)...).
			WithEnv("DEBIAN_FRONTEND=noninteractive")
	}
	return hostexec.Cmd("dnf", append([]string{"install", "-y"}, names...)...)
}
