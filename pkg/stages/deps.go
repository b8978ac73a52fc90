// Package stages implements the provisioning chain: one engine.Stage per
// step, from the privilege check to the completion report.
package stages

import (
	"context"
	"io"
	"os"
	"os/exec"

	"github.com/rs/zerolog"

	"github.com/openfroyo/deployer/pkg/config"
	"github.com/openfroyo/deployer/pkg/engine"
	"github.com/openfroyo/deployer/pkg/hostexec"
	"github.com/openfroyo/deployer/pkg/hostfs"
	"github.com/openfroyo/deployer/pkg/stores"
)

// Stage names, used in logs, metrics and the run journal.
const (
	NameGuard    = "guard"
	NamePackages = "packages"
	NameFetch    = "fetch"
	NameVenv     = "venv"
	NameSecrets  = "secrets"
	NameService  = "service"
	NameProxy    = "proxy"
	NameFirewall = "firewall"
	NameReport   = "report"
)

// History looks up the previous successful run.
type History interface {
	LastSuccess(ctx context.Context) (*stores.RunRecord, error)
}

// Deps are the collaborators shared by every stage.
type Deps struct {
	// Config is the validated deployer configuration.
	Config *config.Config

	// Runner executes external commands.
	Runner hostexec.Runner

	// FS performs file operations under the configured root.
	FS *hostfs.FS

	// Logger receives diagnostic logs.
	Logger zerolog.Logger

	// Out receives the completion report. Nil means standard output.
	Out io.Writer

	// History supplies the previous successful run for the report. Nil
	// when the journal is disabled.
	History History

	// Geteuid returns the effective user ID. Nil means os.Geteuid.
	Geteuid func() int

	// LookPath locates executables for package manager detection. Nil
	// means exec.LookPath.
	LookPath func(file string) (string, error)
}

func (d *Deps) withDefaults() {
	if d.FS == nil && d.Config != nil {
		d.FS = hostfs.New(d.Config.Root)
	}
	if d.Out == nil {
		d.Out = os.Stdout
	}
	if d.Geteuid == nil {
		d.Geteuid = os.Geteuid
	}
	if d.LookPath == nil {
		d.LookPath = exec.LookPath
	}
}

func (d *Deps) logger(stage string) zerolog.Logger {
	return d.Logger.With().Str("component", "stages").Str("stage", stage).Logger()
}

// Build returns the numbered stages in execution order and the trailing
// report stage.
func Build(d Deps) ([]engine.Stage, engine.Stage) {
	d.withDefaults()
	return []engine.Stage{
		NewGuard(d),
		NewPackages(d),
		NewFetch(d),
		NewVenv(d),
		NewSecrets(d),
		NewService(d),
		NewProxy(d),
		NewFirewall(d),
	}, NewReport(d)
}

// execStep executes cmd and classifies a failure as kind. Tool diagnostics and
// the exit status are attached to the returned error.
func execStep(ctx context.Context, r hostexec.Runner, kind engine.ErrorKind, msg string, cmd hostexec.Command) (*hostexec.Result, error) {
	res, err := hostexec.Exec(ctx, r, cmd)
	if err != nil {
		return res, engine.NewError(kind, msg, err).
			WithExitCode(hostexec.StatusOf(err)).
			WithOutput(hostexec.Diagnostics(res))
	}
	return res, nil
}
