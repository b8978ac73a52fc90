package stages

import (
	"context"
	"fmt"
	"path"

	"github.com/rs/zerolog"

	"github.com/openfroyo/deployer/pkg/config"
	"github.com/openfroyo/deployer/pkg/engine"
	"github.com/openfroyo/deployer/pkg/hostexec"
	"github.com/openfroyo/deployer/pkg/hostfs"
)

// Venv builds the application's isolated Python environment.
type Venv struct {
	cfg    *config.Config
	fs     *hostfs.FS
	runner hostexec.Runner
	logger zerolog.Logger
}

// NewVenv creates the environment builder stage.
func NewVenv(d Deps) *Venv {
	d.withDefaults()
	return &Venv{cfg: d.Config, fs: d.FS, runner: d.Runner, logger: d.logger(NameVenv)}
}

func (v *Venv) Name() string  { return NameVenv }
func (v *Venv) Title() string { return "Building Python environment" }

// Run creates (or reuses) the virtual environment, upgrades pip inside it
// and installs the requirements manifest. Only the environment's own
// interpreter and pip are used after creation.
func (v *Venv) Run(ctx context.Context, _ *engine.Run) (*engine.Outcome, error) {
	requirements := v.cfg.AppPath(v.cfg.Python.Requirements)
	ok, err := v.fs.Exists(requirements)
	if err != nil {
		return nil, engine.NewError(engine.KindEnvironment, "failed to check dependency manifest", err)
	}
	if !ok {
		return nil, engine.Errorf(engine.KindEnvironment, "dependency manifest %s not found", requirements).
			WithHint("The repository must ship " + v.cfg.Python.Requirements + " at its root.")
	}

	venv := v.cfg.AppPath(v.cfg.Python.VenvDir)
	reused := v.fs.IsDir(path.Join(venv, "bin"))

	if _, err := execStep(ctx, v.runner, engine.KindEnvironment, "failed to create virtual environment",
		hostexec.Cmd(v.cfg.Python.Interpreter, "-m", "venv", v.fs.Path(venv))); err != nil {
		return nil, err
	}

	pip := v.fs.Path(path.Join(venv, "bin", "pip"))
	dir := v.fs.Path(v.cfg.App.Dir)

	if _, err := execStep(ctx, v.runner, engine.KindEnvironment, "failed to upgrade pip",
		hostexec.Cmd(pip, "install", "--upgrade", "pip").InDir(dir)); err != nil {
		return nil, err
	}

	if _, err := execStep(ctx, v.runner, engine.KindEnvironment, "failed to install Python dependencies",
		hostexec.Cmd(pip, "install", "-r", v.fs.Path(requirements)).InDir(dir)); err != nil {
		if se, ok := err.(*engine.StageError); ok {
			se.WithHint(fmt.Sprintf("Check %s for unavailable or conflicting versions.", requirements))
		}
		return nil, err
	}

	summary := "created " + venv
	if reused {
		summary = "reused " + venv
	}
	v.logger.Debug().Str("venv", venv).Bool("reused", reused).Msg("environment ready")
	return &engine.Outcome{Changed: true, Summary: summary + " and installed requirements"}, nil
}
