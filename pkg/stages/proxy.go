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

// Proxy installs the nginx site, validates the whole configuration and only
// then reloads nginx.
type Proxy struct {
	cfg    *config.Config
	fs     *hostfs.FS
	runner hostexec.Runner
	logger zerolog.Logger
}

// NewProxy creates the proxy registrar stage.
func NewProxy(d Deps) *Proxy {
	d.withDefaults()
	return &Proxy{cfg: d.Config, fs: d.FS, runner: d.Runner, logger: d.logger(NameProxy)}
}

func (p *Proxy) Name() string  { return NameProxy }
func (p *Proxy) Title() string { return "Configuring nginx" }

// Run copies the site into sites-available, links it from sites-enabled and
// removes the default site. If nginx rejects the result, every file touched
// here is put back and nginx is not reloaded.
func (p *Proxy) Run(ctx context.Context, _ *engine.Run) (*engine.Outcome, error) {
	px := p.cfg.Proxy
	src := p.cfg.AppPath(px.SiteFile)
	available := path.Join(px.AvailableDir, px.SiteName)
	enabled := path.Join(px.EnabledDir, px.SiteName)

	touched := []string{available, enabled}
	if px.DefaultSite != "" && px.DefaultSite != px.SiteName {
		touched = append(touched, path.Join(px.EnabledDir, px.DefaultSite))
	}

	snapshots := make([]*hostfs.Snapshot, 0, len(touched))
	for _, t := range touched {
		snap, err := p.fs.Snapshot(t)
		if err != nil {
			return nil, engine.NewError(engine.KindConfigValidation, fmt.Sprintf("failed to read %s", t), err)
		}
		snapshots = append(snapshots, snap)
	}

	out := &engine.Outcome{}
	if err := p.install(src, available, enabled, touched[2:], out); err != nil {
		return nil, p.rollback(snapshots, engine.NewError(engine.KindConfigValidation, "failed to install nginx site", err))
	}

	res, err := p.runner.Run(ctx, hostexec.Cmd(px.Binary, "-t"))
	if err != nil {
		return nil, p.rollback(snapshots, engine.NewError(engine.KindConfigValidation, "failed to run nginx -t", err))
	}
	if res.ExitCode != 0 {
		verr := engine.Errorf(engine.KindConfigValidation, "nginx rejected the configuration").
			WithExitCode(res.ExitCode).
			WithOutput(hostexec.Diagnostics(res)).
			WithHint(fmt.Sprintf("The previous configuration is still live. Fix %s in the repository and re-run.", px.SiteFile))
		return nil, p.rollback(snapshots, verr)
	}

	if _, err := execStep(ctx, p.runner, engine.KindConfigValidation, "nginx failed to load the validated configuration",
		hostexec.Cmd("systemctl", "reload", px.ServiceName)); err != nil {
		if se, ok := err.(*engine.StageError); ok {
			se.WithHint(fmt.Sprintf("Inspect the proxy log: journalctl -u %s -n 50 --no-pager", px.ServiceName))
		}
		return nil, err
	}

	out.Summary = fmt.Sprintf("%s enabled and nginx reloaded", px.SiteName)
	p.logger.Debug().Str("site", available).Bool("changed", out.Changed).Msg("site active")
	return out, nil
}

func (p *Proxy) install(src, available, enabled string, defaults []string, out *engine.Outcome) error {
	data, err := p.fs.ReadFile(src)
	if err != nil {
		return err
	}
	previous, _ := p.fs.ReadFile(available)
	if string(previous) != string(data) {
		out.Changed = true
	}
	if err := p.fs.WriteFile(available, data, 0644); err != nil {
		return err
	}

	linked, err := p.fs.EnsureSymlink(available, enabled)
	if err != nil {
		return err
	}
	if linked {
		out.Changed = true
	}

	for _, d := range defaults {
		removed, err := p.fs.Remove(d)
		if err != nil {
			return err
		}
		if removed {
			out.Changed = true
			out.Warn(fmt.Sprintf("removed %s", d))
		}
	}
	return nil
}

// rollback restores snapshots in reverse order and returns cause. A failed
// restore is reported in the cause's output.
func (p *Proxy) rollback(snapshots []*hostfs.Snapshot, cause *engine.StageError) error {
	for i := len(snapshots) - 1; i >= 0; i-- {
		if err := p.fs.Restore(snapshots[i]); err != nil {
			p.logger.Error().Err(err).Msg("failed to restore nginx file")
			cause.WithOutput(cause.Output + "\nrestore failed: " + err.Error())
		}
	}
	return cause
}
