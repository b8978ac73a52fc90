package stages

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/rs/zerolog"

	"github.com/openfroyo/deployer/pkg/config"
	"github.com/openfroyo/deployer/pkg/engine"
	"github.com/openfroyo/deployer/pkg/hostexec"
	"github.com/openfroyo/deployer/pkg/hostfs"
)

// Service installs the shipped systemd unit and (re)starts it.
type Service struct {
	cfg    *config.Config
	fs     *hostfs.FS
	runner hostexec.Runner
	logger zerolog.Logger
}

// NewService creates the service registrar stage.
func NewService(d Deps) *Service {
	d.withDefaults()
	return &Service{cfg: d.Config, fs: d.FS, runner: d.Runner, logger: d.logger(NameService)}
}

func (s *Service) Name() string  { return NameService }
func (s *Service) Title() string { return "Registering systemd service" }

func (s *Service) unit() string {
	return s.cfg.Service.Name + ".service"
}

func (s *Service) journalHint() string {
	return fmt.Sprintf("Inspect the service log: journalctl -u %s -n 50 --no-pager", s.cfg.Service.Name)
}

// Run copies the unit over any previous definition, reloads systemd, enables
// the unit and restarts it. A running service is restarted, a stopped one
// started.
func (s *Service) Run(ctx context.Context, _ *engine.Run) (*engine.Outcome, error) {
	src := s.cfg.AppPath(s.cfg.Service.UnitFile)
	dst := path.Join(s.cfg.Service.UnitDir, s.unit())

	data, err := s.fs.ReadFile(src)
	if err != nil {
		return nil, engine.NewError(engine.KindServiceStart, fmt.Sprintf("failed to read service definition %s", src), err)
	}
	previous, _ := s.fs.ReadFile(dst)
	if err := s.fs.WriteFile(dst, data, 0644); err != nil {
		return nil, engine.NewError(engine.KindServiceStart, fmt.Sprintf("failed to install %s", dst), err)
	}
	updated := !bytes.Equal(previous, data)

	steps := []struct {
		msg string
		cmd hostexec.Command
	}{
		{"failed to reload systemd", hostexec.Cmd("systemctl", "daemon-reload")},
		{fmt.Sprintf("failed to enable %s", s.unit()), hostexec.Cmd("systemctl", "enable", s.unit())},
		{fmt.Sprintf("failed to start %s", s.unit()), hostexec.Cmd("systemctl", "restart", s.unit())},
	}
	for _, step := range steps {
		if _, err := execStep(ctx, s.runner, engine.KindServiceStart, step.msg, step.cmd); err != nil {
			return nil, s.withJournal(ctx, err)
		}
	}

	res, err := s.runner.Run(ctx, hostexec.Cmd("systemctl", "is-active", s.unit()))
	if err != nil {
		return nil, engine.NewError(engine.KindServiceStart, fmt.Sprintf("failed to query %s", s.unit()), err)
	}
	if res.ExitCode != 0 {
		state := strings.TrimSpace(res.Stdout)
		if state == "" {
			state = "inactive"
		}
		return nil, s.withJournal(ctx, engine.Errorf(engine.KindServiceStart, "%s is %s after restart", s.unit(), state).
			WithExitCode(res.ExitCode))
	}

	summary := fmt.Sprintf("%s enabled and restarted", s.unit())
	if updated {
		summary = fmt.Sprintf("installed %s, enabled and restarted", dst)
	}
	s.logger.Debug().Str("unit", s.unit()).Bool("updated", updated).Msg("service running")
	return &engine.Outcome{Changed: true, Summary: summary}, nil
}

// withJournal attaches the journal tail and log guidance to a start failure.
func (s *Service) withJournal(ctx context.Context, err error) error {
	se, ok := err.(*engine.StageError)
	if !ok {
		return err
	}
	se.WithHint(s.journalHint())

	res, jerr := s.runner.Run(ctx, hostexec.Cmd("journalctl", "-u", s.cfg.Service.Name, "-n", "50", "--no-pager"))
	if jerr == nil && res.ExitCode == 0 && strings.TrimSpace(res.Stdout) != "" {
		se.WithOutput(strings.TrimSpace(res.Stdout))
	}
	return se
}
