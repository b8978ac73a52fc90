package stages

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/openfroyo/deployer/pkg/config"
	"github.com/openfroyo/deployer/pkg/engine"
	"github.com/openfroyo/deployer/pkg/hostexec"
	"github.com/openfroyo/deployer/pkg/hostfs"
)

// Secrets creates the secrets file from its template on first run and
// restricts its permissions on every run. An existing file is never
// rewritten.
type Secrets struct {
	cfg    *config.Config
	fs     *hostfs.FS
	runner hostexec.Runner
	logger zerolog.Logger
}

// NewSecrets creates the secret provisioner stage.
func NewSecrets(d Deps) *Secrets {
	d.withDefaults()
	return &Secrets{cfg: d.Config, fs: d.FS, runner: d.Runner, logger: d.logger(NameSecrets)}
}

func (s *Secrets) Name() string  { return NameSecrets }
func (s *Secrets) Title() string { return "Provisioning secrets file" }

// Run ensures the secrets file exists, then restricts it to its owner.
func (s *Secrets) Run(ctx context.Context, _ *engine.Run) (*engine.Outcome, error) {
	file := s.cfg.AppPath(s.cfg.Secrets.File)
	mode := s.cfg.SecretsMode()

	exists, err := s.fs.Exists(file)
	if err != nil {
		return nil, engine.NewError(engine.KindSecrets, "failed to check secrets file", err)
	}

	created := false
	if !exists {
		template := s.cfg.AppPath(s.cfg.Secrets.Template)
		if err := s.fs.CopyFile(template, file, mode); err != nil {
			return nil, engine.NewError(engine.KindSecrets, fmt.Sprintf("failed to create %s from %s", file, template), err)
		}
		created = true
		s.logger.Debug().Str("path", file).Msg("secrets file created from template")
	}

	// CopyFile already applies mode; an existing file may have drifted.
	if err := s.fs.Chmod(file, mode); err != nil {
		return nil, engine.NewError(engine.KindSecrets, fmt.Sprintf("failed to restrict %s", file), err)
	}
	if _, err := execStep(ctx, s.runner, engine.KindSecrets,
		fmt.Sprintf("failed to hand %s to %s", file, s.cfg.Owner()),
		hostexec.Cmd("chown", s.cfg.Owner(), s.fs.Path(file))); err != nil {
		return nil, err
	}

	out := &engine.Outcome{Changed: created}
	if created {
		out.Summary = fmt.Sprintf("created %s (mode %04o)", file, mode)
		out.Warn(fmt.Sprintf("populate %s in %s before using the application",
			strings.Join(s.cfg.Secrets.RequiredKeys, " and "), file))
		return out, nil
	}

	out.Summary = fmt.Sprintf("kept existing %s (mode %04o)", file, mode)
	data, err := s.fs.ReadFile(file)
	if err != nil {
		return nil, engine.NewError(engine.KindSecrets, fmt.Sprintf("failed to read %s", file), err)
	}
	values, err := godotenv.Parse(bytes.NewReader(data))
	if err != nil {
		out.Warn(fmt.Sprintf("%s could not be parsed: %v", file, err))
		return out, nil
	}
	for _, key := range s.cfg.Secrets.RequiredKeys {
		if isPlaceholder(values[key]) {
			out.Warn(fmt.Sprintf("%s is not set in %s", key, file))
		}
	}
	if port, ok := values["PORT"]; ok && port != strconv.Itoa(s.cfg.App.Port) {
		out.Warn(fmt.Sprintf("PORT=%s in %s differs from the proxied port %d", port, file, s.cfg.App.Port))
	}
	return out, nil
}

// isPlaceholder reports whether a secret still holds template text. A value
// that is only a comment counts as unset.
func isPlaceholder(value string) bool {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" || v == "changeme" || strings.HasPrefix(v, "<") || strings.HasPrefix(v, "#") {
		return true
	}
	return strings.HasPrefix(v, "your_") || strings.HasPrefix(v, "your-") || strings.HasPrefix(v, "your ")
}
