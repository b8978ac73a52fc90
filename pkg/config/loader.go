package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Load reads a configuration file over the defaults and validates the
// result. An empty path returns the validated defaults. Files ending in
// .cue are evaluated with CUE; anything else is parsed as YAML (which also
// accepts JSON).
func Load(file string) (*Config, error) {
	cfg := Default()
	if file == "" {
		return cfg, Validate(cfg)
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", file, err)
	}

	if strings.EqualFold(filepath.Ext(file), ".cue") {
		err = decodeCUE(data, file, cfg)
	} else {
		err = decodeYAML(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", file, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func decodeCUE(data []byte, file string, cfg *Config) error {
	ctx := cuecontext.New()
	val := ctx.CompileBytes(data, cue.Filename(file))
	if err := val.Err(); err != nil {
		return fmt.Errorf("%s", cueerrors.Details(err, nil))
	}
	if err := val.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%s", cueerrors.Details(err, nil))
	}
	return val.Decode(cfg)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("abspath", func(fl validator.FieldLevel) bool {
		return path.IsAbs(fl.Field().String())
	})
	_ = v.RegisterValidation("relpath", func(fl validator.FieldLevel) bool {
		p := fl.Field().String()
		clean := path.Clean(p)
		return !path.IsAbs(p) && clean != ".." && !strings.HasPrefix(clean, "../")
	})
	_ = v.RegisterValidation("filemode", func(fl validator.FieldLevel) bool {
		mode, err := strconv.ParseUint(fl.Field().String(), 8, 32)
		return err == nil && mode <= 0777
	})
	return v
}

// Validate checks field constraints and cross-field rules.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Journal.Enabled && cfg.Journal.Path == "" {
		return fmt.Errorf("invalid config: journal.path is required when the journal is enabled")
	}
	if cfg.Secrets.File == cfg.Secrets.Template {
		return fmt.Errorf("invalid config: secrets.file and secrets.template must differ")
	}
	for _, p := range cfg.Firewall.Profiles {
		if p == cfg.Firewall.AdminProfile {
			return fmt.Errorf("invalid config: firewall.profiles must not repeat the admin profile %q", p)
		}
	}
	return nil
}
