package stages

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/openfroyo/deployer/pkg/config"
	"github.com/openfroyo/deployer/pkg/engine"
	"github.com/openfroyo/deployer/pkg/hostexec"
)

// Firewall allows the admin and web profiles, then enables ufw. Rules are
// only ever added.
type Firewall struct {
	cfg    *config.Config
	runner hostexec.Runner
	logger zerolog.Logger
}

// NewFirewall creates the firewall configurator stage.
func NewFirewall(d Deps) *Firewall {
	d.withDefaults()
	return &Firewall{cfg: d.Config, runner: d.Runner, logger: d.logger(NameFirewall)}
}

func (f *Firewall) Name() string  { return NameFirewall }
func (f *Firewall) Title() string { return "Configuring firewall" }

// Run allows the remote administration profile first, so enabling
// enforcement can never cut off the operator's session.
func (f *Firewall) Run(ctx context.Context, _ *engine.Run) (*engine.Outcome, error) {
	profiles := append([]string{f.cfg.Firewall.AdminProfile}, f.cfg.Firewall.Profiles...)

	for _, profile := range profiles {
		if _, err := execStep(ctx, f.runner, engine.KindFirewall,
			fmt.Sprintf("failed to allow %s", profile),
			hostexec.Cmd("ufw", "allow", profile)); err != nil {
			return nil, err
		}
	}

	if _, err := execStep(ctx, f.runner, engine.KindFirewall, "failed to enable ufw",
		hostexec.Cmd("ufw", "--force", "enable")); err != nil {
		return nil, err
	}

	f.logger.Debug().Strs("profiles", profiles).Msg("firewall enabled")
	return &engine.Outcome{
		Changed: true,
		Summary: "allowed " + strings.Join(profiles, ", ") + " and enabled ufw",
	}, nil
}
