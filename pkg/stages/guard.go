package stages

import (
	"context"

	"github.com/openfroyo/deployer/pkg/engine"
)

// Guard refuses to continue unless the deployer runs as root.
type Guard struct {
	geteuid func() int
}

// NewGuard creates the privilege guard.
func NewGuard(d Deps) *Guard {
	d.withDefaults()
	return &Guard{geteuid: d.Geteuid}
}

func (g *Guard) Name() string  { return NameGuard }
func (g *Guard) Title() string { return "Checking for root privileges" }

// Run fails with a PrivilegeError when the effective user is not root.
func (g *Guard) Run(_ context.Context, _ *engine.Run) (*engine.Outcome, error) {
	if uid := g.geteuid(); uid != 0 {
		return nil, engine.Errorf(engine.KindPrivilege, "must be run as root (effective uid %d)", uid).
			WithHint("Re-run with sudo.")
	}
	return &engine.Outcome{Summary: "running as root"}, nil
}
