package stages

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/deployer/pkg/config"
	"github.com/openfroyo/deployer/pkg/engine"
	"github.com/openfroyo/deployer/pkg/stores"
)

// Report prints the per-stage summary and the follow-up checklist. It
// changes nothing on the host.
type Report struct {
	cfg     *config.Config
	out     io.Writer
	history History
	logger  zerolog.Logger
}

// NewReport creates the report stage.
func NewReport(d Deps) *Report {
	d.withDefaults()
	return &Report{cfg: d.Config, out: d.Out, history: d.History, logger: d.logger(NameReport)}
}

func (r *Report) Name() string  { return NameReport }
func (r *Report) Title() string { return "Deployment summary" }

// Run renders the report for run.
func (r *Report) Run(ctx context.Context, run *engine.Run) (*engine.Outcome, error) {
	var b strings.Builder
	r.render(ctx, &b, run)
	if _, err := io.WriteString(r.out, b.String()); err != nil {
		return nil, fmt.Errorf("failed to write report: %w", err)
	}
	return &engine.Outcome{Summary: "printed follow-up checklist"}, nil
}

func (r *Report) render(ctx context.Context, b *strings.Builder, run *engine.Run) {
	cfg := r.cfg
	secrets := cfg.AppPath(cfg.Secrets.File)
	site := path.Join(cfg.Proxy.AvailableDir, cfg.Proxy.SiteName)
	service := cfg.Service.Name

	fmt.Fprintf(b, "\nDeployment of %s complete.\n", cfg.App.Name)
	fmt.Fprintf(b, "Application port %d is served through nginx at http://%s/\n\n", cfg.App.Port, cfg.App.Domain)

	var warnings []string
	for _, res := range run.Results {
		if !res.Numbered {
			continue
		}
		state := "unchanged"
		if res.Changed {
			state = "changed"
		}
		fmt.Fprintf(b, "  [%d/%d] %-30s %-9s %s\n", res.Index, run.Total, res.Title, state, res.Summary)
		warnings = append(warnings, res.Warnings...)
	}

	if len(warnings) > 0 {
		b.WriteString("\nWarnings:\n")
		for _, w := range warnings {
			fmt.Fprintf(b, "  - %s\n", w)
		}
	}

	if line := r.previousRun(ctx); line != "" {
		fmt.Fprintf(b, "\n%s\n", line)
	}

	b.WriteString("\nNext steps:\n")
	fmt.Fprintf(b, "  1. Set %s in %s\n", strings.Join(cfg.Secrets.RequiredKeys, " and "), secrets)
	fmt.Fprintf(b, "  2. Set server_name to %s in %s\n", cfg.App.Domain, site)
	fmt.Fprintf(b, "  3. Restart the application: sudo systemctl restart %s\n", service)
	fmt.Fprintf(b, "  4. (Optional) Obtain a TLS certificate: sudo certbot --nginx -d %s\n", cfg.App.Domain)

	b.WriteString("\nUseful commands:\n")
	fmt.Fprintf(b, "  systemctl status %s\n", service)
	fmt.Fprintf(b, "  journalctl -u %s -f\n", service)
}

func (r *Report) previousRun(ctx context.Context) string {
	if r.history == nil {
		return ""
	}
	rec, err := r.history.LastSuccess(ctx)
	if errors.Is(err, stores.ErrNotFound) {
		return "First successful deployment recorded on this host."
	}
	if err != nil {
		r.logger.Warn().Err(err).Msg("failed to read run journal")
		return ""
	}
	return fmt.Sprintf("Previous successful deployment: %s (run %s)",
		rec.CompletedAt.Local().Format(time.RFC1123), rec.ID)
}
