package stages

import (
	"context"
	"fmt"
	"path"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/openfroyo/deployer/pkg/config"
	"github.com/openfroyo/deployer/pkg/engine"
	"github.com/openfroyo/deployer/pkg/hostexec"
	"github.com/openfroyo/deployer/pkg/hostfs"
)

// Fetch replaces the application directory with a fresh clone.
type Fetch struct {
	cfg    *config.Config
	fs     *hostfs.FS
	runner hostexec.Runner
	logger zerolog.Logger
}

// NewFetch creates the source fetcher stage.
func NewFetch(d Deps) *Fetch {
	d.withDefaults()
	return &Fetch{cfg: d.Config, fs: d.FS, runner: d.Runner, logger: d.logger(NameFetch)}
}

func (f *Fetch) Name() string  { return NameFetch }
func (f *Fetch) Title() string { return "Fetching application code" }

// stashDir holds preserved files while the application directory is
// replaced. It sits next to the application directory so moves stay on one
// filesystem.
func (f *Fetch) stashDir() string {
	dir := f.cfg.App.Dir
	return path.Join(path.Dir(dir), "."+path.Base(dir)+".deployer-preserve")
}

// Run removes the application directory, clones the repository into it and
// hands ownership to the runtime identity. Preserved files survive the
// replace byte for byte.
func (f *Fetch) Run(ctx context.Context, _ *engine.Run) (*engine.Outcome, error) {
	dir := f.cfg.App.Dir
	stash := f.stashDir()

	preserved, err := f.stashPreserved(stash)
	if err != nil {
		return nil, engine.NewError(engine.KindFetch, "failed to set aside preserved files", err)
	}

	if err := f.fs.RemoveAll(dir); err != nil {
		return nil, engine.NewError(engine.KindFetch, fmt.Sprintf("failed to remove %s", dir), err)
	}
	if err := f.fs.MkdirAll(path.Dir(dir), 0755); err != nil {
		return nil, engine.NewError(engine.KindFetch, fmt.Sprintf("failed to create %s", path.Dir(dir)), err)
	}

	_, cloneErr := execStep(ctx, f.runner, engine.KindFetch,
		fmt.Sprintf("failed to clone %s", f.cfg.Source.RepoURL), f.cloneCommand())

	// Preserved files go back even when the clone failed.
	if err := f.restorePreserved(stash, preserved); err != nil {
		if cloneErr != nil {
			return nil, cloneErr
		}
		return nil, engine.NewError(engine.KindFetch, "failed to restore preserved files", err).
			WithHint(fmt.Sprintf("Preserved files are kept in %s.", stash))
	}
	if cloneErr != nil {
		if se, ok := cloneErr.(*engine.StageError); ok {
			se.WithHint(fmt.Sprintf("Check network access and that %s is reachable with the host's credentials.", f.cfg.Source.RepoURL))
		}
		return nil, cloneErr
	}

	if _, err := execStep(ctx, f.runner, engine.KindFetch,
		fmt.Sprintf("failed to hand %s to %s", dir, f.cfg.Owner()),
		hostexec.Cmd("chown", "-R", f.cfg.Owner(), f.fs.Path(dir))); err != nil {
		return nil, err
	}

	source := f.cfg.Source.RepoURL
	if f.cfg.Source.Branch != "" {
		source += "@" + f.cfg.Source.Branch
	}
	out := &engine.Outcome{Changed: true, Summary: fmt.Sprintf("cloned %s into %s", source, dir)}
	for _, p := range preserved {
		out.Warn(fmt.Sprintf("kept existing %s", p))
	}
	return out, nil
}

func (f *Fetch) cloneCommand() hostexec.Command {
	args := []string{"clone"}
	if f.cfg.Source.Depth > 0 {
		args = append(args, "--depth", strconv.Itoa(f.cfg.Source.Depth))
	}
	if f.cfg.Source.Branch != "" {
		args = append(args, "--branch", f.cfg.Source.Branch)
	}
	args = append(args, f.cfg.Source.RepoURL, f.fs.Path(f.cfg.App.Dir))
	return hostexec.Cmd("git", args...)
}

// preserveList returns the files that survive the replace. The secrets file
// is always among them, whatever source.preserve says.
func (f *Fetch) preserveList() []string {
	secrets := path.Clean(f.cfg.Secrets.File)
	list := make([]string, 0, len(f.cfg.Source.Preserve)+1)
	seen := make(map[string]bool)
	for _, rel := range append([]string{secrets}, f.cfg.Source.Preserve...) {
		rel = path.Clean(rel)
		if seen[rel] {
			continue
		}
		seen[rel] = true
		list = append(list, rel)
	}
	return list
}

// stashPreserved moves preserved files out of the application directory.
// A file already in the stash and missing from the directory is a leftover
// of an interrupted run; it is kept and restored like any other.
func (f *Fetch) stashPreserved(stash string) ([]string, error) {
	var preserved []string
	for _, rel := range f.preserveList() {
		src := f.cfg.AppPath(rel)
		dst := path.Join(stash, rel)

		inDir, err := f.fs.Exists(src)
		if err != nil {
			return nil, err
		}
		if inDir {
			if err := f.fs.Rename(src, dst); err != nil {
				return nil, err
			}
			f.logger.Debug().Str("path", src).Msg("preserving file across replace")
			preserved = append(preserved, rel)
			continue
		}

		inStash, err := f.fs.Exists(dst)
		if err != nil {
			return nil, err
		}
		if inStash {
			f.logger.Warn().Str("path", dst).Msg("recovering file preserved by an interrupted run")
			preserved = append(preserved, rel)
		}
	}
	return preserved, nil
}

func (f *Fetch) restorePreserved(stash string, preserved []string) error {
	for _, rel := range preserved {
		if err := f.fs.Rename(path.Join(stash, rel), f.cfg.AppPath(rel)); err != nil {
			return err
		}
	}
	return f.fs.RemoveAll(stash)
}
