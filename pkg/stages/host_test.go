package stages

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/deployer/pkg/config"
	"github.com/openfroyo/deployer/pkg/engine"
	"github.com/openfroyo/deployer/pkg/hostexec"
	"github.com/openfroyo/deployer/pkg/hostexec/hostexectest"
	"github.com/openfroyo/deployer/pkg/hostfs"
)

const envTemplate = `GEMINI_API_KEY=your_gemini_api_key_here
SECRET_KEY=your_secret_key_here
PORT=5000
FLASK_ENV=production
`

const unitFile = `[Unit]
Description=Discharge Summary
After=network.target

[Service]
User=www-data
Group=www-data
WorkingDirectory=/var/www/discharge-summary
ExecStart=/var/www/discharge-summary/venv/bin/gunicorn --bind 127.0.0.1:5000 app:app
Restart=on-failure

[Install]
WantedBy=multi-user.target
`

const siteFile = `server {
    listen 80;
    server_name your-domain.com;
    location / {
        proxy_pass http://127.0.0.1:5000;
    }
}
`

// testHost is a fake VPS: a temp directory as the filesystem root and a
// scripted command runner. Cloning writes a minimal application repository.
type testHost struct {
	t      *testing.T
	cfg    *config.Config
	fs     *hostfs.FS
	runner *hostexectest.FakeRunner
	out    *bytes.Buffer
	euid   int
	repo   map[string]string
}

func newTestHost(t *testing.T) *testHost {
	t.Helper()

	cfg := config.Default()
	cfg.Root = t.TempDir()
	cfg.Packages.Manager = "apt"

	h := &testHost{
		t:      t,
		cfg:    cfg,
		fs:     hostfs.New(cfg.Root),
		runner: hostexectest.NewFakeRunner(),
		out:    &bytes.Buffer{},
		repo: map[string]string{
			"requirements.txt":          "flask\ngunicorn\npython-dotenv\n",
			".env.example":              envTemplate,
			"discharge-summary.service": unitFile,
			"nginx.conf":                siteFile,
			"app.py":                    "app = None\n",
		},
	}
	h.runner.Stdout("dpkg-query", "install ok installed")
	h.runner.On("git clone", h.clone)
	return h
}

func (h *testHost) deps() Deps {
	return Deps{
		Config:  h.cfg,
		Runner:  h.runner,
		FS:      h.fs,
		Logger:  zerolog.Nop(),
		Out:     h.out,
		Geteuid: func() int { return h.euid },
		LookPath: func(file string) (string, error) {
			return "", errors.New("not found")
		},
	}
}

// clone emulates git clone by writing the repository files into the
// destination argument.
func (h *testHost) clone(cmd hostexec.Command) (*hostexec.Result, error) {
	dest := cmd.Args[len(cmd.Args)-1]
	for name, content := range h.repo {
		p := filepath.Join(dest, name)
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			return nil, err
		}
	}
	return &hostexec.Result{}, nil
}

func (h *testHost) pipeline() *engine.Pipeline {
	stages, final := Build(h.deps())
	return engine.NewPipeline(stages, engine.WithFinal(final))
}

func (h *testHost) provision() *engine.Run {
	h.t.Helper()
	run, err := h.pipeline().Execute(h.t.Context())
	require.NoError(h.t, err)
	require.Equal(h.t, engine.RunStatusComplete, run.Status)
	return run
}

func (h *testHost) path(p string) string {
	return h.fs.Path(p)
}

func (h *testHost) write(p, content string, mode os.FileMode) {
	h.t.Helper()
	require.NoError(h.t, h.fs.WriteFile(p, []byte(content), mode))
}

func (h *testHost) read(p string) string {
	h.t.Helper()
	data, err := h.fs.ReadFile(p)
	require.NoError(h.t, err)
	return string(data)
}

func (h *testHost) mode(p string) os.FileMode {
	h.t.Helper()
	mode, err := h.fs.Mode(p)
	require.NoError(h.t, err)
	return mode
}

func (h *testHost) exists(p string) bool {
	h.t.Helper()
	ok, err := h.fs.Exists(p)
	require.NoError(h.t, err)
	return ok
}

func (h *testHost) symlink(target, link string) {
	h.t.Helper()
	require.NoError(h.t, os.MkdirAll(filepath.Dir(h.path(link)), 0755))
	require.NoError(h.t, os.Symlink(h.path(target), h.path(link)))
}
