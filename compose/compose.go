// Package compose drives the containers of a moodle instance through the
// moodle-docker scripts copied into its directory.
package compose

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/subosito/gotenv"

	"github.com/mumoshu/mtenv/render"
)

const (
	DefaultComposeBin   = "bin/moodle-docker-compose"
	DefaultWaitForDBBin = "bin/moodle-docker-wait-for-db"

	webserverService = "webserver"
)

// AccessInfo tells how to reach a moodle instance.
type AccessInfo struct {
	Host          string
	Port          int
	AdminPassword string
	DBPort        int
}

// URL returns the direct URL of the instance, bypassing any reverse proxy.
func (a AccessInfo) URL() string {
	return fmt.Sprintf("http://%s:%d", a.Host, a.Port)
}

// InstallOptions are the parameters of the first-run moodle installation.
type InstallOptions struct {
	FullName      string
	ShortName     string
	AdminPassword string
	AdminEmail    string
	// Theme is activated after the installation when not empty.
	Theme string
}

// Runtime manages the containers of the moodle instance rooted at dir.
type Runtime interface {
	Create(ctx context.Context, dir string) error
	Start(ctx context.Context, dir string) error
	Stop(ctx context.Context, dir string) error
	Restart(ctx context.Context, dir string) error
	Destroy(ctx context.Context, dir string) error
	Install(ctx context.Context, dir string, opts InstallOptions) error
	AccessInfo(dir string) (*AccessInfo, error)
}

// CLI is a Runtime that shells out to moodle-docker-compose.
type CLI struct {
	// ComposeBin is the compose wrapper script, relative to the instance directory.
	ComposeBin string
	// WaitForDBBin is run after start, relative to the instance directory.
	WaitForDBBin string

	Log logrus.FieldLogger
}

var _ Runtime = &CLI{}

func NewCLI(log logrus.FieldLogger) *CLI {
	return &CLI{
		ComposeBin:   DefaultComposeBin,
		WaitForDBBin: DefaultWaitForDBBin,
		Log:          log,
	}
}

func (c *CLI) Create(ctx context.Context, dir string) error {
	return c.compose(ctx, dir, "create")
}

func (c *CLI) Start(ctx context.Context, dir string) error {
	if err := c.compose(ctx, dir, "up", "-d"); err != nil {
		return err
	}

	if c.WaitForDBBin == "" {
		return nil
	}

	return c.run(ctx, dir, c.WaitForDBBin)
}

func (c *CLI) Stop(ctx context.Context, dir string) error {
	return c.compose(ctx, dir, "stop")
}

func (c *CLI) Restart(ctx context.Context, dir string) error {
	return c.compose(ctx, dir, "restart")
}

func (c *CLI) Destroy(ctx context.Context, dir string) error {
	return c.compose(ctx, dir, "down")
}

// Install runs the moodle CLI installer inside the webserver container and
// activates the theme, if any.
func (c *CLI) Install(ctx context.Context, dir string, opts InstallOptions) error {
	if err := c.php(ctx, dir, "admin/cli/install_database.php",
		"--agree-license",
		"--fullname="+opts.FullName,
		"--shortname="+opts.ShortName,
		"--adminpass="+opts.AdminPassword,
		"--adminemail="+opts.AdminEmail,
	); err != nil {
		return err
	}

	if opts.Theme == "" {
		return nil
	}

	return c.php(ctx, dir, "admin/cli/cfg.php", "--name=theme", "--set="+opts.Theme)
}

// AccessInfo reads the access info from the environment file of the instance.
func (c *CLI) AccessInfo(dir string) (*AccessInfo, error) {
	env, err := readEnv(dir)
	if err != nil {
		return nil, err
	}

	port, err := strconv.Atoi(env[render.EnvWebPort])
	if err != nil {
		return nil, fmt.Errorf("invalid %s in %s: %w", render.EnvWebPort, dir, err)
	}

	dbPort, err := strconv.Atoi(env[render.EnvDBPort])
	if err != nil {
		return nil, fmt.Errorf("invalid %s in %s: %w", render.EnvDBPort, dir, err)
	}

	host := env[render.EnvWebHost]
	if host == "" {
		host = "localhost"
	}

	return &AccessInfo{
		Host:          host,
		Port:          port,
		AdminPassword: env[render.EnvAdminPassword],
		DBPort:        dbPort,
	}, nil
}

func (c *CLI) php(ctx context.Context, dir, script string, args ...string) error {
	return c.compose(ctx, dir, append([]string{"exec", "-T", webserverService, "php", script}, args...)...)
}

func (c *CLI) compose(ctx context.Context, dir string, args ...string) error {
	return c.run(ctx, dir, c.ComposeBin, args...)
}

func (c *CLI) run(ctx context.Context, dir, bin string, args ...string) error {
	env, err := readEnv(dir)
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, filepath.Join(dir, bin), args...)
	cmd.Dir = dir
	cmd.Env = os.Environ()
	for k, v := range env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log := c.log().WithField("path", dir)
	log.Debugf("running %s", strings.Join(cmd.Args, " "))

	if err := cmd.Run(); err != nil {
		return errors.Wrapf(err, "%s %s failed: %s", bin, strings.Join(args, " "), stderr.String())
	}

	log.Debugf("%s succeeded: %s", bin, stdout.String())

	return nil
}

func (c *CLI) log() logrus.FieldLogger {
	if c.Log == nil {
		return logrus.StandardLogger()
	}
	return c.Log
}

func readEnv(dir string) (gotenv.Env, error) {
	p := filepath.Join(dir, render.EnvFileName)

	env, err := gotenv.Read(p)
	if err != nil {
		return nil, fmt.Errorf("unable to read %s: %w", p, err)
	}

	return env, nil
}
