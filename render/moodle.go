// Package render renders the files of a testbed from embedded templates:
// the environment and compose override files of every moodle instance,
// the reverse-proxy configs, and the static overview page.
package render

import (
	"bytes"
	"embed"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mumoshu/mtenv/compat"
	"github.com/mumoshu/mtenv/state"
)

//go:embed templates/*
var templates embed.FS

const (
	// EnvFileName is the name of the environment file read by moodle-docker.
	EnvFileName = ".env"
	// LocalComposeFileName is the name of the moodle-docker compose override.
	LocalComposeFileName = "local.yml"
	// OverviewFileName is the name of the overview page in the working directory.
	OverviewFileName = "index.html"

	// Variables of the environment file.
	EnvComposeProjectName = "COMPOSE_PROJECT_NAME"
	EnvWWWRoot            = "MOODLE_DOCKER_WWWROOT"
	EnvDB                 = "MOODLE_DOCKER_DB"
	EnvPHPVersion         = "MOODLE_DOCKER_PHP_VERSION"
	EnvWebHost            = "MOODLE_DOCKER_WEB_HOST"
	EnvWebPort            = "MOODLE_DOCKER_WEB_PORT"
	EnvDBPort             = "MOODLE_DOCKER_DB_PORT"
	EnvAdminPassword      = "MOODLE_ADMIN_PASSWORD"
	EnvPluginDir          = "MOODLE_PLUGIN_DIR"
)

// EnvData is the content of the environment file of a moodle instance.
type EnvData struct {
	ComposeProjectName string
	WWWRoot            string
	DB                 string
	PHPVersion         string
	WebHost            string
	WebPort            int
	DBPort             int
	AdminPassword      string
	PluginDir          string
}

// LocalComposeData is the content of the compose override of a moodle instance.
type LocalComposeData struct {
	PluginDir    string
	PluginRelDir string
}

// LocationData is the reverse-proxy location of a moodle instance.
type LocationData struct {
	Infrastructure string
	Version        string
	Location       string
	WWWPort        int
}

// ConfigData is what the moodle config of a proxied instance overrides.
type ConfigData struct {
	WWWRoot  string
	SSLProxy bool
}

// NewConfigData returns the overrides of an instance served at wwwroot.
func NewConfigData(wwwroot string) (ConfigData, error) {
	u, err := url.Parse(wwwroot)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ConfigData{}, fmt.Errorf("invalid wwwroot %q", wwwroot)
	}

	return ConfigData{
		WWWRoot:  phpQuoter.Replace(strings.TrimRight(wwwroot, "/")),
		SSLProxy: u.Scheme == "https",
	}, nil
}

var phpQuoter = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

// setupInclude is the line every moodle config.php ends with. Settings after
// it have no effect.
var setupInclude = []byte("require_once(__DIR__ . '/lib/setup.php');")

// ServerData is the reverse-proxy virtual host serving every location.
type ServerData struct {
	ServerName   string
	TLS          bool
	CertFile     string
	KeyFile      string
	OverviewDir  string
	LocationsDir string
}

// OverviewData is the content of the overview page.
type OverviewData struct {
	GeneratedAt     string
	Infrastructures []OverviewInfrastructure
}

type OverviewInfrastructure struct {
	Name    string
	Plugin  string
	GitRef  string
	Moodles []OverviewMoodle
}

type OverviewMoodle struct {
	Version string
	Status  string
	URL     string
}

// Renderer writes rendered files to disk.
type Renderer struct {
	Log logrus.FieldLogger
}

func New(log logrus.FieldLogger) *Renderer {
	return &Renderer{Log: log}
}

// EnvFile writes the environment file into dir.
func (r *Renderer) EnvFile(dir string, d EnvData) error {
	return r.render(dir, EnvFileName, "env.tmpl", d, false)
}

// LocalCompose writes the compose override into dir.
func (r *Renderer) LocalCompose(dir string, d LocalComposeData) error {
	return r.render(dir, LocalComposeFileName, "local.yml.tmpl", d, false)
}

// ProxyLocation writes the reverse-proxy location of one instance to path.
func (r *Renderer) ProxyLocation(path string, d LocationData) error {
	return r.render(filepath.Dir(path), filepath.Base(path), "location.conf.tmpl", d, false)
}

// ProxyServer writes the reverse-proxy virtual host to path.
func (r *Renderer) ProxyServer(path string, d ServerData) error {
	return r.render(filepath.Dir(path), filepath.Base(path), "server.conf.tmpl", d, false)
}

// MoodleConfig inserts the overrides of d into the moodle config.php at
// path, right before lib/setup.php is included.
func (r *Renderer) MoodleConfig(path string, d ConfigData) error {
	config, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	i := bytes.Index(config, setupInclude)
	if i < 0 {
		return fmt.Errorf("%s does not include lib/setup.php", path)
	}

	body, err := templates.ReadFile("templates/config.php.tmpl")
	if err != nil {
		return err
	}

	files, err := Execute(Template{Name: filepath.Base(path), Body: string(body), Data: d})
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	buf.Write(config[:i])
	buf.WriteString(files[0].Content)
	buf.Write(config[i:])

	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return err
	}

	if r.Log != nil {
		r.Log.WithField("path", path).Debugf("set wwwroot to %s", d.WWWRoot)
	}

	return nil
}

// Overview writes the overview page of st to path.
func (r *Renderer) Overview(path string, st state.State, now time.Time) error {
	return r.render(filepath.Dir(path), filepath.Base(path), "overview.html.tmpl", NewOverviewData(st, now), true)
}

// NewOverviewData sorts infrastructures by name and moodles by version.
func NewOverviewData(st state.State, now time.Time) OverviewData {
	d := OverviewData{
		GeneratedAt: now.UTC().Format(time.RFC1123),
	}

	names := make([]string, 0, len(st))
	for name := range st {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		infra := st[name]

		oi := OverviewInfrastructure{
			Name:   name,
			Plugin: infra.Plugin,
			GitRef: infra.GitRef.String(),
		}

		versions := make([]string, 0, len(infra.Moodles))
		for v := range infra.Moodles {
			versions = append(versions, v)
		}
		compat.SortVersions(versions)

		for _, v := range versions {
			m := infra.Moodles[v]
			oi.Moodles = append(oi.Moodles, OverviewMoodle{
				Version: v,
				Status:  string(m.Status),
				URL:     m.URL,
			})
		}

		d.Infrastructures = append(d.Infrastructures, oi)
	}

	return d
}

func (r *Renderer) render(dir, name, tmpl string, data interface{}, html bool) error {
	body, err := templates.ReadFile("templates/" + tmpl)
	if err != nil {
		return err
	}

	wrote, err := ToDir(dir, Template{
		Name: name,
		Body: string(body),
		Data: data,
		HTML: html,
	})
	if err != nil {
		return err
	}

	if r.Log != nil {
		r.Log.WithField("path", dir).Debugf("rendered %v", wrote)
	}

	return nil
}
