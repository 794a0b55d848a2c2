// Package testbed bootstraps the working directory shared by every
// infrastructure and resolves the paths inside it.
package testbed

import (
	"context"
	"fmt"
	"net/url"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/mumoshu/mtenv/render"
	"github.com/mumoshu/mtenv/source"
)

// Proxy configures the reverse proxy of a proxied testbed.
type Proxy struct {
	Enabled  bool
	BaseURL  string
	CertFile string
	KeyFile  string
}

// Initializer creates the testbed skeleton.
type Initializer struct {
	Layout Layout

	// ScaffoldURL and ScaffoldRef locate the moodle-docker repository.
	ScaffoldURL string
	ScaffoldRef source.Reference

	Proxy Proxy

	Git      source.Client
	Renderer *render.Renderer
	Log      logrus.FieldLogger
}

// Init creates every missing part of the testbed. Calling it on an
// initialized testbed changes nothing but the proxy server config.
func (i *Initializer) Init(ctx context.Context) error {
	l := i.Layout

	for _, d := range []string{l.WorkingDir, l.CacheDir(), l.ProxyConfigDir(), l.ProxyLocationsDir()} {
		if err := mkdir(d, i.Log); err != nil {
			return err
		}
	}

	if _, err := os.Stat(l.StateFile()); os.IsNotExist(err) {
		i.Log.Infof("creating state file @ %s", l.StateFile())
		if err := os.WriteFile(l.StateFile(), nil, 0644); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if _, err := os.Stat(l.ScaffoldDir()); os.IsNotExist(err) {
		i.Log.Infof("cloning %s into %s", i.ScaffoldURL, l.ScaffoldDir())
		if err := i.Git.Clone(ctx, i.ScaffoldURL, l.ScaffoldDir(), i.ScaffoldRef); err != nil {
			// A partial clone would make the next init skip the scaffold.
			_ = os.RemoveAll(l.ScaffoldDir())
			return fmt.Errorf("unable to clone the moodle-docker scaffold: %w", err)
		}
	} else if err != nil {
		return err
	} else {
		i.Log.Infof("test bed @ %s is already initialized", l.WorkingDir)
	}

	if i.Proxy.Enabled {
		if err := i.renderProxyServer(); err != nil {
			return err
		}
	}

	return nil
}

func (i *Initializer) renderProxyServer() error {
	u, err := url.Parse(i.Proxy.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base url %q: %w", i.Proxy.BaseURL, err)
	}

	d := render.ServerData{
		ServerName:   u.Hostname(),
		TLS:          i.Proxy.CertFile != "" && i.Proxy.KeyFile != "",
		CertFile:     i.Proxy.CertFile,
		KeyFile:      i.Proxy.KeyFile,
		OverviewDir:  i.Layout.WorkingDir,
		LocationsDir: i.Layout.ProxyLocationsDir(),
	}

	return i.Renderer.ProxyServer(i.Layout.ProxyServerConfig(), d)
}

func mkdir(dir string, log logrus.FieldLogger) error {
	if _, err := os.Stat(dir); err == nil {
		return nil
	}

	log.Infof("creating %s", dir)

	return os.MkdirAll(dir, 0755)
}
