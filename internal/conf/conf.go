// Package conf holds the client's static configuration snapshot: the
// remote server address, transport selection, and the initial service
// table. Config parsing and file watching are external collaborators per
// the core's scope, but the shapes they produce (ClientConfig,
// ServiceConfig, ServiceChange) live here because every other package
// depends on them.
package conf

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
	"github.com/hashicorp/go-multierror"
)

// ServiceConfig is an immutable per-service record. It is passed by value
// into a control-channel worker and dropped when the service is removed.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LocalAddr string `yaml:"local_addr"`
	Token     string `yaml:"token"`
	Protocol  string `yaml:"protocol"` // "tcp" or "udp"
}

func (s ServiceConfig) validate() []error {
	var errs []error
	if s.Name == "" {
		errs = append(errs, fmt.Errorf("service: name is required"))
	}
	if s.LocalAddr == "" {
		errs = append(errs, fmt.Errorf("service %q: local_addr is required", s.Name))
	}
	if s.Token == "" {
		errs = append(errs, fmt.Errorf("service %q: token is required", s.Name))
	}
	if s.Protocol != "tcp" && s.Protocol != "udp" {
		errs = append(errs, fmt.Errorf("service %q: protocol must be 'tcp' or 'udp'", s.Name))
	}
	return errs
}

// ClientConfig is the client's static snapshot, read once at startup.
// Subsequent service mutations arrive as ServiceChange events rather than
// by reloading this struct.
type ClientConfig struct {
	RemoteAddr string          `yaml:"remote_addr"`
	Transport  Transport       `yaml:"transport"`
	Services   []ServiceConfig `yaml:"services"`
}

// Load reads and validates a client configuration file.
func Load(path string) (*ClientConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("conf: %w", err)
	}

	var cfg ClientConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("conf: parse %s: %w", path, err)
	}

	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *ClientConfig) setDefaults() {
	c.Transport.setDefaults()
}

func (c *ClientConfig) validate() error {
	var result *multierror.Error

	if c.RemoteAddr == "" {
		result = multierror.Append(result, fmt.Errorf("client.remote_addr is required"))
	}

	for _, err := range c.Transport.validate() {
		result = multierror.Append(result, err)
	}

	seen := make(map[string]struct{}, len(c.Services))
	for _, svc := range c.Services {
		if _, dup := seen[svc.Name]; dup && svc.Name != "" {
			result = multierror.Append(result, fmt.Errorf("service %q configured more than once", svc.Name))
		}
		seen[svc.Name] = struct{}{}
		for _, err := range svc.validate() {
			result = multierror.Append(result, err)
		}
	}

	return result.ErrorOrNil()
}

// ServiceKind tags a ServiceChange event.
type ServiceKind int

const (
	// ServiceOther marks a server-side or otherwise unrecognized change the
	// client core must ignore.
	ServiceOther ServiceKind = iota
	ServiceAdd
	ServiceRemove
)

// ServiceChange is the tagged union the supervisor consumes to mutate its
// live set of control-channel handles.
type ServiceChange struct {
	Kind    ServiceKind
	Service ServiceConfig // valid when Kind == ServiceAdd
	Name    string        // valid when Kind == ServiceRemove
}
