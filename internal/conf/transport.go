package conf

import (
	"fmt"
	"slices"
	"time"
)

// Transport selects and configures one of the client's transport variants.
// The known variants share no state, so only one of TCP/TLS/KCP/Noise is
// populated at a time, matching whichever Type names.
type Transport struct {
	Type  string `yaml:"type"`
	TCP   *TCP   `yaml:"tcp"`
	TLS   *TLS   `yaml:"tls"`
	KCP   *KCP   `yaml:"kcp"`
	Noise *Noise `yaml:"noise"`
}

// TCP configures the plaintext transport.
type TCP struct {
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// TLS configures the TLS transport.
type TLS struct {
	ServerName         string        `yaml:"server_name"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
	DialTimeout        time.Duration `yaml:"dial_timeout"`
}

// KCP configures the KCP transport, backed by github.com/xtaci/kcp-go.
type KCP struct {
	Key         string        `yaml:"key"`
	Mode        string        `yaml:"mode"`
	MTU         int           `yaml:"mtu"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// Noise configures the Noise transport's pre-shared key.
type Noise struct {
	Key         string        `yaml:"key"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

func (t *Transport) setDefaults() {
	switch t.Type {
	case "tcp":
		if t.TCP == nil {
			t.TCP = &TCP{}
		}
		if t.TCP.DialTimeout == 0 {
			t.TCP.DialTimeout = 10 * time.Second
		}
	case "tls":
		if t.TLS == nil {
			t.TLS = &TLS{}
		}
		if t.TLS.DialTimeout == 0 {
			t.TLS.DialTimeout = 10 * time.Second
		}
	case "kcp":
		if t.KCP == nil {
			t.KCP = &KCP{}
		}
		if t.KCP.Mode == "" {
			t.KCP.Mode = "fast3"
		}
		if t.KCP.MTU == 0 {
			t.KCP.MTU = 1400
		}
		if t.KCP.DialTimeout == 0 {
			t.KCP.DialTimeout = 10 * time.Second
		}
	case "noise":
		if t.Noise == nil {
			t.Noise = &Noise{}
		}
		if t.Noise.DialTimeout == 0 {
			t.Noise.DialTimeout = 10 * time.Second
		}
	}
}

func (t *Transport) validate() []error {
	var errs []error

	validTypes := []string{"tcp", "tls", "kcp", "noise"}
	if !slices.Contains(validTypes, t.Type) {
		errs = append(errs, fmt.Errorf("transport.type must be one of: %v", validTypes))
		return errs
	}

	switch t.Type {
	case "tls":
		if t.TLS == nil {
			errs = append(errs, fmt.Errorf("transport.tls configuration is required when type is 'tls'"))
		}
	case "kcp":
		if t.KCP == nil {
			errs = append(errs, fmt.Errorf("transport.kcp configuration is required when type is 'kcp'"))
		} else if t.KCP.Key == "" {
			errs = append(errs, fmt.Errorf("transport.kcp.key is required"))
		}
	case "noise":
		if t.Noise == nil || t.Noise.Key == "" {
			errs = append(errs, fmt.Errorf("transport.noise.key is required when type is 'noise'"))
		}
	}

	return errs
}
