package quic

import (
	"crypto/tls"
	"os"

	"github.com/goburrow/quic/transport"
	"gopkg.in/yaml.v3"
)

// Config is the endpoint-level configuration: the transport tunables
// plus the TLS certificate/verification material and the pieces only
// the endpoint layer owns (connection accounting, metrics).
type Config struct {
	TLS       tls.Config
	Transport transport.Config

	// MaxConnsPerHost bounds the number of connections a Server will
	// track for a single remote IP at once; zero means unbounded.
	MaxConnsPerHost int

	// Metrics, if set, receives a sample of every connection's
	// transport.Stats after each Read/Write cycle. Optional: an
	// endpoint runs fine with nil Metrics, matching how Prometheus is
	// wired as an attachable collector rather than a hard dependency
	// elsewhere in the pack.
	Metrics *Metrics
}

// NewConfig returns a Config with the transport package's own
// defaults, plus TLS left at its zero value for the caller to fill in
// (certificates, InsecureSkipVerify, ServerName, …).
func NewConfig() *Config {
	cfg := &Config{}
	tcfg := transport.NewConfig()
	cfg.Transport = *tcfg
	cfg.Transport.TLSConfig = &cfg.TLS
	return cfg
}

// fileConfig is the YAML document shape LoadConfigFile accepts: a flat
// subset of Config's fields a deployment is likely to want to set from
// a file rather than flags (certificate paths, congestion tuning).
type fileConfig struct {
	CertFile           string `yaml:"cert_file"`
	KeyFile            string `yaml:"key_file"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	ServerName         string `yaml:"server_name"`

	ConnectionIDLength      int    `yaml:"connection_id_length"`
	ActiveConnectionIDLimit uint64 `yaml:"active_connection_id_limit"`
	InitialMaxStreamsBidi   uint64 `yaml:"initial_max_streams_bidi"`
	InitialMaxStreamsUni    uint64 `yaml:"initial_max_streams_uni"`
	InitialMaxStreamData    uint64 `yaml:"initial_max_stream_data"`
	InitialCongestionWindow uint64 `yaml:"initial_congestion_window"`
	MaxCongestionWindow     uint64 `yaml:"max_congestion_window"`
	MaxConnsPerHost         int    `yaml:"max_conns_per_host"`
}

// LoadConfigFile reads a YAML file and returns a Config built from
// NewConfig's defaults, overridden by whatever the file sets. cmd/quince
// uses this so a deployment can point at a file for TLS material and
// congestion tuning instead of repeating flags.
func LoadConfigFile(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var fc fileConfig
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return nil, err
	}
	cfg := NewConfig()
	if fc.CertFile != "" && fc.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(fc.CertFile, fc.KeyFile)
		if err != nil {
			return nil, err
		}
		cfg.TLS.Certificates = []tls.Certificate{cert}
	}
	cfg.TLS.InsecureSkipVerify = fc.InsecureSkipVerify
	cfg.TLS.ServerName = fc.ServerName

	if fc.ConnectionIDLength > 0 {
		cfg.Transport.ConnectionIDLength = fc.ConnectionIDLength
	}
	if fc.ActiveConnectionIDLimit > 0 {
		cfg.Transport.ActiveConnectionIDLimit = fc.ActiveConnectionIDLimit
	}
	if fc.InitialMaxStreamsBidi > 0 {
		cfg.Transport.InitialMaxStreamsBidi = fc.InitialMaxStreamsBidi
	}
	if fc.InitialMaxStreamsUni > 0 {
		cfg.Transport.InitialMaxStreamsUni = fc.InitialMaxStreamsUni
	}
	if fc.InitialMaxStreamData > 0 {
		cfg.Transport.InitialMaxStreamData = fc.InitialMaxStreamData
	}
	if fc.InitialCongestionWindow > 0 {
		cfg.Transport.InitialCongestionWindow = fc.InitialCongestionWindow
	}
	if fc.MaxCongestionWindow > 0 {
		cfg.Transport.MaxCongestionWindow = fc.MaxCongestionWindow
	}
	cfg.MaxConnsPerHost = fc.MaxConnsPerHost
	return cfg, nil
}
