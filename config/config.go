package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"notary/oid"
	"notary/principal"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

var log = logrus.New()

// Duration is a time.Duration written as a Go duration string ("30s").
type Duration time.Duration

func (d Duration) D() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	*d = Duration(parsed)
	return nil
}

// Config is the configuration of a notary node and of a mirror. Files ending
// in .yaml or .yml are YAML, anything else is JSON.
type Config struct {
	// Default config file location
	configFile string

	Node struct {
		NodeID *oid.Oid               `json:"id" yaml:"id"`
		Admins []principal.Principal `json:"admins" yaml:"admins"` // Made admins on every start
	} `json:"node" yaml:"node"`

	Network struct {
		RPCListenAddress       string  `json:"rpc_listen" yaml:"rpc_listen"`
		RpcAdvertizedAddress   string  `json:"rpc_advertized" yaml:"rpc_advertized"`
		GatewayListenAddress   string  `json:"gateway_listen" yaml:"gateway_listen"` // Empty disables the HTTP gateway
		GatewayRateLimit       float64 `json:"gateway_rate_limit" yaml:"gateway_rate_limit"`
		GatewayBurst           int     `json:"gateway_burst" yaml:"gateway_burst"`
		PubSubMulticastAddress string  `json:"pubsub_multicast" yaml:"pubsub_multicast"` // Empty disables announcements
		PubSubInterface        string  `json:"pubsub_interface" yaml:"pubsub_interface"`
	} `json:"network" yaml:"network"`

	DataStore struct {
		AssetIndexPath  string `json:"asset_index" yaml:"asset_index"`
		RecordIndexPath string `json:"record_index" yaml:"record_index"`
		GrantIndexPath  string `json:"grant_index" yaml:"grant_index"`
		BlockStorePath  string `json:"blocks" yaml:"blocks"`
		NodeIndexPath   string `json:"node_index" yaml:"node_index"`
		LinkIndexPath   string `json:"link_index" yaml:"link_index"`
	} `json:"datastore" yaml:"datastore"`

	Upload struct {
		BatchTTL      Duration `json:"batch_ttl" yaml:"batch_ttl"`
		MaxBatches    int      `json:"max_batches" yaml:"max_batches"`
		MaxBatchBytes int      `json:"max_batch_bytes" yaml:"max_batch_bytes"`
		MaxChunkSize  int      `json:"max_chunk_size" yaml:"max_chunk_size"`
	} `json:"upload" yaml:"upload"`

	Notary struct {
		ClaimTTL             Duration `json:"claim_ttl" yaml:"claim_ttl"`
		MaxSearchResults     int      `json:"max_search_results" yaml:"max_search_results"`
		MaxDescriptionLength int      `json:"max_description_length" yaml:"max_description_length"`
		MaxDatumSize         int      `json:"max_datum_size" yaml:"max_datum_size"`
	} `json:"notary" yaml:"notary"`

	Timers struct {
		AnnounceInterval Duration `json:"announce" yaml:"announce"`
		ReapInterval     Duration `json:"reap" yaml:"reap"`
	} `json:"timers" yaml:"timers"`

	Mirror struct {
		Upstream         string   `json:"upstream" yaml:"upstream"` // Notary RPC address
		ListenAddress    string   `json:"listen" yaml:"listen"`
		NotaryURL        string   `json:"notary_url" yaml:"notary_url"`
		RedirectTemplate string   `json:"redirect_template" yaml:"redirect_template"`
		PollInterval     Duration `json:"poll" yaml:"poll"`
		ClockSkew        Duration `json:"clock_skew" yaml:"clock_skew"`
	} `json:"mirror" yaml:"mirror"`
}

// NewEmptyConfig generates a new configuration with default settings. The
// node id is left unset; init fills it in.
func NewEmptyConfig(configFile string) *Config {
	cfg := &Config{}

	cfg.configFile = configFile

	cfg.Network.RPCListenAddress = "0.0.0.0:5001"
	cfg.Network.GatewayListenAddress = "0.0.0.0:8080"
	cfg.Network.GatewayRateLimit = 50
	cfg.Network.GatewayBurst = 100
	cfg.Network.PubSubMulticastAddress = "239.0.0.1:9999"

	cfg.DataStore.AssetIndexPath = "/tmp/notary/assets"
	cfg.DataStore.RecordIndexPath = "/tmp/notary/records"
	cfg.DataStore.GrantIndexPath = "/tmp/notary/grants"
	cfg.DataStore.BlockStorePath = "/tmp/notary/blocks"
	cfg.DataStore.NodeIndexPath = "/tmp/notary/nodes"
	cfg.DataStore.LinkIndexPath = "/tmp/notary/links"

	cfg.Upload.BatchTTL = Duration(5 * time.Minute)
	cfg.Upload.MaxBatches = 1024
	cfg.Upload.MaxBatchBytes = 64 << 20
	cfg.Upload.MaxChunkSize = 1900 << 10

	cfg.Notary.ClaimTTL = Duration(365 * 24 * time.Hour)
	cfg.Notary.MaxSearchResults = 20
	cfg.Notary.MaxDescriptionLength = 200
	cfg.Notary.MaxDatumSize = 2 << 20

	cfg.Timers.AnnounceInterval = Duration(5 * time.Second)
	cfg.Timers.ReapInterval = Duration(time.Minute)

	cfg.Mirror.Upstream = "127.0.0.1:5001"
	cfg.Mirror.ListenAddress = "127.0.0.1:3100"
	cfg.Mirror.RedirectTemplate = "https://{}.ic0.app"
	cfg.Mirror.PollInterval = Duration(30 * time.Second)
	cfg.Mirror.ClockSkew = Duration(10 * time.Second)

	return cfg
}

func NewConfigFromFile(configFile string) (*Config, error) {
	cfg := NewEmptyConfig(configFile)
	if err := cfg.Load(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) isYAML() bool {
	ext := strings.ToLower(filepath.Ext(c.configFile))
	return ext == ".yaml" || ext == ".yml"
}

// Save saves the configuration to a file
func (c *Config) Save() error {
	log.Infof("Saving config to %s", c.configFile)

	var data []byte
	var err error
	if c.isYAML() {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return err
	}
	return os.WriteFile(c.configFile, data, 0644)
}

// Load reads the file over the current values, so settings missing from
// the file keep their defaults.
func (c *Config) Load() error {
	log.Infof("Loading config from %s", c.configFile)
	data, err := os.ReadFile(c.configFile)
	if err != nil {
		return err
	}

	if c.isYAML() {
		err = yaml.Unmarshal(data, c)
	} else {
		err = json.Unmarshal(data, c)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", c.configFile, err)
	}

	return c.Validate()
}

func (c *Config) Validate() error {
	for _, p := range c.Node.Admins {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("admin %q: %w", string(p), err)
		}
	}
	if c.Upload.MaxChunkSize < 0 || c.Upload.MaxBatches < 0 || c.Upload.MaxBatchBytes < 0 {
		return fmt.Errorf("upload limits must not be negative")
	}
	return nil
}

// File returns the path the config was loaded from.
func (c *Config) File() string {
	return c.configFile
}
