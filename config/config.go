package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/holiman/uint256"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"nhbbridge/crypto"
	"nhbbridge/native/bridge"
	"nhbbridge/native/bridge/committee"
	"nhbbridge/native/bridge/decimals"
	"nhbbridge/native/bridge/quorum"
	"nhbbridge/storage"
)

type Config struct {
	ChainID            uint8  `toml:"ChainID" yaml:"chain_id"`
	Environment        string `toml:"Environment" yaml:"environment"`
	DataDir            string `toml:"DataDir" yaml:"data_dir"`
	Storage            string `toml:"Storage" yaml:"storage"`
	ListenAddress      string `toml:"ListenAddress" yaml:"listen"`
	SignerKeystorePath string `toml:"SignerKeystorePath,omitempty" yaml:"signer_keystore"`

	Committee  []CommitteeMember `toml:"Committee" yaml:"committee"`
	Assets     []Asset           `toml:"Assets" yaml:"assets"`
	Thresholds Thresholds        `toml:"Thresholds" yaml:"thresholds"`
	Limiter    Limiter           `toml:"Limiter" yaml:"limiter"`
	RPC        RPC               `toml:"RPC" yaml:"rpc"`
	Telemetry  Telemetry         `toml:"Telemetry" yaml:"telemetry"`
	Logging    Logging           `toml:"Logging" yaml:"logging"`
}

// Load loads the configuration from the given path. Files ending in .yaml or
// .yml are decoded as YAML, anything else as TOML. A missing TOML file is
// replaced by a single-signer development configuration.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	_, statErr := os.Stat(path)
	if isYAML(path) {
		if statErr != nil {
			return nil, fmt.Errorf("open config: %w", statErr)
		}
		if err := decodeYAML(path, cfg); err != nil {
			return nil, err
		}
	} else {
		if os.IsNotExist(statErr) {
			return createDefault(path)
		}
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, err
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config file %s has unknown field %s", path, undecoded[0].String())
		}
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func decodeYAML(path string, cfg *Config) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

func (c *Config) normalize() {
	c.Environment = strings.TrimSpace(c.Environment)
	c.DataDir = strings.TrimSpace(c.DataDir)
	if c.DataDir == "" {
		c.DataDir = "./bridge-data"
	}
	c.Storage = strings.ToLower(strings.TrimSpace(c.Storage))
	if c.Storage == "" {
		c.Storage = storage.BackendLevelDB
	}
	c.ListenAddress = strings.TrimSpace(c.ListenAddress)
	if c.ListenAddress == "" {
		c.ListenAddress = ":8090"
	}
	defaults := quorum.DefaultPolicy()
	fill := func(v *uint64, d uint64) {
		if *v == 0 {
			*v = d
		}
	}
	fill(&c.Thresholds.TokenTransfer, defaults.TokenTransfer)
	fill(&c.Thresholds.Blocklist, defaults.Blocklist)
	fill(&c.Thresholds.UpdateLimit, defaults.UpdateLimit)
	fill(&c.Thresholds.EmergencyPause, defaults.EmergencyPause)
	fill(&c.Thresholds.EmergencyUnpause, defaults.EmergencyUnpause)
	if c.Limiter.WindowSeconds == 0 {
		c.Limiter.WindowSeconds = 86_400
	}
	if c.RPC.RequestsPerMinute == 0 {
		c.RPC.RequestsPerMinute = 120
	}
	if c.RPC.Burst == 0 {
		c.RPC.Burst = 20
	}
	if c.RPC.ReadHeaderTimeoutSeconds == 0 {
		c.RPC.ReadHeaderTimeoutSeconds = 5
	}
	c.Telemetry.Endpoint = strings.TrimSpace(c.Telemetry.Endpoint)
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	for i := range c.Assets {
		c.Assets[i].Symbol = norm.NFKC.String(strings.ToUpper(strings.TrimSpace(c.Assets[i].Symbol)))
	}
}

// Policy returns the quorum thresholds.
func (c *Config) Policy() quorum.Policy {
	return quorum.Policy{
		TokenTransfer:    c.Thresholds.TokenTransfer,
		Blocklist:        c.Thresholds.Blocklist,
		UpdateLimit:      c.Thresholds.UpdateLimit,
		EmergencyPause:   c.Thresholds.EmergencyPause,
		EmergencyUnpause: c.Thresholds.EmergencyUnpause,
	}
}

// AssetTable builds the decimals table for the configured assets.
func (c *Config) AssetTable() (*decimals.Table, error) {
	assets := make([]decimals.Asset, len(c.Assets))
	for i, a := range c.Assets {
		assets[i] = decimals.Asset{
			ID:              a.ID,
			Symbol:          a.Symbol,
			NativeDecimals:  a.NativeDecimals,
			ForeignDecimals: a.ForeignDecimals,
		}
	}
	return decimals.NewTable(assets)
}

// Genesis converts the committee and asset limits into the engine's one-time
// setup.
func (c *Config) Genesis() (bridge.Genesis, error) {
	var genesis bridge.Genesis
	for i, m := range c.Committee {
		addr, err := crypto.ParseAddress(m.Address)
		if err != nil {
			return bridge.Genesis{}, fmt.Errorf("committee[%d]: %w", i, err)
		}
		genesis.Members = append(genesis.Members, committee.Member{Address: addr, Stake: m.Stake})
	}
	for _, a := range c.Assets {
		if a.WindowLimit > 0 {
			genesis.Limits = append(genesis.Limits, bridge.AssetLimit{AssetID: a.ID, Limit: a.WindowLimit})
		}
	}
	return genesis, nil
}

// Custody returns the genesis custody per asset, skipping assets without one.
func (c *Config) Custody() (map[uint8]*uint256.Int, error) {
	out := make(map[uint8]*uint256.Int)
	for _, a := range c.Assets {
		raw := strings.TrimSpace(a.InitialCustody)
		if raw == "" {
			continue
		}
		amount, err := uint256.FromDecimal(raw)
		if err != nil {
			return nil, fmt.Errorf("assets: %d initial custody: %w", a.ID, err)
		}
		out[a.ID] = amount
	}
	return out, nil
}

// createDefault writes a development configuration with a single signer that
// holds the whole stake. The signer key is stored unencrypted next to the
// config.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, err
	}
	keystorePath := defaultKeystorePath(path)
	addr, err := crypto.SaveToKeystore(keystorePath, key, "")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		ChainID:            1,
		Environment:        "dev",
		DataDir:            "./bridge-data",
		Storage:            storage.BackendLevelDB,
		ListenAddress:      ":8090",
		SignerKeystorePath: keystorePath,
		Committee:          []CommitteeMember{{Address: crypto.FormatAddress(addr), Stake: committee.TotalStake}},
		Assets: []Asset{{
			ID:              1,
			Symbol:          "NHB",
			NativeDecimals:  18,
			ForeignDecimals: 9,
		}},
	}
	cfg.normalize()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	return filepath.Join(filepath.Dir(configPath), "signer.keystore")
}
