package config

// CommitteeMember is a signer identity, hex or bech32, and its stake in basis
// points.
type CommitteeMember struct {
	Address string `toml:"Address" yaml:"address"`
	Stake   uint64 `toml:"Stake" yaml:"stake"`
}

// Asset describes a bridged token.
type Asset struct {
	ID              uint8  `toml:"ID" yaml:"id"`
	Symbol          string `toml:"Symbol" yaml:"symbol"`
	NativeDecimals  uint8  `toml:"NativeDecimals" yaml:"native_decimals"`
	ForeignDecimals uint8  `toml:"ForeignDecimals" yaml:"foreign_decimals"`
	// WindowLimit caps settled volume per limiter window, in foreign units.
	// Zero leaves the asset uncapped.
	WindowLimit uint64 `toml:"WindowLimit" yaml:"window_limit"`
	// InitialCustody is a decimal amount in native units credited to the
	// vault at genesis.
	InitialCustody string `toml:"InitialCustody,omitempty" yaml:"initial_custody"`
}

// Thresholds are quorum requirements in basis points of total stake.
type Thresholds struct {
	TokenTransfer    uint64 `toml:"TokenTransfer" yaml:"token_transfer"`
	Blocklist        uint64 `toml:"Blocklist" yaml:"blocklist"`
	UpdateLimit      uint64 `toml:"UpdateLimit" yaml:"update_limit"`
	EmergencyPause   uint64 `toml:"EmergencyPause" yaml:"emergency_pause"`
	EmergencyUnpause uint64 `toml:"EmergencyUnpause" yaml:"emergency_unpause"`
}

// Limiter sizes the fixed volume windows.
type Limiter struct {
	WindowSeconds uint32 `toml:"WindowSeconds" yaml:"window_seconds"`
}

// RPC controls the HTTP surface.
type RPC struct {
	RequestsPerMinute        int `toml:"RequestsPerMinute" yaml:"requests_per_minute"`
	Burst                    int `toml:"Burst" yaml:"burst"`
	ReadHeaderTimeoutSeconds int `toml:"ReadHeaderTimeoutSeconds" yaml:"read_header_timeout_seconds"`
}

// Telemetry wires the OTLP exporters.
type Telemetry struct {
	Endpoint string `toml:"Endpoint" yaml:"endpoint"`
	Insecure bool   `toml:"Insecure" yaml:"insecure"`
	Traces   bool   `toml:"Traces" yaml:"traces"`
	Metrics  bool   `toml:"Metrics" yaml:"metrics"`
	// Headers uses the OTEL key=value,key=value form.
	Headers string `toml:"Headers,omitempty" yaml:"headers"`
}

// Logging controls the daemon's structured logs.
type Logging struct {
	Level     string `toml:"Level" yaml:"level"`
	File      string `toml:"File,omitempty" yaml:"file"`
	MaxSizeMB int    `toml:"MaxSizeMB,omitempty" yaml:"max_size_mb"`
}
