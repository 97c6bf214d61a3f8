package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config carries the process-wide settings for the escrow daemon. Fee fields
// configure the proportional payout fee; FeeAuthority is the privileged
// address allowed to change the policy at runtime.
type Config struct {
	RPCAddress      string           `toml:"RPCAddress"`
	DataDir         string           `toml:"DataDir"`
	VaultAddress    string           `toml:"VaultAddress"`
	FeeRate         uint64           `toml:"FeeRate"`
	FeeDenominator  uint64           `toml:"FeeDenominator"`
	FeeCollector    string           `toml:"FeeCollector"`
	FeeAuthority    string           `toml:"FeeAuthority"`
	GenesisAccounts []GenesisAccount `toml:"GenesisAccounts"`
}

// GenesisAccount seeds a ledger balance at startup. Asset is "NATIVE" or a
// token symbol; Amount is a decimal integer string.
type GenesisAccount struct {
	Address string `toml:"Address"`
	Asset   string `toml:"Asset"`
	Amount  string `toml:"Amount"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = defaultRPCAddress
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = defaultDataDir
	}
	if cfg.FeeDenominator == 0 {
		cfg.FeeDenominator = defaultFeeDenominator
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

const (
	defaultRPCAddress     = "127.0.0.1:8681"
	defaultDataDir        = "./escrowd-data"
	defaultFeeDenominator = 10_000
)

func createDefault(path string) (*Config, error) {
	cfg := &Config{
		RPCAddress:     defaultRPCAddress,
		DataDir:        defaultDataDir,
		FeeRate:        0,
		FeeDenominator: defaultFeeDenominator,
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that the engine would refuse at wiring time.
func (c *Config) Validate() error {
	if c.FeeDenominator == 0 {
		return fmt.Errorf("config: FeeDenominator must be positive")
	}
	if c.FeeRate >= c.FeeDenominator {
		return fmt.Errorf("config: FeeRate must be below FeeDenominator")
	}
	if c.FeeRate > 0 && strings.TrimSpace(c.FeeCollector) == "" {
		return fmt.Errorf("config: FeeCollector required for non-zero FeeRate")
	}
	for _, field := range []struct {
		name  string
		value string
	}{
		{"VaultAddress", c.VaultAddress},
		{"FeeCollector", c.FeeCollector},
		{"FeeAuthority", c.FeeAuthority},
	} {
		if strings.TrimSpace(field.value) == "" {
			continue
		}
		if _, err := ParseAddress(field.value); err != nil {
			return fmt.Errorf("config: %s: %w", field.name, err)
		}
	}
	for i, acct := range c.GenesisAccounts {
		if _, err := ParseAddress(acct.Address); err != nil {
			return fmt.Errorf("config: GenesisAccounts[%d]: %w", i, err)
		}
		if strings.TrimSpace(acct.Amount) == "" {
			return fmt.Errorf("config: GenesisAccounts[%d]: Amount required", i)
		}
	}
	return nil
}

// ParseAddress decodes a 20-byte hex address, accepting an optional 0x prefix.
func ParseAddress(value string) ([20]byte, error) {
	var addr [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return addr, fmt.Errorf("malformed address %q", value)
	}
	if len(raw) != len(addr) {
		return addr, fmt.Errorf("address %q must be %d bytes", value, len(addr))
	}
	copy(addr[:], raw)
	return addr, nil
}
