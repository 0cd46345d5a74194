package config

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"escrowd/crypto"
)

// GenesisAlloc seeds an account balance on the very first boot of a data
// directory. Ignored once the ledger is initialised.
type GenesisAlloc struct {
	Address string `toml:"Address"`
	Balance string `toml:"Balance"`
}

type Config struct {
	RPCAddress   string `toml:"RPCAddress"`
	DataDir      string `toml:"DataDir"`
	NetworkName  string `toml:"NetworkName"`
	FeeRecipient string `toml:"FeeRecipient"`
	Owner        string `toml:"Owner"`

	// LogFile enables rotating file logging when set; empty means stdout.
	LogFile       string `toml:"LogFile"`
	LogMaxSizeMB  int    `toml:"LogMaxSizeMB"`
	LogMaxBackups int    `toml:"LogMaxBackups"`
	LogMaxAgeDays int    `toml:"LogMaxAgeDays"`

	Genesis []GenesisAlloc `toml:"Genesis"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.RPCAddress) == "" {
		c.RPCAddress = "127.0.0.1:8645"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./escrowd-data"
	}
	if strings.TrimSpace(c.NetworkName) == "" {
		c.NetworkName = "escrow-local"
	}
	if c.LogMaxSizeMB <= 0 {
		c.LogMaxSizeMB = 100
	}
	if c.LogMaxBackups < 0 {
		c.LogMaxBackups = 0
	}
	if c.LogMaxAgeDays < 0 {
		c.LogMaxAgeDays = 0
	}
}

// Validate checks the address fields and genesis allocations.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.FeeRecipient) == "" {
		return fmt.Errorf("config: FeeRecipient is required")
	}
	if _, err := crypto.DecodeAddress(c.FeeRecipient); err != nil {
		return fmt.Errorf("config: invalid FeeRecipient: %w", err)
	}
	if strings.TrimSpace(c.Owner) == "" {
		return fmt.Errorf("config: Owner is required")
	}
	if _, err := crypto.DecodeAddress(c.Owner); err != nil {
		return fmt.Errorf("config: invalid Owner: %w", err)
	}
	for i, alloc := range c.Genesis {
		if _, err := crypto.DecodeAddress(alloc.Address); err != nil {
			return fmt.Errorf("config: genesis entry %d: %w", i, err)
		}
		if _, ok := new(big.Int).SetString(strings.TrimSpace(alloc.Balance), 10); !ok {
			return fmt.Errorf("config: genesis entry %d: invalid balance %q", i, alloc.Balance)
		}
	}
	return nil
}

// FeeRecipientAddress returns the decoded fee recipient.
func (c *Config) FeeRecipientAddress() (crypto.Address, error) {
	return crypto.DecodeAddress(c.FeeRecipient)
}

// OwnerAddress returns the decoded registry owner.
func (c *Config) OwnerAddress() (crypto.Address, error) {
	return crypto.DecodeAddress(c.Owner)
}

// GenesisAllocations returns the decoded genesis balances.
func (c *Config) GenesisAllocations() (map[[20]byte]*big.Int, error) {
	out := make(map[[20]byte]*big.Int, len(c.Genesis))
	for i, alloc := range c.Genesis {
		addr, err := crypto.DecodeAddress(alloc.Address)
		if err != nil {
			return nil, fmt.Errorf("config: genesis entry %d: %w", i, err)
		}
		balance, ok := new(big.Int).SetString(strings.TrimSpace(alloc.Balance), 10)
		if !ok {
			return nil, fmt.Errorf("config: genesis entry %d: invalid balance %q", i, alloc.Balance)
		}
		raw := addr.Raw()
		if existing, dup := out[raw]; dup {
			out[raw] = new(big.Int).Add(existing, balance)
			continue
		}
		out[raw] = balance
	}
	return out, nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return nil, err
	}
	// The default file still needs FeeRecipient and Owner filled in before
	// the daemon will start.
	return cfg, nil
}
