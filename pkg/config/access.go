package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// AccessOperandDef declares one statically-known operand of a MemRef's
// access-details handle: its size and read/write direction.
type AccessOperandDef struct {
	Size    uint32 `mapstructure:"size"`
	IsRead  bool   `mapstructure:"isRead"`
	IsWrite bool   `mapstructure:"isWrite"`
}

// AccessEntry binds one access-details handle (as carried by a MemRef
// record) to the source location and operand list the front-end's
// address table would otherwise resolve.
type AccessEntry struct {
	Handle   uint64             `mapstructure:"handle"`
	Location string             `mapstructure:"location"`
	Operands []AccessOperandDef `mapstructure:"operands"`
}

// AccessConfig is the decoded shape of the optional access-table YAML
// file standing in for the front-end's address-instrumentation
// interface (spec section 6): the core does not scan code to discover
// which addresses emit MemRef details, it is told.
type AccessConfig struct {
	Accesses []AccessEntry `mapstructure:"accesses"`
}

// LoadAccessConfig reads the access table at path. An empty path yields
// an empty table: any MemRef handle then fails to resolve, which is
// correct for traces that carry no MemRef records.
func LoadAccessConfig(path string) (*AccessConfig, error) {
	if path == "" {
		return &AccessConfig{}, nil
	}

	viperCfg := viper.New()
	viperCfg.SetConfigFile(path)

	if err := viperCfg.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read access table: %w", err)
	}

	var cfg AccessConfig

	if err := viperCfg.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal access table: %w", err)
	}

	return &cfg, nil
}
