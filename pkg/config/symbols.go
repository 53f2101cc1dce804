package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// SymbolDef declares one function the instrumented binary's front-end may
// reference by FunctionID. Functions are assigned ids by position (1-indexed),
// matching the front-end's own interning order, since the wire format
// carries only the bare integer.
type SymbolDef struct {
	Image     string `mapstructure:"image"`
	File      string `mapstructure:"file"`
	Prototype string `mapstructure:"function"`
	Line      int32  `mapstructure:"line"`
	Column    int32  `mapstructure:"column"`
}

// SymbolConfig is the decoded shape of the optional symbol-table YAML
// file: the image/file/function a trace's FunctionID values resolve to,
// consulted both to materialize Function/File/Image rows up front and to
// apply the address-filter config at symbol-resolution time.
type SymbolConfig struct {
	Symbols []SymbolDef `mapstructure:"symbols"`
}

// LoadSymbolConfig reads the symbol table at path. An empty path yields
// an empty table: filtering and tag-instruction location binding then
// have nothing to match against and default to allow-everything.
func LoadSymbolConfig(path string) (*SymbolConfig, error) {
	if path == "" {
		return &SymbolConfig{}, nil
	}

	viperCfg := viper.New()
	viperCfg.SetConfigFile(path)

	if err := viperCfg.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read symbol config: %w", err)
	}

	var cfg SymbolConfig

	if err := viperCfg.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal symbol config: %w", err)
	}

	return &cfg, nil
}
