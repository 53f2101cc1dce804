package config

import (
	"fmt"
	"regexp"

	"github.com/spf13/viper"
)

// MatchRules is one include/exclude regex pair. A candidate matches the
// rule set when it matches at least one Include pattern (or Include is
// empty) and matches none of the Exclude patterns.
type MatchRules struct {
	Include []string `mapstructure:"include"`
	Exclude []string `mapstructure:"exclude"`
}

// FilterConfig is the decoded shape of the address-filter YAML file: gates
// applied at symbol-resolution time, independent of the tag-driven gate,
// deciding whether a resolved image/file/function is materialized at all.
type FilterConfig struct {
	Image    MatchRules `mapstructure:"image"`
	File     MatchRules `mapstructure:"file"`
	Function MatchRules `mapstructure:"function"`
}

// LoadFilterConfig reads and compiles the filter config at path. An empty
// path yields an always-allow FilterConfig, since filtering is optional.
func LoadFilterConfig(path string) (*FilterConfig, error) {
	if path == "" {
		return &FilterConfig{}, nil
	}

	viperCfg := viper.New()
	viperCfg.SetConfigFile(path)

	if err := viperCfg.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read filter config: %w", err)
	}

	var cfg FilterConfig

	if err := viperCfg.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal filter config: %w", err)
	}

	if _, err := cfg.Compile(); err != nil {
		return nil, fmt.Errorf("compile filter config: %w", err)
	}

	return &cfg, nil
}

// CompiledRules holds pre-compiled regexes for one MatchRules.
type CompiledRules struct {
	include []*regexp.Regexp
	exclude []*regexp.Regexp
}

// Matches reports whether candidate passes this rule set.
func (r CompiledRules) Matches(candidate string) bool {
	for _, re := range r.exclude {
		if re.MatchString(candidate) {
			return false
		}
	}

	if len(r.include) == 0 {
		return true
	}

	for _, re := range r.include {
		if re.MatchString(candidate) {
			return true
		}
	}

	return false
}

// Set is the compiled, query-ready form of a FilterConfig.
type Set struct {
	Image    CompiledRules
	File     CompiledRules
	Function CompiledRules
}

// Compile pre-compiles every regex in cfg, returning the first compilation
// error encountered.
func (cfg *FilterConfig) Compile() (Set, error) {
	image, err := compileRules(cfg.Image)
	if err != nil {
		return Set{}, fmt.Errorf("image rules: %w", err)
	}

	file, err := compileRules(cfg.File)
	if err != nil {
		return Set{}, fmt.Errorf("file rules: %w", err)
	}

	function, err := compileRules(cfg.Function)
	if err != nil {
		return Set{}, fmt.Errorf("function rules: %w", err)
	}

	return Set{Image: image, File: file, Function: function}, nil
}

func compileRules(rules MatchRules) (CompiledRules, error) {
	compiled := CompiledRules{
		include: make([]*regexp.Regexp, 0, len(rules.Include)),
		exclude: make([]*regexp.Regexp, 0, len(rules.Exclude)),
	}

	for _, pattern := range rules.Include {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return CompiledRules{}, fmt.Errorf("include %q: %w", pattern, err)
		}

		compiled.include = append(compiled.include, re)
	}

	for _, pattern := range rules.Exclude {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return CompiledRules{}, fmt.Errorf("exclude %q: %w", pattern, err)
		}

		compiled.exclude = append(compiled.exclude, re)
	}

	return compiled, nil
}

// AllowImage reports whether image passes the configured image rules.
func (s Set) AllowImage(image string) bool { return s.Image.Matches(image) }

// AllowFile reports whether file passes the configured file rules.
func (s Set) AllowFile(file string) bool { return s.File.Matches(file) }

// AllowFunction reports whether function passes the configured function rules.
func (s Set) AllowFunction(function string) bool { return s.Function.Matches(function) }
