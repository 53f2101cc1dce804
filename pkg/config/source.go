// Package config loads the tag-source and address-filter configuration
// that drives tag gating and symbol-resolution filtering.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Sentinel validation errors.
var (
	ErrEmptyTagName      = errors.New("tag name must not be empty")
	ErrUnknownTagType    = errors.New("unknown tag type")
	ErrUnknownTagRefType = errors.New("tag instruction references unknown tag")
	ErrUnknownLocTagType = errors.New("tag instruction has invalid start/stop type")
	ErrEmptyLocationID   = errors.New("tag instruction location must not be empty")
	ErrEmptyIgnoreFunc   = errors.New("ignore entry must name a function")
	ErrDuplicateTagName  = errors.New("duplicate tag name")
)

// TagType enumerates the twelve tag kinds recognized by the tag/region
// state machine.
type TagType string

// Tag kinds. Simple/Counter/Section/Pipeline/SectionTask/PipelineTask open
// and close scoped regions; the Ignore*/Process* kinds toggle gating flags
// for as long as their region is open.
const (
	TagSimple          TagType = "simple"
	TagCounter         TagType = "counter"
	TagSection         TagType = "section"
	TagPipeline        TagType = "pipeline"
	TagSectionTask     TagType = "section_task"
	TagPipelineTask    TagType = "pipeline_task"
	TagIgnoreAll       TagType = "ignore_all"
	TagIgnoreCalls     TagType = "ignore_calls"
	TagIgnoreAccesses  TagType = "ignore_accesses"
	TagProcessAll      TagType = "process_all"
	TagProcessCalls    TagType = "process_calls"
	TagProcessAccesses TagType = "process_accesses"
)

func (t TagType) valid() bool {
	switch t {
	case TagSimple, TagCounter, TagSection, TagPipeline, TagSectionTask, TagPipelineTask,
		TagIgnoreAll, TagIgnoreCalls, TagIgnoreAccesses, TagProcessAll, TagProcessCalls, TagProcessAccesses:
		return true
	default:
		return false
	}
}

// InstructionType distinguishes the Start/Stop half of a TagInstruction.
type InstructionType string

const (
	// InstructionStart opens the tag's region when execution reaches the
	// bound source location.
	InstructionStart InstructionType = "start"

	// InstructionStop closes the tag's region.
	InstructionStop InstructionType = "stop"
)

func (t InstructionType) valid() bool {
	return t == InstructionStart || t == InstructionStop
}

// TagDef declares one tag by name and kind. TagDef.Name is 1-indexed by
// position when assigned a tag ID during load (position 0 is reserved).
type TagDef struct {
	Name string  `mapstructure:"name"`
	Type TagType `mapstructure:"type"`
}

// TagInstructionDef binds a tag to a source location, marking whether
// reaching that location starts or stops the tag's region.
type TagInstructionDef struct {
	Tag      string          `mapstructure:"tag"`
	Location string          `mapstructure:"location"`
	Type     InstructionType `mapstructure:"type"`
}

// Flags hold the default gating state applied before any Ignore*/Process*
// tag region overrides it.
type Flags struct {
	ProcessAccessesByDefault bool `mapstructure:"processAccessesByDefault"`
	ProcessCallsByDefault    bool `mapstructure:"processCallsByDefault"`
}

// IgnoreEntry suppresses MemRef handling at a specific instruction offset
// within a named function, independent of the tag-driven gate.
type IgnoreEntry struct {
	Function string `mapstructure:"function"`
	Delta    int    `mapstructure:"delta"`
}

// SourceConfig is the decoded shape of the tag-source YAML file: tag
// declarations, the source locations that start/stop them, default gating
// flags, and a per-function ignore list.
type SourceConfig struct {
	Tags            []TagDef            `mapstructure:"tags"`
	TagInstructions []TagInstructionDef `mapstructure:"tagInstructions"`
	Flags           Flags               `mapstructure:"flags"`
	Ignore          []IgnoreEntry       `mapstructure:"ignore"`
	RecordTagHits   bool                `mapstructure:"recordTagHits"`
}

// LoadSourceConfig reads and validates the tag-source config at path.
// An empty path is rejected: unlike the filter config, a source config with
// no tags is never a meaningful default for the ingest pipeline.
func LoadSourceConfig(path string) (*SourceConfig, error) {
	if path == "" {
		return nil, fmt.Errorf("load source config: %w", ErrEmptyLocationID)
	}

	viperCfg := viper.New()
	setSourceDefaults(viperCfg)

	viperCfg.SetConfigFile(path)
	viperCfg.SetEnvPrefix("TRACECORE_SOURCE")
	viperCfg.AutomaticEnv()
	viperCfg.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viperCfg.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read source config: %w", err)
	}

	var cfg SourceConfig

	if err := viperCfg.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal source config: %w", err)
	}

	if err := validateSourceConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid source config: %w", err)
	}

	return &cfg, nil
}

func setSourceDefaults(viperCfg *viper.Viper) {
	viperCfg.SetDefault("flags.processAccessesByDefault", false)
	viperCfg.SetDefault("flags.processCallsByDefault", false)
	viperCfg.SetDefault("recordTagHits", true)
}

func validateSourceConfig(cfg *SourceConfig) error {
	seen := make(map[string]struct{}, len(cfg.Tags))

	for _, tag := range cfg.Tags {
		if tag.Name == "" {
			return ErrEmptyTagName
		}

		if !tag.Type.valid() {
			return fmt.Errorf("%w: tag %q has type %q", ErrUnknownTagType, tag.Name, tag.Type)
		}

		if _, dup := seen[tag.Name]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicateTagName, tag.Name)
		}

		seen[tag.Name] = struct{}{}
	}

	for _, instr := range cfg.TagInstructions {
		if _, ok := seen[instr.Tag]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownTagRefType, instr.Tag)
		}

		if instr.Location == "" {
			return ErrEmptyLocationID
		}

		if !instr.Type.valid() {
			return fmt.Errorf("%w: %q at %q", ErrUnknownLocTagType, instr.Type, instr.Location)
		}
	}

	for _, ig := range cfg.Ignore {
		if ig.Function == "" {
			return ErrEmptyIgnoreFunc
		}
	}

	return nil
}
