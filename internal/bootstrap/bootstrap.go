// Package bootstrap translates the tag-source, address-filter,
// symbol-table, and access-table YAML config into the Sink rows and in-memory tagstate.Index
// the ingest run needs before the first record is consumed.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/tracecore/tracecore/internal/model"
	"github.com/tracecore/tracecore/internal/record"
	"github.com/tracecore/tracecore/internal/tagstate"
	"github.com/tracecore/tracecore/internal/writer"
	"github.com/tracecore/tracecore/pkg/config"
)

// errUnknownAccessHandle is returned when a MemRef carries a handle the
// access table never declared.
var errUnknownAccessHandle = errors.New("bootstrap: unknown access handle")

// Result is everything the manager needs once config has been compiled
// and its corresponding rows written to the sink.
type Result struct {
	Index         *tagstate.Index
	Flags         config.Flags
	RecordTagHits bool
	Ignore        []config.IgnoreEntry
	AllowFunction func(model.FunctionID) bool

	// IgnoreAccess gates MemRef handling at specific call sites within a
	// function, independent of AllowFunction and the tag-driven gate; it
	// implements the per-function instruction-offset ignore list (source
	// section 9's supplemented ignore feature).
	IgnoreAccess func(functionID model.FunctionID, line int32) bool

	// ResolveAccess resolves a MemRef's access-details handle, standing
	// in for the front-end's address table; pass it to record.Decode.
	ResolveAccess func(handle uint64) (record.AccessDetails, error)
}

// symbol is one resolved entry from the symbol table, keyed by the
// FunctionID the front-end will reference.
type symbol struct {
	image, file, prototype string
	line                   int32
}

// Load reads the four config files, materializes Tag/TagInstruction/
// Image/File/Function/SourceLocation rows into sink, and returns the
// compiled Index plus the filter gate the manager applies per
// CallEnter.
func Load(ctx context.Context, sink writer.Sink, sourcePath, filterPath, symbolPath, accessPath string) (*Result, error) {
	sourceCfg, err := config.LoadSourceConfig(sourcePath)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	filterCfg, err := config.LoadFilterConfig(filterPath)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	filterSet, err := filterCfg.Compile()
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	symbolCfg, err := config.LoadSymbolConfig(symbolPath)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	symbols, err := loadSymbols(ctx, sink, symbolCfg)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	idx := tagstate.NewIndex()

	tagIDs, err := loadTags(ctx, sink, idx, sourceCfg.Tags)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	if err := loadTagInstructions(ctx, sink, idx, sourceCfg.TagInstructions, tagIDs, symbols); err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	accessCfg, err := config.LoadAccessConfig(accessPath)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	resolveAccess, err := buildAccessResolver(ctx, sink, accessCfg, symbols)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	return &Result{
		Index:         idx,
		Flags:         sourceCfg.Flags,
		RecordTagHits: sourceCfg.RecordTagHits,
		Ignore:        sourceCfg.Ignore,
		AllowFunction: allowFunction(filterSet, symbols),
		IgnoreAccess:  ignoreAccess(sourceCfg.Ignore, symbols),
		ResolveAccess: resolveAccess,
	}, nil
}

// ignoreAccess builds the per-call-site MemRef suppression gate: an entry
// names a function by prototype and a line delta from that function's
// declared line, the closest available stand-in for the original tool's
// instruction-pointer-offset ignore list at this model's line/column
// granularity.
func ignoreAccess(entries []config.IgnoreEntry, symbols map[model.FunctionID]symbol) func(model.FunctionID, int32) bool {
	if len(entries) == 0 {
		return func(model.FunctionID, int32) bool { return false }
	}

	type target struct {
		prototype string
		line      int32
	}

	targets := make([]target, 0, len(entries))
	for _, e := range entries {
		targets = append(targets, target{prototype: e.Function, line: int32(e.Delta)})
	}

	return func(id model.FunctionID, line int32) bool {
		sym, ok := symbols[id]
		if !ok {
			return false
		}

		for _, t := range targets {
			if t.prototype == sym.prototype && sym.line+t.line == line {
				return true
			}
		}

		return false
	}
}

// buildAccessResolver materializes the SourceLocation every access-table
// entry names and returns the closure record.Decode calls per MemRef
// handle.
func buildAccessResolver(
	ctx context.Context,
	sink writer.Sink,
	cfg *config.AccessConfig,
	symbols map[model.FunctionID]symbol,
) (func(uint64) (record.AccessDetails, error), error) {
	resolved := make(map[uint64]record.AccessDetails, len(cfg.Accesses))

	for _, entry := range cfg.Accesses {
		locID, err := resolveAndInsertLocation(ctx, sink, entry.Location, symbols)
		if err != nil {
			return nil, fmt.Errorf("access handle %d: %w", entry.Handle, err)
		}

		operands := make([]record.AccessOperand, 0, len(entry.Operands))
		for _, op := range entry.Operands {
			operands = append(operands, record.AccessOperand{
				Size:     op.Size,
				IsRead:   op.IsRead,
				IsWrite:  op.IsWrite,
				Location: locID,
			})
		}

		resolved[entry.Handle] = record.AccessDetails{Operands: operands, Location: locID}
	}

	return func(handle uint64) (record.AccessDetails, error) {
		details, ok := resolved[handle]
		if !ok {
			return record.AccessDetails{}, fmt.Errorf("%w: %d", errUnknownAccessHandle, handle)
		}

		return details, nil
	}, nil
}

// loadSymbols materializes every declared function (interning its image
// and file first) and returns the id-indexed table the filter gate and
// tag-instruction location resolver both consult.
func loadSymbols(ctx context.Context, sink writer.Sink, cfg *config.SymbolConfig) (map[model.FunctionID]symbol, error) {
	out := make(map[model.FunctionID]symbol, len(cfg.Symbols))
	imageIDs := make(map[string]model.ImageID)
	fileIDs := make(map[string]model.FileID)

	for i, def := range cfg.Symbols {
		imageID, ok := imageIDs[def.Image]
		if !ok {
			id, err := internFunctionImage(ctx, sink, def.Image)
			if err != nil {
				return nil, err
			}

			imageID = id
			imageIDs[def.Image] = imageID
		}

		fileKey := def.Image + "\x00" + def.File

		fileID, ok := fileIDs[fileKey]
		if !ok {
			id, err := sink.InsertFile(ctx, imageID, def.File)
			if err != nil {
				return nil, fmt.Errorf("insert file %q: %w", def.File, err)
			}

			fileID = id
			fileIDs[fileKey] = fileID
		}

		functionID, err := sink.InsertFunction(ctx, imageID, fileID, def.Prototype, def.Line, def.Column)
		if err != nil {
			return nil, fmt.Errorf("insert function %q: %w", def.Prototype, err)
		}

		// Position-based FunctionID assignment mirrors the front-end's
		// own interning order when the Sink's allocated id and the
		// front-end's wire id diverge (e.g. a fresh SQLite file); the
		// (i+1) id is what CallEnter/Ret records actually carry.
		out[model.FunctionID(i+1)] = symbol{image: def.Image, file: def.File, prototype: def.Prototype, line: def.Line}

		_ = functionID
	}

	return out, nil
}

func internFunctionImage(ctx context.Context, sink writer.Sink, name string) (model.ImageID, error) {
	if id, ok, err := sink.GetImageIDByName(ctx, name); err != nil {
		return 0, fmt.Errorf("lookup image %q: %w", name, err)
	} else if ok {
		return id, nil
	}

	id, err := sink.InsertImage(ctx, name)
	if err != nil {
		return 0, fmt.Errorf("insert image %q: %w", name, err)
	}

	return id, nil
}

// loadTags assigns sequential 1-indexed TagIDs (position 0 is reserved),
// writes each Tag row, and returns the name-to-id map
// loadTagInstructions needs to resolve its "tag:" references.
func loadTags(ctx context.Context, sink writer.Sink, idx *tagstate.Index, defs []config.TagDef) (map[string]model.TagID, error) {
	ids := make(map[string]model.TagID, len(defs))

	for i, def := range defs {
		kind, err := tagKind(def.Type)
		if err != nil {
			return nil, err
		}

		tag := model.Tag{ID: model.TagID(i + 1), Name: def.Name, Kind: kind}

		if err := sink.InsertTag(ctx, tag); err != nil {
			return nil, fmt.Errorf("insert tag %q: %w", def.Name, err)
		}

		idx.AddTag(tag)
		ids[def.Name] = tag.ID
	}

	return ids, nil
}

func loadTagInstructions(
	ctx context.Context,
	sink writer.Sink,
	idx *tagstate.Index,
	defs []config.TagInstructionDef,
	tagIDs map[string]model.TagID,
	symbols map[model.FunctionID]symbol,
) error {
	for i, def := range defs {
		locID, err := resolveAndInsertLocation(ctx, sink, def.Location, symbols)
		if err != nil {
			return fmt.Errorf("tag instruction %d: %w", i, err)
		}

		side := model.SideStart
		if def.Type == config.InstructionStop {
			side = model.SideStop
		}

		ti := model.TagInstruction{
			ID:         model.TagInstructionID(i + 1),
			TagID:      tagIDs[def.Tag],
			LocationID: locID,
			Side:       side,
		}

		if err := sink.InsertTagInstruction(ctx, ti); err != nil {
			return fmt.Errorf("insert tag instruction: %w", err)
		}

		idx.AddInstruction(ti)
	}

	return nil
}

// resolveAndInsertLocation parses a "file:line" location string and
// resolves it to the nearest function declared at or before that line
// in the same file, per the symbol table; a location with no matching
// function still inserts a SourceLocation (FunctionID 0), since the tag
// machine only keys instructions by TagInstructionID, not by the
// location's function.
func resolveAndInsertLocation(ctx context.Context, sink writer.Sink, location string, symbols map[model.FunctionID]symbol) (model.SourceLocationID, error) {
	file, lineStr, ok := strings.Cut(location, ":")
	if !ok {
		return 0, fmt.Errorf("location %q: expected file:line", location)
	}

	line, err := strconv.ParseInt(lineStr, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("location %q: invalid line: %w", location, err)
	}

	functionID := nearestFunction(symbols, file, int32(line))

	id, err := sink.InsertSourceLocation(ctx, model.SourceLocation{Function: functionID, Line: int32(line)})
	if err != nil {
		return 0, fmt.Errorf("insert source location: %w", err)
	}

	return id, nil
}

// nearestFunction returns the highest-line function declared in file at
// or before targetLine, the closest approximation to "the function
// containing this line" available without full debug-info ranges.
func nearestFunction(symbols map[model.FunctionID]symbol, file string, targetLine int32) model.FunctionID {
	var (
		best    model.FunctionID
		bestLn  int32 = -1
		matched bool
	)

	for id, sym := range symbols {
		if sym.file != file || sym.line > targetLine {
			continue
		}

		if !matched || sym.line > bestLn {
			best, bestLn, matched = id, sym.line, true
		}
	}

	return best
}

// allowFunction builds the CallEnter-time filter gate: a function with
// no symbol table entry is always allowed, since there is nothing to
// match its image/file/prototype against.
func allowFunction(set config.Set, symbols map[model.FunctionID]symbol) func(model.FunctionID) bool {
	return func(id model.FunctionID) bool {
		sym, ok := symbols[id]
		if !ok {
			return true
		}

		return set.AllowImage(sym.image) && set.AllowFile(sym.file) && set.AllowFunction(sym.prototype)
	}
}

func tagKind(t config.TagType) (model.TagKind, error) {
	switch t {
	case config.TagSimple:
		return model.TagKindSimple, nil
	case config.TagCounter:
		return model.TagKindCounter, nil
	case config.TagSection:
		return model.TagKindSection, nil
	case config.TagPipeline:
		return model.TagKindPipeline, nil
	case config.TagSectionTask:
		return model.TagKindSectionTask, nil
	case config.TagPipelineTask:
		return model.TagKindPipelineTask, nil
	case config.TagIgnoreAll:
		return model.TagKindIgnoreAll, nil
	case config.TagIgnoreCalls:
		return model.TagKindIgnoreCalls, nil
	case config.TagIgnoreAccesses:
		return model.TagKindIgnoreAccesses, nil
	case config.TagProcessAll:
		return model.TagKindProcessAll, nil
	case config.TagProcessCalls:
		return model.TagKindProcessCalls, nil
	case config.TagProcessAccesses:
		return model.TagKindProcessAccesses, nil
	default:
		return 0, fmt.Errorf("%w: %q", config.ErrUnknownTagType, t)
	}
}
