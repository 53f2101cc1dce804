// Package tagstate implements the tag/region state machine (spec section
// 4.3): the active-tag list per thread, TagInstance lifecycle, task/
// container parentage, and the gating flags that tell the consumer
// whether to process calls and accesses.
package tagstate

import "github.com/tracecore/tracecore/internal/model"

// Index is the static lookup table from TagInstructionID to the Tag and
// side it binds, built once from the parsed source config and shared
// read-only by every thread's Machine.
type Index struct {
	tags         map[model.TagID]model.Tag
	instructions map[model.TagInstructionID]model.TagInstruction
}

// NewIndex returns an empty Index.
func NewIndex() *Index {
	return &Index{
		tags:         make(map[model.TagID]model.Tag),
		instructions: make(map[model.TagInstructionID]model.TagInstruction),
	}
}

// AddTag registers a Tag definition.
func (idx *Index) AddTag(tag model.Tag) {
	idx.tags[tag.ID] = tag
}

// AddInstruction registers a TagInstruction binding.
func (idx *Index) AddInstruction(ti model.TagInstruction) {
	idx.instructions[ti.ID] = ti
}

// Lookup resolves a TagInstructionID to its Tag and Start/Stop side. It
// reports false when the instruction id is unknown, which the caller must
// treat as corruption (spec section 7: "unknown discriminator" class of
// invariant violation extends to unknown tag-instruction references).
func (idx *Index) Lookup(tiID model.TagInstructionID) (model.Tag, model.InstructionSide, bool) {
	instr, ok := idx.instructions[tiID]
	if !ok {
		return model.Tag{}, 0, false
	}

	tag, ok := idx.tags[instr.TagID]
	if !ok {
		return model.Tag{}, 0, false
	}

	return tag, instr.Side, true
}
