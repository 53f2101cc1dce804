// Package writer defines the abstract Writer sink (spec section 4.7/6):
// an append-only, transactional, thread-safe destination for every
// entity the core produces.
package writer

import (
	"context"

	"github.com/tracecore/tracecore/internal/model"
)

// Sink is the set of operations the core writes through. Implementations
// must serialize their own mutations and treat any returned error as
// fatal to the whole run — partial persisted state is acceptable, a
// silently dropped row is not.
//
// Entities with ids pre-allocated by the core (TagInstance, Call,
// Segment, Tag, TagInstruction, Thread, Reference — the reference map
// must embed an id into its own tree before the Sink ever sees the row)
// are inserted with their id already set; the Sink trusts and stores it.
// Entities the Sink itself allocates (Instruction, Access, Conflict,
// Image, File, Function, SourceLocation) return the assigned id.
// InsertReference still returns a model.ReferenceID for interface
// symmetry with the other Insert* methods, but callers can rely on it
// equaling the id they set on the passed-in Reference.
type Sink interface {
	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Close() error

	InsertImage(ctx context.Context, name string) (model.ImageID, error)
	InsertFile(ctx context.Context, imageID model.ImageID, path string) (model.FileID, error)
	InsertFunction(ctx context.Context, imageID model.ImageID, fileID model.FileID, prototype string, line, column int32) (model.FunctionID, error)
	InsertSourceLocation(ctx context.Context, loc model.SourceLocation) (model.SourceLocationID, error)

	InsertTag(ctx context.Context, tag model.Tag) error
	InsertTagInstruction(ctx context.Context, ti model.TagInstruction) error
	InsertTagInstance(ctx context.Context, inst model.TagInstance) error

	InsertThread(ctx context.Context, th model.Thread) error
	InsertCall(ctx context.Context, call model.Call) error
	InsertSegment(ctx context.Context, seg model.Segment) error
	InsertInstruction(ctx context.Context, instr model.Instruction) (model.InstructionID, error)

	InsertInstructionTagInstance(ctx context.Context, link model.InstructionTagInstance) error
	InsertCallTagInstance(ctx context.Context, link model.CallTagInstance) error

	InsertAccess(ctx context.Context, acc model.Access) (model.AccessID, error)
	InsertReference(ctx context.Context, ref model.Reference) (model.ReferenceID, error)
	InsertConflict(ctx context.Context, c model.Conflict) (model.ConflictID, error)
	InsertTagHit(ctx context.Context, tsc uint64, tagInstructionID model.TagInstructionID, threadID model.ThreadID) error

	GetFunctionIDByProperties(ctx context.Context, prototype string, imageID model.ImageID, file string, line int32) (model.FunctionID, bool, error)
	GetImageIDByName(ctx context.Context, name string) (model.ImageID, bool, error)
	GetSourceLocationByID(ctx context.Context, id model.SourceLocationID) (model.SourceLocation, bool, error)
}
