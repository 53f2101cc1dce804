// Package memwriter is an in-memory writer.Sink used by component tests
// that need to assert on exactly what the core would have persisted,
// without paying for a SQLite round trip.
package memwriter

import (
	"context"
	"sync"

	"github.com/tracecore/tracecore/internal/model"
	"github.com/tracecore/tracecore/internal/writer"
)

// Writer accumulates every inserted row in memory. It is safe for
// concurrent use.
type Writer struct {
	mu sync.Mutex

	Began     bool
	Committed bool

	Images          []string
	Files           []FileRow
	Functions       []FunctionRow
	SourceLocations []model.SourceLocation
	Tags            []model.Tag
	TagInstructions []model.TagInstruction
	TagInstances    []model.TagInstance
	Threads         []model.Thread
	Calls           []model.Call
	Segments        []model.Segment
	Instructions    []model.Instruction
	InstrTagLinks   []model.InstructionTagInstance
	CallTagLinks    []model.CallTagInstance
	Accesses        []model.Access
	References      map[model.ReferenceID]model.Reference
	Conflicts       []model.Conflict
	TagHits         []TagHit

	nextSourceLocation int64
	nextInstruction    int64
	nextAccess         int64
	nextReference      int64
	nextConflict       int64
}

// FileRow is one insert_file call's arguments.
type FileRow struct {
	ImageID model.ImageID
	Path    string
}

// FunctionRow is one insert_function call's arguments.
type FunctionRow struct {
	ImageID   model.ImageID
	FileID    model.FileID
	Prototype string
	Line      int32
	Column    int32
}

// TagHit is one insert_tag_hit call's arguments.
type TagHit struct {
	TSC              uint64
	TagInstructionID model.TagInstructionID
	ThreadID         model.ThreadID
}

var _ writer.Sink = (*Writer)(nil)

// New returns an empty Writer.
func New() *Writer {
	return &Writer{References: make(map[model.ReferenceID]model.Reference)}
}

func (w *Writer) Begin(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.Began = true

	return nil
}

func (w *Writer) Commit(context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.Committed = true

	return nil
}

func (w *Writer) Close() error { return nil }

func (w *Writer) InsertImage(_ context.Context, name string) (model.ImageID, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.Images = append(w.Images, name)

	return model.ImageID(len(w.Images)), nil
}

func (w *Writer) InsertFile(_ context.Context, imageID model.ImageID, path string) (model.FileID, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.Files = append(w.Files, FileRow{ImageID: imageID, Path: path})

	return model.FileID(len(w.Files)), nil
}

func (w *Writer) InsertFunction(_ context.Context, imageID model.ImageID, fileID model.FileID, prototype string, line, column int32) (model.FunctionID, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.Functions = append(w.Functions, FunctionRow{ImageID: imageID, FileID: fileID, Prototype: prototype, Line: line, Column: column})

	return model.FunctionID(len(w.Functions)), nil
}

func (w *Writer) InsertSourceLocation(_ context.Context, loc model.SourceLocation) (model.SourceLocationID, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.nextSourceLocation++
	w.SourceLocations = append(w.SourceLocations, loc)

	return model.SourceLocationID(w.nextSourceLocation), nil
}

func (w *Writer) InsertTag(_ context.Context, tag model.Tag) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.Tags = append(w.Tags, tag)

	return nil
}

func (w *Writer) InsertTagInstruction(_ context.Context, ti model.TagInstruction) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.TagInstructions = append(w.TagInstructions, ti)

	return nil
}

func (w *Writer) InsertTagInstance(_ context.Context, inst model.TagInstance) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.TagInstances = append(w.TagInstances, inst)

	return nil
}

func (w *Writer) InsertThread(_ context.Context, th model.Thread) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.Threads = append(w.Threads, th)

	return nil
}

func (w *Writer) InsertCall(_ context.Context, call model.Call) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.Calls = append(w.Calls, call)

	return nil
}

func (w *Writer) InsertSegment(_ context.Context, seg model.Segment) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.Segments = append(w.Segments, seg)

	return nil
}

func (w *Writer) InsertInstruction(_ context.Context, instr model.Instruction) (model.InstructionID, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.nextInstruction++
	instr.ID = model.InstructionID(w.nextInstruction)
	w.Instructions = append(w.Instructions, instr)

	return instr.ID, nil
}

func (w *Writer) InsertInstructionTagInstance(_ context.Context, link model.InstructionTagInstance) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.InstrTagLinks = append(w.InstrTagLinks, link)

	return nil
}

func (w *Writer) InsertCallTagInstance(_ context.Context, link model.CallTagInstance) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.CallTagLinks = append(w.CallTagLinks, link)

	return nil
}

func (w *Writer) InsertAccess(_ context.Context, acc model.Access) (model.AccessID, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.nextAccess++
	acc.ID = model.AccessID(w.nextAccess)
	w.Accesses = append(w.Accesses, acc)

	return acc.ID, nil
}

func (w *Writer) InsertReference(_ context.Context, ref model.Reference) (model.ReferenceID, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if ref.ID == 0 {
		w.nextReference++
		ref.ID = model.ReferenceID(w.nextReference)
	}

	w.References[ref.ID] = ref

	return ref.ID, nil
}

func (w *Writer) InsertConflict(_ context.Context, c model.Conflict) (model.ConflictID, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.nextConflict++
	c.ID = model.ConflictID(w.nextConflict)
	w.Conflicts = append(w.Conflicts, c)

	return c.ID, nil
}

func (w *Writer) InsertTagHit(_ context.Context, tsc uint64, tagInstructionID model.TagInstructionID, threadID model.ThreadID) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.TagHits = append(w.TagHits, TagHit{TSC: tsc, TagInstructionID: tagInstructionID, ThreadID: threadID})

	return nil
}

func (w *Writer) GetFunctionIDByProperties(_ context.Context, prototype string, imageID model.ImageID, file string, line int32) (model.FunctionID, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for i, fn := range w.Functions {
		if fn.Prototype == prototype && fn.ImageID == imageID && fn.Line == line {
			_ = file

			return model.FunctionID(i + 1), true, nil
		}
	}

	return 0, false, nil
}

func (w *Writer) GetImageIDByName(_ context.Context, name string) (model.ImageID, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for i, img := range w.Images {
		if img == name {
			return model.ImageID(i + 1), true, nil
		}
	}

	return 0, false, nil
}

func (w *Writer) GetSourceLocationByID(_ context.Context, id model.SourceLocationID) (model.SourceLocation, bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	idx := int(id) - 1
	if idx < 0 || idx >= len(w.SourceLocations) {
		return model.SourceLocation{}, false, nil
	}

	return w.SourceLocations[idx], true, nil
}
