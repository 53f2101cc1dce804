package model

// SourceLocation is a (function, line, column) triple. Two SourceLocations
// are equal iff all three fields are equal; callers that key maps on this
// type rely on that equality holding for the Go struct comparison.
type SourceLocation struct {
	Function FunctionID
	Line     int32
	Column   int32
}

// TagKind enumerates the twelve tag kinds the state machine recognizes.
type TagKind int

const (
	TagKindSimple TagKind = iota
	TagKindCounter
	TagKindSection
	TagKindPipeline
	TagKindSectionTask
	TagKindPipelineTask
	TagKindIgnoreAll
	TagKindIgnoreCalls
	TagKindIgnoreAccesses
	TagKindProcessAll
	TagKindProcessCalls
	TagKindProcessAccesses
)

// IsContainer reports whether a tag of this kind opens a container region
// (Section/Pipeline) that task tags and conflict scopes nest under.
func (k TagKind) IsContainer() bool {
	return k == TagKindSection || k == TagKindPipeline
}

// IsTask reports whether a tag of this kind delimits one parallel work unit.
func (k TagKind) IsTask() bool {
	return k == TagKindSectionTask || k == TagKindPipelineTask
}

// Tag is a named, typed marker whose Start/Stop instructions delimit a
// region in the trace.
type Tag struct {
	ID   TagID
	Name string
	Kind TagKind
}

// InstructionSide distinguishes the Start/Stop half of a TagInstruction.
type InstructionSide int

const (
	SideStart InstructionSide = iota
	SideStop
)

// TagInstruction binds a Tag to a SourceLocation and a Start/Stop side.
type TagInstruction struct {
	ID         TagInstructionID
	TagID      TagID
	LocationID SourceLocationID
	Side       InstructionSide
}

// TagInstance is a concrete open/closed occurrence of a Tag within one
// thread. Counter is populated only for TagKindCounter tags.
type TagInstance struct {
	ID        TagInstanceID
	TagID     TagID
	ThreadID  ThreadID
	StartTSC  uint64
	EndTSC    uint64
	Counter   int64
	HasEnded  bool
	ParentID  TagInstanceID // direct container parent; 0 if none
	HasParent bool
}

// Thread is an observed target thread's lifetime anchor, in both TSC and
// wall-clock coordinates.
type Thread struct {
	ID        ThreadID
	StartTime int64 // unix nanos
	StartTSC  uint64
	EndTime   int64
	EndTSC    uint64
	Ended     bool
}

// Call is one function activation. Instruction is the Call-kind
// Instruction at the caller's call site; zero/HasInstruction=false for the
// top-of-stack call at thread start.
type Call struct {
	ID             CallID
	ThreadID       ThreadID
	FunctionID     FunctionID
	Instruction    InstructionID
	HasInstruction bool
	StartTSC       uint64
	EndTSC         uint64
}

// SegmentKind distinguishes a call's standard body from a loop iteration.
type SegmentKind int

const (
	SegmentStandard SegmentKind = iota
	SegmentLoop
)

// Segment is a contiguous span of instructions within one Call.
type Segment struct {
	ID     SegmentID
	CallID CallID
	Kind   SegmentKind
}

// InstructionKind classifies what an Instruction row represents.
type InstructionKind int

const (
	InstructionCall InstructionKind = iota
	InstructionAccess
	InstructionAlloc
	InstructionFree
)

// Instruction is materialized only for interesting emissions inside an
// active segment: call sites, memory accesses, and allocation events.
type Instruction struct {
	ID        InstructionID
	SegmentID SegmentID
	Kind      InstructionKind
	Line      int32
	Column    int32
}

// ReferenceKind classifies the semantic identity of a memory object.
type ReferenceKind int

const (
	ReferenceHeap ReferenceKind = iota
	ReferenceStack
	ReferenceParameter
	ReferenceStatic
	ReferenceGlobal
	ReferenceRedZone
	ReferenceUnknown
)

// Reference is the classification of a base address into a semantic
// memory object, valid over [Base, Base+Size).
type Reference struct {
	ID             ReferenceID
	Name           string
	Base           uint64
	Size           uint64
	Kind           ReferenceKind
	AllocatorID    InstructionID
	HasAllocator   bool
	DeallocatorID  InstructionID
	HasDeallocator bool
	WasAccessed    bool
}

// AccessType distinguishes a read from a write memory access.
type AccessType int

const (
	AccessRead AccessType = iota
	AccessWrite
)

// Access is one memory operand touched by an Instruction, ordered by
// Position within that instruction (0..n-1, n <= 7).
type Access struct {
	ID            AccessID
	InstructionID InstructionID
	ReferenceID   ReferenceID
	Position      int
	Address       uint64
	Size          uint32
	Type          AccessType
}

// Conflict records that two sibling task TagInstances accessed the same
// location with at least one writer.
type Conflict struct {
	ID           ConflictID
	TagInstance1 TagInstanceID
	TagInstance2 TagInstanceID
	Access1      AccessID
	Access2      AccessID
}

// InstructionTagInstance links an Instruction to a TagInstance active when
// it was emitted.
type InstructionTagInstance struct {
	InstructionID InstructionID
	TagInstanceID TagInstanceID
}

// CallTagInstance links a Call to a TagInstance active throughout its
// duration.
type CallTagInstance struct {
	CallID        CallID
	TagInstanceID TagInstanceID
}
