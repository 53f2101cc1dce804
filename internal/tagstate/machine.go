package tagstate

import (
	"fmt"

	"github.com/tracecore/tracecore/internal/model"
)

// Gates is the pair of effective gating flags the consumer consults
// before dispatching Call/CallEnter/Ret and MemRef records, per the gate
// function in spec section 4.3.
type Gates struct {
	ProcessCalls    bool
	ProcessAccesses bool
}

// Event reports one TagInstance transition a Dispatch call produced, in
// the order they must be written: a task restart closes the prior
// iteration before opening the new one, and a container close lists its
// cascaded descendant closes first and the container's own close last.
type Event struct {
	Instance *model.TagInstance
	Closed   bool
}

// Machine owns one thread's active-tag list, ignore/process flags, and
// per-tag Counter state. It is not safe for concurrent use; each
// per-thread consumer owns exactly one Machine.
type Machine struct {
	idx   *Index
	alloc *model.IDAllocator

	threadID model.ThreadID

	processCallsByDefault    bool
	processAccessesByDefault bool

	active []*model.TagInstance // most-recent-first
	byTag  map[model.TagID]*model.TagInstance

	counters map[model.TagID]int64

	ignoreCalls     bool
	ignoreAccesses  bool
	processCalls    bool
	processAccesses bool

	lastHitInstruction model.TagInstructionID
	lastHitAddress     uint64
	hasLastHit         bool
}

// NewMachine constructs a Machine for one thread, sharing idx and alloc
// with every other thread's Machine.
func NewMachine(idx *Index, alloc *model.IDAllocator, threadID model.ThreadID, processCallsByDefault, processAccessesByDefault bool) *Machine {
	return &Machine{
		idx:                      idx,
		alloc:                    alloc,
		threadID:                 threadID,
		processCallsByDefault:    processCallsByDefault,
		processAccessesByDefault: processAccessesByDefault,
		byTag:                    make(map[model.TagID]*model.TagInstance),
		counters:                 make(map[model.TagID]int64),
	}
}

// Active returns the current active-tag list, most-recent-first. The
// returned slice is owned by the Machine and must not be retained past
// the next Dispatch call.
func (m *Machine) Active() []*model.TagInstance {
	return m.active
}

// WouldDedup reports whether a Tag record at (tiID, address) would be
// ignored as a repeat of the last hit, without mutating any state. Callers
// that only want to persist tag hits for real transitions check this
// before calling Dispatch.
func (m *Machine) WouldDedup(tiID model.TagInstructionID, address uint64) bool {
	return m.hasLastHit && m.lastHitInstruction == tiID && m.lastHitAddress == address
}

// Dispatch processes one Tag record (tagInstructionID, address, tsc)
// against the active-tag list, returning the open/close events it
// produced. A duplicate hit at the same (tagInstructionID, address) as
// the last one is a no-op, per the dedup rule.
func (m *Machine) Dispatch(tiID model.TagInstructionID, address uint64, tsc uint64) ([]Event, error) {
	if m.hasLastHit && m.lastHitInstruction == tiID && m.lastHitAddress == address {
		return nil, nil
	}

	tag, side, ok := m.idx.Lookup(tiID)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownTagInstruction, tiID)
	}

	var (
		events []Event
		err    error
	)

	switch {
	case tag.Kind.IsTask():
		events, err = m.dispatchTask(tag, side, tsc)
	case tag.Kind.IsContainer() || tag.Kind == model.TagKindSimple:
		events, err = m.dispatchScoped(tag, side, tsc)
	case tag.Kind == model.TagKindCounter:
		events, err = m.dispatchCounter(tag, side, tsc)
	default:
		m.dispatchFlag(tag.Kind, side)
	}

	if err != nil {
		return nil, err
	}

	m.lastHitInstruction, m.lastHitAddress, m.hasLastHit = tiID, address, true

	return events, nil
}

func (m *Machine) dispatchScoped(tag model.Tag, side model.InstructionSide, tsc uint64) ([]Event, error) {
	if side == model.SideStart {
		if existing, open := m.byTag[tag.ID]; open {
			if tag.Kind == model.TagKindSection {
				// Loop-header reopen: ignored.
				_ = existing

				return nil, nil
			}

			return nil, fmt.Errorf("%w: tag %d", ErrAlreadyOpen, tag.ID)
		}

		inst := &model.TagInstance{
			ID:       m.alloc.NextTagInstanceID(),
			TagID:    tag.ID,
			ThreadID: m.threadID,
			StartTSC: tsc,
		}
		m.push(inst)

		return []Event{{Instance: inst, Closed: false}}, nil
	}

	inst, open := m.byTag[tag.ID]
	if !open {
		return nil, fmt.Errorf("%w: tag %d", ErrStopWithoutOpen, tag.ID)
	}

	events := []Event{}

	if tag.Kind.IsContainer() {
		events = append(events, m.closeDescendants(inst.ID, tsc)...)
	}

	m.close(inst, tsc)
	events = append(events, Event{Instance: inst, Closed: true})

	return events, nil
}

func (m *Machine) dispatchTask(tag model.Tag, side model.InstructionSide, tsc uint64) ([]Event, error) {
	if side == model.SideStop {
		return nil, fmt.Errorf("%w: tag %d", ErrTaskStopInvalid, tag.ID)
	}

	var events []Event

	if existing, open := m.byTag[tag.ID]; open {
		m.close(existing, tsc)
		events = append(events, Event{Instance: existing, Closed: true})
	}

	ancestorKind := model.TagKindSection
	if tag.Kind == model.TagKindPipelineTask {
		ancestorKind = model.TagKindPipeline
	}

	ancestor := m.nearestOpen(ancestorKind)
	if ancestor == nil {
		return nil, fmt.Errorf("%w: tag %d", ErrTaskOutsideContainer, tag.ID)
	}

	inst := &model.TagInstance{
		ID:        m.alloc.NextTagInstanceID(),
		TagID:     tag.ID,
		ThreadID:  m.threadID,
		StartTSC:  tsc,
		ParentID:  ancestor.ID,
		HasParent: true,
	}
	m.push(inst)

	events = append(events, Event{Instance: inst, Closed: false})

	return events, nil
}

func (m *Machine) dispatchCounter(tag model.Tag, side model.InstructionSide, tsc uint64) ([]Event, error) {
	if side == model.SideStart {
		if _, open := m.byTag[tag.ID]; open {
			return nil, fmt.Errorf("%w: tag %d", ErrAlreadyOpen, tag.ID)
		}

		m.counters[tag.ID]++

		inst := &model.TagInstance{
			ID:       m.alloc.NextTagInstanceID(),
			TagID:    tag.ID,
			ThreadID: m.threadID,
			StartTSC: tsc,
			Counter:  m.counters[tag.ID],
		}
		m.push(inst)

		return []Event{{Instance: inst, Closed: false}}, nil
	}

	inst, open := m.byTag[tag.ID]
	if !open {
		return nil, fmt.Errorf("%w: tag %d", ErrStopWithoutOpen, tag.ID)
	}

	m.close(inst, tsc)

	return []Event{{Instance: inst, Closed: true}}, nil
}

func (m *Machine) dispatchFlag(kind model.TagKind, side model.InstructionSide) {
	set := side == model.SideStart

	switch kind {
	case model.TagKindIgnoreAll:
		m.ignoreCalls, m.ignoreAccesses = set, set
	case model.TagKindIgnoreCalls:
		m.ignoreCalls = set
	case model.TagKindIgnoreAccesses:
		m.ignoreAccesses = set
	case model.TagKindProcessAll:
		m.processCalls, m.processAccesses = set, set
	case model.TagKindProcessCalls:
		m.processCalls = set
	case model.TagKindProcessAccesses:
		m.processAccesses = set
	}
}

// closeDescendants closes every still-open task TagInstance parented
// directly to parentID, as a Section/Pipeline close cascades. tsc is the
// tsc at which the enclosing container itself closed, and becomes every
// cascaded descendant's EndTSC too.
func (m *Machine) closeDescendants(parentID model.TagInstanceID, tsc uint64) []Event {
	var events []Event

	// Snapshot before mutating, since close() mutates m.active.
	descendants := make([]*model.TagInstance, 0)

	for _, inst := range m.active {
		if inst.HasParent && inst.ParentID == parentID {
			descendants = append(descendants, inst)
		}
	}

	for _, inst := range descendants {
		m.close(inst, tsc)
		events = append(events, Event{Instance: inst, Closed: true})
	}

	return events
}

func (m *Machine) nearestOpen(kind model.TagKind) *model.TagInstance {
	for _, inst := range m.active {
		if tag, ok := m.idx.tags[inst.TagID]; ok && tag.Kind == kind {
			return inst
		}
	}

	return nil
}

func (m *Machine) push(inst *model.TagInstance) {
	m.active = append([]*model.TagInstance{inst}, m.active...)
	m.byTag[inst.TagID] = inst
}

func (m *Machine) close(inst *model.TagInstance, tsc uint64) {
	inst.EndTSC = tsc
	inst.HasEnded = true

	delete(m.byTag, inst.TagID)

	for i, cur := range m.active {
		if cur.ID == inst.ID {
			m.active = append(m.active[:i], m.active[i+1:]...)

			break
		}
	}
}

// ActiveTask returns the nearest open SectionTask/PipelineTask instance, if
// any, for the conflict detector to attribute the current access to.
func (m *Machine) ActiveTask() (*model.TagInstance, bool) {
	for _, inst := range m.active {
		if tag, ok := m.idx.tags[inst.TagID]; ok && tag.Kind.IsTask() {
			return inst, true
		}
	}

	return nil, false
}

// InterestingProgramPart reports whether the active-tag list contains any
// Section, Pipeline, SectionTask, or PipelineTask instance.
func (m *Machine) InterestingProgramPart() bool {
	for _, inst := range m.active {
		if tag, ok := m.idx.tags[inst.TagID]; ok && (tag.Kind.IsContainer() || tag.Kind.IsTask()) {
			return true
		}
	}

	return false
}

// Gates recomputes the effective process_calls/process_accesses flags
// per the gate function in spec section 4.3. Callers recompute this after
// every Dispatch call and every flag change.
func (m *Machine) Gates() Gates {
	interesting := m.InterestingProgramPart()

	processCallsEffective := false

	switch {
	case m.ignoreCalls:
		processCallsEffective = false
	case m.processCalls || interesting:
		processCallsEffective = true
	default:
		processCallsEffective = m.processCallsByDefault
	}

	processAccessesEffective := false

	switch {
	case !processCallsEffective:
		processAccessesEffective = false
	case m.ignoreAccesses:
		processAccessesEffective = false
	case m.processAccesses || interesting:
		processAccessesEffective = true
	default:
		processAccessesEffective = m.processAccessesByDefault
	}

	return Gates{ProcessCalls: processCallsEffective, ProcessAccesses: processAccessesEffective}
}
