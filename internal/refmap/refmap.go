package refmap

import (
	"sync"

	"github.com/tracecore/tracecore/internal/model"
)

// redZoneSize is the ABI-defined below-stack scratch region used by leaf
// functions. 128 bytes is the x86_64 value; the spec leaves this as a
// target-ABI parameter.
const redZoneSize = 128

// Frame is the subset of a call-stack frame the reference resolver needs:
// the stack pointer and base pointer bounding the frame's stack/parameter
// addresses, and the function owning it.
type Frame struct {
	RSP        uint64
	RBP        uint64
	FunctionID model.FunctionID
}

// Map is the process-wide ordered map of base address to Reference,
// guarded by a single lock shared by every per-thread consumer (C5).
type Map struct {
	mu      sync.Mutex
	tree    *tree
	refs    map[model.ReferenceID]*model.Reference
	redZone *model.Reference
}

// New constructs an empty Map with the singleton red-zone reference
// materialized, per invariant 5. alloc is the same id allocator every
// per-thread consumer uses for References, so the red zone's id never
// collides with one handed out later by Resolve's callback.
func New(alloc *model.IDAllocator) *Map {
	m := &Map{
		tree: newTree(),
		refs: make(map[model.ReferenceID]*model.Reference),
	}

	m.redZone = &model.Reference{
		ID:   alloc.NextReferenceID(),
		Name: "RZ",
		Kind: model.ReferenceRedZone,
	}
	m.refs[m.redZone.ID] = m.redZone

	return m
}

// RedZone returns the singleton red-zone reference.
func (m *Map) RedZone() *model.Reference {
	return m.redZone
}

// Get returns the reference whose base address equals addr, if any.
func (m *Map) Get(addr uint64) (*model.Reference, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.getLocked(addr)
}

func (m *Map) getLocked(addr uint64) (*model.Reference, bool) {
	v, ok := m.tree.Get(addr)
	if !ok {
		return nil, false
	}

	return m.refs[model.ReferenceID(v)], true
}

// Insert stores ref in the map keyed at its base address. Callers must
// have already assigned ref.ID and ref.Base.
func (m *Map) Insert(ref *model.Reference) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.refs[ref.ID] = ref
	m.tree.Insert(Item{Key: ref.Base, Value: uint64(ref.ID)})
}

// Resolve classifies address addr (touched with operand size) against the
// shared map, the caller's current frame, and the rest of the call stack,
// per spec section 4.5. allocRefID allocates fresh ReferenceIDs when a new
// Reference must be synthesized.
//
// frames is ordered top-of-stack first (frames[0] is the currently
// executing frame). It may be empty; an address then resolves only
// against the shared map or as a Global reference.
func (m *Map) Resolve(addr uint64, size uint64, frames []Frame, allocRefID func() model.ReferenceID) (*model.Reference, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// 1. Exact hit.
	if ref, ok := m.getLocked(addr); ok {
		ref.WasAccessed = true

		return ref, false
	}

	// 2. Containing hit: largest base <= addr with base+size > addr.
	if it := m.tree.FindLE(addr); !it.NegativeLimit() {
		item := it.Item()
		if ref, ok := m.refs[model.ReferenceID(item.Value)]; ok && addr < ref.Base+ref.Size {
			ref.WasAccessed = true

			return ref, false
		}
	}

	if len(frames) == 0 {
		return m.globalFallback(addr, allocRefID), true
	}

	top := frames[0]

	// 3. Current-frame stack.
	if top.RSP <= addr && addr < top.RBP {
		ref := &model.Reference{
			ID:          allocRefID(),
			Name:        stackName(top.RBP, addr, top.FunctionID),
			Base:        addr,
			Size:        1,
			Kind:        model.ReferenceStack,
			WasAccessed: true,
		}
		m.insertLocked(ref)

		return ref, true
	}

	// 4. Red-zone.
	if top.RSP >= redZoneSize && top.RSP-redZoneSize <= addr && addr < top.RSP {
		m.redZone.WasAccessed = true

		return m.redZone, false
	}

	// 5. Enclosing-frame stack/parameter.
	for _, frame := range frames {
		switch {
		case frame.RSP <= addr && addr < frame.RBP:
			ref := &model.Reference{
				ID:          allocRefID(),
				Name:        stackName(frame.RBP, addr, frame.FunctionID),
				Base:        addr,
				Size:        1,
				Kind:        model.ReferenceStack,
				WasAccessed: true,
			}
			m.insertLocked(ref)

			return ref, true
		case addr >= frame.RBP:
			ref := &model.Reference{
				ID:          allocRefID(),
				Name:        parameterName(frame.RBP, addr, frame.FunctionID),
				Base:        addr,
				Size:        1,
				Kind:        model.ReferenceParameter,
				WasAccessed: true,
			}
			m.insertLocked(ref)

			return ref, true
		}
	}

	// 6. Global fallback.
	return m.globalFallback(addr, allocRefID), true
}

func (m *Map) globalFallback(addr uint64, allocRefID func() model.ReferenceID) *model.Reference {
	ref := &model.Reference{
		ID:          allocRefID(),
		Name:        globalName(addr),
		Base:        addr,
		Size:        1,
		Kind:        model.ReferenceGlobal,
		WasAccessed: true,
	}
	m.insertLocked(ref)

	return ref
}

func (m *Map) insertLocked(ref *model.Reference) {
	m.refs[ref.ID] = ref
	m.tree.Insert(Item{Key: ref.Base, Value: uint64(ref.ID)})
}

// ClearFrame removes every Stack/Parameter reference in [rsp, rbp) from the
// shared map on a Ret, per the stack-frame cleanup rule. Their
// deallocation is implicit and never written to the Writer.
func (m *Map) ClearFrame(rsp, rbp uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var toDelete []uint64

	for it := m.tree.FindGE(rsp); !it.Limit(); it = it.Next() {
		item := it.Item()
		if item.Key >= rbp {
			break
		}

		ref := m.refs[model.ReferenceID(item.Value)]
		if ref != nil && (ref.Kind == model.ReferenceStack || ref.Kind == model.ReferenceParameter) {
			toDelete = append(toDelete, item.Key)
		}
	}

	for _, key := range toDelete {
		v, _ := m.tree.Get(key)
		delete(m.refs, model.ReferenceID(v))
		m.tree.DeleteWithKey(key)
	}
}

func stackName(rbp, addr uint64, fn model.FunctionID) string {
	return "S:" + hexU64(rbp) + ":" + signedDelta(addr, rbp) + ":" + hexU64(uint64(fn))
}

func parameterName(rbp, addr uint64, fn model.FunctionID) string {
	return "P:" + hexU64(rbp) + ":" + signedDelta(addr, rbp) + ":" + hexU64(uint64(fn))
}

func globalName(addr uint64) string {
	return "G:" + hexU64(addr)
}
