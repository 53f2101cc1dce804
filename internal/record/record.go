// Package record decodes the fixed-layout instrumentation record stream
// into a tagged-union Go value per record.
package record

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/tracecore/tracecore/internal/model"
)

// Kind discriminates the eight record variants the core accepts.
type Kind uint32

const (
	KindCall Kind = iota
	KindCallEnter
	KindRet
	KindTag
	KindMemRef
	KindAllocEnter
	KindAllocExit
	KindFree
)

func (k Kind) String() string {
	switch k {
	case KindCall:
		return "Call"
	case KindCallEnter:
		return "CallEnter"
	case KindRet:
		return "Ret"
	case KindTag:
		return "Tag"
	case KindMemRef:
		return "MemRef"
	case KindAllocEnter:
		return "AllocEnter"
	case KindAllocExit:
		return "AllocExit"
	case KindFree:
		return "Free"
	default:
		return fmt.Sprintf("Kind(%d)", uint32(k))
	}
}

// AllocKind enumerates the allocator operations AllocEnter records carry.
type AllocKind uint32

const (
	AllocMalloc AllocKind = iota
	AllocCalloc
	AllocRealloc
	AllocFree
)

// maxOperands bounds the operand addresses a MemRef can carry, per spec.
const maxOperands = 7

// AccessOperand is one statically-prepared per-operand descriptor entry
// referenced by a MemRef's access_details_handle.
type AccessOperand struct {
	Size     uint32
	IsRead   bool
	IsWrite  bool
	Location model.SourceLocationID
}

// AccessDetails is the resolved descriptor a MemRef's handle points to,
// supplied out-of-band by the address-table component (C4).
type AccessDetails struct {
	Operands []AccessOperand
	Location model.SourceLocationID
}

// Record is a tagged union over all eight record kinds. Only the fields
// relevant to Kind are meaningful; idiomatic Go has no sum type, so the
// core dispatches on Kind with a direct switch.
type Record struct {
	Kind Kind
	TSC  uint64

	// Call
	RSP            uint64
	CallerLocation model.SourceLocationID

	// CallEnter
	RBP        uint64
	FunctionID model.FunctionID

	// Ret reuses FunctionID and RSP.

	// Tag
	TagInstructionID model.TagInstructionID
	Address          uint64

	// MemRef
	AccessHandle uint64
	Addresses    []uint64
	Details      AccessDetails

	// AllocEnter / AllocExit / Free
	ThreadID    model.ThreadID
	AllocOp     AllocKind
	Size        uint64
	Num         uint64
	HasNum      bool
	OldRef      uint64
	HasOldRef   bool
	ReturnedRef uint64
	Fingerprint Fingerprint
}

// Fingerprint is the tuple used to pair an AllocEnter with its AllocExit
// when the allocator is correlated rather than directly intercepted.
type Fingerprint struct {
	Kind     AllocKind
	ThreadID model.ThreadID
	Size     uint64
	Num      uint64
	OldRef   uint64
}

// wireHeader is the on-wire discriminator + tsc prefix common to every record.
type wireHeader struct {
	Discriminator uint32
	_             uint32 // padding to 8-byte align tsc
	TSC           uint64
}

// ErrUnknownDiscriminator is returned by Decode when the wire discriminator
// does not match any known Kind; the caller treats this as corruption.
var ErrUnknownDiscriminator = fmt.Errorf("record: unknown discriminator")

// Decode reads one record from r: the common header, then a body whose
// length depends on the kind. Bodies are not padded to a common size, so
// records of different kinds occupy different numbers of bytes on the
// wire. Decode resolves the record's AccessDetails
// via resolve when the record is a MemRef (the handle is otherwise opaque
// to this package).
func Decode(r io.Reader, resolve func(handle uint64) (AccessDetails, error)) (Record, error) {
	var hdr wireHeader

	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return Record{}, fmt.Errorf("record: read header: %w", err)
	}

	kind := Kind(hdr.Discriminator)

	rec := Record{Kind: kind, TSC: hdr.TSC}

	switch kind {
	case KindCall:
		var body struct {
			RSP       uint64
			CallerLoc int64
		}
		if err := binary.Read(r, binary.LittleEndian, &body); err != nil {
			return Record{}, fmt.Errorf("record: read Call body: %w", err)
		}

		rec.RSP = body.RSP
		rec.CallerLocation = model.SourceLocationID(body.CallerLoc)

	case KindCallEnter:
		var body struct {
			RBP, RSP uint64
			FuncID   int64
		}
		if err := binary.Read(r, binary.LittleEndian, &body); err != nil {
			return Record{}, fmt.Errorf("record: read CallEnter body: %w", err)
		}

		rec.RBP, rec.RSP = body.RBP, body.RSP
		rec.FunctionID = model.FunctionID(body.FuncID)

	case KindRet:
		var body struct {
			RSP    uint64
			FuncID int64
		}
		if err := binary.Read(r, binary.LittleEndian, &body); err != nil {
			return Record{}, fmt.Errorf("record: read Ret body: %w", err)
		}

		rec.RSP = body.RSP
		rec.FunctionID = model.FunctionID(body.FuncID)

	case KindTag:
		var body struct {
			TagInstrID int64
			Address    uint64
		}
		if err := binary.Read(r, binary.LittleEndian, &body); err != nil {
			return Record{}, fmt.Errorf("record: read Tag body: %w", err)
		}

		rec.TagInstructionID = model.TagInstructionID(body.TagInstrID)
		rec.Address = body.Address

	case KindMemRef:
		var body struct {
			RSP    uint64
			Handle uint64
			Addrs  [maxOperands]uint64
		}
		if err := binary.Read(r, binary.LittleEndian, &body); err != nil {
			return Record{}, fmt.Errorf("record: read MemRef body: %w", err)
		}

		rec.RSP = body.RSP
		rec.AccessHandle = body.Handle
		rec.Addresses = append([]uint64(nil), body.Addrs[:]...)

		if resolve != nil {
			details, err := resolve(body.Handle)
			if err != nil {
				return Record{}, fmt.Errorf("record: resolve access details: %w", err)
			}

			rec.Details = details
		}

	case KindAllocEnter:
		var body struct {
			ThreadID int64
			Op       uint32
			_        uint32
			Size     uint64
			Num      uint64
			OldRef   uint64
		}
		if err := binary.Read(r, binary.LittleEndian, &body); err != nil {
			return Record{}, fmt.Errorf("record: read AllocEnter body: %w", err)
		}

		rec.ThreadID = model.ThreadID(body.ThreadID)
		rec.AllocOp = AllocKind(body.Op)
		rec.Size = body.Size
		rec.Num, rec.HasNum = body.Num, body.Op == AllocCalloc

		// OldRef doubles as the pointer being resized (realloc) or freed
		// (free); the field is otherwise unused by this discriminator.
		rec.OldRef = body.OldRef
		rec.HasOldRef = body.Op == AllocRealloc || body.Op == AllocFree

	case KindAllocExit:
		var body struct {
			ThreadID    int64
			ReturnedRef uint64
		}
		if err := binary.Read(r, binary.LittleEndian, &body); err != nil {
			return Record{}, fmt.Errorf("record: read AllocExit body: %w", err)
		}

		rec.ThreadID = model.ThreadID(body.ThreadID)
		rec.ReturnedRef = body.ReturnedRef

	case KindFree:
		var body struct {
			ThreadID int64
			Ref      uint64
		}
		if err := binary.Read(r, binary.LittleEndian, &body); err != nil {
			return Record{}, fmt.Errorf("record: read Free body: %w", err)
		}

		rec.ThreadID = model.ThreadID(body.ThreadID)
		rec.ReturnedRef = body.Ref

	default:
		return Record{}, fmt.Errorf("%w: %d", ErrUnknownDiscriminator, hdr.Discriminator)
	}

	return rec, nil
}
