package record_test

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracecore/tracecore/internal/model"
	"github.com/tracecore/tracecore/internal/record"
)

func encodeHeader(buf *bytes.Buffer, kind record.Kind, tsc uint64) {
	_ = binary.Write(buf, binary.LittleEndian, uint32(kind))
	_ = binary.Write(buf, binary.LittleEndian, uint32(0))
	_ = binary.Write(buf, binary.LittleEndian, tsc)
}

func TestDecode_CallEnter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	encodeHeader(&buf, record.KindCallEnter, 42)

	body := struct {
		RBP, RSP uint64
		FuncID   int64
	}{RBP: 0x1000, RSP: 0x0F80, FuncID: 7}
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, body))

	rec, err := record.Decode(&buf, nil)
	require.NoError(t, err)

	assert.Equal(t, record.KindCallEnter, rec.Kind)
	assert.Equal(t, uint64(42), rec.TSC)
	assert.Equal(t, uint64(0x1000), rec.RBP)
	assert.Equal(t, uint64(0x0F80), rec.RSP)
	assert.Equal(t, model.FunctionID(7), rec.FunctionID)
}

func TestDecode_Tag(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	encodeHeader(&buf, record.KindTag, 10)

	body := struct {
		TagInstrID int64
		Address    uint64
	}{TagInstrID: 3, Address: 0xABCD}
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, body))

	rec, err := record.Decode(&buf, nil)
	require.NoError(t, err)

	assert.Equal(t, model.TagInstructionID(3), rec.TagInstructionID)
	assert.Equal(t, uint64(0xABCD), rec.Address)
}

func TestDecode_MemRef_ResolvesAccessDetails(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	encodeHeader(&buf, record.KindMemRef, 11)

	body := struct {
		RSP    uint64
		Handle uint64
		Addrs  [7]uint64
	}{RSP: 0x0F80, Handle: 99}
	body.Addrs[0] = 0x0F84
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, body))

	wantDetails := record.AccessDetails{
		Operands: []record.AccessOperand{{Size: 4, IsRead: true}},
	}

	rec, err := record.Decode(&buf, func(handle uint64) (record.AccessDetails, error) {
		assert.Equal(t, uint64(99), handle)

		return wantDetails, nil
	})
	require.NoError(t, err)

	assert.Equal(t, uint64(0x0F84), rec.Addresses[0])
	assert.Equal(t, wantDetails, rec.Details)
}

func TestDecode_UnknownDiscriminator(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.LittleEndian, uint32(9999))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(0))
	_ = binary.Write(&buf, binary.LittleEndian, uint64(1))
	_ = binary.Write(&buf, binary.LittleEndian, make([]byte, 64))

	_, err := record.Decode(&buf, nil)
	require.ErrorIs(t, err, record.ErrUnknownDiscriminator)
}

func TestDecode_AllocEnterCalloc(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	encodeHeader(&buf, record.KindAllocEnter, 5)

	body := struct {
		ThreadID int64
		Op       uint32
		_        uint32
		Size     uint64
		Num      uint64
		OldRef   uint64
	}{ThreadID: 1, Op: uint32(record.AllocCalloc), Size: 16, Num: 4}
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, body))

	rec, err := record.Decode(&buf, nil)
	require.NoError(t, err)

	assert.Equal(t, record.AllocCalloc, rec.AllocOp)
	assert.True(t, rec.HasNum)
	assert.Equal(t, uint64(4), rec.Num)
	assert.False(t, rec.HasOldRef)
}
