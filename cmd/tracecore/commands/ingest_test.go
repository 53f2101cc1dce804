package commands

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracecore/tracecore/internal/record"
)

func encodeHeader(buf *bytes.Buffer, kind record.Kind, tsc uint64) {
	_ = binary.Write(buf, binary.LittleEndian, uint32(kind))
	_ = binary.Write(buf, binary.LittleEndian, uint32(0))
	_ = binary.Write(buf, binary.LittleEndian, tsc)
}

// writeTraceFile fabricates a single thread's record stream: a CallEnter
// into function 1 followed by its Ret, the minimal shape drainOneFile and
// the manager need to materialize a Call row.
func writeTraceFile(t *testing.T, path string) {
	t.Helper()

	var buf bytes.Buffer

	encodeHeader(&buf, record.KindCallEnter, 100)
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, struct {
		RBP, RSP uint64
		FuncID   int64
	}{RBP: 0x2000, RSP: 0x1000, FuncID: 1}))

	encodeHeader(&buf, record.KindRet, 200)
	require.NoError(t, binary.Write(&buf, binary.LittleEndian, struct {
		RSP    uint64
		FuncID int64
	}{RSP: 0x1000, FuncID: 1}))

	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

const sourceYAML = `
flags:
  processCallsByDefault: true
  processAccessesByDefault: true
`

const symbolsYAML = `
symbols:
  - image: app
    file: main.c
    function: do_work
    line: 10
    column: 1
`

func TestRunIngest_MaterializesCallFromTraceFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	traceDir := filepath.Join(dir, "traces")
	require.NoError(t, os.Mkdir(traceDir, 0o755))
	writeTraceFile(t, filepath.Join(traceDir, "42.trace"))

	sourcePath := filepath.Join(dir, "source.yaml")
	require.NoError(t, os.WriteFile(sourcePath, []byte(sourceYAML), 0o644))

	symbolPath := filepath.Join(dir, "symbols.yaml")
	require.NoError(t, os.WriteFile(symbolPath, []byte(symbolsYAML), 0o644))

	dbPath := filepath.Join(dir, "out.db")

	ic := &ingestCommand{
		dbPath:     dbPath,
		sourcePath: sourcePath,
		symbolPath: symbolPath,
		traceDir:   traceDir,
		batchSize:  defaultBatchSize,
		workers:    1,
	}

	require.NoError(t, runIngest(context.Background(), ic))

	db, err := sql.Open("sqlite3", dbPath)
	require.NoError(t, err)
	defer db.Close()

	var functionCount int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM functions`).Scan(&functionCount))
	assert.Equal(t, 1, functionCount)

	var callCount int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM calls WHERE thread_id = 42 AND function_id = 1`).Scan(&callCount))
	assert.Equal(t, 1, callCount)

	var threadCount int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM threads WHERE id = 42 AND ended = 1`).Scan(&threadCount))
	assert.Equal(t, 1, threadCount)
}

func TestTraceFiles_ErrorsWhenEmpty(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	_, err := traceFiles(dir)
	require.ErrorIs(t, err, ErrNoTraceFiles)
}

func TestTraceFiles_SortsAndGlobsTraceSuffix(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "2.trace"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "1.trace"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.txt"), nil, 0o644))

	files, err := traceFiles(dir)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, filepath.Join(dir, "1.trace"), files[0])
	assert.Equal(t, filepath.Join(dir, "2.trace"), files[1])
}

func TestThreadIDFromFilename_RejectsNonNumericStem(t *testing.T) {
	t.Parallel()

	_, err := threadIDFromFilename("/traces/worker.trace")
	require.Error(t, err)
}

func TestThreadIDFromFilename_ParsesStem(t *testing.T) {
	t.Parallel()

	id, err := threadIDFromFilename("/traces/42.trace")
	require.NoError(t, err)
	assert.EqualValues(t, 42, id)
}
