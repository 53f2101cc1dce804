// Package sqlitestore is the relational Writer sink (spec section 6): it
// persists every entity the core produces to a SQLite database opened in
// WAL mode, mirroring the exclusive-transaction, append-only contract of
// the Sink interface.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"github.com/tracecore/tracecore/internal/model"
	"github.com/tracecore/tracecore/internal/writer"
)

// Store is a sqlitestore-backed writer.Sink. It is safe for concurrent
// use: every insert/lookup takes mu, matching the single exclusive
// transaction the Sink runs for its whole lifetime.
type Store struct {
	mu sync.Mutex
	db *sql.DB
	tx *sql.Tx
}

var _ writer.Sink = (*Store)(nil)

// Open opens a SQLite database at path with WAL mode and foreign keys
// enabled, and creates the schema if absent.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=30000&_txlock=exclusive")
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()

		return nil, fmt.Errorf("sqlitestore: ping database: %w", err)
	}

	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()

		return nil, fmt.Errorf("sqlitestore: migrate: %w", err)
	}

	return &Store{db: db}, nil
}

// Begin opens the exclusive transaction every subsequent insert runs in.
func (s *Store) Begin(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlitestore: begin: %w", err)
	}

	s.tx = tx

	return nil
}

// Commit finalizes the run's transaction.
func (s *Store) Commit(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx == nil {
		return nil
	}

	if err := s.tx.Commit(); err != nil {
		return fmt.Errorf("sqlitestore: commit: %w", err)
	}

	s.tx = nil

	return nil
}

// Close closes the underlying database handle. Any uncommitted
// transaction is rolled back by the driver.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tx != nil {
		_ = s.tx.Rollback()
		s.tx = nil
	}

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("sqlitestore: close: %w", err)
	}

	return nil
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: exec: %w", err)
	}

	return res, nil
}

func (s *Store) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.tx.QueryRowContext(ctx, query, args...)
}

func (s *Store) InsertImage(ctx context.Context, name string) (model.ImageID, error) {
	res, err := s.exec(ctx, `INSERT INTO images(name) VALUES (?)`, name)
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: insert image: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: insert image id: %w", err)
	}

	return model.ImageID(id), nil
}

func (s *Store) InsertFile(ctx context.Context, imageID model.ImageID, path string) (model.FileID, error) {
	res, err := s.exec(ctx, `INSERT INTO files(image_id, path) VALUES (?, ?)`, imageID, path)
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: insert file: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: insert file id: %w", err)
	}

	return model.FileID(id), nil
}

func (s *Store) InsertFunction(ctx context.Context, imageID model.ImageID, fileID model.FileID, prototype string, line, column int32) (model.FunctionID, error) {
	res, err := s.exec(ctx,
		`INSERT INTO functions(image_id, file_id, prototype, line, column) VALUES (?, ?, ?, ?, ?)`,
		imageID, fileID, prototype, line, column)
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: insert function: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: insert function id: %w", err)
	}

	return model.FunctionID(id), nil
}

func (s *Store) InsertSourceLocation(ctx context.Context, loc model.SourceLocation) (model.SourceLocationID, error) {
	res, err := s.exec(ctx,
		`INSERT INTO source_locations(function_id, line, column) VALUES (?, ?, ?)`,
		loc.Function, loc.Line, loc.Column)
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: insert source location: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: insert source location id: %w", err)
	}

	return model.SourceLocationID(id), nil
}

func (s *Store) InsertTag(ctx context.Context, tag model.Tag) error {
	_, err := s.exec(ctx, `INSERT INTO tags(id, name, kind) VALUES (?, ?, ?)`, tag.ID, tag.Name, int(tag.Kind))
	if err != nil {
		return fmt.Errorf("sqlitestore: insert tag: %w", err)
	}

	return nil
}

func (s *Store) InsertTagInstruction(ctx context.Context, ti model.TagInstruction) error {
	_, err := s.exec(ctx,
		`INSERT INTO tag_instructions(id, tag_id, location_id, side) VALUES (?, ?, ?, ?)`,
		ti.ID, ti.TagID, ti.LocationID, int(ti.Side))
	if err != nil {
		return fmt.Errorf("sqlitestore: insert tag instruction: %w", err)
	}

	return nil
}

func (s *Store) InsertTagInstance(ctx context.Context, inst model.TagInstance) error {
	var parent any
	if inst.HasParent {
		parent = inst.ParentID
	}

	_, err := s.exec(ctx,
		`INSERT INTO tag_instances(id, tag_id, thread_id, start_tsc, end_tsc, has_ended, counter, parent_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		inst.ID, inst.TagID, inst.ThreadID, inst.StartTSC, inst.EndTSC, inst.HasEnded, inst.Counter, parent)
	if err != nil {
		return fmt.Errorf("sqlitestore: insert tag instance: %w", err)
	}

	return nil
}

func (s *Store) InsertThread(ctx context.Context, th model.Thread) error {
	_, err := s.exec(ctx,
		`INSERT INTO threads(id, start_time, start_tsc, end_time, end_tsc, ended) VALUES (?, ?, ?, ?, ?, ?)`,
		th.ID, th.StartTime, th.StartTSC, th.EndTime, th.EndTSC, th.Ended)
	if err != nil {
		return fmt.Errorf("sqlitestore: insert thread: %w", err)
	}

	return nil
}

func (s *Store) InsertCall(ctx context.Context, call model.Call) error {
	var instr any
	if call.HasInstruction {
		instr = call.Instruction
	}

	_, err := s.exec(ctx,
		`INSERT INTO calls(id, thread_id, function_id, instruction_id, start_tsc, end_tsc) VALUES (?, ?, ?, ?, ?, ?)`,
		call.ID, call.ThreadID, call.FunctionID, instr, call.StartTSC, call.EndTSC)
	if err != nil {
		return fmt.Errorf("sqlitestore: insert call: %w", err)
	}

	return nil
}

func (s *Store) InsertSegment(ctx context.Context, seg model.Segment) error {
	_, err := s.exec(ctx, `INSERT INTO segments(id, call_id, kind) VALUES (?, ?, ?)`, seg.ID, seg.CallID, int(seg.Kind))
	if err != nil {
		return fmt.Errorf("sqlitestore: insert segment: %w", err)
	}

	return nil
}

func (s *Store) InsertInstruction(ctx context.Context, instr model.Instruction) (model.InstructionID, error) {
	res, err := s.exec(ctx,
		`INSERT INTO instructions(segment_id, kind, line, column) VALUES (?, ?, ?, ?)`,
		instr.SegmentID, int(instr.Kind), instr.Line, instr.Column)
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: insert instruction: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: insert instruction id: %w", err)
	}

	return model.InstructionID(id), nil
}

func (s *Store) InsertInstructionTagInstance(ctx context.Context, link model.InstructionTagInstance) error {
	_, err := s.exec(ctx,
		`INSERT INTO instruction_tag_instances(instruction_id, tag_instance_id) VALUES (?, ?)`,
		link.InstructionID, link.TagInstanceID)
	if err != nil {
		return fmt.Errorf("sqlitestore: insert instruction tag instance: %w", err)
	}

	return nil
}

func (s *Store) InsertCallTagInstance(ctx context.Context, link model.CallTagInstance) error {
	_, err := s.exec(ctx,
		`INSERT INTO call_tag_instances(call_id, tag_instance_id) VALUES (?, ?)`,
		link.CallID, link.TagInstanceID)
	if err != nil {
		return fmt.Errorf("sqlitestore: insert call tag instance: %w", err)
	}

	return nil
}

func (s *Store) InsertAccess(ctx context.Context, acc model.Access) (model.AccessID, error) {
	res, err := s.exec(ctx,
		`INSERT INTO accesses(instruction_id, reference_id, position, address, size, type) VALUES (?, ?, ?, ?, ?, ?)`,
		acc.InstructionID, acc.ReferenceID, acc.Position, acc.Address, acc.Size, int(acc.Type))
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: insert access: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: insert access id: %w", err)
	}

	return model.AccessID(id), nil
}

func (s *Store) InsertReference(ctx context.Context, ref model.Reference) (model.ReferenceID, error) {
	var allocator, deallocator any
	if ref.HasAllocator {
		allocator = ref.AllocatorID
	}

	if ref.HasDeallocator {
		deallocator = ref.DeallocatorID
	}

	// A Reference is written at most once when first classified, and
	// again on deallocation to record its deallocator; reuse its id
	// across both writes via upsert on the row's own id when present.
	if ref.ID != 0 {
		_, err := s.exec(ctx,
			`INSERT INTO references_(id, name, base, size, kind, allocator_id, deallocator_id, was_accessed)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(id) DO UPDATE SET deallocator_id = excluded.deallocator_id, was_accessed = excluded.was_accessed`,
			ref.ID, ref.Name, ref.Base, ref.Size, int(ref.Kind), allocator, deallocator, ref.WasAccessed)
		if err != nil {
			return 0, fmt.Errorf("sqlitestore: insert reference: %w", err)
		}

		return ref.ID, nil
	}

	res, err := s.exec(ctx,
		`INSERT INTO references_(name, base, size, kind, allocator_id, deallocator_id, was_accessed)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ref.Name, ref.Base, ref.Size, int(ref.Kind), allocator, deallocator, ref.WasAccessed)
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: insert reference: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: insert reference id: %w", err)
	}

	return model.ReferenceID(id), nil
}

func (s *Store) InsertConflict(ctx context.Context, c model.Conflict) (model.ConflictID, error) {
	res, err := s.exec(ctx,
		`INSERT INTO conflicts(tag_instance_1, tag_instance_2, access_1, access_2) VALUES (?, ?, ?, ?)`,
		c.TagInstance1, c.TagInstance2, c.Access1, c.Access2)
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: insert conflict: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: insert conflict id: %w", err)
	}

	return model.ConflictID(id), nil
}

func (s *Store) InsertTagHit(ctx context.Context, tsc uint64, tagInstructionID model.TagInstructionID, threadID model.ThreadID) error {
	_, err := s.exec(ctx,
		`INSERT INTO tag_hits(tsc, tag_instruction_id, thread_id) VALUES (?, ?, ?)`,
		tsc, tagInstructionID, threadID)
	if err != nil {
		return fmt.Errorf("sqlitestore: insert tag hit: %w", err)
	}

	return nil
}

func (s *Store) GetFunctionIDByProperties(ctx context.Context, prototype string, imageID model.ImageID, file string, line int32) (model.FunctionID, bool, error) {
	row := s.queryRow(ctx,
		`SELECT f.id FROM functions f JOIN files fl ON fl.id = f.file_id
		 WHERE f.prototype = ? AND f.image_id = ? AND fl.path = ? AND f.line = ?`,
		prototype, imageID, file, line)

	var id int64

	err := row.Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}

	if err != nil {
		return 0, false, fmt.Errorf("sqlitestore: get function id: %w", err)
	}

	return model.FunctionID(id), true, nil
}

func (s *Store) GetImageIDByName(ctx context.Context, name string) (model.ImageID, bool, error) {
	row := s.queryRow(ctx, `SELECT id FROM images WHERE name = ?`, name)

	var id int64

	err := row.Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}

	if err != nil {
		return 0, false, fmt.Errorf("sqlitestore: get image id: %w", err)
	}

	return model.ImageID(id), true, nil
}

func (s *Store) GetSourceLocationByID(ctx context.Context, id model.SourceLocationID) (model.SourceLocation, bool, error) {
	row := s.queryRow(ctx, `SELECT function_id, line, column FROM source_locations WHERE id = ?`, id)

	var loc model.SourceLocation

	err := row.Scan(&loc.Function, &loc.Line, &loc.Column)
	if errors.Is(err, sql.ErrNoRows) {
		return model.SourceLocation{}, false, nil
	}

	if err != nil {
		return model.SourceLocation{}, false, fmt.Errorf("sqlitestore: get source location: %w", err)
	}

	return loc, true, nil
}
