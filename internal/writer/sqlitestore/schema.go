package sqlitestore

const schemaDDL = `
CREATE TABLE IF NOT EXISTS images (
  id   INTEGER PRIMARY KEY,
  name TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS files (
  id       INTEGER PRIMARY KEY,
  image_id INTEGER REFERENCES images(id),
  path     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS functions (
  id        INTEGER PRIMARY KEY,
  image_id  INTEGER REFERENCES images(id),
  file_id   INTEGER REFERENCES files(id),
  prototype TEXT NOT NULL,
  line      INTEGER,
  column    INTEGER
);

CREATE TABLE IF NOT EXISTS source_locations (
  id          INTEGER PRIMARY KEY,
  function_id INTEGER NOT NULL REFERENCES functions(id),
  line        INTEGER NOT NULL,
  column      INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS tags (
  id   INTEGER PRIMARY KEY,
  name TEXT NOT NULL,
  kind INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS tag_instructions (
  id          INTEGER PRIMARY KEY,
  tag_id      INTEGER NOT NULL REFERENCES tags(id),
  location_id INTEGER NOT NULL REFERENCES source_locations(id),
  side        INTEGER NOT NULL
);

-- tag_instances, calls, and segments carry ids the core pre-allocates
-- before the row exists (spec section 4.7); a Segment or a container's
-- CallTagInstance link can legally be written before the Call or
-- TagInstance row it names, since both are deferred until their owning
-- scope closes. Their columns naming another pre-allocated entity are
-- therefore plain integers, not enforced foreign keys; columns naming a
-- row written up front (tags, functions) stay REFERENCES constraints.
CREATE TABLE IF NOT EXISTS tag_instances (
  id         INTEGER PRIMARY KEY,
  tag_id     INTEGER NOT NULL REFERENCES tags(id),
  thread_id  INTEGER NOT NULL,
  start_tsc  INTEGER NOT NULL,
  end_tsc    INTEGER,
  has_ended  BOOLEAN NOT NULL DEFAULT FALSE,
  counter    INTEGER,
  parent_id  INTEGER
);

CREATE TABLE IF NOT EXISTS threads (
  id         INTEGER PRIMARY KEY,
  start_time INTEGER,
  start_tsc  INTEGER,
  end_time   INTEGER,
  end_tsc    INTEGER,
  ended      BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS calls (
  id             INTEGER PRIMARY KEY,
  thread_id      INTEGER NOT NULL,
  function_id    INTEGER NOT NULL REFERENCES functions(id),
  instruction_id INTEGER,
  start_tsc      INTEGER NOT NULL,
  end_tsc        INTEGER
);

CREATE TABLE IF NOT EXISTS segments (
  id      INTEGER PRIMARY KEY,
  call_id INTEGER NOT NULL,
  kind    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS instructions (
  id         INTEGER PRIMARY KEY,
  segment_id INTEGER NOT NULL,
  kind       INTEGER NOT NULL,
  line       INTEGER,
  column     INTEGER
);

CREATE TABLE IF NOT EXISTS instruction_tag_instances (
  instruction_id  INTEGER NOT NULL REFERENCES instructions(id),
  tag_instance_id INTEGER NOT NULL,
  PRIMARY KEY (instruction_id, tag_instance_id)
);

CREATE TABLE IF NOT EXISTS call_tag_instances (
  call_id         INTEGER NOT NULL,
  tag_instance_id INTEGER NOT NULL,
  PRIMARY KEY (call_id, tag_instance_id)
);

CREATE TABLE IF NOT EXISTS references_ (
  id              INTEGER PRIMARY KEY,
  name            TEXT NOT NULL,
  base            INTEGER NOT NULL,
  size            INTEGER NOT NULL,
  kind            INTEGER NOT NULL,
  allocator_id    INTEGER,
  deallocator_id  INTEGER,
  was_accessed    BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS accesses (
  id             INTEGER PRIMARY KEY,
  instruction_id INTEGER NOT NULL REFERENCES instructions(id),
  reference_id   INTEGER NOT NULL REFERENCES references_(id),
  position       INTEGER NOT NULL,
  address        INTEGER NOT NULL,
  size           INTEGER NOT NULL,
  type           INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS conflicts (
  id             INTEGER PRIMARY KEY,
  tag_instance_1 INTEGER NOT NULL,
  tag_instance_2 INTEGER NOT NULL,
  access_1       INTEGER NOT NULL REFERENCES accesses(id),
  access_2       INTEGER NOT NULL REFERENCES accesses(id)
);

CREATE TABLE IF NOT EXISTS tag_hits (
  id                 INTEGER PRIMARY KEY,
  tsc                INTEGER NOT NULL,
  tag_instruction_id INTEGER NOT NULL REFERENCES tag_instructions(id),
  thread_id          INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_files_image ON files(image_id);
CREATE INDEX IF NOT EXISTS idx_functions_image ON functions(image_id);
CREATE INDEX IF NOT EXISTS idx_functions_file ON functions(file_id);
CREATE INDEX IF NOT EXISTS idx_source_locations_function ON source_locations(function_id);
CREATE INDEX IF NOT EXISTS idx_tag_instructions_tag ON tag_instructions(tag_id);
CREATE INDEX IF NOT EXISTS idx_tag_instances_tag ON tag_instances(tag_id);
CREATE INDEX IF NOT EXISTS idx_tag_instances_thread ON tag_instances(thread_id);
CREATE INDEX IF NOT EXISTS idx_tag_instances_parent ON tag_instances(parent_id);
CREATE INDEX IF NOT EXISTS idx_calls_thread ON calls(thread_id);
CREATE INDEX IF NOT EXISTS idx_calls_function ON calls(function_id);
CREATE INDEX IF NOT EXISTS idx_segments_call ON segments(call_id);
CREATE INDEX IF NOT EXISTS idx_instructions_segment ON instructions(segment_id);
CREATE INDEX IF NOT EXISTS idx_accesses_instruction ON accesses(instruction_id);
CREATE INDEX IF NOT EXISTS idx_accesses_reference ON accesses(reference_id);
CREATE INDEX IF NOT EXISTS idx_conflicts_ti1 ON conflicts(tag_instance_1);
CREATE INDEX IF NOT EXISTS idx_conflicts_ti2 ON conflicts(tag_instance_2);
CREATE INDEX IF NOT EXISTS idx_tag_hits_thread ON tag_hits(thread_id);
`
