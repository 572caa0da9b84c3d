package db

// baseSchema is the first schema version: the catalog, the activity ledger and
// the session staging tables.
const baseSchema = `
CREATE TABLE IF NOT EXISTS locations (
    id          TEXT PRIMARY KEY,
    name        TEXT NOT NULL UNIQUE,
    description TEXT NOT NULL DEFAULT '',
    created_at  DATETIME NOT NULL,
    updated_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS bins (
    id            TEXT PRIMARY KEY,
    location_id   TEXT NOT NULL REFERENCES locations(id),
    parent_bin_id TEXT REFERENCES bins(id),
    name          TEXT NOT NULL,
    description   TEXT NOT NULL DEFAULT '',
    created_at    DATETIME NOT NULL,
    updated_at    DATETIME NOT NULL
);

-- Root bins and nested bins are unique separately: NULL never collides in a
-- composite unique index.
CREATE UNIQUE INDEX IF NOT EXISTS idx_bins_root_name
    ON bins(location_id, name) WHERE parent_bin_id IS NULL;
CREATE UNIQUE INDEX IF NOT EXISTS idx_bins_child_name
    ON bins(location_id, parent_bin_id, name) WHERE parent_bin_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_bins_parent ON bins(parent_bin_id);

CREATE TABLE IF NOT EXISTS bin_images (
    id                      TEXT PRIMARY KEY,
    bin_id                  TEXT NOT NULL REFERENCES bins(id) ON DELETE CASCADE,
    image_ref               TEXT NOT NULL,
    thumbnail_ref           TEXT NOT NULL DEFAULT '',
    caption                 TEXT NOT NULL DEFAULT '',
    is_primary              INTEGER NOT NULL DEFAULT 0,
    source_session_id       TEXT,
    source_session_image_id TEXT,
    width                   INTEGER NOT NULL DEFAULT 0,
    height                  INTEGER NOT NULL DEFAULT 0,
    size_bytes              INTEGER NOT NULL DEFAULT 0,
    created_at              DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_bin_images_bin ON bin_images(bin_id);
CREATE INDEX IF NOT EXISTS idx_bin_images_session ON bin_images(source_session_id);

CREATE TABLE IF NOT EXISTS categories (
    id          TEXT PRIMARY KEY,
    parent_id   TEXT REFERENCES categories(id),
    name        TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    created_at  DATETIME NOT NULL,
    updated_at  DATETIME NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_categories_root_name
    ON categories(name) WHERE parent_id IS NULL;
CREATE UNIQUE INDEX IF NOT EXISTS idx_categories_child_name
    ON categories(parent_id, name) WHERE parent_id IS NOT NULL;

CREATE TABLE IF NOT EXISTS items (
    id               TEXT PRIMARY KEY,
    bin_id           TEXT NOT NULL REFERENCES bins(id),
    category_id      TEXT REFERENCES categories(id),
    name             TEXT NOT NULL,
    description      TEXT NOT NULL DEFAULT '',
    quantity_type    TEXT NOT NULL CHECK (quantity_type IN ('exact', 'approximate', 'boolean')),
    quantity_value   INTEGER NOT NULL CHECK (quantity_value >= 0),
    quantity_label   TEXT NOT NULL DEFAULT '',
    source           TEXT NOT NULL CHECK (source IN ('manual', 'vision', 'barcode')),
    source_reference TEXT NOT NULL DEFAULT '',
    notes            TEXT NOT NULL DEFAULT '',
    photo_ref        TEXT NOT NULL DEFAULT '',
    created_at       DATETIME NOT NULL,
    updated_at       DATETIME NOT NULL,
    CHECK (quantity_type != 'boolean' OR quantity_value = 1)
);
CREATE INDEX IF NOT EXISTS idx_items_bin ON items(bin_id);
CREATE INDEX IF NOT EXISTS idx_items_category ON items(category_id);

CREATE TABLE IF NOT EXISTS item_aliases (
    id         TEXT PRIMARY KEY,
    item_id    TEXT NOT NULL REFERENCES items(id) ON DELETE CASCADE,
    alias      TEXT NOT NULL,
    created_at DATETIME NOT NULL,
    UNIQUE (item_id, alias)
);

-- The ledger has no foreign key to items: history outlives the item.
CREATE TABLE IF NOT EXISTS activity_log (
    seq             INTEGER PRIMARY KEY AUTOINCREMENT,
    id              TEXT NOT NULL UNIQUE,
    item_id         TEXT NOT NULL,
    related_item_id TEXT,
    item_name       TEXT NOT NULL DEFAULT '',
    action          TEXT NOT NULL CHECK (action IN ('added', 'removed', 'moved', 'updated', 'used')),
    quantity_delta  INTEGER,
    from_bin_id     TEXT,
    to_bin_id       TEXT,
    note            TEXT NOT NULL DEFAULT '',
    details         TEXT,
    created_at      DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_activity_item ON activity_log(item_id);
CREATE INDEX IF NOT EXISTS idx_activity_related ON activity_log(related_item_id);
CREATE INDEX IF NOT EXISTS idx_activity_created ON activity_log(created_at);

CREATE TRIGGER IF NOT EXISTS activity_log_no_update
BEFORE UPDATE ON activity_log
BEGIN
    SELECT RAISE(ABORT, 'activity_log is append-only');
END;

CREATE TRIGGER IF NOT EXISTS activity_log_no_delete
BEFORE DELETE ON activity_log
BEGIN
    SELECT RAISE(ABORT, 'activity_log is append-only');
END;

CREATE TABLE IF NOT EXISTS sessions (
    id                 TEXT PRIMARY KEY,
    status             TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'committed', 'cancelled')),
    target_bin_id      TEXT REFERENCES bins(id) ON DELETE SET NULL,
    target_location_id TEXT REFERENCES locations(id) ON DELETE SET NULL,
    summary            TEXT,
    created_at         DATETIME NOT NULL,
    updated_at         DATETIME NOT NULL,
    committed_at       DATETIME,
    cancelled_at       DATETIME
);
CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);

CREATE TABLE IF NOT EXISTS session_images (
    id                TEXT PRIMARY KEY,
    session_id        TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    image_ref         TEXT NOT NULL,
    thumbnail_ref     TEXT NOT NULL DEFAULT '',
    original_filename TEXT NOT NULL DEFAULT '',
    width             INTEGER NOT NULL DEFAULT 0,
    height            INTEGER NOT NULL DEFAULT 0,
    size_bytes        INTEGER NOT NULL DEFAULT 0,
    extraction_status TEXT NOT NULL DEFAULT 'none'
        CHECK (extraction_status IN ('none', 'queued', 'done', 'failed')),
    extracted_data    TEXT,
    extraction_error  TEXT NOT NULL DEFAULT '',
    discarded         INTEGER NOT NULL DEFAULT 0,
    created_at        DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_session_images_session ON session_images(session_id);

CREATE TABLE IF NOT EXISTS pending_items (
    id              TEXT PRIMARY KEY,
    session_id      TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    source_image_id TEXT REFERENCES session_images(id) ON DELETE SET NULL,
    category_id     TEXT REFERENCES categories(id) ON DELETE SET NULL,
    name            TEXT NOT NULL,
    description     TEXT NOT NULL DEFAULT '',
    quantity_type   TEXT NOT NULL CHECK (quantity_type IN ('exact', 'approximate', 'boolean')),
    quantity_value  INTEGER NOT NULL CHECK (quantity_value >= 0),
    quantity_label  TEXT NOT NULL DEFAULT '',
    source          TEXT NOT NULL CHECK (source IN ('vision', 'manual')),
    confidence      REAL,
    notes           TEXT NOT NULL DEFAULT '',
    created_at      DATETIME NOT NULL,
    updated_at      DATETIME NOT NULL,
    CHECK (quantity_type != 'boolean' OR quantity_value = 1)
);
CREATE INDEX IF NOT EXISTS idx_pending_items_session ON pending_items(session_id);

CREATE TABLE IF NOT EXISTS settings (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS revoked_tokens (
    jti        TEXT PRIMARY KEY,
    expires_at DATETIME NOT NULL
);
`

// searchSchema adds the lexical index and the embedding store.
const searchSchema = `
CREATE VIRTUAL TABLE IF NOT EXISTS items_fts USING fts5(
    item_id UNINDEXED,
    name,
    description,
    notes,
    aliases,
    tokenize = 'unicode61 remove_diacritics 2'
);

CREATE TABLE IF NOT EXISTS item_embeddings (
    item_id      TEXT PRIMARY KEY REFERENCES items(id) ON DELETE CASCADE,
    model        TEXT NOT NULL,
    content_hash TEXT NOT NULL,
    vector       BLOB NOT NULL,
    updated_at   DATETIME NOT NULL
);
`
