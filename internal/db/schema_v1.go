package db

const initialSchemaV1 = `
CREATE TABLE IF NOT EXISTS operators (
    name        TEXT PRIMARY KEY,
    api_key     TEXT UNIQUE NOT NULL,
    role        TEXT DEFAULT 'operator' CHECK(role IN ('admin', 'operator')),
    created     TEXT NOT NULL,
    last_active TEXT
);

CREATE TABLE IF NOT EXISTS agents (
    id                  INTEGER PRIMARY KEY AUTOINCREMENT,
    name                TEXT NOT NULL,
    description         TEXT,
    active              INTEGER NOT NULL DEFAULT 1,
    handle              TEXT,
    credential          TEXT,
    topics              TEXT NOT NULL DEFAULT '[]',
    personality         TEXT,
    post_cadence        INTEGER NOT NULL DEFAULT 60 CHECK(post_cadence > 0),
    last_self_post      TEXT,
    interaction_enabled INTEGER NOT NULL DEFAULT 1,
    interaction_cadence INTEGER NOT NULL DEFAULT 30 CHECK(interaction_cadence > 0),
    behavior            TEXT NOT NULL DEFAULT 'friendly'
                        CHECK(behavior IN ('friendly', 'neutral', 'aggressive', 'analytical')),
    peers               TEXT NOT NULL DEFAULT '[]',
    created             TEXT NOT NULL,
    updated             TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_agents_active ON agents(active);

CREATE TABLE IF NOT EXISTS actions (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    agent_id        INTEGER NOT NULL,
    kind            TEXT NOT NULL
                    CHECK(kind IN ('post', 'endorse', 'comment', 'share', 'follow', 'generate', 'error')),
    content         TEXT,
    content_ref     TEXT,
    target_agent_id INTEGER,
    target_user_id  TEXT,
    outcome         TEXT NOT NULL CHECK(outcome IN ('success', 'failure')),
    error           TEXT,
    metadata        TEXT,
    created         TEXT NOT NULL,
    CHECK ((outcome = 'failure') = (error IS NOT NULL))
);

CREATE INDEX IF NOT EXISTS idx_actions_agent      ON actions(agent_id, id DESC);
CREATE INDEX IF NOT EXISTS idx_actions_agent_kind ON actions(agent_id, kind, outcome, id DESC);
CREATE INDEX IF NOT EXISTS idx_actions_target     ON actions(agent_id, target_agent_id) WHERE target_agent_id IS NOT NULL;

CREATE TRIGGER IF NOT EXISTS actions_append_only_update BEFORE UPDATE ON actions BEGIN
    SELECT RAISE(ABORT, 'actions are append-only');
END;

CREATE TRIGGER IF NOT EXISTS actions_append_only_delete BEFORE DELETE ON actions BEGIN
    SELECT RAISE(ABORT, 'actions are append-only');
END;

CREATE TABLE IF NOT EXISTS webhooks (
    id      TEXT PRIMARY KEY,
    url     TEXT NOT NULL,
    events  TEXT NOT NULL,
    secret  TEXT,
    created TEXT NOT NULL,
    active  INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS api_usage (
    service     TEXT PRIMARY KEY,
    endpoint    TEXT,
    calls_count INTEGER NOT NULL DEFAULT 0,
    daily_limit INTEGER NOT NULL DEFAULT 0,
    last_reset  TEXT NOT NULL,
    created     TEXT NOT NULL
);
`
