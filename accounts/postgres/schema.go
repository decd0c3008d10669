package postgres

// schemaSQL is formatted with the qualified accounts and sessions table names.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS %[1]s (
  id            TEXT PRIMARY KEY,
  identity      TEXT NOT NULL,
  name          TEXT NOT NULL DEFAULT '',
  password_hash TEXT NOT NULL,
  role          TEXT NOT NULL,
  tier          TEXT NOT NULL,
  created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),

  CONSTRAINT uq_accounts_identity UNIQUE (identity),
  CONSTRAINT chk_accounts_role CHECK (role IN ('standard', 'admin')),
  CONSTRAINT chk_accounts_tier CHECK (tier IN ('base', 'upgraded'))
);

CREATE TABLE IF NOT EXISTS %[2]s (
  account_id        TEXT NOT NULL REFERENCES %[1]s (id) ON DELETE CASCADE,
  position          INTEGER NOT NULL,
  id                TEXT NOT NULL,
  fingerprint       TEXT NOT NULL,
  token             TEXT NOT NULL,
  created_at        TIMESTAMPTZ NOT NULL,
  last_activity     TIMESTAMPTZ NOT NULL,
  client_descriptor TEXT NOT NULL DEFAULT '',
  network_address   TEXT NOT NULL DEFAULT '',

  PRIMARY KEY (account_id, position),
  CONSTRAINT uq_account_sessions_fingerprint UNIQUE (account_id, fingerprint)
);
`
