package journal

// SQLiteSchema stores money as TEXT so decimals round-trip exactly and
// times as fixed-width UTC text so they sort lexically.
const SQLiteSchema = `
CREATE TABLE IF NOT EXISTS trades (
	id INTEGER PRIMARY KEY,
	intent_id TEXT NOT NULL,
	time TEXT NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	quantity INTEGER NOT NULL,
	price TEXT NOT NULL,
	quote_price TEXT NOT NULL,
	commission TEXT NOT NULL,
	cash_delta TEXT NOT NULL,
	realized_pl TEXT NOT NULL,
	source TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_time ON trades(time);
CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);

CREATE TABLE IF NOT EXISTS ledger_snapshot (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	initial_cash TEXT NOT NULL,
	cash TEXT NOT NULL,
	last_trade_id INTEGER NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
	symbol TEXT PRIMARY KEY,
	quantity INTEGER NOT NULL,
	avg_cost TEXT NOT NULL
);
`

const PostgresSchema = `
CREATE TABLE IF NOT EXISTS trades (
	id BIGINT PRIMARY KEY,
	intent_id TEXT NOT NULL,
	time TIMESTAMPTZ NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	quantity BIGINT NOT NULL,
	price NUMERIC NOT NULL,
	quote_price NUMERIC NOT NULL,
	commission NUMERIC NOT NULL,
	cash_delta NUMERIC NOT NULL,
	realized_pl NUMERIC NOT NULL,
	source TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_trades_time ON trades(time);
CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);

CREATE TABLE IF NOT EXISTS ledger_snapshot (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	initial_cash NUMERIC NOT NULL,
	cash NUMERIC NOT NULL,
	last_trade_id BIGINT NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS positions (
	symbol TEXT PRIMARY KEY,
	quantity BIGINT NOT NULL,
	avg_cost NUMERIC NOT NULL
);
`
