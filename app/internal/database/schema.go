package database

// schema is applied on every start and before every scheduled job; it must stay idempotent.
// All instants are epoch milliseconds.
const schema = `
CREATE TABLE IF NOT EXISTS devices (
  id TEXT PRIMARY KEY,
  key TEXT NOT NULL UNIQUE,
  name TEXT NOT NULL,
  group_name TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL DEFAULT 'unknown',
  last_ping INTEGER,
  last_status_change INTEGER,
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_devices_status ON devices(status, last_ping);

CREATE TABLE IF NOT EXISTS pings (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  device_id TEXT NOT NULL,
  timestamp INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_pings_device_time ON pings(device_id, timestamp);

CREATE TABLE IF NOT EXISTS outages (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  device_id TEXT NOT NULL,
  start_time INTEGER NOT NULL,
  end_time INTEGER,
  duration INTEGER
);
CREATE INDEX IF NOT EXISTS idx_outages_device_time ON outages(device_id, start_time);
CREATE UNIQUE INDEX IF NOT EXISTS idx_outages_one_open ON outages(device_id) WHERE end_time IS NULL;

CREATE TABLE IF NOT EXISTS schedule_days (
  date TEXT NOT NULL,
  group_name TEXT NOT NULL,
  slots TEXT NOT NULL,
  updated_at INTEGER NOT NULL,
  PRIMARY KEY (date, group_name)
);

CREATE TABLE IF NOT EXISTS telegram_chart (
  id INTEGER PRIMARY KEY CHECK (id = 1),
  message_id INTEGER NOT NULL,
  week_start TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS system_logs (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  timestamp TEXT NOT NULL,
  level TEXT NOT NULL,
  category TEXT NOT NULL,
  subject TEXT,
  message TEXT NOT NULL,
  details TEXT
);
CREATE INDEX IF NOT EXISTS idx_system_logs_timestamp ON system_logs(timestamp);
`
