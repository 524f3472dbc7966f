package sqldriver

// A Dialect holds the statements a Driver runs against a specific database
// engine. The statements operate on a single table holding one JSON document
// per entity, keyed by schema name and identifier.
type Dialect struct {
	// Name identifies the dialect in logs and traces.
	Name string
	// Migrate creates the table if it does not exist.
	Migrate string
	// Find selects the payload of a single entity; its parameters are the schema
	// name and the identifier.
	Find string
	// Upsert inserts or replaces the payload of a single entity; its parameters
	// are the schema name, the identifier and the payload.
	Upsert string
}

// SQLite is the dialect of SQLite, as served by the pure-Go "sqlite" driver
// (modernc.org/sqlite).
var SQLite = Dialect{
	Name: "sqlite",
	Migrate: `
		CREATE TABLE IF NOT EXISTS entities (
			schema_name TEXT NOT NULL,
			id          TEXT NOT NULL,
			payload     TEXT NOT NULL,
			modified_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (schema_name, id)
		)
	`,
	Find: `SELECT payload FROM entities WHERE schema_name = ? AND id = ?`,
	Upsert: `
		INSERT INTO entities (schema_name, id, payload) VALUES (?, ?, ?)
		ON CONFLICT (schema_name, id) DO UPDATE
		SET payload = excluded.payload, modified_at = CURRENT_TIMESTAMP
	`,
}

// Postgres is the dialect of PostgreSQL, as served by the "pgx" driver
// (github.com/jackc/pgx/v5/stdlib).
var Postgres = Dialect{
	Name: "postgres",
	Migrate: `
		CREATE TABLE IF NOT EXISTS entities (
			schema_name TEXT NOT NULL,
			id          TEXT NOT NULL,
			payload     JSONB NOT NULL,
			modified_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (schema_name, id)
		)
	`,
	Find: `SELECT payload FROM entities WHERE schema_name = $1 AND id = $2`,
	Upsert: `
		INSERT INTO entities (schema_name, id, payload) VALUES ($1, $2, $3::jsonb)
		ON CONFLICT (schema_name, id) DO UPDATE
		SET payload = excluded.payload, modified_at = now()
	`,
}

// dialects maps database/sql driver names to their dialect.
var dialects = map[string]Dialect{
	"sqlite": SQLite,
	"pgx":    Postgres,
}
