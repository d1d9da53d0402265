// Package migrations declares the schema migrations for dbplane's own
// operational tables. The set is compiled in so the migrate service needs no
// filesystem layout at runtime.
package migrations

import "github.com/dbplane/dbplane/internal/migration"

// All returns the full migration set in authoring order. The runner decides
// the execution order from the declared dependencies.
func All() []migration.Migration {
	return []migration.Migration{
		migration.NewBuilder("0001_create_pool_events", "create pool_events").
			Description("audit log of pool lifecycle events").
			UpSQL(`
				CREATE TABLE pool_events (
					id BIGSERIAL PRIMARY KEY,
					pool_name VARCHAR(255) NOT NULL,
					event VARCHAR(64) NOT NULL,
					detail TEXT,
					occurred_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
				)`).
			DownSQL(`DROP TABLE pool_events`).
			MustBuild(),

		migration.NewBuilder("0002_create_pool_snapshots", "create pool_snapshots").
			Description("periodic snapshots of pool metrics for trend analysis").
			DependsOn("0001_create_pool_events").
			UpSQL(`
				CREATE TABLE pool_snapshots (
					id BIGSERIAL PRIMARY KEY,
					pool_name VARCHAR(255) NOT NULL,
					total_connections INT NOT NULL,
					active_connections INT NOT NULL,
					health_score DOUBLE PRECISION NOT NULL,
					taken_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
				)`).
			DownSQL(`DROP TABLE pool_snapshots`).
			MustBuild(),

		migration.NewBuilder("0003_index_pool_events", "index pool_events by pool and time").
			DependsOn("0001_create_pool_events").
			UpSQL(`CREATE INDEX idx_pool_events_pool_time ON pool_events (pool_name, occurred_at)`).
			DownSQL(`DROP INDEX idx_pool_events_pool_time`).
			MustBuild(),

		migration.NewBuilder("0004_drop_legacy_stats", "drop legacy stats table").
			Description("removes the pre-dbplane stats table after backfill").
			Destructive(true).
			UpSQL(`DROP TABLE IF EXISTS legacy_pool_stats`).
			MustBuild(),
	}
}
