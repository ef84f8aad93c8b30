package analytics

import "embed"

//go:embed db/postgres/events/*.sql
var PostgresEventsMigrationsFS embed.FS

//go:embed db/postgres/main/*.sql
var PostgresMainMigrationsFS embed.FS

//go:embed db/clickhouse/migrations/*.sql
var ClickHouseMigrationsFS embed.FS
