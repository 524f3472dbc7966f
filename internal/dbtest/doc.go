/*
Package dbtest spins up database containers for the tests of the storage
drivers. It wraps testcontainers-go with one Setup function per database:

  - SetupNeo4j returns a driver connected to a Neo4j server,
  - SetupPostgres returns a database/sql handle using the pgx driver, and
  - SetupRedis returns a go-redis client.

Use this package when the details of the database are not important to the
test. When they are, use the testcontainers-go modules directly.

Every container is skipped with the '-short' flag and torn down when the test
completes. To keep a container running after a test failure, for a manual look
at the database, set the Inspect flag:

	go test -dbtest.inspect

This package is intended to be used in tests only.
*/
package dbtest
