// Package database provides the PostgreSQL connection pool used by the admin
// event archive, plus the schema it writes to.
package database
