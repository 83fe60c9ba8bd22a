// Package postgres implements task.Store on PostgreSQL through the pgx
// database/sql driver. Operations that move rows between the queued and
// running tables take a table lock that conflicts with itself, so concurrent
// claimers in different processes serialize on it.
package postgres
