// Package postgres implements the aggregate store on PostgreSQL using
// pgx/v5. Claims use SELECT FOR UPDATE SKIP LOCKED so concurrent agents
// never wait on each other's in-flight claims, and the stale-job sweep
// joins the agent registry inside the same locked statement.
package postgres
