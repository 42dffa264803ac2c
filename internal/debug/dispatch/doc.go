// Package dispatch serializes remote debugger actions onto a single worker.
//
// Callers submit named jobs and return immediately. The worker runs one job
// at a time in submission order, so at most one request/response exchange
// is ever in flight, and reports each outcome on the Done channel:
//
//	caller ──Submit──▶ queue ──▶ worker ──▶ job(ctx)
//	                                 │
//	                                 └──▶ Done() ◀── collaborator loop
//
// A job that panics is recovered and reported as ErrPanic.
package dispatch
