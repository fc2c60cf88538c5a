// Package authority runs the process that owns the simulation.
//
// Network goroutines (TCP accept and receive, UDP receive, admin HTTP)
// only parse bytes and enqueue actions. Every read or write of session and
// player state happens on the tick goroutine while it drains the dispatch
// queue, so the registry needs no locks.
package authority
