// Package transport owns the raw sockets: a framed TCP stream per session
// and a datagram socket per process. Receive loops run on their own
// goroutines and hand complete frames to callbacks; they never touch
// session or simulation state directly.
package transport
