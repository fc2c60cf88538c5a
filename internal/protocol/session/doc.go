// Package session holds the transport tuning shared by the authority and the
// peer: buffer sizes, send queue depth, timeouts and reconnect backoff.
package session
