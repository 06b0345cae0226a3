// Package middleware provides the HTTP middleware for the loopback license
// API and for host applications that gate routes on the license status.
package middleware
