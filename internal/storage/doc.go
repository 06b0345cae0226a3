// Package storage persists the activation record redundantly.
//
// A Store writes the same blob to every configured Backend (vendor-private
// files, the OS secure store, the application database) and on load picks
// the newest candidate that passes the caller's validation. Losing or
// corrupting one location therefore does not lose the activation.
package storage
