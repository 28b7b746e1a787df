// Package server hosts the Fiber HTTP service that exposes the asset cache:
// request id middleware, the /assets routes and the error mapping from cache
// and fetch failures to HTTP status codes. Diagnostics under /-/ live in the
// routes subpackage so the binary decides which admin surfaces to mount.
package server
