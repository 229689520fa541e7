// Package server implements the HTTP server and HTTP handlers for
// the microblog application. It wires together the routes, the
// dependencies (database, object store, session cache), and provides
// lifecycle helpers used by tests and the production binary.
package server
