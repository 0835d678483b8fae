// Package app wires configuration, the license store, services and the
// HTTP transport into a runnable server.
package app
