// Package license defines the license domain model shared by the
// lifecycle engine, the store adapters, and the HTTP transport.
//
// A License is issued once per order, carries an immutable key in the
// XXXX-XXXX-XXXX-XXXX format, and binds up to DeviceLimit device
// identifiers. The package owns key generation, key format validation,
// and the DeviceSet type; persistence and state transitions live in
// internal/store and internal/services respectively.
package license
