// Package permission models the role/permission graph vocabulary: permission
// grains of the form "resource.action", permission sets, the well-known
// system roles, and the default catalogue loaded from embedded YAML.
//
// # Architecture boundaries
//
// This package is pure data with no I/O beyond reading its embedded
// catalogue. Persistence of roles and assignments belongs to the store;
// resolution of a user's effective set belongs to the engine.
package permission
