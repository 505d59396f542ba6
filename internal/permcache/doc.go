// Package permcache is an optional Redis cache of resolved permission sets.
//
// Entries expire no later than the access-token TTL and the earliest role
// expiry of the user, both chosen by the caller. Nothing is cached in
// process memory.
package permcache
