// Package testutil provides deterministic helpers shared by tests: in-memory
// stores for every engine, a standard schema, sequential partition names and
// seeded random updates.
package testutil
