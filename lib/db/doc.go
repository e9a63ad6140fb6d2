// Package db provides the storage engine interface used by the lock stores.
//
// The KVDB interface covers exactly what a lock backend needs from an engine:
// plain and ttl writes, insert-if-absent, blind and compare-and-delete,
// point reads and prefix enumeration. Implementations advertise what they
// support through feature flags (SupportsFeature), so a store can refuse to
// start on an engine that lacks e.g. FeatureKeys.
//
// Write index:
//
// All write operations take a write index that acts as the engine clock.
// The stores pass unix milliseconds (forced to be strictly increasing), so a
// ttl of 30000 means 30 seconds. Reads do not take an index, they evaluate ttl
// against the latest index the engine has seen. Callers that want reads to
// observe the passing of time advance the clock with SetWriteIdx. The index
// never moves backwards, lower values are ignored.
//
// Garbage collection:
//
// Expired entries are hidden from every read immediately (Get, Has,
// KeysWithPrefix) and physically removed later by a background collector.
//
// The engines/maple package provides the in-memory implementation and the
// testing package a conformance suite (RunKVDBTests) every engine must pass.
package db
