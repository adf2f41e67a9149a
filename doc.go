// Package odb is an embeddable, process-local, in-memory object database:
// a DataStore holds arbitrary fixed- or variable-length records behind
// stable Handles, one or more Indexes maintain an ordering or grouping
// over those handles, and Iterators give bidirectional, snapshot-
// consistent traversal under concurrent mutation.
//
// A DataStore is opened in banked (direct, contiguous-slot) or
// linked-list mode via Open. Records are added with Add or AddVariable,
// which copy the caller's bytes (the indirect modes keep a reference to
// them instead), stamp a timestamp when expiry is
// configured, and publish the resulting Handle to every attached Index
// before returning. Indexes are created with NewRedBlackTreeIndex or
// NewLinkedListIndex and attached to a live store with DataStore.Attach,
// which populates them synchronously from current contents and keeps them
// consistent on every subsequent Add.
//
// RemoveSweep and RemoveCleanup implement bulk pruning and, for expiring
// stores, time-based expiry: RemoveSweep scans for records matching the
// store's prune Condition without touching storage, and RemoveCleanup
// compacts banked storage and notifies every attached index.
//
// The scheduler subpackage provides a worker pool that runs arbitrary
// deferred work, grouped into interference classes that serialize with
// respect to each other while running concurrently with unrelated classes.
// This package does not use it: a banked store's sweep scan fans out on
// its own goroutines.
//
// The Archive sink appends records and their byte offsets to an on-disk
// ".dat"/".ind" file pair for callers that want to retain a durable copy
// outside the in-memory store; it is not itself a source of truth and is
// not required for normal operation.
package odb
