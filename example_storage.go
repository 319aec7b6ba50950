package notary

// Storage Backend Comparison
//
// This package provides four Store backends for integrity records:
//
// 1. POSIX File Storage (file_store.go) - DEFAULT FOR SINGLE HOSTS
//    - One append-only slot file; the newest generation of a slot wins
//    - Checksummed slots, compacted on open
//    - Exclusive file lock per process
//    - Zero external dependencies (stdlib only)
//    - Best for: single-node deployments, embedded use
//
// 2. SQLite Storage (sqlite_store.go)
//    - SQLite database with WAL mode
//    - Serializable transactions per write
//    - Best for: applications already using SQLite, ad-hoc queries
//
// 3. Redis Storage (redis_store.go)
//    - One key per address, SETNX to allocate, WATCH + SET XX to overwrite
//    - Best for: several notary front ends sharing one keyspace
//
// 4. Memory Storage (store.go)
//    - Map guarded by a RWMutex; contents are lost on exit
//    - Best for: tests and dry runs
//
// Every backend enforces the same contract: Create fails with ErrRecordExists on
// an allocated address and ErrSizeMismatch unless the data is RecordSize bytes;
// Update fails with ErrRecordNotFound on a missing address and ErrSizeMismatch if
// the size would change.
//
// Usage Examples:
//
// === POSIX File Storage ===
//
//   store, err := notary.OpenFileStore("/var/lib/notary")
//   if err != nil {
//       log.Fatal(err)
//   }
//   n, _ := notary.New(notary.Config{Authority: authority}, store, nil)
//
// === SQLite Storage ===
//
//   store, err := notary.OpenSQLiteStore("file:notary.db")
//
// === Redis Storage ===
//
//   store, err := notary.OpenRedisStore(ctx, "redis://localhost:6379/0", notary.DefaultRedisPrefix)
//
//
// File Format (POSIX storage):
//
//   accounts.dat format:
//   ┌──────────────────────────────────────────────┐
//   │ Slot 1                                       │
//   ├──────────────────────────────────────────────┤
//   │ [32 bytes] derived address                   │
//   │ [8 bytes]  generation (uint64 big-endian)    │
//   │ [4 bytes]  data size (uint32 big-endian)     │
//   │ [n bytes]  record bytes (see layout.go)      │
//   │ [4 bytes]  CRC-32C of the slot               │
//   ├──────────────────────────────────────────────┤
//   │ Slot 2                                       │
//   │ ...                                          │
//   └──────────────────────────────────────────────┘
//
//
// Migration Between Backends:
//
//   src, _ := notary.OpenSQLiteStore("notary.db")
//   dst, _ := notary.OpenFileStore("/var/lib/notary")
//   addrs, _ := src.List(ctx)
//   for _, addr := range addrs {
//       data, _ := src.Load(ctx, addr)
//       dst.Create(ctx, addr, data)
//   }
