// Package memory provides in-memory implementations of the storage interfaces.
//
// Store implements storage.CodeStore and storage.TokenStore using maps guarded by
// a sync.RWMutex. Authorization codes are consumed with an atomic get-and-delete
// so concurrent redemptions of one code cannot both succeed. Expired entries are
// removed by a background cleanup goroutine.
//
// Directory implements storage.UserDirectory with bcrypt password hashes.
//
// Nothing survives a process restart.
//
// Example usage:
//
//	store := memory.New()
//	defer store.Stop()
//
//	users := memory.NewDirectory()
//	_, _ = users.AddUser("", "alice@example.com", "s3cret")
//
//	srv, _ := server.New(codec, store, store, users, signer, cfg, logger)
package memory
