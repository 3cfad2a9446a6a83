/*
Package storage provides the durable key-value abstraction behind the
telemetry queue's offline mirror.

# KV Interface

The queue only needs three operations on opaque values:

	type KV interface {
	    Get(ctx context.Context, key string) ([]byte, error)
	    Set(ctx context.Context, key string, value []byte) error
	    Remove(ctx context.Context, key string) error
	    Close() error
	}

Backends:
  - memory: a map guarded by a mutex. Nothing survives a restart.
  - badger: BadgerDB with conservative memory settings. Values carry an
    xxhash checksum so a torn or corrupted snapshot is reported as
    ErrCorrupt instead of being handed to the JSON decoder.

# Usage Example

	import "github.com/nicktill/tinymon/pkg/storage/badger"

	store, err := badger.New(badger.Config{Path: "./data/queue"})
	if err != nil {
	    log.Fatal(err)
	}
	defer store.Close()

	client, err := sdk.New(cfg, sdk.WithStore(store))

The in-memory queue is always authoritative. Storage is read once at
startup and rewritten after every queue mutation; a failing backend
degrades the client to memory-only operation.
*/
package storage
