package storage

import "context"

// Store is a flat key-value persistence capability. Load reports found=false
// for a key that was never saved.
type Store interface {
	Load(ctx context.Context, key string) (value []byte, found bool, err error)
	Save(ctx context.Context, key string, value []byte) error
}

// SchemaStore is a Store that needs its schema created before first use.
type SchemaStore interface {
	Store
	EnsureSchema(ctx context.Context) error
}
