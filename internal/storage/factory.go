package storage

import "fmt"

const DefaultStoreKind = "sqlite"

// NewStore builds a backend by kind. target is the sqlite file path or the
// postgres DSN; it is ignored for the memory backend.
func NewStore(kind, target string) (Store, error) {
	switch kind {
	case "memory":
		return NewMemoryStore(), nil
	case "", "sqlite":
		return NewSQLiteStore(target), nil
	case "sqlite+cbor":
		return NewSQLiteStore(target, WithSQLiteCodec(CBOR)), nil
	case "postgres":
		return NewPostgresStoreFromDSN(target), nil
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", kind)
	}
}

func CloseIfSupported(store Store) error {
	closer, ok := store.(interface{ Close() error })
	if !ok {
		return nil
	}
	return closer.Close()
}
