package qjsbind

// IsolateConfig holds per-isolate engine limits.
type IsolateConfig struct {
	MemoryLimit  uint64 // heap ceiling in bytes; 0 uses DefaultMemoryLimit, NoMemoryLimit disables
	MaxStackSize uint64 // engine stack ceiling in bytes; 0 keeps the engine default
}

const (
	// DefaultMemoryLimit is used when IsolateConfig.MemoryLimit is zero.
	DefaultMemoryLimit = uint64(1) << 30

	// NoMemoryLimit disables the heap ceiling entirely.
	NoMemoryLimit = ^uint64(0)
)

// PoolConfig holds configuration for an isolate pool.
type PoolConfig struct {
	Size        int           // number of isolates kept warm
	Isolate     IsolateConfig // limits applied to every pooled isolate
	ResetScript string        // run when an isolate returns to the pool; a failing reset discards it
}

// CacheConfig holds configuration for the compiled-bytecode cache.
type CacheConfig struct {
	Path        string // sqlite database path; empty or ":memory:" for ephemeral
	Compression int    // brotli quality 1..11; 0 uses the default, negative disables
}

// InspectorConfig holds configuration for the debugger server.
type InspectorConfig struct {
	Addr       string // listen address, e.g. "127.0.0.1:9229"
	TargetName string // name reported on /json; defaults to "qjsbind"
}
