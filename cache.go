package qjsbind

import (
	"bytes"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/andybalholm/brotli"
	"go.uber.org/zap"

	// Pure-Go SQLite driver for database/sql.
	_ "github.com/glebarez/sqlite"
)

const maxBytecodeSize = 64 * 1024 * 1024

// BytecodeCache persists compiled bytecode across processes, keyed by
// source digest. Entries are brotli-compressed unless disabled.
type BytecodeCache struct {
	db      *sql.DB
	quality int
}

// OpenBytecodeCache opens (or creates) a bytecode cache database.
func OpenBytecodeCache(cfg CacheConfig) (*BytecodeCache, error) {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening bytecode cache %q: %w", path, err)
	}
	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS bytecode (
		key        TEXT PRIMARY KEY,
		compressed INTEGER NOT NULL,
		data       BLOB NOT NULL,
		created_at INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating bytecode table: %w", err)
	}
	quality := cfg.Compression
	if quality == 0 {
		quality = brotli.DefaultCompression
	}
	if quality > brotli.BestCompression {
		quality = brotli.BestCompression
	}
	return &BytecodeCache{db: db, quality: quality}, nil
}

// CacheKey digests source text into a cache key.
func CacheKey(source string) string {
	sum := sha256.Sum256([]byte(source))
	return hex.EncodeToString(sum[:])
}

// Put stores bytecode under key, replacing any previous entry.
func (c *BytecodeCache) Put(key string, bytecode []byte) error {
	data := bytecode
	compressed := 0
	if c.quality > 0 {
		var buf bytes.Buffer
		w := brotli.NewWriterLevel(&buf, c.quality)
		if _, err := w.Write(bytecode); err != nil {
			return fmt.Errorf("compressing bytecode: %w", err)
		}
		if err := w.Close(); err != nil {
			return fmt.Errorf("compressing bytecode: %w", err)
		}
		data = buf.Bytes()
		compressed = 1
	}
	_, err := c.db.Exec(
		`INSERT OR REPLACE INTO bytecode (key, compressed, data, created_at) VALUES (?, ?, ?, ?)`,
		key, compressed, data, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("storing bytecode %q: %w", key, err)
	}
	return nil
}

// Get loads bytecode stored under key. ErrCacheMiss when absent.
func (c *BytecodeCache) Get(key string) ([]byte, error) {
	var compressed int
	var data []byte
	err := c.db.QueryRow(`SELECT compressed, data FROM bytecode WHERE key = ?`, key).
		Scan(&compressed, &data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("loading bytecode %q: %w", key, err)
	}
	if compressed == 0 {
		return data, nil
	}
	r := io.LimitReader(brotli.NewReader(bytes.NewReader(data)), maxBytecodeSize+1)
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decompressing bytecode %q: %w", key, err)
	}
	if len(out) > maxBytecodeSize {
		return nil, fmt.Errorf("bytecode %q exceeds size limit", key)
	}
	return out, nil
}

// Delete drops the entry under key.
func (c *BytecodeCache) Delete(key string) error {
	_, err := c.db.Exec(`DELETE FROM bytecode WHERE key = ?`, key)
	return err
}

// Close releases the database.
func (c *BytecodeCache) Close() error {
	return c.db.Close()
}

// CompileWithCache compiles code, serving and refreshing cache entries
// keyed by the source digest. Corrupt entries are dropped and the code
// recompiled.
func (cs *ContextScope) CompileWithCache(cache *BytecodeCache, code, origin string) (*Script, error) {
	key := CacheKey(code)
	if b, err := cache.Get(key); err == nil {
		s, err := cs.ScriptFromBytecode(b)
		if err == nil {
			return s, nil
		}
		Logger().Warn("dropping corrupt bytecode entry", zap.String("key", key), zap.Error(err))
		if err := cache.Delete(key); err != nil {
			Logger().Warn("dropping bytecode entry failed", zap.String("key", key), zap.Error(err))
		}
	} else if !errors.Is(err, ErrCacheMiss) {
		Logger().Warn("bytecode cache read failed", zap.String("key", key), zap.Error(err))
	}

	s, err := cs.Compile(code, origin)
	if err != nil {
		return nil, err
	}
	if b, err := s.Bytecode(); err == nil {
		if err := cache.Put(key, b); err != nil {
			Logger().Warn("bytecode cache write failed", zap.String("key", key), zap.Error(err))
		}
	}
	return s, nil
}
