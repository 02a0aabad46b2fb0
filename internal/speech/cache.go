package speech

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

const cacheExt = ".mp3.zst"

// CachedEngine stores synthesized audio zstd-compressed on disk, keyed by
// engine, voice and text, so re-rendering the same script skips the network.
type CachedEngine struct {
	inner    Engine
	dir      string
	maxBytes int64
	logger   *slog.Logger

	encoder *zstd.Encoder
	decoder *zstd.Decoder

	mu sync.Mutex
}

// NewCachedEngine wraps inner with a disk cache under dir capped at maxBytes.
func NewCachedEngine(inner Engine, dir string, maxBytes int64, logger *slog.Logger) (*CachedEngine, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create speech cache directory: %w", err)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create zstd decoder: %w", err)
	}
	return &CachedEngine{
		inner:    inner,
		dir:      dir,
		maxBytes: maxBytes,
		logger:   logger,
		encoder:  enc,
		decoder:  dec,
	}, nil
}

func (c *CachedEngine) Name() string    { return c.inner.Name() }
func (c *CachedEngine) Available() bool { return c.inner.Available() }

// Key returns the cache key for a request.
func (c *CachedEngine) Key(req Request) string {
	h := sha256.New()
	h.Write([]byte(c.inner.Name()))
	h.Write([]byte{0})
	h.Write([]byte(req.Voice))
	h.Write([]byte{0})
	h.Write([]byte(req.Text))
	return hex.EncodeToString(h.Sum(nil))
}

func (c *CachedEngine) Synthesize(ctx context.Context, req Request) error {
	key := c.Key(req)
	entry := filepath.Join(c.dir, key+cacheExt)

	raw, err := c.load(entry)
	switch {
	case err != nil:
		c.logger.Warn("speech cache entry unreadable, regenerating", "key", key[:12], "error", err)
		os.Remove(entry)
	case raw != nil:
		// a write failure is the output's problem; the entry stays
		if err := os.WriteFile(req.OutPath, raw, 0644); err != nil {
			return fmt.Errorf("write cached speech: %w", err)
		}
		c.logger.Info("speech cache hit", "key", key[:12])
		return nil
	}

	if err := c.inner.Synthesize(ctx, req); err != nil {
		return err
	}

	if err := c.store(entry, req.OutPath); err != nil {
		c.logger.Warn("cannot store speech cache entry", "key", key[:12], "error", err)
	}
	return nil
}

// load returns the decoded audio of entry, or nil without an error when
// there is no entry. An error means the entry itself is bad.
func (c *CachedEngine) load(entry string) ([]byte, error) {
	data, err := os.ReadFile(entry)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	raw, err := c.decoder.DecodeAll(data, nil)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty entry")
	}

	now := time.Now()
	os.Chtimes(entry, now, now)
	return raw, nil
}

func (c *CachedEngine) store(entry, src string) error {
	raw, err := os.ReadFile(src)
	if err != nil {
		return err
	}

	c.mu.Lock()
	data := c.encoder.EncodeAll(raw, nil)
	c.mu.Unlock()

	tmp, err := os.CreateTemp(c.dir, ".entry-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), entry); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return c.evict()
}

// evict removes least recently used entries until the cache fits maxBytes.
func (c *CachedEngine) evict() error {
	if c.maxBytes <= 0 {
		return nil
	}
	matches, err := filepath.Glob(filepath.Join(c.dir, "*"+cacheExt))
	if err != nil {
		return err
	}

	type file struct {
		path string
		size int64
		mod  time.Time
	}
	var files []file
	var total int64
	for _, m := range matches {
		fi, err := os.Stat(m)
		if err != nil {
			continue
		}
		files = append(files, file{m, fi.Size(), fi.ModTime()})
		total += fi.Size()
	}
	if total <= c.maxBytes {
		return nil
	}

	sort.Slice(files, func(i, j int) bool { return files[i].mod.Before(files[j].mod) })
	for _, f := range files {
		if total <= c.maxBytes {
			break
		}
		if err := os.Remove(f.path); err == nil {
			total -= f.size
			c.logger.Debug("evicted speech cache entry", "file", filepath.Base(f.path))
		}
	}
	return nil
}

// Close releases the zstd encoder and decoder.
func (c *CachedEngine) Close() error {
	c.decoder.Close()
	return c.encoder.Close()
}
