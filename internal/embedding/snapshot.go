package embedding

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// Snapshot file layout (little endian):
//
//	magic "RCEC" | format version u16 | entry count u32
//	per entry: hash len u16 | hash | model len u16 | model |
//	           created unix sec i64 | dim u32 | dim × float32
var snapshotMagic = [4]byte{'R', 'C', 'E', 'C'}

const snapshotVersion uint16 = 1

// ErrSnapshotCorrupt indicates the snapshot file failed a consistency check.
// The snapshot is advisory; callers discard it and recompute on demand.
var ErrSnapshotCorrupt = errors.New("embedding snapshot corrupt")

// SaveSnapshot persists all resident embeddings to path so a restart does
// not recompute unchanged texts. The file is written atomically (temp file +
// rename) under an advisory file lock.
func (c *Cache) SaveSnapshot(path string) (int, error) {
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return 0, fmt.Errorf("locking snapshot: %w", err)
	}
	defer func() {
		_ = lock.Unlock()
	}()

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return 0, fmt.Errorf("creating snapshot directory: %w", err)
	}

	var entries []Embedding
	c.entries.Range(func(_ string, emb Embedding) bool {
		entries = append(entries, emb)
		return true
	})

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, fmt.Errorf("creating snapshot: %w", err)
	}

	w := bufio.NewWriter(f)
	if err := writeSnapshot(w, entries); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("writing snapshot: %w", err)
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("flushing snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("closing snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("replacing snapshot: %w", err)
	}

	c.logger.Debug("embedding snapshot saved", "path", path, "entries", len(entries))
	return len(entries), nil
}

// LoadSnapshot restores embeddings from a snapshot written by SaveSnapshot.
// Entries embedded by a different model than the current embedder are
// skipped. A missing file is not an error; a malformed one returns
// ErrSnapshotCorrupt.
func (c *Cache) LoadSnapshot(path string) (int, error) {
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return 0, fmt.Errorf("locking snapshot: %w", err)
	}
	defer func() {
		_ = lock.Unlock()
	}()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("opening snapshot: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	entries, err := readSnapshot(bufio.NewReader(f))
	if err != nil {
		return 0, err
	}

	loaded := 0
	model := c.embedder.Name()
	for _, emb := range entries {
		if emb.ModelID != model {
			continue
		}
		c.entries.Put(emb.ContentHash, emb)
		loaded++
	}

	c.logger.Debug("embedding snapshot loaded",
		"path", path,
		"entries", len(entries),
		"loaded", loaded)
	return loaded, nil
}

func writeSnapshot(w io.Writer, entries []Embedding) error {
	if _, err := w.Write(snapshotMagic[:]); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, snapshotVersion); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(entries))); err != nil {
		return err
	}

	for _, emb := range entries {
		if err := writeString(w, emb.ContentHash); err != nil {
			return err
		}
		if err := writeString(w, emb.ModelID); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, emb.CreatedAt.Unix()); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, uint32(len(emb.Vector))); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, emb.Vector); err != nil {
			return err
		}
	}
	return nil
}

func readSnapshot(r io.Reader) ([]Embedding, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("%w: short header", ErrSnapshotCorrupt)
	}
	if magic != snapshotMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrSnapshotCorrupt)
	}

	var version uint16
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("%w: missing version", ErrSnapshotCorrupt)
	}
	if version != snapshotVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrSnapshotCorrupt, version)
	}

	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("%w: missing entry count", ErrSnapshotCorrupt)
	}

	entries := make([]Embedding, 0, count)
	for i := uint32(0); i < count; i++ {
		hash, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d hash: %v", ErrSnapshotCorrupt, i, err)
		}
		model, err := readString(r)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d model: %v", ErrSnapshotCorrupt, i, err)
		}

		var createdUnix int64
		if err := binary.Read(r, binary.LittleEndian, &createdUnix); err != nil {
			return nil, fmt.Errorf("%w: entry %d timestamp: %v", ErrSnapshotCorrupt, i, err)
		}

		var dim uint32
		if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
			return nil, fmt.Errorf("%w: entry %d dimension: %v", ErrSnapshotCorrupt, i, err)
		}
		if dim == 0 || dim > 1<<16 {
			return nil, fmt.Errorf("%w: entry %d implausible dimension %d", ErrSnapshotCorrupt, i, dim)
		}

		vector := make([]float32, dim)
		if err := binary.Read(r, binary.LittleEndian, vector); err != nil {
			return nil, fmt.Errorf("%w: entry %d vector: %v", ErrSnapshotCorrupt, i, err)
		}

		entries = append(entries, Embedding{
			ContentHash: hash,
			ModelID:     model,
			CreatedAt:   time.Unix(createdUnix, 0),
			Vector:      vector,
		})
	}
	return entries, nil
}

func writeString(w io.Writer, s string) error {
	if len(s) > 1<<15 {
		return fmt.Errorf("string too long: %d", len(s))
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
