package index

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// Snapshot file layout (little endian):
//
//	magic "RCVI" | format version u16 | metric len u16 | metric |
//	dimension u32 | entry count u32
//	per entry: chunk ID len u16 | chunk ID | document ID len u16 |
//	           document ID | dimension × float32
var indexMagic = [4]byte{'R', 'C', 'V', 'I'}

const indexSnapshotVersion uint16 = 1

// Save persists the index contents to a single snapshot file so a restart
// can reload the ordinal→chunk mapping without re-embedding. Written
// atomically under an advisory file lock.
func (m *Memory) Save(path string) (int, error) {
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return 0, fmt.Errorf("locking index snapshot: %w", err)
	}
	defer func() {
		_ = lock.Unlock()
	}()

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return 0, fmt.Errorf("creating snapshot directory: %w", err)
	}

	snap := m.snap.Load()

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, fmt.Errorf("creating index snapshot: %w", err)
	}

	w := bufio.NewWriter(f)
	if err := m.writeSnapshot(w, snap); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("writing index snapshot: %w", err)
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("flushing index snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("closing index snapshot: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return 0, fmt.Errorf("replacing index snapshot: %w", err)
	}

	m.logger.Debug("index snapshot saved", "path", path, "entries", len(snap.entries))
	return len(snap.entries), nil
}

// Load replaces the index contents from a snapshot written by Save. A
// missing file leaves the index empty and is not an error. A snapshot whose
// dimension or metric disagrees with the index configuration, or that fails
// to parse, returns ErrIndexCorrupt; the caller rebuilds from the chunk
// store.
func (m *Memory) Load(ctx context.Context, path string) (int, error) {
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return 0, fmt.Errorf("locking index snapshot: %w", err)
	}
	defer func() {
		_ = lock.Unlock()
	}()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("opening index snapshot: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()

	entries, err := m.readSnapshot(bufio.NewReader(f))
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	m.snap.Store(&memSnapshot{byChunk: make(map[string]int)})
	m.mu.Unlock()

	if err := m.Insert(ctx, entries...); err != nil {
		return 0, fmt.Errorf("%w: reinserting snapshot entries: %v", ErrIndexCorrupt, err)
	}

	m.logger.Debug("index snapshot loaded", "path", path, "entries", len(entries))
	return len(entries), nil
}

func (m *Memory) writeSnapshot(w io.Writer, snap *memSnapshot) error {
	if _, err := w.Write(indexMagic[:]); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, indexSnapshotVersion); err != nil {
		return err
	}
	if err := writeSnapString(w, string(m.metric)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(m.dim)); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(snap.entries))); err != nil {
		return err
	}

	for i := range snap.entries {
		e := &snap.entries[i]
		if err := writeSnapString(w, e.chunkID); err != nil {
			return err
		}
		if err := writeSnapString(w, e.documentID); err != nil {
			return err
		}
		if err := binary.Write(w, binary.LittleEndian, e.vector); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) readSnapshot(r io.Reader) ([]Entry, error) {
	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return nil, fmt.Errorf("%w: short header", ErrIndexCorrupt)
	}
	if magic != indexMagic {
		return nil, fmt.Errorf("%w: bad magic", ErrIndexCorrupt)
	}

	var version uint16
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return nil, fmt.Errorf("%w: missing version", ErrIndexCorrupt)
	}
	if version != indexSnapshotVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrIndexCorrupt, version)
	}

	metric, err := readSnapString(r)
	if err != nil {
		return nil, fmt.Errorf("%w: metric: %v", ErrIndexCorrupt, err)
	}
	if Metric(metric) != m.metric {
		return nil, fmt.Errorf("%w: snapshot metric %q, index configured for %q", ErrIndexCorrupt, metric, m.metric)
	}

	var dim uint32
	if err := binary.Read(r, binary.LittleEndian, &dim); err != nil {
		return nil, fmt.Errorf("%w: missing dimension", ErrIndexCorrupt)
	}
	if int(dim) != m.dim {
		return nil, fmt.Errorf("%w: snapshot dimension %d, index configured for %d", ErrIndexCorrupt, dim, m.dim)
	}

	var count uint32
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, fmt.Errorf("%w: missing entry count", ErrIndexCorrupt)
	}

	entries := make([]Entry, 0, count)
	for i := uint32(0); i < count; i++ {
		chunkID, err := readSnapString(r)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d chunk ID: %v", ErrIndexCorrupt, i, err)
		}
		docID, err := readSnapString(r)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d document ID: %v", ErrIndexCorrupt, i, err)
		}

		vector := make([]float32, dim)
		if err := binary.Read(r, binary.LittleEndian, vector); err != nil {
			return nil, fmt.Errorf("%w: entry %d vector: %v", ErrIndexCorrupt, i, err)
		}

		entries = append(entries, Entry{
			ChunkID:    chunkID,
			DocumentID: docID,
			Vector:     vector,
		})
	}
	return entries, nil
}

func writeSnapString(w io.Writer, s string) error {
	if len(s) > 1<<15 {
		return fmt.Errorf("string too long: %d", len(s))
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readSnapString(r io.Reader) (string, error) {
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
