package telemetry

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/DataDog/zstd"

	"github.com/pthm-cable/plife3d/components"
)

// SnapshotVersion is incremented when the format changes.
const SnapshotVersion = 1

// snapshotMagic opens every snapshot file.
var snapshotMagic = [4]byte{'P', 'L', '3', 'D'}

// ErrSnapshotFormat reports a file that is not a readable snapshot.
var ErrSnapshotFormat = errors.New("bad snapshot format")

// zstdLevel trades ratio for speed; snapshots are taken inside the run loop.
const zstdLevel = 1

// Snapshot holds the complete particle state at one tick. Together with the
// recipe it is enough to resume or inspect a run.
type Snapshot struct {
	Seed         int64
	Tick         int32
	DomainSize   float32
	SpeciesCount int32
	TrackedIndex int32

	Particles []components.Particle
}

// snapshotHeader is the fixed-size little-endian file header.
type snapshotHeader struct {
	Magic        [4]byte
	Version      uint32
	Seed         int64
	Tick         int32
	DomainSize   float32
	SpeciesCount int32
	TrackedIndex int32
	Count        uint32
}

// WriteSnapshot encodes a snapshot: the raw header, then the int64 length of
// a zstd block holding the particle array.
func WriteSnapshot(w io.Writer, snap *Snapshot) error {
	hdr := snapshotHeader{
		Magic:        snapshotMagic,
		Version:      SnapshotVersion,
		Seed:         snap.Seed,
		Tick:         snap.Tick,
		DomainSize:   snap.DomainSize,
		SpeciesCount: snap.SpeciesCount,
		TrackedIndex: snap.TrackedIndex,
		Count:        uint32(len(snap.Particles)),
	}
	if err := binary.Write(w, binary.LittleEndian, &hdr); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	var raw bytes.Buffer
	raw.Grow(len(snap.Particles) * binary.Size(components.Particle{}))
	if err := binary.Write(&raw, binary.LittleEndian, snap.Particles); err != nil {
		return fmt.Errorf("encode particles: %w", err)
	}
	block, err := zstd.CompressLevel(nil, raw.Bytes(), zstdLevel)
	if err != nil {
		return fmt.Errorf("compress particles: %w", err)
	}

	if err := binary.Write(w, binary.LittleEndian, int64(len(block))); err != nil {
		return fmt.Errorf("write block length: %w", err)
	}
	if _, err := w.Write(block); err != nil {
		return fmt.Errorf("write block: %w", err)
	}
	return nil
}

// ReadSnapshot decodes a snapshot written by WriteSnapshot.
func ReadSnapshot(r io.Reader) (*Snapshot, error) {
	var hdr snapshotHeader
	if err := binary.Read(r, binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if hdr.Magic != snapshotMagic {
		return nil, fmt.Errorf("magic %q: %w", hdr.Magic[:], ErrSnapshotFormat)
	}
	if hdr.Version != SnapshotVersion {
		return nil, fmt.Errorf("version %d, want %d: %w", hdr.Version, SnapshotVersion, ErrSnapshotFormat)
	}

	var n int64
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, fmt.Errorf("read block length: %w", err)
	}
	if n < 0 || n > 1<<34 {
		return nil, fmt.Errorf("block length %d: %w", n, ErrSnapshotFormat)
	}
	block := make([]byte, n)
	if _, err := io.ReadFull(r, block); err != nil {
		return nil, fmt.Errorf("read block: %w", err)
	}
	raw, err := zstd.Decompress(nil, block)
	if err != nil {
		return nil, fmt.Errorf("decompress particles: %w", err)
	}

	want := int(hdr.Count) * binary.Size(components.Particle{})
	if len(raw) != want {
		return nil, fmt.Errorf("%d particle bytes for %d particles: %w", len(raw), hdr.Count, ErrSnapshotFormat)
	}
	particles := make([]components.Particle, hdr.Count)
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, particles); err != nil {
		return nil, fmt.Errorf("decode particles: %w", err)
	}

	return &Snapshot{
		Seed:         hdr.Seed,
		Tick:         hdr.Tick,
		DomainSize:   hdr.DomainSize,
		SpeciesCount: hdr.SpeciesCount,
		TrackedIndex: hdr.TrackedIndex,
		Particles:    particles,
	}, nil
}

// SaveSnapshot writes a snapshot to disk.
// Returns the filepath where it was saved.
func SaveSnapshot(snapshot *Snapshot, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create snapshot dir: %w", err)
	}

	path := filepath.Join(dir, fmt.Sprintf("snapshot_%d.pl3d.zst", snapshot.Tick))

	var buf bytes.Buffer
	if err := WriteSnapshot(&buf, snapshot); err != nil {
		return "", err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return "", fmt.Errorf("write snapshot: %w", err)
	}

	return path, nil
}

// LoadSnapshot reads a snapshot from disk.
func LoadSnapshot(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}
	defer f.Close()

	return ReadSnapshot(f)
}
