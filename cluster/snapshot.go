package cluster

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"sort"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/hupe1980/photodex/codec"
)

// Compression selects the snapshot payload compression scheme.
type Compression uint8

const (
	CompressionNone Compression = iota
	CompressionLZ4
	CompressionZstd
)

// String returns the name of the compression scheme.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

var snapshotMagic = [4]byte{'P', 'D', 'X', 'S'}

const snapshotFormatVersion = uint16(1)

// snapshotPayload is the codec-encoded snapshot body.
type snapshotPayload struct {
	Assignments  map[uint32]uint32 `json:"assignments"`
	MaxClusterID uint32            `json:"max_cluster_id"`
	Versions     []Version         `json:"versions"`
}

// ExportSnapshot serializes the assignment table, the maximum cluster id and
// the version records. The frame header names the codec and compression so
// imports stay self-describing.
//
// Frame layout:
//  1. magic (4 bytes)
//  2. format version (uint16 LE)
//  3. compression scheme (1 byte)
//  4. codec name length (1 byte) + codec name
//  5. compressed codec payload
func (m *Manager) ExportSnapshot() ([]byte, error) {
	m.mu.RLock()
	payload := snapshotPayload{
		Assignments:  make(map[uint32]uint32, len(m.assignments)),
		MaxClusterID: m.maxCluster,
		Versions:     append([]Version(nil), m.versions...),
	}
	for id, cid := range m.assignments {
		payload.Assignments[id] = cid
	}
	m.mu.RUnlock()

	body, err := m.opts.Codec.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}

	compressed, err := compress(body, m.opts.Compression)
	if err != nil {
		return nil, fmt.Errorf("compress snapshot: %w", err)
	}

	codecName := m.opts.Codec.Name()
	if len(codecName) > 0xFF {
		return nil, fmt.Errorf("snapshot codec name too long: %d", len(codecName))
	}

	var buf bytes.Buffer
	buf.Write(snapshotMagic[:])

	var version [2]byte
	binary.LittleEndian.PutUint16(version[:], snapshotFormatVersion)
	buf.Write(version[:])

	buf.WriteByte(byte(m.opts.Compression))
	buf.WriteByte(byte(len(codecName)))
	buf.WriteString(codecName)
	buf.Write(compressed)

	return buf.Bytes(), nil
}

// ImportSnapshot validates and restores a snapshot produced by
// ExportSnapshot. On any validation failure the current state is untouched;
// on success the assignment table, max cluster id and versions are replaced
// atomically.
func (m *Manager) ImportSnapshot(data []byte) error {
	if len(data) < 8 {
		return fmt.Errorf("%w: truncated frame", ErrInvalidSnapshot)
	}
	if !bytes.Equal(data[:4], snapshotMagic[:]) {
		return fmt.Errorf("%w: bad magic", ErrInvalidSnapshot)
	}
	if v := binary.LittleEndian.Uint16(data[4:6]); v != snapshotFormatVersion {
		return fmt.Errorf("%w: unsupported format version %d", ErrInvalidSnapshot, v)
	}

	compression := Compression(data[6])
	nameLen := int(data[7])
	if len(data) < 8+nameLen {
		return fmt.Errorf("%w: truncated codec name", ErrInvalidSnapshot)
	}

	c, ok := codec.ByName(string(data[8 : 8+nameLen]))
	if !ok {
		return fmt.Errorf("%w: unknown codec %q", ErrInvalidSnapshot, string(data[8:8+nameLen]))
	}

	body, err := decompress(data[8+nameLen:], compression)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}

	var payload snapshotPayload
	if err := c.Unmarshal(body, &payload); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}

	// Any cluster id beyond the stored maximum would collide with future
	// allocations.
	for id, cid := range payload.Assignments {
		if cid > payload.MaxClusterID {
			return fmt.Errorf("%w: photo %d references cluster %d beyond max %d", ErrInvalidSnapshot, id, cid, payload.MaxClusterID)
		}
	}

	assignments := make(map[uint32]uint32, len(payload.Assignments))
	clusters := make(map[uint32][]uint32)

	// Map iteration order is random; rebuild member lists over sorted ids so
	// restored split positions stay reproducible.
	ids := make([]uint32, 0, len(payload.Assignments))
	for id := range payload.Assignments {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		cid := payload.Assignments[id]
		assignments[id] = cid
		if cid != Noise {
			clusters[cid] = append(clusters[cid], id)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil && m.current.Status.active() {
		return fmt.Errorf("%w: import races the running task", ErrTaskInProgress)
	}

	m.assignments = assignments
	m.clusters = clusters
	m.maxCluster = payload.MaxClusterID
	m.versions = payload.Versions
	if len(payload.Versions) > 0 {
		m.versionSeq = payload.Versions[len(payload.Versions)-1].Seq
	} else {
		m.versionSeq = 0
	}
	m.hasBaseline = len(assignments) > 0

	m.logger.Info("imported snapshot", "assignments", len(assignments), "clusters", len(clusters), "maxCluster", m.maxCluster)

	return nil
}

func compress(data []byte, c Compression) ([]byte, error) {
	switch c {
	case CompressionNone:
		return data, nil
	case CompressionLZ4:
		var buf bytes.Buffer
		w := lz4.NewWriter(&buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CompressionZstd:
		w, err := zstd.NewWriter(nil)
		if err != nil {
			return nil, err
		}
		defer w.Close()
		return w.EncodeAll(data, nil), nil
	default:
		return nil, fmt.Errorf("unknown compression scheme %d", c)
	}
}

func decompress(data []byte, c Compression) ([]byte, error) {
	switch c {
	case CompressionNone:
		return data, nil
	case CompressionLZ4:
		return io.ReadAll(lz4.NewReader(bytes.NewReader(data)))
	case CompressionZstd:
		r, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return r.DecodeAll(data, nil)
	default:
		return nil, fmt.Errorf("unknown compression scheme %d", c)
	}
}
