package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/banshee-data/eventstream/internal/dvs/accumulator"
)

// SnapshotInfo describes an archived grid without its counts.
type SnapshotInfo struct {
	ID      int64     `json:"snapshot_id"`
	RunID   string    `json:"run_id"`
	Seq     uint64    `json:"seq"`
	Width   int       `json:"width"`
	Height  int       `json:"height"`
	Total   uint64    `json:"total"`
	Max     uint32    `json:"max"`
	TakenAt time.Time `json:"taken_at"`
}

// ErrSnapshotNotFound is returned for an unknown snapshot ID.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// SaveSnapshot archives snap under runID and returns its ID. Counts are
// stored as gzip-compressed little-endian uint32s.
func (s *Store) SaveSnapshot(ctx context.Context, runID string, snap accumulator.Snapshot) (int64, error) {
	if snap.Empty() {
		return 0, fmt.Errorf("save snapshot: empty snapshot")
	}
	blob, err := compressCounts(snap.Counts())
	if err != nil {
		return 0, fmt.Errorf("save snapshot: %w", err)
	}
	taken := snap.Taken
	if taken.IsZero() {
		taken = time.Now()
	}
	res, err := s.ExecContext(ctx, `
		INSERT INTO snapshots (run_id, seq, width, height, total, max_count, taken_at, counts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		runID, int64(snap.Seq), snap.Width, snap.Height, int64(snap.Total()), int64(snap.Max()), taken.UTC(), blob)
	if err != nil {
		return 0, fmt.Errorf("save snapshot: %w", err)
	}
	return res.LastInsertId()
}

// LoadSnapshot restores an archived grid into host storage.
func (s *Store) LoadSnapshot(ctx context.Context, id int64) (SnapshotInfo, accumulator.Snapshot, error) {
	var (
		info       SnapshotInfo
		seq, total int64
		maxCount   int64
		blob       []byte
	)
	err := s.QueryRowContext(ctx, `
		SELECT snapshot_id, run_id, seq, width, height, total, max_count, taken_at, counts
		FROM snapshots WHERE snapshot_id = ?`, id).
		Scan(&info.ID, &info.RunID, &seq, &info.Width, &info.Height, &total, &maxCount, &info.TakenAt, &blob)
	if errors.Is(err, sql.ErrNoRows) {
		return SnapshotInfo{}, accumulator.Snapshot{}, fmt.Errorf("snapshot %d: %w", id, ErrSnapshotNotFound)
	}
	if err != nil {
		return SnapshotInfo{}, accumulator.Snapshot{}, err
	}
	info.Seq, info.Total, info.Max = uint64(seq), uint64(total), uint32(maxCount)

	counts, err := decompressCounts(blob, info.Width*info.Height)
	if err != nil {
		return SnapshotInfo{}, accumulator.Snapshot{}, fmt.Errorf("snapshot %d: %w", id, err)
	}
	snap := accumulator.Snapshot{
		Width:  info.Width,
		Height: info.Height,
		Seq:    info.Seq,
		Taken:  info.TakenAt,
		Buffer: &accumulator.HostBuffer{Counts: counts},
	}
	return info, snap, nil
}

// ListSnapshots returns snapshot metadata for runID, oldest first. An empty
// runID lists every run.
func (s *Store) ListSnapshots(ctx context.Context, runID string, limit int) ([]SnapshotInfo, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.QueryContext(ctx, `
		SELECT snapshot_id, run_id, seq, width, height, total, max_count, taken_at
		FROM snapshots WHERE (? = '' OR run_id = ?) ORDER BY snapshot_id LIMIT ?`, runID, runID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SnapshotInfo
	for rows.Next() {
		var (
			info                 SnapshotInfo
			seq, total, maxCount int64
		)
		if err := rows.Scan(&info.ID, &info.RunID, &seq, &info.Width, &info.Height, &total, &maxCount, &info.TakenAt); err != nil {
			return nil, err
		}
		info.Seq, info.Total, info.Max = uint64(seq), uint64(total), uint32(maxCount)
		out = append(out, info)
	}
	return out, rows.Err()
}

func compressCounts(counts []uint32) ([]byte, error) {
	raw := make([]byte, 0, 4*len(counts))
	for _, c := range counts {
		raw = binary.LittleEndian.AppendUint32(raw, c)
	}
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(raw); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompressCounts(blob []byte, n int) ([]uint32, error) {
	gz, err := gzip.NewReader(bytes.NewReader(blob))
	if err != nil {
		return nil, err
	}
	defer gz.Close()
	raw, err := io.ReadAll(gz)
	if err != nil {
		return nil, err
	}
	if len(raw) != 4*n {
		return nil, fmt.Errorf("counts blob holds %d bytes, want %d", len(raw), 4*n)
	}
	counts := make([]uint32, n)
	for i := range counts {
		counts[i] = binary.LittleEndian.Uint32(raw[4*i:])
	}
	return counts, nil
}
