package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// VolumeIndex is the sqlite read model over registered volumes: per-scale
// geometry plus fetch counters. Single connection, WAL.
type VolumeIndex struct {
	db *sql.DB
}

// VolumeRow describes one registered volume.
type VolumeRow struct {
	Name string
	Rank int
}

// ScaleRow describes one scale of a volume.
type ScaleRow struct {
	Volume     string
	Key        string
	ChunkShape []int64
	VoxelSize  []float64
	Size       []int64
}

func OpenVolumeIndex(path string) (*VolumeIndex, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS volumes (
			name TEXT PRIMARY KEY,
			rank INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS scales (
			volume TEXT NOT NULL,
			key TEXT NOT NULL,
			chunk_shape TEXT NOT NULL,
			voxel_size TEXT NOT NULL,
			size TEXT NOT NULL,
			PRIMARY KEY (volume, key)
		);`,
		`CREATE TABLE IF NOT EXISTS fetch_stats (
			volume TEXT NOT NULL,
			scale_key TEXT NOT NULL,
			fetches INTEGER NOT NULL DEFAULT 0,
			misses INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (volume, scale_key)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return &VolumeIndex{db: db}, nil
}

func (ix *VolumeIndex) Close() error {
	return ix.db.Close()
}

// UpsertVolume records a volume and its scales, replacing prior rows.
func (ix *VolumeIndex) UpsertVolume(v VolumeRow, scales []ScaleRow) error {
	tx, err := ix.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(
		`INSERT INTO volumes(name, rank) VALUES(?, ?)
		 ON CONFLICT(name) DO UPDATE SET rank=excluded.rank`,
		v.Name, v.Rank,
	); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM scales WHERE volume = ?`, v.Name); err != nil {
		return err
	}
	for _, sc := range scales {
		shape, _ := json.Marshal(sc.ChunkShape)
		voxel, _ := json.Marshal(sc.VoxelSize)
		size, _ := json.Marshal(sc.Size)
		if _, err := tx.Exec(
			`INSERT INTO scales(volume, key, chunk_shape, voxel_size, size) VALUES(?, ?, ?, ?, ?)`,
			v.Name, sc.Key, string(shape), string(voxel), string(size),
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Volumes lists registered volumes sorted by name.
func (ix *VolumeIndex) Volumes() ([]VolumeRow, error) {
	rows, err := ix.db.Query(`SELECT name, rank FROM volumes ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []VolumeRow
	for rows.Next() {
		var v VolumeRow
		if err := rows.Scan(&v.Name, &v.Rank); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Scales lists a volume's scales in key order.
func (ix *VolumeIndex) Scales(volume string) ([]ScaleRow, error) {
	rows, err := ix.db.Query(
		`SELECT key, chunk_shape, voxel_size, size FROM scales WHERE volume = ? ORDER BY key`,
		volume,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ScaleRow
	for rows.Next() {
		sc := ScaleRow{Volume: volume}
		var shape, voxel, size string
		if err := rows.Scan(&sc.Key, &shape, &voxel, &size); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(shape), &sc.ChunkShape); err != nil {
			return nil, fmt.Errorf("scale %s/%s: %w", volume, sc.Key, err)
		}
		if err := json.Unmarshal([]byte(voxel), &sc.VoxelSize); err != nil {
			return nil, fmt.Errorf("scale %s/%s: %w", volume, sc.Key, err)
		}
		if err := json.Unmarshal([]byte(size), &sc.Size); err != nil {
			return nil, fmt.Errorf("scale %s/%s: %w", volume, sc.Key, err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// RecordFetch bumps the fetch counter for one scale; miss counts chunks
// absent from the payload store.
func (ix *VolumeIndex) RecordFetch(volume, scaleKey string, miss bool) error {
	m := 0
	if miss {
		m = 1
	}
	_, err := ix.db.Exec(
		`INSERT INTO fetch_stats(volume, scale_key, fetches, misses) VALUES(?, ?, 1, ?)
		 ON CONFLICT(volume, scale_key) DO UPDATE SET
		   fetches = fetches + 1,
		   misses = misses + excluded.misses`,
		volume, scaleKey, m,
	)
	return err
}

// FetchStats returns the (fetches, misses) counters for one scale.
func (ix *VolumeIndex) FetchStats(volume, scaleKey string) (int64, int64, error) {
	var fetches, misses int64
	err := ix.db.QueryRow(
		`SELECT fetches, misses FROM fetch_stats WHERE volume = ? AND scale_key = ?`,
		volume, scaleKey,
	).Scan(&fetches, &misses)
	if err == sql.ErrNoRows {
		return 0, 0, nil
	}
	return fetches, misses, err
}
