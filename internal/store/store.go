// Package store backs the fetch scheduler: chunk payloads live in a bolt
// key/value file (zstd compressed), volume and scale metadata plus fetch
// counters live in a sqlite index.
package store

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/boltdb/bolt"
	"github.com/klauspost/compress/zstd"
)

// ErrChunkNotFound reports a chunk absent from the payload store. The
// fetch pool treats it as an empty chunk, not a failure.
var ErrChunkNotFound = fmt.Errorf("store: chunk not found")

type Store struct {
	payloads *bolt.DB
	index    *VolumeIndex

	enc *zstd.Encoder
	dec *zstd.Decoder
}

// Open opens (creating if needed) the payload file and volume index under
// dataDir.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}
	payloads, err := bolt.Open(filepath.Join(dataDir, "chunks.bolt"), 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open payload store: %w", err)
	}
	index, err := OpenVolumeIndex(filepath.Join(dataDir, "volumes.sqlite"))
	if err != nil {
		_ = payloads.Close()
		return nil, err
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = payloads.Close()
		_ = index.Close()
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = payloads.Close()
		_ = index.Close()
		return nil, err
	}
	return &Store{payloads: payloads, index: index, enc: enc, dec: dec}, nil
}

func (s *Store) Close() error {
	s.enc.Close()
	s.dec.Close()
	err1 := s.payloads.Close()
	err2 := s.index.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// Index exposes the volume metadata index.
func (s *Store) Index() *VolumeIndex {
	return s.index
}

func bucketName(volume string) []byte {
	return []byte("chunks/" + volume)
}

func chunkKey(scaleKey, gridKey string) []byte {
	return []byte(scaleKey + "/" + gridKey)
}

// WriteChunk stores one chunk payload, compressed.
func (s *Store) WriteChunk(volume, scaleKey, gridKey string, data []byte) error {
	packed := s.enc.EncodeAll(data, nil)
	return s.payloads.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketName(volume))
		if err != nil {
			return err
		}
		return b.Put(chunkKey(scaleKey, gridKey), packed)
	})
}

// ReadChunk loads and decompresses one chunk payload. Returns
// ErrChunkNotFound for chunks never written.
func (s *Store) ReadChunk(volume, scaleKey, gridKey string) ([]byte, error) {
	var packed []byte
	err := s.payloads.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName(volume))
		if b == nil {
			return ErrChunkNotFound
		}
		v := b.Get(chunkKey(scaleKey, gridKey))
		if v == nil {
			return ErrChunkNotFound
		}
		packed = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	data, err := s.dec.DecodeAll(packed, nil)
	if err != nil {
		return nil, fmt.Errorf("decode chunk %s/%s/%s: %w", volume, scaleKey, gridKey, err)
	}
	return data, nil
}
