package worker

import (
	"fmt"

	"volview.dev/internal/config"
	"volview.dev/internal/protocol"
	"volview.dev/internal/registry"
	"volview.dev/internal/sliceview"
	"volview.dev/internal/store"
)

// RegisterVolumes creates one chunk source per configured scale, places
// it in the shared registry, mirrors the metadata into the volume index,
// and returns the manifest WELCOME announces to controllers.
func RegisterVolumes(reg *registry.Registry, ix *store.VolumeIndex, volumes []config.VolumeSpec) ([]protocol.VolumeRef, error) {
	var manifest []protocol.VolumeRef
	for _, v := range volumes {
		ref := protocol.VolumeRef{Name: v.Name, Rank: v.Rank}
		var rows []store.ScaleRow
		for _, sc := range v.Scales {
			spec := sliceview.ChunkSourceSpec{
				Rank:       v.Rank,
				ChunkShape: append([]int64(nil), sc.ChunkShape...),
				Volume:     v.Name,
				ScaleKey:   sc.Key,
			}
			if err := spec.Validate(); err != nil {
				return nil, fmt.Errorf("volume %q scale %q: %w", v.Name, sc.Key, err)
			}
			src := sliceview.NewChunkSource(0, spec)
			src.ID = reg.Register(src)
			ref.Scales = append(ref.Scales, protocol.ScaleRef{
				SourceID:   src.ID,
				Key:        sc.Key,
				ChunkShape: append([]int64(nil), sc.ChunkShape...),
				VoxelSize:  append([]float64(nil), sc.VoxelSize...),
				Size:       append([]int64(nil), sc.Size...),
			})
			rows = append(rows, store.ScaleRow{
				Volume:     v.Name,
				Key:        sc.Key,
				ChunkShape: sc.ChunkShape,
				VoxelSize:  sc.VoxelSize,
				Size:       sc.Size,
			})
		}
		if ix != nil {
			if err := ix.UpsertVolume(store.VolumeRow{Name: v.Name, Rank: v.Rank}, rows); err != nil {
				return nil, fmt.Errorf("index volume %q: %w", v.Name, err)
			}
		}
		manifest = append(manifest, ref)
	}
	return manifest, nil
}
