package worker

import (
	"fmt"

	"volview.dev/internal/geom"
	"volview.dev/internal/protocol"
	"volview.dev/internal/registry"
	"volview.dev/internal/sliceview"
)

// buildTransformedSources deserializes the scale-group descriptors of an
// ADD_VISIBLE_LAYER message, resolving chunk sources through the shared
// registry. On error nothing is retained: sources built so far are
// disposed so reference counts stay balanced.
func buildTransformedSources(reg *registry.Registry, groups [][]protocol.ScaleSpec) ([][]*sliceview.TransformedSource, error) {
	out := make([][]*sliceview.TransformedSource, 0, len(groups))
	fail := func(err error) ([][]*sliceview.TransformedSource, error) {
		for _, g := range out {
			for _, ts := range g {
				ts.Dispose()
			}
		}
		return nil, err
	}
	for gi, group := range groups {
		built := make([]*sliceview.TransformedSource, 0, len(group))
		out = append(out, built)
		for si, spec := range group {
			ts, err := buildTransformedSource(reg, spec)
			if err != nil {
				return fail(fmt.Errorf("scale group %d source %d: %w", gi, si, err))
			}
			out[gi] = append(out[gi], ts)
		}
	}
	return out, nil
}

func buildTransformedSource(reg *registry.Registry, spec protocol.ScaleSpec) (*sliceview.TransformedSource, error) {
	obj, err := reg.Lookup(spec.SourceID)
	if err != nil {
		return nil, err
	}
	src, ok := obj.(*sliceview.ChunkSource)
	if !ok {
		return nil, fmt.Errorf("object %d is not a chunk source", spec.SourceID)
	}

	transform := geom.Identity()
	if len(spec.Transform) == 16 {
		copy(transform[:], spec.Transform)
	} else if len(spec.Transform) != 0 {
		return nil, fmt.Errorf("transform has %d entries, want 16", len(spec.Transform))
	}
	layout, err := geom.NewChunkLayout(geom.Vec3(spec.ChunkSize), transform, spec.FiniteRank)
	if err != nil {
		return nil, err
	}

	ts, err := sliceview.NewTransformedSource(src, layout, spec.LayerRank)
	if err != nil {
		return nil, err
	}
	if len(spec.LowerClipBound) == spec.LayerRank {
		copy(ts.LowerClipBound, spec.LowerClipBound)
	}
	if len(spec.UpperClipBound) == spec.LayerRank {
		copy(ts.UpperClipBound, spec.UpperClipBound)
	}
	ts.LowerClipDisplayBound = geom.Vec3(spec.LowerClipDisplayBound)
	ts.UpperClipDisplayBound = geom.Vec3(spec.UpperClipDisplayBound)
	ts.LowerChunkDisplayBound = spec.LowerChunkDisplayBound
	ts.UpperChunkDisplayBound = spec.UpperChunkDisplayBound
	ts.EffectiveVoxelSize = geom.Vec3(spec.EffectiveVoxelSize)
	ts.ChunkDisplayDims = spec.ChunkDisplayDims
	if n := len(spec.FixedLayerToChunkTransform); n != 0 {
		if n != (spec.LayerRank+1)*(spec.LayerRank+1) {
			ts.Dispose()
			return nil, fmt.Errorf("fixed transform has %d entries, want %d",
				n, (spec.LayerRank+1)*(spec.LayerRank+1))
		}
		ts.FixedLayerToChunkTransform = append([]float64(nil), spec.FixedLayerToChunkTransform...)
	}
	return ts, nil
}
