// Package config loads the worker daemon configuration: listen address,
// storage paths, fetch tuning, and the volumes whose chunk sources get
// registered at startup.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Listen  string `yaml:"listen"`
	DataDir string `yaml:"data_dir"`

	// FetchWorkers bounds the fetch pool; CacheChunks bounds the resident
	// chunk count before eviction kicks in.
	FetchWorkers int `yaml:"fetch_workers"`
	CacheChunks  int `yaml:"cache_chunks"`

	// TraceRequests enables the compressed request trace log.
	TraceRequests bool `yaml:"trace_requests"`

	Volumes []VolumeSpec `yaml:"volumes"`
}

type VolumeSpec struct {
	Name   string      `yaml:"name"`
	Rank   int         `yaml:"rank"`
	Scales []ScaleSpec `yaml:"scales"`
}

// ScaleSpec declares one resolution level. Scales are listed coarse to
// fine; each becomes one registered chunk source.
type ScaleSpec struct {
	Key        string    `yaml:"key"`
	ChunkShape []int64   `yaml:"chunk_shape"`
	VoxelSize  []float64 `yaml:"voxel_size"`
	Size       []int64   `yaml:"size"`
}

func Load(path string) (Config, error) {
	cfg := defaults()
	if strings.TrimSpace(path) == "" {
		cfg.Normalize()
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("volview.yaml: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("volview.yaml: %w", err)
	}
	return cfg, nil
}

func defaults() Config {
	return Config{
		Listen:       ":8080",
		DataDir:      "./data",
		FetchWorkers: 4,
		CacheChunks:  4096,
	}
}

func (c *Config) Normalize() {
	if strings.TrimSpace(c.Listen) == "" {
		c.Listen = ":8080"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./data"
	}
	if c.FetchWorkers <= 0 {
		c.FetchWorkers = 4
	}
	if c.CacheChunks <= 0 {
		c.CacheChunks = 4096
	}
}

func (c *Config) Validate() error {
	seen := map[string]struct{}{}
	for i := range c.Volumes {
		v := &c.Volumes[i]
		if strings.TrimSpace(v.Name) == "" {
			return fmt.Errorf("volume %d: empty name", i)
		}
		if _, dup := seen[v.Name]; dup {
			return fmt.Errorf("volume %q: duplicate name", v.Name)
		}
		seen[v.Name] = struct{}{}
		if v.Rank <= 0 {
			return fmt.Errorf("volume %q: rank %d", v.Name, v.Rank)
		}
		if len(v.Scales) == 0 {
			return fmt.Errorf("volume %q: no scales", v.Name)
		}
		scaleKeys := map[string]struct{}{}
		for j := range v.Scales {
			s := &v.Scales[j]
			if strings.TrimSpace(s.Key) == "" {
				return fmt.Errorf("volume %q scale %d: empty key", v.Name, j)
			}
			if _, dup := scaleKeys[s.Key]; dup {
				return fmt.Errorf("volume %q scale %q: duplicate key", v.Name, s.Key)
			}
			scaleKeys[s.Key] = struct{}{}
			if len(s.ChunkShape) != v.Rank {
				return fmt.Errorf("volume %q scale %q: chunk shape rank %d, volume rank %d",
					v.Name, s.Key, len(s.ChunkShape), v.Rank)
			}
			for _, cs := range s.ChunkShape {
				if cs <= 0 {
					return fmt.Errorf("volume %q scale %q: non-positive chunk shape", v.Name, s.Key)
				}
			}
			if len(s.VoxelSize) != v.Rank {
				return fmt.Errorf("volume %q scale %q: voxel size rank %d, volume rank %d",
					v.Name, s.Key, len(s.VoxelSize), v.Rank)
			}
			if len(s.Size) != 0 && len(s.Size) != v.Rank {
				return fmt.Errorf("volume %q scale %q: size rank %d, volume rank %d",
					v.Name, s.Key, len(s.Size), v.Rank)
			}
		}
	}
	return nil
}
