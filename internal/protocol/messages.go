package protocol

import (
	"encoding/json"
	"fmt"
)

const Version = "1.0"

const (
	TypeHello              = "HELLO"
	TypeWelcome            = "WELCOME"
	TypeAddVisibleLayer    = "ADD_VISIBLE_LAYER"
	TypeRemoveVisibleLayer = "REMOVE_VISIBLE_LAYER"
	TypeViewUpdate         = "VIEW_UPDATE"
	TypeAck                = "ACK"
	TypeError              = "ERROR"
)

// BaseMsg is the envelope every channel message starts with. MsgID is
// unique per sender; the receiving side deduplicates repeats (the channel
// is at-least-once).
type BaseMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	MsgID           uint64 `json:"msg_id,omitempty"`
}

func DecodeBase(raw []byte) (BaseMsg, error) {
	var b BaseMsg
	if err := json.Unmarshal(raw, &b); err != nil {
		return BaseMsg{}, fmt.Errorf("decode message: %w", err)
	}
	if b.Type == "" {
		return BaseMsg{}, fmt.Errorf("decode message: missing type")
	}
	return b, nil
}

// HELLO (controller -> worker)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ClientName      string `json:"client_name"`
}

// WELCOME (worker -> controller): session id plus the manifest of
// registered volumes so the controller can reference chunk sources by id.
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	SessionID       string      `json:"session_id"`
	Volumes         []VolumeRef `json:"volumes"`
}

type VolumeRef struct {
	Name   string     `json:"name"`
	Rank   int        `json:"rank"`
	Scales []ScaleRef `json:"scales"`
}

// ScaleRef announces one registered chunk source: the id the controller
// must use in ADD_VISIBLE_LAYER scale descriptors.
type ScaleRef struct {
	SourceID   uint64    `json:"source_id"`
	Key        string    `json:"key"`
	ChunkShape []int64   `json:"chunk_shape"`
	VoxelSize  []float64 `json:"voxel_size"`
	Size       []int64   `json:"size"`
}

// ADD_VISIBLE_LAYER (controller -> worker): a layer id plus its scale
// groups. Re-sending for a registered layer replaces its source set.
type AddVisibleLayerMsg struct {
	Type              string        `json:"type"`
	ProtocolVersion   string        `json:"protocol_version"`
	MsgID             uint64        `json:"msg_id,omitempty"`
	LayerID           string        `json:"layer_id"`
	RenderScaleTarget float64       `json:"render_scale_target"`
	LocalPosition     []float64     `json:"local_position,omitempty"`
	ScaleGroups       [][]ScaleSpec `json:"scale_groups"`
}

// ScaleSpec serializes one transformed source: the geometry binding a
// registered chunk source into the layer's view space.
type ScaleSpec struct {
	SourceID  uint64 `json:"source_id"`
	LayerRank int    `json:"layer_rank"`

	// ChunkSize is the chunk extent along each display axis in chunk
	// layout units; Transform maps chunk layout space to display space
	// (row-major 4x4). FiniteRank counts display axes with real extent.
	ChunkSize  [3]float64 `json:"chunk_size"`
	Transform  []float64  `json:"transform,omitempty"`
	FiniteRank int        `json:"finite_rank"`

	LowerClipBound []float64 `json:"lower_clip_bound,omitempty"`
	UpperClipBound []float64 `json:"upper_clip_bound,omitempty"`

	LowerClipDisplayBound  [3]float64 `json:"lower_clip_display_bound"`
	UpperClipDisplayBound  [3]float64 `json:"upper_clip_display_bound"`
	LowerChunkDisplayBound [3]int64   `json:"lower_chunk_display_bound"`
	UpperChunkDisplayBound [3]int64   `json:"upper_chunk_display_bound"`

	EffectiveVoxelSize [3]float64 `json:"effective_voxel_size"`

	// ChunkDisplayDims maps display axes to chunk dimensions (-1 for an
	// unused axis); FixedLayerToChunkTransform fixes the non-displayed
	// dimensions, row-major (layer_rank+1)^2.
	ChunkDisplayDims           [3]int    `json:"chunk_display_dims"`
	FixedLayerToChunkTransform []float64 `json:"fixed_layer_to_chunk_transform,omitempty"`
}

// REMOVE_VISIBLE_LAYER (controller -> worker)
type RemoveVisibleLayerMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	MsgID           uint64 `json:"msg_id,omitempty"`
	LayerID         string `json:"layer_id"`
}

// VIEW_UPDATE (controller -> worker): one consistent projection snapshot.
type ViewUpdateMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	MsgID           uint64 `json:"msg_id,omitempty"`

	Center      [3]float64 `json:"center"`
	PlaneNormal [3]float64 `json:"plane_normal"`
	PlaneAxisX  [3]float64 `json:"plane_axis_x"`
	PlaneAxisY  [3]float64 `json:"plane_axis_y"`

	ViewportWidth  float64 `json:"viewport_width"`
	ViewportHeight float64 `json:"viewport_height"`

	DisplayDims       [3]string `json:"display_dims"`
	RenderScaleTarget float64   `json:"render_scale_target"`

	// Visible false means the invisible sentinel: suppress all fetching.
	Visible          bool    `json:"visible"`
	VisibilityWeight float64 `json:"visibility_weight,omitempty"`
}

// ACK (worker -> controller)
type AckMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	AckFor          uint64 `json:"ack_for"`
	Accepted        bool   `json:"accepted"`
	Code            string `json:"code,omitempty"`
	Message         string `json:"message,omitempty"`
}

// ERROR (worker -> controller)
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message,omitempty"`
}
