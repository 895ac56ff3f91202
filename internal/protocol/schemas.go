package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Inbound controller messages are schema-validated before dispatch so a
// malformed controller can never corrupt worker state.

const helloSchema = `{
  "type": "object",
  "required": ["type", "protocol_version", "client_name"],
  "properties": {
    "type": {"const": "HELLO"},
    "protocol_version": {"type": "string"},
    "client_name": {"type": "string", "minLength": 1}
  }
}`

const addVisibleLayerSchema = `{
  "type": "object",
  "required": ["type", "protocol_version", "layer_id", "scale_groups"],
  "properties": {
    "type": {"const": "ADD_VISIBLE_LAYER"},
    "protocol_version": {"type": "string"},
    "msg_id": {"type": "integer", "minimum": 0},
    "layer_id": {"type": "string", "minLength": 1},
    "render_scale_target": {"type": "number", "exclusiveMinimum": 0},
    "local_position": {"type": "array", "items": {"type": "number"}},
    "scale_groups": {
      "type": "array",
      "items": {
        "type": "array",
        "items": {
          "type": "object",
          "required": ["source_id", "layer_rank", "chunk_size", "finite_rank"],
          "properties": {
            "source_id": {"type": "integer", "minimum": 1},
            "layer_rank": {"type": "integer", "minimum": 1},
            "chunk_size": {
              "type": "array",
              "minItems": 3,
              "maxItems": 3,
              "items": {"type": "number", "minimum": 0}
            },
            "transform": {"type": "array", "minItems": 16, "maxItems": 16, "items": {"type": "number"}},
            "finite_rank": {"type": "integer", "minimum": 0, "maximum": 3},
            "chunk_display_dims": {
              "type": "array",
              "minItems": 3,
              "maxItems": 3,
              "items": {"type": "integer", "minimum": -1}
            }
          }
        }
      }
    }
  }
}`

const removeVisibleLayerSchema = `{
  "type": "object",
  "required": ["type", "protocol_version", "layer_id"],
  "properties": {
    "type": {"const": "REMOVE_VISIBLE_LAYER"},
    "protocol_version": {"type": "string"},
    "msg_id": {"type": "integer", "minimum": 0},
    "layer_id": {"type": "string", "minLength": 1}
  }
}`

const viewUpdateSchema = `{
  "type": "object",
  "required": ["type", "protocol_version", "center", "plane_normal", "plane_axis_x", "plane_axis_y", "visible"],
  "properties": {
    "type": {"const": "VIEW_UPDATE"},
    "protocol_version": {"type": "string"},
    "msg_id": {"type": "integer", "minimum": 0},
    "center": {"type": "array", "minItems": 3, "maxItems": 3, "items": {"type": "number"}},
    "plane_normal": {"type": "array", "minItems": 3, "maxItems": 3, "items": {"type": "number"}},
    "plane_axis_x": {"type": "array", "minItems": 3, "maxItems": 3, "items": {"type": "number"}},
    "plane_axis_y": {"type": "array", "minItems": 3, "maxItems": 3, "items": {"type": "number"}},
    "viewport_width": {"type": "number", "minimum": 0},
    "viewport_height": {"type": "number", "minimum": 0},
    "render_scale_target": {"type": "number", "exclusiveMinimum": 0},
    "visible": {"type": "boolean"},
    "visibility_weight": {"type": "number"}
  }
}`

var schemas = map[string]*jsonschema.Schema{
	TypeHello:              jsonschema.MustCompileString("hello.schema.json", helloSchema),
	TypeAddVisibleLayer:    jsonschema.MustCompileString("add_visible_layer.schema.json", addVisibleLayerSchema),
	TypeRemoveVisibleLayer: jsonschema.MustCompileString("remove_visible_layer.schema.json", removeVisibleLayerSchema),
	TypeViewUpdate:         jsonschema.MustCompileString("view_update.schema.json", viewUpdateSchema),
}

// Validate checks a raw message of the given type against its schema.
// Types without a schema pass.
func Validate(msgType string, raw []byte) error {
	s := schemas[msgType]
	if s == nil {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("%s: %w", msgType, err)
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("%s: %w", msgType, err)
	}
	return nil
}
