package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrProtoVersion    = "E_PROTO_VERSION"

	// Layer lifecycle.
	ErrLayerNotFound = "E_LAYER_NOT_FOUND"
	ErrUnknownSource = "E_UNKNOWN_SOURCE"
	ErrBadGeometry   = "E_BAD_GEOMETRY"

	ErrInternal = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrProtoVersion:    {},
	ErrLayerNotFound:   {},
	ErrUnknownSource:   {},
	ErrBadGeometry:     {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
