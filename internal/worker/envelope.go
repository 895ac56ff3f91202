package worker

import "volview.dev/internal/protocol"

type envelopeKind int

const (
	kindAddLayer envelopeKind = iota + 1
	kindRemoveLayer
	kindViewUpdate
)

// Envelope is one controller message delivered to the worker loop. Reply,
// when set, receives exactly one ack.
type Envelope struct {
	kind envelopeKind

	add    protocol.AddVisibleLayerMsg
	remove protocol.RemoveVisibleLayerMsg
	view   protocol.ViewUpdateMsg

	reply func(protocol.AckMsg)
}

func AddLayerEnvelope(msg protocol.AddVisibleLayerMsg, reply func(protocol.AckMsg)) Envelope {
	return Envelope{kind: kindAddLayer, add: msg, reply: reply}
}

func RemoveLayerEnvelope(msg protocol.RemoveVisibleLayerMsg, reply func(protocol.AckMsg)) Envelope {
	return Envelope{kind: kindRemoveLayer, remove: msg, reply: reply}
}

func ViewUpdateEnvelope(msg protocol.ViewUpdateMsg, reply func(protocol.AckMsg)) Envelope {
	return Envelope{kind: kindViewUpdate, view: msg, reply: reply}
}
