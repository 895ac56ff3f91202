package worker

import (
	"context"
	"errors"
	"log"
	"time"

	"volview.dev/internal/geom"
	"volview.dev/internal/protocol"
	"volview.dev/internal/registry"
	"volview.dev/internal/sliceview"
	"volview.dev/internal/tracelog"
)

// Requester is what the loop hands the slice-view engine; satisfied by
// the fetch scheduler.
type Requester interface {
	sliceview.ChunkRequester
	BeginPass()
	ApplyEvictions()
}

// Loop is the worker-side single thread of control: all layer lifecycle,
// view updates and priority recomputation happen on its goroutine, fed by
// an inbox of controller envelopes. Mirrors the at-most-one-pass-scheduled
// discipline: wakeups coalesce through a 1-slot channel.
type Loop struct {
	view   *sliceview.SliceView
	sched  Requester
	reg    *registry.Registry
	trace  *tracelog.Writer
	logger *log.Logger

	inbox    chan Envelope
	updateCh chan struct{}

	layers      map[string]*sliceview.Layer
	displayDims [3]string
	displayGen  uint64
}

// New assembles a loop around an externally constructed scheduler. The
// registry must already hold the chunk sources layers will reference.
func New(sched Requester, reg *registry.Registry, trace *tracelog.Writer, logger *log.Logger) *Loop {
	l := &Loop{
		sched:    sched,
		reg:      reg,
		trace:    trace,
		logger:   logger,
		inbox:    make(chan Envelope, 256),
		updateCh: make(chan struct{}, 1),
		layers:   map[string]*sliceview.Layer{},
	}
	l.view = sliceview.New(sliceview.PlaneGeometry{}, requesterFunc{l}, logger)
	return l
}

// requesterFunc interposes request tracing between engine and scheduler.
type requesterFunc struct{ l *Loop }

func (r requesterFunc) RequestChunk(c *sliceview.Chunk, tier sliceview.PriorityTier, score float64) {
	r.l.sched.RequestChunk(c, tier, score)
	if r.l.trace != nil {
		spec := c.Source.Spec
		_ = r.l.trace.Write(tracelog.Entry{
			Time:     time.Now().UTC().Format(time.RFC3339Nano),
			Volume:   spec.Volume,
			ScaleKey: spec.ScaleKey,
			ChunkKey: c.Key,
			Tier:     tier.String(),
			Score:    score,
		})
	}
}

func (r requesterFunc) ScheduleUpdatePriorities() {
	r.l.sched.ScheduleUpdatePriorities()
}

// Inbox accepts controller envelopes.
func (l *Loop) Inbox() chan<- Envelope {
	return l.inbox
}

// ScheduleUpdate requests a future priority pass; safe from any
// goroutine, coalescing.
func (l *Loop) ScheduleUpdate() {
	select {
	case l.updateCh <- struct{}{}:
	default:
	}
}

// View exposes the engine for tests and diagnostics.
func (l *Loop) View() *sliceview.SliceView {
	return l.view
}

// Run processes envelopes until ctx is cancelled. A failed priority pass
// is fatal: the error propagates out with no local recovery.
func (l *Loop) Run(ctx context.Context) error {
	defer l.view.Dispose()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case env := <-l.inbox:
			l.handle(env)
		case <-l.updateCh:
			if err := l.runUpdatePass(); err != nil {
				return err
			}
		}
	}
}

func (l *Loop) runUpdatePass() error {
	l.sched.ApplyEvictions()
	l.sched.BeginPass()
	return l.view.UpdateVisibleChunks()
}

func (l *Loop) handle(env Envelope) {
	switch env.kind {
	case kindAddLayer:
		l.handleAddLayer(env)
	case kindRemoveLayer:
		l.handleRemoveLayer(env)
	case kindViewUpdate:
		l.handleViewUpdate(env)
	}
}

func (l *Loop) handleAddLayer(env Envelope) {
	msg := env.add
	groups, err := buildTransformedSources(l.reg, msg.ScaleGroups)
	if err != nil {
		code := protocol.ErrBadGeometry
		if errors.Is(err, registry.ErrUnknownObject) {
			code = protocol.ErrUnknownSource
		}
		l.nack(env, msg.MsgID, code, err.Error())
		return
	}
	layer := l.layers[msg.LayerID]
	if layer == nil {
		target := msg.RenderScaleTarget
		if target <= 0 {
			target = 1
		}
		layer = sliceview.NewLayer(msg.LayerID, target)
		l.layers[msg.LayerID] = layer
	} else if msg.RenderScaleTarget > 0 {
		layer.SetRenderScaleTarget(msg.RenderScaleTarget)
	}
	if msg.LocalPosition != nil {
		layer.SetLocalPosition(msg.LocalPosition)
	}
	l.view.AddVisibleLayer(layer, groups)
	l.ack(env, msg.MsgID)
}

func (l *Loop) handleRemoveLayer(env Envelope) {
	msg := env.remove
	layer := l.layers[msg.LayerID]
	if layer == nil {
		l.nack(env, msg.MsgID, protocol.ErrLayerNotFound, "layer never added: "+msg.LayerID)
		return
	}
	if err := l.view.RemoveVisibleLayer(layer); err != nil {
		if errors.Is(err, sliceview.ErrLayerNotRegistered) {
			l.nack(env, msg.MsgID, protocol.ErrLayerNotFound, err.Error())
		} else {
			l.nack(env, msg.MsgID, protocol.ErrInternal, err.Error())
		}
		return
	}
	delete(l.layers, msg.LayerID)
	l.ack(env, msg.MsgID)
}

func (l *Loop) handleViewUpdate(env Envelope) {
	msg := env.view
	p := l.view.Projection()
	p.GlobalPosition = geom.Vec3(msg.Center)
	p.PlaneNormal = geom.Vec3(msg.PlaneNormal)
	p.PlaneAxisX = geom.Vec3(msg.PlaneAxisX)
	p.PlaneAxisY = geom.Vec3(msg.PlaneAxisY)
	if msg.ViewportWidth > 0 {
		p.ViewportWidth = msg.ViewportWidth
	}
	if msg.ViewportHeight > 0 {
		p.ViewportHeight = msg.ViewportHeight
	}
	if msg.RenderScaleTarget > 0 {
		p.RenderScaleTarget = msg.RenderScaleTarget
	}
	if msg.DisplayDims != l.displayDims {
		l.displayDims = msg.DisplayDims
		l.displayGen++
	}
	p.Display = sliceview.DisplayDimensions{IDs: l.displayDims, Generation: l.displayGen}
	if msg.Visible {
		p.VisibilityWeight = msg.VisibilityWeight
	} else {
		p.VisibilityWeight = sliceview.VisibilityIgnored()
	}
	l.view.SetProjection(p)
	l.ack(env, msg.MsgID)
}

func (l *Loop) ack(env Envelope, msgID uint64) {
	if env.reply == nil {
		return
	}
	env.reply(protocol.AckMsg{
		Type:            protocol.TypeAck,
		ProtocolVersion: protocol.Version,
		AckFor:          msgID,
		Accepted:        true,
	})
}

func (l *Loop) nack(env Envelope, msgID uint64, code, message string) {
	if l.logger != nil {
		l.logger.Printf("rejected msg %d: %s %s", msgID, code, message)
	}
	if env.reply == nil {
		return
	}
	env.reply(protocol.AckMsg{
		Type:            protocol.TypeAck,
		ProtocolVersion: protocol.Version,
		AckFor:          msgID,
		Accepted:        false,
		Code:            code,
		Message:         message,
	})
}
