package network

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nebula-stream/node-engine/api"
	"github.com/nebula-stream/node-engine/network/wire"
	"github.com/nebula-stream/node-engine/nebulaerrors"
	"github.com/nebula-stream/node-engine/pipeline"
	"github.com/nebula-stream/node-engine/queue"
)

// Sink is the producer side of a network channel (spec.md section 4.5,
// NetworkSink). It is installed as the terminal pipeline.Handler of a
// stage with no downstream targets: every buffer it processes is
// serialized and written to the current connection, or queued in a
// bounded reconnect buffer while a connect attempt is in flight.
//
// Grounded on protocol/frame_codec.go's framing discipline and on
// control/hotreload.go's atomic-swap-under-a-running-system idiom,
// generalized here to the channel handle itself rather than a config
// value.
type Sink struct {
	key  api.PartitionKey
	pool api.BufferPool

	addr         atomic.Pointer[string]
	retryTimes   int
	wait         time.Duration
	reconnectCap int

	connMu sync.Mutex
	conn   net.Conn
	cur    *connector

	reconnectBuf chan api.Buffer
	seq          atomic.Uint64

	cancel context.CancelFunc
	wg     sync.WaitGroup

	lastEvent atomic.Uint32 // last EventKind observed on the back-channel, 0 = none
}

var _ pipeline.Handler = (*Sink)(nil)

// NewSink constructs a sink bound to key, with an initial destination
// address. Call Start to begin the async connector.
func NewSink(key api.PartitionKey, pool api.BufferPool, addr string, retryTimes int, wait time.Duration, reconnectCap int) *Sink {
	if reconnectCap <= 0 {
		reconnectCap = 256
	}
	s := &Sink{
		key:          key,
		pool:         pool,
		retryTimes:   retryTimes,
		wait:         wait,
		reconnectCap: reconnectCap,
		reconnectBuf: make(chan api.Buffer, reconnectCap),
	}
	s.addr.Store(&addr)
	return s
}

// Start spawns the async connector task described by spec.md section
// 4.5 point 1: connect with exponential backoff, then drain the
// reconnect buffer in FIFO order once connected.
func (s *Sink) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.connectLoop(ctx, *s.addr.Load())
}

func (s *Sink) connectLoop(ctx context.Context, addr string) {
	defer s.wg.Done()
	c := newConnector(addr, s.retryTimes, s.wait)
	s.connMu.Lock()
	s.cur = c
	s.connMu.Unlock()

	conn, err := c.connect(ctx)
	if err != nil {
		return // ErrConnectTimeout or cancellation; caller observes via HandleReconfiguration/FailEnd
	}
	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()

	s.drainReconnectBuffer()
	s.readEventsLoop(ctx, conn)
}

// drainReconnectBuffer flushes buffers accumulated while disconnected,
// in FIFO order, before the channel accepts new tuples directly
// (spec.md section 4.5 point 2).
func (s *Sink) drainReconnectBuffer() {
	for {
		select {
		case buf := <-s.reconnectBuf:
			_ = s.writeData(buf)
			buf.Release()
		default:
			return
		}
	}
}

// readEventsLoop watches the shared connection for inbound Event
// messages from the consumer side (the back-channel, spec.md section
// 4.5), recording the last observed kind for rate-control decisions.
func (s *Sink) readEventsLoop(ctx context.Context, conn net.Conn) {
	buf := make([]byte, 4096)
	pending := make([]byte, 0, 4096)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		pending = append(pending, buf[:n]...)
		for {
			msg, consumed, err := wire.Decode(pending)
			if err != nil || consumed == 0 {
				break
			}
			pending = pending[consumed:]
			if msg.Type == wire.TypeEvent {
				if kind, ok := decodeEvent(msg.EventPayload); ok {
					s.lastEvent.Store(uint32(kind))
				}
			}
		}
	}
}

// Process writes buf to the current connection as a Data message, or
// queues it in the reconnect buffer while disconnected. A full
// reconnect buffer is reported as ResultRetry so the scheduler applies
// back-pressure to the upstream stage, per spec.md section 4.5 point 1.
func (s *Sink) Process(ctx *pipeline.ExecutionContext, buf api.Buffer) (queue.Result, error) {
	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()

	if conn == nil {
		retained := buf.Retain()
		select {
		case s.reconnectBuf <- retained:
			return queue.ResultOk, nil
		default:
			retained.Release()
			return queue.ResultRetry, nil
		}
	}
	if err := s.writeData(buf); err != nil {
		return queue.ResultRetry, nil
	}
	return queue.ResultOk, nil
}

func (s *Sink) writeData(buf api.Buffer) error {
	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()
	if conn == nil {
		return nebulaerrors.New(nebulaerrors.CodeChannelClosed, nebulaerrors.ErrChannelClosed, "no active channel")
	}
	payload := buf.Bytes()
	if n := int(buf.NumTuples()) * int(buf.TupleSize()); n < len(payload) {
		payload = payload[:n]
	}
	msg := &wire.Message{
		Type:            wire.TypeData,
		Key:             s.key,
		SequenceNumber:  api.SequenceNumber(s.seq.Add(1)),
		OriginID:        buf.OriginID(),
		Watermark:       buf.Watermark(),
		TupleCount:      buf.NumTuples(),
		TupleSize:       buf.TupleSize(),
		ChildRegionSize: uint32(len(buf.ChildRegion())),
		Payload:         payload,
		ChildRegion:     buf.ChildRegion(),
	}
	raw, err := wire.Encode(msg)
	if err != nil {
		return err
	}
	_, err = conn.Write(raw)
	return err
}

func (s *Sink) sendEndOfStream(kind wire.TerminationKind) {
	s.connMu.Lock()
	conn := s.conn
	s.connMu.Unlock()
	if conn == nil {
		return
	}
	raw, err := wire.Encode(&wire.Message{
		Type:               wire.TypeEndOfStream,
		Key:                s.key,
		Termination:        kind,
		LastSequenceNumber: api.SequenceNumber(s.seq.Load()),
	})
	if err == nil {
		_, _ = conn.Write(raw)
	}
}

// HandleReconfiguration implements the producer-side transitions of
// spec.md section 4.5 points 3-4.
func (s *Sink) HandleReconfiguration(marker api.ReconfigurationMarker, ctx *pipeline.ExecutionContext) {
	for _, ev := range marker.Events {
		switch ev.Kind {
		case api.ReconfigConnectToNewReceiver:
			newAddr, _ := ev.Payload.(string)
			s.swapReceiver(newAddr)
		case api.ReconfigSoftEnd:
			s.closeChannel(wire.TerminationGraceful, true)
		case api.ReconfigHardEnd:
			s.closeChannel(wire.TerminationHard, false)
		case api.ReconfigFailEnd:
			s.closeChannel(wire.TerminationFailure, false)
		}
	}
}

// swapReceiver aborts any in-progress connection, emits a
// Reconfiguration end-of-stream on the old channel, and begins a new
// async connect. Buffers already queued in the reconnect buffer are
// replayed against the new destination once it connects. The sequence
// counter restarts at zero on the new channel, per spec.md section 8's
// reconnect scenario (sequence numbers on the new channel are {1..N}).
func (s *Sink) swapReceiver(newAddr string) {
	s.connMu.Lock()
	cur := s.cur
	old := s.conn
	s.conn = nil
	s.connMu.Unlock()

	if cur != nil {
		cur.abort()
	}
	if old != nil {
		s.connMu.Lock()
		s.conn = old
		s.connMu.Unlock()
		s.sendEndOfStream(wire.TerminationReconfiguration)
		s.connMu.Lock()
		s.conn = nil
		s.connMu.Unlock()
		_ = old.Close()
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	s.seq.Store(0)
	s.addr.Store(&newAddr)
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.wg.Add(1)
	go s.connectLoop(ctx, newAddr)
}

// closeChannel drains (soft only, handled by the caller's scheduler
// before this fires) and releases the channel, sending kind as the
// final end-of-stream message.
func (s *Sink) closeChannel(kind wire.TerminationKind, drainFirst bool) {
	if drainFirst {
		s.drainReconnectBuffer()
	}
	s.sendEndOfStream(kind)
	if s.cancel != nil {
		s.cancel()
	}
	s.connMu.Lock()
	conn := s.conn
	s.conn = nil
	s.connMu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	for {
		select {
		case buf := <-s.reconnectBuf:
			buf.Release()
		default:
			return
		}
	}
}
