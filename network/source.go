package network

import (
	"net"
	"sync"
	"time"

	"github.com/nebula-stream/node-engine/api"
	"github.com/nebula-stream/node-engine/network/wire"
	"github.com/nebula-stream/node-engine/partition"
)

// StageConsumer adapts a queue.Stage entry point to partition.LocalConsumer
// so a Source can deliver buffers straight into the worker pool's task
// queue. Grounded on api/context_factory.go's adapter-between-layers
// style.
type StageConsumer struct {
	Submit func(buf api.Buffer) error
	Events func(ev api.ReconfigurationEvent)
}

func (c *StageConsumer) Consume(buf api.Buffer) error { return c.Submit(buf) }

func (c *StageConsumer) HandleEvent(ev api.ReconfigurationEvent) {
	if c.Events != nil {
		c.Events(ev)
	}
}

// pendingEntry holds a connection that arrived before its partition was
// registered, per spec.md section 4.5 point 4.
type pendingEntry struct {
	conn     net.Conn
	deadline time.Time
}

// Source is the consumer side of a network channel (spec.md section
// 4.5, NetworkSource). It listens for inbound TCP connections, decodes
// Data/Announce/EndOfStream/Event messages, and dispatches Data buffers
// to the partition manager's registered LocalConsumer for the message's
// PartitionKey.
type Source struct {
	pool     api.BufferPool
	registry *partition.Registry
	grace    time.Duration

	ln net.Listener

	mu      sync.Mutex
	pending []pendingEntry

	wg sync.WaitGroup
}

// NewSource constructs a source bound to a buffer pool and partition
// registry. grace is how long an inbound connection for a not-yet
// registered partition is held before being rejected (spec.md section
// 4.5 point 4).
func NewSource(pool api.BufferPool, registry *partition.Registry, grace time.Duration) *Source {
	if grace <= 0 {
		grace = 5 * time.Second
	}
	return &Source{pool: pool, registry: registry, grace: grace}
}

// Listen opens addr and begins accepting connections. Call Close to
// stop.
func (s *Source) Listen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr returns the listener's bound address, useful when Listen was
// called with a ":0" port for tests.
func (s *Source) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Close stops accepting new connections.
func (s *Source) Close() error {
	if s.ln == nil {
		return nil
	}
	err := s.ln.Close()
	s.wg.Wait()
	return err
}

func (s *Source) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Source) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	buf := make([]byte, 64*1024)
	pending := make([]byte, 0, 64*1024)
	var registeredPartition api.PartitionKey
	var haveKey bool

	for {
		n, err := conn.Read(buf)
		if err != nil {
			if haveKey {
				s.deliverEvent(registeredPartition, api.ReconfigurationEvent{Kind: api.ReconfigHardEnd})
			}
			return
		}
		pending = append(pending, buf[:n]...)
		for {
			msg, consumed, err := wire.Decode(pending)
			if err != nil {
				return
			}
			if consumed == 0 {
				break
			}
			pending = pending[consumed:]
			if !haveKey {
				registeredPartition = msg.Key
				haveKey = true
			}
			s.dispatch(conn, msg)
		}
	}
}

// dispatch implements spec.md section 4.5 points 2-3: construct a
// buffer from the pool for Data messages, or propagate termination
// downstream on EndOfStream.
func (s *Source) dispatch(conn net.Conn, msg *wire.Message) {
	switch msg.Type {
	case wire.TypeData:
		s.dispatchData(conn, msg)
	case wire.TypeEndOfStream:
		s.dispatchEndOfStream(msg)
	case wire.TypeAnnounce:
		// Producer announced its version/expected-producer-count; the
		// registry's Register call already captured expectedProducers at
		// plan-setup time, so there is nothing further to record here.
	}
}

func (s *Source) dispatchData(conn net.Conn, msg *wire.Message) {
	consumer, ok := s.lookupWithGrace(msg.Key, conn)
	if !ok {
		return
	}
	out, err := s.pool.Acquire(time.Second)
	if err != nil {
		return
	}
	copy(out.Bytes(), msg.Payload)
	if len(msg.ChildRegion) > 0 {
		out.SetChildRegion(append([]byte(nil), msg.ChildRegion...))
	}
	out.SetNumTuples(msg.TupleCount)
	out.SetTupleSize(msg.TupleSize)
	out.SetOriginID(msg.OriginID)
	out.SetSequenceNumber(msg.SequenceNumber)
	out.SetWatermark(msg.Watermark)
	if err := consumer.Consume(out); err != nil {
		out.Release()
	}
}

func (s *Source) dispatchEndOfStream(msg *wire.Message) {
	consumer, ok := s.registry.Lookup(msg.Key)
	if !ok {
		return
	}
	kind := api.ReconfigSoftEnd
	switch msg.Termination {
	case wire.TerminationHard:
		kind = api.ReconfigHardEnd
	case wire.TerminationFailure:
		kind = api.ReconfigFailEnd
	case wire.TerminationReconfiguration:
		kind = api.ReconfigConnectToNewReceiver
	}
	consumer.HandleEvent(api.ReconfigurationEvent{Kind: kind})
}

func (s *Source) deliverEvent(key api.PartitionKey, ev api.ReconfigurationEvent) {
	if consumer, ok := s.registry.Lookup(key); ok {
		consumer.HandleEvent(ev)
	}
}

// lookupWithGrace looks up key in the registry; if absent, it polls the
// registry every 10ms for up to s.grace before giving up, per spec.md
// section 4.5 point 4. The connection's reader is blocked in this call
// while it waits.
func (s *Source) lookupWithGrace(key api.PartitionKey, conn net.Conn) (partition.LocalConsumer, bool) {
	if c, ok := s.registry.Lookup(key); ok {
		return c, true
	}
	deadline := time.Now().Add(s.grace)
	for time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
		if c, ok := s.registry.Lookup(key); ok {
			return c, true
		}
	}
	return nil, false
}

// SendEvent writes an Event message toward the producer on conn, per
// spec.md section 4.5's back-channel ("StartSource, Reconnect").
func SendEvent(conn net.Conn, key api.PartitionKey, kind EventKind) error {
	raw, err := wire.Encode(&wire.Message{Type: wire.TypeEvent, Key: key, EventPayload: encodeEvent(kind)})
	if err != nil {
		return err
	}
	_, err = conn.Write(raw)
	return err
}
