package network_test

import (
	"testing"
	"time"

	"github.com/nebula-stream/node-engine/api"
	"github.com/nebula-stream/node-engine/buffer"
	"github.com/nebula-stream/node-engine/network"
	"github.com/nebula-stream/node-engine/partition"
)

func makeDataBuffer(t *testing.T, pool api.BufferPool, origin api.OriginID) api.Buffer {
	t.Helper()
	buf, err := pool.Acquire(time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	buf.SetOriginID(origin)
	buf.SetNumTuples(1)
	buf.SetTupleSize(8)
	return buf
}

func TestSinkSourceDeliversBuffer(t *testing.T) {
	pool := buffer.NewPool(16, 64)
	registry := partition.NewRegistry(4)
	key := api.PartitionKey{SharedQueryID: 1, DecomposedQueryID: 1, OperatorID: 1, SubpartitionIndex: 1}

	received := make(chan api.Buffer, 4)
	consumer := &network.StageConsumer{
		Submit: func(buf api.Buffer) error {
			received <- buf
			return nil
		},
	}
	if err := registry.Register(key, consumer, 1); err != nil {
		t.Fatalf("register: %v", err)
	}

	source := network.NewSource(pool, registry, time.Second)
	if err := source.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer source.Close()

	sink := network.NewSink(key, pool, source.Addr(), 5, 10*time.Millisecond, 16)
	sink.Start()

	buf := makeDataBuffer(t, pool, 7)
	if _, err := sink.Process(nil, buf); err != nil {
		t.Fatalf("process: %v", err)
	}

	select {
	case got := <-received:
		if got.OriginID() != 7 {
			t.Fatalf("origin mismatch: got %d", got.OriginID())
		}
		got.Release()
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivered buffer")
	}
}

// TestSinkSequenceResetsOnReconnect exercises spec.md section 8's
// reconnect scenario: after ConnectToNewReceiver, the new channel's
// sequence numbers restart at 1 rather than continuing from the old
// channel's count.
func TestSinkSequenceResetsOnReconnect(t *testing.T) {
	pool := buffer.NewPool(16, 64)
	registry := partition.NewRegistry(4)
	key := api.PartitionKey{SharedQueryID: 2, DecomposedQueryID: 1, OperatorID: 1, SubpartitionIndex: 1}

	received := make(chan api.Buffer, 16)
	consumer := &network.StageConsumer{
		Submit: func(buf api.Buffer) error {
			received <- buf
			return nil
		},
	}
	if err := registry.Register(key, consumer, 1); err != nil {
		t.Fatalf("register: %v", err)
	}

	firstSource := network.NewSource(pool, registry, time.Second)
	if err := firstSource.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("listen first: %v", err)
	}
	defer firstSource.Close()

	secondSource := network.NewSource(pool, registry, time.Second)
	if err := secondSource.Listen("127.0.0.1:0"); err != nil {
		t.Fatalf("listen second: %v", err)
	}
	defer secondSource.Close()

	sink := network.NewSink(key, pool, firstSource.Addr(), 5, 10*time.Millisecond, 16)
	sink.Start()

	if _, err := sink.Process(nil, makeDataBuffer(t, pool, 1)); err != nil {
		t.Fatalf("process before swap: %v", err)
	}
	select {
	case got := <-received:
		if got.SequenceNumber() != 1 {
			t.Fatalf("expected sequence 1 on first channel, got %d", got.SequenceNumber())
		}
		got.Release()
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for first-channel buffer")
	}

	marker := api.ReconfigurationMarker{
		QueryID: api.QueryID(key.SharedQueryID),
		Events:  []api.ReconfigurationEvent{{Kind: api.ReconfigConnectToNewReceiver, Payload: secondSource.Addr()}},
	}
	sink.HandleReconfiguration(marker, nil)

	if _, err := sink.Process(nil, makeDataBuffer(t, pool, 2)); err != nil {
		t.Fatalf("process after swap: %v", err)
	}
	select {
	case got := <-received:
		if got.SequenceNumber() != 1 {
			t.Fatalf("expected sequence to reset to 1 on new channel, got %d", got.SequenceNumber())
		}
		got.Release()
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for second-channel buffer")
	}
}
