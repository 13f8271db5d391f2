package wire_test

import (
	"bytes"
	"testing"

	"github.com/nebula-stream/node-engine/api"
	"github.com/nebula-stream/node-engine/network/wire"
)

var testKey = api.PartitionKey{SharedQueryID: 1, DecomposedQueryID: 2, OperatorID: 3, SubpartitionIndex: 4}

func TestDataRoundTrip(t *testing.T) {
	orig := &wire.Message{
		Type:            wire.TypeData,
		Key:             testKey,
		SequenceNumber:  7,
		OriginID:        99,
		Watermark:       1234,
		TupleCount:      2,
		TupleSize:       8,
		ChildRegionSize: 3,
		Payload:         []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
		ChildRegion:     []byte{0xaa, 0xbb, 0xcc},
	}
	raw, err := wire.Encode(orig)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, consumed, err := wire.Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if consumed != len(raw) {
		t.Fatalf("consumed %d, want %d", consumed, len(raw))
	}
	if got.Key != testKey || got.SequenceNumber != 7 || got.OriginID != 99 || got.Watermark != 1234 {
		t.Fatalf("header mismatch: %+v", got)
	}
	if !bytes.Equal(got.Payload, orig.Payload) {
		t.Fatalf("payload mismatch: %v vs %v", got.Payload, orig.Payload)
	}
	if !bytes.Equal(got.ChildRegion, orig.ChildRegion) {
		t.Fatalf("child region mismatch: %v vs %v", got.ChildRegion, orig.ChildRegion)
	}
}

func TestDecodeIncompleteReturnsZeroConsumed(t *testing.T) {
	orig := &wire.Message{
		Type: wire.TypeData, Key: testKey, TupleCount: 1, TupleSize: 8,
		Payload: make([]byte, 8),
	}
	raw, err := wire.Encode(orig)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	msg, consumed, err := wire.Decode(raw[:len(raw)-1])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if msg != nil || consumed != 0 {
		t.Fatalf("expected incomplete decode to return (nil, 0, nil), got (%v, %d)", msg, consumed)
	}
}

func TestAnnounceRoundTrip(t *testing.T) {
	orig := &wire.Message{Type: wire.TypeAnnounce, Key: testKey, ProducerVersion: 3, ExpectedProducers: 2}
	raw, err := wire.Encode(orig)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, consumed, err := wire.Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if consumed != len(raw) {
		t.Fatalf("consumed %d, want %d", consumed, len(raw))
	}
	if got.ProducerVersion != 3 || got.ExpectedProducers != 2 {
		t.Fatalf("announce mismatch: %+v", got)
	}
}

func TestEndOfStreamRoundTrip(t *testing.T) {
	orig := &wire.Message{
		Type: wire.TypeEndOfStream, Key: testKey,
		Termination: wire.TerminationReconfiguration, LastSequenceNumber: 42,
	}
	raw, err := wire.Encode(orig)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, consumed, err := wire.Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if consumed != len(raw) {
		t.Fatalf("consumed %d, want %d", consumed, len(raw))
	}
	if got.Termination != wire.TerminationReconfiguration || got.LastSequenceNumber != 42 {
		t.Fatalf("eos mismatch: %+v", got)
	}
}

func TestDecodeUnknownTypeErrors(t *testing.T) {
	raw := make([]byte, 33)
	raw[0] = 200
	if _, _, err := wire.Decode(raw); err == nil {
		t.Fatal("expected an error for an unknown message type")
	}
}
