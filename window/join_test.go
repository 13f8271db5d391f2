package window_test

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/nebula-stream/node-engine/api"
	"github.com/nebula-stream/node-engine/buffer"
	"github.com/nebula-stream/node-engine/pipeline"
	"github.com/nebula-stream/node-engine/queue"
	"github.com/nebula-stream/node-engine/schema"
	"github.com/nebula-stream/node-engine/window"
)

var joinSchema = schema.New([]schema.Field{
	{Name: "ts", Type: api.TypeInt64},
	{Name: "key", Type: api.TypeUint64},
})

func joinExtractor(buf api.Buffer, tupleIdx int) (int64, uint64, error) {
	v := schema.NewView(joinSchema, buf)
	ts, err := v.Int64(tupleIdx, 0)
	if err != nil {
		return 0, 0, err
	}
	key, err := v.Int64(tupleIdx, 1)
	if err != nil {
		return 0, 0, err
	}
	return ts, uint64(key), nil
}

func makeJoinTuple(t *testing.T, pool api.BufferPool, ts int64, key uint64) api.Buffer {
	t.Helper()
	buf, err := pool.Acquire(time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	buf.SetNumTuples(1)
	v := schema.NewView(joinSchema, buf)
	if err := v.SetInt64(0, 0, ts); err != nil {
		t.Fatalf("set ts: %v", err)
	}
	if err := v.SetInt64(0, 1, int64(key)); err != nil {
		t.Fatalf("set key: %v", err)
	}
	return buf
}

func runJoinVariant(t *testing.T, variant window.JoinVariant) int32 {
	t.Helper()
	pool := buffer.NewPool(64, 64)
	alwaysMatch := func(build, probe api.Buffer, buildIdx, probeIdx int) bool { return true }

	var emitted atomic.Int32
	emit := func(ctx *pipeline.ExecutionContext, build, probe api.Buffer, buildIdx, probeIdx int) error {
		emitted.Add(1)
		return nil
	}
	engine := window.NewEngine(variant, time.Minute, joinExtractor, alwaysMatch, emit, 16)

	leftStage := pipeline.New(1, false, engine.LeftHandler(), pool, nil)
	rightStage := pipeline.New(2, false, engine.RightHandler(), pool, nil)

	q := queue.New(4, nil)
	q.Start()
	defer q.Shutdown(true)

	left := makeJoinTuple(t, pool, 0, 42)
	right := makeJoinTuple(t, pool, 0, 42)
	if err := q.SubmitData(left, leftStage); err != nil {
		t.Fatalf("submit left: %v", err)
	}
	if err := q.SubmitData(right, rightStage); err != nil {
		t.Fatalf("submit right: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	return emitted.Load()
}

func TestJoinVariantsProduceAMatch(t *testing.T) {
	for _, v := range []window.JoinVariant{
		window.HashJoinLocal,
		window.HashJoinGlobalLocking,
		window.HashJoinGlobalLockFree,
		window.NestedLoopJoin,
	} {
		if got := runJoinVariant(t, v); got == 0 {
			t.Errorf("variant %d: expected at least one emitted match", v)
		}
	}
}
