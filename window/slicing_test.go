package window_test

import (
	"testing"
	"time"

	"github.com/nebula-stream/node-engine/api"
	"github.com/nebula-stream/node-engine/buffer"
	"github.com/nebula-stream/node-engine/pipeline"
	"github.com/nebula-stream/node-engine/queue"
	"github.com/nebula-stream/node-engine/schema"
	"github.com/nebula-stream/node-engine/window"
)

var inputSchema = schema.New([]schema.Field{
	{Name: "ts", Type: api.TypeInt64},
	{Name: "val", Type: api.TypeFloat64},
})

var outputSchema = schema.New([]schema.Field{
	{Name: "start", Type: api.TypeInt64},
	{Name: "end", Type: api.TypeInt64},
	{Name: "key", Type: api.TypeUint64},
	{Name: "value", Type: api.TypeFloat64},
})

func extractor(buf api.Buffer, tupleIdx int) (int64, uint64, float64, error) {
	v := schema.NewView(inputSchema, buf)
	ts, err := v.Int64(tupleIdx, 0)
	if err != nil {
		return 0, 0, 0, err
	}
	val, err := v.Float64(tupleIdx, 1)
	if err != nil {
		return 0, 0, 0, err
	}
	return ts, 0, val, nil
}

func encoder(out api.Buffer, start, end int64, keyed bool, key uint64, value float64) error {
	out.SetNumTuples(1)
	v := schema.NewView(outputSchema, out)
	if err := v.SetInt64(0, 0, start); err != nil {
		return err
	}
	if err := v.SetInt64(0, 1, end); err != nil {
		return err
	}
	if err := v.SetInt64(0, 2, int64(key)); err != nil {
		return err
	}
	return v.SetFloat64(0, 3, value)
}

func makeTuple(t *testing.T, pool api.BufferPool, ts int64, val float64, watermark uint64) api.Buffer {
	t.Helper()
	buf, err := pool.Acquire(time.Second)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	buf.SetNumTuples(1)
	v := schema.NewView(inputSchema, buf)
	if err := v.SetInt64(0, 0, ts); err != nil {
		t.Fatalf("set ts: %v", err)
	}
	if err := v.SetFloat64(0, 1, val); err != nil {
		t.Fatalf("set val: %v", err)
	}
	buf.SetWatermark(watermark)
	return buf
}

func TestSlicingAggregatorEmitsOnWatermarkAdvance(t *testing.T) {
	pool := buffer.NewPool(64, 32)
	const sec = int64(time.Second)
	agg := window.NewSlicingAggregator(10*time.Second, 5*time.Second, window.SumAggregation{}, extractor, encoder, pool)

	var sink sinkCapture
	sinkStage := pipeline.New(2, false, &sink, pool, nil)
	srcStage := pipeline.New(1, false, agg, pool, nil)
	srcStage.SetDownstream(sinkStage)

	q := queue.New(2, nil)
	q.Start()
	defer q.Shutdown(true)

	// Ingest tuples at t=1s,3s,6s and advance the watermark to 12s, which
	// should fire the [0,10) window (end=10 <= wm=12).
	for _, tv := range []struct {
		ts  int64
		val float64
	}{{1 * sec, 1}, {3 * sec, 2}, {6 * sec, 3}} {
		buf := makeTuple(t, pool, tv.ts, tv.val, uint64(12*sec))
		if err := q.SubmitData(buf, srcStage); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}

	deadline := time.Now().Add(2 * time.Second)
	for sink.received.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if sink.received.Load() == 0 {
		t.Fatal("expected at least one emitted window")
	}
}

func TestSlicingAggregatorLiveSliceCountBounded(t *testing.T) {
	pool := buffer.NewPool(64, 64)
	windowDur := 10 * time.Second
	slide := 2 * time.Second
	agg := window.NewSlicingAggregator(windowDur, slide, window.SumAggregation{}, extractor, encoder, pool)

	sinkStage := pipeline.New(2, false, &sinkCapture{}, pool, nil)
	stage := pipeline.New(1, false, agg, pool, nil)
	stage.SetDownstream(sinkStage)

	q := queue.New(1, nil)
	q.Start()
	defer q.Shutdown(true)

	const sec = int64(time.Second)
	for i := int64(0); i < 60; i++ {
		buf := makeTuple(t, pool, i*sec, 1, uint64(i*sec))
		if err := q.SubmitData(buf, stage); err != nil {
			t.Fatalf("submit at t=%d: %v", i, err)
		}
		time.Sleep(200 * time.Microsecond)
	}
	time.Sleep(50 * time.Millisecond)

	maxLive := int(windowDur / (2 * time.Second)) // W/gcd(W,S) when gcd==slide
	if got := agg.LiveSliceCount(); got > maxLive+1 {
		t.Fatalf("live slice count %d exceeds bound %d", got, maxLive+1)
	}
}
