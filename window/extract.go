package window

import "github.com/nebula-stream/node-engine/api"

// Extractor pulls a window assigner's three inputs out of an ingested
// buffer: the event timestamp (nanoseconds since epoch), the GROUP BY
// key (0 for non-keyed windows), and the aggregable field's value.
// Buffers may hold more than one tuple; Extractor is called once per
// tuple index in [0, buf.NumTuples()).
type Extractor func(buf api.Buffer, tupleIndex int) (timestampNanos int64, key uint64, value float64, err error)

// OutputEncoder writes one emitted window result into an output
// buffer's first tuple slot. keyed is false for global windows, in
// which case key is meaningless and should be ignored.
type OutputEncoder func(out api.Buffer, windowStart, windowEnd int64, keyed bool, key uint64, value float64) error
