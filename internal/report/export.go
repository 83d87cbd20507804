package report

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/ipc"
	"github.com/apache/arrow/go/v17/arrow/memory"

	"steadybench/internal/stats"
)

// ExportCSV writes one row per latency sample, in drain order.
// Schema: query,sample_id,qsl_idx,issued_ns,completed_ns,latency_ns
func ExportCSV(w io.Writer, samples []stats.Sample) error {
	cw := csv.NewWriter(w)

	header := []string{"query", "sample_id", "qsl_idx", "issued_ns", "completed_ns", "latency_ns"}
	if err := cw.Write(header); err != nil {
		return err
	}

	record := make([]string, len(header))
	for _, s := range samples {
		record[0] = strconv.FormatUint(s.Query, 10)
		record[1] = strconv.FormatUint(s.ID, 10)
		record[2] = strconv.FormatUint(uint64(s.Index), 10)
		record[3] = strconv.FormatInt(s.Issued, 10)
		record[4] = strconv.FormatInt(s.Completed, 10)
		record[5] = strconv.FormatInt(s.Completed-s.Issued, 10)
		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}

// LatencySchema is the column layout of the Arrow export.
var LatencySchema = arrow.NewSchema([]arrow.Field{
	{Name: "query", Type: arrow.PrimitiveTypes.Uint64},
	{Name: "sample_id", Type: arrow.PrimitiveTypes.Uint64},
	{Name: "qsl_idx", Type: arrow.PrimitiveTypes.Uint64},
	{Name: "issued_ns", Type: arrow.PrimitiveTypes.Int64},
	{Name: "completed_ns", Type: arrow.PrimitiveTypes.Int64},
	{Name: "latency_ns", Type: arrow.PrimitiveTypes.Int64},
}, nil)

// arrowBatch bounds the rows per record batch.
const arrowBatch = 64 * 1024

// ExportArrow writes the samples as an Arrow IPC file.
func ExportArrow(w io.Writer, samples []stats.Sample) error {
	pool := memory.NewGoAllocator()
	fw, err := ipc.NewFileWriter(w, ipc.WithSchema(LatencySchema), ipc.WithAllocator(pool))
	if err != nil {
		return err
	}

	b := array.NewRecordBuilder(pool, LatencySchema)
	defer b.Release()

	for start := 0; start < len(samples); start += arrowBatch {
		end := start + arrowBatch
		if end > len(samples) {
			end = len(samples)
		}
		for _, s := range samples[start:end] {
			b.Field(0).(*array.Uint64Builder).Append(s.Query)
			b.Field(1).(*array.Uint64Builder).Append(s.ID)
			b.Field(2).(*array.Uint64Builder).Append(uint64(s.Index))
			b.Field(3).(*array.Int64Builder).Append(s.Issued)
			b.Field(4).(*array.Int64Builder).Append(s.Completed)
			b.Field(5).(*array.Int64Builder).Append(s.Completed - s.Issued)
		}
		rec := b.NewRecord()
		err := fw.Write(rec)
		rec.Release()
		if err != nil {
			fw.Close()
			return err
		}
	}
	return fw.Close()
}
