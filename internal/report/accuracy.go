package report

import (
	"encoding/hex"
	"io"

	"github.com/sugawarayuuta/sonnet"

	"steadybench/internal/stats"
)

// AccuracyEntry is one retained response. Data is hex encoded so the file
// stays valid JSON whatever the SUT returns.
type AccuracyEntry struct {
	SeqID  uint64 `json:"seq_id"`
	QSLIdx uint64 `json:"qsl_idx"`
	Data   string `json:"data"`
}

// ExportAccuracy writes a JSON array with one entry per line.
func ExportAccuracy(w io.Writer, responses []stats.Response) error {
	if _, err := io.WriteString(w, "[\n"); err != nil {
		return err
	}
	for i, r := range responses {
		line, err := sonnet.Marshal(AccuracyEntry{
			SeqID:  r.ID,
			QSLIdx: uint64(r.Index),
			Data:   hex.EncodeToString(r.Data),
		})
		if err != nil {
			return err
		}
		if i < len(responses)-1 {
			line = append(line, ',')
		}
		line = append(line, '\n')
		if _, err := w.Write(line); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "]\n")
	return err
}

// ReadAccuracy parses a file written by ExportAccuracy.
func ReadAccuracy(r io.Reader) ([]AccuracyEntry, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var out []AccuracyEntry
	if err := sonnet.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
