// Package sut holds the contracts between the harness and the code being
// benchmarked: the query sample library that stages data, and the system
// under test that answers queries.
package sut

// SampleIndex identifies one sample in the sample library.
type SampleIndex uint64

// QuerySample is a single sample issued to the SUT. ID is assigned by the
// harness and must be echoed back in the matching response.
type QuerySample struct {
	ID    uint64
	Index SampleIndex
}

// QuerySampleResponse reports one finished sample. Data is owned by the SUT
// and only has to stay valid for the duration of the Complete call.
type QuerySampleResponse struct {
	ID   uint64
	Data []byte
}

// Completer receives completions. It is safe for concurrent use by any
// number of goroutines and never blocks.
type Completer interface {
	Complete(responses []QuerySampleResponse)
}

// SampleLibrary loads samples into memory between phases.
type SampleLibrary interface {
	Name() string
	TotalSampleCount() int
	// PerformanceSampleCount is how many samples fit in memory at once.
	PerformanceSampleCount() int
	LoadSamplesToMemory(indices []SampleIndex) error
	UnloadSamplesFromMemory(indices []SampleIndex) error
}

// SystemUnderTest answers queries asynchronously. For every sample of every
// query it must eventually call Complete on the Completer passed to
// IssueQuery. IssueQuery should return quickly.
type SystemUnderTest interface {
	Name() string
	IssueQuery(samples []QuerySample, done Completer)
	// FlushQueries asks the SUT to stop batching and issue whatever it holds.
	FlushQueries()
}
