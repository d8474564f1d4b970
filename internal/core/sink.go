package core

// Sink accepts time-ordered samples and produces the final container output.
//
// The merge engine calls AddTrack once per kind, then Start, then
// WriteSample for every popped sample, and finally Stop and Release exactly
// once when the session ends.
type Sink interface {
	// AddTrack registers a track and returns its identifier
	AddTrack(kind Kind, format Format) (TrackID, error)

	// Start begins accepting samples
	Start() error

	// WriteSample appends one sample to a track
	WriteSample(track TrackID, payload []byte, pts int64, flags Flags) error

	// Stop finalizes the output
	Stop() error

	// Release frees every resource held by the sink
	Release() error
}
