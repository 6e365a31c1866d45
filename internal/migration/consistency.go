package migration

// Consistency reconciles source and destination counters after a
// migration and accounts for the bytes actually transferred. A zero Diff
// is the correctness target; equal counters do not prove equal blob
// contents, only that no update was lost or double-counted.
type Consistency struct {
	SourceCounter  int `json:"source_counter"`
	DestCounter    int `json:"dest_counter"`
	Diff           int `json:"diff"`
	StateSizeBytes int `json:"state_size_bytes"`
}

// ComputeConsistency builds a Consistency record with the absolute
// counter difference.
func ComputeConsistency(sourceCounter, destCounter, bytesTransferred int) Consistency {
	diff := sourceCounter - destCounter
	if diff < 0 {
		diff = -diff
	}
	return Consistency{
		SourceCounter:  sourceCounter,
		DestCounter:    destCounter,
		Diff:           diff,
		StateSizeBytes: bytesTransferred,
	}
}

// AbortedConsistency marks a run that failed before counters could be
// reconciled. The negative diff signals inconsistency without fabricating
// a measurement.
func AbortedConsistency() Consistency {
	return Consistency{Diff: -1}
}
