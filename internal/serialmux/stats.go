package serialmux

// LinkStats is a snapshot of the cross-link health counters. All values are
// cumulative since the mux was created.
type LinkStats struct {
	BytesIn        uint64 `json:"bytes_in"`
	BytesOut       uint64 `json:"bytes_out"`
	PacketsIn      uint64 `json:"packets_in"`
	PacketsOut     uint64 `json:"packets_out"`
	PacketsDropped uint64 `json:"packets_dropped"` // fan-out drops to slow subscribers
	DecodeErrors   uint64 `json:"decode_errors"`   // corrupt headers seen by the decoder
	BytesDiscarded uint64 `json:"bytes_discarded"` // garbage bytes skipped while resyncing
}
