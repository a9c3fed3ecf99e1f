// Package dvs holds the shared data model for event-camera streams: the
// Event value, the pull-based Source and Sink contracts, and the error
// taxonomy used by every pipeline stage.
//
// Subpackages own the individual layers:
//
//   - remap: lookup-table construction and per-event remapping
//   - accumulator: double-buffered pixel-count grids
//   - network: UDP wire format, packet sink, listeners and pcap replay
//   - serialdvs: serial-attached eDVS device source
//   - eventfile: text and compressed container files
//   - grpcstream: gRPC event subscription
//   - pipeline: source -> remap -> sink driver
//   - store: SQLite run ledger, event sink and snapshot archive
//   - monitor: HTTP debug surface for accumulator snapshots
package dvs
