// Package remap owns the geometric remapping engine.
//
// A Table folds lens undistortion (a calibration file that may fan one source
// pixel out to two destinations), a rigid transform (rotation or mirror) and
// spatial decimation into one per-pixel lookup built once at startup. A
// Remapper applies the table to each event in O(1) and performs temporal
// decimation, forwarding one of every t emitted events.
//
// Tables are indexed by x*height+y over the source frame and sized exactly
// to the configured dimensions.
package remap
