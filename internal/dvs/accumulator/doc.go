// Package accumulator turns event streams into per-pixel count grids.
//
// An Accumulator holds two buffers. Producers increment the active buffer
// under a single mutex; a consumer calling Read swaps in a zeroed buffer and
// receives the frozen one as an owned Snapshot, so a consumer never observes
// a grid that is still being written. Buffers are allocated through a
// Storage strategy so the same swap algorithm serves plain host slices and
// gonum matrices.
//
// Grids are laid out row-major by x: index = x*height + y, matching the
// remap lookup table.
package accumulator
