// Package eventfile reads and writes event recordings. The format is chosen
// by file extension: .txt and .csv hold "timestamp,x,y[,polarity]" lines,
// .evz is a zstd-compressed binary container, and "-" is stdout.
package eventfile
