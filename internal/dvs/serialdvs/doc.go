// Package serialdvs reads events from an eDVS sensor attached over a serial
// line. The device is switched into one of its binary event formats and
// streamed until the source is closed.
package serialdvs
