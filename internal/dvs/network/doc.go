// Package network moves event streams over UDP.
//
// PacketSink batches events into fixed-size datagrams. Listener receives
// datagrams and feeds an accumulator. UDPSource and PCAPSource turn live or
// captured datagrams back into a dvs.Source. Live interface capture needs
// the pcap build tag.
package network
