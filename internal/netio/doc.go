// Package netio provides the packet I/O endpoints a relay bridges
// between: TUN devices (opened directly, or received from a sibling
// process over a UNIX socket via SCM_RIGHTS), and a tcpdump-format
// capture reader used to replay recorded traffic for offline testing.
//
// Linux-specific implementation uses golang.org/x/sys/unix for TUNSETIFF
// and ancillary-data file descriptor passing.
package netio
