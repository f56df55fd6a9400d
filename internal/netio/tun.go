//go:build linux

package netio

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/epdtry/tfh-mitm/internal/wire"
)

// tunDevice is the character device every TUN interface is created
// through.
const tunDevice = "/dev/net/tun"

// ifNameSize is the size of the kernel's IFNAMSIZ, the fixed-width
// interface name field inside struct ifreq.
const ifNameSize = 16

// tunSetIFF is the TUNSETIFF ioctl request number (_IOW('T', 202, int)).
const tunSetIFF = 0x400454ca

// ErrInterfaceNameTooLong indicates an interface name does not fit in
// IFNAMSIZ, including its NUL terminator.
var ErrInterfaceNameTooLong = errors.New("tun: interface name too long")

// ifreqFlags mirrors the portion of the kernel's struct ifreq this
// package needs: an interface name followed by (here) a flags field,
// sized and aligned to the full struct so the ioctl only ever touches
// memory it owns.
type ifreqFlags struct {
	name  [ifNameSize]byte
	flags uint16
	_     [22]byte // pad to sizeof(struct ifreq) on amd64/arm64
}

// Tun is an open TUN device file descriptor configured with
// IFF_TUN|IFF_NO_PI: packets read from and written to it are raw IP
// packets with no 4-byte kernel header.
type Tun struct {
	fd   int
	name string
}

// OpenTun creates (or attaches to) a TUN interface named ifName and
// returns it configured for raw IPv4/IPv6 packet I/O.
func OpenTun(ifName string) (*Tun, error) {
	if len(ifName)+1 > ifNameSize {
		return nil, fmt.Errorf("open tun %q: %w", ifName, ErrInterfaceNameTooLong)
	}

	fd, err := unix.Open(tunDevice, unix.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", tunDevice, err)
	}

	var req ifreqFlags
	copy(req.name[:], ifName)
	req.flags = unix.IFF_TUN | unix.IFF_NO_PI

	if _, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), tunSetIFF, uintptr(unsafe.Pointer(&req))); errno != 0 {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("TUNSETIFF %q: %w", ifName, errno)
	}

	return &Tun{fd: fd, name: ifName}, nil
}

// NewTunFromFD wraps an already-open, already-configured TUN file
// descriptor (as received over a UNIX socket from tun-server) without
// reissuing TUNSETIFF.
func NewTunFromFD(fd int, name string) *Tun {
	return &Tun{fd: fd, name: name}
}

// Name returns the interface name the TUN was opened or reported as.
func (t *Tun) Name() string { return t.name }

// FD returns the underlying file descriptor, for passing to another
// process via SCM_RIGHTS.
func (t *Tun) FD() int { return t.fd }

// ReadPacket reads one packet into pb, implementing relay.PacketSide.
func (t *Tun) ReadPacket(pb *wire.PacketBuffer) error {
	var scratch [wire.Capacity]byte
	n, err := unix.Read(t.fd, scratch[:])
	if err != nil {
		return fmt.Errorf("read tun %s: %w", t.name, err)
	}
	if err := pb.Truncate(0); err != nil {
		return err
	}
	return pb.Extend(scratch[:n])
}

// WritePacket writes pb's contents to the TUN device, implementing
// relay.PacketSide.
func (t *Tun) WritePacket(pb *wire.PacketBuffer) error {
	n, err := unix.Write(t.fd, pb.Bytes())
	if err != nil {
		return fmt.Errorf("write tun %s: %w", t.name, err)
	}
	if n != pb.Len() {
		return fmt.Errorf("write tun %s: short write %d < %d", t.name, n, pb.Len())
	}
	return nil
}

// Close closes the underlying file descriptor.
func (t *Tun) Close() error {
	if err := unix.Close(t.fd); err != nil {
		return fmt.Errorf("close tun %s: %w", t.name, err)
	}
	return nil
}
