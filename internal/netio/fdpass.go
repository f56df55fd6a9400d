//go:build linux

package netio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"

	"golang.org/x/sys/unix"
)

// ErrUnexpectedControlMessages indicates a file-descriptor handoff did
// not carry exactly one SCM_RIGHTS control message with exactly one fd.
var ErrUnexpectedControlMessages = errors.New("fdpass: expected exactly one control message carrying one fd")

// FDServer accepts connections on a UNIX socket and sends a single file
// descriptor (a TUN device opened once at startup) to every peer,
// mirroring the tun-server sibling process's ancillary-data handoff.
type FDServer struct {
	ln     *net.UnixListener
	fd     int
	logger *slog.Logger
}

// NewFDServer removes a stale socket file at socketPath (only if it is
// actually a socket, matching the original's "for safety" check), then
// listens on it with group/other permission bits cleared.
func NewFDServer(socketPath string, fd int, logger *slog.Logger) (*FDServer, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if err := removeStaleSocket(socketPath); err != nil {
		return nil, err
	}

	oldMask := unix.Umask(0o077)
	ln, err := net.ListenUnix("unix", &net.UnixAddr{Name: socketPath, Net: "unix"})
	unix.Umask(oldMask)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", socketPath, err)
	}

	return &FDServer{ln: ln, fd: fd, logger: logger.With(slog.String("component", "netio.fdserver"))}, nil
}

func removeStaleSocket(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return nil // matches the original: ignore errors, particularly "not found"
	}
	if info.Mode()&os.ModeSocket == 0 {
		return nil // a non-socket file is left intact; bind will fail on it later
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("remove stale socket %s: %w", path, err)
	}
	return nil
}

// Serve accepts connections until ctx is cancelled or the listener
// errors, sending the wrapped fd to each peer in turn.
func (s *FDServer) Serve(ctx context.Context) error {
	for {
		c, err := s.ln.AcceptUnix()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("accept: %w", err)
		}

		if err := sendFD(c, s.fd); err != nil {
			s.logger.Warn("send tun fd failed", slog.String("error", err.Error()))
		}
		_ = c.Close()
	}
}

// Close closes the listening socket.
func (s *FDServer) Close() error {
	if err := s.ln.Close(); err != nil {
		return fmt.Errorf("close fd server listener: %w", err)
	}
	return nil
}

// sendFD sends fd as ancillary data alongside a one-byte payload (some
// platforms fail sendmsg on a zero-length message).
func sendFD(c *net.UnixConn, fd int) error {
	rights := unix.UnixRights(fd)
	n, oobn, err := c.WriteMsgUnix([]byte{0}, rights, nil)
	if err != nil {
		return fmt.Errorf("sendmsg: %w", err)
	}
	if n != 1 || oobn != len(rights) {
		return fmt.Errorf("sendmsg: short write (%d, %d) != (1, %d)", n, oobn, len(rights))
	}
	return nil
}

// ReceiveTun connects to socketPath, receives a file descriptor over
// SCM_RIGHTS, and wraps it as a Tun named name. This is the client side
// of the handoff an fd-server process performs.
func ReceiveTun(socketPath, name string) (*Tun, error) {
	c, err := net.DialUnix("unix", nil, &net.UnixAddr{Name: socketPath, Net: "unix"})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", socketPath, err)
	}
	defer c.Close()

	data := make([]byte, 1)
	oob := make([]byte, unix.CmsgSpace(4))
	n, oobn, _, _, err := c.ReadMsgUnix(data, oob)
	if err != nil {
		return nil, fmt.Errorf("recvmsg %s: %w", socketPath, err)
	}
	if n != 1 {
		return nil, fmt.Errorf("recvmsg %s: expected 1 byte, got %d", socketPath, n)
	}

	msgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return nil, fmt.Errorf("parse control message: %w", err)
	}
	if len(msgs) != 1 {
		return nil, fmt.Errorf("recvmsg %s: %w (got %d messages)", socketPath, ErrUnexpectedControlMessages, len(msgs))
	}

	fds, err := unix.ParseUnixRights(&msgs[0])
	if err != nil {
		return nil, fmt.Errorf("parse unix rights: %w", err)
	}
	if len(fds) != 1 {
		return nil, fmt.Errorf("recvmsg %s: %w (got %d fds)", socketPath, ErrUnexpectedControlMessages, len(fds))
	}

	return NewTunFromFD(fds[0], name), nil
}
