//go:build linux

package netio_test

import (
	"errors"
	"testing"

	"github.com/epdtry/tfh-mitm/internal/netio"
)

func TestOpenTunRejectsOverlongName(t *testing.T) {
	t.Parallel()

	_, err := netio.OpenTun("a-name-much-too-long-for-ifnamsiz")
	if !errors.Is(err, netio.ErrInterfaceNameTooLong) {
		t.Fatalf("OpenTun with an overlong name: err = %v, want ErrInterfaceNameTooLong", err)
	}
}

func TestNewTunFromFDReportsNameAndFD(t *testing.T) {
	t.Parallel()

	tun := netio.NewTunFromFD(7, "eth-in")
	if tun.Name() != "eth-in" {
		t.Errorf("Name() = %q, want %q", tun.Name(), "eth-in")
	}
	if tun.FD() != 7 {
		t.Errorf("FD() = %d, want 7", tun.FD())
	}
}
