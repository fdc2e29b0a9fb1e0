// Package vsock wraps AF_VSOCK sockets for runtimes running inside a
// microVM guest, where the control endpoint lives on the host.
package vsock

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/mdlayher/vsock"
)

// Scheme prefixes a vsock runtime API address: vsock://CID:PORT.
const Scheme = "vsock://"

// Dial connects to port on the context identified by cid.
func Dial(cid, port uint32) (net.Conn, error) {
	return vsock.Dial(cid, port, nil)
}

// IsAddr reports whether addr uses the vsock scheme.
func IsAddr(addr string) bool {
	return strings.HasPrefix(addr, Scheme)
}

// ParseAddr splits vsock://CID:PORT into its parts.
func ParseAddr(addr string) (cid, port uint32, err error) {
	rest, ok := strings.CutPrefix(addr, Scheme)
	if !ok {
		return 0, 0, fmt.Errorf("not a vsock address: %q", addr)
	}
	c, p, ok := strings.Cut(rest, ":")
	if !ok {
		return 0, 0, fmt.Errorf("vsock address %q: missing port", addr)
	}
	cid64, err := strconv.ParseUint(c, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("vsock address %q: bad cid: %w", addr, err)
	}
	port64, err := strconv.ParseUint(p, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("vsock address %q: bad port: %w", addr, err)
	}
	return uint32(cid64), uint32(port64), nil
}

// DialContext returns a dial function for http.Transport that ignores the
// requested address and always connects to cid:port.
func DialContext(cid, port uint32) func(ctx context.Context, network, addr string) (net.Conn, error) {
	return func(ctx context.Context, _, _ string) (net.Conn, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return Dial(cid, port)
	}
}
