/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package engine

import (
	"errors"
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// ErrWouldBlock is returned by Socket.ReadPacket when no datagram is
// currently pending. It is not a real error; callers treat it as "nothing
// to do this poll".
var ErrWouldBlock = errors.New("engine: socket read would block")

// Clock supplies the wrapping platform-monotonic millisecond counter the
// engine timestamps received packets and housekeeping ticks against.
type Clock interface {
	MillisNow() uint32
}

// Socket is a non-blocking datagram source. ReadPacket returns the number
// of bytes written into buf, or ErrWouldBlock if no datagram was pending.
type Socket interface {
	ReadPacket(buf []byte) (int, error)
	Close() error
}

// MonotonicClock is the production Clock, deriving a wrapping u32
// millisecond counter from time.Since a fixed process-start instant.
type MonotonicClock struct {
	start time.Time
}

// NewMonotonicClock returns a MonotonicClock anchored to the current time.
func NewMonotonicClock() *MonotonicClock {
	return &MonotonicClock{start: time.Now()}
}

// MillisNow returns elapsed milliseconds since the clock was created,
// masked to 32 bits so wraparound behaves exactly as the wire protocol's
// own 32-bit millisecond arithmetic expects.
func (c *MonotonicClock) MillisNow() uint32 {
	return uint32(time.Since(c.start).Milliseconds())
}

// MulticastSocket is the production Socket: a UDP socket joined to
// 224.0.1.129 on the given port, with SO_REUSEPORT set on the underlying
// file descriptor so more than one process can bind the same multicast
// group/port on the same host.
type MulticastSocket struct {
	conn *net.UDPConn
}

var multicastGroup = net.IPv4(224, 0, 1, 129)

// ListenMulticast joins the PTP multicast group on the given port and
// interface (iface may be empty to let the kernel pick).
func ListenMulticast(iface string, port int) (*MulticastSocket, error) {
	var ifi *net.Interface
	if iface != "" {
		i, err := net.InterfaceByName(iface)
		if err != nil {
			return nil, err
		}
		ifi = i
	}

	conn, err := net.ListenMulticastUDP("udp4", ifi, &net.UDPAddr{IP: multicastGroup, Port: port})
	if err != nil {
		return nil, err
	}

	if sc, err := conn.SyscallConn(); err == nil {
		_ = sc.Control(func(fd uintptr) {
			_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
		})
	}

	return &MulticastSocket{conn: conn}, nil
}

// ReadPacket performs a non-blocking read: it sets an immediate read
// deadline so a pending datagram is consumed but an empty socket returns
// ErrWouldBlock rather than parking the caller's single-threaded loop.
func (s *MulticastSocket) ReadPacket(buf []byte) (int, error) {
	if err := s.conn.SetReadDeadline(time.Now()); err != nil {
		return 0, err
	}
	n, err := s.conn.Read(buf)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return 0, ErrWouldBlock
		}
		return 0, err
	}
	return n, nil
}

// Close releases the socket.
func (s *MulticastSocket) Close() error {
	return s.conn.Close()
}
