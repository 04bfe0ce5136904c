// SPDX-License-Identifier: Apache-2.0

//go:build linux

package linkprobe

import (
	"encoding/binary"
	"fmt"
	"net"

	"golang.org/x/net/bpf"
	"golang.org/x/sys/unix"
)

// rawSocket is an AF_PACKET/SOCK_RAW socket bound to one interface, with
// a classic-BPF filter attached so the kernel only delivers IPv4 ICMP
// echo-replies from the blade IP — the Go-idiomatic equivalent of
// spec.md §4.3's "raw ICMP socket bound via a BPF filter to echo-reply
// from the blade IP", grounded on the other_examples uping listener's
// raw-socket technique but built at the Ethernet layer (HDRINCL over a
// SOCK_RAW/AF_INET socket can't emit the hand-built Ethernet header
// spec.md §4.3 also requires).
type rawSocket struct {
	fd      int
	ifIndex int
	halen   int
}

func htons(v uint16) uint16 {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return binary.LittleEndian.Uint16(b[:])
}

// openRawSocket binds an AF_PACKET socket to ifaceName and attaches a BPF
// program matching IPv4/ICMP echo-reply frames sourced from bladeIP.
func openRawSocket(ifaceName string, bladeIP net.IP) (*rawSocket, error) {
	iface, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return nil, fmt.Errorf("lookup interface %q: %w", ifaceName, err)
	}

	fd, err := unix.Socket(unix.AF_PACKET, unix.SOCK_RAW, int(htons(unix.ETH_P_IP)))
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	sa := &unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_IP),
		Ifindex:  iface.Index,
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind to %q: %w", ifaceName, err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("set nonblock: %w", err)
	}

	prog, err := assembleFilter(bladeIP.To4())
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("assemble bpf filter: %w", err)
	}
	if err := unix.SetsockoptSockFprog(fd, unix.SOL_SOCKET, unix.SO_ATTACH_FILTER, prog); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("attach bpf filter: %w", err)
	}

	return &rawSocket{fd: fd, ifIndex: iface.Index, halen: len(iface.HardwareAddr)}, nil
}

func (s *rawSocket) Close() error { return unix.Close(s.fd) }

// assembleFilter builds a classic BPF program matching Ethernet frames
// carrying an IPv4 packet with protocol=ICMP, type=EchoReply (0), and
// source address == bladeIP — matching spec.md §4.3's BPF-filtered raw
// socket rather than hand-encoding the bytecode, per SPEC_FULL.md §4.3.
func assembleFilter(bladeIP net.IP) (*unix.SockFprog, error) {
	if len(bladeIP) != 4 {
		return nil, fmt.Errorf("blade IP must be IPv4")
	}
	srcIP := binary.BigEndian.Uint32(bladeIP)

	const (
		ethHdrLen  = 14
		ipProtoOff = ethHdrLen + 9
		ipSrcOff   = ethHdrLen + 12
		icmpTypeOffFromIHLBase = ethHdrLen
	)

	// Every conditional jump below targets the final "reject" instruction
	// on failure and falls through on success; skip counts are computed
	// against the fixed 11-instruction program assembled here.
	insns := []bpf.Instruction{
		// 0-1: Load EtherType; reject anything but IPv4.
		bpf.LoadAbsolute{Off: 12, Size: 2},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: unix.ETH_P_IP, SkipFalse: 8},

		// 2-3: IPv4 protocol field must be ICMP (1).
		bpf.LoadAbsolute{Off: ipProtoOff, Size: 1},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: unix.IPPROTO_ICMP, SkipFalse: 6},

		// 4-5: Source address must be the blade IP.
		bpf.LoadAbsolute{Off: ipSrcOff, Size: 4},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: srcIP, SkipFalse: 4},

		// 6-8: Load the IHL from the first IP header byte to find the
		// ICMP header offset, then check ICMP type == 0 (echo reply).
		bpf.LoadMemShift{Off: icmpTypeOffFromIHLBase},
		bpf.LoadIndirect{Off: icmpTypeOffFromIHLBase, Size: 1},
		bpf.JumpIf{Cond: bpf.JumpEqual, Val: 0, SkipFalse: 1},

		// 9: accept, full frame. 10: reject.
		bpf.RetConstant{Val: 0x40000},
		bpf.RetConstant{Val: 0},
	}
	raw, err := bpf.Assemble(insns)
	if err != nil {
		return nil, err
	}
	filters := make([]unix.SockFilter, len(raw))
	for i, ins := range raw {
		filters[i] = unix.SockFilter{Code: ins.Op, Jt: ins.Jt, Jf: ins.Jf, K: ins.K}
	}
	return &unix.SockFprog{Len: uint16(len(filters)), Filter: &filters[0]}, nil
}

// recv reads one frame, non-blocking; returns (0, false, nil) when
// there is nothing to read right now.
func (s *rawSocket) recv(buf []byte) (n int, ok bool, err error) {
	n, _, err = unix.Recvfrom(s.fd, buf, 0)
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, false, nil
		}
		return 0, false, err
	}
	return n, true, nil
}

func (s *rawSocket) send(frame []byte) error {
	sa := &unix.SockaddrLinklayer{
		Protocol: htons(unix.ETH_P_IP),
		Ifindex:  s.ifIndex,
		Halen:    6,
	}
	return unix.Sendto(s.fd, frame, 0, sa)
}
