// SPDX-License-Identifier: Apache-2.0

//go:build linux

package linkprobe

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/sonic-net/sonic-linkmgrd/internal/config"
	"github.com/sonic-net/sonic-linkmgrd/internal/fsm"
	"github.com/sonic-net/sonic-linkmgrd/internal/logging"
)

// Config is the per-port, mostly-static configuration a Prober is built
// from. ServerMAC is the one field expected to change after construction
// (resolved asynchronously via netlink); update it with SetServerMAC.
type Config struct {
	Port      config.PortID
	Interface string
	BladeIP   net.IP
	ServerMAC net.HardwareAddr
	ToRMAC    net.HardwareAddr
	SourceIP  net.IP
	GUID      [16]byte
	Interval  time.Duration
}

// Prober is the Link Prober (C3): a per-port raw-socket ICMP sender and
// receiver that classifies inbound frames per spec.md §4.3 and drives
// IcmpSelf/IcmpPeer/IcmpUnknown evidence onto its Events() channel.
type Prober struct {
	cfg atomic.Pointer[Config]
	log *logging.Logger
	sock *rawSocket

	events chan fsm.LinkProberEvent
	suspendExpired chan struct{}

	ipID  uint32
	icmpSeq uint32

	suspendedUntil atomic.Pointer[time.Time]

	mu       sync.Mutex
	lastRecv time.Time

	sendCounter atomic.Uint64
	recvCounter atomic.Uint64
	dropCounter atomic.Uint64
}

// New opens the raw socket and constructs a Prober. The socket is bound
// and BPF-filtered before this returns; Run starts the send/receive
// loops.
func New(cfg Config, log *logging.Logger) (*Prober, error) {
	if cfg.BladeIP == nil || cfg.BladeIP.To4() == nil {
		return nil, fmt.Errorf("linkprobe: blade IP must be IPv4")
	}
	sock, err := openRawSocket(cfg.Interface, cfg.BladeIP)
	if err != nil {
		return nil, err
	}
	p := &Prober{
		log:            log.WithPort(string(cfg.Port)),
		sock:           sock,
		events:         make(chan fsm.LinkProberEvent, 32),
		suspendExpired: make(chan struct{}, 1),
	}
	c := cfg
	p.cfg.Store(&c)
	return p, nil
}

// Events is the channel of LP-FSM-facing evidence (spec.md §4.3's
// IcmpSelfEvent/IcmpPeerEvent/IcmpUnknownEvent, expressed directly as the
// fsm package's event alphabet so the PortActor needs no further mapping).
func (p *Prober) Events() <-chan fsm.LinkProberEvent { return p.events }

// SuspendExpired fires once per completed SuspendTx, carrying the
// CompositeFSM's SuspendTimerExpired event (spec.md §4.3: "at expiry the
// Prober emits SuspendTimerExpired to the CompositeFSM, not to the
// LP-FSM").
func (p *Prober) SuspendExpired() <-chan struct{} { return p.suspendExpired }

// SetServerMAC updates the destination MAC used on transmit once netlink
// resolves it.
func (p *Prober) SetServerMAC(mac net.HardwareAddr) {
	old := p.cfg.Load()
	c := *old
	c.ServerMAC = append(net.HardwareAddr(nil), mac...)
	p.cfg.Store(&c)
}

// SetInterval updates the transmit cadence from a new GlobalConfig
// snapshot; it takes effect on the next tick.
func (p *Prober) SetInterval(d time.Duration) {
	old := p.cfg.Load()
	c := *old
	c.Interval = d
	p.cfg.Store(&c)
}

// ready reports spec.md §3 invariant 3's first half: the prober transmits
// only once blade IP and server MAC are both known.
func (p *Prober) ready() bool {
	c := p.cfg.Load()
	return len(c.ServerMAC) == 6 && !isZeroMAC(c.ServerMAC)
}

func isZeroMAC(mac net.HardwareAddr) bool {
	for _, b := range mac {
		if b != 0 {
			return false
		}
	}
	return true
}

// macLower16 returns the lower 16 bits of a MAC address, used as the
// ICMP identifier field: transmit takes it from the server MAC, giving a
// stable per-port id.
func macLower16(mac net.HardwareAddr) uint16 {
	if len(mac) < 2 {
		return 0
	}
	n := len(mac)
	return uint16(mac[n-2])<<8 | uint16(mac[n-1])
}

// suspended reports spec.md §3 invariant 3's second half: transmit is
// paused while a SuspendTx deadline is in effect.
func (p *Prober) suspended(now time.Time) bool {
	until := p.suspendedUntil.Load()
	return until != nil && now.Before(*until)
}

// SuspendTx pauses transmission for duration (spec.md §4.3). Rescheduling
// while already suspended replaces the deadline with the later of the two
// (spec.md §5 Cancellation / §8 "Suspend idempotence": two overlapping
// SuspendLinkProberTx actions collapse to one expiry, equal to the latest
// requested deadline).
func (p *Prober) SuspendTx(d time.Duration) {
	deadline := time.Now().Add(d)
	for {
		cur := p.suspendedUntil.Load()
		if cur != nil && cur.After(deadline) {
			return
		}
		if p.suspendedUntil.CompareAndSwap(cur, &deadline) {
			return
		}
	}
}

// Run drives the transmit-cadence ticker and the non-blocking receive
// loop until ctx is cancelled. It is safe to call Run exactly once.
func (p *Prober) Run(ctx context.Context) error {
	defer p.sock.Close()

	recvBuf := make([]byte, 65535)
	pollTicker := time.NewTicker(2 * time.Millisecond)
	defer pollTicker.Stop()

	c := p.cfg.Load()
	txTicker := time.NewTicker(pickInterval(c.Interval))
	defer txTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-txTicker.C:
			c = p.cfg.Load()
			txTicker.Reset(pickInterval(c.Interval))
			now := time.Now()
			if p.ready() && !p.suspended(now) {
				if err := p.transmit(c); err != nil {
					p.log.Warnf("icmp send failed: %v", err)
				}
			}
			p.checkSilence(now, c.Interval)
			p.checkSuspendExpiry(now)

		case <-pollTicker.C:
			p.drainReceive(recvBuf)
			p.checkSuspendExpiry(time.Now())
		}
	}
}

func pickInterval(d time.Duration) time.Duration {
	if d <= 0 {
		return config.DefaultIntervalV4
	}
	return d
}

func (p *Prober) checkSuspendExpiry(now time.Time) {
	until := p.suspendedUntil.Load()
	if until == nil || now.Before(*until) {
		return
	}
	if p.suspendedUntil.CompareAndSwap(until, nil) {
		select {
		case p.suspendExpired <- struct{}{}:
		default:
		}
	}
}

// checkSilence implements spec.md §4.3's "no frame of any classification
// received within the transmit interval -> synthesize one
// IcmpUnknownEvent".
func (p *Prober) checkSilence(now time.Time, interval time.Duration) {
	p.mu.Lock()
	last := p.lastRecv
	p.mu.Unlock()
	if last.IsZero() || now.Sub(last) >= pickInterval(interval) {
		p.emit(fsm.LPEventUnknown)
	}
}

func (p *Prober) drainReceive(buf []byte) {
	for {
		n, ok, err := p.sock.recv(buf)
		if err != nil {
			p.log.Warnf("icmp recv failed: %v", err)
			return
		}
		if !ok {
			return
		}
		p.recvCounter.Add(1)
		p.handleFrame(buf[:n])
	}
}

func (p *Prober) handleFrame(frame []byte) {
	pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.NoCopy)
	icmpLayer := pkt.Layer(layers.LayerTypeICMPv4)
	if icmpLayer == nil {
		p.dropCounter.Add(1)
		return
	}
	icmp, _ := icmpLayer.(*layers.ICMPv4)
	if icmp.TypeCode.Type() != layers.ICMPv4TypeEchoReply {
		return
	}
	full := append(append([]byte(nil), icmp.LayerContents()...), icmp.LayerPayload()...)
	if err := validateChecksum(full); err != nil {
		p.dropCounter.Add(1)
		p.emit(fsm.LPEventUnknown)
		return
	}

	p.mu.Lock()
	p.lastRecv = time.Now()
	p.mu.Unlock()

	c := p.cfg.Load()
	switch Classify(icmp.Payload, c.GUID) {
	case ClassSelf:
		p.emit(fsm.LPEventSelf)
	case ClassPeer:
		p.emit(fsm.LPEventPeer)
	default:
		p.emit(fsm.LPEventUnknown)
	}
}

func (p *Prober) emit(ev fsm.LinkProberEvent) {
	select {
	case p.events <- ev:
	default:
		p.dropCounter.Add(1)
	}
}

// transmit builds and sends one ICMP echo-request frame, per spec.md
// §4.3's byte layout, using gopacket's layered serialization (the
// idiomatic Go equivalent of hand-built headers with one's-complement
// checksums: SerializeLayers with ComputeChecksums computes both the IP
// and ICMP checksums).
func (p *Prober) transmit(c *Config) error {
	ipID := uint16(atomic.AddUint32(&p.ipID, 1))
	seq := uint16(atomic.AddUint32(&p.icmpSeq, 1))
	icmpID := macLower16(c.ServerMAC)

	eth := &layers.Ethernet{
		SrcMAC:       c.ToRMAC,
		DstMAC:       c.ServerMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		IHL:      5,
		TTL:      64,
		Id:       ipID,
		Protocol: layers.IPProtocolICMPv4,
		SrcIP:    c.SourceIP.To4(),
		DstIP:    c.BladeIP.To4(),
	}
	icmp := &layers.ICMPv4{
		TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0),
		Id:       icmpID,
		Seq:      seq,
	}
	payload := gopacket.Payload(Encode(Payload{Version: payloadVersion, Command: CommandNone, GUID: c.GUID}))

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, icmp, payload); err != nil {
		return fmt.Errorf("serialize icmp echo request: %w", err)
	}
	p.sendCounter.Add(1)
	return p.sock.send(buf.Bytes())
}
