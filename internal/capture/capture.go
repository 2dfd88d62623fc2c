// Package capture records session datagrams to pcap files and reads them back.
package capture

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	log "github.com/sirupsen/logrus"

	"github.com/slipfuzz/slipfuzz/internal/logging"
	"github.com/slipfuzz/slipfuzz/internal/transport"
)

// SnapLen is the maximum number of bytes recorded per packet.
const SnapLen = 65536

// Synthetic link-layer addresses. Datagrams are captured above the socket, so the
// Ethernet header only exists to make the file readable by standard tools.
var (
	localMAC  = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x01}
	remoteMAC = net.HardwareAddr{0x02, 0x00, 0x00, 0x00, 0x00, 0x02}
)

// Recorder writes every tapped datagram as an Ethernet/IP/UDP packet.
type Recorder struct {
	mu      sync.Mutex
	w       *pcapgo.Writer
	closer  io.Closer
	logger  *log.Entry
	now     func() time.Time
	packets uint64
	closed  bool
}

// Create opens path for writing and returns a recorder writing to it.
func Create(path string, logger *log.Logger) (*Recorder, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create capture file: %w", err)
	}
	r, err := NewRecorder(f, logger)
	if err != nil {
		f.Close()
		return nil, err
	}
	r.closer = f
	return r, nil
}

// NewRecorder writes a pcap header to w and returns a recorder.
func NewRecorder(w io.Writer, logger *log.Logger) (*Recorder, error) {
	pw := pcapgo.NewWriter(w)
	if err := pw.WriteFileHeader(SnapLen, layers.LinkTypeEthernet); err != nil {
		return nil, fmt.Errorf("failed to write pcap header: %w", err)
	}
	return &Recorder{
		w:      pw,
		logger: logging.Component(logger, "capture"),
		now:    time.Now,
	}, nil
}

// Tap records one datagram. It matches transport.TapFunc.
func (r *Recorder) Tap(dir transport.Direction, local, remote *net.UDPAddr, datagram []byte) {
	src, dst := local, remote
	srcMAC, dstMAC := localMAC, remoteMAC
	if dir == transport.DirIn {
		src, dst = remote, local
		srcMAC, dstMAC = remoteMAC, localMAC
	}

	frame, err := buildFrame(srcMAC, dstMAC, src, dst, datagram)
	if err != nil {
		r.logger.WithError(err).Debug("Failed to build capture frame")
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	ci := gopacket.CaptureInfo{
		Timestamp:     r.now(),
		CaptureLength: len(frame),
		Length:        len(frame),
	}
	if err := r.w.WritePacket(ci, frame); err != nil {
		r.logger.WithError(err).Warn("Failed to write capture packet")
		return
	}
	r.packets++
}

// Packets returns how many packets were written.
func (r *Recorder) Packets() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.packets
}

// Close stops recording and closes the underlying file, if any.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

func buildFrame(srcMAC, dstMAC net.HardwareAddr, src, dst *net.UDPAddr, payload []byte) ([]byte, error) {
	if src == nil || dst == nil {
		return nil, errors.New("missing address")
	}

	eth := &layers.Ethernet{SrcMAC: srcMAC, DstMAC: dstMAC}
	udp := &layers.UDP{SrcPort: layers.UDPPort(src.Port), DstPort: layers.UDPPort(dst.Port)}

	var network gopacket.NetworkLayer
	if dst.IP.To4() != nil || (dst.IP == nil && src.IP.To4() != nil) {
		eth.EthernetType = layers.EthernetTypeIPv4
		ip := &layers.IPv4{
			Version:  4,
			TTL:      64,
			Protocol: layers.IPProtocolUDP,
			SrcIP:    ipv4OrZero(src.IP),
			DstIP:    ipv4OrZero(dst.IP),
		}
		network = ip
	} else {
		eth.EthernetType = layers.EthernetTypeIPv6
		ip := &layers.IPv6{
			Version:    6,
			HopLimit:   64,
			NextHeader: layers.IPProtocolUDP,
			SrcIP:      ipv6OrZero(src.IP),
			DstIP:      ipv6OrZero(dst.IP),
		}
		network = ip
	}
	if err := udp.SetNetworkLayerForChecksum(network); err != nil {
		return nil, err
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, network.(gopacket.SerializableLayer), udp, gopacket.Payload(payload)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// A dual-stack socket reports "::" as its local address; it is recorded as the zero
// address of the remote's family.
func ipv4OrZero(ip net.IP) net.IP {
	if v4 := ip.To4(); v4 != nil {
		return v4
	}
	return net.IPv4zero.To4()
}

func ipv6OrZero(ip net.IP) net.IP {
	if ip == nil || ip.To4() != nil {
		return net.IPv6zero
	}
	return ip.To16()
}

// Packet is one UDP datagram read back from a capture.
type Packet struct {
	Timestamp time.Time
	Src       *net.UDPAddr
	Dst       *net.UDPAddr
	Payload   []byte
}

// ReadFile reads every UDP packet from a pcap file.
func ReadFile(path string) ([]Packet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open capture file: %w", err)
	}
	defer f.Close()
	return Read(f)
}

// Read reads every UDP packet from a pcap stream. Non-UDP packets are skipped.
func Read(r io.Reader) ([]Packet, error) {
	pr, err := pcapgo.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read pcap header: %w", err)
	}

	var out []Packet
	for {
		data, ci, err := pr.ReadPacketData()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("failed to read packet %d: %w", len(out)+1, err)
		}

		pkt := gopacket.NewPacket(data, pr.LinkType(), gopacket.Default)
		udpLayer, ok := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
		if !ok {
			continue
		}

		var srcIP, dstIP net.IP
		switch ip := pkt.NetworkLayer().(type) {
		case *layers.IPv4:
			srcIP, dstIP = ip.SrcIP, ip.DstIP
		case *layers.IPv6:
			srcIP, dstIP = ip.SrcIP, ip.DstIP
		}

		out = append(out, Packet{
			Timestamp: ci.Timestamp,
			Src:       &net.UDPAddr{IP: srcIP, Port: int(udpLayer.SrcPort)},
			Dst:       &net.UDPAddr{IP: dstIP, Port: int(udpLayer.DstPort)},
			Payload:   append([]byte(nil), udpLayer.Payload...),
		})
	}
}
