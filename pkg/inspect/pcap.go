package inspect

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"github.com/aeolun/fraudengine/pkg/protocol"
)

// pcapngMagic is the block type of a pcapng Section Header Block
const pcapngMagic = 0x0A0D0D0A

// CapturedFrame is one length-prefixed frame reassembled from a TCP stream
type CapturedFrame struct {
	Timestamp time.Time // capture time of the segment completing the frame
	Src       string
	Dst       string
	Payload   []byte
}

type packetSource interface {
	LinkType() layers.LinkType
	ReadPacketData() (data []byte, ci gopacket.CaptureInfo, err error)
}

// openPacketSource picks the pcap or pcapng reader from the magic number
func openPacketSource(r io.Reader) (packetSource, error) {
	br := bufio.NewReader(r)
	header, err := br.Peek(4)
	if err != nil {
		return nil, fmt.Errorf("read capture header: %w", err)
	}

	if binary.LittleEndian.Uint32(header) == pcapngMagic {
		reader, err := pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, fmt.Errorf("open pcapng: %w", err)
		}
		return reader, nil
	}

	reader, err := pcapgo.NewReader(br)
	if err != nil {
		return nil, fmt.Errorf("open pcap: %w", err)
	}
	return reader, nil
}

// stream reassembles one direction of a TCP connection
type stream struct {
	nextSeq uint32
	synced  bool
	buf     []byte
}

// ReadCaptureFile extracts frames from a pcap or pcapng file
func ReadCaptureFile(path string, port int) ([]CapturedFrame, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return ReadCapture(file, port)
}

// ReadCapture extracts the length-prefixed frames carried in the TCP
// payloads of a capture. A non-zero port keeps only segments to or from that
// port. Retransmitted segments are dropped; a gap in a stream discards the
// partial frame buffered so far.
func ReadCapture(r io.Reader, port int) ([]CapturedFrame, error) {
	source, err := openPacketSource(r)
	if err != nil {
		return nil, err
	}

	streams := make(map[string]*stream)
	var frames []CapturedFrame

	packetSrc := gopacket.NewPacketSource(source, source.LinkType())
	for packet := range packetSrc.Packets() {
		network := packet.NetworkLayer()
		tcpLayer := packet.Layer(layers.LayerTypeTCP)
		if network == nil || tcpLayer == nil {
			continue
		}
		tcp := tcpLayer.(*layers.TCP)
		if port != 0 && int(tcp.SrcPort) != port && int(tcp.DstPort) != port {
			continue
		}

		src := network.NetworkFlow().Src().String() + ":" + fmt.Sprint(uint16(tcp.SrcPort))
		dst := network.NetworkFlow().Dst().String() + ":" + fmt.Sprint(uint16(tcp.DstPort))
		key := src + ">" + dst

		s := streams[key]
		if s == nil {
			s = &stream{}
			streams[key] = s
		}
		if tcp.SYN {
			s.nextSeq = tcp.Seq + 1
			s.synced = true
			s.buf = s.buf[:0]
			continue
		}
		if len(tcp.Payload) == 0 {
			continue
		}

		if s.synced && tcp.Seq != s.nextSeq {
			if int32(tcp.Seq-s.nextSeq) < 0 {
				// Retransmission
				continue
			}
			s.buf = s.buf[:0]
		}
		s.nextSeq = tcp.Seq + uint32(len(tcp.Payload))
		s.synced = true
		s.buf = append(s.buf, tcp.Payload...)

		ts := packet.Metadata().Timestamp
		for len(s.buf) >= protocol.FrameHeaderSize {
			n := int(binary.BigEndian.Uint16(s.buf))
			end := protocol.FrameHeaderSize + n
			if len(s.buf) < end {
				break
			}
			payload := make([]byte, n)
			copy(payload, s.buf[protocol.FrameHeaderSize:end])
			frames = append(frames, CapturedFrame{Timestamp: ts, Src: src, Dst: dst, Payload: payload})
			s.buf = s.buf[end:]
		}
	}
	return frames, nil
}
