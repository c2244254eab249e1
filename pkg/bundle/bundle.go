// Package bundle implements the ordered element stream carried by one or
// more packets: fixed/variable element framing, request/reply linkage via
// an inline offset chain, and the writer/reader cursors that walk it.
package bundle

import (
	"encoding/binary"
	"errors"
	"fmt"

	"wtproto/pkg/packet"
)

// PayloadBudget is the largest element-area size this implementation packs
// into a single packet, leaving headroom for the footer packet.WriteConfig
// will later append.
const PayloadBudget = packet.MaxSize - 96

// PacketBuilder accumulates one packet's worth of element-stream bytes plus
// its request header chain.
type PacketBuilder struct {
	Payload        []byte
	HasRequests    bool
	RequestsOffset uint16

	lastHeaderOffset int
}

func newPacketBuilder() *PacketBuilder {
	return &PacketBuilder{lastHeaderOffset: -1}
}

func (pb *PacketBuilder) remaining() int {
	return PayloadBudget - len(pb.Payload)
}

// Bundle is an ordered, non-empty list of packets delivering a contiguous
// element stream.
type Bundle struct {
	Packets []*PacketBuilder

	nextReplyID uint32
}

// New returns an empty bundle with a single packet ready for writing.
func New() *Bundle {
	return &Bundle{Packets: []*PacketBuilder{newPacketBuilder()}, nextReplyID: 1}
}

// WithSingle wraps a single already-built packet.
func WithSingle(pb *PacketBuilder) *Bundle {
	return &Bundle{Packets: []*PacketBuilder{pb}, nextReplyID: 1}
}

// WithMultiple wraps a pre-built packet sequence.
func WithMultiple(pbs []*PacketBuilder) (*Bundle, error) {
	if len(pbs) == 0 {
		return nil, errors.New("bundle: must contain at least one packet")
	}
	return &Bundle{Packets: pbs, nextReplyID: 1}, nil
}

func (b *Bundle) currentPacket(need int) *PacketBuilder {
	cur := b.Packets[len(b.Packets)-1]
	if cur.remaining() < need {
		cur = newPacketBuilder()
		b.Packets = append(b.Packets, cur)
	}
	return cur
}

func writeElementRaw(pb *PacketBuilder, d Descriptor, body []byte) {
	pb.Payload = append(pb.Payload, d.ID)
	switch d.Length {
	case LengthVar8:
		pb.Payload = append(pb.Payload, uint8(len(body)))
	case LengthVar16:
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], uint16(len(body)))
		pb.Payload = append(pb.Payload, b[:]...)
	case LengthVar24:
		l := uint32(len(body))
		pb.Payload = append(pb.Payload, byte(l), byte(l>>8), byte(l>>16))
	case LengthVar32:
		var b [4]byte
		binary.LittleEndian.PutUint32(b[:], uint32(len(body)))
		pb.Payload = append(pb.Payload, b[:]...)
	}
	pb.Payload = append(pb.Payload, body...)
}

func elementSize(d Descriptor, bodyLen int) int {
	return 1 + bodyLenFieldSize(d.Length) + bodyLen
}

// WriteElement appends a plain (non-request) element, starting a new
// packet if the current one has no room.
func (b *Bundle) WriteElement(d Descriptor, body []byte) error {
	if err := validateFixed(d, body); err != nil {
		return err
	}
	pb := b.currentPacket(elementSize(d, len(body)))
	writeElementRaw(pb, d, body)
	return nil
}

// WriteRequestElement appends an element carrying request semantics: it
// reserves a slot in the packet's request header chain and returns the
// reply_id the caller should expect back.
func (b *Bundle) WriteRequestElement(d Descriptor, body []byte) (uint32, error) {
	if err := validateFixed(d, body); err != nil {
		return 0, err
	}
	need := 6 + elementSize(d, len(body))
	pb := b.currentPacket(need)

	replyID := b.nextReplyID
	b.nextReplyID++

	headerOffset := len(pb.Payload)
	var hdr [6]byte
	binary.LittleEndian.PutUint32(hdr[0:], replyID)
	binary.LittleEndian.PutUint16(hdr[4:], noNextRequest)
	pb.Payload = append(pb.Payload, hdr[:]...)

	if !pb.HasRequests {
		pb.HasRequests = true
		pb.RequestsOffset = uint16(headerOffset)
	} else {
		binary.LittleEndian.PutUint16(pb.Payload[pb.lastHeaderOffset+4:], uint16(headerOffset))
	}
	pb.lastHeaderOffset = headerOffset

	writeElementRaw(pb, d, body)
	return replyID, nil
}

// WriteReply appends a reply element carrying replyID and body, per the
// reserved reply_id:u32 ∥ length:u32 ∥ bytes framing.
func (b *Bundle) WriteReply(replyID uint32, body []byte) {
	payload := make([]byte, 0, 8+len(body))
	var idb [4]byte
	binary.LittleEndian.PutUint32(idb[:], replyID)
	payload = append(payload, idb[:]...)
	var lb [4]byte
	binary.LittleEndian.PutUint32(lb[:], uint32(len(body)))
	payload = append(payload, lb[:]...)
	payload = append(payload, body...)

	d := Descriptor{ID: ReplyElementID, Length: LengthFixed, FixedBytes: len(payload), Name: "reply"}
	need := elementSize(d, len(payload))
	pb := b.currentPacket(need)
	writeElementRaw(pb, d, payload)
}

// NextElement is one decoded item from an element reader: either a plain
// element, a request (an element carrying a reply_id the handler must echo
// back via WriteReply), or a reply to a previously sent request.
type NextElement struct {
	ID        uint8
	Body      []byte
	IsRequest bool
	ReplyID   uint32 // valid when IsRequest, or when this is a reply

	IsReply bool
}

// Reader walks a bundle's element stream packet by packet.
type Reader struct {
	bundle   *Bundle
	dispatch Dispatch

	pktIdx   int
	cursor   int
	nextReq  uint16
	hasNext  bool
}

// ElementReader returns a fresh reader positioned at the start of the
// bundle, resolving element ids against dispatch.
func (b *Bundle) ElementReader(dispatch Dispatch) *Reader {
	r := &Reader{bundle: b, dispatch: dispatch}
	r.primePacket()
	return r
}

func (r *Reader) primePacket() {
	if r.pktIdx >= len(r.bundle.Packets) {
		return
	}
	pb := r.bundle.Packets[r.pktIdx]
	r.cursor = 0
	r.hasNext = pb.HasRequests
	r.nextReq = pb.RequestsOffset
}

// Next returns the next element, or (nil, io.EOF)-equivalent via ok=false
// when the stream is exhausted, or an error on malformed framing.
func (r *Reader) Next() (*NextElement, bool, error) {
	for {
		if r.pktIdx >= len(r.bundle.Packets) {
			return nil, false, nil
		}
		pb := r.bundle.Packets[r.pktIdx]
		if r.cursor >= len(pb.Payload) {
			r.pktIdx++
			r.primePacket()
			continue
		}

		var isRequest bool
		var replyID uint32
		if r.hasNext && r.cursor == int(r.nextReq) {
			if r.cursor+6 > len(pb.Payload) {
				return nil, false, fmt.Errorf("bundle: truncated request header at offset %d", r.cursor)
			}
			replyID = binary.LittleEndian.Uint32(pb.Payload[r.cursor:])
			next := binary.LittleEndian.Uint16(pb.Payload[r.cursor+4:])
			r.cursor += 6
			isRequest = true
			if next == noNextRequest {
				r.hasNext = false
			} else {
				r.nextReq = next
			}
		}

		if r.cursor >= len(pb.Payload) {
			return nil, false, fmt.Errorf("bundle: missing element after request header")
		}
		id := pb.Payload[r.cursor]
		r.cursor++

		if id == ReplyElementID {
			if r.cursor+8 > len(pb.Payload) {
				return nil, false, fmt.Errorf("bundle: truncated reply header")
			}
			rid := binary.LittleEndian.Uint32(pb.Payload[r.cursor:])
			length := binary.LittleEndian.Uint32(pb.Payload[r.cursor+4:])
			r.cursor += 8
			if r.cursor+int(length) > len(pb.Payload) {
				return nil, false, fmt.Errorf("bundle: truncated reply body")
			}
			body := pb.Payload[r.cursor : r.cursor+int(length)]
			r.cursor += int(length)
			return &NextElement{ID: id, Body: body, IsReply: true, ReplyID: rid}, true, nil
		}

		d, ok := r.dispatch[id]
		if !ok {
			return nil, false, fmt.Errorf("bundle: undefined element id %d at offset %d", id, r.cursor-1)
		}

		var bodyLen int
		switch d.Length {
		case LengthFixed:
			bodyLen = d.FixedBytes
		case LengthVar8:
			if r.cursor+1 > len(pb.Payload) {
				return nil, false, fmt.Errorf("bundle: truncated length prefix for %q", d.Name)
			}
			bodyLen = int(pb.Payload[r.cursor])
			r.cursor++
		case LengthVar16:
			if r.cursor+2 > len(pb.Payload) {
				return nil, false, fmt.Errorf("bundle: truncated length prefix for %q", d.Name)
			}
			bodyLen = int(binary.LittleEndian.Uint16(pb.Payload[r.cursor:]))
			r.cursor += 2
		case LengthVar24:
			if r.cursor+3 > len(pb.Payload) {
				return nil, false, fmt.Errorf("bundle: truncated length prefix for %q", d.Name)
			}
			bodyLen = int(pb.Payload[r.cursor]) | int(pb.Payload[r.cursor+1])<<8 | int(pb.Payload[r.cursor+2])<<16
			r.cursor += 3
		case LengthVar32:
			if r.cursor+4 > len(pb.Payload) {
				return nil, false, fmt.Errorf("bundle: truncated length prefix for %q", d.Name)
			}
			bodyLen = int(binary.LittleEndian.Uint32(pb.Payload[r.cursor:]))
			r.cursor += 4
		}

		if r.cursor+bodyLen > len(pb.Payload) {
			return nil, false, fmt.Errorf("bundle: truncated body for %q", d.Name)
		}
		body := pb.Payload[r.cursor : r.cursor+bodyLen]
		r.cursor += bodyLen

		return &NextElement{ID: id, Body: body, IsRequest: isRequest, ReplyID: replyID}, true, nil
	}
}

// UpdatePrefix applies packet.UpdatePrefix to every packet's wire buffer in
// order. Callers pass the already wire-encoded packet buffers, produced by
// the channel tracker's Prepare step; this helper exists for callers that
// build their own packet sequence without going through a tracker.
func UpdatePrefix(wires [][]byte, offset uint32) error {
	for _, w := range wires {
		if err := packet.UpdatePrefix(w, offset); err != nil {
			return err
		}
	}
	return nil
}
