package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
)

// RFWHeaderSize is the fixed wire size of an RFW header:
// marker[3] + rfw_id(4) + protocol[4] + payload_size(8).
const RFWHeaderSize = 19

// RFDHeaderSize is the fixed wire size of an RFD header:
// marker[3] + rfw_id(4) + last_batch(4) + protocol[4] + payload_size(8).
const RFDHeaderSize = 23

// RFWHeader is the fixed-size request header.
type RFWHeader struct {
	RFWID       uint32
	Protocol    Protocol
	PayloadSize uint64
}

// RFDHeader is the fixed-size reply header. Marker distinguishes a real
// batch reply (RFD) from a failure sentinel (NOP); callers must branch on
// Marker before trusting LastBatch or PayloadSize.
type RFDHeader struct {
	Marker      Marker
	RFWID       uint32
	LastBatch   uint32
	Protocol    Protocol
	PayloadSize uint64
}

// EncodeRFWHeader packs h into the 19-byte wire layout.
func EncodeRFWHeader(h RFWHeader) []byte {
	buf := make([]byte, RFWHeaderSize)
	copy(buf[0:3], MarkerRFW)
	binary.BigEndian.PutUint32(buf[3:7], h.RFWID)
	copy(buf[7:11], padProtocol(h.Protocol))
	binary.BigEndian.PutUint64(buf[11:19], h.PayloadSize)
	return buf
}

// DecodeRFWHeader unpacks a 19-byte RFW header, validating the marker and
// protocol tag.
func DecodeRFWHeader(buf []byte) (RFWHeader, error) {
	if len(buf) != RFWHeaderSize {
		return RFWHeader{}, fmt.Errorf("rfw header: expected %d bytes, got %d", RFWHeaderSize, len(buf))
	}
	if string(buf[0:3]) != string(MarkerRFW) {
		return RFWHeader{}, fmt.Errorf("rfw header: invalid marker %q", buf[0:3])
	}
	proto := Protocol(trimProtocol(buf[7:11]))
	if !proto.Valid() {
		return RFWHeader{}, fmt.Errorf("rfw header: invalid protocol tag %q", buf[7:11])
	}
	return RFWHeader{
		RFWID:       binary.BigEndian.Uint32(buf[3:7]),
		Protocol:    proto,
		PayloadSize: binary.BigEndian.Uint64(buf[11:19]),
	}, nil
}

// EncodeRFDHeader packs h into the 23-byte wire layout.
func EncodeRFDHeader(h RFDHeader) []byte {
	buf := make([]byte, RFDHeaderSize)
	copy(buf[0:3], string(h.Marker))
	binary.BigEndian.PutUint32(buf[3:7], h.RFWID)
	binary.BigEndian.PutUint32(buf[7:11], h.LastBatch)
	copy(buf[11:15], padProtocol(h.Protocol))
	binary.BigEndian.PutUint64(buf[15:23], h.PayloadSize)
	return buf
}

// NewNOPHeader builds the sentinel reply: marker NOP, zero/empty fields
// otherwise. The receiver must branch on Marker before reading the rest.
func NewNOPHeader() RFDHeader {
	return RFDHeader{Marker: MarkerNOP}
}

// DecodeRFDHeader unpacks a 23-byte RFD header. Unknown markers or, for
// a non-NOP marker, unknown protocol tags are decode errors.
func DecodeRFDHeader(buf []byte) (RFDHeader, error) {
	if len(buf) != RFDHeaderSize {
		return RFDHeader{}, fmt.Errorf("rfd header: expected %d bytes, got %d", RFDHeaderSize, len(buf))
	}
	marker := Marker(buf[0:3])
	if marker != MarkerRFD && marker != MarkerNOP {
		return RFDHeader{}, fmt.Errorf("rfd header: invalid marker %q", buf[0:3])
	}

	h := RFDHeader{
		Marker:    marker,
		RFWID:     binary.BigEndian.Uint32(buf[3:7]),
		LastBatch: binary.BigEndian.Uint32(buf[7:11]),
	}
	if marker == MarkerNOP {
		return h, nil
	}

	proto := Protocol(trimProtocol(buf[11:15]))
	if !proto.Valid() {
		return RFDHeader{}, fmt.Errorf("rfd header: invalid protocol tag %q", buf[11:15])
	}
	h.Protocol = proto
	h.PayloadSize = binary.BigEndian.Uint64(buf[15:23])
	return h, nil
}

// ReadExactly is the read_exactly primitive both endpoints build their
// framing on: it blocks until n bytes are read or the connection faults,
// distinguishing a short read (io.ErrUnexpectedEOF / io.EOF) from any
// other transport error only insofar as callers inspect the returned
// error themselves.
func ReadExactly(r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func padProtocol(p Protocol) string {
	s := string(p)
	if len(s) < 4 {
		s += string(make([]byte, 4-len(s)))
	}
	return s[:4]
}

func trimProtocol(buf []byte) string {
	n := 4
	for n > 0 && buf[n-1] == 0 {
		n--
	}
	return string(buf[:n])
}
