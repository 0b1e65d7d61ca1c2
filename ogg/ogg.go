package ogg

import (
	"encoding/binary"
	"errors"
	"io"
)

const (
	headerSize             = 27
	streamStructureVersion = 0
	beginningOfStream      = 2
	endOfStream            = 4

	maxSegments   = 255
	maxPacketSize = 255 * 254
)

var (
	ErrPacketTooLarge = errors.New("ogg: packet does not fit in a single page")
	ErrClosed         = errors.New("ogg: writer closed")
)

// Writer packs the packets of one logical stream into Ogg pages. Packets are
// never split across pages, so every page ends on a packet boundary.
type Writer struct {
	w                  io.Writer
	streamSerialNumber uint32
	pageSequenceNumber uint32
	granulePosition    int64
	segmentTable       []byte
	payloadData        []byte
	closed             bool
}

func NewWriter(w io.Writer, serial uint32) *Writer {
	return &Writer{
		w:                  w,
		streamSerialNumber: serial,
	}
}

// WritePacket queues packet. granule is the stream's granule position after
// the packet. With flush the page is written out immediately, which Ogg
// mappings require for header packets.
func (ow *Writer) WritePacket(packet []byte, granule int64, flush bool) error {
	if ow.closed {
		return ErrClosed
	}
	if len(packet) > maxPacketSize {
		return ErrPacketTooLarge
	}

	lacing := len(packet)/255 + 1
	if len(ow.segmentTable)+lacing > maxSegments {
		if err := ow.writePage(false); err != nil {
			return err
		}
	}

	n := len(packet)
	for n >= 255 {
		ow.segmentTable = append(ow.segmentTable, 255)
		n -= 255
	}
	ow.segmentTable = append(ow.segmentTable, byte(n))
	ow.payloadData = append(ow.payloadData, packet...)
	ow.granulePosition = granule

	if flush {
		return ow.writePage(false)
	}
	return nil
}

// Close writes the pending packets on a final end-of-stream page. It does
// not close the underlying writer.
func (ow *Writer) Close() error {
	if ow.closed {
		return nil
	}
	err := ow.writePage(true)
	ow.closed = true
	return err
}

func (ow *Writer) writePage(lastPage bool) error {
	page := make([]byte, headerSize, headerSize+len(ow.segmentTable)+len(ow.payloadData))
	copy(page, "OggS")
	page[4] = streamStructureVersion

	var headerType byte
	if lastPage {
		headerType |= endOfStream
	}
	if ow.pageSequenceNumber == 0 {
		headerType |= beginningOfStream
	}
	page[5] = headerType

	binary.LittleEndian.PutUint64(page[6:14], uint64(ow.granulePosition))
	binary.LittleEndian.PutUint32(page[14:18], ow.streamSerialNumber)
	binary.LittleEndian.PutUint32(page[18:22], ow.pageSequenceNumber)
	page[26] = byte(len(ow.segmentTable))
	page = append(page, ow.segmentTable...)
	page = append(page, ow.payloadData...)
	binary.LittleEndian.PutUint32(page[22:26], Checksum(page))

	if _, err := ow.w.Write(page); err != nil {
		return err
	}

	ow.pageSequenceNumber++
	ow.segmentTable = ow.segmentTable[:0]
	ow.payloadData = ow.payloadData[:0]
	return nil
}

var crcTable = func() [256]uint32 {
	var table [256]uint32
	for i := range table {
		r := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if r&0x80000000 != 0 {
				r = r<<1 ^ 0x04c11db7
			} else {
				r <<= 1
			}
		}
		table[i] = r
	}
	return table
}()

// Checksum is the Ogg page CRC: CRC-32 with polynomial 0x04c11db7, no
// reflection, zero initial value and no final xor. The checksum field of
// page must be zero.
func Checksum(page []byte) uint32 {
	var crc uint32
	for _, b := range page {
		crc = crc<<8 ^ crcTable[byte(crc>>24)^b]
	}
	return crc
}
