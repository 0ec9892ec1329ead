package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
)

// 帧格式: len(4, LE) | crc32(4, LE, IEEE) | payload
const (
	headerSize      = 8
	defaultFilePerm = 0o644
)

// DefaultMaxPayload 防止坏数据把内存吃爆
const DefaultMaxPayload = 4 << 20

var (
	ErrCorruptHeader    = errors.New("wal: corrupt header")
	ErrCorruptPayload   = errors.New("wal: corrupt payload")
	ErrChecksumMismatch = errors.New("wal: checksum mismatch")
	ErrPayloadTooLarge  = errors.New("wal: payload too large")

	// errTornTail 尾部半写，由调用方按 AllowTruncatedTail 决定如何处理
	errTornTail = errors.New("wal: torn tail")
)

func putHeader(hdr *[headerSize]byte, payload []byte) {
	binary.LittleEndian.PutUint32(hdr[:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(hdr[4:], crc32.ChecksumIEEE(payload))
}

// readFrame 读一帧。buf 足够大时复用，返回的 payload 只在下次调用前有效。
func readFrame(br *bufio.Reader, maxPayload int, buf []byte) (payload []byte, n int, err error) {
	var hdr [headerSize]byte
	if _, err = io.ReadFull(br, hdr[:]); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, 0, errTornTail
		}
		return nil, 0, err
	}
	ln := int(binary.LittleEndian.Uint32(hdr[0:4]))
	crc := binary.LittleEndian.Uint32(hdr[4:8])
	if ln < 0 || ln > maxPayload {
		return nil, 0, ErrPayloadTooLarge
	}

	if cap(buf) >= ln {
		payload = buf[:ln]
	} else {
		payload = make([]byte, ln)
	}
	if _, err = io.ReadFull(br, payload); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, 0, errTornTail
		}
		return nil, 0, err
	}
	if crc32.ChecksumIEEE(payload) != crc {
		return nil, 0, ErrChecksumMismatch
	}
	return payload, headerSize + ln, nil
}
