package wal

import (
	"bufio"
	"errors"
	"io"
	"os"
)

type ReaderOptions struct {
	MaxPayload         int  // <=0 用 DefaultMaxPayload
	AllowTruncatedTail bool // 尾部半写当成 EOF
	BufferSize         int  // <=0 用 1MB
}

// Reader 从指定偏移开始逐帧读取，供 tail/outbox 使用
type Reader struct {
	f   *os.File
	br  *bufio.Reader
	off int64

	maxPayload int
	allowTail  bool

	truncatedTail bool
}

func OpenReader(path string, offset int64, opts ReaderOptions) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 1 << 20
	}
	maxPayload := opts.MaxPayload
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}
	return &Reader{
		f:          f,
		br:         bufio.NewReaderSize(f, opts.BufferSize),
		off:        offset,
		maxPayload: maxPayload,
		allowTail:  opts.AllowTruncatedTail,
	}, nil
}

func (r *Reader) Close() error { return r.f.Close() }

func (r *Reader) TruncatedTail() bool { return r.truncatedTail }

// LastGoodOffset 最后一条完整记录之后的偏移
func (r *Reader) LastGoodOffset() int64 { return r.off }

// Next 返回下一帧 payload 以及它之后的偏移。读完返回 io.EOF。
// 半写的尾巴在 AllowTruncatedTail 时也按 io.EOF 返回，偏移停在上一条完整记录。
func (r *Reader) Next() (payload []byte, nextOffset int64, err error) {
	payload, n, err := readFrame(r.br, r.maxPayload, nil)
	if err != nil {
		if errors.Is(err, errTornTail) {
			r.truncatedTail = true
			if r.allowTail {
				return nil, r.off, io.EOF
			}
			return nil, r.off, ErrCorruptPayload
		}
		return nil, r.off, err
	}
	r.off += int64(n)
	return payload, r.off, nil
}
