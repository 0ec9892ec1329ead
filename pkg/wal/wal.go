package wal

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"sync"
)

type WriterOptions struct {
	BufferSize  int  // <=0 用 1MB
	SyncOnFlush bool // Flush 时是否 fsync
}

// Writer 追加写。Append 只进 bufio，Flush 之后才对 Reader 可见。
type Writer struct {
	mu   sync.Mutex
	f    *os.File
	bw   *bufio.Writer
	opts WriterOptions
	// 已写入的逻辑偏移，包含 bufio 里还没 flush 的部分
	off int64
	// 已 flush 的偏移
	flushed int64
}

func OpenWrite(path string, buffSize int) (*Writer, error) {
	return Open(path, WriterOptions{BufferSize: buffSize, SyncOnFlush: true})
}

func Open(path string, opts WriterOptions) (*Writer, error) {
	if opts.BufferSize <= 0 {
		opts.BufferSize = 1 << 20
	}
	file, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_APPEND, defaultFilePerm)
	if err != nil {
		return nil, err
	}
	stat, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	return &Writer{
		f:       file,
		bw:      bufio.NewWriterSize(file, opts.BufferSize),
		opts:    opts,
		off:     stat.Size(),
		flushed: stat.Size(),
	}, nil
}

// Append 写入一帧，返回这一帧之后的偏移
func (w *Writer) Append(payload []byte) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.appendLocked(payload)
}

// AppendFlush 写入并刷盘，成功返回即持久化
func (w *Writer) AppendFlush(payload []byte) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	off, err := w.appendLocked(payload)
	if err != nil {
		return 0, err
	}
	if err := w.flushLocked(); err != nil {
		return 0, err
	}
	return off, nil
}

func (w *Writer) appendLocked(payload []byte) (int64, error) {
	if w.f == nil {
		return 0, errors.New("wal: writer closed")
	}
	if len(payload) > DefaultMaxPayload {
		return 0, ErrPayloadTooLarge
	}
	var hdr [headerSize]byte
	putHeader(&hdr, payload)
	if _, err := w.bw.Write(hdr[:]); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCorruptHeader, err)
	}
	if _, err := w.bw.Write(payload); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrCorruptPayload, err)
	}
	w.off += int64(headerSize + len(payload))
	return w.off, nil
}

func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

func (w *Writer) flushLocked() error {
	if w.f == nil {
		return errors.New("wal: writer closed")
	}
	if err := w.bw.Flush(); err != nil {
		return err
	}
	if w.opts.SyncOnFlush {
		if err := w.f.Sync(); err != nil {
			return err
		}
	}
	w.flushed = w.off
	return nil
}

// Offset 当前逻辑偏移
func (w *Writer) Offset() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.off
}

// Flushed 已经刷出去的偏移
func (w *Writer) Flushed() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushed
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	f := w.f
	w.f = nil
	if err := w.bw.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
