package wal

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
)

type ReplayOptions struct {
	MaxPayload int // <=0 用 DefaultMaxPayload
	// 最后一条记录半写时是否当作正常结束(崩溃后常见)
	AllowTruncatedTail bool
}

type ReplayStats struct {
	Records        int
	BytesRead      int64
	LastGoodOffset int64
	TruncatedTail  bool
}

// Replay 从头回放。onRecord 拿到的 payload 在回调返回后会被复用，需要保留请自行拷贝。
func Replay(path string, opts ReplayOptions, onRecord func(payload []byte) error) (ReplayStats, error) {
	var st ReplayStats
	maxPayload := opts.MaxPayload
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}

	f, err := os.Open(path)
	if err != nil {
		// 文件不存在：还没写过
		if errors.Is(err, os.ErrNotExist) {
			return st, nil
		}
		return st, err
	}
	defer f.Close()

	br := bufio.NewReaderSize(f, 1<<20)
	buf := make([]byte, 0, 4<<10)
	for {
		payload, n, err := readFrame(br, maxPayload, buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return st, nil
			}
			if errors.Is(err, errTornTail) {
				st.TruncatedTail = true
				if opts.AllowTruncatedTail {
					return st, nil
				}
				return st, ErrCorruptPayload
			}
			return st, err
		}
		if cap(payload) > cap(buf) {
			buf = payload[:0]
		}

		if err := onRecord(payload); err != nil {
			return st, fmt.Errorf("wal: record %d at offset %d: %w", st.Records, st.LastGoodOffset, err)
		}
		st.Records++
		st.LastGoodOffset += int64(n)
		st.BytesRead = st.LastGoodOffset
	}
}

// TruncateTo 修复半写尾巴：截断到最后一条完整记录
func TruncateTo(path string, offset int64) error {
	if offset < 0 {
		return fmt.Errorf("wal: negative truncate offset %d", offset)
	}
	st, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	// 比文件还长，没什么可截的
	if offset >= st.Size() {
		return nil
	}

	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.Truncate(offset); err != nil {
		return err
	}
	_ = f.Sync()
	return nil
}
