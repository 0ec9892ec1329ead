package outbox

import (
	"encoding/binary"
	"os"
	"path/filepath"
)

// cursor 文件：8 字节 little endian offset
func loadCursor(path string) int64 {
	b, err := os.ReadFile(path)
	if err != nil || len(b) < 8 {
		return 0
	}
	return int64(binary.LittleEndian.Uint64(b[:8]))
}

// 先写临时文件再 rename，断电时不会留下半个 cursor
func storeCursor(path string, off int64) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(off))

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b[:], 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// CursorPath 每个 sink 一份独立进度
func CursorPath(dir, sink string) string {
	return filepath.Join(dir, "custody."+sink+".cursor")
}
