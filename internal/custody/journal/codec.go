package journal

import (
	"github.com/segmentio/encoding/json"
	"gopherheir.com/internal/custody"
)

// Encode 事件落盘格式：一帧一个 JSON 对象
func Encode(ev *custody.Event) ([]byte, error) {
	return json.Marshal(ev)
}

func Decode(payload []byte) (custody.Event, error) {
	var ev custody.Event
	err := json.Unmarshal(payload, &ev)
	return ev, err
}
