package relay

import (
	"bytes"

	"coach-backend/internal/model"
)

const dataPrefix = "data: "

var sentinelLine = []byte(dataPrefix + "[DONE]")

// FrameDecoder 把上游的原始字节块还原成增量事件。
// passthrough 是可以原样转发给客户端的字节，不包含上游自己的终止帧。
type FrameDecoder interface {
	Decode(chunk []byte) (events []DeltaEvent, passthrough []byte)
	// Flush 在上游 EOF 时调用，把未以换行结尾的最后一行当作完整行处理
	Flush() (events []DeltaEvent, passthrough []byte)
	Done() bool
}

// SSEDecoder 解析 OpenAI 兼容的 `data: {...}` 流
type SSEDecoder struct {
	line     []byte
	released int
	done     bool
}

func NewSSEDecoder() *SSEDecoder {
	return &SSEDecoder{}
}

func (d *SSEDecoder) Done() bool {
	return d.done
}

func (d *SSEDecoder) Decode(chunk []byte) ([]DeltaEvent, []byte) {
	if d.done {
		return nil, nil
	}

	var events []DeltaEvent
	var out []byte
	for len(chunk) > 0 {
		i := bytes.IndexByte(chunk, '\n')
		if i < 0 {
			d.line = append(d.line, chunk...)
			// 可能是终止帧的前缀时先扣住，等这一行结束再决定
			if !isSentinelPrefix(d.line) {
				out = append(out, d.line[d.released:]...)
				d.released = len(d.line)
			}
			break
		}

		d.line = append(d.line, chunk[:i+1]...)
		chunk = chunk[i+1:]

		evs, pass, done := d.completeLine()
		events = append(events, evs...)
		out = append(out, pass...)
		if done {
			break
		}
	}
	return events, out
}

func (d *SSEDecoder) Flush() ([]DeltaEvent, []byte) {
	if d.done || len(d.line) == 0 {
		return nil, nil
	}
	events, out, _ := d.completeLine()
	return events, out
}

// completeLine 处理 d.line 中已经完整的一行
func (d *SSEDecoder) completeLine() ([]DeltaEvent, []byte, bool) {
	raw := d.line
	released := d.released
	d.line = nil
	d.released = 0

	content := bytes.TrimRight(raw, "\r\n")
	if bytes.Equal(content, sentinelLine) {
		d.done = true
		return []DeltaEvent{{Kind: DeltaDone}}, nil, true
	}

	pass := raw[released:]
	if !bytes.HasPrefix(content, []byte(dataPrefix)) {
		return nil, pass, false
	}
	return parsePayload(content[len(dataPrefix):]), pass, false
}

func parsePayload(payload []byte) []DeltaEvent {
	delta, ok := model.ParseStreamPayload(payload)
	if !ok {
		return nil
	}

	var events []DeltaEvent
	if delta.Reasoning != "" {
		events = append(events, DeltaEvent{Kind: DeltaReasoning, Text: delta.Reasoning})
	}
	if delta.Content != "" {
		events = append(events, DeltaEvent{Kind: DeltaContent, Text: delta.Content})
	}
	return events
}

func isSentinelPrefix(line []byte) bool {
	if bytes.HasPrefix(sentinelLine, line) {
		return true
	}
	return len(line) == len(sentinelLine)+1 &&
		bytes.HasPrefix(line, sentinelLine) &&
		line[len(line)-1] == '\r'
}
