package utils

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// DoneSentinel 终止帧的 payload
const DoneSentinel = "[DONE]"

// SSEWriter 向客户端写 SSE 流。响应头在第一次写入时才提交，
// 这样在没有任何输出之前仍然可以返回普通的错误响应。
type SSEWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	written bool
	closed  bool
}

func NewSSEWriter(w http.ResponseWriter) *SSEWriter {
	flusher, _ := w.(http.Flusher)
	return &SSEWriter{w: w, flusher: flusher}
}

func (s *SSEWriter) commitHeaders() {
	if s.written {
		return
	}
	s.w.Header().Set("Content-Type", "text/event-stream")
	s.w.Header().Set("Cache-Control", "no-cache")
	s.w.Header().Set("Connection", "keep-alive")
	s.w.Header().Set("X-Accel-Buffering", "no")
	s.w.WriteHeader(http.StatusOK)
	s.written = true
}

func (s *SSEWriter) flush() {
	if s.flusher != nil {
		s.flusher.Flush()
	}
}

// WriteRaw 原样转发上游字节，不做任何重新编码
func (s *SSEWriter) WriteRaw(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	s.commitHeaders()
	if _, err := s.w.Write(p); err != nil {
		return err
	}
	s.flush()
	return nil
}

// WriteData 写一个完整的 data 帧
func (s *SSEWriter) WriteData(data string) error {
	s.commitHeaders()
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flush()
	return nil
}

func (s *SSEWriter) WriteJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal sse payload: %w", err)
	}
	return s.WriteData(string(data))
}

// Close 写终止帧，重复调用只会写一次
func (s *SSEWriter) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.WriteData(DoneSentinel)
}

// Written 是否已经向客户端写出过任何字节
func (s *SSEWriter) Written() bool {
	return s.written
}
