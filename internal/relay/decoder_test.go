package relay

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSSEDecoder_LineSplitAcrossChunks(t *testing.T) {
	d := NewSSEDecoder()

	events, pass1 := d.Decode([]byte(`data: {"cho`))
	assert.Empty(t, events)

	events, pass2 := d.Decode([]byte("ices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\n"))
	require.Len(t, events, 1)
	assert.Equal(t, DeltaEvent{Kind: DeltaContent, Text: "hi"}, events[0])

	assert.Equal(t, "data: {\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\n", string(pass1)+string(pass2))
}

func TestSSEDecoder_MergedFrames(t *testing.T) {
	d := NewSSEDecoder()

	input := contentFrame("a") + contentFrame("b") + contentFrame("c")
	events, pass := d.Decode([]byte(input))

	require.Len(t, events, 3)
	assert.Equal(t, "a", events[0].Text)
	assert.Equal(t, "b", events[1].Text)
	assert.Equal(t, "c", events[2].Text)
	assert.Equal(t, input, string(pass))
}

func TestSSEDecoder_StripsUpstreamSentinel(t *testing.T) {
	d := NewSSEDecoder()

	events, pass := d.Decode([]byte(contentFrame("x") + "data: [DO"))
	require.Len(t, events, 1)
	assert.Equal(t, contentFrame("x"), string(pass))
	assert.False(t, d.Done())

	events, pass = d.Decode([]byte("NE]\n\n" + contentFrame("late")))
	require.Len(t, events, 1)
	assert.Equal(t, DeltaDone, events[0].Kind)
	assert.Empty(t, pass)
	assert.True(t, d.Done())

	events, pass = d.Decode([]byte(contentFrame("after")))
	assert.Empty(t, events)
	assert.Empty(t, pass)
}

func TestSSEDecoder_HeldPrefixReleasedWhenNotSentinel(t *testing.T) {
	d := NewSSEDecoder()

	_, pass := d.Decode([]byte("data: "))
	assert.Empty(t, pass)

	events, pass := d.Decode([]byte("{\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n"))
	require.Len(t, events, 1)
	assert.Equal(t, "data: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n", string(pass))
}

func TestSSEDecoder_CRLF(t *testing.T) {
	d := NewSSEDecoder()

	frame := "data: {\"choices\":[{\"delta\":{\"content\":\"a\"}}]}\r\n\r\n"
	events, pass := d.Decode([]byte(frame + "data: [DONE]\r\n\r\n"))

	require.Len(t, events, 2)
	assert.Equal(t, DeltaEvent{Kind: DeltaContent, Text: "a"}, events[0])
	assert.Equal(t, DeltaDone, events[1].Kind)
	assert.Equal(t, frame, string(pass))
}

func TestSSEDecoder_IgnoresNoiseAndMalformedPayloads(t *testing.T) {
	d := NewSSEDecoder()

	input := ": keep-alive\n\nevent: ping\ndata: {\"choices\":[{\"delta\":\n\n" + contentFrame("ok")
	events, pass := d.Decode([]byte(input))

	require.Len(t, events, 1)
	assert.Equal(t, "ok", events[0].Text)
	assert.Equal(t, input, string(pass))
}

func TestSSEDecoder_ReasoningBeforeContent(t *testing.T) {
	d := NewSSEDecoder()

	events, _ := d.Decode([]byte("data: {\"choices\":[{\"delta\":{\"content\":\"c\",\"reasoning_content\":\"r\"}}]}\n\n"))

	require.Len(t, events, 2)
	assert.Equal(t, DeltaEvent{Kind: DeltaReasoning, Text: "r"}, events[0])
	assert.Equal(t, DeltaEvent{Kind: DeltaContent, Text: "c"}, events[1])
}

func TestSSEDecoder_FlushUnterminatedLine(t *testing.T) {
	d := NewSSEDecoder()

	line := `data: {"choices":[{"delta":{"content":"tail"}}]}`
	events, pass := d.Decode([]byte(line))
	assert.Empty(t, events)
	assert.Equal(t, line, string(pass))

	events, pass = d.Flush()
	require.Len(t, events, 1)
	assert.Equal(t, "tail", events[0].Text)
	assert.Empty(t, pass)
}

func TestSSEDecoder_FlushHeldSentinel(t *testing.T) {
	d := NewSSEDecoder()

	_, pass := d.Decode([]byte("data: [DONE]"))
	assert.Empty(t, pass)

	events, pass := d.Flush()
	require.Len(t, events, 1)
	assert.Equal(t, DeltaDone, events[0].Kind)
	assert.Empty(t, pass)
	assert.True(t, d.Done())
}
