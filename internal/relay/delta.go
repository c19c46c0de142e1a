package relay

// DeltaKind 增量事件类型
type DeltaKind int

const (
	DeltaContent DeltaKind = iota
	DeltaReasoning
	DeltaCriticContent
	DeltaDone
)

func (k DeltaKind) String() string {
	switch k {
	case DeltaContent:
		return "content"
	case DeltaReasoning:
		return "reasoning"
	case DeltaCriticContent:
		return "critic_content"
	case DeltaDone:
		return "done"
	default:
		return "unknown"
	}
}

// DeltaEvent 从一条 data 帧解析出的增量
type DeltaEvent struct {
	Kind DeltaKind
	Text string
}
