package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"coach-backend/pkg/logger"
)

var (
	// ErrPrimaryFailed 主模型在输出任何字节之前失败，调用方仍可返回普通错误响应
	ErrPrimaryFailed = errors.New("primary stream failed before output")
	// ErrClientGone 向客户端写入失败或请求被取消
	ErrClientGone = errors.New("client disconnected")
)

const defaultChunkSize = 4096

// State 中继状态机
type State int

const (
	StatePrimary State = iota
	StateCritic
	StateDone
)

func (s State) String() string {
	switch s {
	case StatePrimary:
		return "PRIMARY"
	case StateCritic:
		return "CRITIC"
	case StateDone:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

// Encoder 输出流
type Encoder interface {
	WriteRaw(p []byte) error
	WriteJSON(v interface{}) error
	Close() error
	Written() bool
}

// CriticOpener 用完整的问题和回答打开评估模型的流
type CriticOpener func(ctx context.Context, question, answer string) (io.ReadCloser, error)

// PrimaryResult 主阶段结束时的内容
type PrimaryResult struct {
	Answer    string
	Reasoning string
	Partial   bool
}

type Options struct {
	// Question 原始用户问题，评估阶段使用
	Question string
	// Critic 为 nil 时不进入评估阶段
	Critic            CriticOpener
	OnPrimaryComplete func(PrimaryResult)
	ChunkSize         int
	NewDecoder        func() FrameDecoder
	LogFields         logger.Fields
}

// Result 一次中继的统计
type Result struct {
	Answer         string
	Reasoning      string
	Evaluation     string
	PrimaryChunks  int
	CriticFrames   int
	PrimaryPartial bool
	CriticSkipped  bool
	CriticErr      error
	FinalState     State
}

// Relay 单个请求的中继，不能复用
type Relay struct {
	enc   Encoder
	opts  Options
	state State

	answer     strings.Builder
	reasoning  strings.Builder
	evaluation strings.Builder
	result     Result
}

func New(enc Encoder, opts Options) *Relay {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaultChunkSize
	}
	if opts.NewDecoder == nil {
		opts.NewDecoder = func() FrameDecoder { return NewSSEDecoder() }
	}
	return &Relay{enc: enc, opts: opts, state: StatePrimary}
}

func (r *Relay) State() State {
	return r.state
}

// Run 消费主模型流，按需进入评估阶段，最后写一次终止帧
func (r *Relay) Run(ctx context.Context, primary io.ReadCloser) (*Result, error) {
	defer primary.Close()

	log := logger.WithFields(r.opts.LogFields)

	err := r.runPrimary(ctx, primary)
	switch {
	case errors.Is(err, ErrClientGone):
		log.Warnf("client gone during primary phase: %v", err)
		return r.finish(), err
	case err != nil && !r.enc.Written():
		log.Errorf("primary stream failed before output: %v", err)
		return r.finish(), fmt.Errorf("%w: %v", ErrPrimaryFailed, err)
	case err != nil:
		log.Warnf("primary stream interrupted, keeping partial answer: %v", err)
		r.result.PrimaryPartial = true
	}
	// 主阶段已经可以视为完成，释放连接后再开始评估
	primary.Close()

	r.result.Answer = r.answer.String()
	r.result.Reasoning = r.reasoning.String()
	if r.opts.OnPrimaryComplete != nil {
		r.opts.OnPrimaryComplete(PrimaryResult{
			Answer:    r.result.Answer,
			Reasoning: r.result.Reasoning,
			Partial:   r.result.PrimaryPartial,
		})
	}

	if r.opts.Critic != nil && r.answer.Len() > 0 {
		r.state = StateCritic
		if err := r.runCritic(ctx); err != nil {
			if errors.Is(err, ErrClientGone) {
				log.Warnf("client gone during critic phase: %v", err)
				return r.finish(), err
			}
			log.Warnf("critic phase skipped: %v", err)
			r.result.CriticErr = err
		}
	} else {
		r.result.CriticSkipped = true
	}

	r.state = StateDone
	if err := r.enc.Close(); err != nil {
		return r.finish(), fmt.Errorf("%w: %v", ErrClientGone, err)
	}
	return r.finish(), nil
}

func (r *Relay) runPrimary(ctx context.Context, body io.Reader) error {
	return r.pump(ctx, body, r.opts.NewDecoder(), func(events []DeltaEvent, passthrough []byte) error {
		for _, ev := range events {
			switch ev.Kind {
			case DeltaContent:
				r.answer.WriteString(ev.Text)
			case DeltaReasoning:
				r.reasoning.WriteString(ev.Text)
			}
		}
		if len(passthrough) == 0 {
			return nil
		}
		if err := r.enc.WriteRaw(passthrough); err != nil {
			return fmt.Errorf("%w: %v", ErrClientGone, err)
		}
		r.result.PrimaryChunks++
		return nil
	})
}

func (r *Relay) runCritic(ctx context.Context) error {
	body, err := r.opts.Critic(ctx, r.opts.Question, r.answer.String())
	if err != nil {
		r.result.CriticSkipped = true
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %v", ErrClientGone, ctx.Err())
		}
		return fmt.Errorf("open critic stream: %w", err)
	}
	defer body.Close()

	err = r.pump(ctx, body, r.opts.NewDecoder(), func(events []DeltaEvent, _ []byte) error {
		for _, ev := range events {
			// 评估模型的 reasoning 不输出
			if ev.Kind != DeltaContent {
				continue
			}
			if err := r.writeCritic(DeltaEvent{Kind: DeltaCriticContent, Text: ev.Text}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, ErrClientGone) {
		return fmt.Errorf("read critic stream: %w", err)
	}
	return err
}

func (r *Relay) writeCritic(ev DeltaEvent) error {
	if err := r.enc.WriteJSON(newEvaluationFrame(ev.Text)); err != nil {
		return fmt.Errorf("%w: %v", ErrClientGone, err)
	}
	r.evaluation.WriteString(ev.Text)
	r.result.CriticFrames++
	return nil
}

// pump 读一块、解码、交给 emit，直到终止帧、EOF 或出错
func (r *Relay) pump(ctx context.Context, body io.Reader, dec FrameDecoder, emit func([]DeltaEvent, []byte) error) error {
	buf := make([]byte, r.opts.ChunkSize)
	for {
		n, readErr := body.Read(buf)
		if n > 0 {
			if err := emit(dec.Decode(buf[:n])); err != nil {
				return err
			}
			if dec.Done() {
				return nil
			}
		}
		if readErr == io.EOF {
			return emit(dec.Flush())
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("%w: %v", ErrClientGone, ctx.Err())
			}
			return readErr
		}
	}
}

func (r *Relay) finish() *Result {
	r.result.Answer = r.answer.String()
	r.result.Reasoning = r.reasoning.String()
	r.result.Evaluation = r.evaluation.String()
	r.result.FinalState = r.state
	return &r.result
}

type evaluationFrame struct {
	Choices []evaluationChoice `json:"choices"`
}

type evaluationChoice struct {
	Delta evaluationDelta `json:"delta"`
}

type evaluationDelta struct {
	EvaluationContent string `json:"evaluation_content"`
}

func newEvaluationFrame(text string) evaluationFrame {
	return evaluationFrame{Choices: []evaluationChoice{{Delta: evaluationDelta{EvaluationContent: text}}}}
}
