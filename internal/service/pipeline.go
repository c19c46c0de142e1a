package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"coach-backend/internal/config"
	"coach-backend/internal/metrics"
	"coach-backend/internal/model"
	"coach-backend/internal/relay"
	"coach-backend/internal/tools"
	"coach-backend/internal/utils"
	"coach-backend/pkg/logger"

	openai "github.com/sashabaranov/go-openai"
)

// ErrServiceUnavailable 主模型不可用，此时还没有向客户端写任何内容
var ErrServiceUnavailable = errors.New("service unavailable")

// ConversationHeader 响应头里携带会话 id，客户端不必等流结束
const ConversationHeader = "X-Conversation-Id"

type PipelineDeps struct {
	Config  config.PipelineConfig
	Primary model.StreamClient
	// Critic 为 nil 时测试模式不生效
	Critic   model.StreamClient
	Chats    *ChatService
	Searcher tools.Searcher
	Titles   *model.TitleGenerator
}

// Pipeline 组装提示词，驱动主模型和评估模型两个阶段
type Pipeline struct {
	cfg      config.PipelineConfig
	primary  model.StreamClient
	critic   model.StreamClient
	chats    *ChatService
	searcher tools.Searcher
	titles   *model.TitleGenerator

	// 后台持久化任务，draining 之后不再接收新任务
	mu       sync.Mutex
	draining bool
	wg       sync.WaitGroup
}

func NewPipeline(deps PipelineDeps) *Pipeline {
	titles := deps.Titles
	if titles == nil {
		titles = model.NewTitleGenerator(nil)
	}
	if deps.Config.PersistTimeout <= 0 {
		deps.Config.PersistTimeout = 30 * time.Second
	}
	return &Pipeline{
		cfg:      deps.Config,
		primary:  deps.Primary,
		critic:   deps.Critic,
		chats:    deps.Chats,
		searcher: deps.Searcher,
		titles:   titles,
	}
}

// Run 把一次请求的 SSE 流写到 w。
// 返回 ErrServiceUnavailable 或 model.ErrInvalidRequest 时 w 还没有被写过。
func (p *Pipeline) Run(ctx context.Context, req *model.PipelineRequest, w http.ResponseWriter) error {
	start := time.Now()
	if err := req.Validate(); err != nil {
		metrics.ObservePipeline(metrics.OutcomeInvalid, time.Since(start))
		return err
	}

	lang := req.Language.Normalize()
	convID := req.ConversationID
	isNew := convID == ""
	if isNew {
		convID = p.chats.NewConversationID()
	}
	log := logger.WithFields(logger.Fields{"conversation_id": convID})

	persona := Persona(lang)
	if req.UseSearch {
		persona = WithSearchResults(persona, p.search(ctx, req.Message), lang)
	}

	question := req.Message
	if strings.TrimSpace(question) == "" {
		question = DefaultImagePrompt(lang)
	}

	body, err := p.primary.OpenStream(ctx, p.buildPrimaryRequest(persona, question, req))
	if err != nil {
		log.Errorf("Failed to open primary stream: %v", err)
		metrics.ObservePipeline(metrics.OutcomeUnavailable, time.Since(start))
		return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}

	w.Header().Set(ConversationHeader, convID)

	opts := relay.Options{
		Question:  question,
		ChunkSize: p.cfg.ChunkSize,
		LogFields: logger.Fields{"conversation_id": convID},
		OnPrimaryComplete: func(r relay.PrimaryResult) {
			p.persist(convID, isNew, req, lang, r)
		},
	}
	if req.EnableTestMode && p.critic != nil {
		opts.Critic = p.openCritic(lang)
	}

	result, err := relay.New(utils.NewSSEWriter(w), opts).Run(ctx, body)
	p.observe(result, err, time.Since(start))

	switch {
	case errors.Is(err, relay.ErrPrimaryFailed):
		// 会话不会被创建，503 响应里不能带它的 id
		w.Header().Del(ConversationHeader)
		return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	case err != nil:
		log.Warnf("Relay aborted: %v", err)
		return err
	}

	log.Infof("Pipeline finished: answer=%d runes, critic frames=%d, took %s",
		len([]rune(result.Answer)), result.CriticFrames, time.Since(start).Round(time.Millisecond))
	return nil
}

// Wait 等待所有后台持久化任务结束
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

// Shutdown 停止接收新的持久化任务并等待已有任务结束，之后完成的请求只记录日志
func (p *Pipeline) Shutdown() {
	p.mu.Lock()
	p.draining = true
	p.mu.Unlock()
	p.wg.Wait()
}

// track 登记一个后台任务，关闭过程中返回 false
func (p *Pipeline) track() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.draining {
		return false
	}
	p.wg.Add(1)
	return true
}

func (p *Pipeline) search(ctx context.Context, query string) string {
	if p.searcher == nil {
		metrics.ObserveSearch("disabled")
		return ""
	}

	results, err := p.searcher.Search(ctx, query)
	if err != nil {
		logger.Warnf("Search failed, continuing without results: %v", err)
		metrics.ObserveSearch("error")
		return ""
	}
	if results == "" {
		metrics.ObserveSearch("empty")
		return ""
	}
	metrics.ObserveSearch("ok")
	return results
}

func (p *Pipeline) buildPrimaryRequest(persona, question string, req *model.PipelineRequest) *model.CompletionRequest {
	out := &model.CompletionRequest{
		Messages: []openai.ChatCompletionMessage{
			model.SystemMessage(persona),
			model.UserMessage(question, req.Images),
		},
	}
	if req.EnableThinking {
		enabled := true
		out.EnableThinking = &enabled
		out.ThinkingBudget = p.cfg.ThinkingBudget
	}
	return out
}

func (p *Pipeline) openCritic(lang model.Language) relay.CriticOpener {
	return func(ctx context.Context, question, answer string) (io.ReadCloser, error) {
		return p.critic.OpenStream(ctx, &model.CompletionRequest{
			Messages: []openai.ChatCompletionMessage{
				model.SystemMessage(criticSystemPrompt(lang)),
				model.UserMessage(criticUserPrompt(lang, question, answer), nil),
			},
		})
	}
}

// persist 在后台保存本轮对话，失败只记录日志。评估内容不落库。
func (p *Pipeline) persist(convID string, isNew bool, req *model.PipelineRequest, lang model.Language, r relay.PrimaryResult) {
	if !p.track() {
		logger.WithFields(logger.Fields{"conversation_id": convID}).Warn("Pipeline is shutting down, conversation turn not saved")
		metrics.PersistError("shutdown")
		return
	}
	images := append([]string(nil), req.Images...)
	message := req.Message

	go func() {
		defer p.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.PersistTimeout)
		defer cancel()

		log := logger.WithFields(logger.Fields{"conversation_id": convID})

		if isNew {
			if _, err := p.chats.CreateConversation(ctx, convID, "", lang); err != nil {
				log.Errorf("Failed to create conversation: %v", err)
				metrics.PersistError("create")
				return
			}
		}

		userMsg := &model.Message{
			Role:    model.RoleUser,
			Content: message,
			Images:  images,
		}
		if err := p.chats.AppendMessage(ctx, convID, userMsg); err != nil {
			log.Errorf("Failed to save user message: %v", err)
			metrics.PersistError("append")
			return
		}

		assistantMsg := &model.Message{
			Role:      model.RoleAssistant,
			Content:   r.Answer,
			Reasoning: r.Reasoning,
		}
		if err := p.chats.AppendMessage(ctx, convID, assistantMsg); err != nil {
			log.Errorf("Failed to save assistant message: %v", err)
			metrics.PersistError("append")
			return
		}

		if !isNew {
			return
		}
		title := p.titles.Generate(ctx, message, r.Answer, lang)
		if err := p.chats.RenameConversation(ctx, convID, title); err != nil {
			log.Errorf("Failed to set conversation title: %v", err)
			metrics.PersistError("rename")
		}
	}()
}

func (p *Pipeline) observe(result *relay.Result, err error, elapsed time.Duration) {
	outcome := metrics.OutcomeOK
	switch {
	case errors.Is(err, relay.ErrPrimaryFailed):
		outcome = metrics.OutcomeUnavailable
	case errors.Is(err, relay.ErrClientGone):
		outcome = metrics.OutcomeClientGone
	case result != nil && result.PrimaryPartial:
		outcome = metrics.OutcomePartial
	}
	metrics.ObservePipeline(outcome, elapsed)

	if result == nil {
		return
	}
	metrics.AddRelayChunks(result.PrimaryChunks, result.CriticFrames)
	switch {
	case result.CriticErr != nil:
		metrics.ObserveCritic("failed")
	case result.CriticSkipped:
		metrics.ObserveCritic("skipped")
	case result.FinalState == relay.StateDone:
		metrics.ObserveCritic("ok")
	}
}
