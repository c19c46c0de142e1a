package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"coach-backend/internal/model"
	"coach-backend/pkg/logger"
)

// DiskStore 每个会话两个 JSON 文件（元数据和消息），外加一个索引文件
type DiskStore struct {
	dataDir   string
	mu        sync.RWMutex
	cache     map[string]*model.Conversation
	index     map[string]*conversationIndex
	cacheSize int
}

type conversationIndex struct {
	ID           string    `json:"id"`
	UserID       string    `json:"userId"`
	Title        string    `json:"title"`
	MessageCount int       `json:"messageCount"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func newConversationIndex(conv *model.Conversation) *conversationIndex {
	return &conversationIndex{
		ID:           conv.ID,
		UserID:       conv.UserID,
		Title:        conv.Title,
		MessageCount: len(conv.Messages),
		CreatedAt:    conv.CreatedAt,
		UpdatedAt:    conv.UpdatedAt,
	}
}

func NewDiskStore(dataDir string, cacheSize int) *DiskStore {
	if cacheSize <= 0 {
		cacheSize = 100
	}
	return &DiskStore{
		dataDir:   dataDir,
		cache:     make(map[string]*model.Conversation),
		index:     make(map[string]*conversationIndex),
		cacheSize: cacheSize,
	}
}

func (d *DiskStore) Init() error {
	if err := d.createDirectories(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageInit, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.loadIndex(); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageInit, err)
	}

	logger.Infof("Disk storage initialized at %s with %d conversations", d.dataDir, len(d.index))
	return nil
}

func (d *DiskStore) createDirectories() error {
	dirs := []string{
		d.dataDir,
		filepath.Join(d.dataDir, "conversations"),
		filepath.Join(d.dataDir, "messages"),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

func (d *DiskStore) indexPath() string {
	return filepath.Join(d.dataDir, "conversations.json")
}

func (d *DiskStore) conversationPath(id string) string {
	return filepath.Join(d.dataDir, "conversations", id+".json")
}

func (d *DiskStore) messagesPath(id string) string {
	return filepath.Join(d.dataDir, "messages", id+".json")
}

func (d *DiskStore) loadIndex() error {
	data, err := os.ReadFile(d.indexPath())
	if os.IsNotExist(err) {
		return d.saveIndex()
	}
	if err != nil {
		return err
	}

	var entries []*conversationIndex
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}

	for _, entry := range entries {
		d.index[entry.ID] = entry
	}

	// 预热最近更新的会话
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].UpdatedAt.After(entries[j].UpdatedAt)
	})
	for _, entry := range entries {
		if len(d.cache) >= d.cacheSize {
			break
		}
		conv, err := d.loadFromFile(entry.ID)
		if err != nil {
			logger.Errorf("Failed to load conversation %s: %v", entry.ID, err)
			continue
		}
		d.cache[entry.ID] = conv
	}
	return nil
}

func (d *DiskStore) saveIndex() error {
	entries := make([]*conversationIndex, 0, len(d.index))
	for _, entry := range d.index {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].UpdatedAt.After(entries[j].UpdatedAt)
	})
	return writeJSONFile(d.indexPath(), entries)
}

func (d *DiskStore) loadFromFile(id string) (*model.Conversation, error) {
	data, err := os.ReadFile(d.conversationPath(id))
	if err != nil {
		return nil, err
	}

	var conv model.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}

	messages, err := d.loadMessagesFromFile(id)
	if err != nil {
		logger.Errorf("Failed to load messages for conversation %s: %v", id, err)
		messages = []model.Message{}
	}
	conv.Messages = messages
	return &conv, nil
}

func (d *DiskStore) loadMessagesFromFile(id string) ([]model.Message, error) {
	data, err := os.ReadFile(d.messagesPath(id))
	if os.IsNotExist(err) {
		return []model.Message{}, nil
	}
	if err != nil {
		return nil, err
	}

	var messages []model.Message
	if err := json.Unmarshal(data, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

func (d *DiskStore) saveToFile(conv *model.Conversation) error {
	meta := *conv
	meta.Messages = nil
	if err := writeJSONFile(d.conversationPath(conv.ID), meta); err != nil {
		return err
	}

	messages := conv.Messages
	if messages == nil {
		messages = []model.Message{}
	}
	return writeJSONFile(d.messagesPath(conv.ID), messages)
}

// writeJSONFile 先写临时文件再 rename，保证文件不会写一半
func writeJSONFile(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return err
	}
	return os.Rename(tempPath, path)
}

// getLocked 调用方持有写锁
func (d *DiskStore) getLocked(id string) (*model.Conversation, error) {
	if conv, exists := d.cache[id]; exists {
		return conv, nil
	}
	// 只读索引里登记过的会话，id 不会被拼进任意路径
	if _, exists := d.index[id]; !exists {
		return nil, ErrConversationNotFound
	}

	conv, err := d.loadFromFile(id)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConversationNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	d.cache[id] = conv
	d.evictCache()
	return conv, nil
}

func (d *DiskStore) CreateConversation(ctx context.Context, conv *model.Conversation) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	if err := validateConversation(conv); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.index[conv.ID]; exists {
		return ErrConversationExists
	}

	stored := conv.Clone()
	if err := d.saveToFile(stored); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	d.index[stored.ID] = newConversationIndex(stored)
	if err := d.saveIndex(); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}

	d.cache[stored.ID] = stored
	d.evictCache()
	return nil
}

func (d *DiskStore) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	d.mu.RLock()
	if conv, exists := d.cache[id]; exists {
		out := conv.Clone()
		d.mu.RUnlock()
		return out, nil
	}
	d.mu.RUnlock()

	d.mu.Lock()
	defer d.mu.Unlock()

	conv, err := d.getLocked(id)
	if err != nil {
		return nil, err
	}
	return conv.Clone(), nil
}

func (d *DiskStore) ListConversations(ctx context.Context, userID string) ([]model.ConversationSummary, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	list := make([]model.ConversationSummary, 0, len(d.index))
	for _, entry := range d.index {
		if userID != "" && entry.UserID != userID {
			continue
		}
		list = append(list, model.ConversationSummary{
			ID:           entry.ID,
			Title:        entry.Title,
			UpdatedAt:    entry.UpdatedAt,
			MessageCount: entry.MessageCount,
		})
	}
	sortSummaries(list)
	return list, nil
}

func (d *DiskStore) DeleteConversation(ctx context.Context, id string) error {
	if err := checkContext(ctx); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.index[id]; !exists {
		return ErrConversationNotFound
	}

	for _, path := range []string{d.conversationPath(id), d.messagesPath(id)} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("%w: %v", ErrFileOperation, err)
		}
	}

	delete(d.cache, id)
	delete(d.index, id)
	if err := d.saveIndex(); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	return nil
}

func (d *DiskStore) RenameConversation(ctx context.Context, id, title string) error {
	return d.update(ctx, id, func(conv *model.Conversation) {
		conv.Title = title
	})
}

func (d *DiskStore) AppendMessage(ctx context.Context, id string, msg *model.Message) error {
	return d.update(ctx, id, func(conv *model.Conversation) {
		conv.Messages = append(conv.Messages, copyMessage(msg))
	})
}

func (d *DiskStore) update(ctx context.Context, id string, mutate func(*model.Conversation)) error {
	if err := checkContext(ctx); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.index[id]; !exists {
		return ErrConversationNotFound
	}

	current, err := d.getLocked(id)
	if err != nil {
		return err
	}

	// 写盘成功后才替换缓存
	next := current.Clone()
	mutate(next)
	next.UpdatedAt = time.Now()

	if err := d.saveToFile(next); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	d.cache[id] = next
	d.index[id] = newConversationIndex(next)
	if err := d.saveIndex(); err != nil {
		return fmt.Errorf("%w: %v", ErrFileOperation, err)
	}
	return nil
}

func (d *DiskStore) evictCache() {
	if len(d.cache) <= d.cacheSize {
		return
	}

	type cacheEntry struct {
		id        string
		updatedAt time.Time
	}

	entries := make([]cacheEntry, 0, len(d.cache))
	for id, conv := range d.cache {
		entries = append(entries, cacheEntry{id: id, updatedAt: conv.UpdatedAt})
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].updatedAt.Before(entries[j].updatedAt)
	})

	toEvict := len(d.cache) - d.cacheSize
	for i := 0; i < toEvict; i++ {
		delete(d.cache, entries[i].id)
	}
}

func (d *DiskStore) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.cache = make(map[string]*model.Conversation)
	return nil
}
