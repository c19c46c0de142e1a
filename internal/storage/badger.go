package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"coach-backend/internal/model"
	"coach-backend/pkg/logger"

	"github.com/dgraph-io/badger/v4"
)

const conversationKeyPrefix = "conv:"

// BadgerStore 每个会话存成一个 key，path 为空时使用内存模式
type BadgerStore struct {
	path string
	db   *badger.DB
	// 追加消息是读改写，串行化避免事务冲突
	writeMu sync.Mutex
}

func NewBadgerStore(path string) *BadgerStore {
	return &BadgerStore{path: path}
}

func (b *BadgerStore) Init() error {
	var opts badger.Options
	if b.path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(b.path, 0750); err != nil {
			return fmt.Errorf("%w: create database directory %s: %v", ErrStorageInit, b.path, err)
		}
		opts = badger.DefaultOptions(b.path)
	}
	opts = opts.WithNumVersionsToKeep(1).WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return fmt.Errorf("%w: open badger database: %v", ErrStorageInit, err)
	}
	b.db = db

	logger.Infof("Badger storage initialized (path=%q)", b.path)
	return nil
}

func (b *BadgerStore) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}

func conversationKey(id string) []byte {
	return []byte(conversationKeyPrefix + id)
}

func (b *BadgerStore) CreateConversation(ctx context.Context, conv *model.Conversation) error {
	if err := checkContext(ctx); err != nil {
		return err
	}
	if err := validateConversation(conv); err != nil {
		return err
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	return b.db.Update(func(txn *badger.Txn) error {
		_, err := txn.Get(conversationKey(conv.ID))
		if err == nil {
			return ErrConversationExists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return putConversation(txn, conv)
	})
}

func (b *BadgerStore) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	var conv *model.Conversation
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		conv, err = getConversation(txn, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return conv, nil
}

func (b *BadgerStore) ListConversations(ctx context.Context, userID string) ([]model.ConversationSummary, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	list := []model.ConversationSummary{}
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(conversationKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var conv model.Conversation
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &conv)
			})
			if err != nil {
				logger.Errorf("Failed to decode conversation %s: %v", it.Item().Key(), err)
				continue
			}
			if userID != "" && conv.UserID != userID {
				continue
			}
			list = append(list, conv.Summary())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sortSummaries(list)
	return list, nil
}

func (b *BadgerStore) DeleteConversation(ctx context.Context, id string) error {
	if err := checkContext(ctx); err != nil {
		return err
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	return b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(conversationKey(id)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrConversationNotFound
			}
			return err
		}
		return txn.Delete(conversationKey(id))
	})
}

func (b *BadgerStore) RenameConversation(ctx context.Context, id, title string) error {
	return b.update(ctx, id, func(conv *model.Conversation) {
		conv.Title = title
	})
}

func (b *BadgerStore) AppendMessage(ctx context.Context, id string, msg *model.Message) error {
	return b.update(ctx, id, func(conv *model.Conversation) {
		conv.Messages = append(conv.Messages, copyMessage(msg))
	})
}

func (b *BadgerStore) update(ctx context.Context, id string, mutate func(*model.Conversation)) error {
	if err := checkContext(ctx); err != nil {
		return err
	}

	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	return b.db.Update(func(txn *badger.Txn) error {
		conv, err := getConversation(txn, id)
		if err != nil {
			return err
		}
		mutate(conv)
		conv.UpdatedAt = time.Now()
		return putConversation(txn, conv)
	})
}

func getConversation(txn *badger.Txn, id string) (*model.Conversation, error) {
	item, err := txn.Get(conversationKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}

	var conv model.Conversation
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &conv)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	if conv.Messages == nil {
		conv.Messages = []model.Message{}
	}
	return &conv, nil
}

func putConversation(txn *badger.Txn, conv *model.Conversation) error {
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return txn.Set(conversationKey(conv.ID), data)
}
