package events

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// Subscriber 一个实时订阅连接（SSE 客户端）
type Subscriber struct {
	ID     string
	UserID string
	Events chan Event

	types map[string]bool
}

func (s *Subscriber) wants(t string) bool {
	return len(s.types) == 0 || s.types[t]
}

// Hub 进程内事件广播，按事件类型过滤后推送给订阅者
type Hub struct {
	mu      sync.RWMutex
	subs    map[string]*Subscriber
	buffer  int
	logger  *zap.Logger
	stopped bool
}

func NewHub(logger *zap.Logger, buffer int) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{subs: make(map[string]*Subscriber), buffer: buffer, logger: logger}
}

// Subscribe 注册订阅；types 为空表示接收全部事件
func (h *Hub) Subscribe(id, userID string, types ...string) *Subscriber {
	sub := &Subscriber{ID: id, UserID: userID, Events: make(chan Event, h.buffer)}
	if len(types) > 0 {
		sub.types = make(map[string]bool, len(types))
		for _, t := range types {
			sub.types[t] = true
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		close(sub.Events)
		return sub
	}
	h.subs[id] = sub
	h.logger.Debug("event subscriber registered", zap.String("id", id), zap.String("user_id", userID), zap.Int("total", len(h.subs)))
	return sub
}

func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if sub, ok := h.subs[id]; ok {
		close(sub.Events)
		delete(h.subs, id)
		h.logger.Debug("event subscriber removed", zap.String("id", id), zap.Int("total", len(h.subs)))
	}
}

// Len 当前订阅数
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Publish 非阻塞推送，缓冲区满的订阅者丢弃该事件
func (h *Hub) Publish(_ context.Context, evts ...Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, e := range evts {
		for _, sub := range h.subs {
			if !sub.wants(e.Type) {
				continue
			}
			select {
			case sub.Events <- e:
			default:
				h.logger.Warn("event subscriber buffer full, dropping event",
					zap.String("id", sub.ID), zap.String("type", e.Type), zap.String("key", e.Key))
			}
		}
	}
	return nil
}

// Close 关闭所有订阅，之后的订阅立即结束
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, sub := range h.subs {
		close(sub.Events)
		delete(h.subs, id)
	}
	h.stopped = true
	return nil
}

// Multi 依次发布到多个 Publisher，错误合并返回
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, evts ...Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, evts...); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, p := range m {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
