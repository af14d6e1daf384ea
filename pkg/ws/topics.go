package ws

import "sync"

// topicIndex 主题到订阅连接的索引
// 使用独立的读写锁，广播只在 RLock 下取快照
type topicIndex struct {
	mu     sync.RWMutex
	topics map[string]map[string]*Connection
}

func newTopicIndex() *topicIndex {
	return &topicIndex{topics: make(map[string]map[string]*Connection)}
}

// add 返回 false 表示已订阅
func (t *topicIndex) add(topic string, c *Connection) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	subs, ok := t.topics[topic]
	if !ok {
		subs = make(map[string]*Connection)
		t.topics[topic] = subs
	}
	if _, exists := subs[c.id]; exists {
		return false
	}
	subs[c.id] = c
	return true
}

// remove 返回 false 表示本就未订阅
func (t *topicIndex) remove(topic string, c *Connection) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.removeLocked(topic, c)
}

// removeAll 从多个主题中移除连接
func (t *topicIndex) removeAll(topics []string, c *Connection) {
	if len(topics) == 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, topic := range topics {
		t.removeLocked(topic, c)
	}
}

func (t *topicIndex) removeLocked(topic string, c *Connection) bool {
	subs, ok := t.topics[topic]
	if !ok {
		return false
	}
	if cur, exists := subs[c.id]; !exists || cur != c {
		return false
	}
	delete(subs, c.id)
	if len(subs) == 0 {
		delete(t.topics, topic)
	}
	return true
}

// snapshot 主题当前订阅者快照
func (t *topicIndex) snapshot(topic string) []*Connection {
	t.mu.RLock()
	defer t.mu.RUnlock()

	subs := t.topics[topic]
	out := make([]*Connection, 0, len(subs))
	for _, c := range subs {
		out = append(out, c)
	}
	return out
}

// union 多个主题订阅者的并集，每个连接只出现一次
func (t *topicIndex) union(topics []string) []*Connection {
	t.mu.RLock()
	defer t.mu.RUnlock()

	seen := make(map[string]struct{})
	out := make([]*Connection, 0)
	for _, topic := range topics {
		for id, c := range t.topics[topic] {
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}

// count 主题数
func (t *topicIndex) count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.topics)
}

// subscribers 主题订阅数
func (t *topicIndex) subscribers(topic string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.topics[topic])
}
