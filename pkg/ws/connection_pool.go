package ws

import (
	"sync"
	"sync/atomic"
)

// ConnectionPool 连接池
type ConnectionPool struct {
	conns    sync.Map     // connectionID -> *Connection
	count    atomic.Int64 // 连接数
	maxConns int          // 最大连接数，0 表示不限制
}

// NewConnectionPool 创建连接池
func NewConnectionPool(maxConns int) *ConnectionPool {
	return &ConnectionPool{
		maxConns: maxConns,
	}
}

// Add 添加连接
func (p *ConnectionPool) Add(conn *Connection) error {
	// 先占位，避免计数不一致
	if _, loaded := p.conns.LoadOrStore(conn.id, conn); loaded {
		return ErrDuplicateConnection
	}

	newCount := p.count.Add(1)
	if p.maxConns > 0 && int(newCount) > p.maxConns {
		// 超过限制，回滚
		p.count.Add(-1)
		p.conns.CompareAndDelete(conn.id, conn)
		return ErrTooManyConnections
	}

	return nil
}

// Remove 移除连接，只有 conn 仍是池中登记的那一个时才移除
func (p *ConnectionPool) Remove(conn *Connection) bool {
	if p.conns.CompareAndDelete(conn.id, conn) {
		p.count.Add(-1)
		return true
	}
	return false
}

// Get 获取连接
func (p *ConnectionPool) Get(id string) (*Connection, bool) {
	value, ok := p.conns.Load(id)
	if !ok {
		return nil, false
	}
	conn, ok := value.(*Connection)
	return conn, ok
}

// Count 连接数
func (p *ConnectionPool) Count() int {
	return int(p.count.Load())
}

// Range 遍历所有连接
func (p *ConnectionPool) Range(f func(*Connection) bool) {
	p.conns.Range(func(_, value any) bool {
		conn, ok := value.(*Connection)
		if !ok {
			return true
		}
		return f(conn)
	})
}

// Snapshot 所有连接的快照
func (p *ConnectionPool) Snapshot() []*Connection {
	conns := make([]*Connection, 0, max(p.Count(), 0))
	p.Range(func(c *Connection) bool {
		conns = append(conns, c)
		return true
	})
	return conns
}
