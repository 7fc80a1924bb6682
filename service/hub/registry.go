package hub

import (
	"sync"
)

// Registry 组成员索引：group -> connID -> client
type Registry struct {
	mu      sync.RWMutex
	byGroup map[string]map[string]*Client
	byConn  map[string]*Client
}

func NewRegistry() *Registry {
	return &Registry{
		byGroup: make(map[string]map[string]*Client),
		byConn:  make(map[string]*Client),
	}
}

func (r *Registry) add(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byConn[c.ConnID] = c
}

// remove 连接断开：从所有组移除
func (r *Registry) remove(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, g := range c.Groups() {
		if m := r.byGroup[g]; m != nil {
			delete(m, c.ConnID)
			if len(m) == 0 {
				delete(r.byGroup, g)
			}
		}
	}
	delete(r.byConn, c.ConnID)
}

func (r *Registry) join(c *Client, group string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m := r.byGroup[group]
	if m == nil {
		m = make(map[string]*Client)
		r.byGroup[group] = m
	}
	m[c.ConnID] = c
	c.addGroup(group)
}

func (r *Registry) leave(c *Client, group string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m := r.byGroup[group]; m != nil {
		delete(m, c.ConnID)
		if len(m) == 0 {
			delete(r.byGroup, group)
		}
	}
	c.removeGroup(group)
}

func (r *Registry) listByGroup(group string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m := r.byGroup[group]
	if len(m) == 0 {
		return nil
	}
	out := make([]*Client, 0, len(m))
	for _, c := range m {
		out = append(out, c)
	}
	return out
}

func (r *Registry) listAll() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.byConn))
	for _, c := range r.byConn {
		out = append(out, c)
	}
	return out
}

// Count 连接数 / 组数，health 和测试用
func (r *Registry) Count() (conns, groups int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn), len(r.byGroup)
}
