package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
)

type entry struct {
	value   []byte
	expires time.Time
}

// Memory is an in-process Store used when Redis is not configured.
type Memory struct {
	m   *xsync.Map[string, entry]
	now func() time.Time
}

func NewMemory() *Memory {
	return &Memory{m: xsync.NewMap[string, entry](), now: time.Now}
}

func (c *Memory) load(key string) (entry, bool) {
	e, ok := c.m.Load(key)
	if !ok {
		return entry{}, false
	}
	if !e.expires.IsZero() && !c.now().Before(e.expires) {
		c.m.Delete(key)
		return entry{}, false
	}
	return e, true
}

func (c *Memory) store(key string, value []byte, ttl time.Duration) {
	e := entry{value: value}
	if ttl > 0 {
		e.expires = c.now().Add(ttl)
	}
	c.m.Store(key, e)
}

func (c *Memory) GetJSON(_ context.Context, key string, dst any) (bool, error) {
	e, ok := c.load(key)
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(e.value, dst)
}

func (c *Memory) SetJSON(_ context.Context, key string, v any, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.store(key, raw, ttl)
	return nil
}

func (c *Memory) AlreadySent(_ context.Context, key string) bool {
	_, ok := c.load(key)
	return ok
}

func (c *Memory) Record(_ context.Context, key string, ttl time.Duration) {
	c.store(key, []byte("1"), ttl)
}

func (c *Memory) Clear(_ context.Context, key string) {
	c.m.Delete(key)
}
