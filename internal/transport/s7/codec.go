// internal/transport/s7/codec.go
package s7

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/robinson/gos7"
)

type Config struct {
	Host           string
	Port           int
	Rack           int
	Slot           int
	ConnectTimeout time.Duration
	Timeout        time.Duration
}

// Codec reads and writes data blocks through one ISO-on-TCP session.
// The gos7 client is not safe for concurrent use.
type Codec struct {
	mu      sync.Mutex
	handler *gos7.TCPClientHandler
	client  gos7.Client
	cfg     Config
}

func New(cfg Config) *Codec {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	h := gos7.NewTCPClientHandler(addr, cfg.Rack, cfg.Slot)
	h.Timeout = cfg.Timeout
	h.IdleTimeout = 0

	return &Codec{
		handler: h,
		client:  gos7.NewClient(h),
		cfg:     cfg,
	}
}

func (c *Codec) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cfg.ConnectTimeout > 0 {
		c.handler.Timeout = c.cfg.ConnectTimeout
		defer func() { c.handler.Timeout = c.cfg.Timeout }()
	}
	return c.handler.Connect()
}

func (c *Codec) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handler.Close()
}

func (c *Codec) ReadArea(db, offset, size int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	buf := make([]byte, size)
	if err := c.client.AGReadDB(db, offset, size, buf); err != nil {
		return nil, fmt.Errorf("s7: read DB%d.%d+%d: %w", db, offset, size, err)
	}
	return buf, nil
}

func (c *Codec) WriteArea(db, offset int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.client.AGWriteDB(db, offset, len(data), data); err != nil {
		return fmt.Errorf("s7: write DB%d.%d+%d: %w", db, offset, len(data), err)
	}
	return nil
}
