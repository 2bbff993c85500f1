package server

import (
	"sync"
	"time"
)

// Notification levels.
const (
	LevelInfo  = "info"
	LevelError = "error"
)

// Notification is a user-visible message about a finished generation.
type Notification struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
	// Block is -1 when the message is not about a particular block.
	Block int `json:"block"`
}

// Notifications is a bounded queue of messages waiting to be shown.
type Notifications struct {
	mu    sync.Mutex
	limit int
	items []Notification
}

// NewNotifications keeps at most limit pending messages, dropping the oldest.
func NewNotifications(limit int) *Notifications {
	return &Notifications{limit: limit}
}

func (n *Notifications) Add(level, message string, block int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.items = append(n.items, Notification{Time: time.Now(), Level: level, Message: message, Block: block})
	if over := len(n.items) - n.limit; over > 0 {
		n.items = append([]Notification(nil), n.items[over:]...)
	}
}

// Drain returns and forgets the pending messages.
func (n *Notifications) Drain() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	items := n.items
	n.items = nil
	if items == nil {
		items = []Notification{}
	}
	return items
}
