// Package events keeps a short in-memory log of webhook hits and fans new
// entries out to live subscribers and NATS.
package events

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Webhook kinds.
const (
	TypeMessage = "message"
	TypeStatus  = "status"
	TypeConnect = "connect"
	TypeQRCode  = "qrcode"
)

const (
	defaultCapacity = 100
	previewLimit    = 80
	rawPreviewLimit = 60
	subscriberBuf   = 16
	recentWindow    = 5 * time.Minute
)

// Entry is one recorded webhook hit.
type Entry struct {
	ID        int64     `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	From      string    `json:"from,omitempty"`
	Preview   string    `json:"preview,omitempty"`
	IP        string    `json:"ip,omitempty"`
	Success   bool      `json:"success"`
}

// Stats summarises the retained entries.
type Stats struct {
	Total    int            `json:"total"`
	Last5Min int            `json:"last5min"`
	ByType   map[string]int `json:"byType"`
}

// Publisher is the subset of *nats.Conn used to mirror entries.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Log is a bounded, newest-first webhook activity log.
type Log struct {
	logger  *zap.Logger
	pub     Publisher
	subject string
	now     func() time.Time

	mu      sync.Mutex
	entries []Entry // newest first
	counter int64
	limit   int
	subs    map[int]chan Entry
	nextSub int
}

// NewLog builds a log. pub may be nil to disable NATS mirroring.
func NewLog(pub Publisher, subject string, logger *zap.Logger) *Log {
	return &Log{
		logger:  logger.Named("events"),
		pub:     pub,
		subject: subject,
		now:     time.Now,
		limit:   defaultCapacity,
		subs:    make(map[int]chan Entry),
	}
}

// Record stores a webhook hit. Message webhooks without a usable text
// preview are skipped and reported as not recorded.
func (l *Log) Record(typ string, body []byte, ip string, success bool) (Entry, bool) {
	var payload map[string]any
	_ = json.Unmarshal(body, &payload)

	preview := extractPreview(typ, payload, body)
	if typ == TypeMessage && preview == "" {
		l.logger.Debug("empty message webhook not recorded")
		return Entry{}, false
	}

	l.mu.Lock()
	l.counter++
	e := Entry{
		ID:        l.counter,
		Type:      typ,
		Timestamp: l.now().UTC(),
		From:      extractFrom(payload),
		Preview:   preview,
		IP:        ip,
		Success:   success,
	}
	l.entries = append([]Entry{e}, l.entries...)
	if len(l.entries) > l.limit {
		l.entries = l.entries[:l.limit]
	}
	for _, ch := range l.subs {
		select {
		case ch <- e:
		default:
			// slow subscriber, entry dropped for it
		}
	}
	l.mu.Unlock()

	l.publish(e)
	return e, true
}

func (l *Log) publish(e Entry) {
	if l.pub == nil {
		return
	}
	data, err := json.Marshal(e)
	if err != nil {
		l.logger.Error("encode entry", zap.Error(err))
		return
	}
	if err := l.pub.Publish(l.subject, data); err != nil {
		l.logger.Warn("nats publish failed", zap.String("subject", l.subject), zap.Error(err))
	}
}

// Entries returns up to limit entries, newest first.
func (l *Log) Entries(limit int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limit <= 0 || limit > len(l.entries) {
		limit = len(l.entries)
	}
	return append([]Entry(nil), l.entries[:limit]...)
}

func (l *Log) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	st := Stats{Total: len(l.entries), ByType: make(map[string]int)}
	for _, e := range l.entries {
		if now.Sub(e.Timestamp) < recentWindow {
			st.Last5Min++
		}
		st.ByType[e.Type]++
	}
	return st
}

// Clear drops every entry and restarts ids.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
	l.counter = 0
}

// Subscribe returns a channel receiving new entries and a function that
// unsubscribes and closes it.
func (l *Log) Subscribe() (<-chan Entry, func()) {
	ch := make(chan Entry, subscriberBuf)
	l.mu.Lock()
	id := l.nextSub
	l.nextSub++
	l.subs[id] = ch
	l.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.subs, id)
			l.mu.Unlock()
			close(ch)
		})
	}
}

func extractFrom(p map[string]any) string {
	if p == nil {
		return ""
	}
	if s := str(p, "response", "from"); s != "" {
		return strings.Replace(s, "@c.us", "", 1)
	}
	if s := str(p, "data", "key", "remoteJid"); s != "" {
		return strings.Replace(s, "@s.whatsapp.net", "", 1)
	}
	if msgs, ok := p["messages"].([]any); ok && len(msgs) > 0 {
		if m, ok := msgs[0].(map[string]any); ok {
			if s := str(m, "from"); s != "" {
				return s
			}
		}
	}
	return firstNonEmpty(str(p, "from"), str(p, "sender"), str(p, "number"))
}

func extractPreview(typ string, p map[string]any, raw []byte) string {
	switch typ {
	case TypeMessage:
		var text string
		switch {
		case str(p, "response", "body") != "":
			text = str(p, "response", "body")
		case str(p, "data", "message", "conversation") != "":
			text = str(p, "data", "message", "conversation")
		case str(p, "data", "message", "extendedTextMessage", "text") != "":
			text = str(p, "data", "message", "extendedTextMessage", "text")
		default:
			if msgs, ok := p["messages"].([]any); ok && len(msgs) > 0 {
				if m, ok := msgs[0].(map[string]any); ok {
					text = str(m, "text", "body")
				}
			}
			if text == "" {
				text = firstNonEmpty(str(p, "message"), str(p, "body"), str(p, "text"))
			}
		}
		text = strings.TrimSpace(text)
		if text == "" || text == "—" || text == "-" || len([]rune(text)) < 2 {
			return ""
		}
		return truncate(text, previewLimit)
	case TypeStatus:
		if s := firstNonEmpty(str(p, "status"), str(p, "state"), str(p, "response", "state")); s != "" {
			return s
		}
		return truncate(string(raw), rawPreviewLimit)
	case TypeConnect:
		switch {
		case truthy(p["connected"]):
			return "Conectado"
		case truthy(p["disconnected"]):
			return "Desconectado"
		}
		return truncate(string(raw), rawPreviewLimit)
	case TypeQRCode:
		if str(p, "qrcode") != "" || str(p, "response", "qrcode") != "" {
			return "QR Code recebido"
		}
		return "Evento QR Code"
	default:
		return truncate(string(raw), rawPreviewLimit)
	}
}

// str walks nested objects and returns the string at path, or "".
func str(m map[string]any, path ...string) string {
	var cur any = m
	for _, k := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return ""
		}
		cur = obj[k]
	}
	s, _ := cur.(string)
	return s
}

func truthy(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		return x != ""
	case float64:
		return x != 0
	case nil:
		return false
	}
	return true
}

func truncate(s string, n int) string {
	rs := []rune(s)
	if len(rs) <= n {
		return s
	}
	return string(rs[:n])
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
