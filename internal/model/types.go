package model

import "time"

// Instance connection status.
const (
	StatusDisconnected = "disconnected"
	StatusConnecting   = "connecting"
	StatusConnected    = "connected"
	StatusBanned       = "banned"
)

// Warming phase of an instance.
const (
	PhaseManual      = "manual"
	PhaseAutoWarming = "auto_warming"
	PhaseSending     = "sending"
)

// Provider selects how messages leave an instance.
const (
	ProviderWPP       = "whatsapp"  // hosted gateway, wppconnect server
	ProviderBaileys   = "baileys"   // hosted gateway, Evolution server
	ProviderWhatsmeow = "whatsmeow" // local device managed by internal/wa
)

// Schedule entry status.
const (
	SchedulePending    = "pending"
	ScheduleInProgress = "in_progress"
	ScheduleCompleted  = "completed"
	ScheduleSkipped    = "skipped"
)

// Conversation status.
const (
	ConversationPending    = "pending"
	ConversationInProgress = "in_progress"
	ConversationCompleted  = "completed"
	ConversationFailed     = "failed"
)

// Message direction.
const (
	DirectionSent     = "sent"
	DirectionReceived = "received"
)

// Message types.
const (
	TypeText     = "text"
	TypeImage    = "image"
	TypeAudio    = "audio"
	TypeSticker  = "sticker"
	TypeVideo    = "video"
	TypeLocation = "location"
	TypeContact  = "contact"
)

// Attendance status.
const (
	AttendanceWaiting    = "waiting"
	AttendanceInProgress = "in_progress"
	AttendanceClosed     = "closed"
)

// WarmingDays is the length of the warming program.
const WarmingDays = 8

// Instance is a WhatsApp line managed by the system.
type Instance struct {
	ID          string    `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Phone       string    `json:"phone" db:"phone"`
	DeviceToken string    `json:"device_token,omitempty" db:"device_token"`
	Provider    string    `json:"provider" db:"provider"`
	Status      string    `json:"status" db:"status"`
	Phase       string    `json:"phase" db:"phase"`
	CurrentDay  int       `json:"current_day" db:"current_day"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// ScheduleEntry holds pacing parameters and progress for one warming day.
type ScheduleEntry struct {
	ID                 string    `json:"id" db:"id"`
	InstanceID         string    `json:"instance_id" db:"instance_id"`
	DayNumber          int       `json:"day_number" db:"day_number"`
	MaxConversations   int       `json:"max_conversations" db:"max_conversations"`
	MinIntervalMinutes int       `json:"min_interval_minutes" db:"min_interval_minutes"`
	ConversationsDone  int       `json:"conversations_done" db:"conversations_done"`
	MessagesDone       int       `json:"messages_done" db:"messages_done"`
	Status             string    `json:"status" db:"status"`
	CreatedAt          time.Time `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time `json:"updated_at" db:"updated_at"`
}

// Contact is a synthetic-conversation partner.
type Contact struct {
	ID        string    `json:"id" db:"id"`
	Phone     string    `json:"phone" db:"phone"`
	Name      string    `json:"name" db:"name"`
	IsBot     bool      `json:"is_bot" db:"is_bot"`
	Category  string    `json:"category" db:"category"`
	Active    bool      `json:"active" db:"active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Conversation is one simulated exchange with a contact.
type Conversation struct {
	ID            string     `json:"id" db:"id"`
	InstanceID    string     `json:"instance_id" db:"instance_id"`
	ContactID     string     `json:"contact_id" db:"contact_id"`
	Topic         string     `json:"topic" db:"topic"`
	MessagesCount int        `json:"messages_count" db:"messages_count"`
	Status        string     `json:"status" db:"status"`
	StartedAt     *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
}

// Message is one turn within a conversation. Rows are append-only.
type Message struct {
	ID             string    `json:"id" db:"id"`
	ConversationID string    `json:"conversation_id" db:"conversation_id"`
	Direction      string    `json:"direction" db:"direction"`
	Type           string    `json:"type" db:"type"`
	Content        string    `json:"content" db:"content"`
	Delivered      bool      `json:"delivered" db:"delivered"`
	ReadByContact  bool      `json:"read_by_contact" db:"read_by_contact"`
	SentAt         time.Time `json:"sent_at" db:"sent_at"`
}

// Attendance is a human-escalation session.
type Attendance struct {
	ID            string     `json:"id" db:"id"`
	Protocol      string     `json:"protocol" db:"protocol"`
	InstanceID    string     `json:"instance_id" db:"instance_id"`
	BotID         string     `json:"bot_id,omitempty" db:"bot_id"`
	Phone         string     `json:"phone" db:"phone"`
	ContactName   string     `json:"contact_name,omitempty" db:"contact_name"`
	Title         string     `json:"title" db:"title"`
	Subject       string     `json:"subject" db:"subject"`
	Context       string     `json:"context" db:"context"`
	Status        string     `json:"status" db:"status"`
	AttendantName *string    `json:"attendant_name" db:"attendant_name"`
	ClosedAt      *time.Time `json:"closed_at" db:"closed_at"`
	ClosedBy      *string    `json:"closed_by" db:"closed_by"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

// IsOpen reports whether the attendance still owns the customer's conversation.
func (a Attendance) IsOpen() bool {
	return a.Status == AttendanceWaiting || a.Status == AttendanceInProgress
}

// AttendanceMessage is a transcript entry of an attendance.
type AttendanceMessage struct {
	ID           string    `json:"id" db:"id"`
	AttendanceID string    `json:"attendance_id" db:"attendance_id"`
	Direction    string    `json:"direction" db:"direction"`
	Content      string    `json:"content" db:"content"`
	SenderName   string    `json:"sender_name,omitempty" db:"sender_name"`
	SentAt       time.Time `json:"sent_at" db:"sent_at"`
}

// Attendant is a registered human operator who takes over attendances.
type Attendant struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Sector    string    `json:"sector" db:"sector"`
	Email     string    `json:"email,omitempty" db:"email"`
	Active    bool      `json:"active" db:"active"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Bot is an AI auto-reply configuration. An empty InstanceID marks the default bot.
type Bot struct {
	ID              string    `json:"id" db:"id"`
	Name            string    `json:"name" db:"name"`
	InstanceID      string    `json:"instance_id,omitempty" db:"instance_id"`
	SystemPrompt    string    `json:"system_prompt" db:"system_prompt"`
	Model           string    `json:"model" db:"model"`
	Temperature     float64   `json:"temperature" db:"temperature"`
	MaxTokens       int       `json:"max_tokens" db:"max_tokens"`
	Active          bool      `json:"active" db:"active"`
	ReplyDelay      int       `json:"reply_delay" db:"reply_delay"` // seconds
	ContextMessages int       `json:"context_messages" db:"context_messages"`
	ReplyGroups     bool      `json:"reply_groups" db:"reply_groups"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// DailyMetric holds per-day counters of an instance.
type DailyMetric struct {
	InstanceID       string `json:"instance_id" db:"instance_id"`
	Date             string `json:"date" db:"date"` // YYYY-MM-DD
	MessagesSent     int    `json:"messages_sent" db:"messages_sent"`
	MessagesReceived int    `json:"messages_received" db:"messages_received"`
	ResponsesCount   int    `json:"responses_count" db:"responses_count"`
	BlocksCount      int    `json:"blocks_count" db:"blocks_count"`
	ReportsCount     int    `json:"reports_count" db:"reports_count"`
	IgnoredCount     int    `json:"ignored_count" db:"ignored_count"`
}

// InboundMessage is the canonical form of any provider's inbound webhook.
type InboundMessage struct {
	From        string `json:"from"`
	Message     string `json:"message"`
	Type        string `json:"type"`
	DeviceToken string `json:"device_token,omitempty"`
	MessageID   string `json:"message_id,omitempty"`
	IsFromMe    bool   `json:"is_from_me"`
	IsGroup     bool   `json:"is_group"`
}

// Turn authors of a generated conversation.
const (
	AuthorMe      = "me"
	AuthorContact = "contact"
)

// Turn is one generated message stub.
type Turn struct {
	Author  string `json:"author"`
	Kind    string `json:"kind"` // text|audio|image|sticker
	Content string `json:"content"`
}

// GeneratedConversation is the output of the conversation generator.
type GeneratedConversation struct {
	Topic string `json:"topic"`
	Turns []Turn `json:"turns"`
}
