package models

import (
	"time"

	"github.com/segmentio/ksuid"
)

// Defaults for a session that has never received an update.
const (
	DefaultDocument = "// Welcome to the coding interview!\n// Start coding here...\n"
	DefaultLanguage = "javascript"
)

// MessageType is the discriminator carried in every wire message.
type MessageType string

const (
	MessageTypeInit      MessageType = "init"       // server -> client, once after join
	MessageTypeUpdate    MessageType = "update"     // both directions
	MessageTypeUserCount MessageType = "user_count" // server -> client on join/leave
)

// DocumentState is the shared content of a session. Code and Language
// always travel together.
type DocumentState struct {
	Code     string `json:"code"`
	Language string `json:"language"`
}

// InitMessage is sent only to a newly joined connection.
type InitMessage struct {
	Type           MessageType `json:"type"`
	Code           string      `json:"code"`
	Language       string      `json:"language"`
	ConnectedUsers int         `json:"connected_users"`
}

// UpdateMessage is the fan-out form of an applied edit.
type UpdateMessage struct {
	Type     MessageType `json:"type"`
	Code     string      `json:"code"`
	Language string      `json:"language"`
}

// UserCountMessage announces the membership size after a join or leave.
type UserCountMessage struct {
	Type           MessageType `json:"type"`
	ConnectedUsers int         `json:"connected_users"`
}

// InboundMessage is what clients send. Fields are pointers so that a
// missing field can be told apart from an empty one.
type InboundMessage struct {
	Type     MessageType `json:"type"`
	Code     *string     `json:"code,omitempty"`
	Language *string     `json:"language,omitempty"`
}

// SessionSnapshot is a point-in-time view of a live session.
type SessionSnapshot struct {
	ID             string    `json:"id"`
	Code           string    `json:"code"`
	Language       string    `json:"language"`
	ConnectedUsers int       `json:"connected_users"`
	LastActiveAt   time.Time `json:"last_active_at"`
}

// ConnectionInfo describes one live websocket connection.
type ConnectionInfo struct {
	ID          string
	SessionID   string
	RemoteAddr  string
	ConnectedAt time.Time
}

func NewConnectionInfo(sessionID, remoteAddr string) *ConnectionInfo {
	return &ConnectionInfo{
		ID:          ksuid.New().String(),
		SessionID:   sessionID,
		RemoteAddr:  remoteAddr,
		ConnectedAt: time.Now(),
	}
}

func NewInitMessage(doc DocumentState, connectedUsers int) InitMessage {
	return InitMessage{
		Type:           MessageTypeInit,
		Code:           doc.Code,
		Language:       doc.Language,
		ConnectedUsers: connectedUsers,
	}
}

func NewUpdateMessage(doc DocumentState) UpdateMessage {
	return UpdateMessage{Type: MessageTypeUpdate, Code: doc.Code, Language: doc.Language}
}

func NewUserCountMessage(connectedUsers int) UserCountMessage {
	return UserCountMessage{Type: MessageTypeUserCount, ConnectedUsers: connectedUsers}
}
