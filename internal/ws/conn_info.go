package ws

import (
	"time"

	"conversation-service/internal/models"
)

// ConnInfo is the identity and transport metadata bound to a connection at handshake.
type ConnInfo struct {
	ConnID      string
	UserID      string
	Role        models.Role
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

func (i ConnInfo) identityPayload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":   i.UserID,
		"role":      i.Role,
		"device_id": i.DeviceID,
		"ip":        i.IP,
	}
}
