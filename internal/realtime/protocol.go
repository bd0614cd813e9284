package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// Server to client events.
const (
	EventAuthenticated       = "authenticated"
	EventAuthenticationError = "authentication_error"
	EventNotification        = "notification"
	EventViolationDetected   = "violation_detected"
	EventCameraStatusUpdate  = "camera_status_update"
	EventSystemStatusUpdate  = "system_status_update"
	EventMaintenanceMode     = "maintenance_mode"
	EventPong                = "pong"
	EventError               = "error"
)

// Client to server events.
const (
	CmdAuthenticate      = "authenticate"
	CmdSubscribeCamera   = "subscribe:camera"
	CmdUnsubscribeCamera = "unsubscribe:camera"
	CmdPing              = "ping"
)

// topicRooms are the identity-free rooms a client may join by name.
var topicRooms = map[string]string{
	"subscribe:violations":      RoomViolations,
	"unsubscribe:violations":    RoomViolations,
	"subscribe:notifications":   RoomNotifications,
	"unsubscribe:notifications": RoomNotifications,
	"subscribe:system":          RoomSystem,
	"unsubscribe:system":        RoomSystem,
}

// Envelope is the wire frame in both directions.
type Envelope struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type inbound struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// HandleMessage dispatches one client frame. Protocol mistakes are answered
// with an error event; only a missing or closed connection is returned.
func (r *Registry) HandleMessage(ctx context.Context, id string, raw []byte) error {
	conn, ok := r.Lookup(id)
	if !ok {
		return ErrConnectionNotFound
	}

	var msg inbound
	if err := json.Unmarshal(raw, &msg); err != nil || strings.TrimSpace(msg.Event) == "" {
		return r.reply(conn, EventError, map[string]any{"message": "malformed message"})
	}

	switch event := strings.TrimSpace(msg.Event); event {
	case CmdAuthenticate:
		var body struct {
			Token string `json:"token"`
		}
		_ = json.Unmarshal(msg.Data, &body)
		_, err := r.Authenticate(ctx, id, body.Token)
		if errors.Is(err, ErrConnectionNotFound) || errors.Is(err, ErrConnectionClosed) {
			return err
		}
		return nil

	case CmdSubscribeCamera, CmdUnsubscribeCamera:
		cameraID := parseCameraID(msg.Data)
		if cameraID == "" {
			return r.reply(conn, EventError, map[string]any{"message": "camera id required"})
		}
		if event == CmdSubscribeCamera {
			return r.Subscribe(id, CameraRoom(cameraID))
		}
		return r.Unsubscribe(id, CameraRoom(cameraID))

	case CmdPing:
		return r.reply(conn, EventPong, map[string]any{"timestamp": r.now().UnixMilli()})

	default:
		room, ok := topicRooms[event]
		if !ok {
			return r.reply(conn, EventError, map[string]any{"message": "unknown event " + event})
		}
		if strings.HasPrefix(event, "subscribe:") {
			return r.Subscribe(id, room)
		}
		return r.Unsubscribe(id, room)
	}
}

func (r *Registry) reply(conn *Connection, event string, payload any) error {
	if r.sendTo(conn, event, payload) == closed {
		return ErrConnectionClosed
	}
	return nil
}

// parseCameraID accepts a bare string or number, or an object carrying
// "id" or "camera_id".
func parseCameraID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	var obj struct {
		ID       json.RawMessage `json:"id"`
		CameraID json.RawMessage `json:"camera_id"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ""
	}
	if id := parseCameraID(obj.ID); id != "" {
		return id
	}
	return parseCameraID(obj.CameraID)
}
