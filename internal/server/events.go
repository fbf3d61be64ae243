package server

import "encoding/json"

// WSMessage is the envelope for every control frame in both directions:
// {"event": "...", "data": {...}}. Audio travels separately as binary
// frames.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func newMessage(event string, payload any) (WSMessage, error) {
	if payload == nil {
		return WSMessage{Event: event}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return WSMessage{}, err
	}
	return WSMessage{Event: event, Data: data}, nil
}

// JoinRequest is sent by a student ("join") or the console ("admin_join").
type JoinRequest struct {
	Code  string `json:"code"`
	Group int    `json:"group,omitempty"`
}

// JoinedEvent acknowledges a successful join. Status is "recording" when
// the session timer is live, otherwise "waiting".
type JoinedEvent struct {
	Code   string `json:"code"`
	Group  int    `json:"group,omitempty"`
	Status string `json:"status"`
}

// ErrorEvent rejects a join or reports a protocol problem.
type ErrorEvent struct {
	Message string `json:"message"`
}

// StudentPresenceEvent notifies the session room that a student arrived or
// left a group.
type StudentPresenceEvent struct {
	Group int `json:"group"`
}

// RecordControlEvent tells students to start or keep recording.
type RecordControlEvent struct {
	Interval  int64 `json:"interval"`
	StartTime int64 `json:"startTime"`
}
