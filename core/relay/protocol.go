package relay

import "strings"

// Subprotocol is negotiated on the relay WebSocket.
const Subprotocol = "audio-stream"

// 控制帧类型
const (
	TypeStart        = "start"
	TypeStop         = "stop"
	TypeAck          = "ack"
	TypeError        = "error"
	TypeStatus       = "status"
	TypeFFmpegOutput = "ffmpeg-output"
)

// CloseInternalError is the close code sent when a session aborts.
const CloseInternalError = 1011

// ControlMessage client -> server
type ControlMessage struct {
	Type     string `json:"type"`
	MimeType string `json:"mimeType,omitempty"`
}

// ServerMessage server -> client
type ServerMessage struct {
	Type    string `json:"type"`
	Message string `json:"message,omitempty"`
	RTMPURL string `json:"rtmpUrl,omitempty"`
}

// Sink delivers frames to one connection.
type Sink interface {
	Send(msg ServerMessage) error
	Close(code int, reason string) error
}

// InputFormat maps a recorder mime type to the encoder's input demuxer.
func InputFormat(mimeType string) string {
	if strings.Contains(strings.ToLower(mimeType), "ogg") {
		return "ogg"
	}
	return "webm"
}

// TargetLabel is the human status shown for the configured RTMP target.
func TargetLabel(target string) string {
	if target == "" {
		return "✗ Não configurado"
	}
	return "✓ Configurado"
}
