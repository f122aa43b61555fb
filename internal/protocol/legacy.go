package protocol

import (
	"bytes"
	"strings"

	"github.com/bytedance/sonic"
)

// IsLegacyFrame sniffs the first byte of a frame to pick the wire form, per
// spec.md §9's open question: a printable '{' means the legacy newline/CRLF
// JSON protocol, anything else (the binary 1.0 version double always starts
// with byte 0x3F) means the OTF binary framing in codec.go.
func IsLegacyFrame(data []byte) bool {
	return len(data) > 0 && data[0] == '{'
}

// legacyEnvelope is the JSON object shape of the text-mode protocol: a
// "command" discriminator plus command-specific fields.
type legacyEnvelope struct {
	Command   string `json:"command"`
	ModelName string `json:"model-name"`
}

// DecodeLegacy parses a CRLF-terminated JSON command frame. Only "unload"
// is a fully specified legacy command (spec.md §6); any other command name
// is returned as the "unknown" tag, matching the binary path's handling of
// an unrecognized command code.
func DecodeLegacy(data []byte) (string, any, *Error) {
	trimmed := bytes.TrimRight(data, "\r\n")
	if len(trimmed) == 0 {
		return "", nil, NewError(InvalidMessage, "empty legacy frame")
	}

	var env legacyEnvelope
	if err := sonic.Unmarshal(trimmed, &env); err != nil {
		return "", nil, NewError(InvalidMessage, "JSON message format error: %v", err)
	}
	if env.Command == "" {
		return "", nil, NewError(InvalidCommand, "Invalid message received")
	}

	switch strings.ToLower(env.Command) {
	case "unload":
		return "unload", &UnloadRequest{ModelName: env.ModelName}, nil
	default:
		return "unknown", env.Command, nil
	}
}

// legacyResponse is the JSON shape of a text-mode response.
type legacyResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// EncodeLegacyResponse renders a CRLF-terminated JSON response, the legacy
// counterpart to EncodeGeneralResponse.
func EncodeLegacyResponse(code int, message string) []byte {
	body, err := sonic.Marshal(legacyResponse{Code: code, Message: message})
	if err != nil {
		body = []byte(`{"code":-1,"message":"internal encoding error"}`)
	}
	return append(body, '\r', '\n')
}
