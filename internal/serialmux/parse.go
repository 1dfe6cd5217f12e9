package serialmux

import "strings"

const (
	ResponseAck     = "ack"
	ResponseError   = "error"
	ResponseValue   = "value"
	ResponseText    = "text"
	ResponseEmpty   = "empty"
	ResponseUnknown = "unknown"
)

// ClassifyResponse inspects one line from the camera and returns a response
// type token. Camera Link cameras prefix replies inconsistently, so a leading
// prompt character ('>' or '#') is ignored.
func ClassifyResponse(line string) string {
	line = trimPrompt(line)
	if line == "" {
		return ResponseEmpty
	}
	upper := strings.ToUpper(line)
	switch {
	case upper == "OK" || upper == "ACK":
		return ResponseAck
	case upper == "?" || upper == "NAK" || strings.HasPrefix(upper, "ERR"):
		return ResponseError
	}
	if _, _, ok := ParseValueResponse(line); ok {
		return ResponseValue
	}
	if strings.IndexFunc(line, func(r rune) bool { return r < 0x20 && r != '\t' }) >= 0 {
		return ResponseUnknown
	}
	return ResponseText
}

// ParseValueResponse splits a "key=value" reply. Keys may not contain spaces.
func ParseValueResponse(line string) (key, value string, ok bool) {
	key, value, ok = strings.Cut(trimPrompt(line), "=")
	key = strings.TrimSpace(key)
	if !ok || key == "" || strings.ContainsAny(key, " \t") {
		return "", "", false
	}
	return key, strings.TrimSpace(value), true
}

func trimPrompt(line string) string {
	line = strings.TrimSpace(line)
	line = strings.TrimLeft(line, ">#")
	return strings.TrimSpace(line)
}
