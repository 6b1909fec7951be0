package protocol

import "fmt"

// ProtocolError reports a frame that violates the exchange rules: bad
// framing, an unclassifiable message or a message out of sequence.
type ProtocolError struct {
	Reason string
	Raw    []byte
}

func (e *ProtocolError) Error() string {
	if len(e.Raw) == 0 {
		return "protocol error: " + e.Reason
	}
	raw := e.Raw
	if len(raw) > 256 {
		raw = raw[:256]
	}
	return fmt.Sprintf("protocol error: %s (payload %q)", e.Reason, raw)
}

// Errorf builds a ProtocolError for raw with a formatted reason.
func Errorf(raw []byte, format string, args ...any) *ProtocolError {
	return &ProtocolError{Reason: fmt.Sprintf(format, args...), Raw: raw}
}
