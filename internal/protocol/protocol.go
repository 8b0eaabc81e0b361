// Package protocol implements the bridge's attach handshake and frame classification.
//
// Frames are opaque text. Two control tokens are distinguished literals: the
// target sends AttachToken when it is ready to receive the bootstrap, and the
// host sends the bootstrap as a single frame starting with BootstrapPrefix. All
// other traffic is JSON text. A decoded JSON object carrying a truthy OpenKey,
// CloseKey or ErrorKey field is a protocol marker rather than a payload.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

const (
	// AttachToken is sent by the target, as a bare literal, when it wants a session.
	AttachToken = "attach:agent"

	// BootstrapPrefix starts the frame that carries the bootstrap script.
	BootstrapPrefix = "eval:"

	// OpenKey marks an open notification. It is acknowledged and dropped.
	OpenKey = "$open"

	// CloseKey marks a graceful, peer-initiated end of the session.
	CloseKey = "$close"

	// ErrorKey marks a faulted, peer-initiated end of the session.
	ErrorKey = "$error"
)

var (
	// ErrMalformedFrame is wrapped by the error of a PeerErrored signal produced
	// for a frame that is neither a control token nor valid JSON.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrPeerFault is wrapped by the error of a PeerErrored signal produced for
	// an ErrorKey marker.
	ErrPeerFault = errors.New("peer reported error")
)

// SignalKind identifies the protocol meaning of a frame.
type SignalKind int

const (
	// SignalIgnored frames have no effect.
	SignalIgnored SignalKind = iota

	// SignalAttachRequested means the target is ready for a session.
	SignalAttachRequested

	// SignalPeerClosed means the target ended the session gracefully.
	SignalPeerClosed

	// SignalPeerErrored means the target reported a fault or sent an undecodable frame.
	SignalPeerErrored

	// SignalPayload carries an application message for the session's listeners.
	SignalPayload
)

// String returns a string representation of the signal kind.
func (k SignalKind) String() string {
	switch k {
	case SignalIgnored:
		return "ignored"
	case SignalAttachRequested:
		return "attach_requested"
	case SignalPeerClosed:
		return "peer_closed"
	case SignalPeerErrored:
		return "peer_errored"
	case SignalPayload:
		return "payload"
	default:
		return "unknown"
	}
}

// Signal is the classification of one frame.
type Signal struct {
	Kind SignalKind

	// Payload is the decoded JSON value for SignalPayload.
	Payload any

	// Err describes the cause for SignalPeerErrored.
	Err error
}

// Classify maps a single frame to its signal, independent of negotiation state.
func Classify(frame string) Signal {
	if frame == AttachToken {
		return Signal{Kind: SignalAttachRequested}
	}

	var value any
	if err := json.Unmarshal([]byte(frame), &value); err != nil {
		return Signal{
			Kind: SignalPeerErrored,
			Err:  fmt.Errorf("%w: %v", ErrMalformedFrame, err),
		}
	}

	if obj, ok := value.(map[string]any); ok {
		if v, ok := obj[ErrorKey]; ok && truthy(v) {
			return Signal{Kind: SignalPeerErrored, Err: fmt.Errorf("%w: %v", ErrPeerFault, v)}
		}
		if v, ok := obj[CloseKey]; ok && truthy(v) {
			return Signal{Kind: SignalPeerClosed}
		}
		if v, ok := obj[OpenKey]; ok && truthy(v) {
			return Signal{Kind: SignalIgnored}
		}
	}

	return Signal{Kind: SignalPayload, Payload: value}
}

// truthy follows the JSON sender's notion of truth: false, 0, NaN, "" and null
// are false; everything else, including empty objects and arrays, is true.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case float64:
		return t != 0 && !math.IsNaN(t)
	case string:
		return t != ""
	default:
		return true
	}
}

// EncodePayload serializes an application value into a frame.
func EncodePayload(data any) (string, error) {
	b, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to encode payload: %w", err)
	}
	return string(b), nil
}

// BootstrapFrame returns the frame that delivers script to the target.
func BootstrapFrame(script string) string {
	return BootstrapPrefix + script
}

// IsBootstrapFrame reports whether frame is a bootstrap frame and returns the script.
func IsBootstrapFrame(frame string) (string, bool) {
	if len(frame) < len(BootstrapPrefix) || frame[:len(BootstrapPrefix)] != BootstrapPrefix {
		return "", false
	}
	return frame[len(BootstrapPrefix):], true
}

// MarkerFrame returns the JSON frame {"<key>":true}, as sent by a target to
// signal OpenKey, CloseKey or ErrorKey.
func MarkerFrame(key string) string {
	return `{"` + key + `":true}`
}
