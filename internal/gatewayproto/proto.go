// Package gatewayproto defines the JSON wire protocol exchanged between the
// gatelink backend and on-premises facility gateways over a WebSocket
// connection.
package gatewayproto

import (
	"encoding/json"
	"errors"
	"strings"
)

// Frame type discriminators carried in the "type" field.
const (
	TypeAuth          = "AUTH"
	TypeAuthOK        = "AUTH_OK"
	TypePing          = "PING"
	TypePong          = "PONG"
	TypeProxyRequest  = "PROXY_REQUEST"
	TypeProxyResponse = "PROXY_RESPONSE"
	TypeError         = "ERROR"
)

// Error codes sent in an ERROR frame.
const (
	CodeAuthFailed       = "AUTH_FAILED"
	CodeAuthForbidden    = "AUTH_FORBIDDEN"
	CodeAuthBadRequest   = "AUTH_BAD_REQUEST"
	CodeNotAuthenticated = "NOT_AUTHENTICATED"
	CodeUnknownType      = "UNKNOWN_TYPE"
)

// WebSocket close codes distinguishing forced close reasons.
const (
	CloseReplaced         = 4000
	CloseHeartbeatTimeout = 4001
)

// ErrMissingType is returned when an inbound frame has no type discriminator.
var ErrMissingType = errors.New("frame missing type")

// Kind identifies a recognized inbound frame after decoding.
type Kind int

// Inbound frame kinds. KindUnknown covers any type the backend does not
// recognize so the router can answer with an UNKNOWN_TYPE error instead of
// dropping the frame silently.
const (
	KindUnknown Kind = iota
	KindAuth
	KindPong
	KindProxyRequest
)

// Auth is the first frame a gateway must send on a new connection.
type Auth struct {
	Token      string `json:"token"`
	FacilityID string `json:"facilityId"`
}

// ProxyRequest asks the backend to perform an internal API call on the
// gateway's behalf and return the result as a [ProxyResponse].
type ProxyRequest struct {
	ID      string            `json:"id"`
	Method  string            `json:"method"`
	Path    string            `json:"path"`
	Headers map[string]string `json:"headers,omitempty"`
	Query   map[string]string `json:"query,omitempty"`
	Body    json.RawMessage   `json:"body,omitempty"`
}

// Inbound is the decoded form of one gateway frame. Exactly one of the
// payload pointers is set for recognized kinds; RawType preserves the wire
// discriminator for logging and UNKNOWN_TYPE responses.
type Inbound struct {
	Kind    Kind
	RawType string
	Auth    *Auth
	Proxy   *ProxyRequest
}

// inboundEnvelope is the superset of all inbound frame fields; decoded once
// at the router boundary.
type inboundEnvelope struct {
	Type string `json:"type"`
	Auth
	ProxyRequest
}

// DecodeInbound parses one raw frame into its tagged form. A JSON error or a
// missing type discriminator is a protocol violation reported to the caller;
// an unrecognized type is not an error and decodes to [KindUnknown].
func DecodeInbound(data []byte) (Inbound, error) {
	var env inboundEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Inbound{}, err
	}
	if strings.TrimSpace(env.Type) == "" {
		return Inbound{}, ErrMissingType
	}

	in := Inbound{RawType: env.Type}
	switch env.Type {
	case TypeAuth:
		in.Kind = KindAuth
		auth := env.Auth
		in.Auth = &auth
	case TypePong:
		in.Kind = KindPong
	case TypeProxyRequest:
		in.Kind = KindProxyRequest
		req := env.ProxyRequest
		in.Proxy = &req
	default:
		in.Kind = KindUnknown
	}
	return in, nil
}

// AuthOK acknowledges a successful AUTH with the bound facility id.
type AuthOK struct {
	Type       string `json:"type"`
	FacilityID string `json:"facilityId"`
}

// ErrorFrame reports a protocol or authentication failure to the gateway.
type ErrorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Ping is the liveness probe sent by the heartbeat monitor.
type Ping struct {
	Type string `json:"type"`
}

// ProxyResponse is the backend's reply to a [ProxyRequest], correlated by ID.
type ProxyResponse struct {
	Type    string            `json:"type"`
	ID      string            `json:"id"`
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    json.RawMessage   `json:"body,omitempty"`
}

// NewAuthOK builds an AUTH_OK frame for facilityID.
func NewAuthOK(facilityID string) AuthOK {
	return AuthOK{Type: TypeAuthOK, FacilityID: facilityID}
}

// NewError builds an ERROR frame with the given code and message.
func NewError(code, message string) ErrorFrame {
	return ErrorFrame{Type: TypeError, Code: code, Message: message}
}

// NewPing builds a PING frame.
func NewPing() Ping {
	return Ping{Type: TypePing}
}

// NewProxyResponse builds a PROXY_RESPONSE frame correlated to id.
func NewProxyResponse(id string, status int, headers map[string]string, body []byte) ProxyResponse {
	return ProxyResponse{
		Type:    TypeProxyResponse,
		ID:      id,
		Status:  status,
		Headers: headers,
		Body:    BodyFromBytes(body),
	}
}

// BodyFromBytes adapts a downstream response body for JSON transport. Valid
// JSON passes through untouched; anything else is carried as a JSON string
// so the frame always marshals.
func BodyFromBytes(b []byte) json.RawMessage {
	if len(b) == 0 {
		return nil
	}
	if json.Valid(b) {
		return json.RawMessage(b)
	}
	quoted, err := json.Marshal(string(b))
	if err != nil {
		return nil
	}
	return json.RawMessage(quoted)
}
