package common

import (
	"encoding/json"
	"fmt"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message is the typed body carried by one (possibly fragmented) envelope.
// SessionID and RequestID are copied from and to the envelope by the pipeline,
// the serializers never write them into the body.
type Message struct {
	OpCode       OpCode       `json:"op_code"`
	ResponseCode ResponseCode `json:"response_code,omitempty"` // RCNone on requests

	// Operation flags as defined by the resolution protocol (authoritative, certified, ...)
	OpFlags    uint32 `json:"op_flags,omitempty"`
	Expiration uint32 `json:"expiration,omitempty"` // seconds since epoch, 0 = never

	Handle string `json:"handle,omitempty"`
	Body   []byte `json:"body,omitempty"`

	SessionID uint32 `json:"-"`
	RequestID uint32 `json:"-"`
}

// IsResponse reports whether the message is a response (carries a response code)
func (m *Message) IsResponse() bool {
	return m.ResponseCode != RCNone
}

// String returns a short description used in log lines
func (m *Message) String() string {
	if m.IsResponse() {
		return fmt.Sprintf("%s/%s session=%d request=%d handle=%q body=%dB",
			m.OpCode, m.ResponseCode, m.SessionID, m.RequestID, m.Handle, len(m.Body))
	}
	return fmt.Sprintf("%s session=%d request=%d handle=%q body=%dB",
		m.OpCode, m.SessionID, m.RequestID, m.Handle, len(m.Body))
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewResolutionRequest creates a new resolution request for handle
func NewResolutionRequest(handle string, body []byte) *Message {
	return &Message{
		OpCode: OCResolution,
		Handle: handle,
		Body:   body,
	}
}

// NewResponse creates a response to req, preserving opcode and correlation ids
func NewResponse(req *Message, rc ResponseCode, body []byte) *Message {
	return &Message{
		OpCode:       req.OpCode,
		ResponseCode: rc,
		Handle:       req.Handle,
		Body:         body,
		SessionID:    req.SessionID,
		RequestID:    req.RequestID,
	}
}

// NewErrorResponse creates an error response to req carrying msg as body
func NewErrorResponse(req *Message, rc ResponseCode, msg string) *Message {
	if rc == RCNone || rc == RCSuccess {
		rc = RCError
	}
	return NewResponse(req, rc, []byte(msg))
}

// --------------------------------------------------------------------------
// OpCode Definition
// --------------------------------------------------------------------------

// OpCode identifies the operation a message belongs to
type OpCode uint32

const (
	OCReserved          OpCode = 0
	OCResolution        OpCode = 1
	OCGetSiteInfo       OpCode = 2
	OCCreateHandle      OpCode = 100
	OCDeleteHandle      OpCode = 101
	OCAddValue          OpCode = 102
	OCRemoveValue       OpCode = 103
	OCModifyValue       OpCode = 104
	OCListHandles       OpCode = 105
	OCListNAs           OpCode = 106
	OCChallengeResponse OpCode = 200
	OCVerifyResponse    OpCode = 201
	OCSessionSetup      OpCode = 400
	OCSessionTerminate  OpCode = 401
	OCSessionExchange   OpCode = 402
)

var opCodeNames = map[OpCode]string{
	OCReserved:          "reserved",
	OCResolution:        "resolution",
	OCGetSiteInfo:       "getSiteInfo",
	OCCreateHandle:      "createHandle",
	OCDeleteHandle:      "deleteHandle",
	OCAddValue:          "addValue",
	OCRemoveValue:       "removeValue",
	OCModifyValue:       "modifyValue",
	OCListHandles:       "listHandles",
	OCListNAs:           "listNAs",
	OCChallengeResponse: "challengeResponse",
	OCVerifyResponse:    "verifyResponse",
	OCSessionSetup:      "sessionSetup",
	OCSessionTerminate:  "sessionTerminate",
	OCSessionExchange:   "sessionExchangeKey",
}

// String returns the string representation of an OpCode.
func (o OpCode) String() string {
	if name, ok := opCodeNames[o]; ok {
		return name
	}
	return fmt.Sprintf("opcode(%d)", uint32(o))
}

// MarshalJSON serializes an OpCode as its name
func (o OpCode) MarshalJSON() ([]byte, error) {
	if _, ok := opCodeNames[o]; !ok {
		return json.Marshal(uint32(o))
	}
	return json.Marshal(o.String())
}

// UnmarshalJSON accepts both the name and the numeric value of an OpCode
func (o *OpCode) UnmarshalJSON(data []byte) error {
	var n uint32
	if err := json.Unmarshal(data, &n); err == nil {
		*o = OpCode(n)
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for code, name := range opCodeNames {
		if name == s {
			*o = code
			return nil
		}
	}
	return fmt.Errorf("unknown op code: %s", s)
}

// --------------------------------------------------------------------------
// Response Code Definition
// --------------------------------------------------------------------------

// ResponseCode is the outcome of an operation, RCNone marks a request
type ResponseCode uint32

const (
	RCNone                   ResponseCode = 0
	RCSuccess                ResponseCode = 1
	RCError                  ResponseCode = 2
	RCServerTooBusy          ResponseCode = 3
	RCProtocolError          ResponseCode = 4
	RCOperationNotSupported  ResponseCode = 5
	RCRecursionCountTooHigh  ResponseCode = 6
	RCHandleNotFound         ResponseCode = 100
	RCHandleAlreadyExists    ResponseCode = 101
	RCInvalidHandle          ResponseCode = 102
	RCValueNotFound          ResponseCode = 200
	RCValueAlreadyExists     ResponseCode = 201
	RCValueInvalid           ResponseCode = 202
	RCExpiredSiteInfo        ResponseCode = 300
	RCServerNotResponsible   ResponseCode = 301
	RCServiceReferral        ResponseCode = 302
	RCInvalidAdmin           ResponseCode = 400
	RCInsufficientPermission ResponseCode = 401
	RCAuthenticationNeeded   ResponseCode = 402
	RCAuthenticationFailed   ResponseCode = 403
	RCInvalidCredential      ResponseCode = 404
	RCSessionTimeout         ResponseCode = 500
	RCSessionFailed          ResponseCode = 501
)

var responseCodeNames = map[ResponseCode]string{
	RCNone:                   "none",
	RCSuccess:                "success",
	RCError:                  "error",
	RCServerTooBusy:          "serverTooBusy",
	RCProtocolError:          "protocolError",
	RCOperationNotSupported:  "operationNotSupported",
	RCRecursionCountTooHigh:  "recursionCountTooHigh",
	RCHandleNotFound:         "handleNotFound",
	RCHandleAlreadyExists:    "handleAlreadyExists",
	RCInvalidHandle:          "invalidHandle",
	RCValueNotFound:          "valueNotFound",
	RCValueAlreadyExists:     "valueAlreadyExists",
	RCValueInvalid:           "valueInvalid",
	RCExpiredSiteInfo:        "expiredSiteInfo",
	RCServerNotResponsible:   "serverNotResponsible",
	RCServiceReferral:        "serviceReferral",
	RCInvalidAdmin:           "invalidAdmin",
	RCInsufficientPermission: "insufficientPermission",
	RCAuthenticationNeeded:   "authenticationNeeded",
	RCAuthenticationFailed:   "authenticationFailed",
	RCInvalidCredential:      "invalidCredential",
	RCSessionTimeout:         "sessionTimeout",
	RCSessionFailed:          "sessionFailed",
}

// String returns the string representation of a ResponseCode.
func (r ResponseCode) String() string {
	if name, ok := responseCodeNames[r]; ok {
		return name
	}
	return fmt.Sprintf("rc(%d)", uint32(r))
}

// MarshalJSON serializes a ResponseCode as its name
func (r ResponseCode) MarshalJSON() ([]byte, error) {
	if _, ok := responseCodeNames[r]; !ok {
		return json.Marshal(uint32(r))
	}
	return json.Marshal(r.String())
}

// UnmarshalJSON accepts both the name and the numeric value of a ResponseCode
func (r *ResponseCode) UnmarshalJSON(data []byte) error {
	var n uint32
	if err := json.Unmarshal(data, &n); err == nil {
		*r = ResponseCode(n)
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	for code, name := range responseCodeNames {
		if name == s {
			*r = code
			return nil
		}
	}
	return fmt.Errorf("unknown response code: %s", s)
}
