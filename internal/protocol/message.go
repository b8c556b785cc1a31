package protocol

// Version is the wire schema version carried in every message. The codec
// rejects frames with a different version so both sides fail loudly on a
// schema mismatch instead of misreading fields.
const Version = 1

// Code enumerates the status codes a response can carry.
type Code string

// Status codes. The auth-stage codes are only ever produced during the
// authentication sequence; the rest belong to command responses.
const (
	CodeWrongCredential   Code = "wrong-credential"
	CodeNewUserOK         Code = "new-user-ok"
	CodeUserOK            Code = "user-ok"
	CodeDeviceIDTaken     Code = "device-id-taken"
	CodeDeviceIDOK        Code = "device-id-ok"
	CodeAttestationFailed Code = "attestation-failed"
	CodeAttestationOK     Code = "attestation-ok"
	CodeOK                Code = "ok"
	CodeFailure           Code = "generic-failure"
	CodeNoSuchDomain      Code = "no-such-domain"
	CodeNoSuchUser        Code = "no-such-user"
	CodeNoPermission      Code = "no-permission"
	CodeNoData            Code = "no-data"
	CodeNoSuchDevice      Code = "no-such-device"
	CodeError             Code = "error"
)

// Commands accepted in the post-authentication loop.
const (
	CmdCreate = "CREATE"
	CmdAdd    = "ADD"
	CmdRD     = "RD"
	CmdET     = "ET"
	CmdEI     = "EI"
	CmdRT     = "RT"
	CmdRI     = "RI"
	CmdRH     = "RH"
	CmdExit   = "EXIT"
)

// Message is one protocol frame. Every exchange is one message out, one
// message in; which fields are meaningful depends on the exchange:
//
//	credential stage:   → User, Secret            ← Code
//	device-claim stage: → DeviceID                ← Code
//	attestation stage:  → Name, Size              ← Code
//	command loop:       → Command + its operands  ← Code (+ Data, Size)
//
// Data carries raw bytes (images, serialized temperature maps); JSON encodes
// it as base64 transparently.
type Message struct {
	V           int    `json:"v"`
	Code        Code   `json:"code,omitempty"`
	Command     string `json:"command,omitempty"`
	User        string `json:"user,omitempty"`
	Secret      string `json:"secret,omitempty"`
	Domain      string `json:"domain,omitempty"`
	DeviceID    string `json:"device_id,omitempty"`
	Temperature string `json:"temperature,omitempty"`
	Name        string `json:"name,omitempty"`
	Size        int64  `json:"size,omitempty"`
	Data        []byte `json:"data,omitempty"`
}

// Response builds a bare status reply.
func Response(code Code) Message {
	return Message{V: Version, Code: code}
}

// DataResponse builds a status reply carrying a byte payload.
func DataResponse(code Code, data []byte) Message {
	return Message{V: Version, Code: code, Data: data, Size: int64(len(data))}
}
