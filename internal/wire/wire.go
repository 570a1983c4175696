// Package wire implements a framed TCP protocol: every message is a
// 4-byte big-endian length prefix, a 1-byte type tag, and a
// payload, capped at MaxFrameSize so a misbehaving peer can never force an
// unbounded allocation.
package wire

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"io"

	"shadowbox/internal/sberr"
)

// Type tags the payload that follows a frame's length prefix.
type Type byte

const (
	TypeHello Type = iota + 1
	TypeHelloAck
	TypeAuth
	TypeListReq
	TypeListResp
	TypeGetReq
	TypeGetChunk
	TypeError
)

func (t Type) String() string {
	switch t {
	case TypeHello:
		return "HELLO"
	case TypeHelloAck:
		return "HELLO_ACK"
	case TypeAuth:
		return "AUTH"
	case TypeListReq:
		return "LIST_REQ"
	case TypeListResp:
		return "LIST_RESP"
	case TypeGetReq:
		return "GET_REQ"
	case TypeGetChunk:
		return "GET_CHUNK"
	case TypeError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

const (
	// MaxFrameSize bounds any single frame's payload.
	MaxFrameSize = 16 << 20

	// ChunkSize is the amount of decrypted plaintext streamed per
	// GET_CHUNK frame while serving a file.
	ChunkSize = 1 << 20

	// NonceSize is the length in bytes of a HELLO/HELLO_ACK nonce.
	NonceSize = 16

	lengthPrefixSize = 4
	typeTagSize      = 1
)

// Frame is one length-prefixed protocol message.
type Frame struct {
	Type    Type
	Payload []byte
}

// WriteFrame writes a single frame to w.
func WriteFrame(w io.Writer, f Frame) error {
	if len(f.Payload) > MaxFrameSize {
		return sberr.NewError("wire.WriteFrame", sberr.KindProtocolError, nil)
	}
	header := make([]byte, lengthPrefixSize+typeTagSize)
	binary.BigEndian.PutUint32(header[:lengthPrefixSize], uint32(len(f.Payload)+typeTagSize))
	header[lengthPrefixSize] = byte(f.Type)
	if _, err := w.Write(header); err != nil {
		return sberr.NewError("wire.WriteFrame", sberr.KindIOError, err)
	}
	if _, err := w.Write(f.Payload); err != nil {
		return sberr.NewError("wire.WriteFrame", sberr.KindIOError, err)
	}
	return nil
}

// ReadFrame reads a single frame from r, enforcing MaxFrameSize.
func ReadFrame(r *bufio.Reader) (Frame, error) {
	lengthBuf := make([]byte, lengthPrefixSize)
	if _, err := io.ReadFull(r, lengthBuf); err != nil {
		return Frame{}, sberr.NewError("wire.ReadFrame", sberr.KindIOError, err)
	}
	length := binary.BigEndian.Uint32(lengthBuf)
	if length < typeTagSize || int64(length) > MaxFrameSize+typeTagSize {
		return Frame{}, sberr.NewError("wire.ReadFrame", sberr.KindProtocolError, nil)
	}

	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return Frame{}, sberr.NewError("wire.ReadFrame", sberr.KindIOError, err)
	}
	return Frame{Type: Type(body[0]), Payload: body[typeTagSize:]}, nil
}

// HelloMsg opens every connection, announcing the protocol version, the
// share code the client resolved via Discovery, and a fresh client nonce
// used to salt this session's wire key.
type HelloMsg struct {
	ProtocolVersion int    `json:"protocol_version"`
	Code            string `json:"code"`
	ClientNonce     []byte `json:"client_nonce"`
}

// HelloAckMsg replies to HELLO with a fresh server nonce, the shared Box's
// name, and whether the Box is public (AUTH is skipped only when true).
type HelloAckMsg struct {
	ServerNonce []byte `json:"server_nonce"`
	BoxName     string `json:"box_name"`
	IsPublic    bool   `json:"is_public"`
}

// AuthMsg carries an HMAC-SHA256 proof over client_nonce||server_nonce,
// keyed by a wire key HKDF-derived from the share code with the
// concatenated nonces as salt.
type AuthMsg struct {
	MAC []byte `json:"mac"`
}

// ListReqMsg requests the manifest of shareable files.
type ListReqMsg struct{}

// ManifestEntry describes one file offered by LIST_RESP.
type ManifestEntry struct {
	FileID string `json:"file_id"`
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	Mime   string `json:"mime"`
	Hash   string `json:"hash"`
}

// ListRespMsg answers LIST_REQ.
type ListRespMsg struct {
	Files []ManifestEntry `json:"files"`
}

// GetReqMsg requests one file's content by ID.
type GetReqMsg struct {
	FileID string `json:"file_id"`
}

// GetChunkMsg streams one chunk of a file being served. Final is set on the
// last chunk of a file so the client knows to stop accumulating.
type GetChunkMsg struct {
	FileID string `json:"file_id"`
	Offset int64  `json:"offset"`
	Data   []byte `json:"data"`
	Final  bool   `json:"final"`
}

// ErrorMsg reports a protocol-level failure to the peer. The server closes
// the connection after an ERROR sent during the HELLO/AUTH handshake, and
// keeps it open after one sent while serving LIST_REQ/GET_REQ.
type ErrorMsg struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Encode marshals v to JSON, the wire encoding for every message body.
func Encode(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, sberr.NewError("wire.Encode", sberr.KindProtocolError, err)
	}
	return b, nil
}

// Decode unmarshals a frame payload into v.
func Decode(payload []byte, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return sberr.NewError("wire.Decode", sberr.KindProtocolError, err)
	}
	return nil
}
