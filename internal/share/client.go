package share

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"

	"shadowbox/internal/box"
	"shadowbox/internal/cryptoprim"
	"shadowbox/internal/sberr"
	"shadowbox/internal/wire"
)

const dialTimeout = 5 * time.Second

// Client pulls files from a remote peer's Server into a local Box.
type Client struct {
	peerName string
	logger   *zap.SugaredLogger
}

// NewClient returns a Client identifying itself as peerName in HELLO.
func NewClient(peerName string, logger *zap.SugaredLogger) *Client {
	return &Client{peerName: peerName, logger: logger}
}

// PulledFile is one file retrieved by Pull, ready for the caller to insert
// into a local Box via box.Engine.AddFile.
type PulledFile struct {
	Name    string
	Mime    string
	Content []byte
}

// Pull connects to host:port, lists the peer's shared files, fetches every
// one in selection (or everything, if selection is empty), and verifies
// each against its advertised SHA-256 hash before returning it. code is the
// same 4-letter code resolved via Discovery — it is the only secret AUTH
// proves knowledge of, so a public share's code is irrelevant to AUTH but
// still required to reach the right HELLO/HELLO_ACK pairing.
func (c *Client) Pull(ctx context.Context, host string, port int, code string, selection []string) ([]PulledFile, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, sberr.NewError("share.Pull", sberr.KindIOError, err)
	}
	defer conn.Close()

	r := bufio.NewReader(conn)

	clientNonce, err := cryptoprim.RandomBytes(wire.NonceSize)
	if err != nil {
		return nil, err
	}
	helloPayload, err := wire.Encode(wire.HelloMsg{ProtocolVersion: protocolVersion, Code: code, ClientNonce: clientNonce})
	if err != nil {
		return nil, err
	}
	if err := wire.WriteFrame(conn, wire.Frame{Type: wire.TypeHello, Payload: helloPayload}); err != nil {
		return nil, err
	}

	ackFrame, err := wire.ReadFrame(r)
	if err != nil {
		return nil, err
	}
	if ackFrame.Type == wire.TypeError {
		return nil, decodeServerError(ackFrame.Payload)
	}
	if ackFrame.Type != wire.TypeHelloAck {
		return nil, sberr.NewError("share.Pull", sberr.KindProtocolError, nil)
	}
	var ack wire.HelloAckMsg
	if err := wire.Decode(ackFrame.Payload, &ack); err != nil {
		return nil, err
	}

	if c.logger != nil {
		c.logger.Debugw("share hello acked", "peer_name", c.peerName, "box_name", ack.BoxName)
	}

	if !ack.IsPublic {
		mac, err := computeMAC(code, clientNonce, ack.ServerNonce)
		if err != nil {
			return nil, err
		}
		authPayload, err := wire.Encode(wire.AuthMsg{MAC: mac})
		if err != nil {
			return nil, err
		}
		if err := wire.WriteFrame(conn, wire.Frame{Type: wire.TypeAuth, Payload: authPayload}); err != nil {
			return nil, err
		}
	}

	listPayload, err := wire.Encode(wire.ListReqMsg{})
	if err != nil {
		return nil, err
	}
	if err := wire.WriteFrame(conn, wire.Frame{Type: wire.TypeListReq, Payload: listPayload}); err != nil {
		return nil, err
	}

	listRespFrame, err := wire.ReadFrame(r)
	if err != nil {
		return nil, err
	}
	if listRespFrame.Type == wire.TypeError {
		return nil, decodeServerError(listRespFrame.Payload)
	}
	if listRespFrame.Type != wire.TypeListResp {
		return nil, sberr.NewError("share.Pull", sberr.KindProtocolError, nil)
	}
	var manifest wire.ListRespMsg
	if err := wire.Decode(listRespFrame.Payload, &manifest); err != nil {
		return nil, err
	}

	wanted := manifest.Files
	if len(selection) > 0 {
		wanted = filterManifest(manifest.Files, selection)
	}

	out := make([]PulledFile, 0, len(wanted))
	for _, entry := range wanted {
		content, err := c.fetchFile(conn, r, entry)
		if err != nil {
			return nil, err
		}
		out = append(out, PulledFile{Name: entry.Name, Mime: entry.Mime, Content: content})
	}
	return out, nil
}

func (c *Client) fetchFile(conn net.Conn, r *bufio.Reader, entry wire.ManifestEntry) ([]byte, error) {
	reqPayload, err := wire.Encode(wire.GetReqMsg{FileID: entry.FileID})
	if err != nil {
		return nil, err
	}
	if err := wire.WriteFrame(conn, wire.Frame{Type: wire.TypeGetReq, Payload: reqPayload}); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	for {
		frame, err := wire.ReadFrame(r)
		if err != nil {
			return nil, err
		}
		if frame.Type == wire.TypeError {
			return nil, decodeServerError(frame.Payload)
		}
		if frame.Type != wire.TypeGetChunk {
			return nil, sberr.NewError("share.fetchFile", sberr.KindProtocolError, nil)
		}
		var chunk wire.GetChunkMsg
		if err := wire.Decode(frame.Payload, &chunk); err != nil {
			return nil, err
		}
		buf.Write(chunk.Data)
		if chunk.Final {
			break
		}
	}

	content := buf.Bytes()
	if cryptoprim.SHA256Hex(content) != entry.Hash {
		return nil, sberr.NewError("share.fetchFile", sberr.KindIntegrityFailure, nil)
	}
	return content, nil
}

func filterManifest(files []wire.ManifestEntry, selection []string) []wire.ManifestEntry {
	want := make(map[string]bool, len(selection))
	for _, id := range selection {
		want[id] = true
	}
	out := make([]wire.ManifestEntry, 0, len(selection))
	for _, f := range files {
		if want[f.FileID] {
			out = append(out, f)
		}
	}
	return out
}

func decodeServerError(payload []byte) error {
	var e wire.ErrorMsg
	if err := wire.Decode(payload, &e); err != nil {
		return sberr.NewError("share.decodeServerError", sberr.KindProtocolError, nil)
	}
	return sberr.NewError("share.remote", sberr.KindProtocolError, fmt.Errorf("%s: %s", e.Kind, e.Message))
}

// PullInto fetches files from a peer and inserts each into localBoxID via
// engine.AddFile, tagging nothing beyond what the sender described; the
// caller decides whether to also run box.Engine.OpenBox first.
func PullInto(ctx context.Context, c *Client, engine *box.Engine, localBoxID, host string, port int, code string, selection []string) ([]string, error) {
	files, err := c.Pull(ctx, host, port, code, selection)
	if err != nil {
		return nil, err
	}
	fileIDs := make([]string, 0, len(files))
	for _, f := range files {
		id, err := engine.AddFile(ctx, localBoxID, f.Name, f.Content, f.Mime, "", nil)
		if err != nil {
			return nil, err
		}
		fileIDs = append(fileIDs, id)
	}
	return fileIDs, nil
}
