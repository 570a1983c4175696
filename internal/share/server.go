// Package share implements an authenticated LAN file-transfer protocol
// over the framed wire package: a Server answers other
// ShadowBox peers' pulls from one local Box, and a Client pulls files from
// a remote peer's Server.
package share

import (
	"bufio"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"shadowbox/internal/box"
	"shadowbox/internal/cryptoprim"
	"shadowbox/internal/sberr"
	"shadowbox/internal/wire"
)

const protocolVersion = 1

// authFailureDelay is added before every AUTH rejection, win or lose on
// whether the code even names a share, so a client cannot tell "no such
// share" apart from "wrong code" by response latency any more than by
// the error itself.
const authFailureDelay = 150 * time.Millisecond

// unknownCodePlaceholder stands in for the real share code when HELLO
// names a code this server never opened, so the AUTH check below still
// has something to derive a (never-matching) wire key from instead of
// branching early and leaking which failure occurred.
const unknownCodePlaceholder = "0000"

// shareConfig is one currently-active outbound share of a local Box.
type shareConfig struct {
	boxID  string
	code   string
	public bool
}

// Server accepts connections from peers pulling files out of local Boxes.
type Server struct {
	engine   *box.Engine
	peerName string
	logger   *zap.SugaredLogger

	mu           sync.Mutex
	sharesByBox  map[string]*shareConfig
	sharesByCode map[string]*shareConfig

	listener net.Listener
	wg       sync.WaitGroup
}

// NewServer constructs a Server that reads from engine; it does not listen
// until Start is called.
func NewServer(engine *box.Engine, peerName string, logger *zap.SugaredLogger) *Server {
	return &Server{
		engine:       engine,
		peerName:     peerName,
		logger:       logger,
		sharesByBox:  make(map[string]*shareConfig),
		sharesByCode: make(map[string]*shareConfig),
	}
}

// OpenShare authorizes boxID to be served over the network under code —
// the same 4-letter code Discovery advertises for this Box, and the only
// secret AUTH ever proves knowledge of. There is no separate out-of-band
// secret: whoever resolves the code via mDNS has everything they need.
func (s *Server) OpenShare(boxID, code string, public bool) error {
	cfg := &shareConfig{boxID: boxID, code: code, public: public}
	s.mu.Lock()
	s.sharesByBox[boxID] = cfg
	s.sharesByCode[code] = cfg
	s.mu.Unlock()
	return nil
}

// CloseShare revokes boxID's authorization to be served.
func (s *Server) CloseShare(boxID string) {
	s.mu.Lock()
	if cfg, ok := s.sharesByBox[boxID]; ok {
		delete(s.sharesByBox, boxID)
		delete(s.sharesByCode, cfg.code)
	}
	s.mu.Unlock()
}

func (s *Server) shareForCode(code string) (*shareConfig, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.sharesByCode[code]
	return cfg, ok
}

// Start listens on addr (e.g. ":0" to pick an ephemeral port) and begins
// accepting connections in the background. It returns the bound port.
func (s *Server) Start(ctx context.Context, addr string) (int, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return 0, sberr.NewError("share.Start", sberr.KindIOError, err)
	}
	s.listener = l

	if s.logger != nil {
		s.logger.Infow("share server listening", "peer_name", s.peerName, "addr", l.Addr())
	}

	s.wg.Add(1)
	go s.acceptLoop(ctx)

	return l.Addr().(*net.TCPAddr).Port, nil
}

// Stop closes the listener and waits for in-flight connections to drain.
func (s *Server) Stop() error {
	if s.listener == nil {
		return nil
	}
	err := s.listener.Close()
	s.wg.Wait()
	return err
}

func (s *Server) acceptLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if s.logger != nil {
				s.logger.Debugw("accept loop exiting", "error", err)
			}
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer conn.Close()
			if err := s.serveConn(ctx, conn); err != nil && s.logger != nil {
				s.logger.Infow("share connection ended", "remote", conn.RemoteAddr(), "error", err)
			}
		}()
	}
}

// serveConn drives one connection's LISTEN -> HELLO_RCVD -> AUTHED ->
// READY -> SERVING state machine.
func (s *Server) serveConn(ctx context.Context, conn net.Conn) error {
	r := bufio.NewReader(conn)

	helloFrame, err := wire.ReadFrame(r)
	if err != nil {
		return err
	}
	if helloFrame.Type != wire.TypeHello {
		return s.sendError(conn, sberr.KindProtocolError, "expected HELLO")
	}
	var hello wire.HelloMsg
	if err := wire.Decode(helloFrame.Payload, &hello); err != nil {
		return s.sendError(conn, sberr.KindProtocolError, "malformed HELLO")
	}

	cfg, found := s.shareForCode(hello.Code)

	boxName := ""
	isPublic := found && cfg.public
	if found {
		if b, err := s.engine.GetBox(ctx, cfg.boxID); err == nil {
			boxName = b.Name
		}
	}

	serverNonce, err := cryptoprim.RandomBytes(wire.NonceSize)
	if err != nil {
		return s.sendError(conn, sberr.KindIOError, "nonce generation failed")
	}
	ack, err := wire.Encode(wire.HelloAckMsg{ServerNonce: serverNonce, BoxName: boxName, IsPublic: isPublic})
	if err != nil {
		return err
	}
	if err := wire.WriteFrame(conn, wire.Frame{Type: wire.TypeHelloAck, Payload: ack}); err != nil {
		return err
	}

	if !isPublic {
		authFrame, err := wire.ReadFrame(r)
		if err != nil {
			return err
		}
		if authFrame.Type != wire.TypeAuth {
			return s.sendError(conn, sberr.KindProtocolError, "expected AUTH")
		}
		var auth wire.AuthMsg
		if err := wire.Decode(authFrame.Payload, &auth); err != nil {
			return s.sendError(conn, sberr.KindProtocolError, "malformed AUTH")
		}

		code := hello.Code
		if !found {
			code = unknownCodePlaceholder
		}
		if !verifyMAC(code, hello.ClientNonce, serverNonce, auth.MAC) || !found {
			time.Sleep(authFailureDelay)
			s.sendError(conn, sberr.KindAuthFailure, "authentication failed")
			return sberr.NewError("share.serveConn", sberr.KindAuthFailure, nil)
		}
	}

	return s.serveRequests(ctx, r, conn, cfg.boxID)
}

func (s *Server) serveRequests(ctx context.Context, r *bufio.Reader, conn net.Conn, boxID string) error {
	for {
		frame, err := wire.ReadFrame(r)
		if err != nil {
			return err
		}
		switch frame.Type {
		case wire.TypeListReq:
			if err := s.handleListReq(ctx, conn, boxID); err != nil {
				return err
			}
		case wire.TypeGetReq:
			if err := s.handleGetReq(ctx, conn, boxID, frame.Payload); err != nil {
				return err
			}
		default:
			if err := s.sendError(conn, sberr.KindProtocolError, fmt.Sprintf("unexpected frame %s", frame.Type)); err != nil {
				return err
			}
		}
	}
}

func (s *Server) handleListReq(ctx context.Context, conn net.Conn, boxID string) error {
	if boxID == "" {
		return s.sendError(conn, sberr.KindNotFound, "no box is currently shared")
	}
	files, err := s.engine.ListFiles(ctx, boxID)
	if err != nil {
		return s.sendError(conn, sberr.KindIOError, "failed to list files")
	}

	entries := make([]wire.ManifestEntry, 0, len(files))
	for _, f := range files {
		versions, err := s.engine.ListVersions(ctx, f.FileID)
		if err != nil || len(versions) == 0 {
			continue
		}
		// Describe the current version, which is what GET_REQ serves.
		v := versions[0]
		for _, cand := range versions {
			if cand.VersionID == f.CurrentVersionID {
				v = cand
				break
			}
		}
		entries = append(entries, wire.ManifestEntry{
			FileID: f.FileID, Name: f.Name, Size: v.Size, Mime: v.Mime, Hash: v.BlobHash,
		})
	}

	payload, err := wire.Encode(wire.ListRespMsg{Files: entries})
	if err != nil {
		return err
	}
	return wire.WriteFrame(conn, wire.Frame{Type: wire.TypeListResp, Payload: payload})
}

func (s *Server) handleGetReq(ctx context.Context, conn net.Conn, boxID string, payload []byte) error {
	var req wire.GetReqMsg
	if err := wire.Decode(payload, &req); err != nil {
		return s.sendError(conn, sberr.KindProtocolError, "malformed GET_REQ")
	}

	if boxID == "" {
		return s.sendError(conn, sberr.KindNotFound, "no box is currently shared")
	}

	content, err := s.engine.ReadFile(ctx, boxID, req.FileID, "")
	if err != nil {
		return s.sendError(conn, sberr.KindNotFound, "file unavailable")
	}

	offset := 0
	for {
		end := offset + wire.ChunkSize
		if end > len(content) {
			end = len(content)
		}
		final := end >= len(content)
		chunk := wire.GetChunkMsg{FileID: req.FileID, Offset: int64(offset), Data: content[offset:end], Final: final}
		payload, err := wire.Encode(chunk)
		if err != nil {
			return err
		}
		if err := wire.WriteFrame(conn, wire.Frame{Type: wire.TypeGetChunk, Payload: payload}); err != nil {
			return err
		}
		if final {
			return nil
		}
		offset = end
	}
}

func (s *Server) sendError(conn net.Conn, kind sberr.Kind, message string) error {
	payload, err := wire.Encode(wire.ErrorMsg{Kind: kind.String(), Message: message})
	if err != nil {
		return err
	}
	return wire.WriteFrame(conn, wire.Frame{Type: wire.TypeError, Payload: payload})
}

// computeMAC derives this session's wire key from code and the two
// nonces, then MACs client_nonce||server_nonce with it — the proof that
// whoever holds code also holds both halves of this specific handshake.
func computeMAC(code string, clientNonce, serverNonce []byte) ([]byte, error) {
	salt := append(append([]byte{}, clientNonce...), serverNonce...)
	wireKey, err := cryptoprim.DeriveWireKey([]byte(code), salt)
	if err != nil {
		return nil, err
	}
	mac := hmac.New(sha256.New, wireKey)
	mac.Write(clientNonce)
	mac.Write(serverNonce)
	return mac.Sum(nil), nil
}

func verifyMAC(code string, clientNonce, serverNonce, got []byte) bool {
	want, err := computeMAC(code, clientNonce, serverNonce)
	if err != nil {
		return false
	}
	return hmac.Equal(want, got)
}
