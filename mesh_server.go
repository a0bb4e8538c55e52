package chainvault

import (
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// MeshServer accepts mesh connections (spec §4.G, §6) and dispatches
// CmdFeed/CmdUnlock commands into chains opened through a ChainRegistry.
// Grounded on the teacher's Server (net/http handler set wrapping a
// TrustedServer), generalized from one-shot HTTP verification endpoints to
// a long-lived upgraded WebSocket connection per peer.
type MeshServer struct {
	NodeID   string
	Registry *ChainRegistry
	Log      *zap.Logger

	upgrader websocket.Upgrader
}

// NewMeshServer constructs a server dispatching into registry.
func NewMeshServer(nodeID string, registry *ChainRegistry, log *zap.Logger) *MeshServer {
	return &MeshServer{
		NodeID:   nodeID,
		Registry: registry,
		Log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the connection and runs the handshake plus command
// loop for its lifetime.
func (s *MeshServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log.Warn("mesh upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	var hello Hello
	if err := conn.ReadJSON(&hello); err != nil {
		s.Log.Warn("mesh handshake read failed", zap.Error(err))
		return
	}
	hello.ServerID = s.NodeID
	if err := conn.WriteJSON(hello); err != nil {
		s.Log.Warn("mesh handshake write failed", zap.Error(err))
		return
	}

	key := NewChainKey(hello.Domain, "")
	chain, err := s.Registry.Open(key)
	if err != nil {
		s.Log.Error("mesh open chain failed", zap.String("domain", hello.Domain), zap.Error(err))
		return
	}

	s.Log.Info("mesh peer connected", zap.String("node", hello.NodeID), zap.String("chain", key.String()))
	s.serveCommands(conn, chain)
}

func (s *MeshServer) serveCommands(conn *websocket.Conn, chain *Chain) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		cmd, err := decodeCommand(data)
		if err != nil {
			s.Log.Warn("mesh decode command failed", zap.Error(err))
			return
		}

		resp := s.handleCommand(cmd, chain)
		raw, err := encodeCommand(resp)
		if err != nil {
			s.Log.Error("mesh encode response failed", zap.Error(err))
			return
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, raw); err != nil {
			return
		}
	}
}

func (s *MeshServer) handleCommand(cmd wireCommand, chain *Chain) wireCommand {
	switch cmd.Kind {
	case CmdFeed:
		tx, err := decodeTransaction(cmd.Transaction)
		if err != nil {
			return failResponse(CommsErrIO, err)
		}
		if err := chain.Feed(tx); err != nil {
			return failResponse(CommsErrIO, err)
		}
		return wireCommand{Kind: CmdResponse}
	case CmdUnlock:
		return wireCommand{Kind: CmdResponse}
	default:
		return failResponse(CommsErrUnsupported, fmt.Errorf("unknown command kind %d", cmd.Kind))
	}
}

func failResponse(kind CommsErrorKind, err error) wireCommand {
	return wireCommand{Kind: CmdResponse, Failed: &wireError{Kind: kind, Message: err.Error()}}
}
