package chainvault

import (
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// RemotePipe implements Pipe (spec §4.G) over a WebSocket connection to a
// mesh peer, serializing transactions onto the wire protocol in §6 and
// forwarding the acknowledgment. Grounded on the teacher's Transport
// interface/HTTPTransport shape (pluggable backend, one struct per wire),
// generalized from one-way HTTP POSTs to a bidirectional framed connection
// since the chain's feed/unlock contract needs responses.
type RemotePipe struct {
	conn       *websocket.Conn
	key        EncryptKey
	encrypted  bool
	maxBackoff time.Duration
}

// DialRemotePipe connects to a mesh peer at wsURL, runs the handshake (spec
// §6 "Handshake"), and returns a ready-to-use pipe. If encKey is non-zero,
// wire_encryption is requested and every subsequent frame is sealed under
// it.
func DialRemotePipe(wsURL string, nodeID string, domain ChainKey, encKey *EncryptKey) (*RemotePipe, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, &CommsError{Kind: CommsErrInvalidDomainName, Cause: err}
	}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, &CommsError{Kind: CommsErrRefused, Cause: err}
	}

	hello := Hello{
		NodeID:         nodeID,
		Domain:         domain.Domain,
		HelloPath:      u.Path,
		WireFormat:     WireFormatGob,
		WireEncryption: encKey != nil,
	}
	if err := conn.WriteJSON(hello); err != nil {
		_ = conn.Close()
		return nil, &CommsError{Kind: CommsErrIO, Cause: err}
	}
	var serverHello Hello
	if err := conn.ReadJSON(&serverHello); err != nil {
		_ = conn.Close()
		return nil, &CommsError{Kind: CommsErrIO, Cause: err}
	}

	rp := &RemotePipe{conn: conn, maxBackoff: 10 * time.Second}
	if encKey != nil {
		rp.key = *encKey
		rp.encrypted = true
	}
	return rp, nil
}

func (p *RemotePipe) send(cmd wireCommand) error {
	raw, err := encodeCommand(cmd)
	if err != nil {
		return err
	}
	if p.encrypted {
		pr, pw := io.Pipe()
		errCh := make(chan error, 1)
		go func() {
			errCh <- encryptFrame(pw, p.key, raw)
			_ = pw.Close()
		}()
		framed, readErr := io.ReadAll(pr)
		if readErr != nil {
			return readErr
		}
		if err := <-errCh; err != nil {
			return err
		}
		return p.conn.WriteMessage(websocket.BinaryMessage, framed)
	}
	return p.conn.WriteMessage(websocket.BinaryMessage, raw)
}

func (p *RemotePipe) recv() (wireCommand, error) {
	_, data, err := p.conn.ReadMessage()
	if err != nil {
		return wireCommand{}, &CommsError{Kind: CommsErrWebSocket, Cause: err}
	}
	if p.encrypted {
		plain, err := decryptFrame(bytesReader(data), p.key)
		if err != nil {
			return wireCommand{}, &CommsError{Kind: CommsErrIO, Cause: err}
		}
		data = plain
	}
	return decodeCommand(data)
}

// Feed serializes tx onto the wire and blocks for the peer's acknowledgment,
// retrying transient I/O failures with exponential back-off capped at 10s
// (spec §7 "Propagation policy"). A Refused error is classified fatal and is
// not retried.
func (p *RemotePipe) Feed(tx Transaction) error {
	raw, err := encodeTransaction(tx)
	if err != nil {
		return &CommsError{Kind: CommsErrIO, Cause: err}
	}

	backoff := 100 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < 8; attempt++ {
		if attempt > 0 {
			time.Sleep(backoff)
			if backoff < p.maxBackoff {
				backoff *= 2
				if backoff > p.maxBackoff {
					backoff = p.maxBackoff
				}
			}
		}
		if err := p.send(wireCommand{Kind: CmdFeed, Transaction: raw}); err != nil {
			var ce *CommsError
			if asCommsError(err, &ce) && ce.Kind == CommsErrRefused {
				return err
			}
			lastErr = err
			continue
		}
		resp, err := p.recv()
		if err != nil {
			lastErr = err
			continue
		}
		if resp.Failed != nil {
			return &CommsError{Kind: resp.Failed.Kind, Cause: fmt.Errorf("%s", resp.Failed.Message)}
		}
		return nil
	}
	return lastErr
}

// Unlock releases a key's remote-side lock after a local abort.
func (p *RemotePipe) Unlock(key PrimaryKey) error {
	if err := p.send(wireCommand{Kind: CmdUnlock, UnlockKey: key}); err != nil {
		return err
	}
	resp, err := p.recv()
	if err != nil {
		return err
	}
	if resp.Failed != nil {
		return &CommsError{Kind: resp.Failed.Kind, Cause: fmt.Errorf("%s", resp.Failed.Message)}
	}
	return nil
}

func (p *RemotePipe) Close() error { return p.conn.Close() }

func asCommsError(err error, target **CommsError) bool {
	ce, ok := err.(*CommsError)
	if !ok {
		return false
	}
	*target = ce
	return true
}

type byteReader struct {
	b []byte
	i int
}

func bytesReader(b []byte) *byteReader { return &byteReader{b: b} }

func (r *byteReader) Read(p []byte) (int, error) {
	if r.i >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.i:])
	r.i += n
	return n, nil
}
