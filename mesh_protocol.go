package chainvault

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"encoding/gob"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// Wire size ceilings from spec §6: write_8bit/16bit/32bit frame a payload up
// to the stated byte count.
const (
	maxWire8  = 1<<8 - 1
	maxWire16 = 1<<16 - 1
	maxWire32 = 1<<32 - 1
)

func writeSized(w io.Writer, sizeBytes int, payload []byte) error {
	var max int64
	switch sizeBytes {
	case 1:
		max = maxWire8
	case 2:
		max = maxWire16
	case 4:
		max = maxWire32
	default:
		return fmt.Errorf("writeSized: unsupported size width %d", sizeBytes)
	}
	if int64(len(payload)) > max {
		return fmt.Errorf("writeSized: payload of %d bytes exceeds %d-byte width", len(payload), sizeBytes)
	}
	lenBuf := make([]byte, sizeBytes)
	switch sizeBytes {
	case 1:
		lenBuf[0] = byte(len(payload))
	case 2:
		binary.BigEndian.PutUint16(lenBuf, uint16(len(payload)))
	case 4:
		binary.BigEndian.PutUint32(lenBuf, uint32(len(payload)))
	}
	if _, err := w.Write(lenBuf); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

func write8bit(w io.Writer, payload []byte) error  { return writeSized(w, 1, payload) }
func write16bit(w io.Writer, payload []byte) error { return writeSized(w, 2, payload) }
func write32bit(w io.Writer, payload []byte) error { return writeSized(w, 4, payload) }

func readSized(r io.Reader, sizeBytes int) ([]byte, error) {
	lenBuf := make([]byte, sizeBytes)
	if _, err := io.ReadFull(r, lenBuf); err != nil {
		return nil, err
	}
	var n uint32
	switch sizeBytes {
	case 1:
		n = uint32(lenBuf[0])
	case 2:
		n = uint32(binary.BigEndian.Uint16(lenBuf))
	case 4:
		n = binary.BigEndian.Uint32(lenBuf)
	default:
		return nil, fmt.Errorf("readSized: unsupported size width %d", sizeBytes)
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func read8bit(r io.Reader) ([]byte, error)  { return readSized(r, 1) }
func read16bit(r io.Reader) ([]byte, error) { return readSized(r, 2) }
func read32bit(r io.Reader) ([]byte, error) { return readSized(r, 4) }

// WireFormat names the body encoding negotiated at handshake time.
type WireFormat int

const (
	WireFormatGob WireFormat = iota
)

// Hello is the handshake message both sides exchange (spec §6
// "Handshake"). A client's Hello carries NodeID/Domain/HelloPath/WireFormat
// and an optional WireEncryption request; the server replies with its own
// ServerID and the WireFormat it accepted.
type Hello struct {
	NodeID         string
	Domain         string
	HelloPath      string
	WireFormat     WireFormat
	WireEncryption bool
	ServerID       string
}

// encryptFrame seals payload under key with a fresh IV, producing the wire
// layout `[iv_len8 | iv | cipher_len32 | cipher]` (spec §6).
func encryptFrame(w io.Writer, key EncryptKey, payload []byte) error {
	aead, err := chacha20poly1305.New(key.raw)
	if err != nil {
		return fmt.Errorf("encrypt frame: %w", err)
	}
	iv := make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(iv); err != nil {
		return fmt.Errorf("encrypt frame: %w", err)
	}
	cipher := aead.Seal(nil, iv, payload, nil)
	if err := write8bit(w, iv); err != nil {
		return err
	}
	return write32bit(w, cipher)
}

// decryptFrame reverses encryptFrame.
func decryptFrame(r io.Reader, key EncryptKey) ([]byte, error) {
	iv, err := read8bit(r)
	if err != nil {
		return nil, fmt.Errorf("decrypt frame: read iv: %w", err)
	}
	cipher, err := read32bit(r)
	if err != nil {
		return nil, fmt.Errorf("decrypt frame: read ciphertext: %w", err)
	}
	aead, err := chacha20poly1305.New(key.raw)
	if err != nil {
		return nil, fmt.Errorf("decrypt frame: %w", err)
	}
	plain, err := aead.Open(nil, iv, cipher, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt frame: %w", err)
	}
	return plain, nil
}

// wireTransaction is Transaction's gob-safe wire form: channels don't
// serialize, so Result is represented implicitly by the response command.
type wireTransaction struct {
	Scope  TransactionScope
	Events []Event
}

func encodeTransaction(tx Transaction) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(wireTransaction{Scope: tx.Scope, Events: tx.Events}); err != nil {
		return nil, fmt.Errorf("encode transaction: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeTransaction(raw []byte) (Transaction, error) {
	var wt wireTransaction
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&wt); err != nil {
		return Transaction{}, fmt.Errorf("decode transaction: %w", err)
	}
	return Transaction{Scope: wt.Scope, Events: wt.Events}, nil
}

// CommandKind tags the request/response envelope exchanged over the mesh
// connection (spec §6 "every request-response is a command object").
type CommandKind int

const (
	CmdFeed CommandKind = iota
	CmdUnlock
	CmdResponse
)

// wireCommand is the request/response envelope. A response's Failed field
// is non-nil iff the peer's operation errored (spec §6 "response type
// includes a Failed variant carrying a tagged error kind").
type wireCommand struct {
	Kind        CommandKind
	Transaction []byte // gob-encoded wireTransaction, when Kind == CmdFeed
	UnlockKey   PrimaryKey
	Failed      *wireError
}

type wireError struct {
	Kind    CommsErrorKind
	Message string
}

func encodeCommand(cmd wireCommand) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(cmd); err != nil {
		return nil, fmt.Errorf("encode command: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeCommand(raw []byte) (wireCommand, error) {
	var cmd wireCommand
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&cmd); err != nil {
		return wireCommand{}, fmt.Errorf("decode command: %w", err)
	}
	return cmd, nil
}
