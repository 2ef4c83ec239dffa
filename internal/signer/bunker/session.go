package bunker

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ecash-console/go-client/internal/signer"
	"ecash-console/go-client/pkg/models"

	"golang.org/x/crypto/curve25519"
)

var ErrHandshakeFailed = errors.New("remote signer handshake failed")

// State is the connection state of a remote-signer session.
type State int

const (
	StateConnecting State = iota
	StateReady
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return "closed"
	}
}

const (
	methodConnect   = "connect"
	methodPublicKey = "get_public_key"
	methodSignEvent = "sign_event"
	methodEncrypt   = "encrypt"
	methodDecrypt   = "decrypt"

	connectAck = "ack"
)

type rpcRequest struct {
	ID     string   `json:"id"`
	Method string   `json:"method"`
	Params []string `json:"params,omitempty"`
}

type rpcResponse struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Session is a signer whose key material lives on a remote service. RPC
// frames are sealed to the remote key under an ephemeral client keypair, so
// relays only ever carry ciphertext.
type Session struct {
	uri       ConnectionURI
	clientKey string
	convKey   []byte
	logger    *slog.Logger

	mu            sync.Mutex
	state         State
	conns         []RelayConn
	pending       map[string]chan rpcResponse
	identity      models.Identity
	establishedAt time.Time

	closed    chan struct{}
	closeOnce sync.Once
}

// Connect runs the full handshake: parse, dial, confirm readiness, fetch the
// user identity. Any failure tears the session down; a half-connected session
// is never returned.
func Connect(ctx context.Context, rawURI string, dialer Dialer, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}
	uri, err := ParseConnectionURI(rawURI)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}

	clientPriv := make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(clientPriv); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
	clientPub, err := curve25519.X25519(clientPriv, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
	remoteKey, _ := hex.DecodeString(uri.RemotePublicKey)
	convKey, err := signer.DeriveConversationKey(clientPriv, remoteKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}

	s := &Session{
		uri:       uri,
		clientKey: hex.EncodeToString(clientPub),
		convKey:   convKey,
		logger:    logger,
		state:     StateConnecting,
		pending:   make(map[string]chan rpcResponse),
		closed:    make(chan struct{}),
	}

	for _, relay := range uri.Relays {
		conn, err := dialer.Dial(ctx, relay, s.clientKey)
		if err != nil {
			logger.Warn("relay dial failed", "relay", relay)
			continue
		}
		s.conns = append(s.conns, conn)
		go s.readLoop(conn)
	}
	if len(s.conns) == 0 {
		s.fail()
		return nil, fmt.Errorf("%w: no relay reachable", ErrHandshakeFailed)
	}

	if err := s.confirmReady(ctx); err != nil {
		s.fail()
		return nil, err
	}
	return s, nil
}

func (s *Session) confirmReady(ctx context.Context) error {
	result, err := s.call(ctx, methodConnect, []string{s.uri.RemotePublicKey, s.uri.Secret})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
	var ack string
	if err := json.Unmarshal(result, &ack); err != nil || ack != connectAck {
		return fmt.Errorf("%w: unexpected readiness reply", ErrHandshakeFailed)
	}

	result, err = s.call(ctx, methodPublicKey, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
	var identity models.Identity
	if err := json.Unmarshal(result, &identity); err != nil || identity.IsZero() {
		return fmt.Errorf("%w: remote signer reported no identity", ErrHandshakeFailed)
	}

	s.mu.Lock()
	s.identity = identity
	s.state = StateReady
	s.establishedAt = time.Now().UTC()
	s.mu.Unlock()
	s.logger.Info("remote signer session ready", "relays", len(s.conns))
	return nil
}

func (s *Session) readLoop(conn RelayConn) {
	for frame := range conn.Receive() {
		if frame.From != s.uri.RemotePublicKey {
			continue
		}
		plaintext, err := signer.OpenPayload(s.convKey, frame.Payload)
		if err != nil {
			continue
		}
		var resp rpcResponse
		if err := json.Unmarshal(plaintext, &resp); err != nil {
			continue
		}
		s.mu.Lock()
		ch, ok := s.pending[resp.ID]
		if ok {
			delete(s.pending, resp.ID)
		}
		s.mu.Unlock()
		if !ok {
			// Response for a cancelled or already-answered request.
			continue
		}
		ch <- resp
	}
}

func (s *Session) call(ctx context.Context, method string, params []string) (json.RawMessage, error) {
	idBytes := make([]byte, 8)
	if _, err := rand.Read(idBytes); err != nil {
		return nil, err
	}
	req := rpcRequest{ID: hex.EncodeToString(idBytes), Method: method, Params: params}
	raw, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	payload, err := signer.SealPayload(s.convKey, raw)
	if err != nil {
		return nil, err
	}

	ch := make(chan rpcResponse, 1)
	s.mu.Lock()
	s.pending[req.ID] = ch
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.pending, req.ID)
		s.mu.Unlock()
	}()

	frame := Frame{Type: frameTypeMessage, To: s.uri.RemotePublicKey, From: s.clientKey, Payload: payload}
	sent := false
	for _, conn := range s.conns {
		if err := conn.Send(ctx, frame); err == nil {
			sent = true
		}
	}
	if !sent {
		return nil, fmt.Errorf("all relays rejected %s request", method)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.closed:
		return nil, ErrHandshakeFailed
	case resp := <-ch:
		if resp.Error != "" {
			return nil, fmt.Errorf("remote signer: %s", resp.Error)
		}
		return resp.Result, nil
	}
}

func (s *Session) fail() {
	s.mu.Lock()
	s.state = StateFailed
	s.mu.Unlock()
	s.shutdown()
}

// Close tears down relay connections and fails outstanding calls.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state != StateFailed {
		s.state = StateClosed
	}
	s.mu.Unlock()
	s.shutdown()
	return nil
}

func (s *Session) shutdown() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.mu.Lock()
		conns := s.conns
		s.conns = nil
		s.mu.Unlock()
		for _, conn := range conns {
			_ = conn.Close()
		}
	})
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) URI() ConnectionURI {
	return s.uri
}

func (s *Session) EstablishedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.establishedAt
}

// Session implements signer.Signer.

func (s *Session) Method() models.AuthMethod {
	return models.AuthMethodRemote
}

func (s *Session) PublicKey() (models.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady {
		return models.Identity{}, fmt.Errorf("%w: session is %s", signer.ErrSignerUnavailable, s.state)
	}
	return s.identity, nil
}

func (s *Session) SignEvent(ctx context.Context, draft models.EventDraft) (models.SignedEvent, error) {
	if err := s.ensureReady(); err != nil {
		return models.SignedEvent{}, err
	}
	raw, err := json.Marshal(draft)
	if err != nil {
		return models.SignedEvent{}, err
	}
	result, err := s.call(ctx, methodSignEvent, []string{string(raw)})
	if err != nil {
		return models.SignedEvent{}, err
	}
	var ev models.SignedEvent
	if err := json.Unmarshal(result, &ev); err != nil {
		return models.SignedEvent{}, fmt.Errorf("malformed sign_event reply: %w", err)
	}
	return ev, nil
}

func (s *Session) Encrypt(ctx context.Context, peerKey, plaintext []byte) (string, error) {
	if err := s.ensureReady(); err != nil {
		return "", err
	}
	result, err := s.call(ctx, methodEncrypt, []string{
		hex.EncodeToString(peerKey),
		base64.StdEncoding.EncodeToString(plaintext),
	})
	if err != nil {
		return "", err
	}
	var ciphertext string
	if err := json.Unmarshal(result, &ciphertext); err != nil {
		return "", fmt.Errorf("malformed encrypt reply: %w", err)
	}
	return ciphertext, nil
}

func (s *Session) Decrypt(ctx context.Context, peerKey []byte, ciphertext string) ([]byte, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	result, err := s.call(ctx, methodDecrypt, []string{hex.EncodeToString(peerKey), ciphertext})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", signer.ErrInvalidCiphertext, err)
	}
	var encoded string
	if err := json.Unmarshal(result, &encoded); err != nil {
		return nil, fmt.Errorf("malformed decrypt reply: %w", err)
	}
	plaintext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", signer.ErrInvalidCiphertext, err)
	}
	return plaintext, nil
}

func (s *Session) ensureReady() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateReady {
		return fmt.Errorf("%w: session is %s", signer.ErrSignerUnavailable, s.state)
	}
	return nil
}
