package stratum

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/decred/go-socks/socks"

	"github.com/bardlex/gominer/internal/assembler"
	"github.com/bardlex/gominer/internal/work"
	"github.com/bardlex/gominer/pkg/errors"
	"github.com/bardlex/gominer/pkg/log"
)

// State is the session's position in the handshake
type State int32

const (
	Disconnected State = iota
	Connecting
	Subscribed
	Authorized
	Active
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Subscribed:
		return "subscribed"
	case Authorized:
		return "authorized"
	case Active:
		return "active"
	default:
		return "disconnected"
	}
}

// ErrDisconnected is delivered to submissions still pending when the
// connection goes away.
var ErrDisconnected = stderrors.New("stratum connection closed")

// ReconnectError is returned by Run when the pool asks the client to
// move to another endpoint.
type ReconnectError struct {
	URL  string
	Wait time.Duration
}

func (e *ReconnectError) Error() string {
	return fmt.Sprintf("pool requested reconnect to %s", e.URL)
}

// Config describes one stratum endpoint
type Config struct {
	URL       string
	User      string
	Pass      string
	Proxy     string
	ProxyUser string
	ProxyPass string
	Timeout   time.Duration
	UserAgent string

	// Binary selects the length-framed codec.
	Binary              bool
	ExtranonceSubscribe bool
}

// Listener receives pool-pushed state. Calls come from the goroutine
// running the session and must not block on the session itself.
type Listener interface {
	OnJob(job *work.StratumJob)
	OnDifficulty(diff float64)
	OnExtranonce(xnonce1 []byte, xnonce2Size int)
}

// SubmitResult is the pool's answer to one mining.submit
type SubmitResult struct {
	ID       uint64
	Accepted bool
	Reason   string
	Err      error
}

// Session is a client connection to a stratum pool
type Session struct {
	cfg      Config
	listener Listener
	logger   *log.Logger

	conn    net.Conn
	codec   Codec
	writeMu sync.Mutex
	state   atomic.Int32
	nextID  atomic.Uint64

	mu          sync.Mutex
	job         *work.StratumJob
	diff        float64
	xnonce1     []byte
	xnonce2Size int
	sessionID   string
	pending     map[uint64]chan SubmitResult

	inbox   []*Message
	readBuf []byte
}

// NewSession creates a disconnected session
func NewSession(cfg Config, listener Listener, logger *log.Logger) *Session {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 300 * time.Second
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "gominer/dev"
	}
	s := &Session{
		cfg:      cfg,
		listener: listener,
		logger:   logger.WithComponent("stratum").WithFields("url", cfg.URL),
		diff:     1,
		pending:  make(map[uint64]chan SubmitResult),
		readBuf:  make([]byte, 16*1024),
	}
	s.nextID.Store(firstSubmitID)
	return s
}

// State returns the current handshake state
func (s *Session) State() State {
	return State(s.state.Load())
}

// HostPort splits a stratum URL into host and port
func HostPort(raw string) (string, string, bool, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", false, err
	}
	if !strings.HasPrefix(u.Scheme, "stratum+") {
		return "", "", false, fmt.Errorf("not a stratum url: %s", raw)
	}
	secure := u.Scheme == "stratum+tcps" || u.Scheme == "stratum+ssl"
	host, port, err := net.SplitHostPort(u.Host)
	if err != nil {
		return "", "", false, err
	}
	return host, port, secure, nil
}

// Connect dials the pool, through the SOCKS proxy when configured
func (s *Session) Connect(ctx context.Context) error {
	s.state.Store(int32(Connecting))
	host, port, secure, err := HostPort(s.cfg.URL)
	if err != nil {
		s.state.Store(int32(Disconnected))
		return errors.Wrap(err, errors.ErrorTypeConfig, "stratum.connect", "invalid url")
	}
	addr := net.JoinHostPort(host, port)

	var conn net.Conn
	if s.cfg.Proxy != "" {
		proxy := &socks.Proxy{
			Addr:     s.cfg.Proxy,
			Username: s.cfg.ProxyUser,
			Password: s.cfg.ProxyPass,
		}
		conn, err = proxy.Dial("tcp", addr)
	} else {
		d := net.Dialer{Timeout: 30 * time.Second, KeepAlive: 60 * time.Second}
		conn, err = d.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		s.state.Store(int32(Disconnected))
		return errors.Wrap(err, errors.ErrorTypeTransport, "stratum.connect", "dial failed").
			WithContext("addr", addr)
	}
	if secure {
		conn = tls.Client(conn, &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12})
	}
	s.Attach(conn)
	s.logger.LogConnection("connected", addr)
	return nil
}

// Attach binds an established connection, resetting framing state
func (s *Session) Attach(conn net.Conn) {
	s.conn = conn
	if s.cfg.Binary {
		s.codec = NewBinaryCodec()
	} else {
		s.codec = NewJSONCodec()
	}
	s.inbox = nil
	s.state.Store(int32(Connecting))
}

// Handshake subscribes and authorizes
func (s *Session) Handshake(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = s.conn.SetDeadline(time.Now()) })
	defer stop()

	if err := s.subscribe(ctx); err != nil {
		return err
	}
	if err := s.authorize(ctx); err != nil {
		return err
	}
	if s.cfg.ExtranonceSubscribe {
		if err := s.write(NewRequest(idExtranonce, "mining.extranonce.subscribe", []any{})); err != nil {
			return err
		}
	}
	s.state.Store(int32(Active))
	return nil
}

func (s *Session) subscribe(ctx context.Context) error {
	params := []any{s.cfg.UserAgent}
	s.mu.Lock()
	if s.sessionID != "" {
		params = append(params, s.sessionID)
	}
	s.mu.Unlock()

	resp, err := s.call(ctx, idSubscribe, "mining.subscribe", params)
	if err != nil {
		return err
	}
	if reason := resp.ErrorReason(); reason != "" && len(params) > 1 {
		// some pools refuse the resume id
		s.logger.Debug("subscribe with session id refused, retrying", "reason", reason)
		resp, err = s.call(ctx, idSubscribe, "mining.subscribe", params[:1])
		if err != nil {
			return err
		}
	}
	if reason := resp.ErrorReason(); reason != "" {
		return errors.New(errors.ErrorTypeProtocol, "stratum.subscribe", reason)
	}

	res, err := ParseSubscribeResult(resp.Result)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeDecode, "stratum.subscribe", "invalid reply")
	}
	s.mu.Lock()
	s.sessionID = res.SessionID
	s.xnonce1 = res.Extranonce1
	s.xnonce2Size = res.Xnonce2Size
	s.mu.Unlock()
	s.state.Store(int32(Subscribed))
	s.logger.Debug("subscribed", "extranonce1", fmt.Sprintf("%x", res.Extranonce1), "extranonce2_size", res.Xnonce2Size)
	return nil
}

func (s *Session) authorize(ctx context.Context) error {
	resp, err := s.call(ctx, idAuthorize, "mining.authorize", []any{s.cfg.User, s.cfg.Pass})
	if err != nil {
		return err
	}
	if !resp.ResultBool() {
		reason := resp.ErrorReason()
		if reason == "" {
			reason = "authorization refused"
		}
		return errors.New(errors.ErrorTypeProtocol, "stratum.authorize", reason).
			WithContext("user", s.cfg.User)
	}
	s.state.Store(int32(Authorized))
	return nil
}

// call sends a handshake request and dispatches everything else that
// arrives before its reply.
func (s *Session) call(ctx context.Context, id uint64, method string, params []any) (*Message, error) {
	if err := s.write(NewRequest(id, method, params)); err != nil {
		return nil, err
	}
	for {
		msg, err := s.next(ctx)
		if err != nil {
			return nil, err
		}
		if n, ok := msg.IDNumber(); ok && msg.IsResponse() && n == id {
			return msg, nil
		}
		if err := s.dispatch(msg); err != nil {
			return nil, err
		}
	}
}

// Run reads and dispatches messages until the connection fails, ctx is
// done, or the pool asks for a reconnect.
func (s *Session) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { _ = s.conn.SetDeadline(time.Now()) })
	defer stop()

	for {
		msg, err := s.next(ctx)
		if err != nil {
			return err
		}
		if err := s.dispatch(msg); err != nil {
			return err
		}
	}
}

// next returns the next decoded message, reading from the socket as needed
func (s *Session) next(ctx context.Context) (*Message, error) {
	for len(s.inbox) == 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := s.conn.SetReadDeadline(time.Now().Add(s.cfg.Timeout)); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeTransport, "stratum.read", "set deadline")
		}
		n, err := s.conn.Read(s.readBuf)
		if n > 0 {
			msgs, ferr := s.codec.Feed(s.readBuf[:n])
			s.inbox = append(s.inbox, msgs...)
			if ferr != nil {
				return nil, errors.Wrap(ferr, errors.ErrorTypeDecode, "stratum.read", "bad record").
					WithRetryable(true)
			}
		}
		if err != nil && len(s.inbox) == 0 {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, errors.Wrap(err, errors.ErrorTypeTransport, "stratum.read", "connection lost")
		}
	}
	msg := s.inbox[0]
	s.inbox = s.inbox[1:]
	return msg, nil
}

func (s *Session) dispatch(msg *Message) error {
	if msg.Method == "" {
		s.handleResponse(msg)
		return nil
	}
	s.logger.Debug("method received", "method", msg.Method)

	switch msg.Method {
	case "mining.notify":
		return s.handleNotify(msg)
	case "mining.set_difficulty":
		diff, err := ParseSetDifficulty(msg.Params)
		if err != nil {
			s.logger.WithError(err).Warn("ignoring difficulty")
			return nil
		}
		s.mu.Lock()
		s.diff = diff
		s.mu.Unlock()
		s.listener.OnDifficulty(diff)
	case "mining.set_extranonce":
		x1, size, err := ParseSetExtranonce(msg.Params)
		if err != nil {
			s.logger.WithError(err).Warn("ignoring extranonce")
			return nil
		}
		s.mu.Lock()
		s.xnonce1 = x1
		s.xnonce2Size = size
		s.mu.Unlock()
		s.listener.OnExtranonce(x1, size)
	case "mining.ping":
		return s.reply(msg.ID, "pong")
	case "client.get_version":
		return s.reply(msg.ID, s.cfg.UserAgent)
	case "client.show_message":
		s.logger.Info("pool message", "params", msg.Params)
		if msg.ID != nil {
			return s.reply(msg.ID, true)
		}
	case "client.reconnect":
		u, _ := url.Parse(s.cfg.URL)
		host, port, _ := net.SplitHostPort(u.Host)
		host, port, wait := ParseReconnect(msg.Params, host, port)
		u.Host = net.JoinHostPort(host, port)
		return &ReconnectError{URL: u.String(), Wait: time.Duration(wait) * time.Second}
	default:
		s.logger.Debug("unsupported method", "method", msg.Method)
		if msg.ID != nil {
			return s.write(&Message{
				ID:    msg.ID,
				Error: []byte(fmt.Sprintf(`[%d,"Method '%s' not supported",null]`, ErrorMethodNotFound, msg.Method)),
			})
		}
	}
	return nil
}

func (s *Session) reply(id any, result any) error {
	if id == nil {
		return nil
	}
	resp, err := NewResponse(id, result)
	if err != nil {
		return err
	}
	return s.write(resp)
}

func (s *Session) handleResponse(msg *Message) {
	id, ok := msg.IDNumber()
	if !ok || id < reservedIDs {
		return
	}
	s.mu.Lock()
	ch, found := s.pending[id]
	delete(s.pending, id)
	s.mu.Unlock()
	if !found {
		s.logger.Debug("response for unknown request", "id", id)
		return
	}
	reason := msg.ErrorReason()
	ch <- SubmitResult{
		ID:       id,
		Accepted: msg.ResultBool() && reason == "",
		Reason:   reason,
	}
}

func (s *Session) handleNotify(msg *Message) error {
	n, err := ParseNotify(msg.Params)
	if err != nil {
		s.logger.WithError(err).Warn("ignoring malformed notify")
		return nil
	}

	s.mu.Lock()
	job := &work.StratumJob{
		ID:             n.JobID,
		PrevHash:       n.PrevHash,
		Coinbase1:      n.Coinbase1,
		Coinbase2:      n.Coinbase2,
		MerkleBranches: n.MerkleBranches,
		Version:        n.Version,
		Nbits:          n.Nbits,
		Ntime:          n.Ntime,
		Clean:          n.Clean,
		Diff:           s.diff,
		Height:         assembler.CoinbaseHeight(n.Coinbase1),
		Received:       time.Now(),
	}
	if s.job != nil && s.job.ID == job.ID && len(s.job.Xnonce2) == s.xnonce2Size {
		job.Xnonce2 = append([]byte(nil), s.job.Xnonce2...)
	} else {
		job.Xnonce2 = make([]byte, s.xnonce2Size)
	}
	s.job = job
	out := job.Clone()
	s.mu.Unlock()

	if s.logger.Enabled(context.Background(), slog.LevelDebug) {
		s.logger.Debug("notify", "job", spew.Sdump(n))
	}
	s.listener.OnJob(out)
	return nil
}

// Job returns a copy of the latest job, or nil before the first notify
func (s *Session) Job() *work.StratumJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.job == nil {
		return nil
	}
	return s.job.Clone()
}

// NextXnonce2 increments the current job's extranonce2 and returns a
// copy of the job, or nil before the first notify.
func (s *Session) NextXnonce2() *work.StratumJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.job == nil {
		return nil
	}
	s.job.IncrementXnonce2()
	return s.job.Clone()
}

// Extranonce returns extranonce1 and the extranonce2 size
func (s *Session) Extranonce() ([]byte, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.xnonce1...), s.xnonce2Size
}

// Difficulty returns the share difficulty for the next job
func (s *Session) Difficulty() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.diff
}

// User returns the authorized user name
func (s *Session) User() string { return s.cfg.User }

// Binary reports whether the session uses the framed codec
func (s *Session) Binary() bool { return s.cfg.Binary }

// Submit sends mining.submit and returns its id and a channel receiving
// the pool's answer.
func (s *Session) Submit(params []any) (uint64, <-chan SubmitResult, error) {
	if s.State() != Active {
		return 0, nil, errors.New(errors.ErrorTypeTransport, "stratum.submit", "session not active")
	}
	id := s.nextID.Add(1) - 1
	ch := make(chan SubmitResult, 1)
	s.mu.Lock()
	s.pending[id] = ch
	s.mu.Unlock()

	if err := s.write(NewRequest(id, "mining.submit", params)); err != nil {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		return 0, nil, err
	}
	return id, ch, nil
}

// Pending returns the number of submissions awaiting a reply
func (s *Session) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Session) write(msg *Message) error {
	data, err := s.codec.Encode(msg)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "stratum.write", "encode")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.cfg.Timeout)); err != nil {
		return errors.Wrap(err, errors.ErrorTypeTransport, "stratum.write", "set deadline")
	}
	if _, err := s.conn.Write(data); err != nil {
		return errors.Wrap(err, errors.ErrorTypeTransport, "stratum.write", "write failed")
	}
	if s.codec.Name() == "json" {
		s.logger.LogStratumMessage("sent", data[:len(data)-1])
	}
	return nil
}

// Close drops the connection and fails every pending submission
func (s *Session) Close() {
	s.state.Store(int32(Disconnected))
	if s.conn != nil {
		_ = s.conn.Close()
	}
	s.mu.Lock()
	pending := s.pending
	s.pending = make(map[uint64]chan SubmitResult)
	s.mu.Unlock()
	for id, ch := range pending {
		ch <- SubmitResult{ID: id, Err: ErrDisconnected}
	}
}
