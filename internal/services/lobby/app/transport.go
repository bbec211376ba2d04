package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/net/websocket"

	apperrors "github.com/sprangg/Zero-K-Infrastructure/internal/platform/errors"
	"github.com/sprangg/Zero-K-Infrastructure/internal/platform/timeouts"
	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/domain"
	"github.com/sprangg/Zero-K-Infrastructure/internal/services/lobby/domain/battle"
)

// outboundQueueSize bounds the frames buffered for one slow client before
// it is disconnected.
const outboundQueueSize = 64

var (
	errPeerClosed    = errors.New("client connection closed")
	errPeerQueueFull = errors.New("client send queue full")
)

// frameConn is the write side of a client connection.
type frameConn interface {
	io.Writer
	io.Closer
	SetWriteDeadline(t time.Time) error
}

// wsPeer queues frames for one client. A single writer goroutine drains the
// queue, so senders never wait on the network.
type wsPeer struct {
	conn frameConn
	out  chan wsFrame
	done chan struct{}

	once   sync.Once
	closed chan struct{}
}

func newWSPeer(conn frameConn) *wsPeer {
	p := &wsPeer{
		conn:   conn,
		out:    make(chan wsFrame, outboundQueueSize),
		done:   make(chan struct{}),
		closed: make(chan struct{}),
	}
	go p.writeLoop()
	return p
}

// writeFrame queues frame without blocking. A full queue disconnects the
// client.
func (p *wsPeer) writeFrame(frame wsFrame) error {
	select {
	case <-p.done:
		return errPeerClosed
	default:
	}
	select {
	case p.out <- frame:
		return nil
	default:
		p.abort()
		return errPeerQueueFull
	}
}

func (p *wsPeer) writeLoop() {
	defer close(p.closed)
	encoder := json.NewEncoder(p.conn)
	write := func(frame wsFrame) bool {
		_ = p.conn.SetWriteDeadline(time.Now().Add(timeouts.ClientSend))
		return encoder.Encode(frame) == nil
	}
	for {
		select {
		case frame := <-p.out:
			if !write(frame) {
				p.abort()
				return
			}
		case <-p.done:
			// Flush what was queued before close.
			for {
				select {
				case frame := <-p.out:
					if !write(frame) {
						_ = p.conn.Close()
						return
					}
				default:
					_ = p.conn.Close()
					return
				}
			}
		}
	}
}

// close stops accepting frames, flushes the queue and closes the connection.
func (p *wsPeer) close() {
	p.once.Do(func() { close(p.done) })
}

// shutdown closes the peer and waits up to wait for the flush.
func (p *wsPeer) shutdown(wait time.Duration) {
	p.close()
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-p.closed:
	case <-timer.C:
		p.abort()
	}
}

// abort closes the connection without flushing.
func (p *wsPeer) abort() {
	p.once.Do(func() { close(p.done) })
	_ = p.conn.Close()
}

// wsSession is one client connection. name is empty until login.
type wsSession struct {
	peer *wsPeer
	name string
}

// NewHandler serves the lobby websocket at /ws and a liveness probe at /up.
func NewHandler(lobby *Lobby, users *Users) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	wsHandler := websocket.Handler(func(conn *websocket.Conn) {
		handleWSConn(conn, lobby, users)
	})
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		wsHandler.ServeHTTP(w, r)
	})
	return mux
}

func handleWSConn(conn *websocket.Conn, lobby *Lobby, users *Users) {
	peer := newWSPeer(conn)
	session := &wsSession{peer: peer}
	ctx := context.Background()
	if req := conn.Request(); req != nil {
		ctx = req.Context()
	}
	defer peer.shutdown(timeouts.ClientSend)
	defer func() {
		if session.name == "" {
			return
		}
		// Detached: the request context is already cancelled here.
		disconnect(context.WithoutCancel(ctx), lobby, users, session)
	}()

	decoder := json.NewDecoder(conn)
	windowStart := time.Now()
	framesInWindow := 0
	decodeErrors := 0

	for {
		var frame wsFrame
		if err := decoder.Decode(&frame); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return
			}
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if !errors.As(err, &syntaxErr) && !errors.As(err, &typeErr) {
				return
			}
			decodeErrors++
			_ = writeWSError(peer, "", apperrors.CodeInvalidArgument, "invalid frame payload")
			if decodeErrors >= maxDecodeErrorsPerConn {
				return
			}
			decoder = json.NewDecoder(conn)
			continue
		}
		decodeErrors = 0

		if len(frame.Payload) > maxFramePayloadBytes {
			_ = writeWSError(peer, frame.RequestID, apperrors.CodeInvalidArgument, "payload too large")
			continue
		}

		now := time.Now()
		if now.Sub(windowStart) >= time.Second {
			windowStart = now
			framesInWindow = 0
		}
		framesInWindow++
		if framesInWindow > maxFramesPerSecond {
			_ = writeWSError(peer, frame.RequestID, apperrors.CodeInvalidArgument, "rate limit exceeded")
			return
		}

		if frame.Type != "login" && session.name == "" {
			_ = writeWSError(peer, frame.RequestID, apperrors.CodeUserNotConnected, "login first")
			continue
		}

		var err error
		var battleID int
		switch frame.Type {
		case "login":
			err = handleLogin(ctx, lobby, users, session, frame)
		case "open_battle":
			battleID, err = handleOpenBattle(ctx, lobby, session, frame)
		case "join_battle":
			battleID, err = handleJoinBattle(ctx, lobby, session, frame)
		case "leave_battle":
			err = lobby.LeaveBattle(ctx, session.name)
		case "say":
			err = handleSay(ctx, lobby, session, frame)
		case "update_status":
			err = handleUpdateStatus(ctx, lobby, session, frame)
		case "request_connect":
			err = handleRequestConnect(ctx, lobby, session, frame)
		default:
			err = apperrors.New(apperrors.CodeInvalidArgument, "unsupported frame type")
		}
		if err != nil {
			_ = writeWSError(peer, frame.RequestID, apperrors.CodeOf(err), apperrors.MessageOf(err, err.Error()))
			continue
		}
		_ = peer.writeFrame(wsFrame{
			Type:      "ack",
			RequestID: frame.RequestID,
			Payload:   mustJSON(ackPayload{Status: "ok", BattleID: battleID}),
		})
	}
}

func decodePayload(frame wsFrame, target any) error {
	if len(frame.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(frame.Payload, target); err != nil {
		return apperrors.Wrap(apperrors.CodeInvalidArgument, "invalid "+frame.Type+" payload", err)
	}
	return nil
}

func handleLogin(ctx context.Context, lobby *Lobby, users *Users, session *wsSession, frame wsFrame) error {
	if session.name != "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "already logged in as "+session.name)
	}
	var payload loginPayload
	if err := decodePayload(frame, &payload); err != nil {
		return err
	}
	name := strings.TrimSpace(payload.Name)
	if name == "" || strings.ContainsAny(name, " \t\r\n") {
		return apperrors.New(apperrors.CodeInvalidArgument, "name is required and may not contain spaces")
	}
	profile := domain.User{
		Name:        name,
		Elo:         payload.Elo,
		MmElo:       payload.MmElo,
		Level:       payload.Level,
		Rank:        payload.Rank,
		IsModerator: payload.IsModerator,
		IsAway:      payload.IsAway,
		IsBot:       payload.IsBot,
		BanMute:     payload.BanMute,
		BanSpecChat: payload.BanSpecChat,
	}
	if previous := users.Connect(profile, session.peer); previous != nil && previous != framer(session.peer) {
		if p, ok := previous.(*wsPeer); ok {
			p.close()
		}
	}
	session.name = name
	return users.Send(ctx, name, loginAccepted{Name: name, Battles: lobby.Headers()})
}

func handleOpenBattle(ctx context.Context, lobby *Lobby, session *wsSession, frame wsFrame) (int, error) {
	var payload openBattlePayload
	if err := decodePayload(frame, &payload); err != nil {
		return 0, err
	}
	mode, err := domain.ParseMode(payload.Mode)
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CodeInvalidArgument, err.Error(), err)
	}
	b, err := lobby.OpenBattle(ctx, session.name, domain.Header{
		Title:      strings.TrimSpace(payload.Title),
		Mode:       mode,
		Map:        payload.Map,
		Game:       payload.Game,
		Engine:     payload.Engine,
		Password:   payload.Password,
		MaxPlayers: payload.MaxPlayers,
	})
	if err != nil {
		return 0, err
	}
	if err := lobby.JoinBattle(ctx, session.name, b.ID(), payload.Password); err != nil {
		return 0, err
	}
	return b.ID(), nil
}

func handleJoinBattle(ctx context.Context, lobby *Lobby, session *wsSession, frame wsFrame) (int, error) {
	var payload joinBattlePayload
	if err := decodePayload(frame, &payload); err != nil {
		return 0, err
	}
	if err := lobby.JoinBattle(ctx, session.name, payload.BattleID, payload.Password); err != nil {
		return 0, err
	}
	return payload.BattleID, nil
}

func handleSay(ctx context.Context, lobby *Lobby, session *wsSession, frame wsFrame) error {
	var payload sayPayload
	if err := decodePayload(frame, &payload); err != nil {
		return err
	}
	text := strings.TrimSpace(payload.Text)
	if text == "" {
		return apperrors.New(apperrors.CodeInvalidArgument, "text is required")
	}
	if utf8.RuneCountInString(text) > maxSayRunes {
		return apperrors.New(apperrors.CodeInvalidArgument, "text must be at most 2000 characters")
	}
	b, err := lobby.CurrentBattle(session.name)
	if err != nil {
		return err
	}
	return b.Say(ctx, battle.Say{
		User:       session.name,
		Text:       text,
		Place:      battle.PlaceBattle,
		IsEmote:    payload.IsEmote,
		AllowRelay: true,
	})
}

func handleUpdateStatus(ctx context.Context, lobby *Lobby, session *wsSession, frame wsFrame) error {
	var payload updateStatusPayload
	if err := decodePayload(frame, &payload); err != nil {
		return err
	}
	b, err := lobby.CurrentBattle(session.name)
	if err != nil {
		return err
	}
	return b.UpdateMemberStatus(ctx, session.name, payload.IsSpectator, payload.AllyNumber)
}

func handleRequestConnect(ctx context.Context, lobby *Lobby, session *wsSession, frame wsFrame) error {
	var payload requestConnectPayload
	if err := decodePayload(frame, &payload); err != nil {
		return err
	}
	b, ok := lobby.Battle(payload.BattleID)
	if !ok {
		return ErrBattleNotFound
	}
	return b.RequestConnect(ctx, session.name, payload.Password)
}

func disconnect(ctx context.Context, lobby *Lobby, users *Users, session *wsSession) {
	battleID, ok := users.Disconnect(session.name, session.peer)
	if !ok || battleID == 0 {
		return
	}
	b, found := lobby.Battle(battleID)
	if !found {
		return
	}
	if err := b.Leave(ctx, session.name); err != nil && !errors.Is(err, battle.ErrNotMember) {
		log.Printf("lobby: %s leaving battle %d on disconnect: %v", session.name, battleID, err)
	}
}

func writeWSError(peer framer, requestID string, code apperrors.Code, message string) error {
	return peer.writeFrame(wsFrame{
		Type:      "error",
		RequestID: requestID,
		Payload: mustJSON(wsErrorEnvelope{
			Error: wsError{Code: string(code), Message: message},
		}),
	})
}
