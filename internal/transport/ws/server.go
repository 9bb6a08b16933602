package ws

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"minefield.ai/internal/protocol"
	"minefield.ai/internal/sim/interest"
	"minefield.ai/internal/sim/multiworld"
	"minefield.ai/internal/sim/world"
	"minefield.ai/internal/sim/world/chunks"
)

type Options struct {
	Auth   *Authenticator
	Logger logrus.FieldLogger
}

type Server struct {
	reg  *multiworld.Registry
	in   *interest.Registry
	auth *Authenticator
	log  logrus.FieldLogger

	upgrader websocket.Upgrader

	maxRadius int
	maxChunks int
	queueSize int

	mu       sync.RWMutex
	sessions map[string]*session

	dropped atomic.Uint64
}

type session struct {
	id     string
	player string
	out    chan []byte

	// Owned by the connection's reader goroutine.
	game    string
	watched map[interest.Key]struct{}
}

// NewServer wires itself as the chunk listener of reg, so it must be created
// before any game starts.
func NewServer(reg *multiworld.Registry, opts Options) *Server {
	log := opts.Logger
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	cfg := reg.Config().Server
	s := &Server{
		reg:  reg,
		in:   reg.Interest(),
		auth: opts.Auth,
		log:  log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
		maxRadius: interest.ClampInt(cfg.MaxSubscribeRadius, 0, 32, 4),
		maxChunks: interest.ClampInt(cfg.MaxSubscribedChunks, 1, 4096, 81),
		queueSize: interest.ClampInt(cfg.SessionQueue, 8, 8192, 256),
		sessions:  map[string]*session{},
	}
	reg.SetChunkListener(s.onChunkUpdate)
	return s
}

func (s *Server) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Dropped counts messages discarded because a session queue was full.
func (s *Server) Dropped() uint64 { return s.dropped.Load() }

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sess := s.handshake(conn)
		if sess == nil {
			return
		}
		log := s.log.WithFields(logrus.Fields{"session": sess.id, "player": sess.player})
		log.Debug("session opened")

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		writerDone := make(chan struct{})
		go func() {
			defer close(writerDone)
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-sess.out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			s.dispatch(ctx, sess, msg)
		}

		cancel()
		<-writerDone
		s.mu.Lock()
		delete(s.sessions, sess.id)
		s.mu.Unlock()
		s.in.RemoveSession(sess.id)
		log.Debug("session closed")
	}
}

func (s *Server) handshake(conn *websocket.Conn) *session {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}
	var hello protocol.HelloMsg
	if err := protocol.DecodeValidated(protocol.TypeHello, msg, &hello); err != nil {
		closeWith(conn, websocket.ClosePolicyViolation, "expected HELLO")
		return nil
	}
	if hello.ProtocolVersion != protocol.Version {
		closeWith(conn, websocket.ClosePolicyViolation, "bad protocol_version")
		return nil
	}

	player := ""
	if s.auth != nil {
		token := ""
		if hello.Auth != nil {
			token = strings.TrimSpace(hello.Auth.Token)
		}
		id, _, err := s.auth.Validate(token)
		if err != nil {
			_ = writeJSON(conn, protocol.NewError("", protocol.ErrUnauthorized, err.Error()))
			closeWith(conn, websocket.ClosePolicyViolation, "unauthorized")
			return nil
		}
		player = id
	} else {
		player = hello.PlayerName + "-" + uuid.NewString()[:8]
	}

	sess := &session{
		id:      uuid.NewString(),
		player:  player,
		out:     make(chan []byte, s.queueSize),
		watched: map[interest.Key]struct{}{},
	}
	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sess.id,
		PlayerID:        player,
		ChunkSize:       chunks.Size,
		Games:           s.reg.IDs(),
	}
	if err := writeJSON(conn, welcome); err != nil {
		return nil
	}
	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	return sess
}

func (s *Server) dispatch(ctx context.Context, sess *session, msg []byte) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		s.reply(sess, protocol.NewError("", protocol.ErrProtoBadRequest, "malformed message"))
		return
	}
	if base.ProtocolVersion != protocol.Version {
		s.reply(sess, protocol.NewError(base.ReqID, protocol.ErrProtoBadRequest, "bad protocol_version"))
		return
	}
	switch base.Type {
	case protocol.TypeCreateGame:
		var m protocol.CreateGameMsg
		if err := protocol.DecodeValidated(base.Type, msg, &m); err != nil {
			s.reply(sess, protocol.NewError(base.ReqID, protocol.ErrBadRequest, err.Error()))
			return
		}
		s.handleCreate(ctx, sess, m)
	case protocol.TypeJoinGame:
		var m protocol.JoinGameMsg
		if err := protocol.DecodeValidated(base.Type, msg, &m); err != nil {
			s.reply(sess, protocol.NewError(base.ReqID, protocol.ErrBadRequest, err.Error()))
			return
		}
		s.handleJoin(sess, m)
	case protocol.TypeSubscribe:
		var m protocol.SubscribeMsg
		if err := protocol.DecodeValidated(base.Type, msg, &m); err != nil {
			s.reply(sess, protocol.NewError(base.ReqID, protocol.ErrBadRequest, err.Error()))
			return
		}
		s.handleSubscribe(ctx, sess, m)
	case protocol.TypeAct:
		var m protocol.ActMsg
		if err := protocol.DecodeValidated(base.Type, msg, &m); err != nil {
			s.reply(sess, protocol.NewError(base.ReqID, protocol.ErrBadRequest, err.Error()))
			return
		}
		s.handleAct(ctx, sess, m)
	default:
		s.reply(sess, protocol.NewError(base.ReqID, protocol.ErrProtoBadRequest, "unsupported message type "+base.Type))
	}
}

func (s *Server) handleCreate(ctx context.Context, sess *session, m protocol.CreateGameMsg) {
	g, err := s.reg.Create(ctx, multiworld.GameSpec{
		ID:            m.GameID,
		Seed:          m.Seed,
		SeedText:      m.SeedText,
		MineThreshold: m.MineThreshold,
	})
	if err != nil {
		s.reply(sess, protocol.NewError(m.ReqID, errorCode(err), err.Error()))
		return
	}
	cfg := g.Config()
	s.reply(sess, protocol.GameCreatedMsg{
		Type:            protocol.TypeGameCreated,
		ProtocolVersion: protocol.Version,
		ReqID:           m.ReqID,
		GameID:          cfg.ID,
		Seed:            cfg.Seed,
		MineThreshold:   cfg.MineThreshold,
	})
}

func (s *Server) handleJoin(sess *session, m protocol.JoinGameMsg) {
	g, err := s.reg.Get(m.GameID)
	if err != nil {
		s.reply(sess, protocol.NewError(m.ReqID, errorCode(err), err.Error()))
		return
	}
	if sess.game != "" && sess.game != m.GameID {
		s.in.Replace(sess.game, sess.id, nil)
		sess.watched = map[interest.Key]struct{}{}
	}
	sess.game = m.GameID
	st := g.Stats()
	s.reply(sess, protocol.GameJoinedMsg{
		Type:            protocol.TypeGameJoined,
		ProtocolVersion: protocol.Version,
		ReqID:           m.ReqID,
		GameID:          m.GameID,
		Stats: protocol.GameStats{
			Actions:      st.Actions,
			MineHits:     st.MineHits,
			Chunks:       st.Chunks,
			PendingFills: st.PendingFills,
		},
	})
}

// handleSubscribe replaces the session's watched chunks. Chunks that become
// active replay their parked fills first; every newly watched chunk is then
// sent in full.
func (s *Server) handleSubscribe(ctx context.Context, sess *session, m protocol.SubscribeMsg) {
	if sess.game == "" {
		s.reply(sess, protocol.NewError(m.ReqID, protocol.ErrNotJoined, "join a game first"))
		return
	}
	g, err := s.reg.Get(sess.game)
	if err != nil {
		s.reply(sess, protocol.NewError(m.ReqID, errorCode(err), err.Error()))
		return
	}
	radius := interest.ClampInt(m.Radius, 0, s.maxRadius, 0)
	wanted := interest.ComputeWantedChunks([]interest.Key{{CX: m.Center[0], CY: m.Center[1]}}, radius, s.maxChunks)

	activated, _ := s.in.Replace(sess.game, sess.id, wanted)
	for _, k := range activated {
		if _, err := s.reg.Activate(ctx, sess.game, k); err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{"game": sess.game, "cx": k.CX, "cy": k.CY}).Warn("activate chunk failed")
		}
	}

	next := make(map[interest.Key]struct{}, len(wanted))
	for _, k := range wanted {
		next[k] = struct{}{}
		if _, ok := sess.watched[k]; ok {
			continue
		}
		s.reply(sess, protocol.ChunkStateMsg{
			Type:            protocol.TypeChunkState,
			ProtocolVersion: protocol.Version,
			GameID:          sess.game,
			Chunk:           chunkStateObs(g.ChunkView(k.CX, k.CY)),
		})
	}
	sess.watched = next
}

func (s *Server) handleAct(ctx context.Context, sess *session, m protocol.ActMsg) {
	if sess.game == "" {
		s.reply(sess, protocol.NewError(m.ReqID, protocol.ErrNotJoined, "join a game first"))
		return
	}
	act := world.Action{Kind: world.ActionKind(m.Action), X: m.X, Y: m.Y, Player: sess.player}
	res, err := s.reg.Do(ctx, sess.game, act)
	if err != nil {
		s.reply(sess, protocol.NewError(m.ReqID, errorCode(err), err.Error()))
		return
	}
	s.reply(sess, protocol.ResultMsg{
		Type:            protocol.TypeResult,
		ProtocolVersion: protocol.Version,
		ReqID:           m.ReqID,
		GameID:          sess.game,
		Action:          string(res.Kind),
		X:               res.X,
		Y:               res.Y,
		Outcome:         string(res.Outcome),
		Cells:           cellsObs(res.Cells),
	})
	s.publishLocal(sess.game, act, res)
	if res.MineHit() {
		cx, cy := chunks.GlobalToChunk(res.Mine.X, res.Mine.Y)
		s.publish(sess.game, cx, cy, protocol.MineHitMsg{
			Type:            protocol.TypeMineHit,
			ProtocolVersion: protocol.Version,
			GameID:          sess.game,
			PlayerID:        sess.player,
			X:               res.Mine.X,
			Y:               res.Mine.Y,
		})
	}
}

// publishLocal sends the cells an action changed in the chunks it was aimed
// at. Propagation into other chunks is published by onChunkUpdate.
func (s *Server) publishLocal(game string, act world.Action, res world.Result) {
	if len(res.Cells) == 0 {
		return
	}
	aimed := map[string]bool{chunks.ChunkID(chunks.GlobalToChunk(act.X, act.Y)): true}
	if act.Kind == world.ActionChord {
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				aimed[chunks.ChunkID(chunks.GlobalToChunk(act.X+dx, act.Y+dy))] = true
			}
		}
	}
	ids, groups := groupByChunk(res.Cells)
	for _, id := range ids {
		if !aimed[id] {
			continue
		}
		cx, cy, _ := chunks.ParseChunkID(id)
		s.publish(game, cx, cy, protocol.ChunkUpdateMsg{
			Type:            protocol.TypeChunkUpdate,
			ProtocolVersion: protocol.Version,
			GameID:          game,
			Chunk:           protocol.ChunkObs{ID: id, CX: cx, CY: cy, Cells: cellsObs(groups[id])},
		})
	}
}

// onChunkUpdate runs on a game's runtime goroutine and never blocks.
func (s *Server) onChunkUpdate(game string, v world.ChunkView) {
	s.publish(game, v.CX, v.CY, protocol.ChunkUpdateMsg{
		Type:            protocol.TypeChunkUpdate,
		ProtocolVersion: protocol.Version,
		GameID:          game,
		Chunk:           chunkObs(v),
	})
}

// publish sends v to every session watching chunk (cx,cy) of game.
func (s *Server) publish(game string, cx, cy int, v any) {
	subs := s.in.Subscribers(game, cx, cy)
	if len(subs) == 0 {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		s.log.WithError(err).Error("marshal broadcast")
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range subs {
		if sess := s.sessions[id]; sess != nil {
			s.enqueue(sess, b)
		}
	}
}

func (s *Server) reply(sess *session, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		s.log.WithError(err).Error("marshal reply")
		return
	}
	s.enqueue(sess, b)
}

func (s *Server) enqueue(sess *session, b []byte) {
	select {
	case sess.out <- b:
	default:
		s.dropped.Add(1)
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, multiworld.ErrGameNotFound):
		return protocol.ErrGameNotFound
	case errors.Is(err, multiworld.ErrGameExists):
		return protocol.ErrGameExists
	case errors.Is(err, world.ErrInvalidCoordinate):
		return protocol.ErrInvalidTarget
	case errors.Is(err, world.ErrUnknownAction):
		return protocol.ErrBadRequest
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, world.ErrStopped), errors.Is(err, multiworld.ErrClosed):
		return protocol.ErrGameBusy
	default:
		return protocol.ErrInternal
	}
}

func closeWith(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
