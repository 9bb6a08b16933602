package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"minefield.ai/internal/protocol"
	"minefield.ai/internal/transport/ws"
)

func main() {
	var (
		url    = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name   = flag.String("name", "bot", "player name prefix")
		n      = flag.Int("n", 1, "number of concurrent bots")
		moves  = flag.Int("moves", 200, "max actions per bot")
		game   = flag.String("game", "bots", "game id to create or join")
		seed   = flag.String("seed", "", "seed text used when the game is created")
		secret = flag.String("secret", "", "mint HS256 tokens with this secret")
		issuer = flag.String("issuer", "minefield", "token issuer")
		delay  = flag.Duration("delay", 50*time.Millisecond, "pause between actions")
	)
	flag.Parse()

	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	stop := make(chan struct{})
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	go func() {
		<-sig
		close(stop)
	}()

	var wg sync.WaitGroup
	for i := 0; i < *n; i++ {
		b := &bot{
			name:   fmt.Sprintf("%s%d", *name, i),
			game:   *game,
			seed:   *seed,
			moves:  *moves,
			delay:  *delay,
			rng:    rand.New(rand.NewSource(time.Now().UnixNano() + int64(i))),
			stop:   stop,
			logger: logger.WithField("bot", i),
		}
		if *secret != "" {
			tok, err := ws.MintToken(*secret, *issuer, b.name, b.name, time.Hour)
			if err != nil {
				logger.WithError(err).Fatal("mint token")
			}
			b.token = tok
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := b.run(*url); err != nil {
				b.logger.WithError(err).Warn("bot stopped")
			}
		}()
	}
	wg.Wait()
}

type bot struct {
	name   string
	token  string
	game   string
	seed   string
	moves  int
	delay  time.Duration
	rng    *rand.Rand
	stop   <-chan struct{}
	logger *logrus.Entry

	conn      *websocket.Conn
	playerID  string
	chunkSize int
	reqSeq    int
	revealed  map[[2]int]bool
}

var errMineHit = errors.New("hit a mine")

func (b *bot) run(url string) error {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	b.conn = conn
	b.revealed = map[[2]int]bool{}

	hello := protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, PlayerName: b.name}
	if b.token != "" {
		hello.Auth = &protocol.HelloAuth{Token: b.token}
	}
	if err := conn.WriteJSON(hello); err != nil {
		return fmt.Errorf("send HELLO: %w", err)
	}
	var welcome protocol.WelcomeMsg
	if err := b.await(protocol.TypeWelcome, "", &welcome); err != nil {
		return err
	}
	b.playerID = welcome.PlayerID
	b.chunkSize = welcome.ChunkSize
	b.logger.WithField("player", b.playerID).Info("welcome")

	create := protocol.CreateGameMsg{Type: protocol.TypeCreateGame, ProtocolVersion: protocol.Version, ReqID: b.nextReq(), GameID: b.game, SeedText: b.seed}
	if err := conn.WriteJSON(create); err != nil {
		return err
	}
	if err := b.await(protocol.TypeGameCreated, create.ReqID, nil); err != nil {
		var pe protoError
		if !errors.As(err, &pe) || pe.Code != protocol.ErrGameExists {
			return err
		}
	}

	join := protocol.JoinGameMsg{Type: protocol.TypeJoinGame, ProtocolVersion: protocol.Version, ReqID: b.nextReq(), GameID: b.game}
	if err := conn.WriteJSON(join); err != nil {
		return err
	}
	if err := b.await(protocol.TypeGameJoined, join.ReqID, nil); err != nil {
		return err
	}
	sub := protocol.SubscribeMsg{Type: protocol.TypeSubscribe, ProtocolVersion: protocol.Version, ReqID: b.nextReq(), Radius: 1}
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}

	for i := 0; i < b.moves; i++ {
		select {
		case <-b.stop:
			return nil
		case <-time.After(b.delay):
		}
		x, y := b.pick()
		act := protocol.ActMsg{Type: protocol.TypeAct, ProtocolVersion: protocol.Version, ReqID: b.nextReq(), Action: "REVEAL", X: x, Y: y}
		if err := conn.WriteJSON(act); err != nil {
			return err
		}
		var res protocol.ResultMsg
		if err := b.await(protocol.TypeResult, act.ReqID, &res); err != nil {
			if errors.Is(err, errMineHit) {
				b.logger.WithFields(logrus.Fields{"x": x, "y": y, "moves": i + 1}).Info("boom")
				return nil
			}
			return err
		}
		if res.Outcome == "MINE_HIT" {
			b.logger.WithFields(logrus.Fields{"x": x, "y": y, "moves": i + 1}).Info("boom")
			return nil
		}
	}
	b.logger.WithField("revealed", len(b.revealed)).Info("done")
	return nil
}

// pick returns a random cell of the subscribed 3x3 chunk square that this
// bot has not seen revealed.
func (b *bot) pick() (int, int) {
	span := 3 * b.chunkSize
	for tries := 0; ; tries++ {
		x := b.rng.Intn(span) - b.chunkSize
		y := b.rng.Intn(span) - b.chunkSize
		if !b.revealed[[2]int{x, y}] || tries > 64 {
			return x, y
		}
	}
}

func (b *bot) nextReq() string {
	b.reqSeq++
	return fmt.Sprintf("%s-%d", b.name, b.reqSeq)
}

type protoError struct {
	Code    string
	Message string
}

func (e protoError) Error() string { return e.Code + ": " + e.Message }

// await reads until a message of type want (matching reqID when set)
// arrives, folding board traffic into the bot's view on the way.
func (b *bot) await(want, reqID string, out any) error {
	for {
		_ = b.conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		_, raw, err := b.conn.ReadMessage()
		if err != nil {
			return err
		}
		base, err := protocol.DecodeBase(raw)
		if err != nil {
			continue
		}
		switch base.Type {
		case protocol.TypeError:
			var e protocol.ErrorMsg
			if err := json.Unmarshal(raw, &e); err != nil {
				return err
			}
			if reqID == "" || e.ReqID == reqID {
				return protoError{Code: e.Code, Message: e.Message}
			}
			b.logger.WithField("code", e.Code).Warn(e.Message)
			continue
		case protocol.TypeChunkState, protocol.TypeChunkUpdate:
			var m protocol.ChunkUpdateMsg
			if err := json.Unmarshal(raw, &m); err == nil {
				b.observe(m.Chunk.Cells)
			}
		case protocol.TypeMineHit:
			var m protocol.MineHitMsg
			if err := json.Unmarshal(raw, &m); err == nil && m.PlayerID == b.playerID && want == protocol.TypeResult {
				return errMineHit
			}
		}
		if base.Type != want || (reqID != "" && base.ReqID != reqID) {
			continue
		}
		if out == nil {
			return nil
		}
		if want == protocol.TypeResult {
			var res protocol.ResultMsg
			if err := json.Unmarshal(raw, &res); err != nil {
				return err
			}
			b.observe(res.Cells)
			*(out.(*protocol.ResultMsg)) = res
			return nil
		}
		return json.Unmarshal(raw, out)
	}
}

func (b *bot) observe(cells []protocol.CellObs) {
	for _, c := range cells {
		if c.Revealed {
			b.revealed[[2]int{c.X, c.Y}] = true
		}
	}
}
