// Game of Elements
//
// Each round every player secretly picks one of five elements: Fire, Water,
// Earth, Air or Ether. Each element beats two others. Once everyone has
// chosen, the players whose element nobody else's beats win the round.
//
// Features:
// - Games created at $path (redirect) or by POST to $path (JSON)
// - WebSockets per game ID: /path/:gameid and /path/:gameid/ws
// - Games start automatically once the requested number of players joined
// - Choices are hidden until every player has chosen
// - Errors are sent only to the client that caused them
// - Winners score a point; reaching the target score ends the match
// - Players leaving return the game to the lobby
// - Games auto-reaped after configurable idle timeout
// - In-browser QR code for the join link, backed by go-qrcode

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"

	"github.com/Seednode/elements/elements"
	"github.com/Seednode/elements/rooms"
)

const gamePath = "/elements"

type Client struct {
	conn   *websocket.Conn
	send   chan any
	connID string

	// name is only touched by the client's read pump.
	name string
}

// Hub fans messages out to every client connected to one game.
type Hub struct {
	id      string
	mu      sync.Mutex
	clients map[*Client]bool
}

func newHub(gameID string) *Hub {
	return &Hub{
		id:      gameID,
		clients: make(map[*Client]bool),
	}
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[c] = true
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) empty() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.clients) == 0
}

// sendLocked drops clients that cannot keep up.
func (h *Hub) sendLocked(c *Client, msg any) {
	select {
	case c.send <- msg:
	default:
		delete(h.clients, c)
		close(c.send)
	}
}

// sendTo delivers msg to a single client if it is still connected.
func (h *Hub) sendTo(c *Client, msg any) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.clients[c] {
		h.sendLocked(c, msg)
	}
}

func (h *Hub) broadcast(msg any) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		h.sendLocked(c, msg)
	}
}

// closeAll disconnects all clients of this hub (used by reaper).
func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for c := range h.clients {
		close(c.send)
		_ = c.conn.Close()
		delete(h.clients, c)
	}
}

// GameManager owns the room registry and one hub per game. It is the
// registry's Broadcaster.
type GameManager struct {
	cfg   *Config
	rooms *rooms.Registry

	mu   sync.Mutex
	hubs map[string]*Hub
}

func newGameManager(cfg *Config, opts ...rooms.Option) *GameManager {
	gm := &GameManager{
		cfg:  cfg,
		hubs: make(map[string]*Hub),
	}
	opts = append([]rooms.Option{rooms.WithTargetScore(cfg.targetScore)}, opts...)
	gm.rooms = rooms.NewRegistry(gm, opts...)
	return gm
}

// Broadcast implements rooms.Broadcaster.
func (gm *GameManager) Broadcast(gameID string, ev rooms.Event) {
	gm.mu.Lock()
	hub := gm.hubs[gameID]
	gm.mu.Unlock()

	if hub == nil {
		return
	}

	hub.broadcast(EventMessage{Type: ev.Kind(), Data: ev})
}

// attach registers c with the hub for gameID, creating the hub on first
// use.
func (gm *GameManager) attach(gameID string, c *Client) *Hub {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	hub, ok := gm.hubs[gameID]
	if !ok {
		hub = newHub(gameID)
		gm.hubs[gameID] = hub
	}
	hub.register(c)
	return hub
}

// detach unregisters c and drops its hub once the last client is gone.
func (gm *GameManager) detach(h *Hub, c *Client) {
	gm.mu.Lock()
	defer gm.mu.Unlock()

	h.unregister(c)
	if h.empty() && gm.hubs[h.id] == h {
		delete(gm.hubs, h.id)
	}
}

func (gm *GameManager) createGame(capacity int) (*rooms.Session, error) {
	if capacity > gm.cfg.maxPlayers {
		return nil, fmt.Errorf("%w: at most %d players per game", rooms.ErrInvalidCapacity, gm.cfg.maxPlayers)
	}

	sess, err := gm.rooms.Create(capacity)
	if err != nil {
		if errors.Is(err, rooms.ErrIdentifierCollision) {
			log.Printf("%s | ERROR: %v", time.Now().Format(logDate), err)
		}
		return nil, err
	}

	logf(gm.cfg, "GAMES: Created game %s for %d players", sess.ID(), capacity)
	return sess, nil
}

// reap ends games that have been idle longer than the session timeout.
func (gm *GameManager) reap(now time.Time) {
	evicted := gm.rooms.Reap(now.Add(-gm.cfg.sessionTimeout))

	for _, id := range evicted {
		gm.mu.Lock()
		hub := gm.hubs[id]
		delete(gm.hubs, id)
		gm.mu.Unlock()

		if hub != nil {
			hub.closeAll()
		}
		logf(gm.cfg, "GAMES: Ended idle game %s", id)
	}
}

// reaperLoop periodically removes games that have been idle longer than
// the session timeout.
func (gm *GameManager) reaperLoop(ctx context.Context) error {
	if gm.cfg.sessionTimeout <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(gm.cfg.sessionTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			gm.reap(now)
		}
	}
}

// close disconnects everyone and drops every game.
func (gm *GameManager) close() error {
	gm.mu.Lock()
	hubs := gm.hubs
	gm.hubs = make(map[string]*Hub)
	gm.mu.Unlock()

	for _, hub := range hubs {
		hub.closeAll()
	}

	return gm.rooms.Close()
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocket handler that picks the game based on :gameid
func serveWSForManager(cfg *Config, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		gameID := ps.ByName("gameid")

		sess, err := gm.rooms.Lookup(gameID)
		if err != nil {
			http.Error(w, "game not found", http.StatusNotFound)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logf(cfg, "ERROR: websocket upgrade for %s: %v", gameID, err)
			return
		}

		client := &Client{
			conn:   conn,
			send:   make(chan any, 16),
			connID: uuid.NewString(),
		}

		// The snapshot must reach the client ahead of any later event.
		var hub *Hub
		sess.Observe(func(snap rooms.Snapshot) {
			hub = gm.attach(gameID, client)
			hub.sendTo(client, SnapshotMessage{
				Type:    "snapshot",
				Session: snap,
				Rules:   elements.Standard.Describe(),
			})
		})

		go client.writePump()
		client.readPump(cfg, gm, hub, sess)
	}
}

func (c *Client) readPump(cfg *Config, gm *GameManager, h *Hub, sess *rooms.Session) {
	defer func() {
		gm.detach(h, c)
		_ = c.conn.Close()

		if name, ok := sess.Leave(c.connID); ok {
			logf(cfg, "GAMES: Player %q left %s", name, sess.ID())
		}
	}()

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		cmd, err := msg.command(sess.ID())
		if err == nil {
			err = c.handle(cfg, h, sess, cmd)
		}
		if err != nil {
			h.sendTo(c, newErrorMessage(err))
		}
	}
}

func (c *Client) handle(cfg *Config, h *Hub, sess *rooms.Session, cmd command) error {
	switch cmd := cmd.(type) {
	case joinCommand:
		if c.name != "" {
			return errAlreadyJoined
		}
		if err := sess.Join(cmd.playerName, c.connID); err != nil {
			return err
		}
		c.name = cmd.playerName
		logf(cfg, "GAMES: Player %q joined %s", c.name, sess.ID())

		h.sendTo(c, JoinedMessage{
			Type:       "joined",
			Success:    true,
			PlayerName: c.name,
		})
		return nil

	case chooseCommand:
		if c.name == "" {
			return errNotJoined
		}
		if cmd.playerName != "" && cmd.playerName != c.name {
			return errPlayerMismatch
		}
		return sess.SubmitChoice(c.name, cmd.element)

	case advanceCommand:
		if c.name == "" {
			return errNotJoined
		}
		return sess.AdvanceRound()

	case resetCommand:
		if c.name == "" {
			return errNotJoined
		}
		logf(cfg, "GAMES: Player %q reset %s", c.name, sess.ID())
		return sess.ResetGame()
	}

	return errUnknownMessage
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// joinLink is the URL players open to join a game, respecting TLS and
// X-Forwarded-Proto if present.
func joinLink(cfg *Config, r *http.Request, gameID string) string {
	scheme := cfg.scheme()
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	return scheme + "://" + r.Host + cfg.prefix + gamePath + "/" + gameID
}

// QR handler: generates a PNG QR code for the game's join link using go-qrcode.
func qrHandler(cfg *Config, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		gameID := ps.ByName("gameid")
		if _, err := gm.rooms.Lookup(gameID); err != nil {
			http.Error(w, "game not found", http.StatusNotFound)
			return
		}

		const qrSize = 320 // mobile-friendly size
		png, err := qrcode.Encode(joinLink(cfg, r, gameID), qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		securityHeaders(cfg, w)
		_, _ = w.Write(png)
	}
}

func writeJSON(cfg *Config, w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	securityHeaders(cfg, w)
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(v)
}

func writeError(cfg *Config, w http.ResponseWriter, status int, err error) {
	writeJSON(cfg, w, status, newErrorMessage(err))
}

// createGameHandler handles POST /path with {"capacity": N} and returns the
// new game's ID and join link.
func createGameHandler(cfg *Config, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var req CreateRequest

		r.Body = http.MaxBytesReader(w, r.Body, 1<<10)
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(cfg, w, http.StatusBadRequest, fmt.Errorf("%w: %v", errInvalidRequest, err))
			return
		}

		sess, err := gm.createGame(req.Capacity)
		switch {
		case errors.Is(err, rooms.ErrIdentifierCollision):
			writeError(cfg, w, http.StatusInternalServerError, err)
			return
		case err != nil:
			writeError(cfg, w, http.StatusBadRequest, err)
			return
		}

		writeJSON(cfg, w, http.StatusCreated, CreateResponse{
			SessionID: sess.ID(),
			JoinLink:  joinLink(cfg, r, sess.ID()),
		})
	}
}

// redirectNewGame handles GET /path?players=N by creating a new game and
// redirecting to /path/:gameid.
func redirectNewGame(cfg *Config, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		capacity := cfg.defaultPlayers
		if s := r.URL.Query().Get("players"); s != "" {
			n, err := strconv.Atoi(s)
			if err != nil {
				http.Error(w, "invalid number of players", http.StatusBadRequest)
				return
			}
			capacity = n
		}

		sess, err := gm.createGame(capacity)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		http.Redirect(w, r, cfg.prefix+gamePath+"/"+sess.ID(), http.StatusSeeOther)
	}
}

func serveState(cfg *Config, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		sess, err := gm.rooms.Lookup(ps.ByName("gameid"))
		if err != nil {
			writeError(cfg, w, http.StatusNotFound, err)
			return
		}

		writeJSON(cfg, w, http.StatusOK, sess.Snapshot())
	}
}

var gamePage = template.Must(template.ParseFS(assets, "assets/elements/index.html"))

type gamePageData struct {
	Prefix string
	GameID string
	Rules  []string
}

func serveGamePage(cfg *Config, gm *GameManager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		gameID := ps.ByName("gameid")

		if _, err := gm.rooms.Lookup(gameID); err != nil {
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			securityHeaders(cfg, w)
			w.WriteHeader(http.StatusNotFound)

			_, _ = w.Write([]byte(newPage("Game Not Found", "This game does not exist or has ended.")))
			return
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		securityHeaders(cfg, w)

		err := gamePage.Execute(w, gamePageData{
			Prefix: cfg.prefix,
			GameID: gameID,
			Rules:  elements.Standard.Describe(),
		})
		if err != nil {
			logf(cfg, "ERROR: rendering game page: %v", err)
		}
	}
}

// registerElementsGame sets up routes so that:
//   - GET  $path?players=N  → redirects to a new game
//   - POST $path            → creates a game, returns its ID and join link
//   - $path/:gameid         → HTML client
//   - $path/:gameid/state   → JSON snapshot of the game
//   - $path/:gameid/ws      → WebSocket for that game
//   - $path/:gameid/qr      → PNG QR code for the join link
func registerElementsGame(cfg *Config, gm *GameManager, mux *httprouter.Router) {
	path := cfg.prefix + gamePath

	mux.GET(path, redirectNewGame(cfg, gm))
	mux.POST(path, createGameHandler(cfg, gm))

	mux.GET(path+"/:gameid", serveGamePage(cfg, gm))
	mux.GET(path+"/:gameid/state", serveState(cfg, gm))
	mux.GET(path+"/:gameid/ws", serveWSForManager(cfg, gm))
	mux.GET(path+"/:gameid/qr", qrHandler(cfg, gm))
}
