// Spectrum websocket transport
//
// One websocket endpoint carries every game: clients send typed JSON
// requests (create_game, join_game, start_game, submit_ranking, next_round)
// and the hub answers the requester directly or broadcasts to the game's
// room. A single hub goroutine drains all request channels, so registry
// operations are applied strictly in arrival order — the all-submitted
// check and the results computation that follows it are atomic as far as
// clients can observe.
//
// Features:
// - Players identified by cookie (playerID), assigned on first page load
// - First submission order fixes consensus tie-breaking for the round
// - Round results are computed exactly once, when the last ranking lands
// - Host disconnect tears down the game for everyone in the room
// - In-browser QR button to share the join code, backed by go-qrcode

package main

import (
	"crypto/rand"
	_ "embed"
	"encoding/hex"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

// Messages coming from clients
type ClientMessage struct {
	Type    string   `json:"type"`              // "create_game", "join_game", "start_game", "submit_ranking", "next_round"
	Name    string   `json:"name,omitempty"`    // create_game / join_game
	Code    string   `json:"code,omitempty"`    // all but create_game
	Ranking []string `json:"ranking,omitempty"` // submit_ranking
}

// SessionInfoMessage is sent immediately on connect so the client knows the
// id its submissions and scores are keyed by.
type SessionInfoMessage struct {
	Type     string `json:"type"` // "session_info"
	PlayerID string `json:"playerId"`
}

// ErrorMessage is sent only to the offending client.
type ErrorMessage struct {
	Type    string `json:"type"` // "error"
	Code    string `json:"code"`
	Message string `json:"message"`
}

type GameCreatedMessage struct {
	Type string `json:"type"` // "game_created"
	Game *Game  `json:"game"`
}

type GameJoinedMessage struct {
	Type string `json:"type"` // "game_joined"
	Game *Game  `json:"game"`
}

// PlayerJoinedMessage goes to everyone already in the room.
type PlayerJoinedMessage struct {
	Type       string    `json:"type"` // "player_joined"
	PlayerID   string    `json:"playerId"`
	PlayerName string    `json:"playerName"`
	Players    []*Player `json:"players"`
}

type PlayerLeftMessage struct {
	Type     string    `json:"type"` // "player_left"
	PlayerID string    `json:"playerId"`
	Players  []*Player `json:"players"`
}

type GameDeletedMessage struct {
	Type string `json:"type"` // "game_deleted"
}

type GameStartedMessage struct {
	Type  string `json:"type"` // "game_started"
	Game  *Game  `json:"game"`
	Round *Round `json:"round"`
}

type SubmissionUpdateMessage struct {
	Type string `json:"type"` // "submission_update"
	SubmissionStatus
}

type RoundResultsMessage struct {
	Type string `json:"type"` // "round_results"
	RoundResults
}

type NewRoundMessage struct {
	Type string `json:"type"` // "new_round"
	Advance
}

type GameOverMessage struct {
	Type        string         `json:"type"` // "game_over"
	FinalScores map[string]int `json:"finalScores"`
}

type Client struct {
	conn     *websocket.Conn
	send     chan any
	playerID string
}

type clientRequest struct {
	client *Client
	msg    ClientMessage
}

// Hub owns the registry and every connected client. Only the run goroutine
// touches its maps.
type Hub struct {
	registry *Registry

	clients map[*Client]bool
	rooms   map[string]map[*Client]bool // game code -> clients in that room

	register chan *Client
	unreg    chan *Client
	requests chan clientRequest
}

func newHub(registry *Registry) *Hub {
	return &Hub{
		registry: registry,
		clients:  make(map[*Client]bool),
		rooms:    make(map[string]map[*Client]bool),
		register: make(chan *Client),
		unreg:    make(chan *Client),
		requests: make(chan clientRequest),
	}
}

func (h *Hub) run(cfg *Config) {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true

			c.send <- SessionInfoMessage{
				Type:     "session_info",
				PlayerID: c.playerID,
			}

		case c := <-h.unreg:
			h.handleLeave(cfg, c)

		case req := <-h.requests:
			h.handleRequest(cfg, req)
		}
	}
}

func (h *Hub) handleRequest(cfg *Config, req clientRequest) {
	switch req.msg.Type {
	case "create_game":
		h.handleCreate(cfg, req)
	case "join_game":
		h.handleJoin(cfg, req)
	case "start_game":
		h.handleStart(cfg, req)
	case "submit_ranking":
		h.handleSubmit(cfg, req)
	case "next_round":
		h.handleAdvance(cfg, req)
	default:
		// ignore unknown types
	}
}

func (h *Hub) handleCreate(cfg *Config, req clientRequest) {
	c := req.client
	name := strings.TrimSpace(req.msg.Name)

	if name == "" || c.playerID == "" {
		return
	}

	game := h.registry.CreateGame(c.playerID, name)
	h.joinRoom(game.Code, c)

	// Queued payloads are encoded by each client's writer goroutine, so they
	// carry detached snapshots, never live registry state.
	snapshot, _ := h.registry.Snapshot(game.Code)
	h.sendTo(c, GameCreatedMessage{
		Type: "game_created",
		Game: snapshot,
	})

	logf(cfg, "GAMES: %q created game %s", name, game.Code)
}

func (h *Hub) handleJoin(cfg *Config, req clientRequest) {
	c := req.client
	code := strings.ToUpper(strings.TrimSpace(req.msg.Code))
	name := strings.TrimSpace(req.msg.Name)

	if code == "" || name == "" || c.playerID == "" {
		return
	}

	if _, err := h.registry.JoinGame(code, c.playerID, name); err != nil {
		h.sendError(c, err)
		return
	}

	h.joinRoom(code, c)

	snapshot, ok := h.registry.Snapshot(code)
	if !ok {
		return
	}

	h.sendTo(c, GameJoinedMessage{
		Type: "game_joined",
		Game: snapshot,
	})
	h.broadcastOthers(code, c, PlayerJoinedMessage{
		Type:       "player_joined",
		PlayerID:   c.playerID,
		PlayerName: name,
		Players:    snapshot.Players,
	})

	logf(cfg, "GAMES: %q joined game %s", name, code)
}

func (h *Hub) handleStart(cfg *Config, req clientRequest) {
	c := req.client
	code := strings.ToUpper(strings.TrimSpace(req.msg.Code))

	if !h.isHost(c, code) {
		h.sendTo(c, ErrorMessage{
			Type:    "error",
			Code:    "not_host",
			Message: "Only the host can start the game.",
		})
		return
	}

	if _, err := h.registry.StartGame(code); err != nil {
		h.sendError(c, err)
		return
	}

	snapshot, ok := h.registry.Snapshot(code)
	if !ok {
		return
	}

	h.broadcast(code, GameStartedMessage{
		Type:  "game_started",
		Game:  snapshot,
		Round: snapshot.currentRound(),
	})

	logf(cfg, "GAMES: Game %s started with %d players", code, len(snapshot.Players))
}

func (h *Hub) handleSubmit(cfg *Config, req clientRequest) {
	c := req.client
	code := strings.ToUpper(strings.TrimSpace(req.msg.Code))

	status, err := h.registry.SubmitRanking(code, c.playerID, req.msg.Ranking)
	if err != nil {
		h.sendError(c, err)
		return
	}

	h.broadcast(code, SubmissionUpdateMessage{
		Type:             "submission_update",
		SubmissionStatus: status,
	})

	if !status.AllSubmitted {
		return
	}

	// The last submission triggers results, so they are computed exactly
	// once per round.
	results, err := h.registry.CalculateRoundResults(code)
	if err != nil {
		h.sendError(c, err)
		return
	}

	h.broadcast(code, RoundResultsMessage{
		Type:         "round_results",
		RoundResults: results,
	})

	logf(cfg, "GAMES: Round results computed for game %s", code)
}

func (h *Hub) handleAdvance(cfg *Config, req clientRequest) {
	c := req.client
	code := strings.ToUpper(strings.TrimSpace(req.msg.Code))

	if !h.isHost(c, code) {
		h.sendTo(c, ErrorMessage{
			Type:    "error",
			Code:    "not_host",
			Message: "Only the host can advance the round.",
		})
		return
	}

	advance, err := h.registry.AdvanceToNextRound(code)
	if err != nil {
		h.sendError(c, err)
		return
	}

	if advance.GameFinished {
		h.broadcast(code, GameOverMessage{
			Type:        "game_over",
			FinalScores: advance.FinalScores,
		})
		logf(cfg, "GAMES: Game %s finished", code)
		return
	}

	h.broadcast(code, NewRoundMessage{
		Type:    "new_round",
		Advance: advance,
	})
}

// handleLeave drops a closed connection and, if no other connection shares
// its player id, removes the player from their game.
func (h *Hub) handleLeave(cfg *Config, c *Client) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	for _, room := range h.rooms {
		delete(room, c)
	}

	if c.playerID == "" {
		return
	}
	for other := range h.clients {
		if other.playerID == c.playerID {
			return
		}
	}

	departure := h.registry.HandleDisconnect(c.playerID)
	if departure.GameCode == "" {
		return
	}

	if departure.GameDeleted {
		h.broadcast(departure.GameCode, GameDeletedMessage{Type: "game_deleted"})
		delete(h.rooms, departure.GameCode)
		logf(cfg, "GAMES: Game %s deleted", departure.GameCode)
		return
	}

	h.broadcast(departure.GameCode, PlayerLeftMessage{
		Type:     "player_left",
		PlayerID: c.playerID,
		Players:  departure.Players,
	})

	if len(departure.Players) == 0 {
		delete(h.rooms, departure.GameCode)
	}

	logf(cfg, "GAMES: Player %s left game %s", c.playerID, departure.GameCode)

	// The leaver may have been the last holdout; compute the round without
	// waiting for a resubmission.
	if departure.RoundComplete {
		results, err := h.registry.CalculateRoundResults(departure.GameCode)
		if err != nil {
			return
		}

		h.broadcast(departure.GameCode, RoundResultsMessage{
			Type:         "round_results",
			RoundResults: results,
		})

		logf(cfg, "GAMES: Round results computed for game %s", departure.GameCode)
	}
}

func (h *Hub) isHost(c *Client, code string) bool {
	game, ok := h.registry.GetGame(code)
	return ok && game.HostID == c.playerID
}

func (h *Hub) joinRoom(code string, c *Client) {
	room, ok := h.rooms[code]
	if !ok {
		room = make(map[*Client]bool)
		h.rooms[code] = room
	}
	room[c] = true
}

func (h *Hub) sendTo(c *Client, msg any) {
	select {
	case c.send <- msg:
	default:
		h.drop(c)
	}
}

func (h *Hub) sendError(c *Client, err error) {
	h.sendTo(c, ErrorMessage{
		Type:    "error",
		Code:    errorCode(err),
		Message: err.Error(),
	})
}

func (h *Hub) broadcast(code string, msg any) {
	for client := range h.rooms[code] {
		h.sendTo(client, msg)
	}
}

func (h *Hub) broadcastOthers(code string, sender *Client, msg any) {
	for client := range h.rooms[code] {
		if client == sender {
			continue
		}
		h.sendTo(client, msg)
	}
}

func (h *Hub) drop(c *Client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	for _, room := range h.rooms {
		delete(room, c)
	}
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, ErrGameNotFound):
		return "game_not_found"
	case errors.Is(err, ErrNameTaken):
		return "name_taken"
	case errors.Is(err, ErrGameFull):
		return "game_full"
	case errors.Is(err, ErrCannotStart):
		return "cannot_start"
	case errors.Is(err, ErrNotAcceptingSubmissions):
		return "not_accepting_submissions"
	case errors.Is(err, ErrInvalidRound):
		return "invalid_round"
	case errors.Is(err, ErrGameNotInProgress):
		return "game_not_in_progress"
	case errors.Is(err, ErrCannotAdvance):
		return "cannot_advance"
	default:
		return "error"
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const playerCookieName = "spectrum_id"

func getOrSetPlayerID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(playerCookieName); err == nil && c.Value != "" {
		return c.Value
	}

	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		log.Println("rand.Read error:", err)
		return ""
	}
	id := hex.EncodeToString(buf)

	http.SetCookie(w, &http.Cookie{
		Name:     playerCookieName,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	return id
}

func serveWS(hub *Hub) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		playerID := getOrSetPlayerID(w, r)
		if playerID == "" {
			http.Error(w, "unable to assign player id", http.StatusInternalServerError)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		client := &Client{
			conn:     conn,
			send:     make(chan any, 8),
			playerID: playerID,
		}

		hub.register <- client

		go client.writePump()
		client.readPump(hub)
	}
}

func (c *Client) readPump(h *Hub) {
	defer func() {
		h.unreg <- c
		_ = c.conn.Close()
	}()

	for {
		var msg ClientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "create_game", "join_game", "start_game", "submit_ranking", "next_round":
			h.requests <- clientRequest{
				client: c,
				msg:    msg,
			}
		default:
			// ignore unknown types
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		if err := c.conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// QR handler: generates a PNG QR code for a game's join URL using go-qrcode.
func qrHandler(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		code := ps.ByName("code")
		if code == "" {
			http.Error(w, "missing game code", http.StatusBadRequest)
			return
		}

		// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}

		url := scheme + "://" + r.Host + cfg.prefix + "/spectrum?code=" + code

		const qrSize = 320 // mobile-friendly size
		png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(png)
	}
}

// ---- Static file paths ----

//go:embed spectrum/index.html
var indexHTML []byte

//go:embed spectrum/app.css
var spectrumCSS []byte

//go:embed spectrum/app.js
var spectrumJS []byte

func getIndexHandler(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_ = getOrSetPlayerID(w, r)

		_, _ = w.Write(indexHTML)
	}
}

func getCssHandler(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/css; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(spectrumCSS)
	}
}

func getJsHandler(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
		w.Header().Set("Cache-Control", "public, max-age=3600")
		w.Header().Set("Expires", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
		securityHeaders(cfg, w)

		_, _ = w.Write(spectrumJS)
	}
}

// registerSpectrumGame sets up routes so that:
//   - $path              → HTML client (optionally with ?code= prefilled)
//   - $path/ws           → shared WebSocket for all games
//   - $path/qr/:code     → PNG QR code for a game's join URL
func registerSpectrumGame(cfg *Config, catalog *PromptCatalog, path string, mux *httprouter.Router) {
	registry := newRegistry(catalog, cfg.rounds, nil)

	hub := newHub(registry)
	go hub.run(cfg)

	// Per-game client view (HTML)
	mux.GET(cfg.prefix+path, getIndexHandler(cfg))

	// Shared assets (no game code in route)
	mux.GET(cfg.prefix+"/assets/spectrum/app.css", getCssHandler(cfg))
	mux.GET(cfg.prefix+"/assets/spectrum/app.js", getJsHandler(cfg))

	// Shared websocket
	mux.GET(cfg.prefix+path+"/ws", serveWS(hub))

	// Per-game QR code
	mux.GET(cfg.prefix+path+"/qr/:code", qrHandler(cfg))
}
