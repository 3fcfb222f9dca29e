// Spectrum game registry
//
// A host creates a game identified by a short code, other players join it,
// and the group plays a fixed number of rounds. Each round, every player
// privately ranks the roster against a prompt ("rank players by height");
// once everyone has submitted, the server derives a consensus ranking and
// scores each player by agreement with it.
//
// The registry is the orchestration root: it owns every live game, the
// round/phase state machine, and the player→game reverse index used for
// O(1) disconnect handling. It never logs, retries, or panics on a
// precondition violation; every failure is a typed error the transport
// layer translates for clients.

package main

import (
	crand "crypto/rand"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"
)

const (
	statusWaiting  = "waiting"
	statusPlaying  = "playing"
	statusFinished = "finished"
)

// Round phases, meaningful only while a game is playing.
const (
	phaseRanking = "ranking"
	phaseResults = "results"
)

const (
	minPlayers     = 2
	maxPlayers     = 8
	gameCodeLength = 6
	gameCodeChars  = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

var (
	ErrGameNotFound            = errors.New("game not found")
	ErrNameTaken               = errors.New("name already taken")
	ErrGameFull                = errors.New("game is full")
	ErrCannotStart             = errors.New("game cannot be started")
	ErrNotAcceptingSubmissions = errors.New("game is not accepting submissions")
	ErrInvalidRound            = errors.New("no active round")
	ErrGameNotInProgress       = errors.New("game is not in progress")
	ErrCannotAdvance           = errors.New("round cannot be advanced")
)

// Player holds the data we store server-side for one participant. The ID is
// the connection-scoped identifier assigned by the transport layer.
type Player struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	JoinedAt time.Time `json:"joinedAt"`
	IsHost   bool      `json:"isHost,omitempty"`
}

// Round is one ranking task within a game, tied to one prompt.
type Round struct {
	RoundNumber      int                 `json:"roundNumber"`
	Prompt           string              `json:"prompt"`
	PromptID         string              `json:"promptId"`
	Rankings         map[string][]string `json:"rankings"`
	Submitted        map[string]bool     `json:"submitted"`
	ConsensusRanking []string            `json:"consensusRanking,omitempty"`
	RoundScores      map[string]int      `json:"roundScores,omitempty"`

	// Player ids in first-submission order. Consensus tie-breaks scan
	// rankings in this order, which keeps results deterministic.
	submitOrder []string
}

// Game is one play session identified by a short code, with a host and up
// to eight players. Scores keep an entry for every player present at game
// start; disconnects never erase historical standing.
type Game struct {
	Code         string         `json:"code"`
	HostID       string         `json:"hostId"`
	Players      []*Player      `json:"players"`
	Status       string         `json:"status"`
	CreatedAt    time.Time      `json:"createdAt"`
	CurrentRound int            `json:"currentRound"`
	TotalRounds  int            `json:"totalRounds"`
	RoundPhase   string         `json:"roundPhase,omitempty"`
	Rounds       []*Round       `json:"rounds,omitempty"`
	Scores       map[string]int `json:"scores"`

	// Prompt sequence for the whole game, fixed at start.
	prompts []Prompt
}

func (g *Game) currentRound() *Round {
	if g.CurrentRound < 1 || g.CurrentRound > len(g.Rounds) {
		return nil
	}
	return g.Rounds[g.CurrentRound-1]
}

// promptForRound returns the stored prompt for a 1-based round number. The
// sequence chosen at start covers every round, so the synthesized placeholder
// only exists as a safety net.
func (g *Game) promptForRound(number int) Prompt {
	if number >= 1 && number <= len(g.prompts) {
		return g.prompts[number-1]
	}
	return Prompt{
		ID:       fmt.Sprintf("extra_%d", number),
		Category: "general",
		Text:     fmt.Sprintf("Round %d: rank players however the group sees fit", number),
	}
}

func (g *Game) playerNames() []string {
	names := make([]string, 0, len(g.Players))
	for _, p := range g.Players {
		names = append(names, p.Name)
	}
	return names
}

func newRound(number int, prompt Prompt) *Round {
	return &Round{
		RoundNumber: number,
		Prompt:      prompt.Text,
		PromptID:    prompt.ID,
		Rankings:    make(map[string][]string),
		Submitted:   make(map[string]bool),
	}
}

// Registry owns all live games. A single mutex serializes every operation,
// covering both registry indices and per-game state, so read-then-write
// sequences like the all-submitted check are atomic to observers.
type Registry struct {
	mu           sync.Mutex
	games        map[string]*Game
	playerToGame map[string]string
	catalog      *PromptCatalog
	totalRounds  int
	rng          *rand.Rand
}

// newRegistry builds an isolated registry. Passing a nil rng uses a
// time-seeded source; tests inject a fixed seed to pin prompt selection.
func newRegistry(catalog *PromptCatalog, totalRounds int, rng *rand.Rand) *Registry {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Registry{
		games:        make(map[string]*Game),
		playerToGame: make(map[string]string),
		catalog:      catalog,
		totalRounds:  totalRounds,
		rng:          rng,
	}
}

func randomGameCode(n int) string {
	const max = byte(255 - (256 % len(gameCodeChars)))

	out := make([]byte, 0, n)
	buf := make([]byte, n*2)

	for {
		if _, err := crand.Read(buf); err != nil {
			panic("crypto/rand failure: " + err.Error())
		}

		for _, b := range buf {
			if b <= max {
				out = append(out, gameCodeChars[int(b)%len(gameCodeChars)])
				if len(out) == n {
					return string(out)
				}
			}
		}
	}
}

// newGameCode generates a code that doesn't collide with any live game.
// Callers must hold r.mu.
func (r *Registry) newGameCode() string {
	for {
		code := randomGameCode(gameCodeLength)
		if _, exists := r.games[code]; !exists {
			return code
		}
	}
}

// CreateGame builds a fresh game in the waiting state with the host as its
// sole player and registers both indices.
func (r *Registry) CreateGame(hostID, hostName string) *Game {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	game := &Game{
		Code:   r.newGameCode(),
		HostID: hostID,
		Players: []*Player{{
			ID:       hostID,
			Name:     hostName,
			JoinedAt: now,
			IsHost:   true,
		}},
		Status:    statusWaiting,
		CreatedAt: now,
		Scores:    make(map[string]int),
	}

	r.games[game.Code] = game
	r.playerToGame[hostID] = game.Code

	return game
}

// JoinGame appends a player to an existing game. Names are unique within a
// game, compared case-insensitively.
func (r *Registry) JoinGame(code, playerID, playerName string) (*Game, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	game, ok := r.games[code]
	if !ok {
		return nil, ErrGameNotFound
	}

	for _, p := range game.Players {
		if strings.EqualFold(p.Name, playerName) {
			return nil, ErrNameTaken
		}
	}

	if len(game.Players) >= maxPlayers {
		return nil, ErrGameFull
	}

	game.Players = append(game.Players, &Player{
		ID:       playerID,
		Name:     playerName,
		JoinedAt: time.Now(),
	})
	r.playerToGame[playerID] = code

	return game, nil
}

// StartGame moves a waiting game with at least two players into round one,
// fixing the game's prompt sequence and zeroing every player's score.
func (r *Registry) StartGame(code string) (*Game, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	game, ok := r.games[code]
	if !ok {
		return nil, ErrGameNotFound
	}
	if game.Status != statusWaiting || len(game.Players) < minPlayers {
		return nil, ErrCannotStart
	}

	game.Status = statusPlaying
	game.CurrentRound = 1
	game.TotalRounds = r.totalRounds
	game.RoundPhase = phaseRanking
	game.prompts = r.catalog.selectForGame(r.totalRounds, r.rng)
	game.Rounds = append(game.Rounds, newRound(1, game.promptForRound(1)))

	for _, p := range game.Players {
		game.Scores[p.ID] = 0
	}

	return game, nil
}

// SubmissionStatus reports submission progress for the current round.
type SubmissionStatus struct {
	AllSubmitted   bool `json:"allSubmitted"`
	SubmittedCount int  `json:"submittedCount"`
	TotalPlayers   int  `json:"totalPlayers"`
}

// SubmitRanking records a player's ranking for the current round,
// overwriting any earlier submission, and reports whether every current
// player has now submitted.
func (r *Registry) SubmitRanking(code, playerID string, ranking []string) (SubmissionStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	game, ok := r.games[code]
	if !ok {
		return SubmissionStatus{}, ErrGameNotFound
	}
	if game.Status != statusPlaying || game.RoundPhase != phaseRanking {
		return SubmissionStatus{}, ErrNotAcceptingSubmissions
	}
	round := game.currentRound()
	if round == nil {
		return SubmissionStatus{}, ErrInvalidRound
	}

	if !round.Submitted[playerID] {
		round.submitOrder = append(round.submitOrder, playerID)
	}
	round.Rankings[playerID] = ranking
	round.Submitted[playerID] = true

	status := SubmissionStatus{
		SubmittedCount: len(round.Submitted),
		TotalPlayers:   len(game.Players),
	}
	status.AllSubmitted = status.SubmittedCount == status.TotalPlayers

	return status, nil
}

// RoundResults is the outcome of a completed round.
type RoundResults struct {
	ConsensusRanking []string       `json:"consensusRanking"`
	RoundScores      map[string]int `json:"roundScores"`
	TotalScores      map[string]int `json:"totalScores"`
}

// CalculateRoundResults derives the consensus for the current round, stores
// it on the round, folds each player's round score into their cumulative
// total, and moves the game into the results phase. Callers must invoke it
// exactly once per round; a second call double-counts scores.
func (r *Registry) CalculateRoundResults(code string) (RoundResults, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	game, ok := r.games[code]
	if !ok {
		return RoundResults{}, ErrGameNotFound
	}
	if game.Status != statusPlaying {
		return RoundResults{}, ErrGameNotInProgress
	}
	round := game.currentRound()
	if round == nil {
		return RoundResults{}, ErrInvalidRound
	}

	result := computeConsensus(round.Rankings, round.submitOrder, game.playerNames())
	round.ConsensusRanking = result.Ranking
	round.RoundScores = result.Scores

	for playerID, score := range result.Scores {
		game.Scores[playerID] += score
	}
	game.RoundPhase = phaseResults

	return RoundResults{
		ConsensusRanking: result.Ranking,
		RoundScores:      result.Scores,
		TotalScores:      copyScores(game.Scores),
	}, nil
}

// Advance describes the outcome of moving past a results phase: either the
// next round, or the end of the game with final cumulative scores.
type Advance struct {
	GameFinished bool           `json:"gameFinished"`
	FinalScores  map[string]int `json:"finalScores,omitempty"`
	NewRound     int            `json:"newRound,omitempty"`
	Prompt       string         `json:"prompt,omitempty"`
	PromptID     string         `json:"promptId,omitempty"`
}

// AdvanceToNextRound moves a game out of the results phase. The last round
// finishes the game; otherwise a new round is appended from the game's
// stored prompt sequence.
func (r *Registry) AdvanceToNextRound(code string) (Advance, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	game, ok := r.games[code]
	if !ok {
		return Advance{}, ErrGameNotFound
	}
	if game.Status != statusPlaying || game.RoundPhase != phaseResults {
		return Advance{}, ErrCannotAdvance
	}

	if game.CurrentRound >= game.TotalRounds {
		game.Status = statusFinished
		game.RoundPhase = ""
		return Advance{
			GameFinished: true,
			FinalScores:  copyScores(game.Scores),
		}, nil
	}

	game.CurrentRound++
	game.RoundPhase = phaseRanking
	prompt := game.promptForRound(game.CurrentRound)
	game.Rounds = append(game.Rounds, newRound(game.CurrentRound, prompt))

	return Advance{
		NewRound: game.CurrentRound,
		Prompt:   prompt.Text,
		PromptID: prompt.ID,
	}, nil
}

// Departure reports what changed when a player disconnected. A zero value
// means the player wasn't in any game. RoundComplete signals that the
// departure left the current round with as many submissions as remaining
// players, so results can be computed without waiting for another submit.
type Departure struct {
	GameCode      string    `json:"gameCode"`
	GameDeleted   bool      `json:"gameDeleted,omitempty"`
	Players       []*Player `json:"players,omitempty"`
	RoundComplete bool      `json:"roundComplete,omitempty"`
}

// HandleDisconnect removes a player via the reverse index. A host
// disconnect deletes the entire game along with every reverse-index entry
// for its players; an empty roster after a non-host disconnect deletes the
// game too. A disconnected player's already-submitted ranking is left
// untouched and still counts toward the round's consensus.
func (r *Registry) HandleDisconnect(playerID string) Departure {
	r.mu.Lock()
	defer r.mu.Unlock()

	code, ok := r.playerToGame[playerID]
	if !ok {
		return Departure{}
	}
	game, ok := r.games[code]
	if !ok {
		delete(r.playerToGame, playerID)
		return Departure{}
	}

	if game.HostID == playerID {
		delete(r.games, code)
		for _, p := range game.Players {
			delete(r.playerToGame, p.ID)
		}
		return Departure{GameCode: code, GameDeleted: true}
	}

	remaining := game.Players[:0]
	for _, p := range game.Players {
		if p.ID == playerID {
			continue
		}
		remaining = append(remaining, p)
	}
	game.Players = remaining
	delete(r.playerToGame, playerID)

	if len(game.Players) == 0 {
		delete(r.games, code)
		return Departure{GameCode: code}
	}

	departure := Departure{
		GameCode: code,
		Players:  copyPlayers(game.Players),
	}

	// The leaver may have been the last player yet to submit; the round is
	// complete by the same size rule SubmitRanking applies.
	if game.Status == statusPlaying && game.RoundPhase == phaseRanking {
		if round := game.currentRound(); round != nil && len(round.Submitted) >= len(game.Players) {
			departure.RoundComplete = true
		}
	}

	return departure
}

// snapshotLocked deep-copies a game for use outside the registry lock.
// Broadcast payloads are JSON-encoded by per-client writer goroutines while
// the registry keeps mutating the live game, so they must never alias
// registry-owned maps or slices. Callers must hold r.mu.
func (g *Game) snapshotLocked() *Game {
	cp := *g
	cp.Players = copyPlayers(g.Players)
	cp.Scores = copyScores(g.Scores)
	cp.prompts = nil

	cp.Rounds = make([]*Round, len(g.Rounds))
	for i, round := range g.Rounds {
		rc := *round
		rc.Rankings = make(map[string][]string, len(round.Rankings))
		for id, ranking := range round.Rankings {
			rc.Rankings[id] = append([]string(nil), ranking...)
		}
		rc.Submitted = make(map[string]bool, len(round.Submitted))
		for id, ok := range round.Submitted {
			rc.Submitted[id] = ok
		}
		rc.ConsensusRanking = append([]string(nil), round.ConsensusRanking...)
		rc.RoundScores = copyScores(round.RoundScores)
		rc.submitOrder = nil
		cp.Rounds[i] = &rc
	}

	return &cp
}

// Snapshot returns a deep copy of a live game, safe to encode concurrently
// with further registry mutations.
func (r *Registry) Snapshot(code string) (*Game, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	game, ok := r.games[code]
	if !ok {
		return nil, false
	}
	return game.snapshotLocked(), true
}

// GetGame returns the live game for a code, if any.
func (r *Registry) GetGame(code string) (*Game, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	game, ok := r.games[code]
	return game, ok
}

// GetAllGames returns every live game.
func (r *Registry) GetAllGames() []*Game {
	r.mu.Lock()
	defer r.mu.Unlock()

	games := make([]*Game, 0, len(r.games))
	for _, game := range r.games {
		games = append(games, game)
	}
	return games
}

func copyPlayers(players []*Player) []*Player {
	out := make([]*Player, len(players))
	for i, p := range players {
		cp := *p
		out[i] = &cp
	}
	return out
}

func copyScores(scores map[string]int) map[string]int {
	out := make(map[string]int, len(scores))
	for id, score := range scores {
		out[id] = score
	}
	return out
}
