package games

// One player hosts a game and shares its six-character code with up to seven others
// Each round, everyone is shown the same prompt ("rank players by height") and privately
// orders the full roster against it
// Once every player has submitted, the server derives a consensus ranking by positional
// plurality: for each slot, the name most rankings placed there (skipping names already
// locked into earlier slots) wins the slot
// Players score points for every position where their ranking agrees with the consensus,
// and scores accumulate across rounds
// The host advances the game through a fixed number of rounds; highest total wins

// Display formats:
// A single ordered list per round, reordered with up/down controls (or drag on desktop)
// Results shown as the consensus list next to a score table

// Implementation details:
// - One websocket per client; a shared hub routes messages by game code
// - Identify players by cookie on first page load
// - Prompts are drawn category-balanced from a JSON catalog so no game repeats a prompt
//   or leans too hard on one category

// How to play
// - The host enters their name and creates a game, then shares the code or QR
// - Players join with the code; the host starts once at least two are present
// - Submit a ranking each round; results appear when the last ranking lands
