package main

// Consensus ranking: positional plurality with greedy assignment.
//
// For each target position, tally which subject each submitted ranking
// placed there, skipping subjects already locked into an earlier slot. The
// highest tally wins the slot; ties go to the subject encountered first
// while scanning rankings in submission order. Subjects never placed are
// appended afterward in roster order, so the result always spans the roster.

type consensusResult struct {
	Ranking []string
	Scores  map[string]int
}

// computeConsensus derives the consensus ranking and each submitter's round
// score. rankings maps player id to that player's submitted ordering of
// subject names, order lists player ids in submission order and fixes the
// tie-break scan, and subjects is the roster name list.
//
// A player's score is floor(100/len(consensus)) per exactly-matched
// position, compared over the shorter of their ranking and the consensus.
// The integer-division remainder is dropped, not redistributed, so a
// perfect three-player round scores 99.
func computeConsensus(rankings map[string][]string, order []string, subjects []string) consensusResult {
	n := len(subjects)
	consensus := make([]string, n)
	placed := make(map[string]bool, n)

	for pos := range n {
		tally := make(map[string]int)
		best := ""
		bestCount := 0

		for _, playerID := range order {
			ranking := rankings[playerID]
			if pos >= len(ranking) {
				continue
			}
			name := ranking[pos]
			if placed[name] {
				continue
			}
			tally[name]++
			if tally[name] > bestCount {
				best = name
				bestCount = tally[name]
			}
		}

		if best != "" {
			consensus[pos] = best
			placed[best] = true
		}
	}

	// Fill any slots left open with unplaced subjects in roster order.
	next := 0
	for _, name := range subjects {
		if placed[name] {
			continue
		}
		for next < n && consensus[next] != "" {
			next++
		}
		if next == n {
			break
		}
		consensus[next] = name
		placed[name] = true
	}

	points := 0
	if n > 0 {
		points = 100 / n
	}

	scores := make(map[string]int, len(rankings))
	for playerID, ranking := range rankings {
		matches := 0
		limit := min(len(ranking), n)
		for i := range limit {
			if ranking[i] == consensus[i] {
				matches++
			}
		}
		scores[playerID] = points * matches
	}

	return consensusResult{Ranking: consensus, Scores: scores}
}
