package arena

import (
	"context"
	"errors"
	"math"

	"duel-arena/models"
	"duel-arena/store"
)

// XPWeights are awarded per settled match
type XPWeights struct {
	WinXP  int64
	DrawXP int64
	LossXP int64
}

var DefaultXPWeights = XPWeights{
	WinXP:  30,
	DrawXP: 15,
	LossXP: 10,
}

// LevelConfig: XP needed for *next* level (e.g., level 1 → 2 needs BaseXPPerLevel * 1^1.2)
const BaseXPPerLevel = 100

// xpForNextLevel returns XP required to reach level+1 from current level
func xpForNextLevel(currentLevel int) int64 {
	if currentLevel < 1 {
		currentLevel = 1
	}
	// L_n = floor(BaseXPPerLevel * n^1.2)
	return int64(float64(BaseXPPerLevel) * math.Pow(float64(currentLevel), 1.2))
}

// RankThresholds: levels required before rank-up
var RankThresholds = map[int]int{ // rank → min level
	1: 1,   // Bronze (start)
	2: 10,  // Silver
	3: 25,  // Gold
	4: 50,  // Platinum
	5: 100, // Diamond
}

func determineRank(level int) int {
	for rank := 5; rank >= 1; rank-- {
		if level >= RankThresholds[rank] {
			return rank
		}
	}
	return 1
}

// AwardXP adds xp and levels the player up, stamping milestones with nowMillis.
func AwardXP(prog *models.PlayerProgress, xp int64, nowMillis int64) {
	if prog.Level < 1 {
		prog.Level = 1
	}
	prog.TotalXP += xp
	for prog.TotalXP >= int64(BaseXPPerLevel)*int64(prog.Level)+xpForNextLevel(prog.Level) {
		prog.Level++
		prog.LastLevelUpAt = nowMillis
	}
	if rank := determineRank(prog.Level); rank > prog.Rank {
		prog.Rank = rank
		prog.LastRankUpAt = nowMillis
	}
}

// RecordResult updates both players' progress for a finished match. Each player's
// record is its own atomic update.
func (a *Arena) RecordResult(ctx context.Context, m *models.Match) error {
	now := a.nowMillis()
	var errs []error
	for _, slot := range []models.PlayerSlot{m.Player1, m.Player2} {
		playerID := slot.PlayerID
		_, err := store.UpdateJSON(ctx, a.store, progressPath(playerID), func(cur *models.PlayerProgress) (*models.PlayerProgress, error) {
			if cur == nil {
				cur = &models.PlayerProgress{PlayerID: playerID, Level: 1, Rank: 1}
			}
			cur.TotalMatches++
			switch m.WinnerID {
			case models.DrawWinner:
				cur.Draws++
				AwardXP(cur, a.xp.DrawXP, now)
			case playerID:
				cur.Wins++
				AwardXP(cur, a.xp.WinXP, now)
			default:
				cur.Losses++
				AwardXP(cur, a.xp.LossXP, now)
			}
			return cur, nil
		})
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Progress returns the player's progression, or a fresh level-1 record.
func (a *Arena) Progress(ctx context.Context, playerID string) (*models.PlayerProgress, error) {
	prog, err := store.GetJSON[models.PlayerProgress](ctx, a.store, progressPath(playerID))
	if err != nil {
		return nil, err
	}
	if prog == nil {
		prog = &models.PlayerProgress{PlayerID: playerID, Level: 1, Rank: 1}
	}
	return prog, nil
}
