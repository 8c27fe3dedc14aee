package domain

const (
	BaseAnswerPoints = 500
	MaxTimeBonus     = 500
	// TimeBonusStepMs is how many milliseconds cost one bonus point.
	TimeBonusStepMs = 20
)

// ScoreAnswer returns the points for one answer. Only correct answers earn the time bonus.
func ScoreAnswer(correct bool, timeTakenMs int64, selected Powerup) int {
	if !correct {
		return 0
	}
	base := BaseAnswerPoints
	if selected == PowerupDoublePoints {
		base *= 2
	}
	if timeTakenMs < 0 {
		timeTakenMs = 0
	}
	bonus := MaxTimeBonus - int(timeTakenMs/TimeBonusStepMs)
	if bonus < 0 {
		bonus = 0
	}
	return base + bonus
}

// Payout is the result of splitting a prize pool.
type Payout struct {
	WinnerID    string
	WinnerShare int
	HostID      string
	HostShare   int
}

// SplitPrize gives the winner floor(pool*winnerShare) and the host the rest,
// folding the host share into the winner's when they are the same player.
func SplitPrize(pool int, winnerShare float64, winnerID, hostID string) Payout {
	winnerGets := int(float64(pool) * winnerShare)
	hostGets := pool - winnerGets
	if winnerID == hostID {
		return Payout{WinnerID: winnerID, WinnerShare: pool}
	}
	return Payout{WinnerID: winnerID, WinnerShare: winnerGets, HostID: hostID, HostShare: hostGets}
}

// ResolveBets splits every stake among the backers of winnerID, proportionally to
// their stake. Integer remainders go to the largest backer (lowest UID on ties).
// When nobody backed the winner every stake is returned.
func ResolveBets(bets map[string]Bet, winnerID string) map[string]int {
	payouts := make(map[string]int, len(bets))
	if len(bets) == 0 {
		return payouts
	}
	total, winningStake := 0, 0
	for _, b := range bets {
		total += b.Amount
		if b.PlayerUID == winnerID {
			winningStake += b.Amount
		}
	}
	if winningStake == 0 {
		for uid, b := range bets {
			payouts[uid] = b.Amount
		}
		return payouts
	}
	paid := 0
	largest := ""
	for uid, b := range bets {
		if b.PlayerUID != winnerID {
			continue
		}
		share := total * b.Amount / winningStake
		payouts[uid] = share
		paid += share
		if largest == "" || b.Amount > bets[largest].Amount || (b.Amount == bets[largest].Amount && uid < largest) {
			largest = uid
		}
	}
	payouts[largest] += total - paid
	return payouts
}
