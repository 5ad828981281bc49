package appointment

import (
	"math"
	"time"
)

const (
	urgencyWeight      = 100.0
	delayPenaltyWeight = 2.0
	onTimeBonus        = 10.0
	latePenaltyPer5Min = 5.0
	reliabilityWeight  = 10.0
)

const onTimeGrace = 5 * time.Minute

// PriorityScore ranks one appointment in the live queue. Urgency dominates;
// punctuality and reliability only separate patients of similar urgency.
func PriorityScore(a *Appointment, p *Patient) float64 {
	urgency := a.UrgencyLevel
	if urgency < MinUrgency {
		urgency = MinUrgency
	}
	score := float64(urgency) * urgencyWeight

	if a.ArrivalTime != nil && a.Start != nil {
		delay := a.ArrivalTime.Sub(*a.Start)
		if delay > 0 {
			score -= delay.Minutes() * delayPenaltyWeight
		}
		score += arrivalBonus(delay)
	}

	if p != nil {
		score += clampScore(p.ReliabilityScore) / MaxReliabilityScore * reliabilityWeight
	}

	return math.Round(score*100) / 100
}

// arrivalBonus rewards arriving within the grace period and takes 5 points
// per full 5 minutes of lateness otherwise.
func arrivalBonus(delay time.Duration) float64 {
	if delay <= onTimeGrace {
		return onTimeBonus
	}
	blocks := math.Floor(delay.Minutes() / 5)
	return -blocks * latePenaltyPer5Min
}
