package appointment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPriorityScore(t *testing.T) {
	start := clock(monday, 9, 0)

	tests := []struct {
		name    string
		urgency int
		score   float64
		arrival *time.Time
		start   *time.Time
		want    float64
	}{
		{"on time, reliable", 1, 100, timePtr(start), &start, 120},
		{"22 minutes late, vital, unreliable", 5, 0, timePtr(start.Add(22 * time.Minute)), &start, 436},
		{"within the 5 minute grace", 1, 100, timePtr(start.Add(5 * time.Minute)), &start, 110},
		{"early arrival is not penalized", 2, 50, timePtr(start.Add(-10 * time.Minute)), &start, 215},
		{"no arrival recorded", 2, 50, nil, &start, 205},
		{"untimed ticket", 3, 100, timePtr(start), nil, 310},
		{"fractional lateness", 1, 75, timePtr(start.Add(7*time.Minute + 30*time.Second)), &start, 87.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := &Appointment{UrgencyLevel: tt.urgency, Start: tt.start, ArrivalTime: tt.arrival}
			got := PriorityScore(a, &Patient{ReliabilityScore: tt.score})
			assert.InDelta(t, tt.want, got, 0.001)
		})
	}
}

func TestPriorityScoreWithoutPatient(t *testing.T) {
	a := &Appointment{UrgencyLevel: 2}
	assert.Equal(t, 200.0, PriorityScore(a, nil))
}

func TestUrgencyDominatesTiming(t *testing.T) {
	start := clock(monday, 9, 0)
	lateUrgent := &Appointment{UrgencyLevel: 3, Start: &start, ArrivalTime: timePtr(start.Add(20 * time.Minute))}
	punctualRoutine := &Appointment{UrgencyLevel: 2, Start: &start, ArrivalTime: &start}

	assert.Greater(t,
		PriorityScore(lateUrgent, &Patient{ReliabilityScore: 0}),
		PriorityScore(punctualRoutine, &Patient{ReliabilityScore: 100}))
}
