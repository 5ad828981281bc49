package appointment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-smartflow/internal/config"
	redisclient "github.com/hackgods/clinic-smartflow/internal/redis"
	"github.com/hackgods/clinic-smartflow/pkg/logging"
)

func TestEngineDefaults(t *testing.T) {
	def := config.DefaultEngine()

	t.Run("zero engine takes every default except blocking", func(t *testing.T) {
		want := def
		want.BlockAfterNoShows = 0
		assert.Equal(t, want, engineDefaults(config.Engine{}))
	})

	t.Run("explicit values survive", func(t *testing.T) {
		e := config.Engine{ShadowScoreThreshold: 30, NoShowGrace: 5 * time.Minute, BlockAfterNoShows: 1}
		got := engineDefaults(e)
		assert.Equal(t, 30.0, got.ShadowScoreThreshold)
		assert.Equal(t, 5*time.Minute, got.NoShowGrace)
		assert.Equal(t, 1, got.BlockAfterNoShows)
		assert.Equal(t, def.LateThreshold, got.LateThreshold)
	})
}

func TestZeroEngineStillShadowsUnreliablePatients(t *testing.T) {
	f := newFixture(t)
	svc := NewService(f.repo, redisclient.NewLocalLocker(time.Second), config.Config{ClinicTimezone: "UTC"}, logging.Discard(), nil)

	ten := clock(monday, 10, 0)
	f.seed(Appointment{Start: &ten})

	res, err := svc.BookSlot(t.Context(), BookRequest{
		PatientID:      f.patient(20),
		PractitionerID: f.practitioner,
		Start:          ten,
	}, clock(monday, 8, 0))
	require.NoError(t, err)
	assert.True(t, res.Shadow)
}
