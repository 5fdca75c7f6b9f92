package dispenser

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingServo struct {
	writes []float64
	fail   bool
}

func (s *recordingServo) SetSpeed(speed float64) error {
	if s.fail {
		return errors.New("bus error")
	}
	s.writes = append(s.writes, speed)
	return nil
}

func (s *recordingServo) last() float64 { return s.writes[len(s.writes)-1] }

func newTestController(t *testing.T) (*Controller, map[ID]*recordingServo) {
	servos := map[ID]*recordingServo{}
	actuators := map[ID]Actuator{}
	for _, id := range DefaultConfig().IDs() {
		servos[id] = &recordingServo{}
		actuators[id] = servos[id]
	}
	c, err := NewController(DefaultConfig(), actuators, nil)
	require.NoError(t, err)
	return c, servos
}

func TestRunDuration_GramsIncludeMargin(t *testing.T) {
	d, err := DefaultConfig().RunDuration(Request{Amount: 12.2, Unit: Grams})
	require.NoError(t, err)
	assert.InDelta(t, 21.0, d.Seconds(), 1e-3)
}

func TestRunDuration_SecondsAreLiteral(t *testing.T) {
	d, err := DefaultConfig().RunDuration(Request{Amount: 4, Unit: Seconds})
	require.NoError(t, err)
	assert.Equal(t, 4*time.Second, d)
}

func TestRunDuration_RejectsNonPositive(t *testing.T) {
	_, err := DefaultConfig().RunDuration(Request{Amount: 0})
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestRunDuration_RejectsOverflow(t *testing.T) {
	_, err := DefaultConfig().RunDuration(Request{Amount: 1e10, Unit: Grams})
	assert.ErrorIs(t, err, ErrInvalidAmount)

	d, err := DefaultConfig().RunDuration(Request{Amount: 1e9, Unit: Seconds})
	require.NoError(t, err)
	assert.Equal(t, time.Duration(1e9)*time.Second, d)
}

func TestController_PhaseSequence(t *testing.T) {
	c, servos := newTestController(t)
	start := time.Unix(1000, 0)

	_, err := c.Run('A', Request{Amount: 12.2, Unit: Grams}, start)
	require.NoError(t, err)
	assert.Equal(t, 135.0, servos['A'].last())

	c.Tick(start.Add(4400 * time.Millisecond))
	assert.Equal(t, 135.0, servos['A'].last(), "still forward before 90% of period")

	c.Tick(start.Add(4500 * time.Millisecond))
	assert.Equal(t, 45.0, servos['A'].last(), "reverse for the last 10% of period")

	c.Tick(start.Add(5 * time.Second))
	assert.Equal(t, 135.0, servos['A'].last(), "forward again at the next period")

	c.Tick(start.Add(20 * time.Second))
	assert.True(t, c.Running())

	c.Tick(start.Add(21 * time.Second))
	assert.Equal(t, 90.0, servos['A'].last(), "stop speed at the end")
	assert.False(t, c.Running())

	writes := len(servos['A'].writes)
	c.Tick(start.Add(30 * time.Second))
	assert.Len(t, servos['A'].writes, writes, "idle channel is not rewritten")
}

func TestController_ReversedChannel(t *testing.T) {
	c, servos := newTestController(t)
	start := time.Unix(1000, 0)

	_, err := c.Run('D', Request{Amount: 6, Unit: Seconds}, start)
	require.NoError(t, err)
	assert.Equal(t, 45.0, servos['D'].last())

	c.Tick(start.Add(4600 * time.Millisecond))
	assert.Equal(t, 135.0, servos['D'].last())
}

func TestController_RerunRestarts(t *testing.T) {
	c, servos := newTestController(t)
	start := time.Unix(1000, 0)

	_, err := c.Run('B', Request{Amount: 2, Unit: Seconds}, start)
	require.NoError(t, err)
	_, err = c.Run('B', Request{Amount: 2, Unit: Seconds}, start.Add(1500*time.Millisecond))
	require.NoError(t, err)

	c.Tick(start.Add(2500 * time.Millisecond))
	assert.True(t, c.Running())
	assert.Equal(t, 135.0, servos['B'].last())

	c.Tick(start.Add(3500 * time.Millisecond))
	assert.False(t, c.Running())
}

func TestController_UnknownChannel(t *testing.T) {
	c, _ := newTestController(t)
	_, err := c.Run('Z', Request{Amount: 1}, time.Unix(0, 0))
	assert.ErrorIs(t, err, ErrUnknownChannel)
}

func TestController_RetriesFailedWrite(t *testing.T) {
	c, servos := newTestController(t)
	start := time.Unix(1000, 0)

	servos['C'].fail = true
	_, err := c.Run('C', Request{Amount: 3, Unit: Seconds}, start)
	require.NoError(t, err)
	assert.Empty(t, servos['C'].writes)

	servos['C'].fail = false
	c.Tick(start.Add(time.Millisecond))
	assert.Equal(t, []float64{135}, servos['C'].writes)
}

func TestController_StatesReportRemaining(t *testing.T) {
	c, _ := newTestController(t)
	start := time.Unix(1000, 0)

	_, err := c.Run('A', Request{Amount: 10, Unit: Seconds}, start)
	require.NoError(t, err)

	states := c.States(start.Add(4 * time.Second))
	require.Len(t, states, 4)
	assert.Equal(t, "A", states[0].ID)
	assert.True(t, states[0].Running)
	assert.InDelta(t, 6.0, states[0].Remaining, 1e-9)
	assert.False(t, states[1].Running)
}
