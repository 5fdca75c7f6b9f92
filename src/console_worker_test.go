package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/brewlab/brewctl/src/engine"
)

func TestHandleConsoleCommand_SubmitsCommandLines(t *testing.T) {
	sm := newServedMachine(t)
	var out bytes.Buffer
	state := NewConsoleState(&out)

	handleConsoleCommand(context.Background(), "R-500 X-9 D-2", state, sm.requests, sm.m.Snapshot, func() {})

	assert.Contains(t, out.String(), "accepted, 2 command(s) queued")
	assert.Contains(t, out.String(), "ignored")
	assert.Equal(t, 2, sm.m.Snapshot().QueueLen)
}

func TestHandleConsoleCommand_Status(t *testing.T) {
	sm := newServedMachine(t)
	var out bytes.Buffer
	state := NewConsoleState(&out)

	handleConsoleCommand(context.Background(), "status", state, sm.requests, sm.m.Snapshot, func() {})
	assert.Contains(t, out.String(), "No snapshot yet")

	out.Reset()
	handleConsoleCommand(context.Background(), "H-40", state, sm.requests, sm.m.Snapshot, func() {})
	handleConsoleCommand(context.Background(), "STATUS", state, sm.requests, sm.m.Snapshot, func() {})
	assert.Contains(t, out.String(), `"queue_len": 1`)
}

func TestHandleConsoleCommand_Quit(t *testing.T) {
	var out bytes.Buffer
	quit := false

	handleConsoleCommand(context.Background(), "quit", NewConsoleState(&out), nil, nil, func() { quit = true })

	assert.True(t, quit)
}

func TestHandleConsoleCommand_Help(t *testing.T) {
	var out bytes.Buffer

	handleConsoleCommand(context.Background(), "help", NewConsoleState(&out), nil, nil, func() {})

	assert.Contains(t, out.String(), "watch <field>")
	assert.Contains(t, out.String(), "dispensed, drum, flow")
}

func TestConsoleState_WatchPrintsOnlyChanges(t *testing.T) {
	var out bytes.Buffer
	state := NewConsoleState(&out)

	assert.Error(t, state.AddWatch("nonsense"))
	assert.NoError(t, state.AddWatch("queue"))
	assert.NoError(t, state.AddWatch("drum"))
	out.Reset()

	snap := &engine.Snapshot{QueueLen: 3, Drum: engine.MotorState{Current: 250}}
	state.PrintRow(snap)
	first := out.String()
	assert.Contains(t, first, "drum | queue")
	assert.Contains(t, first, ansiYellow+" 250"+ansiReset)

	out.Reset()
	state.PrintRow(snap)
	assert.Empty(t, out.String(), "unchanged values are not reprinted")

	snap = &engine.Snapshot{QueueLen: 2, Drum: engine.MotorState{Current: 250}}
	state.PrintRow(snap)
	assert.Contains(t, out.String(), ansiYellow+"    2"+ansiReset)
	assert.NotContains(t, out.String(), ansiYellow+" 250")
}

func TestConsoleState_Unwatch(t *testing.T) {
	var out bytes.Buffer
	state := NewConsoleState(&out)
	_ = state.AddWatch("flow")
	_ = state.AddWatch("heater")

	assert.False(t, state.RemoveWatch("pump"))
	assert.True(t, state.RemoveWatch("flow"))
	assert.Equal(t, []string{"heater"}, state.watches)
	assert.True(t, state.RemoveWatch("--all"))
	assert.Empty(t, state.watches)
}
