package main

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brewlab/brewctl/src/command"
)

func TestCreateSensorEntity_DiscoveryConfig(t *testing.T) {
	ch := make(chan MQTTMessage, 1)
	sender := NewMQTTSender(ch)

	require.NoError(t, sender.CreateSensorEntity("Kitchen Brewer", "brewctl/state", brewerEntities[1]))

	msg := <-ch
	assert.Equal(t, "homeassistant/sensor/kitchen_brewer_flow_rate/config", msg.Topic)
	assert.True(t, msg.Retain)
	assert.Equal(t, byte(2), msg.QoS)

	var cfg haEntityConfig
	require.NoError(t, json.Unmarshal(msg.Payload, &cfg))
	assert.Equal(t, "brewctl/state", cfg.StateTopic)
	assert.Equal(t, "kitchen_brewer_flow_rate", cfg.UniqueId)
	assert.Equal(t, "{{ value_json.flow.estimated_rate_mls }}", cfg.ValueTemplate)
	assert.Equal(t, []string{"kitchen_brewer"}, cfg.Device.Identifiers)
}

func TestBrewerEntities_UniqueKeys(t *testing.T) {
	seen := map[string]bool{}
	for _, e := range brewerEntities {
		assert.False(t, seen[e.Key], "duplicate key %s", e.Key)
		seen[e.Key] = true
		assert.NotEmpty(t, e.ValueTemplate)
	}
}

func TestNewCommandResult(t *testing.T) {
	adm := command.Admission{
		Queued:   1,
		Rejected: []command.Rejection{{Token: "X-1", Err: errors.New(`"X-1": unknown command`)}},
	}

	res := newCommandResult("R-10 X-1", adm)

	assert.True(t, res.Accepted)
	assert.Equal(t, 1, res.Queued)
	assert.Equal(t, []string{`"X-1": unknown command`}, res.Ignored)
	assert.Contains(t, res.Message, "accepted, 1 command(s) queued")
}
