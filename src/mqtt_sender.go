package main

import (
	"context"
	"encoding/json"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// maxQueuedMessages bounds what the sender holds while disconnected.
const maxQueuedMessages = 500

// MQTTMessage represents an outgoing MQTT message
type MQTTMessage struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool
}

// MQTTSender wraps a channel for sending MQTT messages with helper methods
type MQTTSender struct {
	ch chan<- MQTTMessage
}

// NewMQTTSender creates a new MQTTSender wrapping the given channel
func NewMQTTSender(ch chan<- MQTTMessage) *MQTTSender {
	return &MQTTSender{ch: ch}
}

// Send sends a raw MQTTMessage
func (s *MQTTSender) Send(msg MQTTMessage) {
	s.ch <- msg
}

// SendJSON marshals v and sends it to topic
func (s *MQTTSender) SendJSON(topic string, v any, qos byte, retain bool) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.Send(MQTTMessage{Topic: topic, Payload: payload, QoS: qos, Retain: retain})
	return nil
}

type haDeviceConfig struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
}

type haEntityConfig struct {
	Name             string         `json:"name,omitempty"`
	DeviceClass      string         `json:"device_class,omitempty"`
	StateTopic       string         `json:"state_topic"`
	UnitOfMeasure    string         `json:"unit_of_measurement,omitempty"`
	ValueTemplate    string         `json:"value_template"`
	UniqueId         string         `json:"unique_id"`
	ExpireAfter      uint           `json:"expire_after,omitempty"`
	StateClass       string         `json:"state_class,omitempty"`
	DisplayPrecision int            `json:"suggested_display_precision,omitempty"`
	Device           haDeviceConfig `json:"device"`
}

// SensorEntity describes one Home Assistant sensor read from the state JSON
type SensorEntity struct {
	Name             string
	Key              string // unique suffix
	DeviceClass      string
	Unit             string
	ValueTemplate    string
	DisplayPrecision int
}

// brewerEntities are published once at startup for Home Assistant discovery
var brewerEntities = []SensorEntity{
	{Name: "Heater Power", Key: "heater_power", DeviceClass: "power_factor", Unit: "%", ValueTemplate: "{{ value_json.heater.power }}"},
	{Name: "Flow Rate", Key: "flow_rate", DeviceClass: "volume_flow_rate", Unit: "mL/s", ValueTemplate: "{{ value_json.flow.estimated_rate_mls }}", DisplayPrecision: 2},
	{Name: "Dispensed Volume", Key: "dispensed", DeviceClass: "volume", Unit: "mL", ValueTemplate: "{{ value_json.flow.dispensed_ml }}", DisplayPrecision: 1},
	{Name: "Drum Speed", Key: "drum_rpm", Unit: "rpm", ValueTemplate: "{{ value_json.drum.current }}"},
	{Name: "Queue Length", Key: "queue_len", ValueTemplate: "{{ value_json.queue_len }}"},
}

// CreateSensorEntity creates a Home Assistant sensor entity via MQTT discovery
func (s *MQTTSender) CreateSensorEntity(deviceName, stateTopic string, entity SensorEntity) error {
	deviceId := strings.ReplaceAll(strings.ToLower(deviceName), " ", "_")

	config := haEntityConfig{
		Name:             entity.Name,
		DeviceClass:      entity.DeviceClass,
		StateTopic:       stateTopic,
		UnitOfMeasure:    entity.Unit,
		ValueTemplate:    entity.ValueTemplate,
		UniqueId:         deviceId + "_" + entity.Key,
		ExpireAfter:      60,
		StateClass:       "measurement",
		DisplayPrecision: entity.DisplayPrecision,
		Device: haDeviceConfig{
			Identifiers:  []string{deviceId},
			Name:         deviceName,
			Manufacturer: "brewlab",
			Model:        "Centrifugal brewer",
		},
	}

	configTopic := "homeassistant/sensor/" + deviceId + "_" + entity.Key + "/config"
	return s.SendJSON(configTopic, config, 2, true)
}

// mqttSenderWorker publishes outgoing messages, queuing them while no
// client is connected
func mqttSenderWorker(
	ctx context.Context,
	outgoingChan <-chan MQTTMessage,
	clientChan <-chan mqtt.Client,
	log *zap.SugaredLogger,
) {
	log.Infof("MQTT sender worker started")

	var client mqtt.Client
	var messageQueue []MQTTMessage

	publish := func(msg MQTTMessage) {
		token := client.Publish(msg.Topic, msg.QoS, msg.Retain, msg.Payload)
		token.Wait()
		if token.Error() != nil {
			log.Warnf("Failed to publish to %s: %v", msg.Topic, token.Error())
		}
	}

	for {
		select {
		case newClient := <-clientChan:
			log.Infof("MQTT sender worker received new client")
			client = newClient

			// Process any queued messages now that we have a client
			if client != nil && client.IsConnected() {
				queuedCount := len(messageQueue)
				for _, msg := range messageQueue {
					publish(msg)
				}
				messageQueue = nil
				if queuedCount > 0 {
					log.Infof("MQTT sender worker processed %d queued messages", queuedCount)
				}
			}

		case msg := <-outgoingChan:
			if client != nil && client.IsConnected() {
				publish(msg)
				continue
			}
			// No client yet, queue the message (dropping the oldest when full)
			if len(messageQueue) >= maxQueuedMessages {
				messageQueue = messageQueue[1:]
			}
			messageQueue = append(messageQueue, msg)
			log.Debugf("MQTT sender worker queued message (total queued: %d)", len(messageQueue))

		case <-ctx.Done():
			log.Infof("MQTT sender worker stopped")
			return
		}
	}
}
