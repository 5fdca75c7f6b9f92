package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/brewlab/brewctl/src/command"
	"github.com/brewlab/brewctl/src/engine"
)

// submitTimeout bounds how long an ingestion adapter waits for the loop
const submitTimeout = 2 * time.Second

// CommandResult is published on the result topic for every command message
type CommandResult struct {
	Line     string   `json:"line"`
	Accepted bool     `json:"accepted"`
	Queued   int      `json:"queued"`
	Message  string   `json:"message"`
	Ignored  []string `json:"ignored,omitempty"`
}

func newCommandResult(line string, adm command.Admission) CommandResult {
	res := CommandResult{
		Line:     line,
		Accepted: adm.Accepted(),
		Queued:   adm.Queued,
		Message:  adm.String(),
	}
	for _, r := range adm.Rejected {
		res.Ignored = append(res.Ignored, r.Err.Error())
	}
	return res
}

// mqttWorker manages the MQTT connection and forwards command messages into
// the control loop
func mqttWorker(
	ctx context.Context,
	env *Environment,
	requests chan<- engine.Request,
	sender *MQTTSender,
	clientChan chan<- mqtt.Client,
	log *zap.SugaredLogger,
) {
	broker := env.MQTTBroker
	if !strings.Contains(broker, "://") {
		broker = fmt.Sprintf("tcp://%s:1883", broker)
	}
	commandTopic := env.Topic("command")
	resultTopic := env.Topic("command/result")

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(env.MQTTClientID)
	opts.SetUsername(env.MQTTUsername)
	opts.SetPassword(env.MQTTPassword)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Warnf("MQTT connection lost: %v", err)
	})

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Infof("Connected to MQTT broker at %s", broker)

		// Send the new client to the sender worker
		select {
		case clientChan <- client:
		case <-ctx.Done():
			return
		}

		token := client.Subscribe(commandTopic, 1, func(client mqtt.Client, msg mqtt.Message) {
			line := strings.TrimSpace(string(msg.Payload()))
			if line == "" {
				return
			}

			sendCtx, cancel := context.WithTimeout(ctx, submitTimeout)
			defer cancel()
			adm, err := engine.Send(sendCtx, requests, line)
			if err != nil {
				log.Warnf("MQTT: command %q not submitted: %v", line, err)
				return
			}
			if err := sender.SendJSON(resultTopic, newCommandResult(line, adm), 1, false); err != nil {
				log.Warnf("MQTT: failed to encode result: %v", err)
			}
		})
		if token.Wait() && token.Error() != nil {
			log.Warnf("Failed to subscribe to topic %s: %v", commandTopic, token.Error())
		} else {
			log.Infof("Subscribed to topic: %s", commandTopic)
		}
	})

	client := mqtt.NewClient(opts)

	log.Infof("Connecting to MQTT broker at %s...", broker)
	token := client.Connect()
	// With connect retry enabled the token completes once connected or
	// when Disconnect is called.
	go func() {
		token.Wait()
		if token.Error() != nil {
			log.Warnf("Failed to connect to MQTT broker: %v", token.Error())
		}
	}()

	<-ctx.Done()

	client.Disconnect(250)
	log.Infof("Disconnected from MQTT broker")
}
