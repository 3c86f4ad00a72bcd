// Package mqttbus bridges the in-process bus to an MQTT broker: pilot
// inputs and external rate setpoints come in, actuator commands and rate
// controller diagnostics go out. Payloads are JSON copies of the bus
// records.
package mqttbus

import (
	"encoding/json"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"

	"github.com/andrelim435/bicopter/bus"
	"github.com/andrelim435/bicopter/control"
)

var connectHandler mqtt.OnConnectHandler = func(client mqtt.Client) {
	log.Println("mqttbus: connected to broker")
}

var connectLostHandler mqtt.ConnectionLostHandler = func(client mqtt.Client, err error) {
	log.Printf("mqttbus: connection lost: %v", err)
}

// Bridge relays records between the bus and a broker. Topic names on the
// broker are the bus topic names under the configured prefix.
type Bridge struct {
	bus    *bus.Bus
	client mqtt.Client
	prefix string
	stop   chan struct{}
	done   chan struct{}
}

// New connects to the broker and returns a bridge that is not yet
// relaying; call Start.
func New(b *bus.Bus, broker, clientID, prefix string) (*Bridge, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.OnConnect = connectHandler
	opts.OnConnectionLost = connectLostHandler
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, errors.Wrap(token.Error(), "mqttbus: connect")
	}

	return &Bridge{
		bus:    b,
		client: client,
		prefix: prefix,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}, nil
}

// Start subscribes the inbound topics and begins forwarding outbound
// records.
func (br *Bridge) Start() error {
	if err := br.inbound(control.TopicManualControl, func(payload []byte) (interface{}, error) {
		var m control.ManualControl
		err := json.Unmarshal(payload, &m)
		return m, err
	}); err != nil {
		return err
	}
	if err := br.inbound(control.TopicRatesSetpoint, func(payload []byte) (interface{}, error) {
		var sp control.RatesSetpoint
		err := json.Unmarshal(payload, &sp)
		return sp, err
	}); err != nil {
		return err
	}
	if err := br.inbound(control.TopicControlMode, func(payload []byte) (interface{}, error) {
		var cm control.ControlMode
		err := json.Unmarshal(payload, &cm)
		return cm, err
	}); err != nil {
		return err
	}

	go br.forwardOutbound()
	return nil
}

// inbound subscribes one broker topic and republishes every decodable
// payload on the bus topic of the same name.
func (br *Bridge) inbound(topic string, decode func([]byte) (interface{}, error)) error {
	token := br.client.Subscribe(br.prefix+"/"+topic, 0, func(_ mqtt.Client, msg mqtt.Message) {
		rec, err := decode(msg.Payload())
		if err != nil {
			log.Printf("mqttbus: bad %s payload: %v", topic, err)
			return
		}
		br.bus.Publish(topic, rec)
	})
	token.Wait()
	return errors.Wrapf(token.Error(), "mqttbus: subscribe %s", topic)
}

// forwardOutbound pushes the actuator command and the rate controller
// status to the broker, paced by actuator publication. Delivery is
// fire-and-forget at QoS 0; a slow broker drops frames, never the loop.
func (br *Bridge) forwardOutbound() {
	defer close(br.done)

	subAct := br.bus.Subscribe(control.TopicActuatorControls)
	subStatus := br.bus.Subscribe(control.TopicRateCtrlStatus)
	defer subAct.Unsubscribe()
	defer subStatus.Unsubscribe()

	for {
		select {
		case <-br.stop:
			return
		default:
		}

		if !subAct.Wait(250 * time.Millisecond) {
			continue
		}
		if v, ok := subAct.Poll(); ok {
			br.publish(control.TopicActuatorControls, v)
		}
		if v, ok := subStatus.Poll(); ok {
			br.publish(control.TopicRateCtrlStatus, v)
		}
	}
}

func (br *Bridge) publish(topic string, rec interface{}) {
	payload, err := json.Marshal(rec)
	if err != nil {
		log.Printf("mqttbus: marshal %s: %v", topic, err)
		return
	}
	br.client.Publish(br.prefix+"/"+topic, 0, false, payload)
}

// Stop ends outbound forwarding and disconnects from the broker.
func (br *Bridge) Stop() {
	close(br.stop)
	<-br.done
	br.client.Disconnect(250)
}
