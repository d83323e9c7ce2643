package sio

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/noxide/loam/util"
)

// MQTT is a Couplings for an MQTT client: payloads arrive on the
// subscribed topics and replies publish to ReplyTopic.
type MQTT struct {
	// Broker is the broker address ("tcp://localhost:1883").
	Broker   string
	ClientID string
	Username string
	Password string

	// SubTopic is the subscription topic (wildcards welcome).
	SubTopic string

	// ReplyTopic carries outbound replies.
	ReplyTopic string

	// QoS for both directions.
	QoS byte

	// Quiesce is the disconnection grace in milliseconds.
	Quiesce uint

	Debug bool

	client mqtt.Client
}

func NewMQTT(broker, subTopic, replyTopic string) *MQTT {
	return &MQTT{
		Broker:     broker,
		SubTopic:   subTopic,
		ReplyTopic: replyTopic,
		Quiesce:    100,
	}
}

func (c *MQTT) logf(format string, args ...interface{}) {
	if c.Debug {
		util.Logf("sio.MQTT "+format, args...)
	}
}

func (c *MQTT) Start(ctx context.Context, in chan<- Input) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(c.Broker)
	opts.SetClientID(c.ClientID)
	opts.SetKeepAlive(10 * time.Second)
	opts.Username = c.Username
	opts.Password = c.Password

	client := mqtt.NewClient(opts)
	if t := client.Connect(); t.Wait() && t.Error() != nil {
		return t.Error()
	}
	c.client = client
	c.logf("connected to %s", c.Broker)

	handler := func(_ mqtt.Client, msg mqtt.Message) {
		c.logf("heard %s %s", msg.Topic(), msg.Payload())
		select {
		case <-ctx.Done():
		case in <- Input{
			Source: "mqtt:" + msg.Topic(),
			Body:   msg.Payload(),
			Reply:  c.reply,
		}:
		}
	}
	if t := client.Subscribe(c.SubTopic, c.QoS, handler); t.Wait() && t.Error() != nil {
		client.Disconnect(c.Quiesce)
		return t.Error()
	}
	return nil
}

func (c *MQTT) reply(bs []byte) error {
	if c.ReplyTopic == "" {
		return fmt.Errorf("sio.MQTT: no reply topic")
	}
	t := c.client.Publish(c.ReplyTopic, c.QoS, false, bs)
	t.Wait()
	return t.Error()
}

func (c *MQTT) Stop(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	if c.SubTopic != "" {
		c.client.Unsubscribe(c.SubTopic)
	}
	c.client.Disconnect(c.Quiesce)
	return nil
}
