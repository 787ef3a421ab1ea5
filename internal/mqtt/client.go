package mqtt

import (
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Client manages the MQTT connection (low-level connection management only)
// For publishing the node configuration, use Broadcaster
type Client struct {
	client mqtt.Client
	config ClientConfig
}

// ClientConfig holds MQTT client configuration
type ClientConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string

	// OnConnect runs after every successful (re)connection
	OnConnect func(mqtt.Client)
}

// NewClient creates the MQTT client. It does not connect; call Connect.
// Reconnection and initial connect retries are left to paho.
func NewClient(config ClientConfig) *Client {
	// Route paho's own failure reports through the process log
	mqtt.ERROR = log.New(log.Writer(), "MQTT ERROR: ", log.LstdFlags)
	mqtt.CRITICAL = log.New(log.Writer(), "MQTT CRITICAL: ", log.LstdFlags)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.Broker)
	opts.SetClientID(config.ClientID)
	opts.SetUsername(config.Username)
	opts.SetPassword(config.Password)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		log.Println("MQTT: Connection established")
		if config.OnConnect != nil {
			config.OnConnect(c)
		}
	})
	opts.SetConnectionLostHandler(connectLostHandler)
	opts.SetReconnectingHandler(reconnectingHandler)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(time.Minute)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)

	return &Client{
		client: mqtt.NewClient(opts),
		config: config,
	}
}

// Connect starts connecting in the background. The gateway keeps serving
// ingestion while the broker is unreachable.
func (c *Client) Connect() {
	token := c.client.Connect()
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			log.Printf("MQTT Client: Failed to connect to broker %s: %v", c.config.Broker, err)
			return
		}
		log.Println("MQTT Client: Connected to broker:", c.config.Broker)
	}()
}

// IsConnected returns whether the client is currently connected
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// Close closes the MQTT client connection
func (c *Client) Close() {
	c.client.Disconnect(250)
	log.Println("MQTT Client: Disconnected")
}

var connectLostHandler mqtt.ConnectionLostHandler = func(client mqtt.Client, err error) {
	log.Printf("MQTT: Connection lost: %v", err)
}

var reconnectingHandler mqtt.ReconnectHandler = func(client mqtt.Client, opts *mqtt.ClientOptions) {
	log.Println("MQTT: Reconnecting...")
}
