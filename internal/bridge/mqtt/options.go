package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/muurk/smartplug/internal/config"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultPublishTimeout    = 5 * time.Second
	defaultDisconnectQuiesce = 1000 // milliseconds
	defaultKeepAlive         = 60 * time.Second
	maxReconnectInterval     = 2 * time.Minute
)

// buildClientOptions creates paho options from the bridge configuration.
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port))
	opts.SetClientID(cfg.Broker.ClientID)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(maxReconnectInterval)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	// Broker publishes this if we vanish without Close.
	opts.SetWill(Topics{Prefix: cfg.TopicPrefix}.BridgeStatus(), statusPayload("offline", "unexpected_disconnect"), 1, true)

	return opts
}

func statusPayload(status, reason string) string {
	if reason == "" {
		return fmt.Sprintf(`{"status":%q,"timestamp":%q}`, status, time.Now().UTC().Format(time.RFC3339))
	}
	return fmt.Sprintf(`{"status":%q,"reason":%q,"timestamp":%q}`, status, reason, time.Now().UTC().Format(time.RFC3339))
}
