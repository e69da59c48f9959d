package config

import (
	"errors"
	"fmt"

	"github.com/caarlos0/env/v11"
	"github.com/pion/webrtc/v4"
)

// ClientConfig конфигурация headless участника (meshroom join)
type ClientConfig struct {
	SignalingURL string `env:"SIGNALING_URL" envDefault:"ws://localhost:3000/ws"`
	DisplayName  string `env:"DISPLAY_NAME" envDefault:"meshroom-bot"`

	STUNServers []string `env:"STUN_SERVERS" envSeparator:"," envDefault:"stun:stun.l.google.com:19302"`

	TURNServer   string `env:"TURN_SERVER"`
	TURNUsername string `env:"TURN_USERNAME"`
	TURNPassword string `env:"TURN_PASSWORD"`
}

// ClientOptions - значения флагов CLI, перекрывают окружение
type ClientOptions struct {
	SignalingURL string
	DisplayName  string
	TURNServer   string
}

// NewClient читает окружение и накладывает поверх флаги CLI
func NewClient(opts ClientOptions) (*ClientConfig, error) {
	loadDotEnv()

	c, err := env.ParseAs[ClientConfig]()
	if err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if opts.SignalingURL != "" {
		c.SignalingURL = opts.SignalingURL
	}
	if opts.DisplayName != "" {
		c.DisplayName = opts.DisplayName
	}
	if opts.TURNServer != "" {
		c.TURNServer = opts.TURNServer
	}

	if c.SignalingURL == "" {
		return nil, errors.New("signaling url is required")
	}
	if c.DisplayName == "" {
		return nil, errors.New("display name is required")
	}

	return &c, nil
}

func (c *ClientConfig) ICEServers() []webrtc.ICEServer {
	var servers []webrtc.ICEServer

	if len(c.STUNServers) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: c.STUNServers})
	}

	if c.TURNServer != "" {
		servers = append(servers, webrtc.ICEServer{
			URLs: []string{
				fmt.Sprintf("turn:%s?transport=udp", c.TURNServer),
				fmt.Sprintf("turn:%s?transport=tcp", c.TURNServer),
			},
			Username:   c.TURNUsername,
			Credential: c.TURNPassword,
		})
	}

	return servers
}
