package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/pion/webrtc/v4"
	"golang.org/x/crypto/bcrypt"
)

type Config struct {
	Debug      bool   `env:"DEBUG" envDefault:"false"`
	Port       string `env:"PORT" envDefault:"3000"`
	MetricPort string `env:"METRIC_PORT" envDefault:"9090"`
	Domain     string `env:"DOMAIN" envDefault:"http://localhost:3000"`

	Room RoomConfig

	STUNServers []string `env:"STUN_SERVERS" envSeparator:"," envDefault:"stun:stun.l.google.com:19302"`

	// Заполняются из CoturnServer, если он настроен
	TurnUDPServer webrtc.ICEServer
	TurnTCPServer webrtc.ICEServer

	CoturnServer CoturnConfig
	Postgres     PostgresConfig
}

type RoomConfig struct {
	// MaxParticipants - 0 значит без ограничений
	MaxParticipants int `env:"ROOM_MAX_PARTICIPANTS" envDefault:"0"`

	// PasswordCost - стоимость bcrypt для паролей комнат
	PasswordCost int `env:"ROOM_PASSWORD_COST" envDefault:"10"`
}

type PostgresConfig struct {
	Enabled bool   `env:"POSTGRES_ENABLED" envDefault:"false"`
	URL     string `env:"POSTGRES_URL"`

	Host     string `env:"POSTGRES_HOST" envDefault:"localhost"`
	Port     int    `env:"POSTGRES_PORT" envDefault:"5432"`
	User     string `env:"POSTGRES_USER" envDefault:"postgres"`
	Password string `env:"POSTGRES_PASSWORD" envDefault:"postgres"`
	Name     string `env:"POSTGRES_NAME" envDefault:"meshroom"`
	SSL      string `env:"POSTGRES_SSL" envDefault:"disable"`
}

func (p *PostgresConfig) DSN() string {
	if p.URL != "" {
		return p.URL
	}

	return fmt.Sprintf("postgresql://%s:%s@%s:%d/%s?sslmode=%s",
		p.User,
		p.Password,
		p.Host,
		p.Port,
		p.Name,
		p.SSL,
	)
}

type CoturnConfig struct {
	Host     string `env:"COTURN_HOST"`
	Username string `env:"COTURN_USERNAME"`
	Password string `env:"COTURN_PASSWORD"`

	// Secret - нужен для генерации временных кредов для фронта
	Secret string `env:"COTURN_SECRET"`
}

func (c CoturnConfig) Enabled() bool {
	return c.Host != ""
}

// New читает .env (если есть) и переменные окружения
func New() (*Config, error) {
	loadDotEnv()

	c, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err = c.validate(); err != nil {
		return nil, err
	}

	if c.CoturnServer.Enabled() {
		c.TurnUDPServer = webrtc.ICEServer{
			URLs:       []string{fmt.Sprintf("turn:%s?transport=udp", c.CoturnServer.Host)},
			Username:   c.CoturnServer.Username,
			Credential: c.CoturnServer.Password,
		}

		c.TurnTCPServer = webrtc.ICEServer{
			URLs:       []string{fmt.Sprintf("turn:%s?transport=tcp", c.CoturnServer.Host)},
			Username:   c.CoturnServer.Username,
			Credential: c.CoturnServer.Password,
		}
	}

	return &c, nil
}

func (c *Config) validate() error {
	if c.Room.MaxParticipants < 0 {
		return errors.New("ROOM_MAX_PARTICIPANTS must not be negative")
	}

	if c.Room.PasswordCost < bcrypt.MinCost || c.Room.PasswordCost > bcrypt.MaxCost {
		return fmt.Errorf("ROOM_PASSWORD_COST must be in [%d, %d]", bcrypt.MinCost, bcrypt.MaxCost)
	}

	return nil
}

// ICEServers возвращает список ICE серверов для серверной конфигурации
func (c *Config) ICEServers() []webrtc.ICEServer {
	var servers []webrtc.ICEServer

	if len(c.STUNServers) > 0 {
		servers = append(servers, webrtc.ICEServer{URLs: c.STUNServers})
	}

	if c.CoturnServer.Enabled() {
		servers = append(servers, c.TurnUDPServer, c.TurnTCPServer)
	}

	return servers
}

func loadDotEnv() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("load .env", slog.Any("error", err))
	}
}
