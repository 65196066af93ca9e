package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Configurazione del server HTTP
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// Cartelle e file persistenti
type StorageConfig struct {
	AuthDir      string `mapstructure:"auth_dir"`
	DownloadsDir string `mapstructure:"downloads_dir"`
	JournalPath  string `mapstructure:"journal_path"`
}

// Configurazione della sessione WhatsApp
type WhatsAppConfig struct {
	ReconnectDelay time.Duration `mapstructure:"reconnect_delay"`
	PrintQR        bool          `mapstructure:"print_qr"`
	MediaTimeout   time.Duration `mapstructure:"media_timeout"`
}

// Configurazione delle consegne webhook
type WebhookConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// AMQPConfig abilita la pubblicazione dei messaggi su RabbitMQ quando URL è valorizzato
type AMQPConfig struct {
	URL      string `mapstructure:"url"`
	Exchange string `mapstructure:"exchange"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

type TelemetryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Dir     string `mapstructure:"dir"`
}

// Configurazione completa
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	WhatsApp  WhatsAppConfig  `mapstructure:"whatsapp"`
	Webhook   WebhookConfig   `mapstructure:"webhook"`
	AMQP      AMQPConfig      `mapstructure:"amqp"`
	Log       LogConfig       `mapstructure:"log"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// SetDefaults registra i valori predefiniti
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3033)
	v.SetDefault("storage.auth_dir", "auth")
	v.SetDefault("storage.downloads_dir", "downloads")
	v.SetDefault("storage.journal_path", "journal.db")
	v.SetDefault("whatsapp.reconnect_delay", 5*time.Second)
	v.SetDefault("whatsapp.print_qr", true)
	v.SetDefault("whatsapp.media_timeout", 60*time.Second)
	v.SetDefault("webhook.timeout", 10*time.Second)
	v.SetDefault("amqp.url", "")
	v.SetDefault("amqp.exchange", "whatsapp.events")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", filepath.Join("logs", "gateway.log"))
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.dir", "logs")
}

// LoadConfig carica la configurazione da file (se presente) e dalle variabili d'ambiente.
// Le variabili hanno prefisso GATEWAY_ (es. GATEWAY_WEBHOOK_TIMEOUT); per la porta
// sono accettate anche BAILEYS_PORT e PORT.
func LoadConfig(v *viper.Viper, filePath string) (*Config, error) {
	SetDefaults(v)

	v.SetEnvPrefix("GATEWAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("server.port", "GATEWAY_SERVER_PORT", "BAILEYS_PORT", "PORT"); err != nil {
		return nil, fmt.Errorf("errore nel binding della porta: %w", err)
	}

	if filePath != "" {
		if _, err := os.Stat(filePath); err == nil {
			v.SetConfigFile(filePath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("errore nella lettura del file di configurazione: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("errore nell'apertura del file di configurazione: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("errore nella decodifica della configurazione: %w", err)
	}
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return nil, fmt.Errorf("porta non valida: %d", config.Server.Port)
	}

	return &config, nil
}

// EnsureDirs crea le cartelle persistenti se non esistono
func (c *Config) EnsureDirs() error {
	dirs := []string{
		c.Storage.AuthDir,
		c.Storage.DownloadsDir,
		filepath.Dir(c.Storage.JournalPath),
	}
	if c.Log.File != "" {
		dirs = append(dirs, filepath.Dir(c.Log.File))
	}
	if c.Telemetry.Enabled {
		dirs = append(dirs, c.Telemetry.Dir)
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("errore nella creazione della directory %s: %w", dir, err)
		}
	}
	return nil
}

// Indirizzo di ascolto del server
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
