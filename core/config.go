package core

import (
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type (
	ServerConfig struct {
		Host            string
		DebugHost       string
		ShutdownTimeout time.Duration
		DisableReqLogs  bool
	}

	DatabaseConfig struct {
		Engine     string
		Host       string
		Port       string
		Name       string
		User       string
		Password   string
		DisableTLS bool
	}

	// LocalStoreConfig configures the device's durable key/value store.
	LocalStoreConfig struct {
		Driver string // sqlite | memory
		Path   string
	}

	SyncConfig struct {
		ProbeInterval time.Duration
		MaxAttempts   int           // 0: retry forever
		BackoffBase   time.Duration // 0: no backoff
		BackoffMax    time.Duration
		Tables        []string

		// dead-letter mutations the backend rejects for good (constraint violations, bad data)
		DeadLetterPermanent bool
	}

	SMSConfig struct {
		BaseURL            string
		BatchSize          int
		MaxParallelBatches int
		RequestTimeout     time.Duration
		Console            bool

		// global defaults, used when system_settings has no value
		APIKey    string
		SecretKey string
		CallerID  string
		ClientID  string
	}

	Config struct {
		AppName      string
		Env          string
		Build        string
		Debug        bool
		TestMode     bool
		SecretKey    string
		RollbarToken string

		Server     ServerConfig
		Database   DatabaseConfig
		LocalStore LocalStoreConfig
		Sync       SyncConfig
		SMS        SMSConfig
	}
)

func (c DatabaseConfig) Address() string {
	return net.JoinHostPort(c.Host, c.Port)
}

// DefaultTables are the record collections the agent may write to.
var DefaultTables = []string{
	"attendance",
	"classes",
	"exam_marks",
	"exam_subjects",
	"exams",
	"fee_structures",
	"fees",
	"ledger",
	"recent_calls",
	"sms_templates",
	"students",
	"teachers",
	"transactions",
}

func setDefaults(v *viper.Viper) {
	v.SetTypeByDefaultValue(true)

	v.SetDefault("appName", "Madrasah")
	v.SetDefault("build", "develop")
	v.SetDefault("debug", true)
	v.SetDefault("testMode", false)
	v.SetDefault("secretKey", "change-me-dev-secret")
	v.SetDefault("rollbarToken", "")

	v.SetDefault("server.host", "127.0.0.1:8787")
	v.SetDefault("server.debugHost", "127.0.0.1:8788")
	v.SetDefault("server.shutdownTimeout", 10*time.Second)
	v.SetDefault("server.disableReqLogs", false)

	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.name", "madrasah")
	v.SetDefault("database.user", "madrasah")
	v.SetDefault("database.password", "")
	v.SetDefault("database.disableTLS", false)

	v.SetDefault("localStore.driver", "sqlite")
	v.SetDefault("localStore.path", filepath.Join(".", "data", "agent.db"))

	v.SetDefault("sync.probeInterval", 15*time.Second)
	v.SetDefault("sync.maxAttempts", 0)
	v.SetDefault("sync.backoffBase", time.Duration(0))
	v.SetDefault("sync.backoffMax", time.Hour)
	v.SetDefault("sync.tables", DefaultTables)
	v.SetDefault("sync.deadLetterPermanent", false)

	v.SetDefault("sms.baseURL", "https://smpp.revesms.com:7790")
	v.SetDefault("sms.batchSize", 15)
	v.SetDefault("sms.maxParallelBatches", 0)
	v.SetDefault("sms.requestTimeout", 30*time.Second)
	v.SetDefault("sms.console", false)
	v.SetDefault("sms.apiKey", "")
	v.SetDefault("sms.secretKey", "")
	v.SetDefault("sms.callerID", "1234")
	v.SetDefault("sms.clientID", "")
}

// NewConfig loads the configuration from defaults, an optional `config/.env.<env>` file and the environment.
// ENV selects the environment (DEV by default) and is also the prefix of every variable, eg. PROD_SMS_APIKEY.
func NewConfig() *Config {
	v := viper.New()
	setDefaults(v)

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		v.SetDefault("testMode", true)
	case "PROD":
		v.SetDefault("debug", false)
	}
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join("config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	return &Config{
		AppName:      v.GetString("appName"),
		Env:          env,
		Build:        v.GetString("build"),
		Debug:        v.GetBool("debug"),
		TestMode:     v.GetBool("testMode"),
		SecretKey:    v.GetString("secretKey"),
		RollbarToken: v.GetString("rollbarToken"),
		Server: ServerConfig{
			Host:            v.GetString("server.host"),
			DebugHost:       v.GetString("server.debugHost"),
			ShutdownTimeout: v.GetDuration("server.shutdownTimeout"),
			DisableReqLogs:  v.GetBool("server.disableReqLogs"),
		},
		Database: DatabaseConfig{
			Engine:     v.GetString("database.engine"),
			Host:       v.GetString("database.host"),
			Port:       v.GetString("database.port"),
			Name:       v.GetString("database.name"),
			User:       v.GetString("database.user"),
			Password:   v.GetString("database.password"),
			DisableTLS: v.GetBool("database.disableTLS"),
		},
		LocalStore: LocalStoreConfig{
			Driver: v.GetString("localStore.driver"),
			Path:   v.GetString("localStore.path"),
		},
		Sync: SyncConfig{
			ProbeInterval:       v.GetDuration("sync.probeInterval"),
			MaxAttempts:         v.GetInt("sync.maxAttempts"),
			BackoffBase:         v.GetDuration("sync.backoffBase"),
			BackoffMax:          v.GetDuration("sync.backoffMax"),
			Tables:              v.GetStringSlice("sync.tables"),
			DeadLetterPermanent: v.GetBool("sync.deadLetterPermanent"),
		},
		SMS: SMSConfig{
			BaseURL:            v.GetString("sms.baseURL"),
			BatchSize:          v.GetInt("sms.batchSize"),
			MaxParallelBatches: v.GetInt("sms.maxParallelBatches"),
			RequestTimeout:     v.GetDuration("sms.requestTimeout"),
			Console:            v.GetBool("sms.console"),
			APIKey:             v.GetString("sms.apiKey"),
			SecretKey:          v.GetString("sms.secretKey"),
			CallerID:           v.GetString("sms.callerID"),
			ClientID:           v.GetString("sms.clientID"),
		},
	}
}
