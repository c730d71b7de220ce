package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type DB struct {
	User string
	Pass string
	Host string
	Port string
	Name string
}

type NSQ struct {
	NsqdTCPAddr     string // e.g. nsqd:4150
	NsqdHTTPAddr    string // e.g. nsqd:4151, used for stats polling
	LookupHTTPAddr  string // e.g. http://nsqlookupd:4161
	DeliveriesTopic string // topic carrying dispatch tasks
	DLQTopic        string // dead letter topic
	WorkerChannel   string // channel name for delivery workers
}

type Worker struct {
	MaxInFlight    int           // NSQ consumer max in-flight messages
	MaxBackoff     time.Duration // cap on the retry delay
	JitterPercent  float64       // retry delay jitter (0.0-1.0)
	PublishDLQ     bool          // publish exhausted deliveries to the DLQ topic
	HTTPPort       string        // worker metrics/health port
	MaxConnections int           // cap on concurrent outbound connections
}

type Dispatch struct {
	UserAgent      string
	MaxRedirects   int
	DefaultTimeout time.Duration // used when a subscription has no timeout set
}

type Receiver struct {
	FailFirstN    int    // number of requests to fail initially
	Secret        string // secret for signature verification
	Port          string // listen port
	ResponseDelay time.Duration
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	IdleTimeout   time.Duration
}

type Config struct {
	AppName  string
	Source   string // value of the payload "source" field
	DB       DB
	NSQ      NSQ
	Worker   Worker
	Dispatch Dispatch
	Receiver Receiver
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func FromEnv() Config {
	return Config{
		AppName: getenv("APP_NAME", "hookline"),
		Source:  getenv("EVENT_SOURCE", "hookline"),
		DB: DB{
			User: getenv("DB_USER", "postgres"),
			Pass: getenv("DB_PASS", "postgres"),
			Host: getenv("DB_HOST", "postgres"),
			Port: getenv("DB_PORT", "5432"),
			Name: getenv("DB_NAME", "hookline"),
		},
		NSQ: NSQ{
			NsqdTCPAddr:     getenv("NSQD_TCP_ADDR", "nsqd:4150"),
			NsqdHTTPAddr:    getenv("NSQD_HTTP_ADDR", "nsqd:4151"),
			LookupHTTPAddr:  getenv("NSQ_LOOKUP_HTTP_ADDR", "http://nsqlookupd:4161"),
			DeliveriesTopic: getenv("NSQ_DELIVERIES_TOPIC", "deliveries"),
			DLQTopic:        getenv("NSQ_DLQ_TOPIC", "deliveries_dlq"),
			WorkerChannel:   getenv("NSQ_WORKER_CHANNEL", "workers"),
		},
		Worker: Worker{
			MaxInFlight:    getenvInt("WORKER_MAX_IN_FLIGHT", 1000),
			MaxBackoff:     getenvDuration("MAX_BACKOFF", time.Hour),
			JitterPercent:  getenvFloat("BACKOFF_JITTER_PCT", 0.25),
			PublishDLQ:     getenvBool("PUBLISH_DLQ_TOPIC", false),
			HTTPPort:       ":" + getenv("WORKER_HTTP_PORT", "8082"),
			MaxConnections: getenvInt("WORKER_MAX_CONNECTIONS", 100),
		},
		Dispatch: Dispatch{
			UserAgent:      getenv("DISPATCH_USER_AGENT", "Hookline-Webhooks/1.0"),
			MaxRedirects:   getenvInt("DISPATCH_MAX_REDIRECTS", 5),
			DefaultTimeout: getenvDuration("DISPATCH_DEFAULT_TIMEOUT", 10*time.Second),
		},
		Receiver: Receiver{
			FailFirstN:    getenvInt("FAIL_FIRST_N", 0),
			Secret:        getenv("RECEIVER_SECRET", ""),
			Port:          getenv("RECEIVER_PORT", ":8081"),
			ResponseDelay: getenvDuration("RECEIVER_RESPONSE_DELAY", 0),
			ReadTimeout:   getenvDuration("RECEIVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:  getenvDuration("RECEIVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:   getenvDuration("RECEIVER_IDLE_TIMEOUT", 60*time.Second),
		},
	}
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DB.User, c.DB.Pass, c.DB.Host, c.DB.Port, c.DB.Name)
}
