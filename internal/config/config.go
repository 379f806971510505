package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// SystemInstructions is the base prompt sent to the realtime model.
const SystemInstructions = `You are an AI scam detection assistant monitoring a live conversation in real-time. Your role is to:

1. Listen carefully to the entire conversation as it unfolds
2. Continuously assess the scam likelihood on a scale of 1-10 (where 10 = definitely a scam)
3. Update your assessment as new information emerges.
4. Identify red flags such as:
- Urgency or pressure tactics
- Requests for money, gift cards, or personal information
- Impersonation of officials, banks, or trusted organizations - Too-good-to-be-true offers
- Threats or fear-based manipulation
- Requests to keep things secret
5. Ranges are: Not a Scam (1-3), Possible Scam(4-7), Definitely Scam(8-10)

Do not explain or say anything else, just respond with "Not a Scam", "Possible Scam" or "Definitely Scam" along with scam score in a JSON format {"response":"Not a Scam/Possible Scam/Definitely Scam", "score":x}.
When you detect concerning patterns, update your assessment as per the conversation proceeds.
Your goal is to help the user recognize deceptive tactics and make informed decisions to protect themselves.`

// Configuration is the full service configuration.
type Configuration struct {
	Service       ServiceConfig
	Realtime      RealtimeConfig
	Audio         AudioConfig
	Assessment    AssessmentConfig
	Store         StoreConfig
	Notify        NotifyConfig
	Kafka         KafkaConfig
	Observability ObservabilityConfig
}

// ServiceConfig holds process-level settings.
type ServiceConfig struct {
	Principal   string
	Environment string
	HTTPPort    string
	GRPCPort    string
	OwnerID     string
	// DrainTimeout bounds how long a new call waits for the previous session to tear down.
	DrainTimeout time.Duration
}

// RealtimeConfig holds realtime API connection settings.
type RealtimeConfig struct {
	URL            string
	APIKey         string
	MaxRetries     int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	ConnectTimeout time.Duration
	PingInterval   time.Duration
	PongTimeout    time.Duration
	SendTimeout    time.Duration
	Instructions   string
}

// AudioConfig holds capture settings.
type AudioConfig struct {
	Source          string
	Command         []string
	FIFOPath        string
	SampleRate      int
	Channels        int
	FrameSamples    int
	QueueSize       int
	ReadTimeout     time.Duration
	ProcessGrace    time.Duration
	ProcessKillWait time.Duration
}

// AssessmentConfig holds score bands and the notification threshold.
type AssessmentConfig struct {
	SafeMax     int
	PossibleMin int
	PossibleMax int
	DefiniteMin int
	Notify      int
}

// StoreConfig selects and configures call persistence.
type StoreConfig struct {
	Backend             string // mongo, firestore, none
	MongoURI            string
	MongoDatabase       string
	MongoCollection     string
	FirestoreCollection string
	OperationTimeout    time.Duration
	Attempts            int
	RetryBaseDelay      time.Duration
}

// NotifyConfig holds push notification settings.
type NotifyConfig struct {
	Enabled         bool
	CredentialsFile string
	ProjectID       string
	DefaultToken    string
	Timeout         time.Duration
}

// KafkaConfig holds Kafka publisher settings.
type KafkaConfig struct {
	Enabled         bool
	Brokers         []string
	TopicAssessment string
	TopicCall       string
	Principal       string
}

// ObservabilityConfig holds logging and metrics settings.
type ObservabilityConfig struct {
	LogLevel    string
	LogFormat   string
	MetricsPort string
}

// Load reads an optional .env file and then the environment.
func Load() *Configuration {
	_ = godotenv.Load()

	principal := envOrDefault("SERVICE_PRINCIPAL", "svc-scam-call-guard")

	return &Configuration{
		Service: ServiceConfig{
			Principal:    principal,
			Environment:  envOrDefault("ENV", "prod"),
			HTTPPort:     envOrDefault("HTTP_PORT", "8000"),
			GRPCPort:     envOrDefault("GRPC_PORT", "50051"),
			OwnerID:      envOrDefault("DEFAULT_USER_UUID", "user-1234"),
			DrainTimeout: envOrDefaultDuration("SESSION_DRAIN_TIMEOUT", 10*time.Second),
		},
		Realtime: RealtimeConfig{
			URL:            envOrDefault("OPENAI_REALTIME_URI", "wss://api.openai.com/v1/realtime?model=gpt-realtime"),
			APIKey:         os.Getenv("OPENAI_API_KEY"),
			MaxRetries:     envOrDefaultInt("WS_MAX_RETRIES", 5),
			RetryBaseDelay: envOrDefaultDuration("WS_RETRY_BASE_DELAY", 2*time.Second),
			RetryMaxDelay:  envOrDefaultDuration("WS_RETRY_MAX_DELAY", 60*time.Second),
			ConnectTimeout: envOrDefaultDuration("WS_CONNECTION_TIMEOUT", 30*time.Second),
			PingInterval:   envOrDefaultDuration("WS_PING_INTERVAL", 20*time.Second),
			PongTimeout:    envOrDefaultDuration("WS_PING_TIMEOUT", 20*time.Second),
			SendTimeout:    envOrDefaultDuration("AUDIO_SEND_TIMEOUT", 5*time.Second),
			Instructions:   envOrDefault("SYSTEM_INSTRUCTIONS", SystemInstructions),
		},
		Audio: AudioConfig{
			Source:          envOrDefault("AUDIO_SOURCE", "process"),
			Command:         envOrDefaultFields("AUDIO_COMMAND", []string{"arecord", "-f", "S16_LE", "-r", "24000", "-c", "1", "-t", "raw"}),
			FIFOPath:        envOrDefault("PIPE_PATH", "/tmp/downlink_tap"),
			SampleRate:      envOrDefaultInt("AUDIO_RATE", 24000),
			Channels:        envOrDefaultInt("AUDIO_CHANNELS", 1),
			FrameSamples:    envOrDefaultInt("AUDIO_CHUNK_SIZE", 1024),
			QueueSize:       envOrDefaultInt("AUDIO_QUEUE_MAX_SIZE", 100),
			ReadTimeout:     envOrDefaultDuration("AUDIO_READ_TIMEOUT", 2*time.Second),
			ProcessGrace:    envOrDefaultDuration("PROCESS_CLEANUP_TIMEOUT", 5*time.Second),
			ProcessKillWait: envOrDefaultDuration("PROCESS_KILL_TIMEOUT", 2*time.Second),
		},
		Assessment: AssessmentConfig{
			SafeMax:     envOrDefaultInt("SCAM_SCORE_SAFE_MAX", 3),
			PossibleMin: envOrDefaultInt("SCAM_SCORE_POSSIBLE_MIN", 4),
			PossibleMax: envOrDefaultInt("SCAM_SCORE_POSSIBLE_MAX", 7),
			DefiniteMin: envOrDefaultInt("SCAM_SCORE_DEFINITE_MIN", 8),
			Notify:      envOrDefaultInt("NOTIFICATION_THRESHOLD", 4),
		},
		Store: StoreConfig{
			Backend:             envOrDefault("STORE_BACKEND", "mongo"),
			MongoURI:            os.Getenv("MONGO_URI"),
			MongoDatabase:       envOrDefault("MONGO_DB_NAME", "scam_detection"),
			MongoCollection:     envOrDefault("MONGO_COLLECTION_CALLS", "calls"),
			FirestoreCollection: envOrDefault("FIRESTORE_COLLECTION", "calls"),
			OperationTimeout:    envOrDefaultDuration("DB_OPERATION_TIMEOUT", 10*time.Second),
			Attempts:            envOrDefaultInt("DB_MAX_ATTEMPTS", 3),
			RetryBaseDelay:      envOrDefaultDuration("DB_RETRY_BASE_DELAY", time.Second),
		},
		Notify: NotifyConfig{
			Enabled:         envOrDefaultBool("NOTIFY_ENABLED", false),
			CredentialsFile: envOrDefault("FIREBASE_CONFIG_PATH", "other/config.json"),
			ProjectID:       os.Getenv("FIREBASE_PROJECT_ID"),
			DefaultToken:    os.Getenv("FCM_TOKEN"),
			Timeout:         envOrDefaultDuration("NOTIFICATION_TIMEOUT", 10*time.Second),
		},
		Kafka: KafkaConfig{
			Enabled:         envOrDefaultBool("KAFKA_ENABLED", false),
			Brokers:         envOrDefaultList("KAFKA_BROKERS", []string{"localhost:9092"}),
			TopicAssessment: envOrDefault("KAFKA_TOPIC_ASSESSMENT", "call.assessment"),
			TopicCall:       envOrDefault("KAFKA_TOPIC_CALL", "call.lifecycle"),
			Principal:       envOrDefault("KAFKA_PRINCIPAL", principal),
		},
		Observability: ObservabilityConfig{
			LogLevel:    strings.ToLower(envOrDefault("LOG_LEVEL", "info")),
			LogFormat:   envOrDefault("LOG_FORMAT", "json"),
			MetricsPort: envOrDefault("METRICS_PORT", "9090"),
		},
	}
}

// Validate reports missing critical settings as one combined error.
func (c *Configuration) Validate() error {
	var errs []error
	if c.Realtime.APIKey == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY is not set"))
	}
	if c.Store.Backend == "mongo" && c.Store.MongoURI == "" {
		errs = append(errs, errors.New("MONGO_URI is not set"))
	}
	if (c.Audio.Source == "fifo" || c.Audio.Source == "pipe") && c.Audio.FIFOPath == "" {
		errs = append(errs, errors.New("PIPE_PATH is not set"))
	}
	return errors.Join(errs...)
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}

func envOrDefaultFields(key string, def []string) []string {
	if f := strings.Fields(os.Getenv(key)); len(f) > 0 {
		return f
	}
	return def
}
