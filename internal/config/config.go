package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"guardian-monitor/internal/models"
)

// Config holds the full service configuration. Values come from environment
// variables with the documented defaults; the stakeholder roster comes from
// a YAML file. Safety-critical thresholds are validated at startup and a
// bad value is fatal (the core never guesses beyond the documented defaults).
type Config struct {
	Database struct {
		Host     string
		Port     int
		User     string
		Password string
		Database string
		SSLMode  string
	}

	Redis struct {
		Addr     string
		Password string
		DB       int

		TransitionStream string // audit stream for state transitions
		AlertStream      string // audit stream for alert outcomes
		SnapshotPrefix   string // per-session snapshot key prefix
		SnapshotTTL      time.Duration
	}

	MQTT struct {
		Enabled      bool
		Broker       string
		ClientID     string
		Username     string
		Password     string
		VehicleTopic string // inbound vehicle-bus flags
		AlarmTopic   string // outbound Tier-0 cabin alarm
	}

	HTTP struct {
		Addr string
	}

	Detection struct {
		EyeWindow   time.Duration
		MouthWindow time.Duration
		PoseWindow  time.Duration
		MinCoverage   float64
		MinConfidence float64
		Tick          time.Duration

		PerclosThreshold float64 // eye-closure / drowsy EAR threshold
		DrowsyDwell      time.Duration
		ClosedEAR        float64 // stricter "closed" threshold for Asleep
		AsleepDwell      time.Duration
		RecoveryDwell    time.Duration
		GracePeriod      time.Duration

		IntoxPeriod       time.Duration
		YawnMAR           float64
		YawnMinDuration   time.Duration
		YawnCount         int
		YawVarianceLimit  float64
		RollVarianceLimit float64
	}

	Escalation struct {
		Tier1Delay  time.Duration
		Tier2Delay  time.Duration
		RetryCap    int
		BackoffBase time.Duration
		QueueSize   int

		SMSGatewayURL string
		SMSToken      string
		WebhookURL    string
		WebhookToken  string

		ContactsFile string
		Tiers        []TierContacts
	}

	Log struct {
		Level  string
		Format string
	}
}

// TierContacts is one escalation tier's contact set from the roster file.
type TierContacts struct {
	Name     string                      `yaml:"name"`
	Contacts []models.StakeholderContact `yaml:"contacts"`
}

type contactsFile struct {
	Tiers []TierContacts `yaml:"tiers"`
}

// Load builds the configuration from the environment and, when
// GUARDIAN_CONTACTS_FILE is set, the YAML stakeholder roster.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "guardian")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)
	cfg.Redis.TransitionStream = getEnv("REDIS_TRANSITION_STREAM", "guardian:transitions")
	cfg.Redis.AlertStream = getEnv("REDIS_ALERT_STREAM", "guardian:alerts")
	cfg.Redis.SnapshotPrefix = getEnv("REDIS_SNAPSHOT_PREFIX", "guardian:session:")
	cfg.Redis.SnapshotTTL = getEnvDuration("REDIS_SNAPSHOT_TTL", 30*time.Second)

	cfg.MQTT.Enabled = getEnvBool("MQTT_ENABLED", false)
	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "guardian-monitor")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.VehicleTopic = getEnv("MQTT_VEHICLE_TOPIC", "vehicle/telemetry")
	cfg.MQTT.AlarmTopic = getEnv("MQTT_ALARM_TOPIC", "vehicle/alarm")

	cfg.HTTP.Addr = getEnv("HTTP_ADDR", ":8080")

	cfg.Detection.EyeWindow = getEnvDuration("EYE_WINDOW", 2*time.Second)
	cfg.Detection.MouthWindow = getEnvDuration("MOUTH_WINDOW", 10*time.Second)
	cfg.Detection.PoseWindow = getEnvDuration("POSE_WINDOW", 10*time.Second)
	cfg.Detection.MinCoverage = getEnvFloat("MIN_COVERAGE", 0.5)
	cfg.Detection.MinConfidence = getEnvFloat("MIN_FRAME_CONFIDENCE", 0.5)
	cfg.Detection.Tick = getEnvDuration("CLASSIFIER_TICK", 200*time.Millisecond)
	cfg.Detection.PerclosThreshold = getEnvFloat("PERCLOS_THRESHOLD", 0.20)
	cfg.Detection.DrowsyDwell = getEnvDuration("DROWSY_DWELL", 3*time.Second)
	cfg.Detection.ClosedEAR = getEnvFloat("CLOSED_EAR_THRESHOLD", 0.10)
	cfg.Detection.AsleepDwell = getEnvDuration("ASLEEP_DWELL", 1*time.Second)
	cfg.Detection.RecoveryDwell = getEnvDuration("RECOVERY_DWELL", 500*time.Millisecond)
	cfg.Detection.GracePeriod = getEnvDuration("GRACE_PERIOD", 2*time.Second)
	cfg.Detection.IntoxPeriod = getEnvDuration("INTOX_PERIOD", 60*time.Second)
	cfg.Detection.YawnMAR = getEnvFloat("INTOX_YAWN_MAR", 0.60)
	cfg.Detection.YawnMinDuration = getEnvDuration("INTOX_YAWN_MIN_DURATION", 1500*time.Millisecond)
	cfg.Detection.YawnCount = getEnvInt("INTOX_YAWN_COUNT", 3)
	cfg.Detection.YawVarianceLimit = getEnvFloat("INTOX_YAW_VARIANCE", 40.0)
	cfg.Detection.RollVarianceLimit = getEnvFloat("INTOX_ROLL_VARIANCE", 40.0)

	cfg.Escalation.Tier1Delay = getEnvDuration("TIER1_DELAY", 5*time.Second)
	cfg.Escalation.Tier2Delay = getEnvDuration("TIER2_DELAY", 15*time.Second)
	cfg.Escalation.RetryCap = getEnvInt("DISPATCH_RETRY_CAP", 3)
	cfg.Escalation.BackoffBase = getEnvDuration("DISPATCH_BACKOFF_BASE", 500*time.Millisecond)
	cfg.Escalation.QueueSize = getEnvInt("INGEST_QUEUE_SIZE", 64)
	cfg.Escalation.SMSGatewayURL = getEnv("SMS_GATEWAY_URL", "")
	cfg.Escalation.SMSToken = getEnv("SMS_GATEWAY_TOKEN", "")
	cfg.Escalation.WebhookURL = getEnv("EMERGENCY_WEBHOOK_URL", "")
	cfg.Escalation.WebhookToken = getEnv("EMERGENCY_WEBHOOK_TOKEN", "")
	cfg.Escalation.ContactsFile = getEnv("GUARDIAN_CONTACTS_FILE", "")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	if cfg.Escalation.ContactsFile != "" {
		tiers, err := LoadContacts(cfg.Escalation.ContactsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load contacts file: %w", err)
		}
		cfg.Escalation.Tiers = tiers
	}

	return cfg, nil
}

// LoadContacts parses the YAML stakeholder roster.
func LoadContacts(path string) ([]TierContacts, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var f contactsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return f.Tiers, nil
}

// Validate rejects unusable safety configuration before a session begins.
func (c *Config) Validate() error {
	d := &c.Detection
	if d.EyeWindow <= 0 || d.MouthWindow <= 0 || d.PoseWindow <= 0 {
		return fmt.Errorf("window spans must be positive")
	}
	if d.Tick <= 0 {
		return fmt.Errorf("classifier tick must be positive")
	}
	if d.MinCoverage <= 0 || d.MinCoverage > 1 {
		return fmt.Errorf("min coverage must be in (0, 1], got %v", d.MinCoverage)
	}
	if d.MinConfidence < 0 || d.MinConfidence > 1 {
		return fmt.Errorf("min frame confidence must be in [0, 1], got %v", d.MinConfidence)
	}
	if d.PerclosThreshold <= 0 || d.PerclosThreshold >= 1 {
		return fmt.Errorf("perclos threshold must be in (0, 1), got %v", d.PerclosThreshold)
	}
	if d.ClosedEAR <= 0 || d.ClosedEAR >= d.PerclosThreshold {
		return fmt.Errorf("closed-EAR threshold must be positive and below the drowsy threshold")
	}
	if d.DrowsyDwell <= 0 || d.AsleepDwell <= 0 || d.RecoveryDwell <= 0 {
		return fmt.Errorf("dwell durations must be positive")
	}
	if d.GracePeriod <= 0 {
		return fmt.Errorf("grace period must be positive")
	}
	if d.IntoxPeriod <= 0 || d.YawnMAR <= 0 || d.YawnCount <= 0 {
		return fmt.Errorf("intoxication thresholds must be positive")
	}
	if d.YawVarianceLimit <= 0 || d.RollVarianceLimit <= 0 {
		return fmt.Errorf("pose variance limits must be positive")
	}

	e := &c.Escalation
	if e.Tier1Delay <= 0 || e.Tier2Delay <= e.Tier1Delay {
		return fmt.Errorf("tier delays must be positive and increasing")
	}
	if e.RetryCap <= 0 {
		return fmt.Errorf("retry cap must be positive")
	}
	if e.BackoffBase <= 0 {
		return fmt.Errorf("backoff base must be positive")
	}
	if e.QueueSize <= 0 {
		return fmt.Errorf("ingest queue size must be positive")
	}
	if len(e.Tiers) > 0 {
		if len(e.Tiers) != 3 {
			return fmt.Errorf("contact roster must define exactly 3 tiers, got %d", len(e.Tiers))
		}
		for i, tier := range e.Tiers {
			if len(tier.Contacts) == 0 {
				return fmt.Errorf("tier %d (%s) has no contacts", i, tier.Name)
			}
			for _, contact := range tier.Contacts {
				if contact.ID == "" || contact.Address == "" {
					return fmt.Errorf("tier %d contact is missing id or address", i)
				}
				switch contact.Channel {
				case "local", "sms", "webhook":
				default:
					return fmt.Errorf("tier %d contact %s has unknown channel %q", i, contact.ID, contact.Channel)
				}
			}
		}
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
