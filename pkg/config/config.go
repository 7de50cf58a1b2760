package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	CORS     CORSConfig
	Log      LogConfig
	School   SchoolConfig
	Matching MatchingConfig
	Risk     RiskConfig
	Training TrainingConfig
	Features FeatureCacheConfig
	Jobs     JobsConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// SchoolConfig carries the school-day parameters that drive daily status
// classification and absence pattern detection.
type SchoolConfig struct {
	StartTime         string
	GraceMinutes      int
	Timezone          string
	StudentDepartment string
	ConsecutiveAlert  int
}

// MatchingConfig tunes the identity resolver.
type MatchingConfig struct {
	AutoThreshold   int
	SuggestionFloor int
	MaxSuggestions  int
}

// RiskConfig holds the deterministic rule limits and the probability bands
// that bucket model output into tiers.
type RiskConfig struct {
	AbsenceRatioLimit     float64
	AbsenceCountLimit     int
	HeuristicAbsenceRatio float64
	RedProbability        float64
	YellowProbability     float64
}

// TrainingConfig parameterizes the model training pipeline.
type TrainingConfig struct {
	MinSamples     int
	TestFraction   float64
	TargetRecall   float64
	ThresholdStart float64
	ThresholdFloor float64
	ThresholdStep  float64
	Epochs         int
	LearningRate   float64
	L2             float64
	Seed           int64
	SMOTENeighbors int
	TreeMaxDepth   int
	TreeMinLeaf    int
}

// FeatureCacheConfig governs Redis caching of cohort feature extractions.
type FeatureCacheConfig struct {
	Enabled  bool
	CacheTTL time.Duration
}

// JobsConfig sizes the in-process queue running recalculation sweeps.
type JobsConfig struct {
	Workers   int
	Retries   int
	QueueSize int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{Secret: v.GetString("JWT_SECRET")}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.School = SchoolConfig{
		StartTime:         v.GetString("SCHOOL_START_TIME"),
		GraceMinutes:      v.GetInt("SCHOOL_GRACE_MINUTES"),
		Timezone:          v.GetString("SCHOOL_TIMEZONE"),
		StudentDepartment: v.GetString("STUDENT_DEPARTMENT"),
		ConsecutiveAlert:  v.GetInt("CONSECUTIVE_ABSENCE_ALERT"),
	}

	cfg.Matching = MatchingConfig{
		AutoThreshold:   v.GetInt("MATCH_AUTO_THRESHOLD"),
		SuggestionFloor: v.GetInt("MATCH_SUGGESTION_FLOOR"),
		MaxSuggestions:  v.GetInt("MATCH_MAX_SUGGESTIONS"),
	}

	cfg.Risk = RiskConfig{
		AbsenceRatioLimit:     v.GetFloat64("RISK_ABSENCE_RATIO_LIMIT"),
		AbsenceCountLimit:     v.GetInt("RISK_ABSENCE_COUNT_LIMIT"),
		HeuristicAbsenceRatio: v.GetFloat64("RISK_HEURISTIC_ABSENCE_RATIO"),
		RedProbability:        v.GetFloat64("RISK_RED_PROBABILITY"),
		YellowProbability:     v.GetFloat64("RISK_YELLOW_PROBABILITY"),
	}

	cfg.Training = TrainingConfig{
		MinSamples:     v.GetInt("TRAIN_MIN_SAMPLES"),
		TestFraction:   v.GetFloat64("TRAIN_TEST_FRACTION"),
		TargetRecall:   v.GetFloat64("TRAIN_TARGET_RECALL"),
		ThresholdStart: v.GetFloat64("TRAIN_THRESHOLD_START"),
		ThresholdFloor: v.GetFloat64("TRAIN_THRESHOLD_FLOOR"),
		ThresholdStep:  v.GetFloat64("TRAIN_THRESHOLD_STEP"),
		Epochs:         v.GetInt("TRAIN_EPOCHS"),
		LearningRate:   v.GetFloat64("TRAIN_LEARNING_RATE"),
		L2:             v.GetFloat64("TRAIN_L2"),
		Seed:           v.GetInt64("TRAIN_SEED"),
		SMOTENeighbors: v.GetInt("TRAIN_SMOTE_NEIGHBORS"),
		TreeMaxDepth:   v.GetInt("TRAIN_TREE_MAX_DEPTH"),
		TreeMinLeaf:    v.GetInt("TRAIN_TREE_MIN_LEAF"),
	}

	cfg.Features = FeatureCacheConfig{
		Enabled:  v.GetBool("FEATURE_CACHE_ENABLED"),
		CacheTTL: parseDuration(v.GetString("FEATURE_CACHE_TTL"), 10*time.Minute),
	}

	cfg.Jobs = JobsConfig{
		Workers:   v.GetInt("JOBS_WORKERS"),
		Retries:   v.GetInt("JOBS_RETRIES"),
		QueueSize: v.GetInt("JOBS_QUEUE_SIZE"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "sma_ews")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("SCHOOL_START_TIME", "07:00")
	v.SetDefault("SCHOOL_GRACE_MINUTES", 5)
	v.SetDefault("SCHOOL_TIMEZONE", "Asia/Jakarta")
	v.SetDefault("STUDENT_DEPARTMENT", "SISWA")
	v.SetDefault("CONSECUTIVE_ABSENCE_ALERT", 3)

	v.SetDefault("MATCH_AUTO_THRESHOLD", 90)
	v.SetDefault("MATCH_SUGGESTION_FLOOR", 50)
	v.SetDefault("MATCH_MAX_SUGGESTIONS", 3)

	v.SetDefault("RISK_ABSENCE_RATIO_LIMIT", 0.15)
	v.SetDefault("RISK_ABSENCE_COUNT_LIMIT", 5)
	v.SetDefault("RISK_HEURISTIC_ABSENCE_RATIO", 0.10)
	v.SetDefault("RISK_RED_PROBABILITY", 0.70)
	v.SetDefault("RISK_YELLOW_PROBABILITY", 0.40)

	v.SetDefault("TRAIN_MIN_SAMPLES", 10)
	v.SetDefault("TRAIN_TEST_FRACTION", 0.2)
	v.SetDefault("TRAIN_TARGET_RECALL", 0.70)
	v.SetDefault("TRAIN_THRESHOLD_START", 0.50)
	v.SetDefault("TRAIN_THRESHOLD_FLOOR", 0.30)
	v.SetDefault("TRAIN_THRESHOLD_STEP", 0.05)
	v.SetDefault("TRAIN_EPOCHS", 1500)
	v.SetDefault("TRAIN_LEARNING_RATE", 0.1)
	v.SetDefault("TRAIN_L2", 0.001)
	v.SetDefault("TRAIN_SEED", 42)
	v.SetDefault("TRAIN_SMOTE_NEIGHBORS", 5)
	v.SetDefault("TRAIN_TREE_MAX_DEPTH", 4)
	v.SetDefault("TRAIN_TREE_MIN_LEAF", 5)

	v.SetDefault("FEATURE_CACHE_ENABLED", true)
	v.SetDefault("FEATURE_CACHE_TTL", "10m")

	v.SetDefault("JOBS_WORKERS", 1)
	v.SetDefault("JOBS_RETRIES", 3)
	v.SetDefault("JOBS_QUEUE_SIZE", 16)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
