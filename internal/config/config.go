package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds everything tunable from the environment. Timer values are
// the product defaults unless overridden.
type Config struct {
	ServerPort  int
	DatabaseURL string

	QuestionCount    int
	QuestionDeadline time.Duration
	DisconnectGrace  time.Duration
	Countdown        time.Duration
	ResultsDelay     time.Duration
	InvitationTTL    time.Duration
	JoinRequestTTL   time.Duration
}

// Load reads configuration from the environment, optionally seeded by a
// .env file. A missing .env is not an error.
func Load() (*Config, error) {
	_ = godotenv.Load()

	port, err := intEnv("SERVER_PORT", 8080)
	if err != nil {
		return nil, err
	}
	if port <= 0 || port > 65535 {
		return nil, fmt.Errorf("SERVER_PORT must be between 1 and 65535, got %d", port)
	}

	questionCount, err := intEnv("QUESTION_COUNT", 10)
	if err != nil {
		return nil, err
	}
	deadlineSec, err := intEnv("QUESTION_DEADLINE_SEC", 15)
	if err != nil {
		return nil, err
	}
	graceSec, err := intEnv("DISCONNECT_GRACE_SEC", 3)
	if err != nil {
		return nil, err
	}
	countdownSec, err := intEnv("COUNTDOWN_SEC", 5)
	if err != nil {
		return nil, err
	}
	resultsSec, err := intEnv("RESULTS_DELAY_SEC", 5)
	if err != nil {
		return nil, err
	}
	invitationMin, err := intEnv("INVITATION_TTL_MIN", 5)
	if err != nil {
		return nil, err
	}
	joinReqSec, err := intEnv("JOIN_REQUEST_TTL_SEC", 60)
	if err != nil {
		return nil, err
	}

	return &Config{
		ServerPort:       port,
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		QuestionCount:    questionCount,
		QuestionDeadline: time.Duration(deadlineSec) * time.Second,
		DisconnectGrace:  time.Duration(graceSec) * time.Second,
		Countdown:        time.Duration(countdownSec) * time.Second,
		ResultsDelay:     time.Duration(resultsSec) * time.Second,
		InvitationTTL:    time.Duration(invitationMin) * time.Minute,
		JoinRequestTTL:   time.Duration(joinReqSec) * time.Second,
	}, nil
}

func intEnv(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s environment variable: %w", key, err)
	}
	return v, nil
}
