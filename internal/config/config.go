package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
	"quiz-engine/internal/domain"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Log struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"log"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	NATS struct {
		URL     string `yaml:"url"`
		Subject string `yaml:"subject"`
	} `yaml:"nats"`
	Quiz struct {
		TTL string `yaml:"ttl"`
	} `yaml:"quiz"`
	Game Game `yaml:"game"`
}

// Game holds the phase durations as Go duration strings.
type Game struct {
	Countdown     string `yaml:"countdown"`
	Display       string `yaml:"display"`
	Buffer        string `yaml:"buffer"`
	Answer        string `yaml:"answer"`
	Results       string `yaml:"results"`
	AnswerWindow  string `yaml:"answer_window"`
	QuestionCount int    `yaml:"question_count"`
	Retention     string `yaml:"retention"`
}

const (
	DefaultQuestionCount = 10
	DefaultRetention     = 10 * time.Minute
)

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Timings converts the game section, falling back to defaults per field.
// The answer window follows the answer duration unless set explicitly.
func (g Game) Timings() domain.Timings {
	def := domain.DefaultTimings()
	t := domain.Timings{
		Countdown: TTLDuration(g.Countdown, def.Countdown),
		Display:   TTLDuration(g.Display, def.Display),
		Buffer:    TTLDuration(g.Buffer, def.Buffer),
		Answer:    TTLDuration(g.Answer, def.Answer),
		Results:   TTLDuration(g.Results, def.Results),
	}
	t.AnswerWindow = TTLDuration(g.AnswerWindow, t.Answer)
	return t
}

// Questions is the per-session question count used when a create request leaves it out.
func (g Game) Questions() int {
	if g.QuestionCount <= 0 {
		return DefaultQuestionCount
	}
	return g.QuestionCount
}

// RetentionPeriod is how long a session stays addressable after its final ranking.
func (g Game) RetentionPeriod() time.Duration {
	return TTLDuration(g.Retention, DefaultRetention)
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d
	}
	return fallback
}
