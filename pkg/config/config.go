package config

import (
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/shopmesh/saga/pkg/utils"
)

type Config struct {
	Env          string       `yaml:"env" env:"ENV" env-default:"local"`
	Postgres     PG           `yaml:"postgres"`
	Kafka        Kafka        `yaml:"kafka"`
	Saga         Saga         `yaml:"saga"`
	CustomerGate CustomerGate `yaml:"customer_gate"`
	Outbox       Outbox       `yaml:"outbox"`
}

type PG struct {
	URL string `yaml:"url" env:"DB_URL"`
}

type Kafka struct {
	Brokers        []string `yaml:"brokers" env:"KAFKA_BROKERS" env-separator:"," env-default:"localhost:9092"`
	IntentTopic    string   `yaml:"intent_topic" env:"KAFKA_INTENT_TOPIC" env-default:"order_events"`
	OutcomeTopic   string   `yaml:"outcome_topic" env:"KAFKA_OUTCOME_TOPIC" env-default:"stock_events"`
	OrderGroup     string   `yaml:"order_group" env:"KAFKA_ORDER_GROUP" env-default:"order-service-group"`
	InventoryGroup string   `yaml:"inventory_group" env:"KAFKA_INVENTORY_GROUP" env-default:"inventory-service-group"`
}

type Saga struct {
	// OutcomeTimeout bounds how long an order may stay pending before the
	// watchdog fails it with reason "timeout".
	OutcomeTimeout time.Duration `yaml:"outcome_timeout" env:"SAGA_OUTCOME_TIMEOUT" env-default:"30s"`
}

type CustomerGate struct {
	URL     string        `yaml:"url" env:"CUSTOMER_GATE_URL" env-default:"http://localhost:8001"`
	Timeout time.Duration `yaml:"timeout" env:"CUSTOMER_GATE_TIMEOUT" env-default:"2s"`
}

type Outbox struct {
	Interval  time.Duration `yaml:"interval" env:"OUTBOX_INTERVAL" env-default:"500ms"`
	BatchSize int           `yaml:"batch_size" env:"OUTBOX_BATCH_SIZE" env-default:"50"`
}

func MustLoad() *Config {
	configPath := utils.ParseWithFallback("CONFIG_PATH", "./config/local.yaml")

	var cfg Config
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		// No file is fine, everything has an env binding or a default.
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			log.Fatalf("error reading config from environment: %v", err)
		}
		return &cfg
	}

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		log.Fatalf("error reading config: %v", err)
	}

	return &cfg
}
