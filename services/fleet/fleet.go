// Fleet service: a mock fleet-management API with vehicles, drivers and
// trips, persisted to postgres and publishing mutations to kafka.
package main

import (
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joeshaw/envdecode"
	"github.com/sirupsen/logrus"

	"github.com/pretendo-dev/pretendo/core/backend"
	"github.com/pretendo-dev/pretendo/core/config"
	"github.com/pretendo-dev/pretendo/core/logger"
	"github.com/pretendo-dev/pretendo/core/notify"
	"github.com/pretendo-dev/pretendo/core/persist"
	"github.com/pretendo-dev/pretendo/core/server"
)

var configurationJSON string = `
{
	"name": "fleet",
	"resources": [
		{
			"name": "vehicles",
			"fields": [
				{"name": "label", "type": "string", "required": true, "unique": true},
				{"name": "status", "type": "string", "enum": ["active", "maintenance", "retired"], "defaultValue": "active"},
				{"name": "registeredAt", "type": "date", "defaultValue": "$now"}
			],
			"relationships": [
				{"name": "trips", "type": "hasMany", "resource": "trips", "foreignKey": "vehicleId"},
				{"name": "drivers", "type": "manyToMany", "resource": "drivers", "through": "assignments", "foreignKey": "vehicleId", "targetKey": "driverId"}
			],
			"seed": [
				{"id": 1, "label": "van-01"},
				{"id": 2, "label": "van-02", "status": "maintenance"}
			]
		},
		{
			"name": "drivers",
			"fields": [
				{"name": "name", "type": "string", "required": true},
				{"name": "license", "type": "string", "pattern": "^[A-Z]{2}[0-9]{6}$"}
			],
			"relationships": [
				{"name": "trips", "type": "hasMany", "resource": "trips", "foreignKey": "driverId"}
			]
		},
		{"name": "assignments"},
		{
			"name": "trips",
			"fields": [
				{"name": "vehicleId", "type": "number", "required": true},
				{"name": "driverId", "type": "number"},
				{"name": "distanceKm", "type": "number", "min": 0},
				{"name": "startedAt", "type": "date", "defaultValue": "$now"}
			],
			"relationships": [
				{"name": "vehicle", "type": "belongsTo", "resource": "vehicles", "foreignKey": "vehicleId"},
				{"name": "driver", "type": "belongsTo", "resource": "drivers", "foreignKey": "driverId"}
			]
		}
	],
	"options": {
		"port": 3000
	},
	"routes": [
		{
			"path": "/health",
			"response": {"status": "up", "service": "fleet"}
		},
		{
			"method": "GET",
			"path": "/vehicles/:id/summary",
			"type": "script",
			"script": "vehicle, err := db.GetResourceById(\"vehicles\", request.Params[\"id\"])\nif err != nil {\n\tresponse.Status(404).JSON(map[string]interface{}{\"message\": \"no such vehicle\"})\n} else {\n\ttrips, _ := db.GetRelatedResources(\"vehicles\", request.Params[\"id\"], \"trips\")\n\tresponse.JSON(map[string]interface{}{\"vehicle\": vehicle, \"tripCount\": len(trips)})\n}"
		}
	]
}
`

// Service holds the configuration for this service
//
// use POSTGRES="host=localhost port=5432 user=postgres password=docker dbname=postgres sslmode=disable"
type Service struct {
	Postgres     string `env:"POSTGRES,required" description:"the connection string for the Postgres DB"`
	KafkaBrokers string `env:"KAFKA_BROKERS" description:"comma-separated kafka brokers for mutation events"`
	KafkaTopic   string `env:"KAFKA_TOPIC,default=fleet-mutations" description:"kafka topic for mutation events"`
	Port         int    `env:"PORT,default=0" description:"overrides the configured port"`
}

func main() {
	service := &Service{}
	if err := envdecode.Decode(service); err != nil {
		panic(err)
	}
	logger.InitLogger(logrus.InfoLevel)

	cfg, err := config.Parse([]byte(configurationJSON))
	if err != nil {
		logger.Default().WithError(err).Fatal("invalid configuration")
	}
	if service.Port != 0 {
		cfg.Options.Port = service.Port
	}

	adapter, err := persist.NewPostgresAdapter(service.Postgres, "fleet")
	if err != nil {
		logger.Default().WithError(err).Fatal("cannot connect to postgres")
	}

	var notifier notify.Notifier
	if service.KafkaBrokers != "" {
		kafka := notify.NewKafkaNotifier(splitBrokers(service.KafkaBrokers), service.KafkaTopic)
		defer kafka.Close()
		notifier = kafka
	}

	b, err := backend.New(&backend.Builder{
		Config:   cfg,
		Adapter:  adapter,
		Notifier: notifier,
	})
	if err != nil {
		logger.Default().WithError(err).Fatal("cannot build backend")
	}

	srv := server.New(b.Router(), cfg.Options.Host, cfg.Options.Port)
	if err := srv.Start(); err != nil {
		logger.Default().WithError(err).Fatal("cannot start server")
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	if err := srv.Stop(); err != nil {
		logger.Default().WithError(err).Error("shutdown failed")
	}
	if err := b.Close(); err != nil {
		logger.Default().WithError(err).Error("close failed")
	}
}

func splitBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}
