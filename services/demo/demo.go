// Demo service: a small blog-style mock API with users, posts and
// comments, token auth and a custom health route.
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/joeshaw/envdecode"
	"github.com/sirupsen/logrus"

	"github.com/pretendo-dev/pretendo/core/backend"
	"github.com/pretendo-dev/pretendo/core/config"
	"github.com/pretendo-dev/pretendo/core/logger"
	"github.com/pretendo-dev/pretendo/core/server"
)

var configurationJSON string = `
{
	"name": "demo",
	"resources": [
		{
			"name": "users",
			"ownedBy": "id",
			"fields": [
				{"name": "username", "type": "string", "required": true, "unique": true},
				{"name": "password", "type": "string", "required": true, "defaultValue": "$hash"},
				{"name": "role", "type": "string", "enum": ["admin", "editor", "reader"], "defaultValue": "reader"},
				{"name": "createdAt", "type": "date", "defaultValue": "$now"}
			],
			"relationships": [
				{"name": "posts", "type": "hasMany", "resource": "posts", "foreignKey": "userId"}
			],
			"seed": [
				{"id": 1, "username": "admin", "password": "admin", "role": "admin"},
				{"id": 2, "username": "casey", "password": "secret", "role": "editor"}
			]
		},
		{
			"name": "posts",
			"ownedBy": "userId",
			"access": {
				"create": ["*"],
				"update": ["owner", "admin"],
				"delete": ["owner", "admin"]
			},
			"fields": [
				{"name": "title", "type": "string", "required": true, "minLength": 3},
				{"name": "body", "type": "string"},
				{"name": "userId", "type": "number", "defaultValue": "$userId"},
				{"name": "createdAt", "type": "date", "defaultValue": "$now"}
			],
			"relationships": [
				{"name": "author", "type": "belongsTo", "resource": "users", "foreignKey": "userId"},
				{"name": "comments", "type": "hasMany", "resource": "comments", "foreignKey": "postId"}
			],
			"seed": [
				{"id": 1, "userId": 2, "title": "hello world", "body": "first post"}
			]
		},
		{
			"name": "comments",
			"fields": [
				{"name": "postId", "type": "number", "required": true},
				{"name": "text", "type": "string", "required": true, "maxLength": 500}
			],
			"relationships": [
				{"name": "post", "type": "belongsTo", "resource": "posts", "foreignKey": "postId"}
			]
		}
	],
	"options": {
		"auth": {
			"enabled": true,
			"userResource": "users"
		},
		"database": {
			"adapter": "file",
			"dbPath": "demo-db.json",
			"autoSave": true
		}
	},
	"routes": [
		{
			"path": "/health",
			"response": {"status": "up", "service": "demo"}
		}
	]
}
`

// Service holds the configuration for this service
type Service struct {
	ConfigFile string `env:"CONFIG_FILE" description:"path of a configuration document, overrides the embedded one"`
	Port       int    `env:"PORT,default=0" description:"overrides the configured port"`
}

func main() {
	service := &Service{}
	if err := envdecode.Decode(service); err != nil {
		panic(err)
	}
	logger.InitLogger(logrus.InfoLevel)

	raw := []byte(configurationJSON)
	if service.ConfigFile != "" {
		var err error
		raw, err = os.ReadFile(service.ConfigFile)
		if err != nil {
			logger.Default().WithError(err).Fatal("cannot read configuration")
		}
	}
	cfg, err := config.Parse(raw)
	if err != nil {
		logger.Default().WithError(err).Fatal("invalid configuration")
	}
	if service.Port != 0 {
		cfg.Options.Port = service.Port
	}

	b, err := backend.New(&backend.Builder{Config: cfg})
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
