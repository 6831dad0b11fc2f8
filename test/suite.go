// Package test runs the generated service end to end: a full backend on a
// real TCP port, exercised through the HTTP client.
package test

import (
	"github.com/stretchr/testify/suite"

	"github.com/pretendo-dev/pretendo/core/backend"
	"github.com/pretendo-dev/pretendo/core/client"
	"github.com/pretendo-dev/pretendo/core/config"
	"github.com/pretendo-dev/pretendo/core/notify"
	"github.com/pretendo-dev/pretendo/core/persist"
	"github.com/pretendo-dev/pretendo/core/server"
)

var configurationJSON = `
{
	"name": "integration",
	"options": {
		"auth": {
			"enabled": true,
			"users": [
				{"id": 1, "username": "admin", "password": "secret", "role": "admin"},
				{"id": 2, "username": "casey", "password": "hunter2", "role": "member"}
			]
		}
	},
	"resources": [
		{
			"name": "projects",
			"ownedBy": "ownerId",
			"fields": [
				{"name": "title", "type": "string", "required": true},
				{"name": "ownerId", "type": "number", "defaultValue": "$userId"},
				{"name": "createdAt", "type": "date", "defaultValue": "$now"}
			],
			"access": {
				"create": ["*"],
				"update": ["owner", "admin"],
				"delete": ["admin"]
			},
			"relationships": [
				{"name": "tasks", "type": "hasMany", "resource": "tasks", "foreignKey": "projectId"}
			]
		},
		{
			"name": "tasks",
			"fields": [
				{"name": "projectId", "type": "number", "required": true},
				{"name": "summary", "type": "string", "required": true}
			],
			"relationships": [
				{"name": "project", "type": "belongsTo", "resource": "projects", "foreignKey": "projectId"}
			]
		}
	],
	"routes": [
		{"path": "/health", "response": {"status": "up"}}
	]
}
`

// IntegrationTestSuite boots the whole stack once for all tests.
type IntegrationTestSuite struct {
	suite.Suite
	backend  *backend.Backend
	srv      *server.Server
	recorder *notify.Recorder
	client   client.Client
}

func (s *IntegrationTestSuite) SetupSuite() {
	cfg, err := config.Parse([]byte(configurationJSON))
	s.Require().NoError(err)

	s.recorder = &notify.Recorder{}
	s.backend, err = backend.New(&backend.Builder{
		Config:   cfg,
		Adapter:  persist.NewMemoryAdapter(),
		Notifier: s.recorder,
	})
	s.Require().NoError(err)

	s.srv = server.New(s.backend.Router(), "127.0.0.1", 0)
	s.Require().NoError(s.srv.Start())
	s.client = client.NewWithURL(s.srv.URL())
}

func (s *IntegrationTestSuite) TearDownSuite() {
	s.Require().NoError(s.srv.Stop())
	s.Require().NoError(s.backend.Close())
}

// SetupTest resets the dataset so tests stay independent.
func (s *IntegrationTestSuite) SetupTest() {
	_, err := s.client.RawPost("/__reset", nil, nil)
	s.Require().NoError(err)
}

func (s *IntegrationTestSuite) login(username, password string) client.Client {
	var res map[string]interface{}
	_, err := s.client.RawPost("/auth/login", map[string]string{"username": username, "password": password}, &res)
	s.Require().NoError(err)
	token, _ := res["token"].(string)
	s.Require().NotEmpty(token)
	return s.client.WithToken(token)
}
