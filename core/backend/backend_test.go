package backend_test

import (
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pretendo-dev/pretendo/core"
	"github.com/pretendo-dev/pretendo/core/backend"
	"github.com/pretendo-dev/pretendo/core/client"
	"github.com/pretendo-dev/pretendo/core/config"
	"github.com/pretendo-dev/pretendo/core/persist"
)

var backendConfig = `
{
	"name": "testapi",
	"options": {
		"defaultPageSize": 10,
		"auth": {
			"enabled": true,
			"userResource": "users"
		}
	},
	"resources": [
		{
			"name": "users",
			"fields": [
				{"name": "username", "type": "string", "required": true, "unique": true},
				{"name": "password", "type": "string", "defaultValue": "$hash"},
				{"name": "role", "type": "string"}
			],
			"seed": [
				{"id": 1, "username": "admin", "password": "secret", "role": "admin"},
				{"id": 2, "username": "casey", "password": "hunter2", "role": "member"},
				{"id": 3, "username": "robin", "password": "hunter2", "role": "member"}
			]
		},
		{
			"name": "posts",
			"ownedBy": "userId",
			"fields": [
				{"name": "title", "type": "string", "required": true},
				{"name": "userId", "type": "number", "defaultValue": "$userId"}
			],
			"access": {
				"create": ["*"],
				"update": ["owner", "admin"],
				"delete": ["admin"]
			},
			"relationships": [
				{"name": "author", "type": "belongsTo", "resource": "users", "foreignKey": "userId"},
				{"name": "comments", "type": "hasMany", "resource": "comments", "foreignKey": "postId"}
			]
		},
		{"name": "comments"},
		{
			"name": "settings",
			"access": {"list": ["admin"], "get": ["admin"]},
			"seed": [{"id": 1, "theme": "dark"}]
		}
	],
	"routes": [
		{"method": "GET", "path": "/ping", "response": {"pong": true}},
		{"method": "GET", "path": "/greet/:name", "response": {"hello": "{name}"}},
		{"method": "GET", "path": "/echo/:name", "type": "script",
			"script": "response.JSON(map[string]interface{}{\"hello\": request.Params[\"name\"]})"}
	]
}
`

func newTestBackend(t *testing.T, raw string) (*backend.Backend, client.Client) {
	t.Helper()
	cfg, err := config.Parse([]byte(raw))
	if err != nil {
		t.Fatal(err)
	}
	b, err := backend.New(&backend.Builder{Config: cfg, Adapter: persist.NewMemoryAdapter()})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { b.Close() })
	return b, client.NewWithRouter(b.Router())
}

func login(t *testing.T, cl client.Client, username, password string) string {
	t.Helper()
	var res map[string]interface{}
	if _, err := cl.RawPost("/auth/login", map[string]string{"username": username, "password": password}, &res); err != nil {
		t.Fatal(err)
	}
	token, _ := res["token"].(string)
	if token == "" {
		t.Fatalf("login response lacks token: %v", res)
	}
	return token
}

func TestRootInfo(t *testing.T) {
	_, cl := newTestBackend(t, backendConfig)
	var info map[string]interface{}
	_, header, err := cl.RawGetWithHeader("/", nil, &info)
	if err != nil {
		t.Fatal(err)
	}
	if info["name"] != "testapi" {
		t.Errorf("name: got %v", info["name"])
	}
	if info["documentation"] != "/__docs" {
		t.Errorf("documentation: got %v", info["documentation"])
	}
	if header.Get("X-Powered-By") != "Pretendo" {
		t.Errorf("X-Powered-By: got %q", header.Get("X-Powered-By"))
	}
}

func TestCRUDRoundTrip(t *testing.T) {
	_, cl := newTestBackend(t, backendConfig)
	casey := cl.WithToken(login(t, cl, "casey", "hunter2"))
	admin := cl.WithToken(login(t, cl, "admin", "secret"))

	var created client.ItemEnvelope
	status, err := casey.Collection("posts").Create(core.Record{"title": "first"}, &created)
	if err != nil {
		t.Fatal(err)
	}
	if status != 201 {
		t.Fatalf("create status: got %d", status)
	}
	if !core.KeysEqual(created.Data["userId"], float64(2)) {
		t.Errorf("ownership default: got %v", created.Data["userId"])
	}
	id := created.Data["id"]

	var read client.ItemEnvelope
	if _, err := cl.Collection("posts").Item(id).Read(&read); err != nil {
		t.Fatal(err)
	}
	if read.Data["title"] != "first" {
		t.Errorf("read: got %v", read.Data)
	}

	var patched client.ItemEnvelope
	if _, err := casey.Collection("posts").Item(id).Patch(core.Record{"title": "patched"}, &patched); err != nil {
		t.Fatal(err)
	}
	if patched.Data["title"] != "patched" || !core.KeysEqual(patched.Data["userId"], float64(2)) {
		t.Errorf("patch: got %v", patched.Data)
	}

	var replaced client.ItemEnvelope
	if _, err := casey.Collection("posts").Item(id).Replace(core.Record{"title": "replaced", "userId": 2}, &replaced); err != nil {
		t.Fatal(err)
	}
	if replaced.Data["title"] != "replaced" {
		t.Errorf("replace: got %v", replaced.Data)
	}

	if status, _ := casey.Collection("posts").Item(id).Delete(); status != 403 {
		t.Errorf("member delete: got %d want 403", status)
	}
	if status, err := admin.Collection("posts").Item(id).Delete(); err != nil || status != 204 {
		t.Errorf("admin delete: got %d, %v", status, err)
	}
	if status, _ := cl.Collection("posts").Item(id).Read(nil); status != 404 {
		t.Errorf("read after delete: got %d want 404", status)
	}
}

func TestListPaginationAndLinks(t *testing.T) {
	_, cl := newTestBackend(t, backendConfig)
	for i := 0; i < 25; i++ {
		if _, err := cl.Collection("comments").Create(core.Record{"text": fmt.Sprintf("c%d", i)}, nil); err != nil {
			t.Fatal(err)
		}
	}

	var list client.ListEnvelope
	path := cl.Collection("comments").WithParameter("page", "2").WithParameter("perPage", "10").Path()
	_, header, err := cl.RawGetWithHeader(path, nil, &list)
	if err != nil {
		t.Fatal(err)
	}
	p := list.Meta.Pagination
	if p.CurrentPage != 2 || p.PerPage != 10 || p.TotalPages != 3 || p.TotalItems != 25 {
		t.Errorf("pagination: got %+v", p)
	}
	if len(list.Data) != 10 {
		t.Errorf("page size: got %d", len(list.Data))
	}
	for _, rel := range []string{"first", "prev", "next", "last"} {
		if p.Links[rel] == "" {
			t.Errorf("missing %s link", rel)
		}
	}
	if header.Get("X-Total-Count") != "25" {
		t.Errorf("X-Total-Count: got %q", header.Get("X-Total-Count"))
	}
	if link := header.Get("Link"); !strings.Contains(link, `rel="next"`) || !strings.Contains(link, "page=3") {
		t.Errorf("Link header: got %q", link)
	}

	// beyond the last page the data array is empty, not null
	var empty client.ListEnvelope
	if _, err := cl.Collection("comments").WithParameter("page", "9").List(&empty); err != nil {
		t.Fatal(err)
	}
	if empty.Data == nil || len(empty.Data) != 0 {
		t.Errorf("overshoot page: got %v", empty.Data)
	}
}

func TestValidationErrorBody(t *testing.T) {
	_, cl := newTestBackend(t, backendConfig)
	casey := cl.WithToken(login(t, cl, "casey", "hunter2"))

	status, err := casey.Collection("posts").Create(core.Record{"draft": true}, nil)
	if status != 400 || err == nil {
		t.Fatalf("create without title: got %d, %v", status, err)
	}
	if !strings.Contains(err.Error(), `"status":400`) || !strings.Contains(err.Error(), "validation_failed") {
		t.Errorf("error body: %v", err)
	}
}

func TestOwnership(t *testing.T) {
	_, cl := newTestBackend(t, backendConfig)
	casey := cl.WithToken(login(t, cl, "casey", "hunter2"))
	robin := cl.WithToken(login(t, cl, "robin", "hunter2"))

	var created client.ItemEnvelope
	if _, err := casey.Collection("posts").Create(core.Record{"title": "mine"}, &created); err != nil {
		t.Fatal(err)
	}
	id := created.Data["id"]

	if status, err := casey.Collection("posts").Item(id).Patch(core.Record{"title": "still mine"}, nil); err != nil || status != 200 {
		t.Errorf("owner patch: got %d, %v", status, err)
	}
	if status, _ := robin.Collection("posts").Item(id).Patch(core.Record{"title": "stolen"}, nil); status != 403 {
		t.Errorf("foreign patch: got %d want 403", status)
	}
	if status, _ := cl.Collection("posts").Item(id).Patch(core.Record{"title": "anonymous"}, nil); status != 401 {
		t.Errorf("anonymous patch: got %d want 401", status)
	}
}

func TestRelationRoutes(t *testing.T) {
	_, cl := newTestBackend(t, backendConfig)
	casey := cl.WithToken(login(t, cl, "casey", "hunter2"))

	var post client.ItemEnvelope
	if _, err := casey.Collection("posts").Create(core.Record{"title": "threaded"}, &post); err != nil {
		t.Fatal(err)
	}
	id := post.Data["id"]
	for i := 0; i < 2; i++ {
		if _, err := cl.Collection("comments").Create(core.Record{"postId": id, "text": "hi"}, nil); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := cl.Collection("comments").Create(core.Record{"text": "unrelated"}, nil); err != nil {
		t.Fatal(err)
	}

	var comments client.ListEnvelope
	if _, err := cl.Collection("posts").Item(id).Related("comments", &comments); err != nil {
		t.Fatal(err)
	}
	if len(comments.Data) != 2 {
		t.Errorf("related comments: got %v", comments.Data)
	}

	var author client.ItemEnvelope
	if _, err := cl.Collection("posts").Item(id).Related("author", &author); err != nil {
		t.Fatal(err)
	}
	if author.Data["username"] != "casey" {
		t.Errorf("author: got %v", author.Data)
	}

	var expanded client.ItemEnvelope
	if _, err := cl.Collection("posts").Item(id).WithParameter("expand", "author").Read(&expanded); err != nil {
		t.Fatal(err)
	}
	attached, ok := expanded.Data["author"].(map[string]interface{})
	if !ok || attached["username"] != "casey" {
		t.Errorf("expanded author: got %v", expanded.Data["author"])
	}
}

func TestRoleGateAndLogout(t *testing.T) {
	_, cl := newTestBackend(t, backendConfig)

	if status, _ := cl.Collection("settings").List(nil); status != 401 {
		t.Errorf("anonymous settings: got %d want 401", status)
	}

	member := cl.WithToken(login(t, cl, "casey", "hunter2"))
	if status, _ := member.Collection("settings").List(nil); status != 403 {
		t.Errorf("member settings: got %d want 403", status)
	}

	adminToken := login(t, cl, "admin", "secret")
	admin := cl.WithToken(adminToken)
	var list client.ListEnvelope
	if status, err := admin.Collection("settings").List(&list); err != nil || status != 200 {
		t.Fatalf("admin settings: got %d, %v", status, err)
	}
	if len(list.Data) != 1 || list.Data[0]["theme"] != "dark" {
		t.Errorf("settings data: got %v", list.Data)
	}

	if status, err := admin.RawPost("/auth/logout", nil, nil); err != nil || status != 204 {
		t.Fatalf("logout: got %d, %v", status, err)
	}
	if status, _ := admin.Collection("settings").List(nil); status != 401 {
		t.Errorf("revoked token: got %d want 401", status)
	}
}

func TestLoginFailures(t *testing.T) {
	_, cl := newTestBackend(t, backendConfig)
	if status, _ := cl.RawPost("/auth/login", map[string]string{"username": "admin", "password": "wrong"}, nil); status != 401 {
		t.Errorf("wrong password: got %d want 401", status)
	}
	if status, _ := cl.RawPost("/auth/login", map[string]string{}, nil); status != 400 {
		t.Errorf("empty body: got %d want 400", status)
	}
}

func TestAdminReset(t *testing.T) {
	_, cl := newTestBackend(t, backendConfig)
	if _, err := cl.Collection("comments").Create(core.Record{"text": "temp"}, nil); err != nil {
		t.Fatal(err)
	}

	var res map[string]interface{}
	if _, err := cl.RawPost("/__reset", nil, &res); err != nil {
		t.Fatal(err)
	}
	if res["status"] != "ok" {
		t.Errorf("reset response: got %v", res)
	}
	var list client.ListEnvelope
	if _, err := cl.Collection("comments").List(&list); err != nil {
		t.Fatal(err)
	}
	if len(list.Data) != 0 {
		t.Errorf("reset left comments: %v", list.Data)
	}

	// reset to an explicit dataset
	dataset := map[string]interface{}{
		"data": map[string][]core.Record{
			"comments": {{"id": 1, "text": "injected"}},
		},
	}
	if _, err := cl.RawPost("/__reset", dataset, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := cl.Collection("comments").List(&list); err != nil {
		t.Fatal(err)
	}
	if len(list.Data) != 1 || list.Data[0]["text"] != "injected" {
		t.Errorf("explicit reset: got %v", list.Data)
	}
}

func TestBackupRestoreEndpoints(t *testing.T) {
	_, cl := newTestBackend(t, backendConfig)
	if _, err := cl.Collection("comments").Create(core.Record{"text": "keep"}, nil); err != nil {
		t.Fatal(err)
	}

	var backupRes map[string]interface{}
	if _, err := cl.RawPost("/__backup", map[string]string{"label": "before"}, &backupRes); err != nil {
		t.Fatal(err)
	}
	id, _ := backupRes["id"].(string)
	if id == "" {
		t.Fatalf("backup response lacks id: %v", backupRes)
	}

	if _, err := cl.RawPost("/__reset", nil, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := cl.RawPost("/__restore", map[string]string{"id": id}, nil); err != nil {
		t.Fatal(err)
	}
	var list client.ListEnvelope
	if _, err := cl.Collection("comments").List(&list); err != nil {
		t.Fatal(err)
	}
	if len(list.Data) != 1 || list.Data[0]["text"] != "keep" {
		t.Errorf("restore: got %v", list.Data)
	}

	if status, _ := cl.RawPost("/__restore", map[string]string{}, nil); status != 400 {
		t.Errorf("restore without id: got %d want 400", status)
	}
}

func TestLogsAndStats(t *testing.T) {
	b, cl := newTestBackend(t, backendConfig)
	if _, err := cl.RawGet("/ping", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := cl.Collection("comments").Create(core.Record{"text": "x"}, nil); err != nil {
		t.Fatal(err)
	}

	var logs struct {
		Data  []backend.LogEntry `json:"data"`
		Total int                `json:"total"`
	}
	if _, err := cl.RawGet("/__logs?method=POST", &logs); err != nil {
		t.Fatal(err)
	}
	if logs.Total == 0 {
		t.Error("no POST entries logged")
	}
	for _, e := range logs.Data {
		if e.Method != "POST" {
			t.Errorf("method filter leaked: %+v", e)
		}
	}
	if status, _ := cl.RawGet("/__logs?status=abc", nil); status != 400 {
		t.Errorf("non-numeric status filter: got %d want 400", status)
	}

	var stats map[string]interface{}
	if _, err := cl.RawGet("/__stats", &stats); err != nil {
		t.Fatal(err)
	}
	if stats["data"] == nil {
		t.Errorf("stats: got %v", stats)
	}
	if b.Logs() == nil {
		t.Error("log buffer missing")
	}
}

func TestDocsRoute(t *testing.T) {
	_, cl := newTestBackend(t, backendConfig)
	var doc map[string]interface{}
	if _, err := cl.RawGet("/__docs", &doc); err != nil {
		t.Fatal(err)
	}
	if doc["openapi"] != "3.0.3" {
		t.Errorf("openapi version: got %v", doc["openapi"])
	}
	paths, _ := doc["paths"].(map[string]interface{})
	if paths["/posts"] == nil || paths["/posts/{id}"] == nil {
		t.Errorf("paths: got %v", paths)
	}

	var raw []byte
	if _, err := cl.RawGet("/__docs?format=yaml", &raw); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), "openapi: 3.0.3") {
		t.Errorf("yaml docs: got %s", raw)
	}
}

func TestCustomRoutes(t *testing.T) {
	_, cl := newTestBackend(t, backendConfig)

	var pong map[string]interface{}
	if _, err := cl.RawGet("/ping", &pong); err != nil {
		t.Fatal(err)
	}
	if pong["pong"] != true {
		t.Errorf("ping: got %v", pong)
	}

	var greet map[string]interface{}
	if _, err := cl.RawGet("/greet/alice", &greet); err != nil {
		t.Fatal(err)
	}
	if greet["hello"] != "alice" {
		t.Errorf("greet: got %v", greet)
	}

	var echo map[string]interface{}
	if _, err := cl.RawGet("/echo/bob", &echo); err != nil {
		t.Fatal(err)
	}
	if echo["hello"] != "bob" {
		t.Errorf("echo: got %v", echo)
	}
}

func TestUnknownRoute(t *testing.T) {
	b, cl := newTestBackend(t, backendConfig)
	status, _, err := cl.RawGetWithHeader("/nothing-here", nil, nil)
	if status != 404 || err == nil {
		t.Fatalf("got %d, %v", status, err)
	}
	if !strings.Contains(err.Error(), `"status":404`) {
		t.Errorf("error body: %v", err)
	}

	// A known path with an unregistered method is 405, not 404.
	req := httptest.NewRequest("DELETE", "/", nil)
	rec := httptest.NewRecorder()
	b.Router().ServeHTTP(rec, req)
	if rec.Code != 405 {
		t.Errorf("method not allowed: got %d want 405", rec.Code)
	}
}

func TestPreflight(t *testing.T) {
	b, _ := newTestBackend(t, backendConfig)
	req := httptest.NewRequest("OPTIONS", "/posts", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	b.Router().ServeHTTP(rec, req)
	if rec.Code != 204 {
		t.Errorf("preflight status: got %d want 204", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Error("missing Access-Control-Allow-Origin")
	}
}

func TestErrorSimulationTrigger(t *testing.T) {
	raw := `
{
	"name": "flaky",
	"options": {"errorSimulation": {"enabled": true, "queryParamTrigger": "error"}},
	"resources": [{"name": "things"}]
}
`
	_, cl := newTestBackend(t, raw)
	status, _ := cl.RawGet("/things?error=503", nil)
	if status != 503 {
		t.Errorf("trigger: got %d want 503", status)
	}
	if status, err := cl.RawGet("/things", nil); err != nil || status != 200 {
		t.Errorf("untriggered: got %d, %v", status, err)
	}
}

func TestLatency(t *testing.T) {
	raw := `
{
	"name": "slow",
	"options": {"latency": {"enabled": true, "fixed": 30}},
	"resources": [{"name": "things"}]
}
`
	_, cl := newTestBackend(t, raw)
	start := time.Now()
	if _, err := cl.RawGet("/things", nil); err != nil {
		t.Fatal(err)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("latency not applied, took %v", elapsed)
	}
}
