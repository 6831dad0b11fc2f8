package script

import (
	"io"
	"reflect"
	"testing"

	"github.com/goccy/go-json"
	"github.com/sirupsen/logrus"

	"github.com/pretendo-dev/pretendo/core/apierror"
)

func TestRenderTemplate(t *testing.T) {
	raw := json.RawMessage(`{
		"greeting": "hello {name}",
		"echo": "{:id}",
		"nested": {"path": "/users/{id}"},
		"list": ["{name}", "{unknown}", 42],
		"count": 3
	}`)
	got, err := RenderTemplate(raw, map[string]string{"name": "alice", "id": "7"})
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]interface{}{
		"greeting": "hello alice",
		"echo":     "7",
		"nested":   map[string]interface{}{"path": "/users/7"},
		"list":     []interface{}{"alice", "{unknown}", float64(42)},
		"count":    float64(3),
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %#v want %#v", got, want)
	}
}

func TestRenderTemplateInvalidJSON(t *testing.T) {
	if _, err := RenderTemplate(json.RawMessage(`{broken`), nil); err == nil {
		t.Error("expected an error for invalid JSON")
	}
}

func testEnv() (Env, *Response) {
	l := logrus.New()
	l.SetOutput(io.Discard)
	res := &Response{}
	env := Env{
		Request:  &Request{Method: "GET", Path: "/ping/1", Params: map[string]string{"id": "1"}},
		Response: res,
		Console:  &Console{Logger: logrus.NewEntry(l)},
	}
	return env, res
}

func TestYaegiExecute(t *testing.T) {
	env, res := testEnv()
	src := `
response.Status(202)
response.JSON(map[string]interface{}{"id": request.Params["id"]})
`
	if err := NewRuntime().Execute(src, env); err != nil {
		t.Fatal(err)
	}
	if res.StatusCode != 202 || !res.Sent() {
		t.Errorf("status %d sent %v", res.StatusCode, res.Sent())
	}
	body := res.Body.(map[string]interface{})
	if body["id"] != "1" {
		t.Errorf("body: %v", res.Body)
	}
}

func TestYaegiExecutePartialEnv(t *testing.T) {
	res := &Response{}
	err := NewRuntime().Execute(`response.Status(200).JSON(map[string]interface{}{"ok": true})`, Env{Response: res})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Sent() {
		t.Error("response not sent")
	}
}

func TestYaegiExecuteFailure(t *testing.T) {
	env, _ := testEnv()
	err := NewRuntime().Execute(`this is not a program`, env)
	if apierror.KindOf(err) != apierror.KindBadRequest {
		t.Errorf("expected bad-request, got %v", err)
	}
}

func TestResponseChaining(t *testing.T) {
	res := &Response{}
	if res.Sent() {
		t.Fatal("fresh response must not count as sent")
	}
	res.Status(201).SetHeader("X-Custom", "yes").JSON(map[string]interface{}{"ok": true})
	if !res.Sent() {
		t.Fatal("response not marked sent")
	}
	if res.StatusCode != 201 || res.Headers["X-Custom"] != "yes" {
		t.Errorf("status/headers: %d %v", res.StatusCode, res.Headers)
	}
	body, ok := res.Body.(map[string]interface{})
	if !ok || body["ok"] != true {
		t.Errorf("body: %v", res.Body)
	}
}
