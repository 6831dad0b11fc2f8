package core

import (
	"net/http"
	"testing"
)

func TestDeriveAction(t *testing.T) {
	testCases := []struct {
		method string
		hasID  bool
		want   Action
	}{
		{http.MethodGet, false, ActionList},
		{http.MethodGet, true, ActionGet},
		{http.MethodPost, false, ActionCreate},
		{http.MethodPut, true, ActionUpdate},
		{http.MethodPatch, true, ActionUpdate},
		{http.MethodDelete, true, ActionDelete},
	}
	for _, tc := range testCases {
		if got := DeriveAction(tc.method, tc.hasID); got != tc.want {
			t.Errorf("%s hasID=%v: got %q want %q", tc.method, tc.hasID, got, tc.want)
		}
	}
}

func TestKeysEqual(t *testing.T) {
	testCases := []struct {
		a, b interface{}
		want bool
	}{
		{float64(5), "5", true},
		{float64(5), float64(5), true},
		{"abc", " abc ", true},
		{float64(5.5), "5.5", true},
		{float64(5), "6", false},
		{nil, nil, false},
		{nil, "5", false},
		{true, "true", true},
	}
	for _, tc := range testCases {
		if got := KeysEqual(tc.a, tc.b); got != tc.want {
			t.Errorf("KeysEqual(%v, %v): got %v want %v", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestDeepCopyIsolation(t *testing.T) {
	original := Record{
		"id":   float64(1),
		"tags": []interface{}{"a", "b"},
		"meta": map[string]interface{}{"x": float64(1)},
	}
	copied := original.DeepCopy()
	copied["tags"].([]interface{})[0] = "changed"
	copied["meta"].(map[string]interface{})["x"] = float64(2)

	if original["tags"].([]interface{})[0] != "a" {
		t.Error("nested slice was shared between copies")
	}
	if original["meta"].(map[string]interface{})["x"] != float64(1) {
		t.Error("nested map was shared between copies")
	}
}

func TestShallowMerge(t *testing.T) {
	base := Record{"id": float64(1), "a": "x", "b": "y"}
	merged := base.ShallowMerge(Record{"b": "z", "c": "w"})
	if merged["a"] != "x" || merged["b"] != "z" || merged["c"] != "w" {
		t.Errorf("unexpected merge result: %v", merged)
	}
}
