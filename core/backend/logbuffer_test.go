package backend

import "testing"

func TestLogBufferEviction(t *testing.T) {
	buf := NewLogBuffer(3)
	for i := 0; i < 5; i++ {
		buf.Add(LogEntry{Method: "GET", URL: "/posts", Status: 200})
	}
	entries := buf.Entries(Filter{})
	if len(entries) != 3 {
		t.Fatalf("got %d entries want 3", len(entries))
	}
	// ids keep counting across evictions
	if entries[0].ID != 3 || entries[2].ID != 5 {
		t.Errorf("ids: got %d..%d", entries[0].ID, entries[2].ID)
	}
}

func TestLogBufferFilter(t *testing.T) {
	buf := NewLogBuffer(10)
	buf.Add(LogEntry{Method: "GET", URL: "/posts", Status: 200})
	buf.Add(LogEntry{Method: "POST", URL: "/posts", Status: 201})
	buf.Add(LogEntry{Method: "GET", URL: "/users/1", Status: 404})
	buf.Add(LogEntry{Method: "GET", URL: "/posts", Status: 500})

	if got := buf.Entries(Filter{Method: "post"}); len(got) != 1 {
		t.Errorf("method filter: got %d", len(got))
	}
	if got := buf.Entries(Filter{Status: 404}); len(got) != 1 || got[0].URL != "/users/1" {
		t.Errorf("status filter: got %v", got)
	}
	if got := buf.Entries(Filter{URLContains: "users"}); len(got) != 1 {
		t.Errorf("url filter: got %d", len(got))
	}
	if got := buf.Entries(Filter{StatusClass: "4xx"}); len(got) != 1 || got[0].Status != 404 {
		t.Errorf("4xx filter: got %v", got)
	}
	if got := buf.Entries(Filter{StatusClass: "5xx"}); len(got) != 1 || got[0].Status != 500 {
		t.Errorf("5xx filter: got %v", got)
	}
	if got := buf.Entries(Filter{Method: "GET", StatusClass: "4xx"}); len(got) != 1 {
		t.Errorf("combined filter: got %d", len(got))
	}

	buf.Clear()
	if got := buf.Entries(Filter{}); len(got) != 0 {
		t.Errorf("clear: got %d", len(got))
	}
}
