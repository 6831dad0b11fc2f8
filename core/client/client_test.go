package client

import (
	"net/http"
	"testing"

	"github.com/gorilla/mux"
)

func TestCollectionPath(t *testing.T) {
	client := NewWithRouter(nil)

	collection := client.Collection("posts")
	if p := collection.Path(); p != "/posts" {
		t.Fatal("unexpected collection path:", p)
	}

	collection = client.Collection("posts").WithFilter("title", "first post").WithParameter("page", "2")
	if p := collection.Path(); p != "/posts?title=first+post&page=2" {
		t.Fatal("unexpected collection path:", p)
	}

	// filter really is only a shortcut for WithParameter
	collection = client.Collection("posts").WithParameter("title", "first post").WithParameter("page", "2")
	if p := collection.Path(); p != "/posts?title=first+post&page=2" {
		t.Fatal("unexpected collection path:", p)
	}
}

func TestItemPath(t *testing.T) {
	client := NewWithRouter(nil)

	item := client.Collection("posts").Item(float64(10))
	if p := item.Path(); p != "/posts/10" {
		t.Fatal("unexpected item path:", p)
	}

	item = client.Collection("posts").Item(" abc ")
	if p := item.Path(); p != "/posts/abc" {
		t.Fatal("unexpected item path:", p)
	}

	item = client.Collection("posts").Item(1).WithParameter("expand", "author")
	if p := item.Path(); p != "/posts/1?expand=author" {
		t.Fatal("unexpected item path:", p)
	}
}

func TestWithHeaderDoesNotMutate(t *testing.T) {
	base := NewWithRouter(nil)
	derived := base.WithHeader("X-A", "1").WithHeader("X-B", "2")
	if len(base.defaultHeaders) != 0 {
		t.Fatal("base client headers mutated:", base.defaultHeaders)
	}
	if derived.defaultHeaders["X-A"] != "1" || derived.defaultHeaders["X-B"] != "2" {
		t.Fatal("derived headers missing:", derived.defaultHeaders)
	}
}

func TestRouterRoundTrip(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/posts/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Write([]byte(`{"data": {"id": 1, "title": "hello"}}`))
	}).Methods(http.MethodGet)

	client := NewWithRouter(router)
	var res ItemEnvelope
	status, err := client.Collection("posts").Item(1).Read(&res)
	if err != nil {
		t.Fatal(err)
	}
	if status != http.StatusOK || res.Data["title"] != "hello" {
		t.Fatalf("got %d %v", status, res.Data)
	}
}
