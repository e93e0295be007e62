package courier

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestClientErrorDecoding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"detail":"invalid credentials"}`)
	}))
	defer srv.Close()

	client := NewClient("", WithBaseURL(srv.URL))
	_, err := client.Login(context.Background(), "alice", "wrong")
	if err == nil {
		t.Fatal("expected error")
	}

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error type = %T, want *APIError", err)
	}
	if apiErr.Status != http.StatusUnauthorized || apiErr.Message != "invalid credentials" {
		t.Fatalf("apiErr = %+v", apiErr)
	}
}

func TestClientHistoryLimitClamp(t *testing.T) {
	limits := make(chan string, 3)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		limits <- r.URL.Query().Get("limit")
		fmt.Fprint(w, `{"messages":[],"has_more":false}`)
	}))
	defer srv.Close()

	client := NewClient("tok", WithBaseURL(srv.URL))
	ctx := context.Background()

	client.History(ctx, "chat-1", 0, 0)
	client.History(ctx, "chat-1", 0, 500)
	client.History(ctx, "chat-1", 99, 10)

	if got := <-limits; got != "50" {
		t.Fatalf("default limit = %s, want 50", got)
	}
	if got := <-limits; got != "200" {
		t.Fatalf("clamped limit = %s, want 200", got)
	}
	if got := <-limits; got != "10" {
		t.Fatalf("explicit limit = %s, want 10", got)
	}
}

func TestClientAuthHeaderAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer tok-1" {
			t.Errorf("auth header = %q", got)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"chat_id":"chat-1","text":"hello"}` {
			t.Errorf("body = %s", body)
		}
		fmt.Fprint(w, `{"ok":true,"id":7}`)
	}))
	defer srv.Close()

	client := NewClient("tok-1", WithBaseURL(srv.URL))
	res, err := client.SendMessage(context.Background(), "chat-1", "hello", nil)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.ID != 7 {
		t.Fatalf("id = %d, want 7", res.ID)
	}
}

func TestClientUpload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if got := r.FormValue("chat_id"); got != "chat-1" {
			t.Errorf("chat_id = %q", got)
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Fatalf("form file: %v", err)
		}
		defer f.Close()
		if hdr.Filename != "pic.png" {
			t.Errorf("filename = %q", hdr.Filename)
		}
		data, _ := io.ReadAll(f)
		if string(data) != "png-bytes" {
			t.Errorf("content = %q", data)
		}
		fmt.Fprint(w, `{"ok":true,"id":9,"media_kind":"image"}`)
	}))
	defer srv.Close()

	client := NewClient("tok", WithBaseURL(srv.URL))
	res, err := client.Upload(context.Background(), "chat-1", "caption", "pic.png", "image/png", []byte("png-bytes"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if res.ID != 9 || res.MediaKind != "image" {
		t.Fatalf("result = %+v", res)
	}
}
