package geo

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestLookup_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/200.1.2.3" {
			t.Errorf("path = %q, want /200.1.2.3", r.URL.Path)
		}
		if got := r.URL.Query().Get("fields"); got != "status,message,country,city,query" {
			t.Errorf("fields = %q", got)
		}
		fmt.Fprint(w, `{"status":"success","country":"Brazil","city":"Curitiba","query":"200.1.2.3"}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	got := c.Lookup(context.Background(), "200.1.2.3")
	want := Location{IP: "200.1.2.3", City: "Curitiba", Country: "Brazil"}
	if got != want {
		t.Errorf("Lookup = %+v, want %+v", got, want)
	}
}

func TestLookup_FailStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"fail","message":"private range","query":"10.0.0.1"}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	got := c.Lookup(context.Background(), "10.0.0.1")
	want := Location{IP: "10.0.0.1", City: "Desconhecida", Country: "Desconhecido"}
	if got != want {
		t.Errorf("Lookup = %+v, want %+v", got, want)
	}
}

func TestLookup_LoopbackSkipsProvider(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	for _, ip := range []string{"", "127.0.0.1", "::1"} {
		if got := c.Lookup(context.Background(), ip); got != Local {
			t.Errorf("Lookup(%q) = %+v, want Local", ip, got)
		}
	}
	if called {
		t.Error("provider was called for a loopback address")
	}
}

func TestLookup_ErrorFallsBackToLocal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	if got := c.Lookup(context.Background(), "200.1.2.3"); got != Local {
		t.Errorf("Lookup = %+v, want Local", got)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		forwarded  string
		remoteAddr string
		want       string
	}{
		{"forwarded first hop", "200.1.2.3, 10.0.0.1", "10.0.0.2:5555", "200.1.2.3"},
		{"remote addr", "", "192.168.0.7:41234", "192.168.0.7"},
		{"remote addr ipv6", "", "[::1]:8080", "::1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.forwarded != "" {
				r.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			if got := ClientIP(r); got != tt.want {
				t.Errorf("ClientIP = %q, want %q", got, tt.want)
			}
		})
	}
}
