package profileclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/transfa/peer-network-service/internal/domain"
)

func TestGetProfile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/internal/profiles/alice":
			_ = json.NewEncoder(w).Encode(domain.CustomerProfile{CustomerID: "alice", TrustScore: 82, Region: "lagos"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := NewClient(srv.URL+"/", "key")
	profile, err := client.GetProfile(context.Background(), "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if profile.TrustScore != 82 || profile.Region != "lagos" {
		t.Fatalf("unexpected profile %+v", profile)
	}

	_, err = client.GetProfile(context.Background(), "ghost")
	if !errors.Is(err, domain.ErrCustomerNotFound) {
		t.Fatalf("expected ErrCustomerNotFound, got %v", err)
	}
}

func TestListProfiles_FollowsCursor(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		page := directoryPage{}
		switch r.URL.Query().Get("cursor") {
		case "":
			page.Profiles = []domain.CustomerProfile{{CustomerID: "a"}, {CustomerID: "b"}}
			page.NextCursor = "c2"
		case "c2":
			page.Profiles = []domain.CustomerProfile{{CustomerID: "c"}}
		}
		_ = json.NewEncoder(w).Encode(page)
	}))
	defer srv.Close()

	profiles, err := NewClient(srv.URL, "").ListProfiles(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(profiles) != 3 || calls != 2 {
		t.Fatalf("expected 3 profiles over 2 pages, got %d over %d", len(profiles), calls)
	}
}
