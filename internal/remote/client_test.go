package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

// fakeBackend serves the contact endpoints from memory.
type fakeBackend struct {
	contacts  []Contact
	lastToken string
	sent      []string
}

func (f *fakeBackend) router() http.Handler {
	r := chi.NewRouter()
	r.Route("/api/auth", func(r chi.Router) {
		r.Get("/contacts", func(w http.ResponseWriter, req *http.Request) {
			f.lastToken = req.Header.Get("Authorization")
			_ = json.NewEncoder(w).Encode(map[string]any{"contacts": f.contacts})
		})
		r.Post("/contacts", func(w http.ResponseWriter, req *http.Request) {
			var nc NewContact
			if err := json.NewDecoder(req.Body).Decode(&nc); err != nil {
				http.Error(w, `{"error":"bad body"}`, http.StatusBadRequest)
				return
			}
			if nc.Phone == "" {
				w.WriteHeader(http.StatusUnprocessableEntity)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "phone required"})
				return
			}
			c := Contact{ID: "srv-new", Name: nc.Name, Phone: nc.Phone, Source: nc.Source, CreatedAt: time.Now(), UpdatedAt: time.Now()}
			f.contacts = append(f.contacts, c)
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(map[string]any{"contact": c})
		})
		r.Post("/contacts/bulk", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				Contacts []NewContact `json:"contacts"`
			}
			_ = json.NewDecoder(req.Body).Decode(&body)
			var out []Contact
			for i, nc := range body.Contacts {
				out = append(out, Contact{ID: "bulk-" + string(rune('a'+i)), Name: nc.Name, Phone: nc.Phone, Source: nc.Source})
			}
			_ = json.NewEncoder(w).Encode(map[string]any{"contacts": out})
		})
		r.Delete("/contacts/{id}", func(w http.ResponseWriter, req *http.Request) {
			id := chi.URLParam(req, "id")
			for i, c := range f.contacts {
				if c.ID == id {
					f.contacts = append(f.contacts[:i], f.contacts[i+1:]...)
					_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
					return
				}
			}
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "contact not found"})
		})
		r.Post("/send-sms", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				Message string `json:"message"`
			}
			_ = json.NewDecoder(req.Body).Decode(&body)
			f.sent = append(f.sent, body.Message)
			_ = json.NewEncoder(w).Encode(map[string]bool{"ok": true})
		})
	})
	return r
}

func newTestClient(t *testing.T, f *fakeBackend) *HTTPClient {
	t.Helper()
	srv := httptest.NewServer(f.router())
	t.Cleanup(srv.Close)
	return NewHTTPClient(WithBaseURL(srv.URL+"/api/"), WithToken("tok"))
}

func TestCreateAndGetContacts(t *testing.T) {
	f := &fakeBackend{}
	c := newTestClient(t, f)
	ctx := context.Background()

	created, err := c.CreateContact(ctx, NewContact{Name: "Ann", Phone: "+250700000001", Source: "manual"})
	if err != nil {
		t.Fatal(err)
	}
	if created.ID != "srv-new" || created.Source != "manual" {
		t.Errorf("created = %+v", created)
	}

	contacts, err := c.GetContacts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(contacts) != 1 || contacts[0].Name != "Ann" {
		t.Errorf("contacts = %+v, want [Ann]", contacts)
	}
	if f.lastToken != "Bearer tok" {
		t.Errorf("authorization = %q, want Bearer tok", f.lastToken)
	}
}

func TestBulkCreateAndDelete(t *testing.T) {
	f := &fakeBackend{contacts: []Contact{{ID: "x", Name: "X"}}}
	c := newTestClient(t, f)
	ctx := context.Background()

	out, err := c.BulkCreateContacts(ctx, []NewContact{{Name: "A", Phone: "1"}, {Name: "B", Phone: "2"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Errorf("got %d contacts, want 2", len(out))
	}

	if err := c.DeleteContact(ctx, "x"); err != nil {
		t.Fatal(err)
	}
	err = c.DeleteContact(ctx, "x")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Errorf("second delete error = %v, want 404 APIError", err)
	}
}

func TestRejectedRequestIsNotOffline(t *testing.T) {
	c := newTestClient(t, &fakeBackend{})

	_, err := c.CreateContact(context.Background(), NewContact{Name: "No phone"})
	if errors.Is(err, ErrOffline) {
		t.Fatal("rejected request classified as offline")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %T %v, want *APIError", err, err)
	}
	if apiErr.Message != "phone required" {
		t.Errorf("message = %q, want phone required", apiErr.Message)
	}
}

func TestUnreachableIsOffline(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewHTTPClient(WithBaseURL(url))
	_, err := c.GetContacts(context.Background())
	if !errors.Is(err, ErrOffline) {
		t.Errorf("error = %v, want ErrOffline", err)
	}
}

func TestConfigurationErrorsAreNotOffline(t *testing.T) {
	tlsSrv := httptest.NewTLSServer(http.NotFoundHandler())
	defer tlsSrv.Close()

	tests := []struct {
		name    string
		baseURL string
	}{
		{"untrusted certificate", tlsSrv.URL},
		{"missing scheme", "localhost:4000/api"},
		{"unsupported scheme", "ftp://localhost:4000/api"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewHTTPClient(WithBaseURL(tt.baseURL))
			_, err := c.GetContacts(context.Background())
			if err == nil {
				t.Fatal("expected error")
			}
			if errors.Is(err, ErrOffline) {
				t.Errorf("error = %v, classified as offline", err)
			}
		})
	}
}

func TestUnknownHostIsOffline(t *testing.T) {
	c := NewHTTPClient(WithBaseURL("http://smsq-backend.invalid/api"))
	_, err := c.GetContacts(context.Background())
	if !errors.Is(err, ErrOffline) {
		t.Errorf("error = %v, want ErrOffline", err)
	}
}

func TestTimeoutIsGenericFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewHTTPClient(WithBaseURL(srv.URL), WithTimeout(20*time.Millisecond))
	_, err := c.GetContacts(context.Background())
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if errors.Is(err, ErrOffline) {
		t.Error("timeout classified as offline")
	}
}

func TestSendSMS(t *testing.T) {
	f := &fakeBackend{}
	c := newTestClient(t, f)

	err := c.SendSMS(context.Background(), "hello", []Recipient{{Name: "Ann", Phone: "1", ContactID: "c1"}})
	if err != nil {
		t.Fatal(err)
	}
	if len(f.sent) != 1 || f.sent[0] != "hello" {
		t.Errorf("sent = %v, want [hello]", f.sent)
	}
}

func TestSendBatch(t *testing.T) {
	f := &fakeBackend{}
	c := newTestClient(t, f)

	err := c.SendBatch(context.Background(), Batch{ID: "b1", Message: "queued", Recipients: []Recipient{{Name: "Ann", Phone: "1"}}})
	if err != nil {
		t.Fatal(err)
	}
	if len(f.sent) != 1 || f.sent[0] != "queued" {
		t.Errorf("sent = %v, want [queued]", f.sent)
	}
}
