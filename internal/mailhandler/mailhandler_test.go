package mailhandler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/OliverSchlueter/mail-transport/internal/mails"
	"github.com/OliverSchlueter/mail-transport/internal/mails/database/fake"
	"github.com/OliverSchlueter/mail-transport/internal/smtp"
)

type fakeSender struct {
	sent []smtp.Envelope
	err  error
}

func (s *fakeSender) Send(env smtp.Envelope) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, env)
	return nil
}

func setup(t *testing.T, sender smtp.Sender) (*mails.Store, *http.ServeMux) {
	t.Helper()

	store := mails.NewStore(mails.Configuration{DB: fake.NewDB()})
	mux := http.NewServeMux()
	New(store, sender).Register("/api", mux)

	return store, mux
}

func deliver(t *testing.T, store *mails.Store, subject string) *mails.Mail {
	t.Helper()

	m, err := store.Deliver(mails.Delivery{
		From: "sender@example.com",
		To:   []string{"oliver@localhost"},
		Data: "Subject: " + subject + "\r\n\r\nbody",
	})
	if err != nil {
		t.Fatalf("Failed to deliver mail: %v", err)
	}
	return m
}

func TestGetMails(t *testing.T) {
	store, mux := setup(t, nil)
	deliver(t, store, "first")
	deliver(t, store, "second")

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/mails", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected JSON content type, got %s", ct)
	}

	var got []mails.Mail
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 mails, got %d", len(got))
	}
	if got[0].Subject != "first" || got[1].Subject != "second" {
		t.Errorf("Expected mails in receive order, got %s, %s", got[0].Subject, got[1].Subject)
	}
}

func TestGetMail(t *testing.T) {
	store, mux := setup(t, nil)
	m := deliver(t, store, "hello")

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/mails/"+m.ID, nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rec.Code)
	}

	var got mails.Mail
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if got.ID != m.ID || got.Subject != "hello" {
		t.Errorf("Expected mail %s with subject hello, got %s with subject %s", m.ID, got.ID, got.Subject)
	}
}

func TestGetMailNotFound(t *testing.T) {
	_, mux := setup(t, nil)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/mails/missing", nil))

	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Error("Expected a problem body")
	}
}

func TestPurgeMails(t *testing.T) {
	store, mux := setup(t, nil)
	deliver(t, store, "hello")

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/mails", nil))

	if rec.Code != http.StatusNoContent {
		t.Fatalf("Expected status 204, got %d", rec.Code)
	}

	left, _ := store.List()
	if len(left) != 0 {
		t.Errorf("Expected no mails after purge, got %d", len(left))
	}
}

func TestMethodNotAllowed(t *testing.T) {
	_, mux := setup(t, nil)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPut, "/api/mails", nil))

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", rec.Code)
	}
}

func TestSendNotRegisteredWithoutSender(t *testing.T) {
	_, mux := setup(t, nil)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/send", strings.NewReader("{}")))

	if rec.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", rec.Code)
	}
}

func TestSendMail(t *testing.T) {
	sender := &fakeSender{}
	_, mux := setup(t, sender)

	body := `{"from":"oliver@localhost","from_name":"Oliver","to":["anna@localhost"],"subject":"Hi","body":"<p>Hi</p>","headers":{"X-B":"2","X-A":"1"}}`
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/send", strings.NewReader(body)))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if len(sender.sent) != 1 {
		t.Fatalf("Expected 1 sent envelope, got %d", len(sender.sent))
	}

	env := sender.sent[0]
	if env.From.Name != "Oliver" || env.To[0].Email != "anna@localhost" || env.BodyHTML != "<p>Hi</p>" {
		t.Errorf("Unexpected envelope: %+v", env)
	}
	if len(env.ExtraHeaders) != 2 || env.ExtraHeaders[0].Name != "X-A" {
		t.Errorf("Expected sorted extra headers, got %+v", env.ExtraHeaders)
	}
}

func TestSendMailInvalid(t *testing.T) {
	sender := &fakeSender{}
	_, mux := setup(t, sender)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/send", strings.NewReader(`{"from":"oliver@localhost"}`)))

	if rec.Code < 400 || rec.Code >= 500 {
		t.Errorf("Expected a client error, got %d", rec.Code)
	}
	if len(sender.sent) != 0 {
		t.Error("Expected nothing to be sent")
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/send", strings.NewReader("not json")))

	if rec.Code < 400 || rec.Code >= 500 {
		t.Errorf("Expected a client error for a broken body, got %d", rec.Code)
	}
}

func TestSendMailFailure(t *testing.T) {
	sender := &fakeSender{err: errors.New("connection refused")}
	_, mux := setup(t, sender)

	body := `{"from":"oliver@localhost","to":["anna@localhost"],"subject":"Hi","body":"Hi"}`
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/send", strings.NewReader(body)))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", rec.Code)
	}
}
