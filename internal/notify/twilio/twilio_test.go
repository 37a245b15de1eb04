package twilio

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/lifeline/internal/notify"
)

func TestNormalizeNumber(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, cc, want string
	}{
		{"9876543210", "+91", "+919876543210"},
		{"+15551234567", "+91", "+15551234567"},
		{" 98765 43210 ", "+91", "+919876543210"},
		{"", "+91", ""},
		{"5551234567", "+1", "+15551234567"},
	}
	for _, tt := range tests {
		if got := NormalizeNumber(tt.in, tt.cc); got != tt.want {
			t.Errorf("NormalizeNumber(%q, %q) = %q, want %q", tt.in, tt.cc, got, tt.want)
		}
	}
}

func TestSend_PostsForm(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/2010-04-01/Accounts/AC123/Messages.json" {
			t.Errorf("path = %q", r.URL.Path)
		}
		user, pass, ok := r.BasicAuth()
		if !ok || user != "AC123" || pass != "secret" {
			t.Errorf("basic auth = %q/%q/%v", user, pass, ok)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("ParseForm: %v", err)
		}
		if got := r.PostForm.Get("To"); got != "+919876543210" {
			t.Errorf("To = %q", got)
		}
		if got := r.PostForm.Get("MessagingServiceSid"); got != "MG1" {
			t.Errorf("MessagingServiceSid = %q", got)
		}
		if got := r.PostForm.Get("Body"); got != "CRISIS ALERT: test" {
			t.Errorf("Body = %q", got)
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"sid":"SM1","status":"queued"}`))
	}))
	defer srv.Close()

	p := New(Config{
		AccountSID:          "AC123",
		AuthToken:           "secret",
		MessagingServiceSID: "MG1",
		BaseURL:             srv.URL,
	}, log.Nop())

	ok := p.Send(context.Background(), notify.Payload{
		notify.KeyPhoneNumber: "9876543210",
		notify.KeyMessage:     "CRISIS ALERT: test",
	})
	if !ok {
		t.Fatal("Send returned false, want true")
	}
}

func TestSend_FromNumberWhenNoService(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if got := r.PostForm.Get("From"); got != "+15550000000" {
			t.Errorf("From = %q", got)
		}
		if r.PostForm.Has("MessagingServiceSid") {
			t.Error("MessagingServiceSid should not be sent")
		}
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	p := New(Config{AccountSID: "AC1", AuthToken: "t", From: "+15550000000", BaseURL: srv.URL}, log.Nop())
	if !p.Send(context.Background(), notify.Payload{notify.KeyPhoneNumber: "+15551112222"}) {
		t.Fatal("Send returned false")
	}
}

func TestSend_Unconfigured(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	p := New(Config{AccountSID: "AC1", BaseURL: srv.URL}, log.Nop())
	if p.Configured() {
		t.Fatal("Configured() = true without auth token")
	}
	if p.Send(context.Background(), notify.Payload{notify.KeyPhoneNumber: "123"}) {
		t.Error("Send returned true while unconfigured")
	}
	if calls.Load() != 0 {
		t.Errorf("server called %d times, want 0", calls.Load())
	}
}

func TestSend_MissingNumber(t *testing.T) {
	t.Parallel()

	p := New(Config{AccountSID: "AC1", AuthToken: "t", From: "+1", BaseURL: "http://127.0.0.1:0"}, log.Nop())
	if p.Send(context.Background(), notify.Payload{notify.KeyMessage: "hi"}) {
		t.Error("Send returned true without a phone number")
	}
}

func TestSend_APIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":21211,"message":"Invalid 'To' Phone Number"}`))
	}))
	defer srv.Close()

	p := New(Config{AccountSID: "AC1", AuthToken: "t", From: "+1", BaseURL: srv.URL}, log.Nop())
	if p.Send(context.Background(), notify.Payload{notify.KeyPhoneNumber: "+100"}) {
		t.Error("Send returned true on 400")
	}
}

func TestSend_Unreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL
	srv.Close()

	p := New(Config{AccountSID: "AC1", AuthToken: "t", From: "+1", BaseURL: url}, log.Nop())
	if p.Send(context.Background(), notify.Payload{notify.KeyPhoneNumber: "+100"}) {
		t.Error("Send returned true for unreachable server")
	}
}
