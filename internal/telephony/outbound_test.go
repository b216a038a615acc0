package telephony

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestStartCallPostsForm(t *testing.T) {
	var gotPath, gotTo, gotFrom, gotURL string
	var gotUser, gotPass string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUser, gotPass, _ = r.BasicAuth()
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm() error = %v", err)
		}
		gotTo = r.PostFormValue("To")
		gotFrom = r.PostFormValue("From")
		gotURL = r.PostFormValue("Url")
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"sid":"CA123","status":"queued","to":"+15550001","from":"+15550002"}`))
	}))
	defer srv.Close()

	c, err := NewCaller(srv.URL, "AC42", "token", "+15550002")
	if err != nil {
		t.Fatalf("NewCaller() error = %v", err)
	}
	result, err := c.StartCall(context.Background(), "+15550001", "https://example.com/voice")
	if err != nil {
		t.Fatalf("StartCall() error = %v", err)
	}

	if gotPath != "/Accounts/AC42/Calls.json" {
		t.Fatalf("path = %q", gotPath)
	}
	if gotUser != "AC42" || gotPass != "token" {
		t.Fatalf("basic auth = %q/%q", gotUser, gotPass)
	}
	if gotTo != "+15550001" || gotFrom != "+15550002" || gotURL != "https://example.com/voice" {
		t.Fatalf("form = to %q from %q url %q", gotTo, gotFrom, gotURL)
	}
	if result.SID != "CA123" || result.Status != "queued" {
		t.Fatalf("result = %+v", result)
	}
}

func TestStartCallRejectsAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"invalid number"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	c, err := NewCaller(srv.URL, "AC42", "token", "+15550002")
	if err != nil {
		t.Fatalf("NewCaller() error = %v", err)
	}
	if _, err := c.StartCall(context.Background(), "+bad", "https://example.com/voice"); err == nil {
		t.Fatalf("StartCall() should fail on API error")
	}
}

func TestNewCallerRequiresCredentials(t *testing.T) {
	if _, err := NewCaller("https://api.example.com", "", "token", "+1555"); err == nil {
		t.Fatalf("missing account sid should fail")
	}
	if _, err := NewCaller("https://api.example.com", "AC42", "token", ""); err == nil {
		t.Fatalf("missing from number should fail")
	}
}
