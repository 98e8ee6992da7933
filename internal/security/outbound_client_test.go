package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// TestNewOutboundClient_Timeout はタイムアウト設定が反映されることをテストする。
func TestNewOutboundClient_Timeout(t *testing.T) {
	client := NewOutboundClient(5 * time.Second)
	if client == nil {
		t.Fatal("NewOutboundClient() returned nil")
	}
	if client.Timeout != 5*time.Second {
		t.Errorf("expected timeout %v, got %v", 5*time.Second, client.Timeout)
	}
	if client.Transport == nil || client.Transport == http.DefaultTransport {
		t.Fatal("expected custom Transport")
	}
}

// TestNewOutboundClient_BlocksLoopback はループバックへのリクエストがブロックされることをテストする。
// httptestサーバーは127.0.0.1で起動されるため、safeurlがブロックする。
func TestNewOutboundClient_BlocksLoopback(t *testing.T) {
	ts := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client := NewOutboundClient(5 * time.Second)
	if _, err := client.Get(ts.URL); err == nil {
		t.Fatal("expected error for loopback address request, got nil")
	}
}

func TestValidateOutboundURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"https public", "https://oauth2.googleapis.com/token", false},
		{"empty", "", true},
		{"http scheme", "http://oauth2.googleapis.com/token", true},
		{"localhost", "https://localhost/token", true},
		{"private ip", "https://10.0.0.1/token", true},
		{"loopback ip", "https://127.0.0.1/token", true},
		{"metadata ip", "https://169.254.169.254/latest", true},
		{"ipv6 loopback", "https://[::1]/token", true},
		{"no host", "https:///token", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateOutboundURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateOutboundURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}
