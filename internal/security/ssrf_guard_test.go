package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestNewSafeClient_ConfiguresTimeoutAndTransport(t *testing.T) {
	client := NewSSRFGuard().NewSafeClient(3 * time.Second)

	if client == nil {
		t.Fatal("NewSafeClient() returned nil")
	}
	if client.Timeout != 3*time.Second {
		t.Errorf("Timeout = %v, want 3s", client.Timeout)
	}
	if client.Transport == nil || client.Transport == http.DefaultTransport {
		t.Error("expected a safeurl transport")
	}
}

// httptestサーバーは127.0.0.1で起動するため、safeurlが接続を拒否する
func TestNewSafeClient_BlocksLoopback(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	client := NewSSRFGuard().NewSafeClient(2 * time.Second)
	if _, err := client.Get(ts.URL); err == nil {
		t.Fatal("expected error for loopback address request, got nil")
	}
}

func TestValidateURL(t *testing.T) {
	guard := NewSSRFGuard()

	tests := []struct {
		url     string
		wantErr bool
	}{
		{"https://data.gov/budget.csv", false},
		{"http://www.opendata.example.org/spending?year=2014", false},
		{"HTTPS://Example.com", false},

		{"", true},
		{"not-a-url", true},
		{"ftp://example.com/data.csv", true},
		{"file:///etc/passwd", true},
		{"javascript:alert(1)", true},
		{"https:///nohost", true},

		{"http://10.0.0.1/data.csv", true},
		{"http://172.16.0.1/data.csv", true},
		{"http://192.168.1.100/data.csv", true},
		{"http://127.0.0.1/data.csv", true},
		{"http://localhost/data.csv", true},
		{"http://LOCALHOST:8080/", true},
		{"http://169.254.169.254/latest/meta-data/", true},
		{"http://0.0.0.0/data.csv", true},
		{"http://[::1]/data.csv", true},
		{"http://[fe80::1]/data.csv", true},
		{"http://[fd00::1]/data.csv", true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			err := guard.ValidateURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}
