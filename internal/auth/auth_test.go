package auth

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestStaticToken(t *testing.T) {
	tok, err := StaticToken("  abc123\n").Token()
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if tok != "abc123" {
		t.Errorf("Token = %q, want %q", tok, "abc123")
	}

	if _, err := StaticToken("   ").Token(); !errors.Is(err, ErrEmptyToken) {
		t.Errorf("blank token error = %v, want ErrEmptyToken", err)
	}
}

func TestFileToken_ReReadsOnEachCall(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(path, []byte("first\n"), 0600); err != nil {
		t.Fatalf("write token: %v", err)
	}

	src := FileToken{Path: path}
	tok, err := src.Token()
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if tok != "first" {
		t.Errorf("Token = %q, want first", tok)
	}

	if err := os.WriteFile(path, []byte("second"), 0600); err != nil {
		t.Fatalf("rewrite token: %v", err)
	}
	tok, err = src.Token()
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if tok != "second" {
		t.Errorf("Token after rotation = %q, want second", tok)
	}
}

func TestFileToken_Errors(t *testing.T) {
	if _, err := (FileToken{Path: "/nonexistent/token"}).Token(); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "empty")
	if err := os.WriteFile(path, []byte("\n\n"), 0600); err != nil {
		t.Fatalf("write token: %v", err)
	}
	if _, err := (FileToken{Path: path}).Token(); !errors.Is(err, ErrEmptyToken) {
		t.Errorf("empty file error = %v, want ErrEmptyToken", err)
	}
}

func TestCredentials_Header(t *testing.T) {
	creds := &Credentials{Source: StaticToken("tok"), UserAgent: "liveagent/1.0"}

	h, err := creds.Header()
	if err != nil {
		t.Fatalf("Header failed: %v", err)
	}
	if got := h.Get("Authorization"); got != "Bearer tok" {
		t.Errorf("Authorization = %q, want %q", got, "Bearer tok")
	}
	if got := h.Get("User-Agent"); got != "liveagent/1.0" {
		t.Errorf("User-Agent = %q", got)
	}
}

func TestCredentials_HeaderAnonymous(t *testing.T) {
	h, err := (&Credentials{}).Header()
	if err != nil {
		t.Fatalf("Header failed: %v", err)
	}
	if h.Get("Authorization") != "" {
		t.Error("anonymous credentials should not send Authorization")
	}
}

func TestCredentials_HeaderSourceError(t *testing.T) {
	creds := &Credentials{Source: FileToken{Path: "/nonexistent/token"}}
	if _, err := creds.Header(); err == nil {
		t.Error("expected error from failing token source")
	}
}

func TestLoadCredentials(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(path, []byte("from-file"), 0600); err != nil {
		t.Fatalf("write token: %v", err)
	}

	tests := []struct {
		name      string
		token     string
		tokenFile string
		wantAuth  string
		wantErr   bool
	}{
		{"anonymous", "", "", "", false},
		{"static", "inline", "", "Bearer inline", false},
		{"file wins", "inline", path, "Bearer from-file", false},
		{"missing file", "", "/nonexistent/token", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			creds, err := LoadCredentials(tt.token, tt.tokenFile, "ua")
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("LoadCredentials failed: %v", err)
			}

			h, err := creds.Header()
			if err != nil {
				t.Fatalf("Header failed: %v", err)
			}
			if got := h.Get("Authorization"); got != tt.wantAuth {
				t.Errorf("Authorization = %q, want %q", got, tt.wantAuth)
			}
		})
	}
}
