package main

import (
	"testing"

	"github.com/rickgao/clipcast-live/internal/connection"
)

func TestParseTypes(t *testing.T) {
	tests := []struct {
		in      string
		want    []connection.EventType
		wantErr bool
	}{
		{"", defaultTypes, false},
		{"message:new", []connection.EventType{connection.EventMessageNew}, false},
		{" message:new , admin:user_banned ", []connection.EventType{connection.EventMessageNew, connection.EventAdminUserBanned}, false},
		{"message:new,,", []connection.EventType{connection.EventMessageNew}, false},
		{"connected", nil, true},
		{"ping", nil, true},
		{"chat:typing", nil, true},
		{",", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseTypes(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseTypes(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("parseTypes(%q) = %v, want %v", tt.in, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("parseTypes(%q)[%d] = %s, want %s", tt.in, i, got[i], tt.want[i])
				}
			}
		})
	}
}
