package redis

import (
	"testing"

	"go.uber.org/zap"

	"github.com/limiquantix/drsim/internal/config"
)

func TestNewPublisher_Unreachable(t *testing.T) {
	cfg := config.RedisConfig{Host: "127.0.0.1", Port: 1, Channel: "drsim:events"}

	if _, err := NewPublisher(cfg, zap.NewNop()); err == nil {
		t.Fatal("Expected an error for an unreachable server")
	}
}

func TestDecodeEvent(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    string
		wantErr bool
	}{
		{name: "pass completed", payload: `{"type":"drs.pass.completed","resource_id":"pass-1","data":{}}`, want: EventPassCompleted},
		{name: "missing type", payload: `{"resource_id":"pass-1"}`, wantErr: true},
		{name: "malformed", payload: `{"type":`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := decodeEvent(tt.payload)
			if tt.wantErr {
				if err == nil {
					t.Fatal("Expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("decodeEvent failed: %v", err)
			}
			if event.Type != tt.want {
				t.Errorf("Expected type %s, got %s", tt.want, event.Type)
			}
		})
	}
}
