package store

import (
	"testing"
	"time"
)

func TestPoolConfigDefaults(t *testing.T) {
	got := PoolConfig{MaxOpenConns: 5}.withDefaults()
	if got.MaxOpenConns != 5 {
		t.Fatalf("MaxOpenConns = %d, want 5", got.MaxOpenConns)
	}
	if got.MaxIdleConns != 10 || got.ConnMaxLifetime != 30*time.Minute || got.ConnMaxIdleTime != 5*time.Minute {
		t.Fatalf("unexpected defaults: %+v", got)
	}
	if got.PingAttempts != 1 {
		t.Fatalf("PingAttempts = %d, want 1", got.PingAttempts)
	}
}
