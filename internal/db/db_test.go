package db

import (
	"context"
	"testing"
	"time"
)

func TestConnectRejectsBadDSN(t *testing.T) {
	tests := []struct {
		name    string
		dsn     string
		timeout time.Duration
	}{
		{"invalid DSN format", "invalid-dsn-format", 5 * time.Second},
		{"empty DSN", "", 5 * time.Second},
		{"unreachable host", "postgres://u:p@nonexistent-host-hookline:5432/db?sslmode=disable", 2 * time.Second},
		{"invalid port", "postgres://u:p@localhost:99999/db?sslmode=disable", 2 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), tt.timeout)
			defer cancel()

			pool, err := Connect(ctx, tt.dsn, 10)
			if err == nil {
				if pool != nil {
					pool.Close()
				}
				t.Error("Connect() expected error but got none")
			}
		})
	}
}
