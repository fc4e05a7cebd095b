package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lockplane/metamigrate/database"
)

func TestDriver_Name(t *testing.T) {
	driver := NewDriver()
	if driver.Name() != "sqlite" {
		t.Errorf("Expected name 'sqlite', got '%s'", driver.Name())
	}
	if driver.Dialect() != database.DialectSQLite {
		t.Errorf("Expected sqlite dialect, got %s", driver.Dialect())
	}
}

func TestDriver_SupportsFeature(t *testing.T) {
	driver := NewDriver()

	tests := []struct {
		feature  string
		expected bool
	}{
		{database.FeatureTransactionalDDL, true},
		{database.FeatureAlterColumnType, false},
		{database.FeatureNarrowIntegers, false},
		{database.FeatureAdvisoryLocks, false},
		{"UNKNOWN_FEATURE", false},
	}

	for _, tt := range tests {
		t.Run(tt.feature, func(t *testing.T) {
			if got := driver.SupportsFeature(tt.feature); got != tt.expected {
				t.Errorf("SupportsFeature(%s) = %v, expected %v", tt.feature, got, tt.expected)
			}
		})
	}
}

func TestDriver_LockSerializes(t *testing.T) {
	driver := NewDriver()
	ctx := context.Background()

	release, err := driver.Lock(ctx, nil, "metamigrate:test-serialize")
	if err != nil {
		t.Fatalf("Lock failed: %v", err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	if _, err := driver.Lock(waitCtx, nil, "metamigrate:test-serialize"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected second lock to time out, got %v", err)
	}

	if err := release(); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	// Releasing twice is harmless
	if err := release(); err != nil {
		t.Fatalf("second release failed: %v", err)
	}

	again, err := driver.Lock(ctx, nil, "metamigrate:test-serialize")
	if err != nil {
		t.Fatalf("Lock after release failed: %v", err)
	}
	_ = again()
}
