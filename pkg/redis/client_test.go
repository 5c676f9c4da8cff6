package redis

import (
	"errors"
	"fmt"
	"testing"

	"github.com/redis/go-redis/v9"
)

func TestIsNilError(t *testing.T) {
	if !IsNilError(redis.Nil) {
		t.Error("redis.Nil not recognised")
	}
	if !IsNilError(fmt.Errorf("get: %w", redis.Nil)) {
		t.Error("wrapped redis.Nil not recognised")
	}
	if IsNilError(errors.New("connection refused")) {
		t.Error("unrelated error reported as nil")
	}
	if IsNilError(nil) {
		t.Error("nil error reported as redis nil")
	}
}
