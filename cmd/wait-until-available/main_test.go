package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestWaitUntilAvailable(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	err := waitUntilAvailable(context.Background(), server.Client(), server.URL, time.Millisecond, zap.NewNop())
	assert.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestWaitUntilAvailableGivesUp(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := waitUntilAvailable(ctx, server.Client(), server.URL, 5*time.Millisecond, zap.NewNop())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
