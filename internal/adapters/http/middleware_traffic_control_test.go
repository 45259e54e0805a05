package httpadapter

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/kirillkom/navi-mailroom/internal/config"
)

func TestRateLimitRejectsBurstOverflow(t *testing.T) {
	handler := newTestHandler(config.Config{APIRateLimitRPS: 0.5, APIRateLimitBurst: 2})

	codes := make([]int, 3)
	var retryAfter string
	for i := range codes {
		res := serve(t, handler, http.MethodGet, "/healthz", nil, nil)
		codes[i] = res.Code
		retryAfter = res.Header().Get("Retry-After")
	}
	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("codes = %v", codes)
	}
	if secs, err := strconv.Atoi(retryAfter); err != nil || secs < 1 {
		t.Fatalf("Retry-After = %q", retryAfter)
	}
}

func TestRateLimitDisabledByDefault(t *testing.T) {
	handler := newTestHandler(config.Config{})
	for i := 0; i < 50; i++ {
		if res := serve(t, handler, http.MethodGet, "/healthz", nil, nil); res.Code != http.StatusOK {
			t.Fatalf("request %d: %d", i, res.Code)
		}
	}
}

// blockingHandler parks each request until release is closed.
func blockingHandler(entered chan<- struct{}, release <-chan struct{}) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		entered <- struct{}{}
		<-release
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestBackpressureShedsWhenSaturated(t *testing.T) {
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	handler := backpressureMiddleware(blockingHandler(entered, release), 1, 10*time.Millisecond)

	first := make(chan int, 1)
	go func() {
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, httptest.NewRequest(http.MethodPost, "/process", nil))
		first <- res.Code
	}()
	<-entered

	res := serve(t, handler, http.MethodPost, "/process", nil, nil)
	if res.Code != http.StatusServiceUnavailable {
		t.Fatalf("saturated gate returned %d", res.Code)
	}
	if body := decodeBody(t, res); body["status"] != "error" || body["error"] == "" {
		t.Fatalf("body = %v", body)
	}

	close(release)
	select {
	case code := <-first:
		if code != http.StatusNoContent {
			t.Fatalf("first request = %d", code)
		}
	case <-time.After(time.Second):
		t.Fatal("first request never finished")
	}
}

func TestBackpressureWaitsForFreeSlot(t *testing.T) {
	entered := make(chan struct{}, 2)
	release := make(chan struct{})
	handler := backpressureMiddleware(blockingHandler(entered, release), 1, time.Second)

	done := make(chan int, 2)
	for i := 0; i < 2; i++ {
		go func() {
			res := httptest.NewRecorder()
			handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			done <- res.Code
		}()
	}
	<-entered
	close(release)

	for i := 0; i < 2; i++ {
		select {
		case code := <-done:
			if code != http.StatusNoContent {
				t.Fatalf("queued request = %d", code)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("queued request was not admitted")
		}
	}
}
