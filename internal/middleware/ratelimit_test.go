package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/hitoshi/followgraph/internal/auth"
	"github.com/hitoshi/followgraph/internal/model"
)

func testRateLimiterConfig(generalBurst, mutationBurst int) RateLimiterConfig {
	return RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    generalBurst,
		MutationRate:    1,
		MutationBurst:   mutationBurst,
		CleanupInterval: time.Minute,
	}
}

// serveAs はuserIDを認証済みとしてリクエストを1件処理する。
func serveAs(h http.Handler, userID string) *http.Response {
	req := httptest.NewRequest(http.MethodPost, "/api/test", nil)
	req = req.WithContext(ContextWithUserID(req.Context(), userID))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w.Result()
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

// --- GeneralMiddleware のテスト ---

func TestRateLimitMiddleware_AllowsRequestsWithinLimit(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(5, 10))
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler)

	// バースト内の5リクエストは全て通る
	for i := 0; i < 5; i++ {
		if resp := serveAs(handler, "user-1"); resp.StatusCode != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, resp.StatusCode, http.StatusOK)
		}
	}
}

func TestRateLimitMiddleware_Returns429WithRetryAfterHeader(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(2, 10))
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler)

	serveAs(handler, "user-1")
	serveAs(handler, "user-1")
	resp := serveAs(handler, "user-1")

	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusTooManyRequests)
	}
	retryAfter, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || retryAfter < 1 {
		t.Errorf("Retry-After = %q, want positive integer", resp.Header.Get("Retry-After"))
	}
}

func TestRateLimitMiddleware_IsolatesUserRateLimits(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(1, 10))
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler)

	serveAs(handler, "user-A")
	if resp := serveAs(handler, "user-A"); resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("user-A second request: status = %d, want %d", resp.StatusCode, http.StatusTooManyRequests)
	}
	if resp := serveAs(handler, "user-B"); resp.StatusCode != http.StatusOK {
		t.Errorf("user-B first request: status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
}

func TestRateLimitMiddleware_NoUserID_Returns401(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(5, 10))
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called without user ID")
	}))

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/test", nil))

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
}

func TestRateLimitMiddleware_429ResponseIsJSON(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(1, 10))
	defer rl.Stop()

	handler := rl.GeneralMiddleware()(okHandler)

	serveAs(handler, "user-json-test")
	resp := serveAs(handler, "user-json-test")

	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusTooManyRequests)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want %q", ct, "application/json")
	}

	var body ErrorResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Code != "RATE_LIMIT_EXCEEDED" {
		t.Errorf("code = %q, want %q", body.Code, "RATE_LIMIT_EXCEEDED")
	}
	if body.Category != model.CategorySystem {
		t.Errorf("category = %q, want %q", body.Category, model.CategorySystem)
	}
}

// --- MutationMiddleware のテスト ---

func TestMutationRateLimit_Returns429WhenLimitExceeded(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(100, 2))
	defer rl.Stop()

	handler := rl.MutationMiddleware()(okHandler)

	for i := 0; i < 2; i++ {
		if resp := serveAs(handler, "user-1"); resp.StatusCode != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, resp.StatusCode, http.StatusOK)
		}
	}
	if resp := serveAs(handler, "user-1"); resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("request 3: status = %d, want %d", resp.StatusCode, http.StatusTooManyRequests)
	}
}

func TestMutationRateLimit_IndependentFromGeneralLimit(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(100, 1))
	defer rl.Stop()

	// General -> Mutation の順に適用
	handler := rl.GeneralMiddleware()(rl.MutationMiddleware()(okHandler))
	generalOnly := rl.GeneralMiddleware()(okHandler)

	serveAs(handler, "user-1")
	if resp := serveAs(handler, "user-1"); resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("mutation: status = %d, want %d", resp.StatusCode, http.StatusTooManyRequests)
	}
	// 更新系の上限に達しても参照系は通る
	if resp := serveAs(generalOnly, "user-1"); resp.StatusCode != http.StatusOK {
		t.Errorf("general: status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if rl.GeneralLimiterCount() != 1 || rl.MutationLimiterCount() != 1 {
		t.Errorf("limiter counts = (%d, %d), want (1, 1)", rl.GeneralLimiterCount(), rl.MutationLimiterCount())
	}
}

// --- クリーンアップのテスト ---

func TestRateLimiter_CleanupRemovesExpiredEntries(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(5, 5))
	defer rl.Stop()

	serveAs(rl.GeneralMiddleware()(okHandler), "user-old")
	serveAs(rl.MutationMiddleware()(okHandler), "user-old")

	// TTLはCleanupIntervalの2倍
	rl.cleanup(time.Now().Add(3 * time.Minute))

	if count := rl.GeneralLimiterCount(); count != 0 {
		t.Errorf("expected 0 general entries after cleanup, got %d", count)
	}
	if count := rl.MutationLimiterCount(); count != 0 {
		t.Errorf("expected 0 mutation entries after cleanup, got %d", count)
	}
}

func TestRateLimiter_CleanupKeepsRecentEntries(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(5, 5))
	defer rl.Stop()

	serveAs(rl.GeneralMiddleware()(okHandler), "user-recent")
	rl.cleanup(time.Now().Add(time.Minute))

	if count := rl.GeneralLimiterCount(); count != 1 {
		t.Errorf("expected recent entry to survive cleanup, got %d entries", count)
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig(5, 5))
	rl.Stop()
	rl.Stop()
}

// --- ミドルウェアチェーンとの統合テスト ---

func TestRateLimitMiddleware_InChainWithAuthAndCORS(t *testing.T) {
	resolver := auth.StaticResolver{"rate-token": "user-rate-chain"}
	roles := &mockRoleLister{}

	rl := NewRateLimiter(testRateLimiterConfig(2, 10))
	defer rl.Stop()

	// CORS -> Auth -> RateLimit -> Handler
	handler := NewCORSMiddleware("http://localhost:3000")(
		NewAuthMiddleware(resolver, roles)(
			rl.GeneralMiddleware()(okHandler)))

	send := func() int {
		req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
		req.Header.Set("Authorization", "Bearer rate-token")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		return w.Result().StatusCode
	}

	for i := 0; i < 2; i++ {
		if status := send(); status != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, status, http.StatusOK)
		}
	}
	if status := send(); status != http.StatusTooManyRequests {
		t.Errorf("request 3: status = %d, want %d", status, http.StatusTooManyRequests)
	}
}

// --- 設定値のテスト ---

func TestDefaultRateLimiterConfig(t *testing.T) {
	cfg := DefaultRateLimiterConfig()

	if cfg.GeneralRate != 2.0 { // 120/60 = 2
		t.Errorf("GeneralRate = %f, want 2.0", cfg.GeneralRate)
	}
	if cfg.GeneralBurst != 120 {
		t.Errorf("GeneralBurst = %d, want 120", cfg.GeneralBurst)
	}
	if cfg.MutationRate != 0.5 { // 30/60
		t.Errorf("MutationRate = %f, want 0.5", cfg.MutationRate)
	}
	if cfg.MutationBurst != 30 {
		t.Errorf("MutationBurst = %d, want 30", cfg.MutationBurst)
	}
	if cfg.CleanupInterval != 5*time.Minute {
		t.Errorf("CleanupInterval = %v, want 5m", cfg.CleanupInterval)
	}
}
