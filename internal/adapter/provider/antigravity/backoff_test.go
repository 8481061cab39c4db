package antigravity

import (
	"net/http"
	"strconv"
	"testing"
	"time"
)

func TestClassifyBackoffIneligibleStatusReturnsNil(t *testing.T) {
	if d := ClassifyBackoff(http.StatusOK, http.Header{}, nil); d != nil {
		t.Errorf("ClassifyBackoff(200) = %v, want nil", d)
	}
	if d := ClassifyBackoff(http.StatusBadRequest, http.Header{}, nil); d != nil {
		t.Errorf("ClassifyBackoff(400) = %v, want nil", d)
	}
}

func TestClassifyBackoffPrefersRetryAfterSeconds(t *testing.T) {
	header := http.Header{"Retry-After": []string{"45"}}
	d := ClassifyBackoff(http.StatusTooManyRequests, header, nil)
	if d == nil {
		t.Fatal("ClassifyBackoff() = nil, want a decision")
	}
	if d.Delay != 45*time.Second {
		t.Errorf("Delay = %v, want 45s", d.Delay)
	}
}

func TestClassifyBackoffRetryAfterHTTPDate(t *testing.T) {
	future := time.Now().Add(90 * time.Second)
	header := http.Header{"Retry-After": []string{future.UTC().Format(http.TimeFormat)}}
	d := ClassifyBackoff(http.StatusTooManyRequests, header, nil)
	if d == nil {
		t.Fatal("ClassifyBackoff() = nil, want a decision")
	}
	if d.Delay < 85*time.Second || d.Delay > 95*time.Second {
		t.Errorf("Delay = %v, want ~90s", d.Delay)
	}
}

func TestClassifyBackoffFallsBackThroughHeaderPriority(t *testing.T) {
	resetAt := time.Now().Add(time.Minute)
	header := http.Header{
		"X-RateLimit-Reset": []string{strconv.FormatInt(resetAt.Unix(), 10)},
	}
	d := ClassifyBackoff(http.StatusTooManyRequests, header, nil)
	if d == nil {
		t.Fatal("ClassifyBackoff() = nil, want a decision")
	}
	if d.Delay < 55*time.Second || d.Delay > 65*time.Second {
		t.Errorf("Delay = %v, want ~60s from X-RateLimit-Reset", d.Delay)
	}

	header2 := http.Header{"X-RateLimit-Reset-After": []string{"20"}}
	d2 := ClassifyBackoff(http.StatusTooManyRequests, header2, nil)
	if d2 == nil {
		t.Fatal("ClassifyBackoff() = nil, want a decision")
	}
	if d2.Delay != 20*time.Second {
		t.Errorf("Delay = %v, want 20s from X-RateLimit-Reset-After", d2.Delay)
	}
}

func TestClassifyBackoffReadsRetryDelayFromBody(t *testing.T) {
	body := []byte(`{"error":{"details":[{"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay":"12s"}]}}`)
	d := ClassifyBackoff(http.StatusTooManyRequests, http.Header{}, body)
	if d == nil {
		t.Fatal("ClassifyBackoff() = nil, want a decision")
	}
	if d.Delay != 12*time.Second {
		t.Errorf("Delay = %v, want 12s", d.Delay)
	}
}

func TestClassifyBackoffFloorsBelowMinimum(t *testing.T) {
	header := http.Header{"Retry-After": []string{"0"}}
	d := ClassifyBackoff(http.StatusTooManyRequests, header, nil)
	if d == nil {
		t.Fatal("ClassifyBackoff() = nil, want a decision")
	}
	if d.Delay != minBackoff {
		t.Errorf("Delay = %v, want floor of %v", d.Delay, minBackoff)
	}
}

func TestClassifyBackoffReasonFromStructuredDetail(t *testing.T) {
	body := []byte(`{"error":{"details":[{"reason":"QUOTA_EXHAUSTED"}]}}`)
	d := ClassifyBackoff(http.StatusTooManyRequests, http.Header{}, body)
	if d == nil || d.Reason != BackoffReasonQuotaExhausted {
		t.Fatalf("Reason = %v, want BackoffReasonQuotaExhausted", d)
	}
}

func TestClassifyBackoffReasonFallsBackToBodyText(t *testing.T) {
	d := ClassifyBackoff(http.StatusTooManyRequests, http.Header{}, []byte("too many requests, please slow down"))
	if d == nil || d.Reason != BackoffReasonRateLimited {
		t.Fatalf("Reason = %v, want BackoffReasonRateLimited", d)
	}
}

func TestClassifyBackoffNonRateLimitStatusIsServerError(t *testing.T) {
	d := ClassifyBackoff(http.StatusServiceUnavailable, http.Header{}, nil)
	if d == nil || d.Reason != BackoffReasonServerError {
		t.Fatalf("Reason = %v, want BackoffReasonServerError", d)
	}
	if d.Delay != defaultServerErrorBackoff {
		t.Errorf("Delay = %v, want default server-error backoff %v", d.Delay, defaultServerErrorBackoff)
	}
}

func TestParseGoogleDurationAcceptsCompositeForm(t *testing.T) {
	d := parseGoogleDuration("1h2m3s")
	want := time.Hour + 2*time.Minute + 3*time.Second
	if d != want {
		t.Errorf("parseGoogleDuration(composite) = %v, want %v", d, want)
	}
}

func TestParseGoogleDurationAcceptsBareSeconds(t *testing.T) {
	if d := parseGoogleDuration("7"); d != 7*time.Second {
		t.Errorf("parseGoogleDuration(bare seconds) = %v, want 7s", d)
	}
}

func TestBodyIndicatesQuotaExhausted(t *testing.T) {
	if !BodyIndicatesQuotaExhausted([]byte(`{"reason":"QUOTA_EXHAUSTED"}`)) {
		t.Error("expected QUOTA_EXHAUSTED body to be detected")
	}
	if BodyIndicatesQuotaExhausted([]byte(`{"reason":"RATE_LIMIT_EXCEEDED"}`)) {
		t.Error("ordinary rate-limit body should not be reported as quota exhausted")
	}
}
