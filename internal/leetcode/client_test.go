package leetcode

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Jamshidbekpy/LeetCode-reminder/internal/domain"
)

func testClient(t *testing.T, url string, attempts int) *Client {
	t.Helper()
	return NewClient(Options{
		Endpoint:    url,
		Timeout:     2 * time.Second,
		RatePerSec:  1000,
		Burst:       1000,
		Concurrency: 4,
		Backoff: BackoffPolicy{
			MaxAttempts: attempts,
			BaseDelay:   time.Millisecond,
			MaxDelay:    2 * time.Millisecond,
		},
	}, zap.NewNop())
}

func submissionBody(entries ...string) string {
	out := `{"data":{"recentSubmissionList":[`
	for i, e := range entries {
		if i > 0 {
			out += ","
		}
		out += e
	}
	return out + `]}}`
}

func TestVerify_Solved(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Tashkent")
	require.NoError(t, err)

	// 2026-05-02 10:00 local.
	ts := time.Date(2026, time.May, 2, 10, 0, 0, 0, loc).Unix()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, submissionBody(
			fmt.Sprintf(`{"title":"Two Sum","titleSlug":"two-sum","timestamp":"%d","statusDisplay":"Accepted","lang":"golang"}`, ts),
		))
	}))
	defer srv.Close()

	outcome, solve, err := testClient(t, srv.URL, 1).Verify(context.Background(), "alice", "2026-05-02", loc)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeSolved, outcome)
	require.NotNil(t, solve)
	assert.Equal(t, "Two Sum", solve.Title)
	assert.Equal(t, "10:00", solve.LocalTime)
}

func TestVerify_NotSolved_WrongDayOrStatus(t *testing.T) {
	loc := time.UTC
	yesterday := time.Date(2026, time.May, 1, 12, 0, 0, 0, loc).Unix()
	today := time.Date(2026, time.May, 2, 12, 0, 0, 0, loc).Unix()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, submissionBody(
			fmt.Sprintf(`{"title":"A","titleSlug":"a","timestamp":"%d","statusDisplay":"Accepted","lang":"go"}`, yesterday),
			fmt.Sprintf(`{"title":"B","titleSlug":"b","timestamp":"%d","statusDisplay":"Wrong Answer","lang":"go"}`, today),
		))
	}))
	defer srv.Close()

	outcome, solve, err := testClient(t, srv.URL, 1).Verify(context.Background(), "alice", "2026-05-02", loc)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeNotSolved, outcome)
	assert.Nil(t, solve)
}

func TestVerify_ChallengePageIsTransient(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html><body>Checking your browser</body></html>")
	}))
	defer srv.Close()

	outcome, _, err := testClient(t, srv.URL, 3).Verify(context.Background(), "alice", "2026-05-02", time.UTC)
	assert.Equal(t, domain.OutcomeUnknown, outcome)
	require.ErrorIs(t, err, ErrTransient)
	assert.Equal(t, 3, calls, "all retry attempts must be spent")
}

func TestVerify_ServerErrorRetriesThenUnknown(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	outcome, _, err := testClient(t, srv.URL, 2).Verify(context.Background(), "alice", "2026-05-02", time.UTC)
	assert.Equal(t, domain.OutcomeUnknown, outcome)
	require.ErrorIs(t, err, ErrTransient)
	assert.Equal(t, 2, calls)
}

func TestVerify_HandleNotFoundIsPermanent(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		fmt.Fprint(w, `{"errors":[{"message":"That user does not exist."}],"data":null}`)
	}))
	defer srv.Close()

	outcome, _, err := testClient(t, srv.URL, 3).Verify(context.Background(), "ghost", "2026-05-02", time.UTC)
	assert.Equal(t, domain.OutcomeUnknown, outcome)
	require.ErrorIs(t, err, ErrHandleNotFound)
	assert.Equal(t, 1, calls, "permanent errors must not be retried")
}

func TestVerify_TransientRecovery(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, submissionBody())
	}))
	defer srv.Close()

	outcome, _, err := testClient(t, srv.URL, 3).Verify(context.Background(), "alice", "2026-05-02", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, domain.OutcomeNotSolved, outcome)
	assert.Equal(t, 2, calls)
}

func TestBackoffPolicy_Delays(t *testing.T) {
	p := BackoffPolicy{
		MaxAttempts: 4,
		BaseDelay:   100 * time.Millisecond,
		MaxDelay:    300 * time.Millisecond,
		Jitter:      func(d time.Duration) time.Duration { return d },
	}
	assert.Equal(t, 100*time.Millisecond, p.delay(1))
	assert.Equal(t, 200*time.Millisecond, p.delay(2))
	assert.Equal(t, 300*time.Millisecond, p.delay(3), "capped at MaxDelay")
	assert.Equal(t, 300*time.Millisecond, p.delay(4))
}
