package leetcode

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Jamshidbekpy/LeetCode-reminder/internal/domain"
)

const defaultEndpoint = "https://leetcode.com/graphql/"

// recentQuery asks for the latest submissions of a user. 50 entries cover a
// full day of activity for any realistic user.
const recentQuery = `query recent($username: String!, $limit: Int!) {
  recentSubmissionList(username: $username, limit: $limit) {
    title
    titleSlug
    timestamp
    statusDisplay
    lang
  }
}`

const submissionLimit = 50

var (
	// ErrTransient marks failures worth retrying: timeouts, non-2xx
	// statuses, and 200 responses whose body is not the expected JSON
	// (the endpoint serves challenge pages with status 200).
	ErrTransient = errors.New("leetcode: transient failure")
	// ErrHandleNotFound is permanent: the configured handle does not
	// exist. Retrying cannot fix a typo.
	ErrHandleNotFound = errors.New("leetcode: user not found")
)

// ProblemLink returns the canonical URL for a problem slug.
func ProblemLink(slug string) string {
	if slug == "" {
		return "https://leetcode.com/problemset/"
	}
	return "https://leetcode.com/problems/" + slug + "/"
}

// Client verifies daily activity against the LeetCode GraphQL endpoint.
// All calls share one token-bucket limiter and one concurrency cap, so
// per-user fan-out in the scheduler cannot exceed the provider's tolerance.
type Client struct {
	httpc    *http.Client
	endpoint string
	limiter  *rate.Limiter
	sem      chan struct{}
	policy   BackoffPolicy
	log      *zap.Logger
}

// Options tunes the client; zero values get safe defaults.
type Options struct {
	Endpoint    string
	Timeout     time.Duration // per-request timeout
	RatePerSec  float64
	Burst       int
	Concurrency int
	Backoff     BackoffPolicy
}

// NewClient builds a verification client.
func NewClient(opts Options, log *zap.Logger) *Client {
	if opts.Endpoint == "" {
		opts.Endpoint = defaultEndpoint
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = 2
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if opts.Backoff.MaxAttempts == 0 {
		opts.Backoff = DefaultBackoff()
	}
	return &Client{
		httpc:    &http.Client{Timeout: opts.Timeout},
		endpoint: opts.Endpoint,
		limiter:  rate.NewLimiter(rate.Limit(opts.RatePerSec), opts.Burst),
		sem:      make(chan struct{}, opts.Concurrency),
		policy:   opts.Backoff,
		log:      log,
	}
}

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type gqlSubmission struct {
	Title         string `json:"title"`
	TitleSlug     string `json:"titleSlug"`
	Timestamp     string `json:"timestamp"`
	StatusDisplay string `json:"statusDisplay"`
	Lang          string `json:"lang"`
}

type gqlResponse struct {
	Data *struct {
		RecentSubmissionList []gqlSubmission `json:"recentSubmissionList"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Verify reports whether handle has an accepted submission on day
// ("YYYY-MM-DD" in loc). It retries transient failures per the backoff
// policy; exhausting the budget yields OutcomeUnknown with ErrTransient,
// never a false NotSolved. ErrHandleNotFound is returned without retry.
func (c *Client) Verify(ctx context.Context, handle, day string, loc *time.Location) (domain.Outcome, *domain.Solve, error) {
	if strings.TrimSpace(handle) == "" {
		return domain.OutcomeUnknown, nil, fmt.Errorf("%w: empty handle", ErrHandleNotFound)
	}

	select {
	case c.sem <- struct{}{}:
		defer func() { <-c.sem }()
	case <-ctx.Done():
		return domain.OutcomeUnknown, nil, fmt.Errorf("%w: %v", ErrTransient, ctx.Err())
	}

	var lastErr error
	for attempt := 1; attempt <= c.policy.attempts(); attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return domain.OutcomeUnknown, nil, fmt.Errorf("%w: %v", ErrTransient, err)
		}

		subs, err := c.fetchRecent(ctx, handle)
		if err == nil {
			outcome, solve := classify(subs, day, loc)
			return outcome, solve, nil
		}
		if errors.Is(err, ErrHandleNotFound) {
			return domain.OutcomeUnknown, nil, err
		}
		lastErr = err
		c.log.Warn("leetcode call failed",
			zap.String("handle", handle),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt == c.policy.attempts() {
			break
		}
		select {
		case <-time.After(c.policy.delay(attempt)):
		case <-ctx.Done():
			return domain.OutcomeUnknown, nil, fmt.Errorf("%w: %v", ErrTransient, ctx.Err())
		}
	}
	return domain.OutcomeUnknown, nil, lastErr
}

// fetchRecent performs one GraphQL round trip and validates the response
// shape before trusting it.
func (c *Client) fetchRecent(ctx context.Context, handle string) ([]gqlSubmission, error) {
	body, err := json.Marshal(gqlRequest{
		Query:     recentQuery,
		Variables: map[string]any{"username": handle, "limit": submissionLimit},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d", ErrTransient, resp.StatusCode)
	}

	var out gqlResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		// 200 with a non-JSON body is the challenge page.
		return nil, fmt.Errorf("%w: unparseable body: %v", ErrTransient, err)
	}

	if len(out.Errors) > 0 {
		msg := out.Errors[0].Message
		if strings.Contains(strings.ToLower(msg), "does not exist") {
			return nil, fmt.Errorf("%w: %s", ErrHandleNotFound, msg)
		}
		return nil, fmt.Errorf("%w: graphql: %s", ErrTransient, msg)
	}
	if out.Data == nil {
		return nil, fmt.Errorf("%w: response missing data", ErrTransient)
	}
	return out.Data.RecentSubmissionList, nil
}

// classify scans submissions for an accepted one dated day in loc.
func classify(subs []gqlSubmission, day string, loc *time.Location) (domain.Outcome, *domain.Solve) {
	for _, s := range subs {
		ts, err := strconv.ParseInt(s.Timestamp, 10, 64)
		if err != nil {
			continue
		}
		at := time.Unix(ts, 0).In(loc)
		if at.Format(domain.DayFormat) != day || s.StatusDisplay != "Accepted" {
			continue
		}
		title := s.Title
		if title == "" {
			title = "Accepted"
		}
		return domain.OutcomeSolved, &domain.Solve{
			Title:     title,
			Slug:      s.TitleSlug,
			Lang:      s.Lang,
			LocalTime: at.Format("15:04"),
		}
	}
	return domain.OutcomeNotSolved, nil
}
