package scoring

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/phonetrust/internal/resilience"
)

// HTTPClient fetches scores from GET {base}/v1/trust-score/{phone}.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	guard   *resilience.Guard
}

// NewHTTPClient creates an HTTPClient. guard may be nil.
func NewHTTPClient(baseURL, apiKey string, guard *resilience.Guard) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 10 * time.Second},
		guard:   guard,
	}
}

type scoreResponse struct {
	PhoneNumber string   `json:"phone_number"`
	Score       *float64 `json:"score"`
}

// Score calls the remote scoring service. 408, 429 and 5xx responses are
// transient and retried by the guard.
func (c *HTTPClient) Score(ctx context.Context, phone, userID string) (float64, error) {
	return resilience.Call(ctx, c.guard, func(ctx context.Context) (float64, error) {
		return c.get(ctx, phone, userID)
	})
}

func (c *HTTPClient) get(ctx context.Context, phone, userID string) (float64, error) {
	endpoint := c.baseURL + "/v1/trust-score/" + url.PathEscape(phone)
	if userID != "" {
		endpoint += "?" + url.Values{"user_id": {userID}}.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, eris.Wrap(err, "scoring: create request")
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, eris.Wrap(err, "scoring: trust-score call")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, eris.Wrap(err, "scoring: read response")
	}

	if resp.StatusCode != http.StatusOK {
		err := eris.Errorf("scoring: trust-score returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return 0, resilience.NewTransientError(err, resp.StatusCode)
		}
		return 0, err
	}

	var sr scoreResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return 0, eris.Wrap(err, "scoring: unmarshal response")
	}
	if sr.Score == nil {
		return 0, eris.New("scoring: response missing score")
	}
	if err := validScore(*sr.Score); err != nil {
		return 0, err
	}
	return *sr.Score, nil
}
