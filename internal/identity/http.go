package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultVerifyTimeout = 5 * time.Second

// HTTPVerifier asks the identity service who owns a token.
type HTTPVerifier struct {
	httpClient *http.Client
	baseURL    string
}

func NewHTTPVerifier(baseURL string, timeout time.Duration) *HTTPVerifier {
	if timeout <= 0 {
		timeout = defaultVerifyTimeout
	}
	return &HTTPVerifier{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

type meResponse struct {
	Success bool `json:"success"`
	User    struct {
		ID   json.RawMessage `json:"id"`
		Role string          `json:"role"`
	} `json:"user"`
	Message string `json:"message"`
}

func (v *HTTPVerifier) Verify(ctx context.Context, token string) (Identity, error) {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if token == "" {
		return Identity{}, fmt.Errorf("%w: token is empty", ErrInvalidToken)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+"/auth/me", nil)
	if err != nil {
		return Identity{}, fmt.Errorf("build identity request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return Identity{}, fmt.Errorf("%w: identity service rejected token", ErrInvalidToken)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Identity{}, fmt.Errorf("%w: status=%d body=%s", ErrUnavailable, resp.StatusCode, string(body))
	}

	var payload meResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Identity{}, fmt.Errorf("decode identity response: %w", err)
	}
	if !payload.Success {
		return Identity{}, fmt.Errorf("%w: %s", ErrInvalidToken, payload.Message)
	}

	userID := rawID(payload.User.ID)
	if userID == "" || strings.TrimSpace(payload.User.Role) == "" {
		return Identity{}, fmt.Errorf("%w: incomplete identity", ErrInvalidToken)
	}
	return Identity{UserID: userID, Role: strings.TrimSpace(payload.User.Role)}, nil
}

// rawID renders a JSON string or number id as text.
func rawID(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}
