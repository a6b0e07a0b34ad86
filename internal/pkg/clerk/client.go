package clerk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/sony/gobreaker/v2"

	"github.com/ManuelReschke/PixelConvert/internal/pkg/env"
)

const defaultAPIBaseURL = "https://api.clerk.com/v1"

// ErrUserIDRequired is returned for calls without a user id.
var ErrUserIDRequired = errors.New("clerk: user id is required")

// APIError carries a non-2xx Backend API response.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("clerk api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("clerk api error: status=%d: %s", e.StatusCode, e.Message)
}

// User is the subset of a Clerk user the service needs.
type User struct {
	ID             string
	Email          string
	PublicMetadata json.RawMessage
}

// SubscriptionMetadata decodes the billing mirror from the user's metadata.
func (u *User) SubscriptionMetadata() (SubscriptionMetadata, error) {
	return ParseSubscriptionMetadata(u.PublicMetadata)
}

// Client talks to the Clerk Backend API.
type Client struct {
	SecretKey  string
	APIBaseURL string
	HTTPClient *http.Client

	breaker *gobreaker.CircuitBreaker[[]byte]
}

func NewClientFromEnv() *Client {
	return NewClient(
		strings.TrimSpace(env.GetEnv("CLERK_SECRET_KEY", "")),
		strings.TrimSpace(env.GetEnv("CLERK_API_URL", defaultAPIBaseURL)),
		&http.Client{Timeout: 15 * time.Second},
	)
}

func NewClient(secretKey, apiBaseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if apiBaseURL == "" {
		apiBaseURL = defaultAPIBaseURL
	}
	return &Client{
		SecretKey:  secretKey,
		APIBaseURL: strings.TrimRight(apiBaseURL, "/"),
		HTTPClient: httpClient,
		breaker: gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
			Name:        "clerk",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			// Client errors say nothing about Clerk's health.
			IsSuccessful: func(err error) bool {
				var apiErr *APIError
				if errors.As(err, &apiErr) {
					return apiErr.StatusCode < 500
				}
				return err == nil
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warnf("[Clerk] circuit breaker %s: %s -> %s", name, from.String(), to.String())
			},
		}),
	}
}

// GetUser loads a user by id.
func (c *Client) GetUser(ctx context.Context, userID string) (*User, error) {
	id := strings.TrimSpace(userID)
	if id == "" {
		return nil, ErrUserIDRequired
	}
	body, err := c.do(ctx, http.MethodGet, "/users/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}
	return decodeUser(body)
}

// UpdatePublicMetadata deep-merges patch into the user's public metadata and
// returns the updated user.
func (c *Client) UpdatePublicMetadata(ctx context.Context, userID string, patch map[string]interface{}) (*User, error) {
	id := strings.TrimSpace(userID)
	if id == "" {
		return nil, ErrUserIDRequired
	}
	payload := map[string]interface{}{"public_metadata": patch}
	body, err := c.do(ctx, http.MethodPatch, "/users/"+url.PathEscape(id)+"/metadata", payload)
	if err != nil {
		return nil, err
	}
	return decodeUser(body)
}

func (c *Client) do(ctx context.Context, method, path string, payload interface{}) ([]byte, error) {
	if c.SecretKey == "" {
		return nil, errors.New("CLERK_SECRET_KEY is not configured")
	}
	return c.breaker.Execute(func() ([]byte, error) {
		var reqBody io.Reader
		if payload != nil {
			raw, err := json.Marshal(payload)
			if err != nil {
				return nil, err
			}
			reqBody = bytes.NewReader(raw)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.APIBaseURL+path, reqBody)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+c.SecretKey)
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, parseAPIError(resp.StatusCode, body)
		}
		return body, nil
	})
}

func parseAPIError(status int, body []byte) *APIError {
	out := &APIError{StatusCode: status, Message: http.StatusText(status)}
	var raw struct {
		Errors []struct {
			Message     string `json:"message"`
			LongMessage string `json:"long_message"`
			Code        string `json:"code"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &raw); err == nil && len(raw.Errors) > 0 {
		first := raw.Errors[0]
		out.Code = first.Code
		if first.LongMessage != "" {
			out.Message = first.LongMessage
		} else if first.Message != "" {
			out.Message = first.Message
		}
	}
	return out
}

func decodeUser(body []byte) (*User, error) {
	var raw struct {
		ID                    string          `json:"id"`
		PrimaryEmailAddressID string          `json:"primary_email_address_id"`
		PublicMetadata        json.RawMessage `json:"public_metadata"`
		EmailAddresses        []struct {
			ID           string `json:"id"`
			EmailAddress string `json:"email_address"`
		} `json:"email_addresses"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	if strings.TrimSpace(raw.ID) == "" {
		return nil, errors.New("clerk user response missing id")
	}

	email := ""
	for _, addr := range raw.EmailAddresses {
		if addr.ID == raw.PrimaryEmailAddressID {
			email = addr.EmailAddress
			break
		}
	}
	if email == "" && len(raw.EmailAddresses) > 0 {
		email = raw.EmailAddresses[0].EmailAddress
	}

	return &User{
		ID:             raw.ID,
		Email:          strings.TrimSpace(email),
		PublicMetadata: raw.PublicMetadata,
	}, nil
}
