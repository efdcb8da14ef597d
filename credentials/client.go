// Package credentials talks to the account service that issues session tokens.
package credentials

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/mail"
	"strings"
	"time"

	"github.com/davidakpele/chatengine/models"
)

// DefaultBaseURL is the account service of a locally running assistant.
const DefaultBaseURL = "http://localhost:8022"

const (
	loginPath    = "/auth/login"
	registerPath = "/auth/register"
)

// Client calls the login and registration endpoints.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
	}
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username"`
}

// FieldError is a rejection from the account service. Target names the form
// field it belongs to, e.g. "email_error", or "error" for the form as a whole.
type FieldError struct {
	Status  int
	Message string
	Target  string
}

func (e *FieldError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Target)
	}
	return e.Message
}

func (r LoginRequest) Validate() error {
	if err := validateEmail(r.Email); err != nil {
		return err
	}
	return validatePassword(r.Password)
}

func (r RegisterRequest) Validate() error {
	if err := validateEmail(r.Email); err != nil {
		return err
	}
	if err := validatePassword(r.Password); err != nil {
		return err
	}
	if len([]rune(strings.TrimSpace(r.Username))) < 3 {
		return &FieldError{Message: "Username must be at least 3 characters", Target: "username_error"}
	}
	return nil
}

func validateEmail(email string) error {
	if _, err := mail.ParseAddress(email); err != nil {
		return &FieldError{Message: "Please enter a valid email address", Target: "email_error"}
	}
	return nil
}

func validatePassword(password string) error {
	if len(password) < 6 {
		return &FieldError{Message: "Password must be at least 6 characters", Target: "password_error"}
	}
	return nil
}

// Login exchanges credentials for an identity.
func (c *Client) Login(ctx context.Context, req LoginRequest) (models.Identity, error) {
	var id models.Identity
	if err := req.Validate(); err != nil {
		return id, err
	}
	if err := c.post(ctx, loginPath, req, &id); err != nil {
		return id, err
	}
	if !id.Valid() {
		return id, fmt.Errorf("login response is missing token or id")
	}
	return id, nil
}

// Register creates an account. The caller logs in afterwards.
func (c *Client) Register(ctx context.Context, req RegisterRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	return c.post(ctx, registerPath, req, nil)
}

// errorBody accepts both spellings of the target field the service has used.
type errorBody struct {
	Error  string `json:"error"`
	Target string `json:"target"`
	Targe  string `json:"targe"`
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	data = unwrap(data)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var eb errorBody
		if err := json.Unmarshal(data, &eb); err != nil || eb.Error == "" {
			return &FieldError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode), Target: "error"}
		}
		target := eb.Target
		if target == "" {
			target = eb.Targe
		}
		return &FieldError{Status: resp.StatusCode, Message: eb.Error, Target: target}
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// unwrap returns the inner object of a {"status": ..., "data": {...}} reply.
// Flat replies are returned unchanged.
func unwrap(data []byte) []byte {
	var env struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return data
	}
	inner := bytes.TrimSpace(env.Data)
	if len(inner) > 0 && inner[0] == '{' {
		return inner
	}
	return data
}

// IsFieldError reports whether err is a FieldError and returns it.
func IsFieldError(err error) (*FieldError, bool) {
	var fe *FieldError
	ok := errors.As(err, &fe)
	return fe, ok
}
