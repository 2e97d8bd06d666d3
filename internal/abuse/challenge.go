package abuse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	ProviderNone      = "none"
	ProviderTurnstile = "turnstile"
	ProviderHCaptcha  = "hcaptcha"
)

var challengeEndpoints = map[string]string{
	ProviderTurnstile: "https://challenges.cloudflare.com/turnstile/v0/siteverify",
	ProviderHCaptcha:  "https://hcaptcha.com/siteverify",
}

// Rejection reasons carried by ChallengeError.
const (
	ReasonNotConfigured       = "challenge_not_configured"
	ReasonMissingToken        = "missing_challenge_token"
	ReasonUnsupportedProvider = "unsupported_challenge_provider"
	ReasonFailed              = "challenge_failed"
	ReasonServiceUnavailable  = "challenge_service_unavailable"
)

// ChallengeError is a failed verification. Verification fails closed: every
// error path rejects the request.
type ChallengeError struct {
	Reason     string
	ErrorCodes []string
	Err        error
}

func (e *ChallengeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Reason, e.Err)
	}
	return e.Reason
}

func (e *ChallengeError) Unwrap() error {
	return e.Err
}

// ChallengeVerifier checks a human-verification token with the configured
// provider.
type ChallengeVerifier struct {
	provider   string
	secret     string
	endpoint   string
	httpClient *http.Client
}

type VerifierOption func(*ChallengeVerifier)

// WithEndpoint overrides the provider's siteverify URL.
func WithEndpoint(endpoint string) VerifierOption {
	return func(v *ChallengeVerifier) { v.endpoint = endpoint }
}

func WithHTTPClient(client *http.Client) VerifierOption {
	return func(v *ChallengeVerifier) { v.httpClient = client }
}

func NewChallengeVerifier(provider, secret string, opts ...VerifierOption) *ChallengeVerifier {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if provider == "" {
		provider = ProviderNone
	}
	v := &ChallengeVerifier{
		provider: provider,
		secret:   secret,
		endpoint: challengeEndpoints[provider],
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Enabled reports whether tokens are checked at all.
func (v *ChallengeVerifier) Enabled() bool {
	return v.provider != ProviderNone
}

// Verify returns nil when the token is accepted or no provider is configured.
func (v *ChallengeVerifier) Verify(ctx context.Context, token, remoteIP string) error {
	if !v.Enabled() {
		return nil
	}
	if v.secret == "" {
		return &ChallengeError{Reason: ReasonNotConfigured}
	}
	if token == "" {
		return &ChallengeError{Reason: ReasonMissingToken}
	}
	if v.endpoint == "" {
		return &ChallengeError{Reason: ReasonUnsupportedProvider}
	}

	form := url.Values{
		"secret":   {v.secret},
		"response": {token},
		"remoteip": {remoteIP},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return &ChallengeError{Reason: ReasonServiceUnavailable, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return &ChallengeError{Reason: ReasonServiceUnavailable, Err: err}
	}
	defer resp.Body.Close()

	var result struct {
		Success    bool     `json:"success"`
		ErrorCodes []string `json:"error-codes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return &ChallengeError{Reason: ReasonServiceUnavailable, Err: err}
	}
	if !result.Success {
		return &ChallengeError{Reason: ReasonFailed, ErrorCodes: result.ErrorCodes}
	}
	return nil
}
