package services

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
)

// OTPClient talks to the one-time-code service over HTTP.
type OTPClient struct {
	baseURL    string
	httpClient *http.Client
	log        *logrus.Logger
}

// NewOTPClient creates an OTP client.
func NewOTPClient(baseURL string, timeout time.Duration, log *logrus.Logger) *OTPClient {
	return &OTPClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

// Initiate sends a code to the phone number and returns the request ID to
// verify against.
func (c *OTPClient) Initiate(ctx context.Context, phoneNumber string) (string, error) {
	request := map[string]string{"phone": phoneNumber}

	var response struct {
		RequestID string `json:"requestId"`
	}

	if err := postJSON(ctx, c.httpClient, fmt.Sprintf("%s/api/otp/initiate", c.baseURL), request, &response); err != nil {
		return "", fmt.Errorf("otp initiate failed: %w", err)
	}
	if response.RequestID == "" {
		return "", fmt.Errorf("otp initiate returned no request id")
	}

	c.log.Debugf("OTP initiated for %s (request %s)", phoneNumber, response.RequestID)
	return response.RequestID, nil
}

// Verify checks a submitted code.
func (c *OTPClient) Verify(ctx context.Context, phoneNumber, code, requestID string) (bool, error) {
	request := map[string]string{
		"phone":     phoneNumber,
		"code":      code,
		"requestId": requestID,
	}

	var response struct {
		Verified bool `json:"verified"`
	}

	if err := postJSON(ctx, c.httpClient, fmt.Sprintf("%s/api/otp/verify", c.baseURL), request, &response); err != nil {
		return false, fmt.Errorf("otp verify failed: %w", err)
	}

	return response.Verified, nil
}
