package services

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
)

// VerifyClient talks to the device-verification service over HTTP.
type VerifyClient struct {
	baseURL    string
	httpClient *http.Client
	log        *logrus.Logger
}

// NewVerifyClient creates a verification client.
func NewVerifyClient(baseURL string, timeout time.Duration, log *logrus.Logger) *VerifyClient {
	return &VerifyClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

// Submit sends both captured artifacts and the normalized phone number.
func (c *VerifyClient) Submit(ctx context.Context, req SubmitRequest) (*VerificationOutcome, error) {
	var outcome VerificationOutcome
	if err := postJSON(ctx, c.httpClient, fmt.Sprintf("%s/api/verify", c.baseURL), req, &outcome); err != nil {
		return nil, fmt.Errorf("verification submit failed: %w", err)
	}

	c.log.Infof("Verification submitted for %s: verified=%v issues=%d manualReview=%v",
		req.Phone, outcome.Verified, len(outcome.Issues), outcome.RequiresManualReview)

	return &outcome, nil
}

// Status queries whether the phone's holder is already fully verified.
func (c *VerifyClient) Status(ctx context.Context, phoneNumber string) (bool, error) {
	var status struct {
		Verified bool `json:"verified"`
	}

	endpoint := fmt.Sprintf("%s/api/verify/status?phone=%s", c.baseURL, url.QueryEscape(phoneNumber))
	if err := getJSON(ctx, c.httpClient, endpoint, &status); err != nil {
		return false, fmt.Errorf("verification status query failed: %w", err)
	}

	return status.Verified, nil
}
