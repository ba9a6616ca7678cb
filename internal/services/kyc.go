package services

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/lumipay/kycscan/pkg/phone"
	"github.com/sirupsen/logrus"
)

// KYCClient talks to the provider KYC lookup over HTTP.
type KYCClient struct {
	baseURL    string
	httpClient *http.Client
	log        *logrus.Logger
}

// NewKYCClient creates a provider KYC lookup client.
func NewKYCClient(baseURL string, timeout time.Duration, log *logrus.Logger) *KYCClient {
	return &KYCClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		log:        log,
	}
}

// AccountHolder returns the registered account holder name for the number.
// An empty name means the carrier has no usable record; that is not an error.
func (c *KYCClient) AccountHolder(ctx context.Context, phoneNumber string, carrier phone.Carrier) (string, error) {
	var response struct {
		Name string `json:"name"`
	}

	endpoint := fmt.Sprintf("%s/api/kyc/lookup?phone=%s&carrier=%s",
		c.baseURL, url.QueryEscape(phoneNumber), url.QueryEscape(string(carrier)))

	if err := getJSON(ctx, c.httpClient, endpoint, &response); err != nil {
		return "", fmt.Errorf("kyc lookup failed: %w", err)
	}

	if response.Name != "" {
		c.log.Debugf("KYC lookup for %s returned an account holder name", phoneNumber)
	}
	return response.Name, nil
}
