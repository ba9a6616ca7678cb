// Package services provides clients for the external verification collaborators
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/lumipay/kycscan/pkg/phone"
)

// VerificationOutcome is the terminal result returned by the
// device-verification service.
type VerificationOutcome struct {
	Verified             bool     `json:"verified"`
	NIN                  string   `json:"nin,omitempty"`
	Issues               []string `json:"issues,omitempty"`
	RequiresManualReview bool     `json:"requiresManualReview,omitempty"`
}

// SubmitRequest carries the captured artifacts and normalized phone number.
type SubmitRequest struct {
	DocumentImage string `json:"documentImage"` // base64 data URL
	SelfieImage   string `json:"selfieImage,omitempty"`
	MimeType      string `json:"mimeType"`
	Phone         string `json:"phone"`
}

// Verifier is the device-verification service.
type Verifier interface {
	// Submit sends both artifacts for verification.
	Submit(ctx context.Context, req SubmitRequest) (*VerificationOutcome, error)

	// Status reports whether the holder of the phone number is already
	// fully verified.
	Status(ctx context.Context, phoneNumber string) (bool, error)
}

// OTPService is the one-time-code collaborator.
type OTPService interface {
	// Initiate sends a code to the phone and returns a request ID.
	Initiate(ctx context.Context, phoneNumber string) (string, error)

	// Verify checks a submitted code against the request.
	Verify(ctx context.Context, phoneNumber, code, requestID string) (bool, error)
}

// KYCService is the provider-side account lookup used for silent phone
// verification.
type KYCService interface {
	// AccountHolder returns the registered account holder name for the
	// number, or an empty string when the carrier has no record.
	AccountHolder(ctx context.Context, phoneNumber string, carrier phone.Carrier) (string, error)
}

// postJSON issues a JSON POST and decodes the response body into out.
func postJSON(ctx context.Context, client *http.Client, url string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("request to %s failed with status %d: %s", url, resp.StatusCode, string(body))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// getJSON issues a GET and decodes the response body into out.
func getJSON(ctx context.Context, client *http.Client, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("request to %s failed with status %d: %s", url, resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
