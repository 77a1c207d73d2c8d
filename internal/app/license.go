package app

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
	licenseVerifyURL        = "https://api.gumroad.com/v2/licenses/verify"
	licenseProductPermalink = "kubedesk"
	licenseVerifyTimeout    = 10 * time.Second
)

// LicenseProfile is the purchase record returned for a valid license key.
type LicenseProfile struct {
	Email     string `json:"email"`
	CreatedAt string `json:"created_at"`
	Refunded  bool   `json:"refunded"`
}

// VerifyLicenseKey checks a license key against the vendor API. Exported as
// a variable so tests can stub the network call.
var VerifyLicenseKey = func(ctx context.Context, key string) (LicenseProfile, error) {
	if strings.TrimSpace(key) == "" {
		return LicenseProfile{}, fmt.Errorf("license key is empty")
	}

	form := url.Values{
		"product_permalink": {licenseProductPermalink},
		"license_key":       {key},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, licenseVerifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return LicenseProfile{}, fmt.Errorf("building license verification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := &http.Client{Timeout: licenseVerifyTimeout}
	resp, err := client.Do(req)
	if err != nil {
		return LicenseProfile{}, fmt.Errorf("license verification request failed: %w", err)
	}
	defer resp.Body.Close()

	var body struct {
		Success  bool           `json:"success"`
		Message  string         `json:"message"`
		Purchase LicenseProfile `json:"purchase"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return LicenseProfile{}, fmt.Errorf("decoding license verification response: %w", err)
	}
	if !body.Success {
		if body.Message == "" {
			body.Message = "license key rejected"
		}
		return LicenseProfile{}, fmt.Errorf("invalid license: %s", body.Message)
	}
	if body.Purchase.Refunded {
		return LicenseProfile{}, fmt.Errorf("invalid license: purchase was refunded")
	}
	return body.Purchase, nil
}
