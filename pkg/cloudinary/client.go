/**
 * @description
 * This package provides a client for Cloudinary's signed image upload API. It
 * encapsulates parameter signing (SHA-1 over the sorted parameter string plus
 * the API secret), multipart form construction, and response parsing. The
 * upload applies a normalization transformation (auto quality/format, width
 * cap, profile stripping) so stored URLs are already web-sized.
 *
 * @dependencies
 * - bytes, context, crypto/sha1, mime/multipart, net/http: Standard Go libraries.
 */

package cloudinary

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Client is a client for the Cloudinary upload API.
type Client struct {
	CloudName  string
	APIKey     string
	APISecret  string
	Folder     string
	MaxWidth   int
	HTTPClient *http.Client

	// now is swappable for tests.
	now func() time.Time
}

// NewClient creates a new Cloudinary client.
func NewClient(cloudName, apiKey, apiSecret, folder string, maxWidth int) *Client {
	if folder == "" {
		folder = "ugc"
	}
	if maxWidth <= 0 {
		maxWidth = 1600
	}
	return &Client{
		CloudName: cloudName,
		APIKey:    apiKey,
		APISecret: apiSecret,
		Folder:    folder,
		MaxWidth:  maxWidth,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		now: time.Now,
	}
}

// uploadResponse is the subset of Cloudinary's upload response we consume.
type uploadResponse struct {
	SecureURL string `json:"secure_url"`
	PublicID  string `json:"public_id"`
}

// errorResponse is Cloudinary's error envelope.
type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Upload sends raw image bytes to Cloudinary and returns the durable URL.
func (c *Client) Upload(ctx context.Context, image []byte) (string, error) {
	if c.CloudName == "" || c.APIKey == "" || c.APISecret == "" {
		return "", fmt.Errorf("cloudinary client is not configured")
	}
	if len(image) == 0 {
		return "", fmt.Errorf("image payload is empty")
	}

	params := map[string]string{
		"timestamp":      strconv.FormatInt(c.now().Unix(), 10),
		"folder":         c.Folder,
		"transformation": fmt.Sprintf("q_auto,f_auto,w_%d,fl_strip_profile", c.MaxWidth),
	}
	signature := signParams(params, c.APISecret)

	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	for k, v := range params {
		if err := form.WriteField(k, v); err != nil {
			return "", fmt.Errorf("failed to write form field %s: %w", k, err)
		}
	}
	if err := form.WriteField("api_key", c.APIKey); err != nil {
		return "", fmt.Errorf("failed to write api key field: %w", err)
	}
	if err := form.WriteField("signature", signature); err != nil {
		return "", fmt.Errorf("failed to write signature field: %w", err)
	}
	part, err := form.CreateFormFile("file", "upload")
	if err != nil {
		return "", fmt.Errorf("failed to create file part: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return "", fmt.Errorf("failed to write image bytes: %w", err)
	}
	if err := form.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize form: %w", err)
	}

	url := fmt.Sprintf("https://api.cloudinary.com/v1_1/%s/image/upload", c.CloudName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &buf)
	if err != nil {
		return "", fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", form.FormDataContentType())

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to execute upload request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read upload response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp errorResponse
		if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
			return "", fmt.Errorf("cloudinary upload failed (status %d): %s", resp.StatusCode, errResp.Error.Message)
		}
		return "", fmt.Errorf("cloudinary upload failed (status %d)", resp.StatusCode)
	}

	var success uploadResponse
	if err := json.Unmarshal(body, &success); err != nil {
		return "", fmt.Errorf("failed to decode upload response: %w", err)
	}
	if success.SecureURL == "" {
		return "", fmt.Errorf("cloudinary upload returned no secure_url")
	}
	return success.SecureURL, nil
}

// signParams computes the request signature: SHA-1 over the sorted k=v pairs
// joined with '&', with the API secret appended. Empty values are excluded.
func signParams(params map[string]string, secret string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+params[k])
	}
	sum := sha1.Sum([]byte(strings.Join(pairs, "&") + secret))
	return hex.EncodeToString(sum[:])
}
