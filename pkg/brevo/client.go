/**
 * @description
 * This package provides a client for Brevo's transactional email API, used to
 * deliver coupon codes to approved reviewers. It builds the branded HTML body,
 * posts it to /v3/smtp/email with the account key, and surfaces non-2xx
 * responses as errors so callers can record the failure for follow-up.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */

package brevo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"time"
)

const defaultBaseURL = "https://api.brevo.com"

// Client is a client for the Brevo transactional email API.
type Client struct {
	BaseURL     string
	APIKey      string
	SenderEmail string
	SenderName  string
	BrandName   string
	HTTPClient  *http.Client
}

// NewClient creates a new Brevo client.
func NewClient(apiKey, senderEmail, senderName, brandName string) *Client {
	if senderName == "" {
		senderName = brandName
	}
	return &Client{
		BaseURL:     defaultBaseURL,
		APIKey:      apiKey,
		SenderEmail: senderEmail,
		SenderName:  senderName,
		BrandName:   brandName,
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type party struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sendEmailRequest struct {
	Sender      party   `json:"sender"`
	To          []party `json:"to"`
	Subject     string  `json:"subject"`
	HTMLContent string  `json:"htmlContent"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SendCouponEmail delivers the coupon notification to one recipient.
func (c *Client) SendCouponEmail(ctx context.Context, toEmail, toName, couponCode string) error {
	subject := fmt.Sprintf("[%s] Your review reward coupon", c.BrandName)
	return c.send(ctx, toEmail, toName, subject, buildCouponHTML(c.BrandName, couponCode))
}

func (c *Client) send(ctx context.Context, toEmail, toName, subject, htmlBody string) error {
	if c.APIKey == "" || c.SenderEmail == "" {
		return fmt.Errorf("brevo client is not configured")
	}
	if toEmail == "" {
		return fmt.Errorf("recipient email is empty")
	}

	payload := sendEmailRequest{
		Sender:      party{Email: c.SenderEmail, Name: c.SenderName},
		To:          []party{{Email: toEmail, Name: toName}},
		Subject:     subject,
		HTMLContent: htmlBody,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal email payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v3/smtp/email", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create email request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute email request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		var errResp errorResponse
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Message != "" {
			return fmt.Errorf("brevo send failed (status %d): %s", resp.StatusCode, errResp.Message)
		}
		return fmt.Errorf("brevo send failed (status %d)", resp.StatusCode)
	}
	return nil
}

// buildCouponHTML renders the coupon email body. The coupon is valid for 60
// days from delivery, shown at the next booking.
func buildCouponHTML(brand, couponCode string) string {
	return fmt.Sprintf(`<div style="font-family:Segoe UI,Helvetica,Arial,sans-serif;line-height:1.7;color:#222">
<p>Thank you for sharing your experience!</p>
<p>Here is your reward coupon code:</p>
<p style="font-size:18px"><strong>%s</strong></p>
<p>Present it at your next booking to redeem (valid for 60 days).</p>
<p>%s</p>
</div>`, html.EscapeString(couponCode), html.EscapeString(brand))
}
