// Package sms delivers one-time passcodes through a JSON HTTP gateway.
package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type Client struct {
	endpoint   string
	apiKey     string
	senderID   string
	httpClient *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

func NewClient(endpoint, apiKey, senderID string, opts ...Option) *Client {
	c := &Client{
		endpoint:   endpoint,
		apiKey:     apiKey,
		senderID:   senderID,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Configured reports whether a gateway endpoint and key are set.
func (c *Client) Configured() bool {
	return c.endpoint != "" && c.apiKey != ""
}

type message struct {
	Sender  string `json:"sender"`
	To      string `json:"to"`
	Message string `json:"message"`
}

// SendOTP texts the verification code to phone (E.164).
func (c *Client) SendOTP(ctx context.Context, phone, code string) error {
	if !c.Configured() {
		return fmt.Errorf("sms client not configured: missing endpoint or api key")
	}

	payload := message{
		Sender:  c.senderID,
		To:      phone,
		Message: fmt.Sprintf("%s is your booth survey verification code. It expires in 5 minutes.", code),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal sms: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send sms: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("sms gateway error: status %d", resp.StatusCode)
	}
	return nil
}
