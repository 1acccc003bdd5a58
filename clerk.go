package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ClerkClient talks to the identity provider's backend API
type ClerkClient struct {
	baseURL     string
	secretKey   string
	metadataKey string
	httpClient  *http.Client
}

type metadataUpdate struct {
	PublicMetadata map[string]string `json:"public_metadata"`
}

// NewClerkClient creates a client for the backend API at baseURL.
// metadataKey is the public metadata field the local id is stored under.
func NewClerkClient(baseURL, secretKey, metadataKey string, httpClient *http.Client) *ClerkClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &ClerkClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		secretKey:   secretKey,
		metadataKey: metadataKey,
		httpClient:  httpClient,
	}
}

// SetLocalID stores localID in the public metadata of the provider user externalID.
// The provider merges metadata, so other keys are left untouched.
func (c *ClerkClient) SetLocalID(ctx context.Context, externalID, localID string) error {
	payload, err := json.Marshal(metadataUpdate{
		PublicMetadata: map[string]string{c.metadataKey: localID},
	})
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	endpoint := c.baseURL + "/users/" + url.PathEscape(externalID) + "/metadata"
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.secretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("metadata request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("metadata request returned status %d: %s", resp.StatusCode, string(body))
	}

	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
