package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"watchparty/internal/protocol"
	"watchparty/internal/rooms"
)

// apiClient talks to the relay's REST surface.
type apiClient struct {
	baseURL string
	http    *http.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *apiClient) CreateRoom(ctx context.Context, displayName, videoID string) (*rooms.Session, error) {
	var session rooms.Session
	body := map[string]string{"displayName": displayName, "videoId": videoID}
	if err := c.post(ctx, "/api/rooms", body, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (c *apiClient) JoinRoom(ctx context.Context, roomID, displayName string) (*rooms.Session, error) {
	var session rooms.Session
	body := map[string]string{"displayName": displayName}
	if err := c.post(ctx, "/api/rooms/"+url.PathEscape(roomID)+"/join", body, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func (c *apiClient) post(ctx context.Context, path string, body, out interface{}) error {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBuffer(jsonData))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		var apiErr struct {
			Data protocol.ErrorPayload `json:"data"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Data.Code != "" {
			return fmt.Errorf("%s: %s (%d)", apiErr.Data.Code, apiErr.Data.Message, resp.StatusCode)
		}
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
