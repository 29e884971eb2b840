// Package api is the client for the marketplace's messaging REST endpoints.
// It is the durable path: conversation history, message sends that must
// outlive the live transport, read state, and presence lookups.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"talanta/internal/auth"
	"talanta/internal/models"
)

const requestTimeout = 15 * time.Second

type Client struct {
	baseURL string
	http    *http.Client
	tokens  auth.TokenSource
}

func NewClient(baseURL string, tokens auth.TokenSource) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: requestTimeout},
		tokens:  tokens,
	}
}

// GetConversation loads the history between two users. The backend has
// shipped two response shapes for this endpoint: a conversation object
// with a messages array, and a bare messages array. Both normalize to the
// same Conversation; a bare array has no id (zero).
func (c *Client) GetConversation(ctx context.Context, userA, userB int64) (models.Conversation, error) {
	q := url.Values{}
	q.Set("userId1", strconv.FormatInt(userA, 10))
	q.Set("userId2", strconv.FormatInt(userB, 10))

	body, err := c.do(ctx, http.MethodGet, "/messages/conversation?"+q.Encode(), nil)
	if err != nil {
		return models.Conversation{}, err
	}

	return NormalizeConversation(body)
}

// NormalizeConversation structurally detects which response shape the
// server produced and converts either into a Conversation.
func NormalizeConversation(body []byte) (models.Conversation, error) {
	trimmed := bytes.TrimLeft(body, " \t\r\n")
	if len(trimmed) == 0 {
		return models.Conversation{}, nil
	}

	if trimmed[0] == '[' {
		var msgs []models.Message
		if err := json.Unmarshal(trimmed, &msgs); err != nil {
			return models.Conversation{}, fmt.Errorf("decode messages array: %w", err)
		}
		return models.Conversation{Messages: msgs}, nil
	}

	var conv struct {
		ConversationID int64            `json:"conversationId"`
		ID             int64            `json:"id"`
		Messages       []models.Message `json:"messages"`
	}
	if err := json.Unmarshal(trimmed, &conv); err != nil {
		return models.Conversation{}, fmt.Errorf("decode conversation: %w", err)
	}

	convID := conv.ConversationID
	if convID == 0 {
		convID = conv.ID
	}
	return models.Conversation{ID: convID, Messages: conv.Messages}, nil
}

// SendMessage persists a message and returns the server's copy, with the
// real id and timestamp, for reconciliation against the optimistic entry.
func (c *Client) SendMessage(ctx context.Context, senderID, receiverID int64, text string) (models.Message, error) {
	payload, err := json.Marshal(map[string]any{
		"senderId":   senderID,
		"receiverId": receiverID,
		"text":       text,
	})
	if err != nil {
		return models.Message{}, err
	}

	body, err := c.do(ctx, http.MethodPost, "/messages/send", payload)
	if err != nil {
		return models.Message{}, err
	}

	var msg models.Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return models.Message{}, fmt.Errorf("decode sent message: %w", err)
	}
	return msg, nil
}

// MarkMessagesRead persists read state for a conversation. The endpoint is
// idempotent; marking already-read messages again is a no-op server-side.
func (c *Client) MarkMessagesRead(ctx context.Context, conversationID, readerID int64) error {
	q := url.Values{}
	q.Set("conversationId", strconv.FormatInt(conversationID, 10))
	q.Set("readerId", strconv.FormatInt(readerID, 10))

	_, err := c.do(ctx, http.MethodPut, "/messages/read?"+q.Encode(), nil)
	return err
}

// UpdateUserStatus publishes the user's presence to the durable store.
func (c *Client) UpdateUserStatus(ctx context.Context, userID int64, status models.Status) error {
	path := fmt.Sprintf("/messages/status/%d?status=%s", userID, status)
	_, err := c.do(ctx, http.MethodPut, path, nil)
	return err
}

// GetUserStatus reads a user's presence, for the initial render before any
// broadcast arrives.
func (c *Client) GetUserStatus(ctx context.Context, userID int64) (models.PresenceStatus, error) {
	body, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/messages/status/%d", userID), nil)
	if err != nil {
		return models.PresenceStatus{}, err
	}

	var ps models.PresenceStatus
	if err := json.Unmarshal(body, &ps); err != nil {
		return models.PresenceStatus{}, fmt.Errorf("decode user status: %w", err)
	}
	if ps.UserID == 0 {
		ps.UserID = userID
	}
	return ps, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("build %s %s: %w", method, path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s %s response: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apiError(method, path, resp.StatusCode, data)
	}

	return data, nil
}

func apiError(method, path string, status int, body []byte) error {
	var e struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &e) == nil && e.Message != "" {
		return fmt.Errorf("%s %s: %s (status %d)", method, path, e.Message, status)
	}
	return fmt.Errorf("%s %s: unexpected status %d", method, path, status)
}
