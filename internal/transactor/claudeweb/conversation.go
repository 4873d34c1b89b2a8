package claudeweb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/relaymux/llmgate/internal/httpadapter"
)

// ConversationState is the per-conversation state machine: Created ->
// Streaming -> Done | Failed; terminal states trigger cleanup exactly once.
type ConversationState string

const (
	ConversationCreated ConversationState = "created"
	ConversationStreaming ConversationState = "streaming"
	ConversationDone ConversationState = "done"
	ConversationFailed ConversationState = "failed"
)

var auditBucket = []byte("claudeweb_conversations")

// AuditTrail persists, best-effort, the latest lifecycle transition of each
// conversation to bbolt (bolt.Open with a timeout, bucket created if
// absent). Records are keyed by conversation UUID, so each transition
// overwrites the previous one; earlier transitions are not kept.
type AuditTrail struct {
	path string
	mu sync.Mutex
}

// NewAuditTrail opens (creating if absent) the bbolt file at path.
func NewAuditTrail(path string) (*AuditTrail, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	defer db.Close()
	if err := db.Update(func(tx *bolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(auditBucket)
			return err
		}); err != nil {
		return nil, err
	}
	return &AuditTrail{path: path}, nil
}

// Record is one stored transition.
type Record struct {
	ConversationID string `json:"conversation_id"`
	CredentialID string `json:"credential_id"`
	State ConversationState `json:"state"`
	UpdatedAt time.Time `json:"updated_at"`
	Err string `json:"error,omitempty"`
}

func (t *AuditTrail) record(rec Record) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	db, err := bolt.Open(t.path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return err
	}
	defer db.Close()
	enc, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return db.Update(func(tx *bolt.Tx) error {
			b := tx.Bucket(auditBucket)
			return b.Put([]byte(rec.ConversationID), enc)
		})
}

// Conversation owns the lifecycle of one Claude.ai web conversation: it
// guarantees the DELETE cleanup call runs exactly once regardless of which
// exit path (success, error, panic-recovered-by-caller) ends the request,
// "terminal states trigger cleanup exactly once."
type Conversation struct {
	UUID string
	CredentialID string
	SessionToken string
	OrgUUID string

	adapter *httpadapter.Adapter
	audit *AuditTrail
	preserve bool

	mu sync.Mutex
	state ConversationState
	cleaned bool
}

// Create issues the POST that allocates a new conversation UUID.
func Create(ctx context.Context, adapter *httpadapter.Adapter, audit *AuditTrail, credentialID, sessionToken, orgUUID string, preserveChats bool) (*Conversation, error) {
	resp, err := adapter.Send(ctx, credentialID, httpadapter.Request{
			Method: http.MethodPost,
			BaseURL: defaultBaseURL,
			Path: fmt.Sprintf("/api/organizations/%s/chat_conversations", orgUUID),
			Headers: cookieHeaders(sessionToken),
			Body: jsonBody(map[string]any{"name": "", "uuid": ""}),
		})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &upstreamError{status: resp.StatusCode, body: data}
	}
	var parsed struct {
		UUID string `json:"uuid"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("claudeweb: decode conversation create: %w", err)
	}

	c := &Conversation{
		UUID: parsed.UUID,
		CredentialID: credentialID,
		SessionToken: sessionToken,
		OrgUUID: orgUUID,
		adapter: adapter,
		audit: audit,
		preserve: preserveChats,
		state: ConversationCreated,
	}
	c.transition(ctx, ConversationCreated, nil)
	return c, nil
}

// Streaming marks the conversation as actively streaming.
func (c *Conversation) Streaming(ctx context.Context) {
	c.transition(ctx, ConversationStreaming, nil)
}

func (c *Conversation) transition(ctx context.Context, state ConversationState, cause error) {
	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
	if c.audit == nil {
		return
	}
	rec := Record{ConversationID: c.UUID, CredentialID: c.CredentialID, State: state, UpdatedAt: time.Now().UTC()}
	if cause != nil {
		rec.Err = cause.Error()
	}
	_ = c.audit.record(rec)
}

// Finish transitions to Done or Failed and performs the DELETE cleanup
// exactly once, unless preserveChats was requested.
func (c *Conversation) Finish(ctx context.Context, cause error) error {
	c.mu.Lock()
	if c.cleaned {
		c.mu.Unlock()
		return nil
	}
	c.cleaned = true
	c.mu.Unlock()

	final := ConversationDone
	if cause != nil {
		final = ConversationFailed
	}
	c.transition(ctx, final, cause)

	if c.preserve {
		return nil
	}
	resp, err := c.adapter.Send(ctx, c.CredentialID, httpadapter.Request{
			Method: http.MethodDelete,
			BaseURL: defaultBaseURL,
			Path: fmt.Sprintf("/api/organizations/%s/chat_conversations/%s", c.OrgUUID, c.UUID),
			Headers: cookieHeaders(c.SessionToken),
		})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
