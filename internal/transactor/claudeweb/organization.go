package claudeweb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/relaymux/llmgate/internal/credential"
	"github.com/relaymux/llmgate/internal/httpadapter"
)

// Organization is one Claude.ai organization entry from the
// /api/organizations listing.
type Organization struct {
	UUID string `json:"uuid"`
	Name string `json:"name"`
	IsFree bool `json:"is_free"`
	IsDisabled bool `json:"is_disabled"`
	IsBanned bool `json:"is_banned"`
	CapabilityRO []string `json:"capabilities"`
}

func (o Organization) hasCapability(name string) bool {
	for _, c := range o.CapabilityRO {
		if c == name {
			return true
		}
	}
	return false
}

// eligible reports whether o can be used: never when disabled or banned,
// not when skipFree is set and o is free, and not when requireChat is set
// and o lacks the "chat" capability. Restricted status is not checked.
func (o Organization) eligible(skipFree, requireChat bool) bool {
	if o.IsDisabled || o.IsBanned {
		return false
	}
	if skipFree && o.IsFree {
		return false
	}
	if requireChat && !o.hasCapability("chat") {
		return false
	}
	return true
}

// capabilityFlags translates the organization's capability strings into the
// rotation policy's skip-* attributes (see spec §4.B), cached on the
// credential after each dispatch so the resource manager's lease path never
// needs its own upstream round trip.
func (o Organization) capabilityFlags() credential.CapabilityFlags {
	return credential.CapabilityFlags{
		NonPro: o.IsFree,
		NormalPro: o.hasCapability("claude_pro") && !o.hasCapability("claude_team") && !o.hasCapability("claude_enterprise"),
		Restricted: o.hasCapability("restricted"),
		FirstWarning: o.hasCapability("moderation_first_warning"),
		SecondWarning: o.hasCapability("moderation_second_warning"),
		RateLimited: o.hasCapability("rate_limited"),
	}
}

// discoverOrganization lists organizations for the leased cookie and picks
// the first eligible one: "list organizations; pick one
// whose capability flags satisfy config."
func discoverOrganization(ctx context.Context, adapter *httpadapter.Adapter, credentialID, sessionToken string, skipFree bool) (*Organization, error) {
	resp, err := adapter.Send(ctx, credentialID, httpadapter.Request{
			Method: http.MethodGet,
			BaseURL: defaultBaseURL,
			Path: "/api/organizations",
			Headers: cookieHeaders(sessionToken),
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

	var orgs []Organization
	if err := json.Unmarshal(data, &orgs); err != nil {
		return nil, fmt.Errorf("claudeweb: decode organizations: %w", err)
	}
	for _, org := range orgs {
		if org.eligible(skipFree, true) {
			o := org
			return &o, nil
		}
	}
	return nil, fmt.Errorf("claudeweb: no eligible organization")
}

type upstreamError struct {
	status int
	body []byte
}

func (e *upstreamError) Error() string {
	return fmt.Sprintf("claudeweb: upstream status %d: %s", e.status, string(e.body))
}

func (e *upstreamError) StatusCode() int { return e.status }
func (e *upstreamError) Body() []byte { return e.body }
