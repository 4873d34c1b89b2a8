package gemini

import (
	"context"
	"fmt"
	"net/http"

	"github.com/relaymux/llmgate/internal/credential"
	"github.com/relaymux/llmgate/internal/tokenservice"
)

const vertexCloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// VertexConfig configures region/publisher endpoint selection, per
// : "endpoint varies by region and publisher."
type VertexConfig struct {
	Locations map[string]string // model -> region, e.g. "gemini-1.5-pro" -> "us-central1"
	Publisher string // default "google"
}

func (v VertexConfig) publisher() string {
	if v.Publisher == "" {
		return "google"
	}
	return v.Publisher
}

func (v VertexConfig) locationFor(model string) string {
	if loc, ok := v.Locations[model]; ok {
		return loc
	}
	return "us-central1"
}

// vertexDispatch builds the region/publisher-qualified Vertex AI endpoint
// and refreshes a service-account bearer token, using the same JWT-signed
// exchange via golang.org/x/oauth2/google as the upstream API-key path,
// adapted from a single global endpoint to per-model region selection.
func (t *Transactor) vertexDispatch(ctx context.Context, cred *credential.Credential, model, action string) (baseURL, path string, headers http.Header, err error) {
	accessToken, err := t.Tokens.Acquire(ctx, cred.ID, tokenservice.VertexRefresher(&http.Client{}, cred, vertexCloudPlatformScope))
	if err != nil {
		return "", "", nil, fmt.Errorf("gemini: vertex token: %w", err)
	}
	location := t.Vertex.locationFor(model)
	baseURL = fmt.Sprintf("https://%s-aiplatform.googleapis.com", location)
	path = fmt.Sprintf("/v1/projects/%s/locations/%s/publishers/%s/models/%s:%s",
		cred.ProjectID, location, t.Vertex.publisher(), model, action)
	headers = http.Header{
		"Content-Type": {"application/json"},
		"Authorization": {"Bearer " + accessToken},
	}
	return baseURL, path, headers, nil
}
