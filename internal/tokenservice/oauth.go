package tokenservice

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"

	"github.com/relaymux/llmgate/internal/credential"
)

// OAuthRefresher builds a Refresher for an OAuthCred using the standard
// refresh_token grant.
func OAuthRefresher(cred *credential.Credential, tokenURL string) Refresher {
	return func(ctx context.Context) (Token, error) {
		if cred.RefreshToken == "" {
			return Token{}, fmt.Errorf("tokenservice: credential %s has no refresh token", cred.ID)
		}
		conf := &oauth2.Config{
			ClientID: cred.ClientID,
			ClientSecret: cred.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL: tokenURL,
			},
		}
		src := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken})
		tok, err := src.Token()
		if err != nil {
			return Token{}, fmt.Errorf("tokenservice: oauth refresh for %s: %w", cred.ID, err)
		}
		if tok.RefreshToken != "" {
			cred.RefreshToken = tok.RefreshToken
		}
		return Token{AccessToken: tok.AccessToken, Expiry: tok.Expiry}, nil
	}
}
