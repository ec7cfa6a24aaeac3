package client

import (
	"encoding/base64"
)

// BasicCredentials returns the Basic authorization value for the token
// exchange: base64 of "key:secret".
func BasicCredentials(consumerKey, consumerSecret string) string {
	return base64.StdEncoding.EncodeToString([]byte(consumerKey + ":" + consumerSecret))
}

// tokenResponse is the body of a successful token exchange.
type tokenResponse struct {
	TokenType   string  `json:"token_type"`
	AccessToken *string `json:"access_token"`
}
