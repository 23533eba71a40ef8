package testhelpers

import (
	"encoding/base64"
	"fmt"
)

// GenerateTestJWT creates an unsigned JWT (alg: none) for use when verification is disabled.
// An empty azureToken omits the azure_at claim.
func GenerateTestJWT(sub, audience, azureToken string) string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))

	payload := fmt.Sprintf(`{"sub":%q`, sub)
	if audience != "" {
		payload += fmt.Sprintf(`,"aud":%q`, audience)
	}
	if azureToken != "" {
		payload += fmt.Sprintf(`,"azure_at":%q`, azureToken)
	}
	payload += "}"

	return fmt.Sprintf("%s.%s.", header, base64.RawURLEncoding.EncodeToString([]byte(payload)))
}

// GenerateTestJWTWithBearer returns the token with a "Bearer " prefix for the Authorization header.
func GenerateTestJWTWithBearer(sub, audience, azureToken string) string {
	return "Bearer " + GenerateTestJWT(sub, audience, azureToken)
}
