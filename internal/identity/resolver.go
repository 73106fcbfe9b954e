package identity

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"OracleMon/internal/errkind"

	"github.com/rs/zerolog"
)

// Resolver converts a sender public key into a human-readable ledger
// address. Resolution is best-effort: the public key stays authoritative
// and a failed lookup leaves the identity empty.
type Resolver interface {
	Resolve(publicKey [32]byte) (string, error)
}

// HTTPResolver asks an explorer endpoint to derive the address.
type HTTPResolver struct {
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

// NewHTTPResolver creates a resolver against baseURL
// (GET {baseURL}/v1/identities/{hex-public-key}).
func NewHTTPResolver(baseURL string, logger zerolog.Logger) *HTTPResolver {
	return &HTTPResolver{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 5 * time.Second},
		logger:  logger,
	}
}

// Resolve looks up the address for one public key. Failures are classified
// as external and never fatal to the caller.
func (r *HTTPResolver) Resolve(publicKey [32]byte) (string, error) {
	url := fmt.Sprintf("%s/v1/identities/%s", r.baseURL, hex.EncodeToString(publicKey[:]))

	resp, err := r.client.Get(url)
	if err != nil {
		return "", errkind.Wrap(errkind.External, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errkind.Newf(errkind.External, "identity lookup returned %d", resp.StatusCode)
	}

	var body struct {
		Identity string `json:"identity"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", errkind.Wrap(errkind.External, err)
	}
	return body.Identity, nil
}
