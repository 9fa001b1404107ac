package auth

import (
	"strconv"
	"time"

	"github.com/valyala/fasttemplate"
)

const promptTemplate = "To authorize, open [uri] and enter code [code] " +
	"(expires in [minutes] min)."

// DeviceGrant is what the user needs to approve a pending
// session.
type DeviceGrant struct {
	UserCode        string    `json:"user_code"`
	VerificationURI string    `json:"verification_uri"`
	ExpiresAt       time.Time `json:"expires_at"`
	// Interval is the current poll interval.
	Interval time.Duration `json:"-"`

	deviceCode string
}

// Prompt renders the instruction shown to the user.
// Minutes are counted from now and never go below zero.
func (g DeviceGrant) Prompt(now time.Time) string {
	left := max(g.ExpiresAt.Sub(now), 0)

	return fasttemplate.ExecuteString(
		promptTemplate, "[", "]",
		map[string]any{
			"uri":     g.VerificationURI,
			"code":    g.UserCode,
			"minutes": strconv.Itoa(int(left.Round(time.Minute) / time.Minute)),
		},
	)
}
