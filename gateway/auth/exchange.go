package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"
	"golang.org/x/oauth2"

	"github.com/byte4ever/repogate/gateway/errs"
)

const deviceGrantType = "urn:ietf:params:oauth:grant-type:device_code"

// Device flow error codes returned by the token endpoint.
const (
	codePending   = "authorization_pending"
	codeSlowDown  = "slow_down"
	codeExpired   = "expired_token"
	codeDenied    = "access_denied"
	maxBodyLength = 1 << 20
)

// tokenResponse is the token endpoint body. Providers
// report pending states either with HTTP 200 (GitHub) or
// 400 (GitLab); both carry an error code.
type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	Scope            string `json:"scope"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// exchange performs a single device code token request.
// The returned error is transport-level or an
// *errs.UpstreamError for unparseable answers.
func exchange(
	ctx context.Context,
	client *http.Client,
	tokenURL string,
	clientID string,
	deviceCode string,
) (*tokenResponse, error) {
	const errCtx = "exchanging device code"

	form := url.Values{
		"client_id":   {clientID},
		"device_code": {deviceCode},
		"grant_type":  {deviceGrantType},
	}

	req, err := http.NewRequestWithContext(
		ctx, http.MethodPost, tokenURL,
		strings.NewReader(form.Encode()),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, err)
	}

	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyLength))
	if err != nil {
		return nil, fmt.Errorf("%s: reading body: %w", errCtx, err)
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, fmt.Errorf("%s: %w", errCtx, &errs.UpstreamError{
			Status:  resp.StatusCode,
			Message: strings.TrimSpace(string(body)),
		})
	}

	if tr.AccessToken == "" && tr.Error == "" {
		return nil, fmt.Errorf("%s: %w", errCtx, &errs.UpstreamError{
			Status:  resp.StatusCode,
			Message: "response carries neither token nor error",
		})
	}

	return &tr, nil
}

// rejection converts a device authorization failure into an
// *errs.UpstreamError when the platform answered.
func rejection(err error) error {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return err
	}

	ue := &errs.UpstreamError{
		Code:    re.ErrorCode,
		Message: re.ErrorDescription,
	}

	if re.Response != nil {
		ue.Status = re.Response.StatusCode
	}

	if ue.Code == "" {
		var tr tokenResponse
		if json.Unmarshal(re.Body, &tr) == nil {
			ue.Code = tr.Error
			ue.Message = tr.ErrorDescription
		}
	}

	if ue.Code == "" && ue.Message == "" {
		ue.Message = strings.TrimSpace(string(re.Body))
	}

	return ue
}
