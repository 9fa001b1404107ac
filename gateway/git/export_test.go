package git

import "context"

// IsMissingUpstreamForTest exposes isMissingUpstream.
var IsMissingUpstreamForTest = isMissingUpstream

// ParseStatusForTest exposes parseStatus.
var ParseStatusForTest = parseStatus

// WithCredentialForTest exposes withCredential.
func (r *Repo) WithCredentialForTest(
	ctx context.Context,
	token string,
	fn func() error,
) error {
	return r.withCredential(ctx, token, fn)
}
