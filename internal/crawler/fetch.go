package crawler

import (
	"context"
	"errors"
)

// Get issues request through f and returns the body of a 2xx response.
// Any other outcome is reported as a *TransportError.
func Get(ctx context.Context, f Fetcher, request FetchRequest) ([]byte, error) {
	resp, err := f.Fetch(ctx, request)
	if err != nil {
		var te *TransportError
		if errors.As(err, &te) {
			return nil, err
		}
		return nil, &TransportError{URL: request.URL, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &TransportError{URL: request.URL, StatusCode: resp.StatusCode, Err: ErrTransport}
	}
	return resp.Body, nil
}
