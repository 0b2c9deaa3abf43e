package backend

import (
	"context"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

// RequestID stamps each outgoing request with a unique X-Request-ID so
// backend logs can be correlated with client-side failures.
func RequestID() RequestInterceptor {
	return func(_ context.Context, req *Request) error {
		if req.Header == nil {
			req.Header = http.Header{}
		}
		if req.Header.Get("X-Request-ID") == "" {
			req.Header.Set("X-Request-ID", uuid.New().String())
		}
		return nil
	}
}

// UserAgent sets a stable User-Agent identifying the client version.
func UserAgent(version string) RequestInterceptor {
	return func(_ context.Context, req *Request) error {
		if req.Header == nil {
			req.Header = http.Header{}
		}
		req.Header.Set("User-Agent", "docdeck/"+version)
		return nil
	}
}

// FriendlyErrors rewrites low-level failures into messages fit for
// direct display, keeping the kind tag and cause intact.
func FriendlyErrors() ErrorInterceptor {
	return func(_ context.Context, _ *Request, err *Error) *Error {
		switch err.Kind {
		case KindNetwork:
			err.Message = "backend unreachable — check that the server is running"
		case KindTimeout:
			err.Message = fmt.Sprintf("request timed out after %dms — the server may still be working", err.Elapsed.Milliseconds())
		}
		return err
	}
}
