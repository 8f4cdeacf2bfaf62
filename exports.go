package nightfall

import "github.com/nightfallai/nightfall-go-sdk/internal"

// HTTPDoer is the transport the client sends requests through. *http.Client satisfies it.
type HTTPDoer = internal.Doer

// StatusError is returned when the service answers outside the 2xx range and the body is not a
// recognizable API error.
type StatusError = internal.StatusError
