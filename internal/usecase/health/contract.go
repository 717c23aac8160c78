package health

import "context"

// TagsFetcher lists the installed models. Success means the inference service is up.
type TagsFetcher interface {
	Tags(ctx context.Context) (any, error)
}

// ModelProber sends a trivial prompt to one model. Nil means the model answered 200.
type ModelProber interface {
	ProbeModel(ctx context.Context, model string) error
}

// VersionFetcher reports the inference service version.
type VersionFetcher interface {
	Version(ctx context.Context) (string, error)
}

// Upstream is everything the prober needs from the inference client.
type Upstream interface {
	TagsFetcher
	ModelProber
	VersionFetcher
}

// statusCoder is implemented by upstream errors that carry an HTTP status.
type statusCoder interface {
	HTTPStatusCode() int
}
