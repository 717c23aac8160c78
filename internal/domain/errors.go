package domain

import "errors"

var (
	// ErrUpstreamUnavailable signals a transport failure or non-2xx status from the inference service.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrMalformedFragment signals a stream line that is not a JSON object.
	ErrMalformedFragment = errors.New("malformed stream fragment")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
	// ErrDocumentProcessing signals a failure while extracting, indexing or querying a document.
	ErrDocumentProcessing = errors.New("document processing failed")
	// ErrNoDocuments signals that nothing could be extracted from the scratch directory.
	ErrNoDocuments = errors.New("no documents found")
	// ErrUnsupportedFormat signals a file the loader cannot turn into text.
	ErrUnsupportedFormat = errors.New("unsupported file format")
	// ErrVectorDimMismatch signals vectors of different length in one index.
	ErrVectorDimMismatch = errors.New("vector dimension mismatch")
)
