//go:build !onnx

package onnx

import "errors"

// ErrNativeUnavailable indicates the ONNX Runtime backend is not compiled
// in. Build with -tags onnx to enable it.
var ErrNativeUnavailable = errors.New("onnx: backend not available (build without -tags onnx)")

// Tagger is an unusable placeholder when built without the onnx tag.
type Tagger struct{}

// NewTagger always fails when built without the onnx tag.
func NewTagger(_, _ string, _ int) (*Tagger, error) {
	return nil, ErrNativeUnavailable
}

// Score always fails; Tagger cannot be constructed without the onnx tag.
func (t *Tagger) Score(_ []float32) (float64, error) {
	return 0, ErrNativeUnavailable
}

// Close is a no-op.
func (t *Tagger) Close() {}

// Classifier is an unusable placeholder when built without the onnx tag.
type Classifier struct{}

// NewClassifier always fails when built without the onnx tag.
func NewClassifier(_, _ string, _ int, _ []string) (*Classifier, error) {
	return nil, ErrNativeUnavailable
}

// Score always fails; Classifier cannot be constructed without the onnx tag.
func (c *Classifier) Score(_ []float32, _ int, _, _, _ []string) (map[string]float64, error) {
	return nil, ErrNativeUnavailable
}

// Close is a no-op.
func (c *Classifier) Close() {}

// Embedder is an unusable placeholder when built without the onnx tag.
type Embedder struct{}

// NewEmbedder always fails when built without the onnx tag.
func NewEmbedder(_, _ string, _, _ int) (*Embedder, error) {
	return nil, ErrNativeUnavailable
}

// Embed always fails; Embedder cannot be constructed without the onnx tag.
func (e *Embedder) Embed(_ []float32, _ int) ([]float32, error) {
	return nil, ErrNativeUnavailable
}

// Close is a no-op.
func (e *Embedder) Close() {}
