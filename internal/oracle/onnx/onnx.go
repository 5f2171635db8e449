//go:build onnx

// Package onnx wraps github.com/yalue/onnxruntime_go to provide real
// Tagger and Classifier backends for the gate chain. Build with -tags onnx
// once a runtime shared library and exported model files are available;
// without the tag, NewTagger/NewClassifier return ErrNativeUnavailable and
// the gate chain falls back to its fail-open/default behavior.
package onnx

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

func initRuntime(libPath string) error {
	ortInitOnce.Do(func() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		ortInitErr = ort.InitializeEnvironment()
	})
	return ortInitErr
}

// Tagger runs a single-input/single-output ONNX session producing one
// scalar score per call, used as the gate chain's audio-tagger backend.
type Tagger struct {
	session     *ort.AdvancedSession
	inputTensor *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	windowSize  int
}

// NewTagger loads an ONNX model expecting a single [1, windowSize] float32
// input and a single scalar-ish float32 output (the dog/bark score).
func NewTagger(libPath, modelPath string, windowSize int) (*Tagger, error) {
	if err := initRuntime(libPath); err != nil {
		return nil, fmt.Errorf("onnx: initialize runtime: %w", err)
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(windowSize)))
	if err != nil {
		return nil, fmt.Errorf("onnx: create tagger input tensor: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("onnx: create tagger output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{"input"},
		[]string{"output"},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("onnx: create tagger session: %w", err)
	}

	return &Tagger{session: session, inputTensor: inputTensor, outputTensor: outputTensor, windowSize: windowSize}, nil
}

// Score runs inference on mono16k, which is truncated/zero-padded to the
// tagger's configured window size.
func (t *Tagger) Score(mono16k []float32) (float64, error) {
	data := t.inputTensor.GetData()
	for i := range data {
		if i < len(mono16k) {
			data[i] = mono16k[i]
		} else {
			data[i] = 0
		}
	}

	if err := t.session.Run(); err != nil {
		return 0, fmt.Errorf("onnx: tagger inference: %w", err)
	}
	return float64(t.outputTensor.GetData()[0]), nil
}

// Close releases the session and tensors. Safe to call once.
func (t *Tagger) Close() {
	if t.session != nil {
		t.session.Destroy()
	}
	if t.inputTensor != nil {
		t.inputTensor.Destroy()
	}
	if t.outputTensor != nil {
		t.outputTensor.Destroy()
	}
}

// Classifier runs a single-input/multi-output ONNX session producing one
// score per configured label, used as the gate chain's zero-shot
// classifier backend. The label ordering must match the model's export
// ordering; callers supply it via labels.
type Classifier struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	labels       []string
	windowSize   int
}

// NewClassifier loads an ONNX model expecting a single [1, windowSize]
// float32 input and a [1, len(labels)] float32 output of per-label scores.
func NewClassifier(libPath, modelPath string, windowSize int, labels []string) (*Classifier, error) {
	if err := initRuntime(libPath); err != nil {
		return nil, fmt.Errorf("onnx: initialize runtime: %w", err)
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(windowSize)))
	if err != nil {
		return nil, fmt.Errorf("onnx: create classifier input tensor: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(len(labels))))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("onnx: create classifier output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{"input"},
		[]string{"output"},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("onnx: create classifier session: %w", err)
	}

	return &Classifier{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		labels:       append([]string(nil), labels...),
		windowSize:   windowSize,
	}, nil
}

// Score runs inference on window and returns a map from configured label
// to its score. positiveLabels/negativeLabels/birdLabels are accepted to
// satisfy oracle.Classifier but are not used directly: the model's own
// export ordering already encodes which labels are which, and the caller
// (gate.Chain) partitions the returned map using the same label
// lists it was configured with.
func (c *Classifier) Score(window []float32, _ int, _, _, _ []string) (map[string]float64, error) {
	data := c.inputTensor.GetData()
	for i := range data {
		if i < len(window) {
			data[i] = window[i]
		} else {
			data[i] = 0
		}
	}

	if err := c.session.Run(); err != nil {
		return nil, fmt.Errorf("onnx: classifier inference: %w", err)
	}

	out := c.outputTensor.GetData()
	scores := make(map[string]float64, len(c.labels))
	for i, label := range c.labels {
		if i < len(out) {
			scores[label] = float64(out[i])
		}
	}
	return scores, nil
}

// Close releases the session and tensors. Safe to call once.
func (c *Classifier) Close() {
	if c.session != nil {
		c.session.Destroy()
	}
	if c.inputTensor != nil {
		c.inputTensor.Destroy()
	}
	if c.outputTensor != nil {
		c.outputTensor.Destroy()
	}
}

// Embedder runs a single-input/single-output ONNX session producing a
// fixed-length contrastive embedding, used as the fingerprint matcher's
// embedding backend.
type Embedder struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	windowSize   int
	embeddingDim int
}

// NewEmbedder loads an ONNX model expecting a single [1, windowSize]
// float32 input and a [1, embeddingDim] float32 output.
func NewEmbedder(libPath, modelPath string, windowSize, embeddingDim int) (*Embedder, error) {
	if err := initRuntime(libPath); err != nil {
		return nil, fmt.Errorf("onnx: initialize runtime: %w", err)
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(windowSize)))
	if err != nil {
		return nil, fmt.Errorf("onnx: create embedder input tensor: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(embeddingDim)))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("onnx: create embedder output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(
		modelPath,
		[]string{"input"},
		[]string{"output"},
		[]ort.Value{inputTensor},
		[]ort.Value{outputTensor},
		nil,
	)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("onnx: create embedder session: %w", err)
	}

	return &Embedder{session: session, inputTensor: inputTensor, outputTensor: outputTensor, windowSize: windowSize, embeddingDim: embeddingDim}, nil
}

// Embed runs inference on window, truncated/zero-padded to the embedder's
// configured window size, and returns a copy of the raw output vector. The
// caller (fingerprint matcher) is responsible for L2-normalization.
func (e *Embedder) Embed(window []float32, _ int) ([]float32, error) {
	data := e.inputTensor.GetData()
	for i := range data {
		if i < len(window) {
			data[i] = window[i]
		} else {
			data[i] = 0
		}
	}

	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("onnx: embedder inference: %w", err)
	}

	out := e.outputTensor.GetData()
	embedding := make([]float32, len(out))
	copy(embedding, out)
	return embedding, nil
}

// Close releases the session and tensors. Safe to call once.
func (e *Embedder) Close() {
	if e.session != nil {
		e.session.Destroy()
	}
	if e.inputTensor != nil {
		e.inputTensor.Destroy()
	}
	if e.outputTensor != nil {
		e.outputTensor.Destroy()
	}
}
