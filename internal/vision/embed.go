package vision

import (
	"fmt"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/eventfaces/internal/embedding"
)

const (
	embInputSize  = 112
	embDimension  = 512
	embInputName  = "input.1"
	embOutputName = "683"
)

// Embedder runs ArcFace (w600k_r50) over aligned face crops. Like Detector it
// owns its tensors and is not safe for concurrent use.
type Embedder struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

// NewEmbedder loads the embedding model. opts may be nil.
func NewEmbedder(modelPath string, opts *ort.SessionOptions) (*Embedder, error) {
	e := &Embedder{}

	var err error
	e.input, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 3, embInputSize, embInputSize))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}
	e.output, err = ort.NewEmptyTensor[float32](ort.NewShape(1, embDimension))
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("create output tensor: %w", err)
	}

	e.session, err = ort.NewAdvancedSession(modelPath,
		[]string{embInputName}, []string{embOutputName},
		[]ort.Value{e.input}, []ort.Value{e.output},
		opts,
	)
	if err != nil {
		e.Close()
		return nil, fmt.Errorf("create embedder session: %w", err)
	}
	return e, nil
}

// Embed returns the unit-length embedding of a CHW face crop produced by
// preprocessForEmbedding.
func (e *Embedder) Embed(chw []float32) (embedding.Embedding, error) {
	copy(e.input.GetData(), chw)
	if err := e.session.Run(); err != nil {
		return nil, fmt.Errorf("run embedding: %w", err)
	}

	out := make(embedding.Embedding, embDimension)
	copy(out, e.output.GetData())
	embedding.Normalize(out)
	return out, nil
}

func (e *Embedder) Close() {
	if e.session != nil {
		e.session.Destroy()
	}
	if e.input != nil {
		e.input.Destroy()
	}
	if e.output != nil {
		e.output.Destroy()
	}
}
