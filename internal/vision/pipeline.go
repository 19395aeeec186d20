package vision

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"runtime"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/your-org/eventfaces/internal/embedding"
	"github.com/your-org/eventfaces/internal/observability"
)

const (
	detectorModel = "det_10g.onnx"
	embedderModel = "w600k_r50.onnx"
)

// Options configures a Pipeline.
type Options struct {
	ModelsDir          string
	DetectionThreshold float32
	// Sessions is the number of model pairs loaded; it bounds how many
	// images are processed at once.
	Sessions int
	// MinFaceSize drops detections narrower or shorter than this many
	// source pixels.
	MinFaceSize float32
}

type session struct {
	det *Detector
	emb *Embedder
}

func (s *session) close() {
	if s.det != nil {
		s.det.Close()
	}
	if s.emb != nil {
		s.emb.Close()
	}
}

// Pipeline turns image bytes into one embedding per detected face. It is safe
// for concurrent use; callers queue for a free session.
type Pipeline struct {
	sessions chan *session
	all      []*session
	minFace  float32
}

// NewPipeline loads opts.Sessions detector/embedder pairs from opts.ModelsDir.
// The ONNX Runtime environment must already be initialised.
func NewPipeline(opts Options) (*Pipeline, error) {
	if opts.Sessions <= 0 {
		opts.Sessions = 1
	}
	if opts.DetectionThreshold <= 0 {
		opts.DetectionThreshold = 0.5
	}

	detPath := filepath.Join(opts.ModelsDir, detectorModel)
	embPath := filepath.Join(opts.ModelsDir, embedderModel)

	p := &Pipeline{
		sessions: make(chan *session, opts.Sessions),
		minFace:  opts.MinFaceSize,
	}

	for i := 0; i < opts.Sessions; i++ {
		s := &session{}
		var err error

		slog.Info("loading detection model", "path", detPath, "session", i)
		if s.det, err = NewDetector(detPath, opts.DetectionThreshold, nil); err != nil {
			p.Close()
			return nil, fmt.Errorf("load detector: %w", err)
		}
		slog.Info("loading embedding model", "path", embPath, "session", i)
		if s.emb, err = NewEmbedder(embPath, nil); err != nil {
			s.close()
			p.Close()
			return nil, fmt.Errorf("load embedder: %w", err)
		}

		p.all = append(p.all, s)
		p.sessions <- s
	}

	slog.Info("vision pipeline ready", "sessions", opts.Sessions)
	return p, nil
}

// Extract detects every face in the image and embeds each one. Faces are
// returned by descending detection confidence; an image without faces yields
// an empty slice and no error.
func (p *Pipeline) Extract(ctx context.Context, data []byte) ([]embedding.Embedding, error) {
	img, err := decodeImage(data)
	if err != nil {
		return nil, err
	}

	var s *session
	select {
	case s = <-p.sessions:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { p.sessions <- s }()

	b := img.Bounds()
	start := time.Now()
	dets, err := s.det.Detect(preprocessForDetection(img, s.det.inputW, s.det.inputH), b.Dx(), b.Dy())
	if err != nil {
		return nil, err
	}
	observability.StageDuration.WithLabelValues("detect").Observe(time.Since(start).Seconds())

	dets = filterSmall(dets, p.minFace)
	faces := make([]embedding.Embedding, 0, len(dets))
	for _, d := range dets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		crop := cropFace(img, d.BBox)
		if crop == nil {
			continue
		}

		start = time.Now()
		e, err := s.emb.Embed(preprocessForEmbedding(crop, embInputSize, embInputSize))
		if err != nil {
			return nil, fmt.Errorf("embed face: %w", err)
		}
		observability.StageDuration.WithLabelValues("embed").Observe(time.Since(start).Seconds())
		faces = append(faces, e)
	}
	return faces, nil
}

// Close releases every ONNX session. The pipeline must not be used after.
func (p *Pipeline) Close() {
	for _, s := range p.all {
		s.close()
	}
	p.all = nil
}

func filterSmall(dets []Detection, minSize float32) []Detection {
	if minSize <= 0 {
		return dets
	}
	out := dets[:0]
	for _, d := range dets {
		if d.width() >= minSize && d.height() >= minSize {
			out = append(out, d)
		}
	}
	return out
}

// InitRuntime loads the ONNX Runtime shared library. libPath may be empty to
// use the platform default name.
func InitRuntime(libPath string) error {
	if libPath == "" {
		libPath = defaultLibPath()
	}
	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("init onnx runtime (%s): %w", libPath, err)
	}
	return nil
}

// DestroyRuntime tears down the environment set up by InitRuntime.
func DestroyRuntime() {
	if err := ort.DestroyEnvironment(); err != nil {
		slog.Warn("destroy onnx runtime", "error", err)
	}
}

func defaultLibPath() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "libonnxruntime.so"
	}
}
