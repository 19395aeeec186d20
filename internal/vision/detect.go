package vision

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	ort "github.com/yalue/onnxruntime_go"
)

// Detection is one face found by the detector.
type Detection struct {
	BBox       [4]float32 // x1, y1, x2, y2 in source pixels
	Confidence float32
	Landmarks  [5][2]float32
}

func (d Detection) width() float32  { return d.BBox[2] - d.BBox[0] }
func (d Detection) height() float32 { return d.BBox[3] - d.BBox[1] }

// Detector runs RetinaFace (det_10g) through ONNX Runtime. A Detector owns
// its tensors and is not safe for concurrent use.
type Detector struct {
	session   *ort.AdvancedSession
	input     *ort.Tensor[float32]
	outputs   []*ort.Tensor[float32]
	threshold float32
	inputW    int
	inputH    int
}

const (
	detInputSize     = 640
	anchorsPerCell   = 2
	nmsIoUThreshold  = 0.4
	detInputName     = "input.1"
	landmarkChannels = 10
)

var detStrides = []int{8, 16, 32}

// det_10g has no batch dimension on its outputs. Rows per stride are
// (640/stride)^2 * 2 anchors.
var detOutputs = []struct {
	name string
	cols int64
}{
	{"448", 1}, {"471", 1}, {"494", 1}, // scores
	{"451", 4}, {"474", 4}, {"497", 4}, // boxes
	{"454", landmarkChannels}, {"477", landmarkChannels}, {"500", landmarkChannels},
}

// NewDetector loads the detection model. opts may be nil.
func NewDetector(modelPath string, threshold float32, opts *ort.SessionOptions) (*Detector, error) {
	d := &Detector{threshold: threshold, inputW: detInputSize, inputH: detInputSize}

	var err error
	d.input, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(d.inputH), int64(d.inputW)))
	if err != nil {
		return nil, fmt.Errorf("create input tensor: %w", err)
	}

	names := make([]string, len(detOutputs))
	values := make([]ort.Value, len(detOutputs))
	for i, out := range detOutputs {
		stride := detStrides[i%len(detStrides)]
		rows := int64((d.inputW / stride) * (d.inputH / stride) * anchorsPerCell)
		t, err := ort.NewEmptyTensor[float32](ort.NewShape(rows, out.cols))
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("create output tensor %s: %w", out.name, err)
		}
		names[i] = out.name
		values[i] = t
		d.outputs = append(d.outputs, t)
	}

	d.session, err = ort.NewAdvancedSession(modelPath,
		[]string{detInputName}, names,
		[]ort.Value{d.input}, values,
		opts,
	)
	if err != nil {
		d.Close()
		return nil, fmt.Errorf("create detector session: %w", err)
	}
	return d, nil
}

// Detect runs the model on a CHW input produced by preprocessForDetection and
// returns faces in srcW x srcH coordinates, best first.
func (d *Detector) Detect(chw []float32, srcW, srcH int) ([]Detection, error) {
	copy(d.input.GetData(), chw)
	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("run detection: %w", err)
	}
	return nms(d.decode(srcW, srcH), nmsIoUThreshold), nil
}

// decode turns the anchor-relative outputs into boxes above the threshold.
func (d *Detector) decode(srcW, srcH int) []Detection {
	var out []Detection

	scaleW := float32(srcW) / float32(d.inputW)
	scaleH := float32(srcH) / float32(d.inputH)
	n := len(detStrides)

	for si, stride := range detStrides {
		scores := d.outputs[si].GetData()
		boxes := d.outputs[si+n].GetData()
		marks := d.outputs[si+2*n].GetData()
		st := float32(stride)

		idx := 0
		for cy := 0; cy < d.inputH/stride; cy++ {
			for cx := 0; cx < d.inputW/stride; cx++ {
				for a := 0; a < anchorsPerCell; a, idx = a+1, idx+1 {
					if scores[idx] < d.threshold {
						continue
					}
					ax, ay := float32(cx)*st, float32(cy)*st

					det := Detection{
						BBox: [4]float32{
							clampF((ax-boxes[idx*4+0]*st)*scaleW, 0, float32(srcW)),
							clampF((ay-boxes[idx*4+1]*st)*scaleH, 0, float32(srcH)),
							clampF((ax+boxes[idx*4+2]*st)*scaleW, 0, float32(srcW)),
							clampF((ay+boxes[idx*4+3]*st)*scaleH, 0, float32(srcH)),
						},
						Confidence: scores[idx],
					}
					for li := 0; li < 5; li++ {
						det.Landmarks[li][0] = (ax + marks[idx*landmarkChannels+li*2]*st) * scaleW
						det.Landmarks[li][1] = (ay + marks[idx*landmarkChannels+li*2+1]*st) * scaleH
					}
					out = append(out, det)
				}
			}
		}
	}
	return out
}

func (d *Detector) Close() {
	if d.session != nil {
		d.session.Destroy()
	}
	if d.input != nil {
		d.input.Destroy()
	}
	for _, t := range d.outputs {
		t.Destroy()
	}
}

// nms keeps the most confident box of every overlapping group. The result is
// ordered by descending confidence.
func nms(dets []Detection, iouThreshold float32) []Detection {
	slices.SortStableFunc(dets, func(a, b Detection) int {
		return cmp.Compare(b.Confidence, a.Confidence)
	})

	kept := dets[:0:0]
	for _, d := range dets {
		suppressed := false
		for _, k := range kept {
			if iou(k.BBox, d.BBox) > iouThreshold {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, d)
		}
	}
	return kept
}

func iou(a, b [4]float32) float32 {
	x1 := max(a[0], b[0])
	y1 := max(a[1], b[1])
	x2 := min(a[2], b[2])
	y2 := min(a[3], b[3])

	inter := max(0, x2-x1) * max(0, y2-y1)
	union := (a[2]-a[0])*(a[3]-a[1]) + (b[2]-b[0])*(b[3]-b[1]) - inter
	if union <= 0 || math.IsNaN(float64(union)) {
		return 0
	}
	return inter / union
}

func clampF(v, lo, hi float32) float32 {
	return min(max(v, lo), hi)
}
