// Package yolo counts vehicles with a YOLOv5 ONNX model through the OpenCV DNN
// module.
package yolo

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/natefinch/lumberjack"
	"golang.org/x/xerrors"
	"gocv.io/x/gocv"

	"github.com/khaledhikmat/traffic-go/model"
	"github.com/khaledhikmat/traffic-go/service/capture"
	"github.com/khaledhikmat/traffic-go/service/capture/cv"
	"github.com/khaledhikmat/traffic-go/service/config"
	"github.com/khaledhikmat/traffic-go/service/inference"
	"github.com/khaledhikmat/traffic-go/service/lgr"
)

const inputSize = 640

var vehicleClasses = map[string]bool{
	"car":        true,
	"truck":      true,
	"bus":        true,
	"motorcycle": true,
	"motorbike":  true,
	"bicycle":    true,
}

var (
	boxColor  = color.RGBA{R: 0, G: 255, B: 0, A: 0}
	textColor = color.RGBA{R: 255, G: 255, B: 255, A: 0}
)

type detection struct {
	Label      string          `json:"label"`
	Confidence float32         `json:"confidence"`
	Rect       image.Rectangle `json:"rect"`
}

type yoloService struct {
	dir    model.Direction
	params config.DetectorParameters
	labels []string
	net    gocv.Net
	log    *lumberjack.Logger
}

// NewFactory returns a factory that loads one network per lane. The DNN net is
// not safe for concurrent use so lanes never share one.
func NewFactory(cfgsvc config.IService) inference.Factory {
	return func(dir model.Direction) (inference.IService, error) {
		return New(cfgsvc, dir)
	}
}

func New(cfgsvc config.IService, dir model.Direction) (inference.IService, error) {
	params := cfgsvc.GetDetectorParameters()

	if _, err := os.Stat(params.ModelPath); err != nil {
		return nil, xerrors.Errorf("yolo5 model %s: %w", params.ModelPath, err)
	}

	labels, err := loadLabels(params.CocoNamesPath)
	if err != nil {
		return nil, err
	}

	net := gocv.ReadNet(params.ModelPath, "")
	if net.Empty() {
		return nil, xerrors.Errorf("error reading yolo5 model %s", params.ModelPath)
	}

	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		net.Close()
		return nil, xerrors.Errorf("error setting backend: %w", err)
	}

	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		net.Close()
		return nil, xerrors.Errorf("error setting target: %w", err)
	}

	svc := &yoloService{
		dir:    dir,
		params: params,
		labels: labels,
		net:    net,
	}

	if params.Logging {
		svc.log = &lumberjack.Logger{
			Filename:   fmt.Sprintf("%s/detections-%s.log", cfgsvc.GetDataFolder(), dir),
			MaxSize:    10, // MB
			MaxBackups: 5,
			MaxAge:     7, // days
			Compress:   true,
		}
	}

	lgr.Logger.Info("yolo5 detector ready",
		slog.String("direction", string(dir)),
		slog.String("model", params.ModelPath),
		slog.String("openCV", gocv.Version()),
	)

	return svc, nil
}

func (svc *yoloService) Detect(ctx context.Context, frame capture.Frame) (inference.Result, error) {
	f, ok := frame.(*cv.Frame)
	if !ok {
		return inference.Result{}, xerrors.Errorf("unsupported frame type %T: %w", frame, model.ErrDetector)
	}
	if f.Mat.Empty() {
		return inference.Result{}, xerrors.Errorf("empty frame: %w", model.ErrDetector)
	}
	if err := ctx.Err(); err != nil {
		return inference.Result{}, err
	}

	detections, err := svc.infer(f.Mat)
	if err != nil {
		return inference.Result{}, err
	}

	annotate(&f.Mat, detections)
	svc.logDetections(detections)

	return inference.Result{
		Count:     len(detections),
		Annotated: frame,
	}, nil
}

func (svc *yoloService) Close() error {
	if svc.log != nil {
		svc.log.Close()
	}
	return svc.net.Close()
}

func (svc *yoloService) infer(img gocv.Mat) (dets []detection, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = xerrors.Errorf("recovered from panic: %v: %w", r, model.ErrDetector)
		}
	}()

	blob := gocv.BlobFromImage(img, 1.0/255.0, image.Pt(inputSize, inputSize), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	svc.net.SetInput(blob, "")

	output := svc.net.Forward("")
	defer output.Close()

	dims := output.Size()
	if len(dims) != 3 {
		return nil, xerrors.Errorf("unexpected DNN output dims %v: %w", dims, model.ErrDetector)
	}

	reshaped := output.Reshape(1, dims[1])
	defer reshaped.Close()
	if reshaped.Empty() || reshaped.Rows() == 0 || reshaped.Cols() < 5 {
		return nil, xerrors.Errorf("invalid DNN output shape: %w", model.ErrDetector)
	}

	xFactor := float32(img.Cols()) / inputSize
	yFactor := float32(img.Rows()) / inputSize

	var candidates []detection
	for i := 0; i < reshaped.Rows(); i++ {
		row := reshaped.RowRange(i, i+1)
		data, rowErr := row.DataPtrFloat32()
		if rowErr != nil || len(data) < 5 {
			row.Close()
			continue
		}

		if d, ok := svc.extract(data, xFactor, yFactor); ok {
			candidates = append(candidates, d)
		}
		row.Close()
	}

	if len(candidates) == 0 {
		return nil, nil
	}

	rects := make([]image.Rectangle, len(candidates))
	scores := make([]float32, len(candidates))
	for i, c := range candidates {
		rects[i] = c.Rect
		scores[i] = c.Confidence
	}

	indices := gocv.NMSBoxes(rects, scores, svc.params.ConfidenceThreshold, svc.params.NMSThreshold)
	dets = make([]detection, 0, len(indices))
	for _, i := range indices {
		dets = append(dets, candidates[i])
	}
	return dets, nil
}

// extract decodes one output row: cx, cy, w, h, objectness, class scores.
func (svc *yoloService) extract(data []float32, xFactor, yFactor float32) (detection, bool) {
	objectConfidence := data[4]
	if objectConfidence < svc.params.ObjectConfidenceThreshold {
		return detection{}, false
	}

	classScores := data[5:]
	if len(classScores) != len(svc.labels) {
		return detection{}, false
	}

	classID := -1
	classConfidence := float32(0.0)
	for j, score := range classScores {
		if !vehicleClasses[svc.labels[j]] {
			continue
		}
		if score > classConfidence {
			classConfidence = score
			classID = j
		}
	}

	finalConf := objectConfidence * classConfidence
	if classID == -1 || finalConf < svc.params.ConfidenceThreshold {
		return detection{}, false
	}

	cx := data[0] * xFactor
	cy := data[1] * yFactor
	w := data[2] * xFactor
	h := data[3] * yFactor
	x := int(cx - w/2)
	y := int(cy - h/2)

	return detection{
		Label:      svc.labels[classID],
		Confidence: finalConf,
		Rect:       image.Rect(x, y, x+int(w), y+int(h)),
	}, true
}

func annotate(img *gocv.Mat, detections []detection) {
	for _, d := range detections {
		gocv.Rectangle(img, d.Rect, boxColor, 2)
		gocv.PutText(img, fmt.Sprintf("%s %.2f", d.Label, d.Confidence),
			image.Pt(d.Rect.Min.X, d.Rect.Min.Y-5), gocv.FontHersheySimplex, 0.5, boxColor, 1)
	}
	gocv.PutText(img, fmt.Sprintf("Vehicles: %d", len(detections)),
		image.Pt(20, 40), gocv.FontHersheySimplex, 1.0, textColor, 2)
}

func (svc *yoloService) logDetections(detections []detection) {
	if svc.log == nil || len(detections) == 0 {
		return
	}

	entry := map[string]interface{}{
		"time":       time.Now().Format(time.RFC3339),
		"direction":  svc.dir,
		"detections": detections,
	}

	jsonData, err := json.Marshal(entry)
	if err != nil {
		lgr.Logger.Warn("error marshaling detections", slog.Any("error", err))
		return
	}

	if _, err := svc.log.Write(append(jsonData, '\n')); err != nil {
		lgr.Logger.Warn("error writing to detection log file", slog.Any("error", err))
	}
}

func loadLabels(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Errorf("reading class names %s: %w", path, err)
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	labels := make([]string, len(lines))
	for i, l := range lines {
		labels[i] = strings.ToLower(strings.TrimSpace(l))
	}
	return labels, nil
}
