// Package cv implements the capture contract on top of OpenCV.
package cv

import (
	"image"
	"log/slog"
	"strconv"

	"golang.org/x/xerrors"
	"gocv.io/x/gocv"

	"github.com/khaledhikmat/traffic-go/model"
	"github.com/khaledhikmat/traffic-go/service/capture"
	"github.com/khaledhikmat/traffic-go/service/config"
	"github.com/khaledhikmat/traffic-go/service/lgr"
)

// Frame wraps a gocv.Mat so detectors built on OpenCV can reach the pixels.
type Frame struct {
	Mat gocv.Mat
}

func (f *Frame) Close() error {
	return f.Mat.Close()
}

type cvService struct {
	CfgSvc config.IService
}

func New(cfgsvc config.IService) capture.IService {
	return &cvService{
		CfgSvc: cfgsvc,
	}
}

func (svc *cvService) Open(addr model.SourceAddress) (capture.Source, error) {
	var (
		vc  *gocv.VideoCapture
		err error
	)

	if addr.Mode == model.Live {
		// Numeric targets are local camera devices, anything else is a URL.
		if id, convErr := strconv.Atoi(addr.Target); convErr == nil {
			vc, err = gocv.OpenVideoCapture(id)
		} else {
			vc, err = gocv.OpenVideoCapture(addr.Target)
		}
	} else {
		vc, err = gocv.VideoCaptureFile(addr.Target)
	}

	if err != nil {
		return nil, xerrors.Errorf("open %s: %v: %w", addr, err, model.ErrSourceUnavailable)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, xerrors.Errorf("open %s: not opened: %w", addr, model.ErrSourceUnavailable)
	}

	w, h := svc.CfgSvc.GetFrameSize()
	lgr.Logger.Debug("capture source opened",
		slog.String("address", addr.String()),
		slog.String("openCV", gocv.Version()),
	)

	return &source{
		addr: addr,
		vc:   vc,
		size: image.Pt(w, h),
	}, nil
}

func (svc *cvService) Encode(frame capture.Frame) ([]byte, error) {
	f, ok := frame.(*Frame)
	if !ok {
		return nil, xerrors.Errorf("encode: unsupported frame type %T", frame)
	}
	if f.Mat.Empty() {
		return nil, xerrors.New("encode: empty frame")
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, f.Mat)
	if err != nil {
		return nil, xerrors.Errorf("encode: %w", err)
	}
	defer buf.Close()

	// The native buffer is released on Close so the bytes must be copied out.
	src := buf.GetBytes()
	out := make([]byte, len(src))
	copy(out, src)
	return out, nil
}

type source struct {
	addr model.SourceAddress
	vc   *gocv.VideoCapture
	size image.Point
}

func (s *source) Address() model.SourceAddress {
	return s.addr
}

func (s *source) Read() (capture.Frame, error) {
	img := gocv.NewMat()
	if ok := s.vc.Read(&img); !ok || img.Empty() {
		img.Close() // Crucial to close the image to avoid memory leaks
		if s.addr.Mode == model.Simulation {
			return nil, model.ErrEndOfStream
		}
		return nil, xerrors.Errorf("read %s: %w", s.addr, model.ErrRead)
	}

	if img.Cols() == s.size.X && img.Rows() == s.size.Y {
		return &Frame{Mat: img}, nil
	}

	resized := gocv.NewMat()
	gocv.Resize(img, &resized, s.size, 0, 0, gocv.InterpolationLinear)
	img.Close()
	if resized.Empty() {
		resized.Close()
		return nil, xerrors.Errorf("resize %s: %w", s.addr, model.ErrRead)
	}
	return &Frame{Mat: resized}, nil
}

func (s *source) SeekStart() error {
	if s.addr.Mode != model.Simulation {
		return xerrors.Errorf("seek %s: live sources cannot rewind: %w", s.addr, model.ErrSeek)
	}
	s.vc.Set(gocv.VideoCapturePosFrames, 0)
	if !s.vc.IsOpened() {
		return xerrors.Errorf("seek %s: %w", s.addr, model.ErrSeek)
	}
	return nil
}

func (s *source) Close() error {
	return s.vc.Close()
}
