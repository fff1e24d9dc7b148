package inference

import (
	"context"

	"github.com/khaledhikmat/traffic-go/model"
	"github.com/khaledhikmat/traffic-go/service/capture"
)

type fakeService struct {
	count int
}

// NewFake returns a detector that reports a constant count and passes the
// frame through unannotated.
func NewFake(count int) IService {
	return &fakeService{
		count: count,
	}
}

func NewFakeFactory(count int) Factory {
	return func(_ model.Direction) (IService, error) {
		return NewFake(count), nil
	}
}

func (svc *fakeService) Detect(_ context.Context, frame capture.Frame) (Result, error) {
	return Result{
		Count:     svc.count,
		Annotated: frame,
	}, nil
}

func (svc *fakeService) Close() error {
	return nil
}
