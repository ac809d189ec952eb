package service

import (
	"context"

	"mediaguard/internal/biz"
	"mediaguard/internal/pkg/moderator"

	"github.com/go-kratos/kratos/v2/errors"
)

// ModerationService exposes the media analyses.
type ModerationService struct {
	uc *biz.ModerationUsecase
}

// NewModerationService creates a new ModerationService.
func NewModerationService(uc *biz.ModerationUsecase) *ModerationService {
	return &ModerationService{uc: uc}
}

// AnalyseImage checks an image for harmful or previously seen content.
func (s *ModerationService) AnalyseImage(ctx context.Context, in *AnalyseImageRequest) (*moderator.Result, error) {
	return s.uc.AnalyseImage(ctx, in.ImageURL)
}

// AnalyseVideo checks a video for harmful or previously seen content.
func (s *ModerationService) AnalyseVideo(ctx context.Context, in *AnalyseVideoRequest) (*moderator.Result, error) {
	return s.uc.AnalyseVideo(ctx, in.VideoURL)
}

// AnalyseImages checks several images at once.
func (s *ModerationService) AnalyseImages(ctx context.Context, in *AnalyseImagesRequest) (*AnalyseImagesResponse, error) {
	entries, err := s.uc.AnalyseImages(ctx, in.ImageURLs)
	if err != nil {
		return nil, err
	}
	out := &AnalyseImagesResponse{Results: make([]*BatchResult, len(entries))}
	for i, e := range entries {
		out.Results[i] = &BatchResult{Result: e.Result}
		if e.Err != nil {
			out.Results[i].Error = toErrorStatus(e.Err)
		}
	}
	return out, nil
}

func toErrorStatus(err error) *ErrorStatus {
	se := errors.FromError(err)
	return &ErrorStatus{
		Code:     se.Code,
		Reason:   se.Reason,
		Message:  se.Message,
		Metadata: se.Metadata,
	}
}
