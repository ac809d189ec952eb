package service

import (
	"context"

	"mediaguard/internal/biz"
	"mediaguard/internal/pkg/moderator"
)

// AdminService exposes record listing and index maintenance.
type AdminService struct {
	uc *biz.ModerationUsecase
}

// NewAdminService creates a new AdminService.
func NewAdminService(uc *biz.ModerationUsecase) *AdminService {
	return &AdminService{uc: uc}
}

// ListRecords lists stored records, newest first.
func (s *AdminService) ListRecords(ctx context.Context, in *ListRecordsRequest) (*ListRecordsResponse, error) {
	ct := in.ContentType
	if ct == "" {
		ct = string(moderator.ContentImage)
	}
	page, err := s.uc.ListRecords(ctx, ct, in.Cursor, in.Limit)
	if err != nil {
		return nil, err
	}

	records := make([]*RecordEntry, len(page.Items))
	for i, r := range page.Items {
		fps := make([]string, len(r.Fingerprints))
		for j, fp := range r.Fingerprints {
			fps[j] = fp.String()
		}
		records[i] = &RecordEntry{
			ID:           r.ID,
			ContentType:  string(r.ContentType),
			Fingerprints: fps,
			SourceURL:    r.SourceURL,
			Decision:     string(r.Decision),
			Labels:       r.Labels,
			CreatedAt:    r.CreatedAt,
		}
	}
	return &ListRecordsResponse{
		Records:    records,
		NextCursor: page.NextCursor,
		HasMore:    page.HasMore,
		Total:      page.Total,
	}, nil
}

// RebuildIndex repopulates the band pre-filter from the store.
func (s *AdminService) RebuildIndex(ctx context.Context, _ *RebuildIndexRequest) (*RebuildIndexResponse, error) {
	n, err := s.uc.RebuildIndex(ctx)
	if err != nil {
		return &RebuildIndexResponse{
			Success: false,
			Message: err.Error(),
		}, nil
	}
	return &RebuildIndexResponse{
		Success: true,
		Message: "Band pre-filter rebuilt successfully",
		Keys:    n,
	}, nil
}
