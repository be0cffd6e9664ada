package imports

import (
	"context"
)

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

func (s *Service) Get(ctx context.Context, req GetImportRequest) (*ImportSummary, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	imp, err := s.repo.GetImport(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	n, err := s.repo.CountCandles(ctx, imp.ID)
	if err != nil {
		return nil, err
	}
	return &ImportSummary{Import: *imp, Candles: n}, nil
}

func (s *Service) List(ctx context.Context) ([]ImportSummary, error) {
	list, err := s.repo.ListImports(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]ImportSummary, 0, len(list))
	for _, imp := range list {
		n, err := s.repo.CountCandles(ctx, imp.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, ImportSummary{Import: imp, Candles: n})
	}
	return out, nil
}

// Candles returns the stored candles of an import, oldest first.
func (s *Service) Candles(ctx context.Context, req ListCandlesRequest) ([]Candle, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.repo.GetImport(ctx, req.ImportID); err != nil {
		return nil, err
	}
	return s.repo.ListCandles(ctx, req.ImportID)
}
