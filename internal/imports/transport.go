package imports

import (
	"fmt"
	"strings"

	"github.com/ahmethakanbesel/candle-backfill/internal/apperror"
)

type RunImportRequest struct {
	Name        string
	Product     string
	Datapoints  int
	Granularity int
}

func (r RunImportRequest) Validate() *apperror.AppError {
	if strings.TrimSpace(r.Name) == "" {
		return apperror.Wrap(apperror.BadRequest, ErrMissingName, "name is required")
	}
	if strings.TrimSpace(r.Product) == "" {
		return apperror.Wrap(apperror.BadRequest, ErrMissingProduct, "product is required")
	}
	if !ValidGranularity(r.Granularity) {
		return apperror.Wrap(apperror.BadRequest, ErrInvalidGranularity,
			fmt.Sprintf("granularity must be one of %v, got %d", Granularities, r.Granularity))
	}
	if r.Datapoints <= 0 {
		return apperror.Wrap(apperror.BadRequest, ErrInvalidDatapoints,
			fmt.Sprintf("datapoints must be positive, got %d", r.Datapoints))
	}
	return nil
}

type GetImportRequest struct {
	ID int64
}

func (r GetImportRequest) Validate() *apperror.AppError {
	if r.ID <= 0 {
		return apperror.New(apperror.BadRequest, "invalid import id")
	}
	return nil
}

type ListCandlesRequest struct {
	ImportID int64
}

func (r ListCandlesRequest) Validate() *apperror.AppError {
	if r.ImportID <= 0 {
		return apperror.New(apperror.BadRequest, "invalid import id")
	}
	return nil
}
