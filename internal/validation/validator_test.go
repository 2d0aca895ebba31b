package validation

import (
	"errors"
	"testing"

	"github.com/animehub/backend/internal/anime"
)

type pageQuery struct {
	Page     int    `json:"page" validate:"gte=1"`
	PageSize int    `json:"pageSize" validate:"gte=1,lte=50"`
	Sort     string `json:"sort,omitempty" validate:"omitempty,oneof=popular recent"`
}

func TestValidateAcceptsValidStruct(t *testing.T) {
	if err := New().Validate(pageQuery{Page: 1, PageSize: 20}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestValidateReportsJSONFieldName(t *testing.T) {
	err := New().Validate(pageQuery{Page: 1, PageSize: 51})
	if !errors.Is(err, anime.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	var vErr *anime.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected *anime.ValidationError, got %T", err)
	}
	if vErr.Field != "pageSize" || vErr.Message != "must be at most 50" {
		t.Fatalf("unexpected error detail: %+v", vErr)
	}
}

func TestValidateReportsFirstFailingField(t *testing.T) {
	err := New().Validate(pageQuery{Page: 0, PageSize: 0, Sort: "random"})
	var vErr *anime.ValidationError
	if !errors.As(err, &vErr) || vErr.Field != "page" {
		t.Fatalf("expected page to be reported first, got %v", err)
	}
}
