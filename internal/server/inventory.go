package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"giftline/internal/domain"
	"giftline/internal/engine"
)

func registerInventory(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-gifts",
		Method:      http.MethodGet,
		Path:        "/gifts",
		Summary:     "List finished goods",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Gift `json:"body"`
	}, error) {
		scope, authErr := scopeFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListGifts(ctx, scope)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body []domain.Gift `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-recipe",
		Method:      http.MethodGet,
		Path:        "/gifts/{id}/recipe",
		Summary:     "Recipe lines for one gift",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body []domain.RecipeLine `json:"body"`
	}, error) {
		scope, authErr := scopeFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		lines, err := e.Recipe(ctx, scope, input.ID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body []domain.RecipeLine `json:"body"`
		}{Body: nonNilSlice(lines)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "produce-gift",
		Method:      http.MethodPost,
		Path:        "/gifts/produce",
		Summary:     "Add finished stock by hand",
		Description: "Manual override: no recipe is checked and no materials are consumed.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Body ProduceRequest `json:"body"`
	}) (*struct {
		Body domain.Gift `json:"body"`
	}, error) {
		scope, authErr := scopeFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		g, err := e.Produce(ctx, scope, engine.ProduceOptions{GiftID: input.Body.GiftID, Quantity: input.Body.ProducedQuantity})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body domain.Gift `json:"body"`
		}{Body: g}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-materials",
		Method:      http.MethodGet,
		Path:        "/materials",
		Summary:     "List raw materials",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Material `json:"body"`
	}, error) {
		scope, authErr := scopeFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListMaterials(ctx, scope)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body []domain.Material `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "adjust-material",
		Method:      http.MethodPost,
		Path:        "/materials/{id}/adjust",
		Summary:     "Correct raw material stock",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID   int64                 `path:"id"`
		Body AdjustMaterialRequest `json:"body"`
	}) (*struct {
		Body domain.Material `json:"body"`
	}, error) {
		scope, authErr := scopeFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		m, err := e.AdjustMaterial(ctx, scope, engine.AdjustMaterialOptions{
			MaterialID: input.ID,
			Delta:      input.Body.Delta,
			Reason:     input.Body.Reason,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body domain.Material `json:"body"`
		}{Body: m}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-production-jobs",
		Method:      http.MethodGet,
		Path:        "/production/jobs",
		Summary:     "List production jobs",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"100"`
	}) (*struct {
		Body []domain.ProductionJob `json:"body"`
	}, error) {
		scope, authErr := scopeFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		jobs, err := e.ListProductionJobs(ctx, scope, normalizeLimit(input.Limit))
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body []domain.ProductionJob `json:"body"`
		}{Body: jobs}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-production-job",
		Method:        http.MethodPost,
		Path:          "/production/jobs",
		Summary:       "Produce gifts from their recipe",
		Description:   "Consumes recipe quantity times produced_quantity of every material, or changes nothing when any is short.",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Body ProduceRequest `json:"body"`
	}) (*struct {
		Body engine.ProductionResult `json:"body"`
	}, error) {
		scope, authErr := scopeFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.ProduceViaRecipe(ctx, scope, engine.ProduceOptions{GiftID: input.Body.GiftID, Quantity: input.Body.ProducedQuantity})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body engine.ProductionResult `json:"body"`
		}{Body: res}, nil
	})
}
