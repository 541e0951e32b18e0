package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"giftline/internal/domain"
	"giftline/internal/engine"
)

func registerFleet(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-fleet",
		Method:      http.MethodGet,
		Path:        "/fleet",
		Summary:     "List fleet units",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.FleetUnit `json:"body"`
	}, error) {
		scope, authErr := scopeFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListFleet(ctx, scope)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body []domain.FleetUnit `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-available-fleet",
		Method:      http.MethodGet,
		Path:        "/fleet/available",
		Summary:     "Ready units with enough stamina and magic",
		Errors:      []int{http.StatusForbidden, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		MinMagic int `query:"min_magic" default:"0" minimum:"0"`
	}) (*struct {
		Body []domain.FleetUnit `json:"body"`
	}, error) {
		scope, authErr := scopeFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListAvailableFleet(ctx, scope, input.MinMagic)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body []domain.FleetUnit `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-fleet-status",
		Method:      http.MethodPost,
		Path:        "/fleet/{id}/status",
		Summary:     "Set status and resources",
		Description: "A unit whose stamina or magic ends below 30 is set to RESTING whatever status was requested.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID   int64                    `path:"id"`
		Body UpdateFleetStatusRequest `json:"body"`
	}) (*struct {
		Body engine.UpdateStatusResult `json:"body"`
	}, error) {
		scope, authErr := scopeFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.UpdateStatus(ctx, scope, engine.UpdateStatusOptions{
			UnitID:  input.ID,
			Status:  input.Body.Status,
			Stamina: input.Body.Stamina,
			Magic:   input.Body.Magic,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body engine.UpdateStatusResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-health-logs",
		Method:      http.MethodGet,
		Path:        "/fleet/{id}/health-logs",
		Summary:     "Health notes for one unit",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body []domain.HealthLog `json:"body"`
	}, error) {
		scope, authErr := scopeFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListHealthLogs(ctx, scope, input.ID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body []domain.HealthLog `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-health-log",
		Method:        http.MethodPost,
		Path:          "/fleet/{id}/health-logs",
		Summary:       "Record a health note",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID   int64            `path:"id"`
		Body HealthLogRequest `json:"body"`
	}) (*struct {
		Body domain.HealthLog `json:"body"`
	}, error) {
		scope, authErr := scopeFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		l, err := e.LogHealth(ctx, scope, input.ID, input.Body.Note)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body domain.HealthLog `json:"body"`
		}{Body: l}, nil
	})
}
