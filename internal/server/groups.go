package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"giftline/internal/domain"
	"giftline/internal/engine"
)

func registerGroups(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-groups",
		Method:      http.MethodGet,
		Path:        "/groups",
		Summary:     "List delivery groups",
		Description: "Lists PENDING groups unless status is given; status=ALL lists every group.",
		Errors:      []int{http.StatusForbidden, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status" doc:"PENDING, DONE, FAILED or ALL"`
	}) (*struct {
		Body []domain.DeliveryGroup `json:"body"`
	}, error) {
		scope, authErr := scopeFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListGroups(ctx, scope, input.Status)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body []domain.DeliveryGroup `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-group",
		Method:        http.MethodPost,
		Path:          "/groups",
		Summary:       "Create a pending delivery group",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateGroupRequest `json:"body"`
	}) (*struct {
		Body domain.DeliveryGroup `json:"body"`
	}, error) {
		scope, authErr := scopeFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		g, err := e.CreateGroup(ctx, scope, engine.CreateGroupOptions{
			Name:        input.Body.Name,
			FleetUnitID: input.Body.FleetUnitID,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body domain.DeliveryGroup `json:"body"`
		}{Body: g}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-group",
		Method:      http.MethodGet,
		Path:        "/groups/{id}",
		Summary:     "Get group with items",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body domain.DeliveryGroup `json:"body"`
	}, error) {
		scope, authErr := scopeFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		g, err := e.GetGroup(ctx, scope, input.ID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body domain.DeliveryGroup `json:"body"`
		}{Body: g}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-group",
		Method:        http.MethodDelete,
		Path:          "/groups/{id}",
		Summary:       "Delete a group that has not been delivered",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct{}, error) {
		scope, authErr := scopeFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteGroup(ctx, scope, input.ID); err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-group-item",
		Method:        http.MethodPost,
		Path:          "/groups/{id}/items",
		Summary:       "Add recipient and gift to a pending group",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID   int64               `path:"id"`
		Body AddGroupItemRequest `json:"body"`
	}) (*struct {
		Body domain.GroupItem `json:"body"`
	}, error) {
		scope, authErr := scopeFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		it, err := e.AddItem(ctx, scope, engine.AddItemOptions{
			GroupID:     input.ID,
			RecipientID: input.Body.RecipientID,
			GiftID:      input.Body.GiftID,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body domain.GroupItem `json:"body"`
		}{Body: it}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "fulfill-group",
		Method:      http.MethodPost,
		Path:        "/groups/{id}/fulfill",
		Summary:     "Deliver every item of a pending group",
		Description: "All or nothing. On failure nothing is delivered and the group is marked FAILED.",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body engine.FulfillResult `json:"body"`
	}, error) {
		scope, authErr := scopeFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.Fulfill(ctx, scope, input.ID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body engine.FulfillResult `json:"body"`
		}{Body: res}, nil
	})
}

func registerReports(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-deliveries",
		Method:      http.MethodGet,
		Path:        "/deliveries",
		Summary:     "Delivery audit log",
		Errors:      []int{http.StatusForbidden, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Limit  int `query:"limit" default:"100"`
		Offset int `query:"offset" minimum:"0"`
	}) (*struct {
		Body paginatedDeliveries `json:"body"`
	}, error) {
		scope, authErr := scopeFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		limit := normalizeLimit(input.Limit)
		items, err := e.ListDeliveries(ctx, scope, limit, input.Offset)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body paginatedDeliveries `json:"body"`
		}{Body: paginatedDeliveries{Items: nonNilSlice(items), Limit: limit, Offset: input.Offset}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "gift-demand",
		Method:      http.MethodGet,
		Path:        "/stats/gift-demand",
		Summary:     "Wishes per gift among eligible targets",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.GiftDemand `json:"body"`
	}, error) {
		scope, authErr := scopeFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.GiftDemand(ctx, scope)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body []domain.GiftDemand `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})
}
