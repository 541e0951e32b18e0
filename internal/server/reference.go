package server

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"

	"giftline/internal/domain"
	"giftline/internal/engine"
	"giftline/internal/repo"
)

func registerStaff(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-staff",
		Method:        http.MethodPost,
		Path:          "/staff",
		Summary:       "Create staff account",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateStaffRequest `json:"body"`
	}) (*struct {
		Body domain.Staff `json:"body"`
	}, error) {
		scope, authErr := scopeFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.CreateStaff(ctx, scope, engine.CreateStaffOptions{
			Username: input.Body.Username,
			Password: input.Body.Password,
			Name:     input.Body.Name,
			Role:     input.Body.Role,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body domain.Staff `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-staff",
		Method:      http.MethodGet,
		Path:        "/staff",
		Summary:     "List staff accounts",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Staff `json:"body"`
	}, error) {
		scope, authErr := scopeFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListStaff(ctx, scope)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body []domain.Staff `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})
}

func registerReference(api huma.API, e engine.Engine) {
	registerCodeTable(api, e, "eligibility-code", "/eligibility-codes", repo.EligibilityCodes)
	registerCodeTable(api, e, "delivery-status-code", "/delivery-status-codes", repo.DeliveryStatusCodes)

	huma.Register(api, huma.Operation{
		OperationID: "list-regions",
		Method:      http.MethodGet,
		Path:        "/regions",
		Summary:     "List regions",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Region `json:"body"`
	}, error) {
		scope, authErr := scopeFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListRegions(ctx, scope)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body []domain.Region `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})
}

// registerCodeTable exposes CRUD for one status code catalog under prefix.
func registerCodeTable(api huma.API, e engine.Engine, name, prefix string, table repo.CodeTable) {
	huma.Register(api, huma.Operation{
		OperationID: "list-" + name + "s",
		Method:      http.MethodGet,
		Path:        prefix,
		Summary:     fmt.Sprintf("List %s codes", table),
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.StatusCode `json:"body"`
	}, error) {
		scope, authErr := scopeFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListCodes(ctx, scope, table)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body []domain.StatusCode `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-" + name,
		Method:        http.MethodPost,
		Path:          prefix,
		Summary:       fmt.Sprintf("Create %s code", table),
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateCodeRequest `json:"body"`
	}) (*struct {
		Body domain.StatusCode `json:"body"`
	}, error) {
		scope, authErr := scopeFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.CreateCode(ctx, scope, table, engine.CodeOptions{
			Code:        input.Body.Code,
			Description: input.Body.Description,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body domain.StatusCode `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-" + name,
		Method:      http.MethodPut,
		Path:        prefix + "/{code}",
		Summary:     fmt.Sprintf("Update %s code", table),
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Code string            `path:"code"`
		Body UpdateCodeRequest `json:"body"`
	}) (*struct {
		Body domain.StatusCode `json:"body"`
	}, error) {
		scope, authErr := scopeFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		c, err := e.UpdateCode(ctx, scope, table, engine.CodeOptions{
			Code:        input.Code,
			Description: input.Body.Description,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body domain.StatusCode `json:"body"`
		}{Body: c}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-" + name,
		Method:        http.MethodDelete,
		Path:          prefix + "/{code}",
		Summary:       fmt.Sprintf("Delete %s code", table),
		DefaultStatus: http.StatusNoContent,
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		Code string `path:"code"`
	}) (*struct{}, error) {
		scope, authErr := scopeFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteCode(ctx, scope, table, input.Code); err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct{}{}, nil
	})
}

func registerRules(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-rules",
		Method:      http.MethodGet,
		Path:        "/rules",
		Summary:     "List eligibility rules",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Rule `json:"body"`
	}, error) {
		scope, authErr := scopeFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.ListRules(ctx, scope)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body []domain.Rule `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-rule",
		Method:        http.MethodPost,
		Path:          "/rules",
		Summary:       "Create eligibility rule",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Body RuleRequest `json:"body"`
	}) (*struct {
		Body domain.Rule `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		scope, authErr := scopeFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rl, err := e.CreateRule(ctx, scope, engine.RuleOptions{Title: input.Body.Title, Description: input.Body.Description})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body domain.Rule `json:"body"`
		}{Body: rl}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-rule",
		Method:      http.MethodPatch,
		Path:        "/rules/{id}",
		Summary:     "Update eligibility rule",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID   int64       `path:"id"`
		Body RuleRequest `json:"body"`
	}) (*struct {
		Body domain.Rule `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		scope, authErr := scopeFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rl, err := e.UpdateRule(ctx, scope, input.ID, engine.RuleOptions{Title: input.Body.Title, Description: input.Body.Description})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body domain.Rule `json:"body"`
		}{Body: rl}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-rule",
		Method:        http.MethodDelete,
		Path:          "/rules/{id}",
		Summary:       "Delete eligibility rule",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct{}, error) {
		scope, authErr := scopeFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteRule(ctx, scope, input.ID); err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct{}{}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		Type       string `query:"type"`
		EntityKind string `query:"entity_kind"`
		EntityID   string `query:"entity_id"`
		Limit      int    `query:"limit" default:"50"`
		Cursor     string `query:"cursor"`
	}) (*struct {
		Body paginatedEvents `json:"body"`
	}, error) {
		scope, authErr := scopeFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		limit := normalizeLimit(input.Limit)
		var cursorID int64
		if input.Cursor != "" {
			parsed, err := strconv.ParseInt(input.Cursor, 10, 64)
			if err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid cursor", map[string]any{"cursor": input.Cursor})
			}
			cursorID = parsed
		}
		items, err := e.ListEvents(ctx, scope, engine.EventQuery{
			Type:       input.Type,
			EntityKind: input.EntityKind,
			EntityID:   input.EntityID,
			Cursor:     cursorID,
			Limit:      limit + 1,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		resp := paginatedEvents{Items: []EventResponse{}}
		if len(items) > limit {
			resp.NextCursor = fmt.Sprintf("%d", items[limit-1].ID)
			items = items[:limit]
		}
		for _, evt := range items {
			resp.Items = append(resp.Items, eventResponse(evt))
		}
		return &struct {
			Body paginatedEvents `json:"body"`
		}{Body: resp}, nil
	})
}
