package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"giftline/internal/domain"
	"giftline/internal/engine"
)

func registerRecipients(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-recipients",
		Method:      http.MethodGet,
		Path:        "/recipients",
		Summary:     "List recipients",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		RegionID       int64  `query:"region_id"`
		Eligibility    string `query:"eligibility"`
		DeliveryStatus string `query:"delivery_status"`
		Limit          int    `query:"limit" default:"50"`
		Offset         int    `query:"offset" minimum:"0"`
	}) (*struct {
		Body paginatedRecipients `json:"body"`
	}, error) {
		scope, authErr := scopeFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		limit := normalizeLimit(input.Limit)
		items, err := e.ListRecipients(ctx, scope, engine.RecipientQuery{
			RegionID:       input.RegionID,
			Eligibility:    input.Eligibility,
			DeliveryStatus: input.DeliveryStatus,
			Limit:          limit,
			Offset:         input.Offset,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body paginatedRecipients `json:"body"`
		}{Body: paginatedRecipients{Items: nonNilSlice(items), Limit: limit, Offset: input.Offset}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-recipient",
		Method:        http.MethodPost,
		Path:          "/recipients",
		Summary:       "Register recipient with preferences",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateRecipientRequest `json:"body"`
	}) (*struct {
		Body domain.Recipient `json:"body"`
	}, error) {
		scope, authErr := scopeFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.CreateRecipientOptions{
			Name:           input.Body.Name,
			Address:        input.Body.Address,
			RegionID:       input.Body.RegionID,
			Eligibility:    input.Body.Eligibility,
			DeliveryStatus: input.Body.DeliveryStatus,
			Note:           input.Body.Note,
		}
		for _, p := range input.Body.Preferences {
			opts.Preferences = append(opts.Preferences, engine.PreferenceInput{GiftID: p.GiftID, Rank: p.Rank})
		}
		rc, err := e.CreateRecipient(ctx, scope, opts)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body domain.Recipient `json:"body"`
		}{Body: rc}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-recipient",
		Method:      http.MethodGet,
		Path:        "/recipients/{id}",
		Summary:     "Get recipient",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body domain.Recipient `json:"body"`
	}, error) {
		scope, authErr := scopeFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rc, err := e.GetRecipient(ctx, scope, input.ID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body domain.Recipient `json:"body"`
		}{Body: rc}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-recipient",
		Method:      http.MethodPatch,
		Path:        "/recipients/{id}",
		Summary:     "Update recipient",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID   int64                  `path:"id"`
		Body UpdateRecipientRequest `json:"body"`
	}) (*struct {
		Body domain.Recipient `json:"body"`
	}, error) {
		if err := requireBody(ctx); err != nil {
			return nil, err
		}
		scope, authErr := scopeFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rc, err := e.UpdateRecipient(ctx, scope, engine.UpdateRecipientOptions{
			ID:          input.ID,
			Name:        input.Body.Name,
			Address:     input.Body.Address,
			RegionID:    input.Body.RegionID,
			Eligibility: input.Body.Eligibility,
			Note:        input.Body.Note,
		})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body domain.Recipient `json:"body"`
		}{Body: rc}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-recipient",
		Method:        http.MethodDelete,
		Path:          "/recipients/{id}",
		Summary:       "Delete recipient and their preferences",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct{}, error) {
		scope, authErr := scopeFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeleteRecipient(ctx, scope, input.ID); err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-preference",
		Method:        http.MethodPost,
		Path:          "/recipients/{id}/preferences",
		Summary:       "Add ranked preference",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		ID   int64             `path:"id"`
		Body PreferenceRequest `json:"body"`
	}) (*struct {
		Body domain.Preference `json:"body"`
	}, error) {
		scope, authErr := scopeFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.AddPreference(ctx, scope, input.ID, engine.PreferenceInput{GiftID: input.Body.GiftID, Rank: input.Body.Rank})
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body domain.Preference `json:"body"`
		}{Body: p}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-preference",
		Method:        http.MethodDelete,
		Path:          "/recipients/{id}/preferences/{preference_id}",
		Summary:       "Remove preference",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID           int64 `path:"id"`
		PreferenceID int64 `path:"preference_id"`
	}) (*struct{}, error) {
		scope, authErr := scopeFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.DeletePreference(ctx, scope, input.ID, input.PreferenceID); err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct{}{}, nil
	})
}

func registerTargets(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-targets",
		Method:      http.MethodGet,
		Path:        "/targets",
		Summary:     "List eligible delivery targets",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		RegionID int64 `query:"region_id"`
	}) (*struct {
		Body []domain.Recipient `json:"body"`
	}, error) {
		scope, authErr := scopeFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.EligibleTargets(ctx, scope, input.RegionID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body []domain.Recipient `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "suggest-assignments",
		Method:      http.MethodGet,
		Path:        "/targets/assignments",
		Summary:     "Suggest the best in-stock gift per target",
		Description: "Read only. Nothing is reserved or persisted.",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		RegionID int64 `query:"region_id"`
	}) (*struct {
		Body []domain.Assignment `json:"body"`
	}, error) {
		scope, authErr := scopeFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := e.SuggestAssignments(ctx, scope, input.RegionID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body []domain.Assignment `json:"body"`
		}{Body: nonNilSlice(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-target",
		Method:      http.MethodGet,
		Path:        "/targets/{id}",
		Summary:     "Get target with preferences",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID int64 `path:"id"`
	}) (*struct {
		Body domain.Recipient `json:"body"`
	}, error) {
		scope, authErr := scopeFrom(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rc, err := e.Target(ctx, scope, input.ID)
		if err != nil {
			return nil, handleError(ctx, err)
		}
		return &struct {
			Body domain.Recipient `json:"body"`
		}{Body: rc}, nil
	})
}
