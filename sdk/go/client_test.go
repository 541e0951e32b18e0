package giftlinesdk

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"giftline/internal/app"
	"giftline/internal/config"
	"giftline/internal/server"
)

func newTestAPI(t *testing.T) *httptest.Server {
	t.Helper()
	cfg := config.Default()
	cfg.Database.Path = filepath.Join(t.TempDir(), "giftline.db")
	ctx := context.Background()
	e, conn, err := app.Open(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = app.Seed(ctx, e)
	require.NoError(t, err)
	handler, err := server.New(server.Config{
		Engine:   e,
		BasePath: "/v1",
		Auth:     server.AuthConfig{JWTSecret: "sdk-secret"},
		Log:      zerolog.Nop(),
	})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestClientDeliversGroup(t *testing.T) {
	srv := newTestAPI(t)
	ctx := context.Background()
	c := New(srv.URL)

	staff, err := c.Login(ctx, "santa", "hohoho")
	require.NoError(t, err)
	require.Equal(t, "Santa", staff.Role)
	require.NotEmpty(t, c.BearerToken)

	gifts, err := c.ListGifts(ctx)
	require.NoError(t, err)
	require.Len(t, gifts, 5)

	g, err := c.CreateGroup(ctx, "Europe run", 2)
	require.NoError(t, err)
	require.Equal(t, "PENDING", g.Status)

	_, err = c.AddItem(ctx, g.ID, 1, 2)
	require.NoError(t, err)

	res, err := c.Fulfill(ctx, g.ID)
	require.NoError(t, err)
	require.Equal(t, "DONE", res.Status)
	require.Equal(t, 1, res.DeliveredCount)
	require.Equal(t, int64(2), res.FleetUnitID)

	got, err := c.GetGroup(ctx, g.ID)
	require.NoError(t, err)
	require.Equal(t, "DONE", got.Status)

	page, err := c.EventsPage(ctx, 1, "")
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	require.Equal(t, "group.fulfilled", page.Items[0].Type)
}

func TestClientDecodesErrorEnvelope(t *testing.T) {
	srv := newTestAPI(t)
	ctx := context.Background()
	c := New(srv.URL)

	_, err := c.Login(ctx, "santa", "wrong")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	require.Equal(t, "invalid_credentials", apiErr.Code)

	_, err = c.ListGifts(ctx)
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)

	// staff header is refused unless the server opts in
	c.StaffID = 2
	_, err = c.ListGifts(ctx)
	require.True(t, errors.As(err, &apiErr))
	require.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}
