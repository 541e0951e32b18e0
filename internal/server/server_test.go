package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"giftline/internal/app"
	"giftline/internal/config"
	"giftline/internal/domain"
)

const testSecret = "test-secret"

// Seeded staff ids, in seed order.
const (
	adminID   = "1"
	santaID   = "2"
	listElfID = "3"
	giftElfID = "4"
	keeperID  = "5"
)

type testServer struct {
	URL    string
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	cfg := config.Default()
	cfg.Database.Path = filepath.Join(t.TempDir(), "giftline.db")
	ctx := context.Background()
	e, conn, err := app.Open(ctx, cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := app.Seed(ctx, e); err != nil {
		t.Fatalf("seed: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v1",
		Auth:     AuthConfig{JWTSecret: testSecret, Issuer: "giftline", AllowStaffHeader: true},
		Log:      zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func as(staffID string) map[string]string {
	return map[string]string{staffHeader: staffID}
}

func errorCode(t *testing.T, data []byte) string {
	t.Helper()
	var env struct {
		Error apiErrorBody `json:"error"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("unmarshal error envelope: %v (%s)", err, string(data))
	}
	return env.Error.Code
}

func login(t *testing.T, srv *testServer, username, password string) string {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/login", map[string]any{
		"username": username,
		"password": password,
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("login status %d: %s", res.StatusCode, string(data))
	}
	var out LoginResponse
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal login: %v", err)
	}
	if out.Token == "" || out.Staff.Username != username {
		t.Fatalf("unexpected login response: %s", string(data))
	}
	return out.Token
}

func TestHealthIsPublic(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/health", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
	if res.Header.Get(requestIDHeader) == "" {
		t.Fatalf("expected %s header", requestIDHeader)
	}
}

func TestUnauthenticatedRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/gifts", nil, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/gifts", nil, map[string]string{"Authorization": "Bearer not-a-token"})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad token, got %d %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "invalid_credentials" {
		t.Fatalf("expected invalid_credentials, got %s", code)
	}
	res, data = doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/gifts", nil, as("999"))
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown staff, got %d %s", res.StatusCode, string(data))
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/auth/login", map[string]any{
		"username": "santa",
		"password": "wrong",
	}, nil)
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "invalid_credentials" {
		t.Fatalf("expected invalid_credentials, got %s", code)
	}
}

func TestMissingPermissionForbidden(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/groups", map[string]any{
		"name":          "keeper run",
		"fleet_unit_id": 1,
	}, as(keeperID))
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "forbidden" {
		t.Fatalf("expected forbidden, got %s", code)
	}
}

func TestFulfillGroupWithToken(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	bearer := map[string]string{"Authorization": "Bearer " + login(t, srv, "santa", "hohoho")}

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/groups", map[string]any{
		"name":          "Europe run",
		"fleet_unit_id": 1,
	}, bearer)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create group status %d: %s", res.StatusCode, string(data))
	}
	var group domain.DeliveryGroup
	if err := json.Unmarshal(data, &group); err != nil {
		t.Fatalf("unmarshal group: %v", err)
	}
	if group.Status != domain.GroupPending {
		t.Fatalf("expected PENDING, got %s", group.Status)
	}
	groupURL := srv.URL + "/v1/groups/" + jsonID(group.ID)

	res, data = doJSON(t, client, http.MethodPost, groupURL+"/items", map[string]any{
		"recipient_id": 1,
		"gift_id":      2,
	}, bearer)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("add item status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, groupURL+"/fulfill", nil, bearer)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("fulfill status %d: %s", res.StatusCode, string(data))
	}
	var result struct {
		Status         string `json:"status"`
		DeliveredCount int    `json:"delivered_count"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		t.Fatalf("unmarshal fulfill: %v", err)
	}
	if result.Status != domain.GroupDone || result.DeliveredCount != 1 {
		t.Fatalf("unexpected fulfill result: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/fleet", nil, bearer)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list fleet status %d: %s", res.StatusCode, string(data))
	}
	var fleet []domain.FleetUnit
	if err := json.Unmarshal(data, &fleet); err != nil {
		t.Fatalf("unmarshal fleet: %v", err)
	}
	if fleet[0].Stamina != 40 || fleet[0].Magic != 90 || fleet[0].Status != domain.UnitOnDelivery {
		t.Fatalf("unexpected fleet unit after delivery: %+v", fleet[0])
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/deliveries", nil, bearer)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("deliveries status %d: %s", res.StatusCode, string(data))
	}
	var deliveries paginatedDeliveries
	if err := json.Unmarshal(data, &deliveries); err != nil {
		t.Fatalf("unmarshal deliveries: %v", err)
	}
	if len(deliveries.Items) != 1 || deliveries.Items[0].RecipientID != 1 {
		t.Fatalf("expected one delivery record for recipient 1: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodDelete, groupURL, nil, bearer)
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 deleting DONE group, got %d %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "group_immutable" {
		t.Fatalf("expected group_immutable, got %s", code)
	}

	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v1/recipients/1", nil, as(listElfID))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 deleting delivered recipient, got %d %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "recipient_has_history" {
		t.Fatalf("expected recipient_has_history, got %s", code)
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/deliveries", nil, bearer)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("deliveries status %d: %s", res.StatusCode, string(data))
	}
	deliveries = paginatedDeliveries{}
	if err := json.Unmarshal(data, &deliveries); err != nil {
		t.Fatalf("unmarshal deliveries: %v", err)
	}
	if len(deliveries.Items) != 1 {
		t.Fatalf("delivery log changed after refused delete: %s", string(data))
	}
}

func TestFulfillShortageMarksGroupFailed(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/groups", map[string]any{
		"name":          "console run",
		"fleet_unit_id": 2,
	}, as(santaID))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create group status %d: %s", res.StatusCode, string(data))
	}
	var group domain.DeliveryGroup
	_ = json.Unmarshal(data, &group)
	groupURL := srv.URL + "/v1/groups/" + jsonID(group.ID)

	res, data = doJSON(t, client, http.MethodPost, groupURL+"/items", map[string]any{
		"recipient_id": 2,
		"gift_id":      1,
	}, as(santaID))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("add item status %d: %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, groupURL+"/fulfill", nil, as(santaID))
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "insufficient_stock" {
		t.Fatalf("expected insufficient_stock, got %s", code)
	}

	res, data = doJSON(t, client, http.MethodGet, groupURL, nil, as(santaID))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get group status %d: %s", res.StatusCode, string(data))
	}
	_ = json.Unmarshal(data, &group)
	if group.Status != domain.GroupFailed || group.FailureReason == "" {
		t.Fatalf("expected FAILED with reason, got %+v", group)
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/recipients/2", nil, as(listElfID))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("get recipient status %d: %s", res.StatusCode, string(data))
	}
	var rc domain.Recipient
	_ = json.Unmarshal(data, &rc)
	if rc.DeliveryStatus != domain.DeliveryPending {
		t.Fatalf("expected recipient still PENDING, got %s", rc.DeliveryStatus)
	}
}

func TestRecipientInTwoPendingGroupsConflict(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	var urls []string
	for _, unit := range []int{1, 2} {
		res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/groups", map[string]any{
			"name":          "run",
			"fleet_unit_id": unit,
		}, as(santaID))
		if res.StatusCode != http.StatusCreated {
			t.Fatalf("create group status %d: %s", res.StatusCode, string(data))
		}
		var g domain.DeliveryGroup
		_ = json.Unmarshal(data, &g)
		urls = append(urls, srv.URL+"/v1/groups/"+jsonID(g.ID)+"/items")
	}
	item := map[string]any{"recipient_id": 1, "gift_id": 2}
	res, data := doJSON(t, client, http.MethodPost, urls[0], item, as(santaID))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("first add status %d: %s", res.StatusCode, string(data))
	}
	res, data = doJSON(t, client, http.MethodPost, urls[1], item, as(santaID))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "recipient_in_other_group" {
		t.Fatalf("expected recipient_in_other_group, got %s", code)
	}
}

func TestProduceAndRecipeShortage(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v1/production/jobs", map[string]any{
		"gift_id":           1,
		"produced_quantity": 1,
	}, as(giftElfID))
	if res.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "insufficient_materials" {
		t.Fatalf("expected insufficient_materials, got %s", code)
	}
	if !strings.Contains(string(data), "Dragon Scale") {
		t.Fatalf("expected shortage to name Dragon Scale: %s", string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/gifts/produce", map[string]any{
		"gift_id":           1,
		"produced_quantity": 5,
	}, as(giftElfID))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("produce status %d: %s", res.StatusCode, string(data))
	}
	var g domain.Gift
	_ = json.Unmarshal(data, &g)
	if g.ID != 1 || g.Stock != 5 {
		t.Fatalf("expected gift 1 stock 5, got %+v", g)
	}
}

func TestFleetStatusForcedToResting(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/fleet/2/status", map[string]any{
		"status":  "READY",
		"stamina": 20,
		"magic":   80,
	}, as(keeperID))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("update status %d: %s", res.StatusCode, string(data))
	}
	var out struct {
		Status string `json:"status"`
		Forced bool   `json:"forced"`
	}
	_ = json.Unmarshal(data, &out)
	if out.Status != domain.UnitResting || !out.Forced {
		t.Fatalf("expected forced RESTING, got %s", string(data))
	}
}

func TestRequestSchemaErrorIsBadRequest(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v1/groups", map[string]any{
		"fleet_unit_id": "one",
	}, as(santaID))
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d %s", res.StatusCode, string(data))
	}
}

func TestCodeInUseCannotBeDeleted(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodDelete, srv.URL+"/v1/eligibility-codes/nice", nil, as(listElfID))
	if res.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d %s", res.StatusCode, string(data))
	}
	if code := errorCode(t, data); code != "code_in_use" {
		t.Fatalf("expected code_in_use, got %s", code)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v1/eligibility-codes", map[string]any{
		"code":        "watch",
		"description": "Keep an eye on",
	}, as(listElfID))
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create code status %d: %s", res.StatusCode, string(data))
	}
	var c domain.StatusCode
	_ = json.Unmarshal(data, &c)
	if c.Code != "WATCH" {
		t.Fatalf("expected canonical WATCH, got %s", c.Code)
	}
	res, data = doJSON(t, client, http.MethodDelete, srv.URL+"/v1/eligibility-codes/WATCH", nil, as(listElfID))
	if res.StatusCode != http.StatusNoContent {
		t.Fatalf("delete code status %d: %s", res.StatusCode, string(data))
	}
}

func TestEventsPaginate(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()

	res, data := doJSON(t, client, http.MethodGet, srv.URL+"/v1/events?limit=2", nil, as(adminID))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events status %d: %s", res.StatusCode, string(data))
	}
	var page paginatedEvents
	if err := json.Unmarshal(data, &page); err != nil {
		t.Fatalf("unmarshal events: %v", err)
	}
	if len(page.Items) != 2 || page.NextCursor == "" {
		t.Fatalf("expected a full page with a cursor: %s", string(data))
	}
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v1/events?limit=2&cursor="+page.NextCursor, nil, as(adminID))
	if res.StatusCode != http.StatusOK {
		t.Fatalf("events page 2 status %d: %s", res.StatusCode, string(data))
	}
	var next paginatedEvents
	_ = json.Unmarshal(data, &next)
	if len(next.Items) == 0 || next.Items[0].ID >= page.Items[1].ID {
		t.Fatalf("second page should continue below the first: %s", string(data))
	}
}

func TestOpenAPIServed(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()

	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v1/openapi.json", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("openapi status %d", res.StatusCode)
	}
	if !strings.Contains(string(data), "/v1/groups/{id}/fulfill") {
		t.Fatalf("expected fulfill route in OpenAPI document")
	}
}

func jsonID(id int64) string {
	b, _ := json.Marshal(id)
	return string(b)
}
