package handlers

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticketpool/internal/integrity"
	"ticketpool/internal/models"
	"ticketpool/internal/services"
	"ticketpool/internal/store"
)

type testServer struct {
	router   *gin.Engine
	verifier *integrity.Verifier
	store    *store.Store
	tenants  *services.Tenants
}

func setupTestServer(t *testing.T, hosts map[string]string) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	verifier, err := integrity.NewVerifier("handler-secret")
	require.NoError(t, err)

	dir := t.TempDir()
	srv := &testServer{verifier: verifier}
	tenants := services.NewTenants(filepath.Join(dir, "tickets.db"), hosts, func(path string) (*services.TicketService, io.Closer, error) {
		st, err := store.Open(path)
		if err != nil {
			return nil, nil, err
		}
		srv.store = st
		return services.NewTicketService(st, verifier, services.DefaultOptions()), st, nil
	})
	t.Cleanup(func() {
		_ = tenants.CloseAll()
	})

	srv.tenants = tenants
	h := NewHTTPHandler(tenants)
	srv.router = gin.New()
	h.RegisterPublicRoutes(srv.router)
	group := srv.router.Group("/")
	group.Use(h.TenantMiddleware())
	h.RegisterTenantRoutes(group)
	return srv
}

func (s *testServer) sign(op string, fields ...integrity.Field) string {
	return s.verifier.Digest(append([]integrity.Field{integrity.String("op", op)}, fields...)...)
}

func (s *testServer) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var decoded map[string]any
	if w.Body.Len() > 0 && w.Body.Bytes()[0] == '{' {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &decoded))
	}
	return w, decoded
}

func (s *testServer) lotteryBody(op, lotteryID string) gin.H {
	return gin.H{"lottery_id": lotteryID, "digest": s.sign(op, integrity.String("lottery_id", lotteryID))}
}

func (s *testServer) updateBody(lotteryID string, number int, status, owner string, minutes int) gin.H {
	req := gin.H{"lottery_id": lotteryID, "number": number, "status": status, "owner": owner, "expiration_minutes": minutes}
	req["digest"] = s.sign("update",
		integrity.String("lottery_id", lotteryID),
		integrity.Int("number", number),
		integrity.String("status", status),
		integrity.String("owner", owner),
		integrity.String("owner_name", ""),
		integrity.String("owner_phone", ""),
		integrity.Int("expiration_minutes", minutes))
	return req
}

func TestHTTPHandler_TicketRoutes(t *testing.T) {
	srv := setupTestServer(t, nil)

	t.Run("health", func(t *testing.T) {
		w, body := srv.do(t, http.MethodGet, "/health", nil)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "ok", body["message"])
	})

	t.Run("create then create again", func(t *testing.T) {
		create := gin.H{"lottery_id": "L1", "count": 5, "price": 10, "digest": srv.sign("create",
			integrity.String("lottery_id", "L1"), integrity.Int("count", 5), integrity.Float("price", 10))}

		w, _ := srv.do(t, http.MethodPost, "/tickets/create", create)
		assert.Equal(t, http.StatusCreated, w.Code)

		w, body := srv.do(t, http.MethodPost, "/tickets/create", create)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "Tickets already exist for this lottery", body["message"])
	})

	t.Run("update one ticket", func(t *testing.T) {
		w, _ := srv.do(t, http.MethodPatch, "/tickets/update", srv.updateBody("L1", 1, "reserved", "alice", 10))
		assert.Equal(t, http.StatusOK, w.Code)

		w, body := srv.do(t, http.MethodPatch, "/tickets/update", srv.updateBody("L1", 1, "reserved", "bob", 10))
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Contains(t, body["message"], "reserved by another buyer")
	})

	t.Run("update a batch", func(t *testing.T) {
		batch := []gin.H{
			srv.updateBody("L1", 2, "paid", "carol", 5),
			srv.updateBody("L1", 1, "paid", "bob", 5),
		}
		w, body := srv.do(t, http.MethodPatch, "/tickets/update", batch)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, []any{float64(2)}, body["succeeded"])
		assert.Equal(t, []any{float64(1)}, body["failed"])
	})

	t.Run("list and count", func(t *testing.T) {
		w, body := srv.do(t, http.MethodPost, "/tickets/find", srv.lotteryBody("find", "L1"))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Len(t, body["data"], 3)

		w, body = srv.do(t, http.MethodPost, "/tickets/count", srv.lotteryBody("count", "L1"))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, float64(3), body["data"].(map[string]any)["count"])

		w, body = srv.do(t, http.MethodPost, "/tickets/all-tickets", srv.lotteryBody("all-tickets", "L1"))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Len(t, body["data"], 5)
	})

	t.Run("find available", func(t *testing.T) {
		batch := []gin.H{
			{"lottery_id": "L1", "number": 0, "digest": srv.sign("find-available", integrity.String("lottery_id", "L1"), integrity.Int("number", 0))},
			{"lottery_id": "L1", "number": 2, "digest": srv.sign("find-available", integrity.String("lottery_id", "L1"), integrity.Int("number", 2))},
		}
		w, body := srv.do(t, http.MethodPost, "/tickets/findAvailable", batch)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, []any{float64(0)}, body["available"])
		assert.Equal(t, []any{float64(2)}, body["unavailable"])
	})

	t.Run("suffix and random", func(t *testing.T) {
		w, body := srv.do(t, http.MethodPost, "/tickets/end-with", gin.H{"lottery_id": "L1", "suffix": "4",
			"digest": srv.sign("end-with", integrity.String("lottery_id", "L1"), integrity.String("suffix", "4"))})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Len(t, body["data"], 1)

		w, body = srv.do(t, http.MethodPost, "/tickets/random", gin.H{"lottery_id": "L1", "quantity": 2,
			"digest": srv.sign("random", integrity.String("lottery_id", "L1"), integrity.Int("quantity", 2))})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Len(t, body["data"], 2)
	})

	t.Run("winner", func(t *testing.T) {
		require.NoError(t, srv.store.SaveLottery(t.Context(), &models.Lottery{ID: "L1", Name: "Rifa"}))
		winner := gin.H{"lottery_id": "L1", "number": 2,
			"digest": srv.sign("winner", integrity.String("lottery_id", "L1"), integrity.Int("number", 2))}

		w, _ := srv.do(t, http.MethodPost, "/tickets/winner", winner)
		require.Equal(t, http.StatusOK, w.Code)

		w, body := srv.do(t, http.MethodPost, "/tickets/winner", winner)
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, services.StepLottery, body["step"])
	})

	t.Run("reset and delete", func(t *testing.T) {
		w, _ := srv.do(t, http.MethodPost, "/tickets/reset", srv.lotteryBody("reset", "L1"))
		require.Equal(t, http.StatusOK, w.Code)

		w, body := srv.do(t, http.MethodPost, "/tickets/delete", srv.lotteryBody("delete", "L1"))
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, float64(5), body["data"].(map[string]any)["count"])
	})
}

func TestHTTPHandler_Errors(t *testing.T) {
	srv := setupTestServer(t, nil)

	t.Run("bad digest", func(t *testing.T) {
		body := srv.lotteryBody("count", "L1")
		body["digest"] = "deadbeef"
		w, _ := srv.do(t, http.MethodPost, "/tickets/count", body)
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/tickets/count", bytes.NewBufferString("{not json"))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		srv.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)

		req = httptest.NewRequest(http.MethodPatch, "/tickets/update", bytes.NewBufferString("[{"))
		w = httptest.NewRecorder()
		srv.router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("missing ticket", func(t *testing.T) {
		w, _ := srv.do(t, http.MethodPatch, "/tickets/update", srv.updateBody("L9", 0, "reserved", "alice", 10))
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("user and purchase routes", func(t *testing.T) {
		require.NoError(t, srv.store.SaveUser(t.Context(), &models.User{ID: "u1", Name: "Ana"}))
		data := map[string]any{"phone": "555"}
		field, err := integrity.Map("update_data", data)
		require.NoError(t, err)

		w, _ := srv.do(t, http.MethodPost, "/tickets/update-user", gin.H{"user_id": "u1", "update_data": data,
			"digest": srv.sign("update-user", integrity.String("user_id", "u1"), field)})
		assert.Equal(t, http.StatusOK, w.Code)

		purchase := map[string]any{"lottery_id": "L1", "amount": 10}
		field, err = integrity.Map("update_data", purchase)
		require.NoError(t, err)
		w, body := srv.do(t, http.MethodPost, "/tickets/create-compra", gin.H{"update_data": purchase,
			"digest": srv.sign("create-compra", field)})
		require.Equal(t, http.StatusCreated, w.Code)
		id := body["data"].(map[string]any)["id"].(string)

		w, _ = srv.do(t, http.MethodPost, "/tickets/delete-compra", gin.H{"compra_id": id,
			"digest": srv.sign("delete-compra", integrity.String("compra_id", id))})
		assert.Equal(t, http.StatusOK, w.Code)
	})
}

func TestHTTPHandler_TenantHosts(t *testing.T) {
	srv := setupTestServer(t, map[string]string{"stage.example.com": filepath.Join(t.TempDir(), "stage.db")})

	req := httptest.NewRequest(http.MethodPost, "/tickets/count", bytes.NewBufferString(`{}`))
	req.Host = "unknown.example.com"
	w := httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Host = "unknown.example.com"
	w = httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code, "public routes need no tenant")

	body := srv.lotteryBody("count", "L1")
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodPost, "/tickets/count", bytes.NewReader(raw))
	req.Host = "stage.example.com:8080"
	w = httptest.NewRecorder()
	srv.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHTTPHandler_TenantReleasedAfterRequest(t *testing.T) {
	srv := setupTestServer(t, nil)

	w, _ := srv.do(t, http.MethodPost, "/tickets/count", map[string]any{
		"lottery_id": "L1",
		"digest":     srv.sign("count", integrity.String("lottery_id", "L1")),
	})
	require.Equal(t, http.StatusOK, w.Code)

	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, 1, srv.tenants.CloseIdle(time.Millisecond))
}
