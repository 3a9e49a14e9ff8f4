package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/quotagate/quotagate/internal/service"
)

type fakeReloader struct {
	actors []string
	err    error
}

func (f *fakeReloader) Reload(ctx context.Context, actorID string) error {
	f.actors = append(f.actors, actorID)
	return f.err
}

func newReloadRouter(reloader ConfigReloader) *gin.Engine {
	gin.SetMode(gin.TestMode)

	h := NewAdminHandler(nil, nil, nil, reloader)

	router := gin.New()
	router.POST("/admin/reload", func(c *gin.Context) {
		c.Set("user_id", "admin-1")
		h.ReloadConfig(c)
	})
	return router
}

func postReload(router *gin.Engine) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/admin/reload", nil)
	router.ServeHTTP(w, req)
	return w
}

func TestReloadConfigEndpoint(t *testing.T) {
	reloader := &fakeReloader{}
	router := newReloadRouter(reloader)

	w := postReload(router)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["success"] != true {
		t.Fatalf("body = %v", body)
	}

	if len(reloader.actors) != 1 || reloader.actors[0] != "admin-1" {
		t.Fatalf("reload actors = %v, want the acting admin", reloader.actors)
	}
}

func TestReloadConfigEndpointValidationError(t *testing.T) {
	reloader := &fakeReloader{
		err: fmt.Errorf("%w: unknown tier in config", service.ErrValidation),
	}
	router := newReloadRouter(reloader)

	w := postReload(router)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["reason"] != "validation_error" {
		t.Fatalf("reason = %v, want validation_error", body["reason"])
	}
}

func TestReloadConfigEndpointFileError(t *testing.T) {
	reloader := &fakeReloader{err: fmt.Errorf("failed to reload config: file missing")}
	router := newReloadRouter(reloader)

	if w := postReload(router); w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
}
