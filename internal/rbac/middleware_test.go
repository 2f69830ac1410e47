package rbac

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"phone-agent/internal/auth"

	"github.com/gin-gonic/gin"
)

func serveAs(role string, allowed ...string) int {
	gin.SetMode(gin.TestMode)

	r := gin.New()
	r.GET("/x", func(c *gin.Context) {
		if role != "" {
			ctx := auth.WithIdentity(c.Request.Context(), "session-1", role)
			c.Request = c.Request.WithContext(ctx)
		}
		c.Next()
	}, RequireAnyRole(allowed...), func(c *gin.Context) {
		c.Status(200)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	r.ServeHTTP(w, req)
	return w.Code
}

func TestRequireAnyRole_SuperAdminBypasses(t *testing.T) {
	if code := serveAs(RoleSuperAdmin, RoleOperator); code != 200 {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestRequireAnyRole_ViewerDeniedControl(t *testing.T) {
	if code := serveAs(RoleViewer, RoleOperator); code != 403 {
		t.Fatalf("expected 403, got %d", code)
	}
	if code := serveAs(RoleViewer, RoleViewer, RoleOperator); code != 200 {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestRequireAnyRole_RoleRequired(t *testing.T) {
	if code := serveAs("", RoleOperator); code != 401 {
		t.Fatalf("expected 401, got %d", code)
	}
}

func TestCanControlCalls(t *testing.T) {
	if !CanControlCalls(RoleOperator) || !CanControlCalls(RoleSuperAdmin) || CanControlCalls(RoleViewer) {
		t.Fatalf("unexpected control permissions")
	}
}

func TestRequireControl(t *testing.T) {
	gin.SetMode(gin.TestMode)
	for role, want := range map[string]int{RoleOperator: 200, RoleSuperAdmin: 200, RoleViewer: 403, "": 401} {
		r := gin.New()
		r.POST("/x", func(c *gin.Context) {
			if role != "" {
				c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), "s", role))
			}
			c.Next()
		}, RequireControl(), func(c *gin.Context) { c.Status(200) })

		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/x", nil))
		if w.Code != want {
			t.Fatalf("role %q: expected %d, got %d", role, want, w.Code)
		}
	}
}
