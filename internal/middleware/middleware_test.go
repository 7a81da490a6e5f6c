package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/lumina-attendance-api/internal/models"
	appErrors "github.com/noah-isme/lumina-attendance-api/pkg/errors"
)

type validatorStub struct {
	claims *models.JWTClaims
	err    error
}

func (v validatorStub) ValidateToken(string) (*models.JWTClaims, error) {
	return v.claims, v.err
}

func newRouter(mw ...gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	handlers := append(mw, func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/lectures/:id", handlers...)
	return r
}

func serve(r *gin.Engine, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/lectures/1", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJWT(t *testing.T) {
	ok := validatorStub{claims: &models.JWTClaims{UserID: "u1", Role: models.RoleTeacher}}
	r := newRouter(JWT(ok), RequireRoles(models.RoleTeacher, models.RoleAdmin))

	assert.Equal(t, http.StatusUnauthorized, serve(r, "").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, "Basic abc").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(r, "Bearer ").Code)
	assert.Equal(t, http.StatusNoContent, serve(r, "Bearer token").Code)

	bad := newRouter(JWT(validatorStub{err: appErrors.Clone(appErrors.ErrUnauthorized, "invalid token")}))
	assert.Equal(t, http.StatusUnauthorized, serve(bad, "Bearer token").Code)

	broken := newRouter(JWT(validatorStub{err: errors.New("boom")}))
	assert.Equal(t, http.StatusInternalServerError, serve(broken, "Bearer token").Code)
}

func TestRequireRoles(t *testing.T) {
	student := validatorStub{claims: &models.JWTClaims{UserID: "s1", Role: models.RoleStudent}}
	r := newRouter(JWT(student), RequireRoles(models.RoleTeacher))
	w := serve(r, "Bearer token")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Contains(t, w.Body.String(), "STUDENT")

	noAuth := newRouter(RequireRoles(models.RoleTeacher))
	assert.Equal(t, http.StatusUnauthorized, serve(noAuth, "").Code)
}

func TestActorKey(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.RemoteAddr = "10.0.0.1:1234"
	assert.Equal(t, "ip:10.0.0.1", ActorKey(c))

	c.Set(ContextUserKey, &models.JWTClaims{UserID: "s1", Role: models.RoleStudent})
	assert.Equal(t, "user:s1", ActorKey(c))
}

type observerStub struct {
	mu    sync.Mutex
	paths []string
}

func (o *observerStub) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.paths = append(o.paths, path)
}

func TestMetricsUsesRouteTemplate(t *testing.T) {
	observer := &observerStub{}
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Metrics(observer))
	r.GET("/lectures/:id", func(c *gin.Context) { c.Status(http.StatusOK) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/lectures/42", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nope", nil))

	assert.Equal(t, []string{"/lectures/:id", "unmatched"}, observer.paths)
}
