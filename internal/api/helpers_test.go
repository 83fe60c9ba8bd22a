package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/phrazzld/taskpump/internal/api/middleware"
	"github.com/phrazzld/taskpump/internal/config"
	"github.com/phrazzld/taskpump/internal/service/auth"
	"github.com/phrazzld/taskpump/internal/task"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	testSecret   = "api-test-secret-that-is-long-enough"
	testPassword = "correct horse battery"
)

var testNow = time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)

// fixedBudget is a generous budget with a 300 second execution bound.
type fixedBudget struct{}

func (fixedBudget) RemainingSeconds() float64 { return 280 }
func (fixedBudget) FreeMemoryFraction() float64 { return 0.8 }
func (fixedBudget) FreeMemoryBytes() uint64 { return 800 << 20 }
func (fixedBudget) MemoryCeilingBytes() uint64 { return 1 << 30 }
func (fixedBudget) MaxSingleExecutionSeconds() float64 { return 300 }

type testAPI struct {
	store    *task.MemoryStore
	registry *task.Registry
	queue    *task.Queue
	router   chi.Router
	token    string
	ran      []task.Params
}

// newTestAPI wires the admin API over a MemoryStore. The registry knows the
// "record" function, which appends its params to ran.
func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	a := &testAPI{
		store:    task.NewMemoryStore(),
		registry: task.NewRegistry(),
	}
	a.registry.RegisterFunc("record", func(ctx context.Context, params task.Params) error {
		a.ran = append(a.ran, params)
		return nil
	})

	a.queue = task.NewQueue(a.store, a.registry, fixedBudget{}, task.DefaultConfig(), logger)
	a.queue.SetClock(func() time.Time { return testNow })
	runner := task.NewRunner(a.queue, logger)

	jwtService, err := auth.NewJWTService(config.AuthConfig{JWTSecret: testSecret, TokenLifetimeMinutes: 60})
	require.NoError(t, err)
	hash, err := bcrypt.GenerateFromPassword([]byte(testPassword), bcrypt.MinCost)
	require.NoError(t, err)
	a.token, err = jwtService.GenerateToken(context.Background(), auth.AdminSubject)
	require.NoError(t, err)

	begin := func() task.Budget { return fixedBudget{} }
	routes := Routes{
		Auth:         NewAuthHandler(auth.NewAdminAuthenticator(string(hash), auth.NewBcryptVerifier(), jwtService), logger),
		Tasks:        NewTaskHandler(a.queue, logger),
		Admin:        NewAdminHandler(a.queue, runner, begin, logger),
		Authenticate: middleware.NewAuthMiddleware(jwtService).Authenticate,
	}

	a.router = chi.NewRouter()
	a.router.Route("/api", routes.Mount)
	return a
}

// do sends an authenticated request with an optional JSON body.
func (a *testAPI) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			reader = bytes.NewBufferString(b)
		default:
			data, err := json.Marshal(b)
			require.NoError(t, err)
			reader = bytes.NewReader(data)
		}
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer "+a.token)
	req.Header.Set("Content-Type", "application/json")

	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func (a *testAPI) enqueue(t *testing.T, name string, params task.Params, p task.Priority) *task.Task {
	t.Helper()
	saved, err := a.queue.Enqueue(context.Background(), task.FunctionRef(name), params, p, "")
	require.NoError(t, err)
	return saved
}

// claimAt moves the front of the queue to the running set as of at.
func (a *testAPI) claimAt(t *testing.T, at time.Time) *task.Task {
	t.Helper()
	claimed, err := a.store.Claim(context.Background(), 100, at)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	return claimed
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// serve calls h directly, bypassing routing and authentication.
func serve(h http.HandlerFunc, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(method, path, nil))
	return rec
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
