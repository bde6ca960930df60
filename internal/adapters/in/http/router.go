// internal/adapters/in/http/router.go
package httpin

import (
	"net/http"

	"cartengine/internal/adapters/in/http/handler"
	"cartengine/internal/adapters/in/http/middleware"
	usecase "cartengine/internal/application/usecase"
	cartdom "cartengine/internal/domain/cart"
)

// RouterDeps collects the dependencies injected from main.go.
type RouterDeps struct {
	CartUC      *usecase.CartUsecase
	MigrationUC *usecase.MigrationUsecase

	FirebaseAuth *middleware.FirebaseAuthClient

	AllowStacking        bool
	DefaultMergeStrategy cartdom.MergeStrategy
}

// NewRouter sets up HTTP routing. Chain order matters: CORS outermost so
// even panic responses carry the headers, then Recover, then Auth.
func NewRouter(deps RouterDeps) http.Handler {
	mux := http.NewServeMux()

	// Health check (always on)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if deps.CartUC != nil && deps.MigrationUC != nil {
		mux.Handle("/cart/login", handler.NewMigrationHandler(deps.MigrationUC, deps.DefaultMergeStrategy, deps.AllowStacking))
	}
	if deps.CartUC != nil {
		cartHandler := handler.NewCartHandler(deps.CartUC, deps.AllowStacking)
		mux.Handle("/cart", cartHandler)
		mux.Handle("/cart/", cartHandler)
	}

	auth := &middleware.Auth{FirebaseAuth: deps.FirebaseAuth}
	return middleware.CORS(middleware.Recover(auth.Handler(mux)))
}
