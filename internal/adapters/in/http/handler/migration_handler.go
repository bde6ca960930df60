// internal/adapters/in/http/handler/migration_handler.go
package handler

import (
	"log"
	"net/http"
	"strings"
	"time"

	"cartengine/internal/adapters/in/http/middleware"
	usecase "cartengine/internal/application/usecase"
	cartdom "cartengine/internal/domain/cart"
)

// MigrationHandler serves the login-time cart migration:
//
//	POST /cart/login   merge or take over the guest cart into the user cart
//
// The user identifier comes from the verified auth token when present,
// otherwise from the request body.
type MigrationHandler struct {
	mig             *usecase.MigrationUsecase
	defaultStrategy cartdom.MergeStrategy
	allowStacking   bool
}

func NewMigrationHandler(mig *usecase.MigrationUsecase, defaultStrategy cartdom.MergeStrategy, allowStacking bool) *MigrationHandler {
	if defaultStrategy == "" {
		defaultStrategy = cartdom.MergeAddQuantities
	}
	return &MigrationHandler{mig: mig, defaultStrategy: defaultStrategy, allowStacking: allowStacking}
}

type loginReq struct {
	GuestID  string `json:"guestId"`
	UserID   string `json:"userId,omitempty"`
	Instance string `json:"instance,omitempty"`
	Strategy string `json:"strategy,omitempty"`
}

type loginResp struct {
	Cart        cartResp `json:"cart"`
	Strategy    string   `json:"strategy"`
	ItemsMerged int      `json:"itemsMerged"`
	Conflicts   bool     `json:"conflicts"`
	TookOver    bool     `json:"tookOver"`
}

func (h *MigrationHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if h.mig == nil {
		writeErr(w, http.StatusInternalServerError, "migration handler is not configured")
		return
	}

	var req loginReq
	if err := readJSON(r, &req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid json body")
		return
	}

	guestID := strings.TrimSpace(req.GuestID)
	if guestID == "" {
		guestID, _ = readCartKey(r, "")
	}

	// verified identity wins over the body
	userID := strings.TrimSpace(req.UserID)
	if uid, ok := middleware.UIDFromContext(r.Context()); ok {
		userID = uid
	}

	instance := strings.TrimSpace(req.Instance)
	if instance == "" {
		instance = cartdom.DefaultInstance
	}

	log.Printf("[migration_handler] enter guest=%q user=%q instance=%q strategy=%q", guestID, userID, instance, req.Strategy)

	if guestID == "" || userID == "" {
		writeErr(w, http.StatusBadRequest, "guestId and userId are required")
		return
	}

	var (
		report *usecase.MergeReport
		err    error
	)
	raw := strings.TrimSpace(req.Strategy)
	switch {
	case raw == "" && h.defaultStrategy == usecase.StrategyTakeover,
		cartdom.MergeStrategy(raw) == usecase.StrategyTakeover:
		report, err = h.mig.Takeover(r.Context(), guestID, userID, instance)
	default:
		strategy := h.defaultStrategy
		if raw != "" {
			strategy, err = cartdom.ParseMergeStrategy(raw)
			if err != nil {
				writeUsecaseErr(w, err)
				return
			}
		}
		report, err = h.mig.Merge(r.Context(), guestID, userID, instance, strategy)
	}
	if err != nil {
		log.Printf("[migration_handler] exit error guest=%q user=%q err=%v elapsed=%s", guestID, userID, err, time.Since(start))
		writeUsecaseErr(w, err)
		return
	}

	log.Printf("[migration_handler] exit ok guest=%q user=%q strategy=%s merged=%d tookOver=%t elapsed=%s",
		guestID, userID, report.Strategy, report.Outcome.ItemsMerged, report.TookOver, time.Since(start))

	resp := loginResp{
		Strategy:    string(report.Strategy),
		ItemsMerged: report.Outcome.ItemsMerged,
		Conflicts:   report.Outcome.HadConflicts,
		TookOver:    report.TookOver,
	}
	if report.Target != nil {
		resp.Cart = toCartResp(report.Target, h.allowStacking)
	} else {
		// neither side had a record; answer with the user's empty cart
		empty, err := cartdom.New(userID, instance)
		if err == nil {
			resp.Cart = toCartResp(empty, h.allowStacking)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
