package httpapi

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"coursemail-engine/internal/secrets"
)

// NewMux returns the raw mux; Handler wraps it with the middleware chain.
func NewMux(d Deps) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: HealthHandler{Watcher: d.Watcher}.Health,
	}))

	// Watcher
	wh := WatchHandler{Watcher: d.Watcher}
	mux.HandleFunc("/status", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: wh.Status,
	}))
	mux.HandleFunc("/check", methodMux(map[string]http.HandlerFunc{
		http.MethodPost: wh.Check,
	}))

	// Assignments and courses
	ah := AssignmentsHandler{Store: d.Store, AccountID: d.AccountID}
	mux.HandleFunc("/assignments", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: ah.List,
	}))
	ch := CoursesHandler{Store: d.Store, AccountID: d.AccountID, Hub: d.Hub}
	mux.HandleFunc("/courses", methodMux(map[string]http.HandlerFunc{
		http.MethodGet:  ch.List,
		http.MethodPost: ch.Add,
	}))

	// Config
	if d.CfgVal != nil {
		cfh := ConfigHandler{
			CfgVal:      d.CfgVal,
			UserCfgPath: d.UserCfgPath,
			LoadCfg:     d.LoadCfg,
		}
		mux.HandleFunc("/config", methodMux(map[string]http.HandlerFunc{
			http.MethodGet: cfh.Get,
			http.MethodPut: cfh.Put,
		}))
		mux.HandleFunc("/config/validate", methodMux(map[string]http.HandlerFunc{
			http.MethodPost: cfh.Validate,
		}))

		setPw := d.SetPassword
		if setPw == nil {
			setPw = secrets.SetIMAPPassword
		}
		sh := SecretsHandler{CfgVal: d.CfgVal, SetPassword: setPw}
		mux.HandleFunc("/secrets/imap", methodMux(map[string]http.HandlerFunc{
			http.MethodPost: sh.SetIMAPPassword,
		}))
	}

	mux.HandleFunc("/db/checkpoint", methodMux(map[string]http.HandlerFunc{
		http.MethodPost: DBHandler{Store: d.Store}.Checkpoint,
	}))

	// SSE events
	eh := EventsHandler{Hub: d.Hub}
	mux.HandleFunc("/events", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: eh.ServeSSE,
	}))

	mux.Handle("/metrics", promhttp.Handler())

	return mux
}

func Handler(d Deps) http.Handler {
	lg := d.Logger
	if lg == nil {
		lg = slog.Default()
	}
	lg = lg.With("component", "http")
	return Chain(NewMux(d), RequestID, Recover(lg), AccessLog(lg), Cors)
}
