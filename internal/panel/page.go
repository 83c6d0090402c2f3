package panel

import (
	"bytes"
	"embed"
	"html/template"
	"net/http"
	"net/url"
	"strings"

	"github.com/govind123143/changecalculator/internal/gateway"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

//go:embed templates/*.html
var templateFiles embed.FS

// The patterns mirror the server-side checks so browsers refuse to submit a
// malformed field. A price may be zero; a payment may not.
const (
	pricePattern = `[0-9]+(\.[0-9]+)?|\.[0-9]+`
	payPattern   = `0*[1-9][0-9]*(\.[0-9]+)?|0*\.[0-9]*[1-9][0-9]*`
)

type pageRenderer struct {
	tmpl *template.Template
}

func newPageRenderer() (*pageRenderer, error) {
	tmpl, err := template.ParseFS(templateFiles, "templates/*.html")
	if err != nil {
		return nil, err
	}
	return &pageRenderer{tmpl: tmpl}, nil
}

type pageView struct {
	Network  string
	Symbol   string
	Contract string
	Snapshot gateway.Snapshot
	Owner    string

	Account   string
	Connected bool
	IsOwner   bool

	Status gateway.Status
	Busy   bool
	Notice string
	// OwnerLocked disables the owner-only buttons.
	OwnerLocked bool

	PayPattern    string
	PricePattern  string
	PayNonce      string
	PriceNonce    string
	WithdrawNonce string
}

func (s *Server) buildView(notice string) pageView {
	snap := s.gw.Snapshot()
	st := s.gw.Status()
	v := pageView{
		Network:       s.cfg.Network,
		Symbol:        s.cfg.NativeSymbol,
		Contract:      s.cfg.ContractAddress,
		Snapshot:      snap,
		Status:        st,
		Busy:          st.Pending,
		Notice:        notice,
		PayPattern:    payPattern,
		PricePattern:  pricePattern,
		PayNonce:      uuid.NewString(),
		PriceNonce:    uuid.NewString(),
		WithdrawNonce: uuid.NewString(),
	}
	if snap.Owner != nil {
		v.Owner = snap.Owner.Hex()
	}
	if acct, ok := s.gw.Account(); ok {
		v.Account = acct.Hex()
		v.Connected = true
		v.IsOwner = snap.IsOwner(v.Account)
	}
	v.OwnerLocked = v.Busy || !v.IsOwner
	return v
}

func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := s.page.tmpl.ExecuteTemplate(&buf, "panel", s.buildView(r.URL.Query().Get("notice"))); err != nil {
		s.log.Error("render panel", zap.Error(err))
		http.Error(w, "failed to render panel", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = buf.WriteTo(w)
}

// handleFormAction submits a browser form and redirects back to the page.
// Submission failures show up through the gateway status; local validation
// failures leave the status untouched, so they travel as a notice instead.
func (s *Server) handleFormAction(w http.ResponseWriter, r *http.Request) {
	action, ok := actionFromPath(chi.URLParam(r, "action"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	if err := r.ParseForm(); err != nil {
		redirectWithNotice(w, r, "could not read form")
		return
	}
	nonce := strings.TrimSpace(r.PostForm.Get("nonce"))
	if nonce == "" {
		redirectWithNotice(w, r, "form expired, please retry")
		return
	}

	_, _, _, err := s.submit(r.Context(), nonce, gateway.Request{
		Action: action,
		Amount: r.PostForm.Get("amount"),
	})
	if err != nil {
		s.log.Info("form action refused",
			zap.String("action", string(action)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
		if errorStatus(err) == http.StatusBadRequest {
			redirectWithNotice(w, r, err.Error())
			return
		}
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func redirectWithNotice(w http.ResponseWriter, r *http.Request, notice string) {
	http.Redirect(w, r, "/?notice="+url.QueryEscape(notice), http.StatusSeeOther)
}
