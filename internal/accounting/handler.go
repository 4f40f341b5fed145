package accounting

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Handler wires finance ledger endpoints.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler builds a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers HTTP routes for the ledger module.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/finance/accounts", h.listAccounts)
	r.Post("/finance/accounts", h.createAccount)
	r.Get("/finance/accounts/{code}", h.showAccount)
	r.Patch("/finance/accounts/{code}", h.updateAccount)
	r.Get("/finance/accounts/{code}/balance", h.showBalance)
	r.Get("/finance/journals", h.listJournals)
	r.Post("/finance/journals", h.postJournal)
	r.Get("/finance/journals/{id}", h.showJournal)
	r.Get("/finance/reports/trial-balance", h.trialBalance)
	r.Get("/finance/reports/pl", h.profitAndLoss)
	r.Get("/finance/reports/bs", h.balanceSheet)
}

type createAccountRequest struct {
	Code           string          `json:"code" validate:"required"`
	Name           string          `json:"name" validate:"required"`
	Type           AccountType     `json:"type" validate:"required,oneof=ASSET LIABILITY EQUITY INCOME EXPENSE"`
	ParentCode     string          `json:"parent_code"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
}

type updateAccountRequest struct {
	Name     *string `json:"name"`
	IsActive *bool   `json:"is_active"`
}

type journalLineRequest struct {
	AccountCode string          `json:"account_code" validate:"required"`
	Debit       decimal.Decimal `json:"debit"`
	Credit      decimal.Decimal `json:"credit"`
	Memo        string          `json:"memo"`
}

type postJournalRequest struct {
	Date        time.Time            `json:"date"`
	Description string               `json:"description"`
	Lines       []journalLineRequest `json:"lines" validate:"min=2,dive"`
}

func (h *Handler) listAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.service.ListAccounts(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, accounts)
}

func (h *Handler) createAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	acc, err := h.service.CreateAccount(r.Context(), CreateAccountInput{
		Code: req.Code, Name: req.Name, Type: req.Type, ParentCode: req.ParentCode, OpeningBalance: req.OpeningBalance,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, acc)
}

func (h *Handler) showAccount(w http.ResponseWriter, r *http.Request) {
	acc, err := h.service.GetAccount(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, acc)
}

func (h *Handler) updateAccount(w http.ResponseWriter, r *http.Request) {
	var req updateAccountRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	acc, err := h.service.UpdateAccount(r.Context(), chi.URLParam(r, "code"), UpdateAccountInput{Name: req.Name, IsActive: req.IsActive})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, acc)
}

func (h *Handler) showBalance(w http.ResponseWriter, r *http.Request) {
	bal, err := h.service.GetBalance(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, bal)
}

func (h *Handler) listJournals(w http.ResponseWriter, r *http.Request) {
	journals, err := h.service.ListJournals(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
	items, meta := shared.Paginate(journals, page, perPage)
	httpx.JSON(w, http.StatusOK, map[string]any{"data": items, "pagination": meta})
}

func (h *Handler) postJournal(w http.ResponseWriter, r *http.Request) {
	var req postJournalRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	input := PostingInput{
		Date:         req.Date,
		Description:  req.Description,
		SourceModule: "manual",
		SourceID:     uuid.New(),
	}
	for _, line := range req.Lines {
		input.Lines = append(input.Lines, PostingLineInput{
			AccountID: AccountID(line.AccountCode), Debit: line.Debit, Credit: line.Credit, Memo: line.Memo,
		})
	}
	journal, err := h.service.PostJournal(r.Context(), input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.logger.Info("manual journal posted", slog.String("journal", journal.ReferenceNo))
	httpx.JSON(w, http.StatusCreated, journal)
}

func (h *Handler) showJournal(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, shared.Invalid("id", "must be a uuid"))
		return
	}
	journal, err := h.service.GetJournal(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, journal)
}

func (h *Handler) trialBalance(w http.ResponseWriter, r *http.Request) {
	tb, err := h.service.TrialBalance(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, tb)
}

func (h *Handler) profitAndLoss(w http.ResponseWriter, r *http.Request) {
	pl, err := h.service.ProfitAndLoss(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, pl)
}

func (h *Handler) balanceSheet(w http.ResponseWriter, r *http.Request) {
	bs, err := h.service.BalanceSheet(r.Context())
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, bs)
}
