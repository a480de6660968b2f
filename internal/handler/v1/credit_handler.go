package v1

import (
	"github.com/gin-gonic/gin"

	"github.com/medibook/medibook/internal/domain/ledger"
	"github.com/medibook/medibook/internal/service"
)

type CreditHandler struct {
	creditSvc *service.CreditService
}

func NewCreditHandler(creditSvc *service.CreditService) *CreditHandler {
	return &CreditHandler{creditSvc: creditSvc}
}

func (h *CreditHandler) Balance(c *gin.Context) {
	claims, ok := callerClaims(c)
	if !ok {
		return
	}

	balance, err := h.creditSvc.Balance(c.Request.Context(), claims.UserID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, gin.H{"credits": balance})
}

func (h *CreditHandler) History(c *gin.Context) {
	claims, ok := callerClaims(c)
	if !ok {
		return
	}

	page, err := h.creditSvc.History(c.Request.Context(), &ledger.ListQuery{
		UserID:   claims.UserID,
		Page:     parseQueryInt(c, "page", 1),
		PageSize: parseQueryInt(c, "page_size", 20),
	})
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondOK(c, gin.H{
		"transactions": page.Transactions,
		"total":        page.TotalCount,
		"page":         page.Page,
		"page_size":    page.PageSize,
		"total_pages":  page.TotalPages,
	})
}

type purchaseRequest struct {
	PackageID string `json:"package_id" binding:"required"`
}

func (h *CreditHandler) Purchase(c *gin.Context) {
	claims, ok := callerClaims(c)
	if !ok {
		return
	}

	var req purchaseRequest
	if !bindJSON(c, &req) {
		return
	}

	txn, err := h.creditSvc.Purchase(c.Request.Context(), claims.UserID, req.PackageID, c.ClientIP())
	if err != nil {
		respondServiceError(c, err)
		return
	}
	respondCreated(c, txn)
}
