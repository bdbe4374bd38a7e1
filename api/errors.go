package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"bidcore/engine"

	"github.com/gin-gonic/gin"
	"github.com/samber/lo"
)

// retryAfter 取鎖失敗時建議客戶端等待的秒數
const retryAfter = 1

type ErrorResponse struct {
	Code    string  `json:"code"`
	Message string  `json:"message"`
	Minimum *string `json:"minimum,omitempty"`
}

type errorMapping struct {
	target error
	status int
	code   string
}

// 順序即比對的優先順序
var errorMappings = []errorMapping{
	{engine.ErrInvalidAmount, http.StatusBadRequest, "INVALID_AMOUNT"},
	{engine.ErrInvalidTerms, http.StatusBadRequest, "INVALID_TERMS"},
	{engine.ErrSelfBid, http.StatusForbidden, "SELF_BID"},
	{engine.ErrNotWinner, http.StatusForbidden, "NOT_WINNER"},
	{engine.ErrForbidden, http.StatusForbidden, "FORBIDDEN"},
	{engine.ErrAuctionEnded, http.StatusGone, "AUCTION_ENDED"},
	{engine.ErrAuctionActive, http.StatusConflict, "AUCTION_ACTIVE"},
	{engine.ErrAlreadyPaid, http.StatusConflict, "ALREADY_PAID"},
	{engine.ErrHasBids, http.StatusConflict, "HAS_BIDS"},
	{engine.ErrDuplicateItem, http.StatusConflict, "DUPLICATE_ITEM"},
	{engine.ErrBusy, http.StatusServiceUnavailable, "BUSY"},
	{engine.ErrItemNotFound, http.StatusNotFound, "ITEM_NOT_FOUND"},
	{engine.ErrReceiptNotFound, http.StatusNotFound, "RECEIPT_NOT_FOUND"},
}

// writeError 將引擎的錯誤轉成 HTTP 回應
func (s *Server) writeError(c *gin.Context, op string, err error) {
	status, body := errorResponse(err)
	switch engine.ClassOf(err) {
	case engine.ClassContention:
		c.Header("Retry-After", strconv.Itoa(retryAfter))
		s.logger.Warn("Request rejected by contention", slog.String("op", op))
	case engine.ClassUnknown:
		s.logger.Error("Request failed", slog.String("op", op), slog.Any("error", err))
	}
	c.AbortWithStatusJSON(status, body)
}

func errorResponse(err error) (int, ErrorResponse) {
	var tooLow *engine.BidTooLowError
	if errors.As(err, &tooLow) {
		return http.StatusBadRequest, ErrorResponse{
			Code:    "BID_TOO_LOW",
			Message: err.Error(),
			Minimum: lo.ToPtr(formatMoney(tooLow.Minimum)),
		}
	}
	for _, mapping := range errorMappings {
		if errors.Is(err, mapping.target) {
			return mapping.status, ErrorResponse{Code: mapping.code, Message: err.Error()}
		}
	}
	return http.StatusInternalServerError, ErrorResponse{Code: "INTERNAL", Message: "internal server error"}
}
