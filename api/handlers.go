package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"bidcore/engine"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

// RegisterRoutes 註冊所有路由
func (s *Server) RegisterRoutes(router gin.IRouter) {
	router.Use(s.serverTime)

	router.GET("/time", s.GetTime)
	router.GET("/auction/items", s.GetAuctionItems)
	router.GET("/auction/item/:itemID", s.GetAuctionItemItemID)
	router.GET("/auction/item/:itemID/events", s.GetAuctionItemItemIDEvents)

	authorized := router.Group("", s.requireActor)
	authorized.POST("/auction/item", s.PostAuctionItem)
	authorized.DELETE("/auction/item/:itemID", s.DeleteAuctionItemItemID)
	authorized.POST("/auction/item/:itemID/bids", s.PostAuctionItemItemIDBids)
	authorized.GET("/auction/item/:itemID/payment", s.GetAuctionItemItemIDPayment)
	authorized.POST("/auction/item/:itemID/payment", s.PostAuctionItemItemIDPayment)
	authorized.GET("/auction/item/:itemID/receipt", s.GetAuctionItemItemIDReceipt)
	authorized.GET("/user/won-items", s.GetUserWonItems)
	authorized.GET("/user/bids", s.GetUserBids)
}

// serverTime 每個回應都帶上伺服器時間，讓客戶端校正倒數
func (s *Server) serverTime(c *gin.Context) {
	c.Header("X-Server-Time", s.engine.Now().UTC().Format(time.RFC3339Nano))
	c.Next()
}

func itemIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("itemID"))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Code: "INVALID_ID", Message: "item id must be a uuid"})
		return uuid.Nil, false
	}
	return id, true
}

// bindOptionalJSON 允許空的 body
func bindOptionalJSON(c *gin.Context, obj any) bool {
	if err := c.ShouldBindJSON(obj); err != nil && !errors.Is(err, io.EOF) {
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Code: "INVALID_REQUEST", Message: err.Error()})
		return false
	}
	return true
}

// Get server time
// (GET /time)
func (s *Server) GetTime(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"serverTime": s.engine.Now().UTC()})
}

// List auction items
// (GET /auction/items)
func (s *Server) GetAuctionItems(c *gin.Context) {
	const op = "GetAuctionItems"
	filter := engine.ListFilter{}
	if active := c.Query("active"); active != "" {
		activeOnly, err := strconv.ParseBool(active)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Code: "INVALID_REQUEST", Message: "active must be a boolean"})
			return
		}
		filter.ActiveOnly = activeOnly
	}
	if seller := c.Query("seller"); seller != "" {
		sellerID, err := uuid.Parse(seller)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Code: "INVALID_REQUEST", Message: "seller must be a uuid"})
			return
		}
		filter.SellerID = &sellerID
	}
	snapshots, err := s.engine.List(c.Request.Context(), filter)
	if err != nil {
		s.writeError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count": len(snapshots),
		"items": lo.Map(snapshots, func(snapshot engine.Snapshot, _ int) ItemResponse { return newItemResponse(snapshot) }),
	})
}

// Add a new auction item
// (POST /auction/item)
func (s *Server) PostAuctionItem(c *gin.Context) {
	const op = "PostAuctionItem"
	var request CreateItemRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, ErrorResponse{Code: "INVALID_REQUEST", Message: err.Error()})
		return
	}
	// 處理標題與描述中的HTML
	request.Title = s.htmlChecker.Sanitize(request.Title)
	request.Description = s.htmlChecker.Sanitize(request.Description)

	snapshot, err := s.engine.Register(c.Request.Context(), request.toItem(actorOf(c)))
	if err != nil {
		s.writeError(c, op, err)
		return
	}
	c.Header("Location", "/auction/item/"+snapshot.Item.ID.String())
	c.JSON(http.StatusCreated, newItemResponse(snapshot))
}

// Get auction item details
// (GET /auction/item/{itemID})
func (s *Server) GetAuctionItemItemID(c *gin.Context) {
	const op = "GetAuctionItemItemID"
	itemID, ok := itemIDParam(c)
	if !ok {
		return
	}
	snapshot, err := s.engine.Get(c.Request.Context(), itemID)
	if err != nil {
		s.writeError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, newItemResponse(snapshot))
}

// Remove an auction item
// (DELETE /auction/item/{itemID})
func (s *Server) DeleteAuctionItemItemID(c *gin.Context) {
	const op = "DeleteAuctionItemItemID"
	itemID, ok := itemIDParam(c)
	if !ok {
		return
	}
	if err := s.engine.Remove(c.Request.Context(), itemID, actorOf(c)); err != nil {
		s.writeError(c, op, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Place a bid on an auction item
// (POST /auction/item/{itemID}/bids)
func (s *Server) PostAuctionItemItemIDBids(c *gin.Context) {
	const op = "PostAuctionItemItemIDBids"
	itemID, ok := itemIDParam(c)
	if !ok {
		return
	}
	var request BidRequest
	if !bindOptionalJSON(c, &request) {
		return
	}
	snapshot, err := s.engine.Submit(c.Request.Context(), engine.BidRequest{
		ItemID:  itemID,
		ActorID: actorOf(c),
		Amount:  request.Amount,
	})
	if err != nil {
		s.writeError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, newItemResponse(snapshot))
}

// Preview payment totals of a won auction item
// (GET /auction/item/{itemID}/payment)
func (s *Server) GetAuctionItemItemIDPayment(c *gin.Context) {
	const op = "GetAuctionItemItemIDPayment"
	itemID, ok := itemIDParam(c)
	if !ok {
		return
	}
	options, err := s.engine.PaymentOptions(c.Request.Context(), itemID, actorOf(c))
	if err != nil {
		s.writeError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, newPaymentOptionsResponse(options))
}

// Pay for a won auction item
// (POST /auction/item/{itemID}/payment)
func (s *Server) PostAuctionItemItemIDPayment(c *gin.Context) {
	const op = "PostAuctionItemItemIDPayment"
	itemID, ok := itemIDParam(c)
	if !ok {
		return
	}
	var request PaymentRequest
	if !bindOptionalJSON(c, &request) {
		return
	}
	receipt, err := s.engine.Pay(c.Request.Context(), engine.PaymentRequest{
		ItemID:            itemID,
		ActorID:           actorOf(c),
		ExpeditedShipping: request.ExpeditedShipping,
		PaymentMethod:     request.PaymentMethod,
	})
	if err != nil {
		s.writeError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, newReceiptResponse(receipt))
}

// Get the receipt of a paid auction item
// (GET /auction/item/{itemID}/receipt)
func (s *Server) GetAuctionItemItemIDReceipt(c *gin.Context) {
	const op = "GetAuctionItemItemIDReceipt"
	itemID, ok := itemIDParam(c)
	if !ok {
		return
	}
	receipt, err := s.engine.Receipt(c.Request.Context(), itemID, actorOf(c))
	if err != nil {
		s.writeError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, newReceiptResponse(receipt))
}

// List auction items won by the user
// (GET /user/won-items)
func (s *Server) GetUserWonItems(c *gin.Context) {
	const op = "GetUserWonItems"
	won, err := s.engine.WonItems(c.Request.Context(), actorOf(c))
	if err != nil {
		s.writeError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, newWonItemsResponse(won))
}

// List bids placed by the user
// (GET /user/bids)
func (s *Server) GetUserBids(c *gin.Context) {
	const op = "GetUserBids"
	bids, err := s.engine.UserBids(c.Request.Context(), actorOf(c))
	if err != nil {
		s.writeError(c, op, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count": len(bids),
		"bids":  lo.Map(bids, newUserBidResponse),
	})
}

// Track auction item events
// (GET /auction/item/{itemID}/events)
func (s *Server) GetAuctionItemItemIDEvents(c *gin.Context) {
	const op = "GetAuctionItemItemIDEvents"
	itemID, ok := itemIDParam(c)
	if !ok {
		return
	}
	// 先訂閱再讀取狀態，避免漏掉兩者之間的事件
	topic := itemID.String()
	ch, err := s.sseManager.Subscribe(topic)
	if err != nil {
		s.writeError(c, op, err)
		return
	}
	defer s.sseManager.Unsubscribe(topic, ch)

	snapshot, err := s.engine.Get(c.Request.Context(), itemID)
	if err != nil {
		s.writeError(c, op, err)
		return
	}
	// 檢查拍賣物品是否已經結束拍賣
	if !snapshot.Item.IsActive {
		c.AbortWithStatusJSON(http.StatusGone, ErrorResponse{Code: "AUCTION_ENDED", Message: engine.ErrAuctionEnded.Error()})
		return
	}

	// SSE請求合法，開始初始化串流
	w := c.Writer
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	c.SSEvent("snapshot", newItemResponse(snapshot))
	w.Flush()

	keepAlive := time.NewTicker(s.keepAlive)
	defer keepAlive.Stop()
	for {
		select {
		case <-c.Request.Context().Done():
			return
		case event, ok := <-ch:
			if !ok {
				return
			}
			c.SSEvent(string(event.Kind), newEventResponse(event))
			w.Flush()
			// 拍賣結束後不會再有出價，關閉串流
			if !event.Item.IsActive {
				return
			}
		// 一段時間沒有事件就發送一個空行，確保瀏覽器和Cloudflare不會斷開連線
		case <-keepAlive.C:
			// 結束事件可能因為訂閱者太慢被略過，定期確認商品狀態
			current, err := s.engine.Get(c.Request.Context(), itemID)
			if errors.Is(err, engine.ErrItemNotFound) || err == nil && !current.Item.IsActive {
				return
			}
			w.WriteString(": keep-alive\n\n")
			w.Flush()
		}
	}
}
