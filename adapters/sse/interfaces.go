package sse

// IChannel 單一主題的訂閱者集合
type IChannel[T any] interface {
	// Subscribe 建立一個新的訂閱並回傳接收訊息的通道
	Subscribe() <-chan T
	// Unsubscribe 取消訂閱並關閉通道
	Unsubscribe(ch <-chan T)
	// UnsubscribeAll 取消所有訂閱
	UnsubscribeAll()
	// Broadcast 將訊息送給所有訂閱者，回傳因為緩衝區已滿而被略過的訂閱者數量
	Broadcast(message T) int
	// IsIdle 是否沒有任何訂閱者
	IsIdle() bool
}

// IManager 依主題管理 SSE 訂閱
type IManager[T any] interface {
	// Start 開始從 source 讀取訊息並依主題分送，source 關閉後停止
	Start(source <-chan T)
	// Done 停止並關閉所有訂閱
	Done()
	Subscribe(topic string) (<-chan T, error)
	Unsubscribe(topic string, ch <-chan T)
	// Publish 直接在本地分送訊息，不經過 source
	Publish(data T) error
}
