package redis

// IProducer 將資料寫入 Redis stream
type IProducer[T any] interface {
	Start()
	Publish(data T) error
	Close()
}

// IGroupConsumer 以 consumer group 讀取 stream，每則訊息處理完都要 Done 或 Fail
type IGroupConsumer[T any] interface {
	Start() error
	Subscribe() <-chan *Message[T]
	Close() error
}

// IConsumer 從 stream 的尾端開始讀取，不做 ack，適合廣播用途
type IConsumer[T any] interface {
	Start()
	Subscribe() <-chan T
	Close()
}
