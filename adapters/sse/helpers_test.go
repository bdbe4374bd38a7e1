package sse_test

import (
	"io"
	"log/slog"
)

func init() {
	// 將日誌輸出重定向到io.Discard
	slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// Message 測試用的訊息，Topic 決定分送的主題
type Message struct {
	Topic string
	Data  string
}

func topicOf(m Message) string {
	return m.Topic
}
