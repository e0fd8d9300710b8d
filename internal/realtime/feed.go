// Package realtime 把变更通知转成客户端会话的刷新请求
package realtime

import "sudooom.im.messaging/internal/model"

// Handler 处理单个用户的变更事件
type Handler func(evt *model.ChangeEvent)

// Subscription 用户变更通道上的订阅
// Lost 底层连接丢失订阅时关闭
// Unsubscribe 连接已断开时也必须成功
type Subscription interface {
	Lost() <-chan struct{}
	Unsubscribe() error
}

// Feed 按用户投递变更事件，用户只能订阅自己的通道
type Feed interface {
	Subscribe(userID int64, handler Handler) (Subscription, error)
}
