package core

import "github.com/anurag-chakravarti/peerjs-video-call/internal/domain"

// Notifier receives call state changes for the control surface.
// Notify is called from the endpoint goroutine and must not call back into it synchronously.
type Notifier interface {
	Notify(n domain.Notification)
}

type NotifierFunc func(n domain.Notification)

func (f NotifierFunc) Notify(n domain.Notification) { f(n) }
