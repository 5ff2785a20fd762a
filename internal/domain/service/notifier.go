package service

import "shopchat/internal/domain/entity"

// Notifier performs the audible/visual alert side effect for an incoming
// message. Implementations must tolerate being called from the dispatch
// goroutine and should return quickly.
type Notifier interface {
	Notify(conversation entity.Conversation, message entity.Message)
}
