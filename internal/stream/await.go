package stream

import "context"

// Await waits for the next event delivered by c for which match returns
// true. A nil match accepts any event. It returns ctx.Err() if ctx ends
// first and ErrClientClosed if the client is closed while waiting.
//
// Only events delivered after Await subscribes are considered.
func Await(ctx context.Context, c *StreamClient, match func(*Event) bool) (*Event, error) {
	found := make(chan *Event, 1)
	sub := c.Subscribe(func(e *Event) {
		if match != nil && !match(e) {
			return
		}
		select {
		case found <- e:
		default:
		}
	})
	defer c.Unsubscribe(sub)

	select {
	case e := <-found:
		return e, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.Done():
		// An event may have landed just before the close.
		select {
		case e := <-found:
			return e, nil
		default:
		}
		return nil, ErrClientClosed
	}
}

// AwaitType waits for the next event of the given type.
func AwaitType(ctx context.Context, c *StreamClient, msgType MessageType) (*Event, error) {
	return Await(ctx, c, func(e *Event) bool { return e.Is(msgType) })
}

// AwaitNotification waits for the next notification of the given kind and
// returns its body. An empty kind matches any notification.
func AwaitNotification(ctx context.Context, c *StreamClient, kind string) (*Notification, error) {
	e, err := Await(ctx, c, func(e *Event) bool {
		n, err := e.NotificationData()
		return err == nil && (kind == "" || n.Kind == kind)
	})
	if err != nil {
		return nil, err
	}
	return e.NotificationData()
}
