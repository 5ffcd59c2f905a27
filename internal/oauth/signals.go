package oauth

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/desertthunder/agx/internal/bridge"
	"github.com/desertthunder/agx/internal/commands"
)

// SignalKind identifies an asynchronous notification.
type SignalKind int

const (
	// SignalCallback means the browser step finished.
	SignalCallback SignalKind = iota
	// SignalURLGenerated carries an authorization URL produced by the shell.
	SignalURLGenerated
)

// Signal is an asynchronous notification for the flow.
type Signal struct {
	Kind SignalKind
	// Code is set by the web redirect listener.
	Code string
	URL  string
	Err  error
}

// HandleSignal applies sig if the flow still accepts it and reports whether it was acted on.
func (c *Controller) HandleSignal(ctx context.Context, sig Signal) bool {
	c.mu.Lock()

	if sig.Kind == SignalURLGenerated {
		applied := false
		if c.open && c.tab == TabOAuth && sig.URL != "" && (c.session.Phase == Idle || c.session.Phase == URLPrepared) {
			c.reserved = true
			c.update(func(s *Session) {
				s.Phase = URLPrepared
				s.AuthorizationURL = sig.URL
			})
			applied = true
		}
		c.mu.Unlock()
		return applied
	}

	if err := c.acceptLocked(); err != nil {
		c.logger.Debug("ignoring completion signal", "phase", c.session.Phase, "open", c.open, "tab", c.tab)
		c.mu.Unlock()
		return false
	}
	gen := c.gen

	if sig.Err != nil {
		c.reserved = false
		c.update(func(s *Session) {
			s.Phase = Failed
			s.LastError = Classify("Authorization", sig.Err)
		})
		c.mu.Unlock()
		if c.variant == VariantWeb {
			c.closeListener()
		}
		return true
	}

	if c.variant == VariantBridge {
		c.update(func(s *Session) {
			s.Phase = Exchanging
			s.LastError = ""
		})
		c.mu.Unlock()

		res, err := c.sender.Dispatch(ctx, commands.CompleteOAuthLogin, nil)
		c.complete(ctx, gen, "Completing authorization", res, err)
		return true
	}

	if sig.Code == "" {
		c.mu.Unlock()
		return false
	}
	c.update(func(s *Session) {
		s.PastedCode = sig.Code
		s.Phase = Exchanging
		s.LastError = ""
	})
	c.mu.Unlock()

	c.exchange(ctx, gen, sig.Code)
	return true
}

// Watch applies signals until ctx ends or the channel closes.
func (c *Controller) Watch(ctx context.Context, signals <-chan Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-signals:
			if !ok {
				return
			}
			c.HandleSignal(ctx, sig)
		}
	}
}

// EventSource is the subscription surface of the bridge client.
type EventSource interface {
	Subscribe(name string) (<-chan bridge.Event, func())
}

// BridgeSignals converts the shell's OAuth events into signals. The returned function ends both subscriptions.
func BridgeSignals(src EventSource) (<-chan Signal, func()) {
	urls, stopURLs := src.Subscribe(bridge.EventOAuthURLGenerated)
	callbacks, stopCallbacks := src.Subscribe(bridge.EventOAuthCallbackReceived)

	out := make(chan Signal, 4)
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for ev := range urls {
			var url string
			if err := json.Unmarshal(ev.Payload, &url); err != nil || url == "" {
				continue
			}
			out <- Signal{Kind: SignalURLGenerated, URL: url}
		}
	}()
	go func() {
		defer wg.Done()
		for range callbacks {
			out <- Signal{Kind: SignalCallback}
		}
	}()
	go func() {
		wg.Wait()
		close(out)
	}()

	return out, func() {
		stopURLs()
		stopCallbacks()
	}
}
