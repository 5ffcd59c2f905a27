package oauth

import (
	"context"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/agx/internal/commands"
	"github.com/desertthunder/agx/internal/dispatch"
	"github.com/desertthunder/agx/internal/models"
	"github.com/desertthunder/agx/internal/server"
	"github.com/desertthunder/agx/internal/shared"
)

// Phase is the position of an authorization attempt.
type Phase int

const (
	Idle Phase = iota
	URLPrepared
	AwaitingCompletion
	Exchanging
	Succeeded
	Failed
	Cancelled
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case URLPrepared:
		return "url prepared"
	case AwaitingCompletion:
		return "awaiting completion"
	case Exchanging:
		return "exchanging"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Tab is an add-account dialog tab.
type Tab string

const (
	TabOAuth  Tab = "oauth"
	TabToken  Tab = "token"
	TabImport Tab = "import"
)

// Variant selects the command set used for the flow.
type Variant int

const (
	// VariantBridge lets the desktop shell run the browser flow and exchange.
	VariantBridge Variant = iota
	// VariantWeb asks the admin API for a URL and exchanges a pasted or captured code.
	VariantWeb
)

// Session is the state of one authorization attempt.
type Session struct {
	Phase            Phase
	AuthorizationURL string
	PastedCode       string
	LastError        string
	Message          string
	Account          *models.OAuthAccount
}

// Listener reserves the local redirect port for the web variant.
type Listener interface {
	Listen() (<-chan server.CallbackResult, error)
	Close() error
}

// Refresher reloads accounts and quotas after an account was added.
type Refresher interface {
	RefreshAfterAdd(ctx context.Context) error
}

// Opts configures a [Controller].
type Opts struct {
	// Listener is used by the web variant to capture the redirect. Optional.
	Listener Listener
	// OpenBrowser opens the authorization URL for the web variant. Optional.
	OpenBrowser func(url string) error
	Refresher   Refresher
	Logger      *log.Logger
}

// Controller runs the add-account authorization flow for one dialog.
type Controller struct {
	sender  dispatch.Sender
	variant Variant
	opts    Opts
	logger  *log.Logger

	mu        sync.Mutex
	open      bool
	tab       Tab
	session   Session
	reserved  bool
	preparing int
	gen       int
	listeners []chan Session
}

// New creates a controller. The variant follows the sender's transport.
func New(sender dispatch.Sender, opts Opts) *Controller {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	variant := VariantWeb
	if sender.Kind() == dispatch.TransportBridge {
		variant = VariantBridge
	}
	return &Controller{
		sender:  sender,
		variant: variant,
		opts:    opts,
		logger:  shared.WithLogger(opts.Logger, "component", "oauth"),
		tab:     TabOAuth,
	}
}

// Variant returns the active command set.
func (c *Controller) Variant() Variant { return c.variant }

// Session returns a copy of the current attempt.
func (c *Controller) Session() Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Tab returns the active dialog tab.
func (c *Controller) Tab() Tab {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tab
}

// IsOpen reports whether the dialog is open.
func (c *Controller) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// Subscribe returns a channel receiving every session change. Slow subscribers miss intermediate states.
func (c *Controller) Subscribe() <-chan Session {
	ch := make(chan Session, 8)
	c.mu.Lock()
	c.listeners = append(c.listeners, ch)
	c.mu.Unlock()
	return ch
}

// update mutates the session and notifies subscribers. Callers hold c.mu.
func (c *Controller) update(fn func(*Session)) {
	prev := c.session.Phase
	fn(&c.session)
	if prev != c.session.Phase {
		c.logger.Debug("oauth phase", "from", prev, "to", c.session.Phase)
	}
	for _, ch := range c.listeners {
		select {
		case ch <- c.session:
		default:
		}
	}
}

// Open shows the dialog on tab with a fresh session. On the OAuth tab the URL is prepared right away.
func (c *Controller) Open(ctx context.Context, tab Tab) error {
	c.mu.Lock()
	c.open = true
	c.tab = tab
	c.gen++
	c.update(func(s *Session) { *s = Session{Phase: Idle} })
	c.mu.Unlock()

	if tab == TabOAuth {
		return c.Prepare(ctx)
	}
	return nil
}

// SwitchTab changes tabs. Leaving the OAuth tab cancels the attempt; returning to it starts a new one.
func (c *Controller) SwitchTab(ctx context.Context, tab Tab) error {
	c.mu.Lock()
	if !c.open {
		c.mu.Unlock()
		return shared.ErrInvalidState
	}
	prev := c.tab
	if prev == tab {
		c.mu.Unlock()
		return nil
	}
	c.tab = tab
	c.mu.Unlock()

	if prev == TabOAuth {
		c.Cancel(ctx)
	}

	if tab == TabOAuth {
		c.mu.Lock()
		c.gen++
		c.update(func(s *Session) { *s = Session{Phase: Idle} })
		c.mu.Unlock()
		return c.Prepare(ctx)
	}
	return nil
}

// Close cancels any prepared attempt and discards the session.
func (c *Controller) Close(ctx context.Context) {
	c.Cancel(ctx)

	c.mu.Lock()
	c.open = false
	c.gen++
	c.update(func(s *Session) { *s = Session{Phase: Idle} })
	c.mu.Unlock()
}

// Prepare obtains the authorization URL and reserves the flow's resources.
func (c *Controller) Prepare(ctx context.Context) error {
	c.mu.Lock()
	if !c.open || c.tab != TabOAuth {
		c.mu.Unlock()
		return shared.ErrInvalidState
	}
	switch c.session.Phase {
	case URLPrepared:
		c.mu.Unlock()
		return nil
	case AwaitingCompletion, Exchanging:
		c.mu.Unlock()
		return shared.ErrBusy
	}
	gen := c.gen
	c.preparing++
	c.update(func(s *Session) { *s = Session{Phase: Idle} })
	c.mu.Unlock()

	url, err := c.fetchURL(ctx)

	c.mu.Lock()
	c.preparing--
	stale := gen != c.gen || !c.open || c.tab != TabOAuth
	if err != nil {
		if !stale {
			c.update(func(s *Session) {
				s.Phase = Failed
				s.LastError = Classify("Preparing authorization", err)
			})
		}
		c.mu.Unlock()
		return err
	}
	if stale {
		// A newer attempt owns the backend flow and the listener once it
		// has reserved them or is still fetching its own URL.
		release := !c.reserved && c.preparing == 0
		c.mu.Unlock()
		if release {
			c.release(ctx)
		}
		return nil
	}
	c.reserved = true
	c.update(func(s *Session) {
		s.Phase = URLPrepared
		s.AuthorizationURL = url
	})
	c.mu.Unlock()

	if c.variant == VariantWeb {
		c.listen(ctx, gen)
	}
	return nil
}

func (c *Controller) fetchURL(ctx context.Context) (string, error) {
	name := commands.WebOAuthURL
	if c.variant == VariantBridge {
		name = commands.PrepareOAuthURL
	}
	url, err := dispatch.Call[string](ctx, c.sender, name, nil)
	if err != nil {
		return "", err
	}
	if url == "" {
		return "", shared.Validationf("backend returned an empty authorization URL")
	}
	return url, nil
}

// listen reserves the redirect port and forwards the captured code as a completion signal.
func (c *Controller) listen(ctx context.Context, gen int) {
	if c.opts.Listener == nil {
		return
	}
	results, err := c.opts.Listener.Listen()
	if err != nil {
		c.logger.Warn("redirect listener unavailable, paste the code instead", "error", err)
		return
	}

	go func() {
		res, ok := <-results
		if !ok {
			return
		}
		c.mu.Lock()
		current := gen == c.gen
		c.mu.Unlock()
		if !current {
			return
		}
		c.HandleSignal(ctx, Signal{Kind: SignalCallback, Code: res.Code, Err: res.Error()})
	}()
}

// Start opens the authorization page.
//
// On the bridge the shell's start call runs the whole browser round trip and exchange, so the attempt is
// Exchanging until it returns.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if !c.open || c.tab != TabOAuth {
		c.mu.Unlock()
		return shared.ErrInvalidState
	}
	switch c.session.Phase {
	case AwaitingCompletion, Exchanging:
		c.mu.Unlock()
		return shared.ErrBusy
	case URLPrepared:
	default:
		c.mu.Unlock()
		return shared.ErrInvalidState
	}
	gen := c.gen
	url := c.session.AuthorizationURL

	if c.variant == VariantBridge {
		c.update(func(s *Session) {
			s.Phase = AwaitingCompletion
			s.LastError = ""
		})
		c.update(func(s *Session) { s.Phase = Exchanging })
		c.mu.Unlock()

		res, err := c.sender.Dispatch(ctx, commands.StartOAuthLogin, nil)
		return c.complete(ctx, gen, "Authorization", res, err)
	}

	c.update(func(s *Session) {
		s.Phase = AwaitingCompletion
		s.LastError = ""
	})
	c.mu.Unlock()

	if c.opts.OpenBrowser != nil {
		if err := c.opts.OpenBrowser(url); err != nil {
			c.logger.Warn("failed to open browser", "error", err)
			c.mu.Lock()
			if gen == c.gen {
				c.update(func(s *Session) { s.Message = "Open the authorization URL manually." })
			}
			c.mu.Unlock()
		}
	}
	return nil
}

// Finish completes the flow after the user says the browser step is done.
func (c *Controller) Finish(ctx context.Context) error {
	c.mu.Lock()
	if err := c.acceptLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	gen := c.gen

	if c.variant == VariantBridge {
		c.update(func(s *Session) {
			s.Phase = Exchanging
			s.LastError = ""
		})
		c.mu.Unlock()

		res, err := c.sender.Dispatch(ctx, commands.CompleteOAuthLogin, nil)
		return c.complete(ctx, gen, "Completing authorization", res, err)
	}

	code := c.session.PastedCode
	if code == "" {
		err := shared.Validationf("paste the authorization code shown after sign-in")
		c.update(func(s *Session) { s.LastError = err.Error() })
		c.mu.Unlock()
		return err
	}
	c.update(func(s *Session) {
		s.Phase = Exchanging
		s.LastError = ""
	})
	c.mu.Unlock()

	return c.exchange(ctx, gen, code)
}

// SubmitCode exchanges a pasted code or redirect URL. Empty input fails without contacting the backend.
func (c *Controller) SubmitCode(ctx context.Context, input string) error {
	code, err := ExtractCode(input)

	c.mu.Lock()
	if !c.open {
		c.mu.Unlock()
		return shared.ErrInvalidState
	}
	if err != nil {
		c.update(func(s *Session) { s.LastError = err.Error() })
		c.mu.Unlock()
		return err
	}
	switch c.session.Phase {
	case Exchanging:
		c.mu.Unlock()
		return shared.ErrBusy
	case Succeeded:
		c.mu.Unlock()
		return shared.ErrInvalidState
	}
	gen := c.gen
	c.update(func(s *Session) {
		s.PastedCode = code
		s.Phase = Exchanging
		s.LastError = ""
	})
	c.mu.Unlock()

	return c.exchange(ctx, gen, code)
}

func (c *Controller) exchange(ctx context.Context, gen int, code string) error {
	res, err := c.sender.Dispatch(ctx, commands.SubmitWebOAuthCode, commands.Args{"code": code})
	return c.complete(ctx, gen, "Code exchange", res, err)
}

// acceptLocked reports whether a completion may start now. Callers hold c.mu.
func (c *Controller) acceptLocked() error {
	if !c.open || c.tab != TabOAuth {
		return shared.ErrInvalidState
	}
	switch c.session.Phase {
	case Exchanging:
		return shared.ErrBusy
	case Succeeded:
		return shared.ErrInvalidState
	}
	if c.session.AuthorizationURL == "" {
		return shared.ErrInvalidState
	}
	return nil
}

// complete records the exchange outcome. Results for a discarded session only trigger the refresh.
func (c *Controller) complete(ctx context.Context, gen int, action string, res dispatch.Result, err error) error {
	c.mu.Lock()
	current := gen == c.gen

	if err != nil {
		if current {
			c.update(func(s *Session) {
				s.Phase = Failed
				s.LastError = Classify(action, err)
			})
		}
		c.mu.Unlock()
		c.logger.Warn("authorization failed", "action", action, "error", err)
		return err
	}

	var account models.OAuthAccount
	if decodeErr := res.Decode(&account); decodeErr != nil {
		c.logger.Debug("authorization result not decoded", "error", decodeErr)
	}

	release := false
	if current {
		release = c.reserved
		c.reserved = false
		c.update(func(s *Session) {
			s.Phase = Succeeded
			s.LastError = ""
			s.Message = "Account added"
			if account.Email != "" || account.ID != "" {
				s.Account = &account
				s.Message = "Account added: " + account.Email
			}
		})
	}
	c.mu.Unlock()

	if release && c.variant == VariantWeb {
		c.closeListener()
	}

	c.logger.Info("account authorized", "email", account.Email)
	if c.opts.Refresher != nil {
		if err := c.opts.Refresher.RefreshAfterAdd(ctx); err != nil {
			c.logger.Warn("post-authorization refresh failed", "error", err)
		}
	}
	return nil
}

// Cancel abandons a prepared attempt and releases what it reserved.
func (c *Controller) Cancel(ctx context.Context) {
	c.mu.Lock()
	if c.session.Phase == Succeeded || (c.session.AuthorizationURL == "" && !c.reserved) {
		c.mu.Unlock()
		return
	}
	c.gen++
	c.reserved = false
	c.update(func(s *Session) {
		s.Phase = Cancelled
		s.AuthorizationURL = ""
		s.PastedCode = ""
	})
	c.mu.Unlock()

	c.release(ctx)
}

func (c *Controller) release(ctx context.Context) {
	if c.variant == VariantWeb {
		c.closeListener()
		return
	}
	if _, err := c.sender.Dispatch(ctx, commands.CancelOAuthLogin, nil); err != nil {
		c.logger.Warn("failed to cancel pending login", "error", err)
	}
}

func (c *Controller) closeListener() {
	if c.opts.Listener == nil {
		return
	}
	if err := c.opts.Listener.Close(); err != nil {
		c.logger.Warn("failed to release redirect listener", "error", err)
	}
}
