package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/agx/internal/bridge"
	"github.com/desertthunder/agx/internal/commands"
	"github.com/desertthunder/agx/internal/dispatch"
	"github.com/desertthunder/agx/internal/models"
	"github.com/desertthunder/agx/internal/server"
	"github.com/desertthunder/agx/internal/shared"
	tu "github.com/desertthunder/agx/internal/testing"
)

const authURL = "https://accounts.example.com/o/oauth2/auth?client_id=x"

type fakeListener struct {
	mu      sync.Mutex
	results chan server.CallbackResult
	listens int
	closes  int
	err     error
}

func (f *fakeListener) Listen() (<-chan server.CallbackResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.listens++
	f.results = make(chan server.CallbackResult, 1)
	return f.results, nil
}

func (f *fakeListener) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	if f.results != nil {
		close(f.results)
		f.results = nil
	}
	return nil
}

func (f *fakeListener) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listens, f.closes
}

type countingRefresher struct {
	mu sync.Mutex
	n  int
}

func (r *countingRefresher) RefreshAfterAdd(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.n++
	return nil
}

func (r *countingRefresher) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

func webSender() *tu.StubSender {
	return tu.NewStubSender().
		Return(commands.WebOAuthURL, authURL).
		Return(commands.SubmitWebOAuthCode, models.OAuthAccount{ID: "a1", Email: "new@example.com"})
}

func bridgeSender() *tu.StubSender {
	s := tu.NewStubSender().
		Return(commands.PrepareOAuthURL, authURL).
		Return(commands.StartOAuthLogin, models.OAuthAccount{ID: "a1", Email: "new@example.com"}).
		Return(commands.CompleteOAuthLogin, models.OAuthAccount{ID: "a1", Email: "new@example.com"})
	s.TransportKind = dispatch.TransportBridge
	return s
}

func TestExtractCode(t *testing.T) {
	tc := []struct {
		name  string
		input string
		want  string
	}{
		{name: "bare code", input: "4/0AbCd", want: "4/0AbCd"},
		{name: "bare code with whitespace", input: "  4/0AbCd \n", want: "4/0AbCd"},
		{name: "full redirect url", input: "http://localhost:10101/callback?code=4%2F0AbCd&scope=email", want: "4/0AbCd"},
		{name: "query string", input: "?code=xyz&state=1", want: "xyz"},
		{name: "query string without question mark", input: "code=xyz&state=1", want: "xyz"},
		{name: "code embedded in text", input: "see http://x?foo code=abc123 please", want: "abc123"},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractCode(tt.input)
			if err != nil {
				t.Fatalf("ExtractCode(%q) error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ExtractCode(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}

	t.Run("empty input is a validation error", func(t *testing.T) {
		for _, in := range []string{"", "   "} {
			if _, err := ExtractCode(in); !errors.Is(err, shared.ErrValidation) {
				t.Errorf("ExtractCode(%q) error = %v, want ErrValidation", in, err)
			}
		}
	})
}

func TestClassify(t *testing.T) {
	tc := []struct {
		name     string
		err      error
		contains string
		prefix   bool
	}{
		{name: "missing refresh token verbatim", err: errors.New("No Refresh Token returned, revoke access and retry"), contains: "No Refresh Token returned, revoke access and retry"},
		{name: "refresh_token field verbatim", err: errors.New("missing refresh_token"), contains: "missing refresh_token"},
		{name: "tauri mismatch", err: errors.New("Tauri API not found"), contains: "not available in this environment"},
		{name: "environment mismatch", err: errors.New("unsupported Environment"), contains: "not available in this environment"},
		{name: "localized environment mismatch", err: errors.New("非桌面环境"), contains: "not available in this environment"},
		{name: "generic", err: errors.New("boom"), contains: "Code exchange failed: boom", prefix: true},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify("Code exchange", tt.err)
			if !strings.Contains(got, tt.contains) {
				t.Errorf("Classify() = %q, want it to contain %q", got, tt.contains)
			}
			if tt.prefix && !strings.HasPrefix(got, "Code exchange failed") {
				t.Errorf("Classify() = %q, want action prefix", got)
			}
		})
	}

	if Classify("x", nil) != "" {
		t.Error("nil error should classify to an empty message")
	}
}

func TestControllerWeb(t *testing.T) {
	ctx := context.Background()

	t.Run("open prepares url and reserves listener", func(t *testing.T) {
		ln := &fakeListener{}
		c := New(webSender(), Opts{Listener: ln, Logger: tu.QuietLogger()})
		if c.Variant() != VariantWeb {
			t.Fatal("network sender should select the web variant")
		}
		if err := c.Open(ctx, TabOAuth); err != nil {
			t.Fatalf("Open() error: %v", err)
		}
		s := c.Session()
		if s.Phase != URLPrepared || s.AuthorizationURL != authURL {
			t.Errorf("unexpected session %+v", s)
		}
		if listens, _ := ln.counts(); listens != 1 {
			t.Errorf("listens = %d, want 1", listens)
		}
	})

	t.Run("open on another tab does not prepare", func(t *testing.T) {
		s := webSender()
		c := New(s, Opts{Logger: tu.QuietLogger()})
		if err := c.Open(ctx, TabToken); err != nil {
			t.Fatal(err)
		}
		if s.Count(commands.WebOAuthURL) != 0 {
			t.Error("url fetched outside the oauth tab")
		}
	})

	t.Run("prepare failure is recorded", func(t *testing.T) {
		s := tu.NewStubSender().Fail(commands.WebOAuthURL, dispatch.KindProtocol, "client id not configured")
		c := New(s, Opts{Logger: tu.QuietLogger()})
		if err := c.Open(ctx, TabOAuth); err == nil {
			t.Fatal("expected error")
		}
		got := c.Session()
		if got.Phase != Failed || !strings.Contains(got.LastError, "client id not configured") {
			t.Errorf("unexpected session %+v", got)
		}
	})

	t.Run("start opens browser", func(t *testing.T) {
		var opened string
		c := New(webSender(), Opts{OpenBrowser: func(u string) error { opened = u; return nil }, Logger: tu.QuietLogger()})
		c.Open(ctx, TabOAuth)
		if err := c.Start(ctx); err != nil {
			t.Fatalf("Start() error: %v", err)
		}
		if opened != authURL {
			t.Errorf("opened %q, want %q", opened, authURL)
		}
		if c.Session().Phase != AwaitingCompletion {
			t.Errorf("phase = %s", c.Session().Phase)
		}
		if err := c.Start(ctx); !errors.Is(err, shared.ErrBusy) {
			t.Errorf("second Start() error = %v, want ErrBusy", err)
		}
	})

	t.Run("submit code succeeds and refreshes", func(t *testing.T) {
		s := webSender()
		ln := &fakeListener{}
		ref := &countingRefresher{}
		c := New(s, Opts{Listener: ln, Refresher: ref, Logger: tu.QuietLogger()})
		c.Open(ctx, TabOAuth)

		if err := c.SubmitCode(ctx, "http://localhost/callback?code=abc"); err != nil {
			t.Fatalf("SubmitCode() error: %v", err)
		}

		calls := s.Calls()
		last := calls[len(calls)-1]
		if last.Name != commands.SubmitWebOAuthCode || last.Args.String("code") != "abc" {
			t.Errorf("unexpected call %+v", last)
		}
		got := c.Session()
		if got.Phase != Succeeded || got.Account == nil || got.Account.Email != "new@example.com" {
			t.Errorf("unexpected session %+v", got)
		}
		if ref.count() != 1 {
			t.Errorf("refreshes = %d, want 1", ref.count())
		}
		if _, closes := ln.counts(); closes != 1 {
			t.Errorf("listener closes = %d, want 1", closes)
		}
	})

	t.Run("empty code fails locally", func(t *testing.T) {
		s := webSender()
		c := New(s, Opts{Logger: tu.QuietLogger()})
		c.Open(ctx, TabOAuth)
		if err := c.SubmitCode(ctx, "  "); !errors.Is(err, shared.ErrValidation) {
			t.Fatalf("SubmitCode() error = %v, want ErrValidation", err)
		}
		if s.Count(commands.SubmitWebOAuthCode) != 0 {
			t.Error("empty code reached the backend")
		}
		if c.Session().Phase != URLPrepared {
			t.Errorf("phase = %s, want url prepared", c.Session().Phase)
		}
	})

	t.Run("finish without pasted code", func(t *testing.T) {
		s := webSender()
		c := New(s, Opts{Logger: tu.QuietLogger()})
		c.Open(ctx, TabOAuth)
		if err := c.Finish(ctx); !errors.Is(err, shared.ErrValidation) {
			t.Fatalf("Finish() error = %v, want ErrValidation", err)
		}
	})

	t.Run("missing refresh token shown verbatim", func(t *testing.T) {
		msg := "No Refresh Token received. Remove the app from your Google account and retry."
		s := webSender().Fail(commands.SubmitWebOAuthCode, dispatch.KindProtocol, msg)
		ref := &countingRefresher{}
		c := New(s, Opts{Refresher: ref, Logger: tu.QuietLogger()})
		c.Open(ctx, TabOAuth)
		if err := c.SubmitCode(ctx, "abc"); err == nil {
			t.Fatal("expected error")
		}
		got := c.Session()
		if got.Phase != Failed || got.LastError != msg {
			t.Errorf("unexpected session %+v", got)
		}
		if ref.count() != 0 {
			t.Error("refresh ran after a failed exchange")
		}
	})

	t.Run("listener result completes the flow", func(t *testing.T) {
		s := webSender()
		ln := &fakeListener{}
		c := New(s, Opts{Listener: ln, Logger: tu.QuietLogger()})
		sub := c.Subscribe()
		c.Open(ctx, TabOAuth)

		ln.results <- server.CallbackResult{Code: "from-redirect"}
		waitFor(t, sub, Succeeded)

		if s.Count(commands.SubmitWebOAuthCode) != 1 {
			t.Errorf("exchanges = %d, want 1", s.Count(commands.SubmitWebOAuthCode))
		}
	})

	t.Run("switching away releases the listener", func(t *testing.T) {
		ln := &fakeListener{}
		c := New(webSender(), Opts{Listener: ln, Logger: tu.QuietLogger()})
		c.Open(ctx, TabOAuth)
		if err := c.SwitchTab(ctx, TabImport); err != nil {
			t.Fatal(err)
		}
		got := c.Session()
		if got.Phase != Cancelled || got.AuthorizationURL != "" {
			t.Errorf("unexpected session %+v", got)
		}
		if _, closes := ln.counts(); closes != 1 {
			t.Errorf("closes = %d, want 1", closes)
		}

		if err := c.SwitchTab(ctx, TabOAuth); err != nil {
			t.Fatal(err)
		}
		if c.Session().Phase != URLPrepared {
			t.Errorf("returning to oauth should prepare again, got %s", c.Session().Phase)
		}
		if listens, _ := ln.counts(); listens != 2 {
			t.Errorf("listens = %d, want 2", listens)
		}
	})

	t.Run("listener failure falls back to paste", func(t *testing.T) {
		ln := &fakeListener{err: errors.New("address in use")}
		c := New(webSender(), Opts{Listener: ln, Logger: tu.QuietLogger()})
		if err := c.Open(ctx, TabOAuth); err != nil {
			t.Fatalf("Open() error: %v", err)
		}
		if c.Session().Phase != URLPrepared {
			t.Errorf("phase = %s", c.Session().Phase)
		}
	})
}

func TestControllerBridge(t *testing.T) {
	ctx := context.Background()

	t.Run("start runs the shell flow", func(t *testing.T) {
		s := bridgeSender()
		ref := &countingRefresher{}
		c := New(s, Opts{Refresher: ref, Logger: tu.QuietLogger()})
		if c.Variant() != VariantBridge {
			t.Fatal("bridge sender should select the bridge variant")
		}
		c.Open(ctx, TabOAuth)
		if s.Count(commands.PrepareOAuthURL) != 1 {
			t.Fatal("url not prepared")
		}
		if err := c.Start(ctx); err != nil {
			t.Fatalf("Start() error: %v", err)
		}
		if c.Session().Phase != Succeeded || ref.count() != 1 {
			t.Errorf("session %+v, refreshes %d", c.Session(), ref.count())
		}
	})

	t.Run("cancel on tab switch", func(t *testing.T) {
		s := bridgeSender()
		c := New(s, Opts{Logger: tu.QuietLogger()})
		c.Open(ctx, TabOAuth)
		c.SwitchTab(ctx, TabToken)
		if s.Count(commands.CancelOAuthLogin) != 1 {
			t.Errorf("cancels = %d, want 1", s.Count(commands.CancelOAuthLogin))
		}
	})

	t.Run("close cancels prepared attempt", func(t *testing.T) {
		s := bridgeSender()
		c := New(s, Opts{Logger: tu.QuietLogger()})
		c.Open(ctx, TabOAuth)
		c.Close(ctx)
		if s.Count(commands.CancelOAuthLogin) != 1 {
			t.Errorf("cancels = %d, want 1", s.Count(commands.CancelOAuthLogin))
		}
		if c.IsOpen() {
			t.Error("dialog still open")
		}
	})

	t.Run("close after success does not cancel", func(t *testing.T) {
		s := bridgeSender()
		c := New(s, Opts{Logger: tu.QuietLogger()})
		c.Open(ctx, TabOAuth)
		c.Finish(ctx)
		c.Close(ctx)
		if s.Count(commands.CancelOAuthLogin) != 0 {
			t.Error("cancel sent after a completed attempt")
		}
	})

	t.Run("environment failure explained", func(t *testing.T) {
		s := bridgeSender().Fail(commands.StartOAuthLogin, dispatch.KindBridge, "Tauri window unavailable")
		c := New(s, Opts{Logger: tu.QuietLogger()})
		c.Open(ctx, TabOAuth)
		c.Start(ctx)
		if got := c.Session().LastError; !strings.Contains(got, "not available in this environment") {
			t.Errorf("LastError = %q", got)
		}
	})

	t.Run("late result after cancel is discarded", func(t *testing.T) {
		release := make(chan struct{})
		started := make(chan struct{})
		ref := &countingRefresher{}
		s := bridgeSender().On(commands.CompleteOAuthLogin, func(context.Context, commands.Args) (dispatch.Result, error) {
			close(started)
			<-release
			raw, _ := json.Marshal(models.OAuthAccount{ID: "late", Email: "late@example.com"})
			return dispatch.NewResult(raw), nil
		})
		c := New(s, Opts{Refresher: ref, Logger: tu.QuietLogger()})
		c.Open(ctx, TabOAuth)

		done := make(chan error, 1)
		go func() { done <- c.Finish(ctx) }()
		<-started
		c.Cancel(ctx)
		close(release)
		<-done

		if got := c.Session(); got.Phase != Cancelled || got.Account != nil {
			t.Errorf("late result mutated session: %+v", got)
		}
		if ref.count() != 1 {
			t.Errorf("refreshes = %d, want 1", ref.count())
		}
	})
}

func TestControllerOverlappingPrepare(t *testing.T) {
	ctx := context.Background()

	t.Run("stale url does not cancel the newer attempt", func(t *testing.T) {
		var calls int
		var mu sync.Mutex
		started := make(chan struct{})
		release := make(chan struct{})
		s := bridgeSender().On(commands.PrepareOAuthURL, func(context.Context, commands.Args) (dispatch.Result, error) {
			mu.Lock()
			calls++
			first := calls == 1
			mu.Unlock()
			if first {
				close(started)
				<-release
			}
			raw, _ := json.Marshal(authURL)
			return dispatch.NewResult(raw), nil
		})
		c := New(s, Opts{Logger: tu.QuietLogger()})

		done := make(chan error, 1)
		go func() { done <- c.Open(ctx, TabOAuth) }()
		<-started
		c.SwitchTab(ctx, TabToken)
		if err := c.SwitchTab(ctx, TabOAuth); err != nil {
			t.Fatalf("SwitchTab() error: %v", err)
		}
		cancels := s.Count(commands.CancelOAuthLogin)
		close(release)
		if err := <-done; err != nil {
			t.Fatalf("Open() error: %v", err)
		}

		if got := s.Count(commands.CancelOAuthLogin); got != cancels {
			t.Errorf("cancels = %d, want %d", got, cancels)
		}
		if got := c.Session(); got.Phase != URLPrepared || got.AuthorizationURL != authURL {
			t.Errorf("newer attempt lost: %+v", got)
		}
	})

	t.Run("stale url is released when nothing replaced it", func(t *testing.T) {
		started := make(chan struct{})
		release := make(chan struct{})
		s := bridgeSender().On(commands.PrepareOAuthURL, func(context.Context, commands.Args) (dispatch.Result, error) {
			close(started)
			<-release
			raw, _ := json.Marshal(authURL)
			return dispatch.NewResult(raw), nil
		})
		c := New(s, Opts{Logger: tu.QuietLogger()})

		done := make(chan error, 1)
		go func() { done <- c.Open(ctx, TabOAuth) }()
		<-started
		c.SwitchTab(ctx, TabToken)
		close(release)
		<-done

		if got := s.Count(commands.CancelOAuthLogin); got != 1 {
			t.Errorf("cancels = %d, want 1", got)
		}
	})

	t.Run("stale url keeps the newer listener", func(t *testing.T) {
		started := make(chan struct{})
		release := make(chan struct{})
		var calls int
		var mu sync.Mutex
		s := webSender().On(commands.WebOAuthURL, func(context.Context, commands.Args) (dispatch.Result, error) {
			mu.Lock()
			calls++
			first := calls == 1
			mu.Unlock()
			if first {
				close(started)
				<-release
			}
			raw, _ := json.Marshal(authURL)
			return dispatch.NewResult(raw), nil
		})
		l := &fakeListener{}
		c := New(s, Opts{Listener: l, Logger: tu.QuietLogger()})

		done := make(chan error, 1)
		go func() { done <- c.Open(ctx, TabOAuth) }()
		<-started
		c.SwitchTab(ctx, TabToken)
		c.SwitchTab(ctx, TabOAuth)
		_, closes := l.counts()
		close(release)
		<-done

		if _, got := l.counts(); got != closes {
			t.Errorf("listener closes = %d, want %d", got, closes)
		}
	})
}

func TestHandleSignal(t *testing.T) {
	ctx := context.Background()

	t.Run("ignored when dialog closed", func(t *testing.T) {
		s := bridgeSender()
		c := New(s, Opts{Logger: tu.QuietLogger()})
		if c.HandleSignal(ctx, Signal{Kind: SignalCallback}) {
			t.Error("signal applied to a closed dialog")
		}
		if s.Count(commands.CompleteOAuthLogin) != 0 {
			t.Error("completion dispatched")
		}
	})

	t.Run("ignored on another tab", func(t *testing.T) {
		s := bridgeSender()
		c := New(s, Opts{Logger: tu.QuietLogger()})
		c.Open(ctx, TabOAuth)
		c.SwitchTab(ctx, TabToken)
		if c.HandleSignal(ctx, Signal{Kind: SignalCallback}) {
			t.Error("signal applied on the token tab")
		}
	})

	t.Run("ignored while exchanging", func(t *testing.T) {
		started := make(chan struct{})
		release := make(chan struct{})
		s := bridgeSender().On(commands.StartOAuthLogin, func(context.Context, commands.Args) (dispatch.Result, error) {
			close(started)
			<-release
			return dispatch.Empty(), nil
		})
		c := New(s, Opts{Logger: tu.QuietLogger()})
		c.Open(ctx, TabOAuth)

		done := make(chan error, 1)
		go func() { done <- c.Start(ctx) }()
		<-started
		if c.HandleSignal(ctx, Signal{Kind: SignalCallback}) {
			t.Error("signal applied during exchange")
		}
		close(release)
		<-done
		if s.Count(commands.CompleteOAuthLogin) != 0 {
			t.Error("completion dispatched during exchange")
		}
	})

	t.Run("ignored after success", func(t *testing.T) {
		s := bridgeSender()
		c := New(s, Opts{Logger: tu.QuietLogger()})
		c.Open(ctx, TabOAuth)
		c.Finish(ctx)
		if c.HandleSignal(ctx, Signal{Kind: SignalCallback}) {
			t.Error("signal applied after success")
		}
		if s.Count(commands.CompleteOAuthLogin) != 1 {
			t.Errorf("completions = %d, want 1", s.Count(commands.CompleteOAuthLogin))
		}
	})

	t.Run("callback completes prepared attempt", func(t *testing.T) {
		s := bridgeSender()
		c := New(s, Opts{Logger: tu.QuietLogger()})
		c.Open(ctx, TabOAuth)
		if !c.HandleSignal(ctx, Signal{Kind: SignalCallback}) {
			t.Fatal("signal not applied")
		}
		if c.Session().Phase != Succeeded {
			t.Errorf("phase = %s", c.Session().Phase)
		}
	})

	t.Run("url generated fills the url", func(t *testing.T) {
		var c *Controller
		applied := false
		s := bridgeSender().On(commands.PrepareOAuthURL, func(ctx context.Context, _ commands.Args) (dispatch.Result, error) {
			applied = c.HandleSignal(ctx, Signal{Kind: SignalURLGenerated, URL: authURL})
			raw, _ := json.Marshal(authURL)
			return dispatch.NewResult(raw), nil
		})
		c = New(s, Opts{Logger: tu.QuietLogger()})
		c.Open(ctx, TabOAuth)
		if !applied {
			t.Fatal("url signal not applied while preparing")
		}
		if got := c.Session(); got.Phase != URLPrepared || got.AuthorizationURL != authURL {
			t.Errorf("unexpected session %+v", got)
		}
		if c.HandleSignal(ctx, Signal{Kind: SignalURLGenerated}) {
			t.Error("empty url applied")
		}
	})

	t.Run("callback error fails the attempt", func(t *testing.T) {
		ln := &fakeListener{}
		c := New(webSender(), Opts{Listener: ln, Logger: tu.QuietLogger()})
		c.Open(ctx, TabOAuth)
		c.HandleSignal(ctx, Signal{Kind: SignalCallback, Err: server.ErrAuthorizationDenied})
		if got := c.Session(); got.Phase != Failed || got.LastError == "" {
			t.Errorf("unexpected session %+v", got)
		}
	})
}

type fakeEvents struct {
	mu   sync.Mutex
	subs map[string]chan bridge.Event
}

func (f *fakeEvents) Subscribe(name string) (<-chan bridge.Event, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs == nil {
		f.subs = make(map[string]chan bridge.Event)
	}
	ch := make(chan bridge.Event, 4)
	f.subs[name] = ch
	var once sync.Once
	return ch, func() { once.Do(func() { close(ch) }) }
}

func (f *fakeEvents) emit(name string, payload string) {
	f.mu.Lock()
	ch := f.subs[name]
	f.mu.Unlock()
	ch <- bridge.Event{Name: name, Payload: json.RawMessage(payload)}
}

func TestBridgeSignals(t *testing.T) {
	src := &fakeEvents{}
	signals, stop := BridgeSignals(src)

	src.emit(bridge.EventOAuthURLGenerated, `"`+authURL+`"`)
	src.emit(bridge.EventOAuthURLGenerated, `42`)
	src.emit(bridge.EventOAuthCallbackReceived, `null`)

	var got []Signal
	timeout := time.After(2 * time.Second)
	for len(got) < 2 {
		select {
		case sig := <-signals:
			got = append(got, sig)
		case <-timeout:
			t.Fatalf("received %d signals, want 2", len(got))
		}
	}

	kinds := map[SignalKind]Signal{}
	for _, s := range got {
		kinds[s.Kind] = s
	}
	if kinds[SignalURLGenerated].URL != authURL {
		t.Errorf("url signal = %+v", kinds[SignalURLGenerated])
	}
	if _, ok := kinds[SignalCallback]; !ok {
		t.Error("missing callback signal")
	}

	stop()
	for range signals {
	}
}

func TestControllerCallbackServer(t *testing.T) {
	ctx := context.Background()
	s := webSender()
	srv := server.NewCallbackServer("127.0.0.1:0", tu.QuietLogger())
	defer srv.Close()

	c := New(s, Opts{Listener: srv, Logger: tu.QuietLogger()})
	sub := c.Subscribe()
	if err := c.Open(ctx, TabOAuth); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get("http://" + srv.Addr() + server.CallbackPath + "?code=live-code")
	if err != nil {
		t.Fatalf("callback request failed: %v", err)
	}
	resp.Body.Close()

	waitFor(t, sub, Succeeded)
	calls := s.Calls()
	if last := calls[len(calls)-1]; last.Args.String("code") != "live-code" {
		t.Errorf("exchanged %+v", last)
	}
	deadline := time.Now().Add(2 * time.Second)
	for srv.Listening() {
		if time.Now().After(deadline) {
			t.Fatal("listener still reserved after success")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func waitFor(t *testing.T, sub <-chan Session, phase Phase) {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case s := <-sub:
			if s.Phase == phase {
				return
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", phase)
		}
	}
}
