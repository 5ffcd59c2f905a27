package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/agx/internal/commands"
	"github.com/desertthunder/agx/internal/shared"
)

func quietLogger() *log.Logger { return shared.NewLogger(io.Discard) }

func newNetwork(t *testing.T, h http.HandlerFunc, opts ...NetworkOption) (*Dispatcher, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	opts = append([]NetworkOption{WithLogger(quietLogger())}, opts...)
	return New(NewNetworkTransport(srv.URL, opts...), quietLogger()), srv
}

func TestNetworkTransport(t *testing.T) {
	ctx := context.Background()

	t.Run("Success Envelope Returns Data", func(t *testing.T) {
		d, _ := newNetwork(t, func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet || r.URL.Path != "/api/admin/accounts" {
				t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			}
			if r.Header.Get(RequestIDHeader) == "" {
				t.Error("expected request id header")
			}
			w.Write([]byte(`{"status":"success","data":[{"id":"a1"}]}`))
		})

		res, err := d.Dispatch(ctx, commands.ListAccounts, nil)
		if err != nil {
			t.Fatalf("Dispatch() error: %v", err)
		}
		if string(res.Raw()) != `[{"id":"a1"}]` {
			t.Errorf("unexpected result %s", res.Raw())
		}
	})

	t.Run("String Data Stays Valid JSON", func(t *testing.T) {
		d, _ := newNetwork(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"status":"success","data":"sk-a\"b"}`))
		})

		res, err := d.Dispatch(ctx, commands.GenerateAPIKey, nil)
		if err != nil {
			t.Fatalf("Dispatch() error: %v", err)
		}
		if res.String() != `sk-a"b` {
			t.Errorf("String() = %q", res.String())
		}
	})

	t.Run("Body Without Data Is Returned Whole", func(t *testing.T) {
		d, _ := newNetwork(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"status":"ok"}`))
		})

		res, err := d.Dispatch(ctx, commands.HealthCheck, nil)
		if err != nil {
			t.Fatalf("Dispatch() error: %v", err)
		}
		if string(res.Raw()) != `{"status":"ok"}` {
			t.Errorf("unexpected result %s", res.Raw())
		}
	})

	t.Run("Error Envelope With 200 Is A Protocol Error", func(t *testing.T) {
		d, _ := newNetwork(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"error","message":"bad token"}`))
		})

		_, err := d.Dispatch(ctx, commands.AddAccount, commands.Args{"refreshToken": "x"})
		if err == nil {
			t.Fatal("expected error")
		}
		if err.Error() != "bad token" {
			t.Errorf("message = %q, want %q", err.Error(), "bad token")
		}
		if !errors.Is(err, shared.ErrProtocol) {
			t.Errorf("expected protocol error, got %v", err)
		}
	})

	t.Run("Non 2xx Uses Envelope Message Then Raw Text", func(t *testing.T) {
		tc := []struct {
			name string
			body string
			want string
		}{
			{name: "envelope", body: `{"status":"error","message":"Start/Stop not supported in Headless Mode"}`, want: "Start/Stop not supported in Headless Mode"},
			{name: "raw text", body: "gateway exploded", want: "gateway exploded"},
			{name: "empty", body: "", want: "Bad Request"},
		}

		for _, tt := range tc {
			t.Run(tt.name, func(t *testing.T) {
				d, _ := newNetwork(t, func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusBadRequest)
					w.Write([]byte(tt.body))
				})

				_, err := d.Dispatch(ctx, commands.StartProxyService, nil)
				var de *Error
				if !errors.As(err, &de) {
					t.Fatalf("expected *Error, got %v", err)
				}
				if de.Kind != KindProtocol || de.Status != http.StatusBadRequest {
					t.Errorf("unexpected kind/status %s/%d", de.Kind, de.Status)
				}
				if de.Message != tt.want {
					t.Errorf("message = %q, want %q", de.Message, tt.want)
				}
			})
		}
	})

	t.Run("Scalar JSON Body Is Returned Whole", func(t *testing.T) {
		for _, body := range []string{"true", "42", "null"} {
			t.Run(body, func(t *testing.T) {
				d, _ := newNetwork(t, func(w http.ResponseWriter, r *http.Request) {
					w.Write([]byte(body))
				})

				res, err := d.Dispatch(ctx, commands.ClearProxyLogs, nil)
				if err != nil {
					t.Fatalf("Dispatch() error: %v", err)
				}
				if string(res.Raw()) != body {
					t.Errorf("Raw() = %s, want %s", res.Raw(), body)
				}
			})
		}
	})

	t.Run("Non JSON 2xx Body Is A Protocol Error", func(t *testing.T) {
		d, _ := newNetwork(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("<html>proxy</html>"))
		})

		_, err := d.Dispatch(ctx, commands.ClearProxyLogs, nil)
		if kind, _ := KindOf(err); kind != KindProtocol {
			t.Fatalf("expected protocol error, got %v", err)
		}
	})

	t.Run("Missing Path Argument Fails Locally", func(t *testing.T) {
		hits := 0
		d, _ := newNetwork(t, func(w http.ResponseWriter, r *http.Request) {
			hits++
		})

		_, err := d.Dispatch(ctx, commands.DeleteAccount, commands.Args{})
		if !errors.Is(err, shared.ErrValidation) || !errors.Is(err, shared.ErrMissingArgument) {
			t.Fatalf("expected validation error, got %v", err)
		}
		if _, ok := KindOf(err); ok {
			t.Errorf("local validation reported as dispatch kind: %v", err)
		}
		if hits != 0 {
			t.Errorf("backend hit %d times", hits)
		}
	})

	t.Run("Empty Body Is No Value", func(t *testing.T) {
		d, _ := newNetwork(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})

		res, err := d.Dispatch(ctx, commands.ClearProxyLogs, nil)
		if err != nil {
			t.Fatalf("Dispatch() error: %v", err)
		}
		if !res.IsEmpty() {
			t.Errorf("expected empty result, got %s", res.Raw())
		}
	})

	t.Run("401 On Protected Path Fires Hook Before Returning", func(t *testing.T) {
		var fired []commands.Name
		d, _ := newNetwork(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"status":"error","message":"unauthorized"}`))
		}, WithUnauthorizedHandler(func(n commands.Name) { fired = append(fired, n) }))

		_, err := d.Dispatch(ctx, commands.ListAccounts, nil)
		if !IsUnauthorized(err) {
			t.Fatalf("expected unauthorized, got %v", err)
		}
		if len(fired) != 1 || fired[0] != commands.ListAccounts {
			t.Errorf("expected hook for list_accounts, got %v", fired)
		}
	})

	t.Run("401 On Login Is A Protocol Error", func(t *testing.T) {
		fired := false
		d, _ := newNetwork(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"status":"error","message":"wrong password"}`))
		}, WithUnauthorizedHandler(func(commands.Name) { fired = true }))

		_, err := d.Dispatch(ctx, commands.AuthLogin, commands.Args{"password": "nope"})
		if kind, _ := KindOf(err); kind != KindProtocol {
			t.Fatalf("expected protocol error, got %v", err)
		}
		if err.Error() != "wrong password" {
			t.Errorf("message = %q", err.Error())
		}
		if fired {
			t.Error("hook must not fire for the login endpoint")
		}
	})

	t.Run("Reshapes POST Bodies Only", func(t *testing.T) {
		var gotBody map[string]any
		var gotMethod, gotPath string
		d, _ := newNetwork(t, func(w http.ResponseWriter, r *http.Request) {
			gotMethod, gotPath = r.Method, r.URL.Path
			gotBody = nil
			if r.Body != nil {
				data, _ := io.ReadAll(r.Body)
				if len(data) > 0 {
					json.Unmarshal(data, &gotBody)
				}
			}
			w.Write([]byte(`{"status":"success"}`))
		})

		if _, err := d.Dispatch(ctx, commands.AddAccount, commands.Args{"refreshToken": "1//abc", "email": ""}); err != nil {
			t.Fatalf("Dispatch() error: %v", err)
		}
		if gotMethod != http.MethodPost || gotBody["refresh_token"] != "1//abc" {
			t.Errorf("unexpected add_account request %s %v", gotMethod, gotBody)
		}

		if _, err := d.Dispatch(ctx, commands.DeleteAccount, commands.Args{"accountId": "a1"}); err != nil {
			t.Fatalf("Dispatch() error: %v", err)
		}
		if gotMethod != http.MethodDelete || gotPath != "/api/admin/accounts/a1" || gotBody != nil {
			t.Errorf("unexpected delete request %s %s %v", gotMethod, gotPath, gotBody)
		}
	})

	t.Run("Bespoke Unwrap For OAuth URL", func(t *testing.T) {
		d, _ := newNetwork(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"url":"https://accounts.example.com/auth?client_id=1"}`))
		})

		url, err := Call[string](ctx, d, commands.WebOAuthURL, nil)
		if err != nil {
			t.Fatalf("Call() error: %v", err)
		}
		if url != "https://accounts.example.com/auth?client_id=1" {
			t.Errorf("unexpected url %q", url)
		}
	})

	t.Run("Bespoke Unwrap For OAuth Exchange", func(t *testing.T) {
		d, _ := newNetwork(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"status":"success","data":{"email":"u@example.com","id":"a9"}}`))
		})

		got, err := Call[map[string]string](ctx, d, commands.SubmitWebOAuthCode, commands.Args{"code": "4/abc"})
		if err != nil {
			t.Fatalf("Call() error: %v", err)
		}
		if got["email"] != "u@example.com" {
			t.Errorf("unexpected data %v", got)
		}
	})

	t.Run("Shell Only Commands", func(t *testing.T) {
		called := false
		d, _ := newNetwork(t, func(w http.ResponseWriter, r *http.Request) { called = true })

		res, err := d.Dispatch(ctx, commands.ShowMainWindow, nil)
		if err != nil || !res.IsEmpty() {
			t.Errorf("show_main_window should be a silent no-op, got %v %v", res.Raw(), err)
		}
		if _, err := d.Dispatch(ctx, commands.PrepareOAuthURL, nil); !errors.Is(err, shared.ErrUnsupported) {
			t.Errorf("expected unsupported, got %v", err)
		}
		if called {
			t.Error("no request should reach the backend")
		}
	})

	t.Run("Connection Failure Is A Transport Error", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		d := New(NewNetworkTransport(url, WithLogger(quietLogger())), quietLogger())
		_, err := d.Dispatch(ctx, commands.ListAccounts, nil)
		if !errors.Is(err, shared.ErrTransport) {
			t.Errorf("expected transport error, got %v", err)
		}
	})

	t.Run("Non JSON Success Body", func(t *testing.T) {
		d, _ := newNetwork(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("<html>proxy login</html>"))
		})

		_, err := d.Dispatch(ctx, commands.ListAccounts, nil)
		if !errors.Is(err, shared.ErrProtocol) {
			t.Errorf("expected protocol error, got %v", err)
		}
	})
}

type fakeInvoker struct {
	gotCmd  string
	gotArgs map[string]any
	result  json.RawMessage
	err     error
}

func (f *fakeInvoker) Invoke(_ context.Context, cmd string, args map[string]any) (json.RawMessage, error) {
	f.gotCmd, f.gotArgs = cmd, args
	return f.result, f.err
}

func TestBridgeTransport(t *testing.T) {
	ctx := context.Background()

	t.Run("Forwards Name And Args Unchanged", func(t *testing.T) {
		inv := &fakeInvoker{result: json.RawMessage(`{"status":"error","data":1}`)}
		d := New(NewBridgeTransport(inv, quietLogger()), quietLogger())

		res, err := d.Dispatch(ctx, commands.SwitchAccount, commands.Args{"accountId": "a1"})
		if err != nil {
			t.Fatalf("Dispatch() error: %v", err)
		}
		if inv.gotCmd != "switch_account" || inv.gotArgs["accountId"] != "a1" {
			t.Errorf("unexpected forwarded call %s %v", inv.gotCmd, inv.gotArgs)
		}
		if string(res.Raw()) != `{"status":"error","data":1}` {
			t.Errorf("bridge results must not be unwrapped, got %s", res.Raw())
		}
		if d.Kind() != TransportBridge {
			t.Errorf("unexpected kind %s", d.Kind())
		}
	})

	t.Run("Failures Become Bridge Errors", func(t *testing.T) {
		inv := &fakeInvoker{err: errors.New("Tauri environment not available")}
		d := New(NewBridgeTransport(inv, quietLogger()), quietLogger())

		_, err := d.Dispatch(ctx, commands.PrepareOAuthURL, nil)
		if !errors.Is(err, shared.ErrBridge) {
			t.Fatalf("expected bridge error, got %v", err)
		}
		if !strings.Contains(err.Error(), "environment") {
			t.Errorf("bridge message should be kept, got %q", err.Error())
		}
	})
}

func TestDetect(t *testing.T) {
	orig := socketExists
	defer func() { socketExists = orig }()
	socketExists = func(p string) bool { return p == "/run/agx.sock" }

	env := func(m map[string]string) func(string) string {
		return func(k string) string { return m[k] }
	}

	tc := []struct {
		name    string
		cfg     shared.TransportConfig
		env     map[string]string
		want    TransportKind
		wantErr bool
	}{
		{name: "auto without socket", cfg: shared.TransportConfig{Mode: "auto"}, want: TransportNetwork},
		{name: "auto with env socket", cfg: shared.TransportConfig{Mode: "auto"}, env: map[string]string{shared.EnvBridgeSocket: "/run/agx.sock"}, want: TransportBridge},
		{name: "auto with stale socket", cfg: shared.TransportConfig{Mode: "auto", BridgeSocket: "/gone.sock"}, want: TransportNetwork},
		{name: "explicit network ignores socket", cfg: shared.TransportConfig{Mode: "network", BridgeSocket: "/run/agx.sock"}, want: TransportNetwork},
		{name: "explicit bridge", cfg: shared.TransportConfig{Mode: "bridge", BridgeSocket: "/run/agx.sock"}, want: TransportBridge},
		{name: "bridge without socket", cfg: shared.TransportConfig{Mode: "bridge"}, wantErr: true},
		{name: "unknown mode", cfg: shared.TransportConfig{Mode: "smoke"}, wantErr: true},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			sel, err := Detect(tt.cfg, env(tt.env))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", sel)
				}
				return
			}
			if err != nil {
				t.Fatalf("Detect() error: %v", err)
			}
			if sel.Kind != tt.want {
				t.Errorf("Kind = %s, want %s", sel.Kind, tt.want)
			}
		})
	}
}

func TestResult(t *testing.T) {
	if !NewResult([]byte(" null ")).IsEmpty() {
		t.Error("null should be empty")
	}

	var out struct{ ID string }
	if err := Empty().Decode(&out); err != nil || out.ID != "" {
		t.Errorf("decoding an empty result should be a no-op, got %v %+v", err, out)
	}

	if err := NewResult([]byte(`[1,2]`)).Decode(&out); !errors.Is(err, shared.ErrProtocol) {
		t.Errorf("expected protocol error on shape mismatch, got %v", err)
	}
}
