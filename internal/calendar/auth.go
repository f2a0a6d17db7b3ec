package calendar

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gcal "google.golang.org/api/calendar/v3"

	"github.com/tonimelisma/timetable-sync/internal/tokenfile"
)

// Scopes requested from Google. Event read/write is all the sync needs.
var Scopes = []string{gcal.CalendarEventsScope}

// ErrNotLoggedIn means no calendar token has been saved yet.
var ErrNotLoggedIn = tokenfile.ErrNotLoggedIn

const (
	stateTokenBytes = 16
	callbackPath    = "/"
	shutdownTimeout = 5 * time.Second
)

type callbackResult struct {
	code string
	err  error
}

// OAuthConfig reads the Google client secret JSON at credentialsPath and
// returns a config whose refreshed tokens are written back to tokenPath.
func OAuthConfig(credentialsPath, tokenPath string, logger *slog.Logger) (*oauth2.Config, error) {
	if logger == nil {
		logger = slog.Default()
	}

	data, err := os.ReadFile(credentialsPath)
	if err != nil {
		return nil, fmt.Errorf("calendar: reading client credentials: %w", err)
	}

	cfg, err := google.ConfigFromJSON(data, Scopes...)
	if err != nil {
		return nil, fmt.Errorf("calendar: parsing client credentials %s: %w", credentialsPath, err)
	}

	persistRefreshes(cfg, tokenPath, logger)

	return cfg, nil
}

// persistRefreshes wires OnTokenChange so silent refreshes survive restarts.
func persistRefreshes(cfg *oauth2.Config, tokenPath string, logger *slog.Logger) {
	cfg.OnTokenChange = func(tok *oauth2.Token) {
		if err := tokenfile.UpdateToken(tokenPath, tok); err != nil {
			logger.Warn("failed to persist refreshed calendar token",
				slog.String("path", tokenPath),
				slog.String("error", err.Error()),
			)

			return
		}

		logger.Info("persisted refreshed calendar token",
			slog.String("path", tokenPath),
			slog.Time("expiry", tok.Expiry),
		)
	}
}

// LoginWithBrowser runs the authorization code + PKCE flow with a loopback
// callback server, then saves the token to tokenPath. openURL launches the
// browser; when it fails the URL is printed to stderr instead.
func LoginWithBrowser(
	ctx context.Context,
	cfg *oauth2.Config,
	tokenPath string,
	openURL func(string) error,
	logger *slog.Logger,
) (*oauth2.Token, error) {
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("starting calendar authorization", slog.String("token_path", tokenPath))

	resultCh := make(chan callbackResult, 1)
	mux := http.NewServeMux()

	srv, port, err := startCallbackServer(ctx, mux, resultCh, logger)
	if err != nil {
		return nil, err
	}

	defer shutdownCallbackServer(srv, logger)

	cfg.RedirectURL = fmt.Sprintf("http://127.0.0.1:%d", port)

	verifier := oauth2.GenerateVerifier()

	state, err := generateState()
	if err != nil {
		return nil, fmt.Errorf("calendar: generating state token: %w", err)
	}

	mux.HandleFunc("GET "+callbackPath, func(w http.ResponseWriter, r *http.Request) {
		handleCallback(w, r, state, resultCh)
	})

	authURL := cfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.ApprovalForce,
		oauth2.S256ChallengeOption(verifier),
	)

	if openErr := openURL(authURL); openErr != nil {
		logger.Warn("failed to open browser, printing URL", slog.String("error", openErr.Error()))
		fmt.Fprintf(os.Stderr, "Open this URL in your browser:\n%s\n", authURL)
	}

	var code string

	select {
	case res := <-resultCh:
		if res.err != nil {
			return nil, res.err
		}

		code = res.code
	case <-ctx.Done():
		return nil, fmt.Errorf("calendar: authorization canceled: %w", ctx.Err())
	}

	tok, err := cfg.Exchange(ctx, code, oauth2.VerifierOption(verifier))
	if err != nil {
		return nil, fmt.Errorf("calendar: token exchange failed: %w", err)
	}

	tf := &tokenfile.File{
		Token: tok,
		Grant: tokenfile.Grant{
			ClientID:  cfg.ClientID,
			Scopes:    cfg.Scopes,
			GrantedAt: time.Now().UTC(),
		},
	}

	if err := tokenfile.Save(tokenPath, tf); err != nil {
		return nil, fmt.Errorf("calendar: saving token: %w", err)
	}

	logger.Info("calendar login successful",
		slog.String("token_path", tokenPath),
		slog.Time("expiry", tok.Expiry),
	)

	return tok, nil
}

func startCallbackServer(
	ctx context.Context,
	mux *http.ServeMux,
	resultCh chan<- callbackResult,
	logger *slog.Logger,
) (*http.Server, int, error) {
	lc := net.ListenConfig{}

	listener, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		return nil, 0, fmt.Errorf("calendar: binding loopback listener: %w", err)
	}

	tcpAddr, ok := listener.Addr().(*net.TCPAddr)
	if !ok {
		listener.Close()
		return nil, 0, errors.New("calendar: listener address is not TCP")
	}

	logger.Debug("callback server listening", slog.Int("port", tcpAddr.Port))

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: shutdownTimeout,
	}

	go func() {
		if serveErr := srv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			select {
			case resultCh <- callbackResult{err: fmt.Errorf("calendar: callback server: %w", serveErr)}:
			default:
			}
		}
	}()

	return srv, tcpAddr.Port, nil
}

func handleCallback(w http.ResponseWriter, r *http.Request, state string, resultCh chan<- callbackResult) {
	q := r.URL.Query()

	var res callbackResult

	switch {
	case q.Get("state") != state:
		http.Error(w, "Invalid state parameter", http.StatusBadRequest)
		res.err = errors.New("calendar: OAuth2 state mismatch")
	case q.Get("error") != "":
		http.Error(w, "Authorization failed: "+q.Get("error"), http.StatusBadRequest)
		res.err = fmt.Errorf("calendar: authorization denied: %s", q.Get("error"))
	case q.Get("code") == "":
		http.Error(w, "Missing authorization code", http.StatusBadRequest)
		res.err = errors.New("calendar: callback missing authorization code")
	default:
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, "<html><body><h1>Calendar access granted</h1>"+
			"<p>You can close this window and return to the terminal.</p></body></html>")

		res.code = q.Get("code")
	}

	// Only the first callback counts.
	select {
	case resultCh <- res:
	default:
	}
}

func shutdownCallbackServer(srv *http.Server, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("callback server shutdown error", slog.String("error", err.Error()))
	}
}

func generateState() (string, error) {
	b := make([]byte, stateTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return hex.EncodeToString(b), nil
}

// HTTPClient returns an authorized client built from the token at
// tokenPath. ctx must outlive the client: refreshes run under it.
func HTTPClient(ctx context.Context, cfg *oauth2.Config, tokenPath string, logger *slog.Logger) (*http.Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	tf, err := tokenfile.Load(tokenPath)
	if err != nil {
		return nil, err
	}

	logger.Debug("loaded calendar token",
		slog.String("path", tokenPath),
		slog.Time("expiry", tf.Token.Expiry),
	)

	return cfg.Client(ctx, tf.Token), nil
}

// Logout removes the saved calendar token. Already logged out is not an
// error.
func Logout(tokenPath string, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	existed, err := tokenfile.Remove(tokenPath)
	if err != nil {
		return err
	}

	logger.Info("calendar logout", slog.String("path", tokenPath), slog.Bool("removed", existed))

	return nil
}
