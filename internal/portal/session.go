package portal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/tonimelisma/timetable-sync/internal/challenge"
)

// Endpoint paths relative to the API root.
const (
	pathLogin         = "/login.awp"
	pathChallengeGet  = "/connexion/doubleauth.awp?verbe=get"
	pathChallengePost = "/connexion/doubleauth.awp?verbe=post"
)

// studentRole is the account role flag that marks the student account.
const studentRole = "E"

// DefaultMaxChallengeAttempts bounds answer submissions within one login.
const DefaultMaxChallengeAttempts = 3

// AuthState is the position of a Session in the login state machine.
type AuthState int

// Login states.
const (
	StateUnauthenticated AuthState = iota
	StateChallengePending
	StateChallengeAnswered
	StateAuthenticated
	StateFailed
)

func (s AuthState) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateChallengePending:
		return "challenge_pending"
	case StateChallengeAnswered:
		return "challenge_answered"
	case StateAuthenticated:
		return "authenticated"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("AuthState(%d)", int(s))
	}
}

// ChallengeOutcome records how (and whether) a challenge was met during a
// login. The supervisor watchdog keys off it.
type ChallengeOutcome int

// Challenge outcomes.
const (
	ChallengeNone     ChallengeOutcome = iota // login needed no challenge
	ChallengeCached                           // answered from the cache
	ChallengeSupplied                         // answered by the Answerer, then recorded
)

func (o ChallengeOutcome) String() string {
	switch o {
	case ChallengeNone:
		return "none"
	case ChallengeCached:
		return "cached"
	case ChallengeSupplied:
		return "supplied"
	default:
		return fmt.Sprintf("ChallengeOutcome(%d)", int(o))
	}
}

// Credentials are the account login and optional device uuid.
type Credentials struct {
	Username string
	Password string
	UUID     string
}

// Account is one entry of the account list returned on login.
type Account struct {
	ID        int64  `json:"id"`
	Role      string `json:"typeCompte"`
	Login     string `json:"identifiant"`
	FirstName string `json:"prenom"`
	LastName  string `json:"nom"`
}

// Identity is the result of a completed login.
type Identity struct {
	Token     string
	Student   Account
	Challenge ChallengeOutcome
}

// AnswerCache persists challenge answers across runs. Satisfied by
// *state.Store.
type AnswerCache interface {
	Lookup(ctx context.Context, q challenge.Question) (challenge.Answer, bool, error)
	Record(ctx context.Context, q challenge.Question, a challenge.Answer) error
}

// Answerer produces an answer for a challenge the cache cannot answer,
// or fails. Implementations may block (interactive input).
type Answerer interface {
	Answer(ctx context.Context, c challenge.Challenge) (challenge.Answer, error)
}

// AnswerFunc adapts a function to Answerer.
type AnswerFunc func(ctx context.Context, c challenge.Challenge) (challenge.Answer, error)

// Answer calls f.
func (f AnswerFunc) Answer(ctx context.Context, c challenge.Challenge) (challenge.Answer, error) {
	return f(ctx, c)
}

type loginPayload struct {
	Username  string      `json:"identifiant"`
	Password  string      `json:"motdepasse"`
	IsReLogin bool        `json:"isReLogin"`
	UUID      string      `json:"uuid"`
	FA        []assertion `json:"fa,omitempty"`
}

// assertion is the federation assertion pair issued after a correct answer.
type assertion struct {
	CN string `json:"cn"`
	CV string `json:"cv"`
}

type challengeData struct {
	Question  string   `json:"question"`
	Proposals []string `json:"propositions"`
}

type loginData struct {
	Accounts []Account `json:"accounts"`
}

// Session drives login -> challenge -> assertion -> re-login. A Session is
// used for one run and is not safe for concurrent use.
type Session struct {
	client   *Client
	creds    Credentials
	cache    AnswerCache
	answerer Answerer
	logger   *slog.Logger

	// MaxChallengeAttempts bounds answer submissions per login.
	MaxChallengeAttempts int

	state AuthState
}

// NewSession creates a Session. answerer may be nil, in which case a
// challenge the cache cannot answer fails with ErrChallengeNeeded.
func NewSession(client *Client, creds Credentials, cache AnswerCache, answerer Answerer, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}

	return &Session{
		client:               client,
		creds:                creds,
		cache:                cache,
		answerer:             answerer,
		logger:               logger,
		MaxChallengeAttempts: DefaultMaxChallengeAttempts,
		state:                StateUnauthenticated,
	}
}

// State returns the current state of the login state machine.
func (s *Session) State() AuthState {
	return s.state
}

// Authenticate runs the full login sequence and returns the bearer token
// and student account. Any error leaves the session in StateFailed.
func (s *Session) Authenticate(ctx context.Context) (*Identity, error) {
	s.state = StateUnauthenticated

	id, err := s.authenticate(ctx)
	if err != nil {
		s.logger.Warn("portal login failed",
			slog.String("state", s.state.String()),
			slog.String("error", err.Error()),
		)
		s.state = StateFailed

		return nil, err
	}

	s.state = StateAuthenticated
	s.logger.Info("portal login complete",
		slog.Int64("student_id", id.Student.ID),
		slog.String("challenge", id.Challenge.String()),
	)

	return id, nil
}

func (s *Session) authenticate(ctx context.Context) (*Identity, error) {
	env, err := s.login(ctx, nil)
	if err != nil {
		return nil, err
	}

	switch env.Code {
	case codeOK:
		return s.identity(env, ChallengeNone)
	case codeChallengeRequired:
		// Continue below.
	case codeBadCredentials:
		return nil, &PortalError{Code: env.Code, Message: env.Message, Err: ErrBadCredentials}
	default:
		return nil, &PortalError{Code: env.Code, Message: env.Message, Err: ErrAuth}
	}

	if env.Token == "" {
		return nil, fmt.Errorf("%w: challenge marker without token", ErrMalformedResponse)
	}

	s.state = StateChallengePending
	s.logger.Info("portal requires a challenge answer")

	token := env.Token

	fa, outcome, err := s.resolveChallenge(ctx, &token)
	if err != nil {
		return nil, err
	}

	env, err = s.login(ctx, []assertion{fa})
	if err != nil {
		return nil, err
	}

	if env.Code != codeOK {
		return nil, &PortalError{Code: env.Code, Message: env.Message, Err: ErrAuth}
	}

	return s.identity(env, outcome)
}

// resolveChallenge loops ChallengePending -> ChallengeAnswered until the
// portal accepts an answer or the attempt bound is reached.
func (s *Session) resolveChallenge(ctx context.Context, token *string) (assertion, ChallengeOutcome, error) {
	maxAttempts := s.MaxChallengeAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	// Cached answers the portal refused during this login, per question.
	refused := make(map[challenge.Question]challenge.Answer)

	for attempt := 1; ; attempt++ {
		ch, err := s.fetchChallenge(ctx, token)
		if err != nil {
			return assertion{}, ChallengeNone, err
		}

		answer, fromCache, err := s.chooseAnswer(ctx, ch, refused)
		if err != nil {
			return assertion{}, ChallengeNone, err
		}

		s.state = StateChallengeAnswered

		fa, err := s.submit(ctx, token, answer)
		if err == nil {
			if fromCache {
				return fa, ChallengeCached, nil
			}

			// Durable before the re-login relies on it.
			if recErr := s.cache.Record(ctx, ch.Question, answer); recErr != nil {
				return assertion{}, ChallengeNone, fmt.Errorf("portal: recording challenge answer: %w", recErr)
			}

			return fa, ChallengeSupplied, nil
		}

		if !errors.Is(err, ErrChallengeRejected) || attempt >= maxAttempts {
			return assertion{}, ChallengeNone, err
		}

		s.logger.Warn("challenge answer rejected, retrying",
			slog.String("question", ch.Question.Fingerprint()),
			slog.Bool("from_cache", fromCache),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", maxAttempts),
		)

		if fromCache {
			refused[ch.Question] = answer
		}

		s.state = StateChallengePending
	}
}

// chooseAnswer returns the cached answer for the question unless the
// portal already refused it, otherwise asks the Answerer.
func (s *Session) chooseAnswer(
	ctx context.Context, ch challenge.Challenge, refused map[challenge.Question]challenge.Answer,
) (challenge.Answer, bool, error) {
	cached, ok, err := s.cache.Lookup(ctx, ch.Question)
	if err != nil {
		return "", false, fmt.Errorf("portal: reading challenge cache: %w", err)
	}

	if ok && refused[ch.Question] != cached {
		s.logger.Info("challenge answered from cache",
			slog.String("question", ch.Question.Fingerprint()),
		)

		return cached, true, nil
	}

	if len(ch.Options) == 0 {
		return "", false, ErrChallengeDataMissing
	}

	if s.answerer == nil {
		return "", false, ErrChallengeNeeded
	}

	answer, err := s.answerer.Answer(ctx, ch)
	if err != nil {
		if errors.Is(err, ErrChallengeNeeded) {
			return "", false, err
		}

		return "", false, fmt.Errorf("%w: %w", ErrChallengeNeeded, err)
	}

	if !ch.Has(answer) {
		return "", false, fmt.Errorf("%w: answer is not one of the offered options", ErrChallengeNeeded)
	}

	return answer, false, nil
}

func (s *Session) login(ctx context.Context, fa []assertion) (*Envelope, error) {
	return s.client.Post(ctx, pathLogin, "", loginPayload{
		Username: s.creds.Username,
		Password: s.creds.Password,
		UUID:     s.creds.UUID,
		FA:       fa,
	})
}

func (s *Session) fetchChallenge(ctx context.Context, token *string) (challenge.Challenge, error) {
	env, err := s.client.Post(ctx, pathChallengeGet, *token, nil)
	if err != nil {
		return challenge.Challenge{}, err
	}

	roll(token, env)

	if env.Code != codeOK {
		return challenge.Challenge{}, &PortalError{Code: env.Code, Message: env.Message, Err: ErrAuth}
	}

	var data challengeData
	if err := decodeData(env, &data); err != nil {
		return challenge.Challenge{}, err
	}

	if data.Question == "" {
		return challenge.Challenge{}, fmt.Errorf("%w: challenge without question", ErrMalformedResponse)
	}

	ch := challenge.Challenge{Question: challenge.Question(data.Question)}
	for _, p := range data.Proposals {
		ch.Options = append(ch.Options, challenge.Answer(p))
	}

	s.logger.Debug("challenge received",
		slog.String("question", ch.Question.Fingerprint()),
		slog.Int("options", len(ch.Options)),
	)

	return ch, nil
}

func (s *Session) submit(ctx context.Context, token *string, answer challenge.Answer) (assertion, error) {
	env, err := s.client.Post(ctx, pathChallengePost, *token, map[string]string{"choix": string(answer)})
	if err != nil {
		return assertion{}, err
	}

	roll(token, env)

	if env.Code != codeOK {
		return assertion{}, &PortalError{Code: env.Code, Message: env.Message, Err: ErrChallengeRejected}
	}

	var fa assertion
	if err := decodeData(env, &fa); err != nil {
		return assertion{}, fmt.Errorf("%w: %w", ErrAssertionMissing, err)
	}

	if fa.CN == "" || fa.CV == "" {
		return assertion{}, ErrAssertionMissing
	}

	return fa, nil
}

// identity builds the Identity from a successful login envelope.
func (s *Session) identity(env *Envelope, outcome ChallengeOutcome) (*Identity, error) {
	if env.Token == "" {
		return nil, fmt.Errorf("%w: login response without token", ErrMalformedResponse)
	}

	var data loginData
	if err := decodeData(env, &data); err != nil {
		return nil, err
	}

	student, err := selectStudent(data.Accounts)
	if err != nil {
		return nil, err
	}

	return &Identity{Token: env.Token, Student: student, Challenge: outcome}, nil
}

// selectStudent returns the single account flagged as the student.
func selectStudent(accounts []Account) (Account, error) {
	var found []Account

	for _, a := range accounts {
		if a.Role == studentRole {
			found = append(found, a)
		}
	}

	if len(found) != 1 {
		return Account{}, fmt.Errorf("%w: found %d student accounts among %d", ErrNoStudentAccount, len(found), len(accounts))
	}

	return found[0], nil
}

// roll adopts a refreshed token when the portal hands one back.
func roll(token *string, env *Envelope) {
	if env.Token != "" {
		*token = env.Token
	}
}
