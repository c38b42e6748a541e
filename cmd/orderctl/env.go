package main

import (
	"errors"
	"fmt"
	"os"

	"storefront_backend/internal/backendclient"
	"storefront_backend/platform/apperr"
	"storefront_backend/platform/config"
	"storefront_backend/platform/logger"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type globalOptions struct {
	apiURL  string
	token   string
	actor   string
	verbose bool
}

// env is what every command needs to talk to the API.
type env struct {
	cfg     *config.ClientConfig
	client  *backendclient.Client
	actorID uuid.UUID
	log     *logger.Logger
}

func newEnv(opts *globalOptions) (*env, error) {
	cfg, err := config.LoadClient()
	if err != nil {
		return nil, err
	}
	if opts.apiURL != "" {
		cfg.APIBaseURL = opts.apiURL
	}
	if opts.token != "" {
		cfg.AccessToken = opts.token
	}
	if cfg.AccessToken == "" {
		return nil, errors.New("an access token is required (--token or API_ACCESS_TOKEN)")
	}

	actorID, err := resolveActor(opts.actor, cfg.AccessToken)
	if err != nil {
		return nil, err
	}

	log := logger.Discard()
	if opts.verbose {
		log = logger.New("development")
		log.Logger = log.Logger.With("actor_id", actorID)
	}

	return &env{
		cfg:     cfg,
		client:  backendclient.New(backendclient.Config{BaseURL: cfg.APIBaseURL, Token: cfg.AccessToken}),
		actorID: actorID,
		log:     log,
	}, nil
}

// resolveActor prefers an explicit id and otherwise reads the token subject.
// The token is not verified here; the API does that.
func resolveActor(explicit, token string) (uuid.UUID, error) {
	if explicit != "" {
		id, err := uuid.Parse(explicit)
		if err != nil {
			return uuid.Nil, fmt.Errorf("invalid --actor: %w", err)
		}
		return id, nil
	}

	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return uuid.Nil, fmt.Errorf("read token subject: %w", err)
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return uuid.Nil, errors.New("token has no subject; pass --actor")
	}
	return uuid.Parse(sub)
}

// describe renders err for an operator.
func describe(err error) string {
	var e *apperr.Error
	if errors.As(err, &e) {
		msg := apperr.UserMessage(err)
		if code := e.Code(); code != "" {
			msg = fmt.Sprintf("%s (%s)", msg, code)
		}
		return msg
	}
	return err.Error()
}

func printf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stdout, format, args...)
}
