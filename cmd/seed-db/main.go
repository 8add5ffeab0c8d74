package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jaswdr/faker"
	"github.com/lucsky/cuid"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/storage/postgres"
)

type options struct {
	databaseURL string
	token       string
	pepper      string
	userID      string
	name        string
	email       string
	ttl         time.Duration
	fake        bool
}

func main() {
	var opts options
	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&opts.token, "token", "", "session token to seed (or KART_SEED_TOKEN env); generated when empty")
	flag.StringVar(&opts.pepper, "pepper", "", "HMAC pepper for token hashing (or KART_SESSION_PEPPER env)")
	flag.StringVar(&opts.userID, "user-id", "", "user ID the session belongs to; generated when empty")
	flag.StringVar(&opts.name, "name", "", "customer display name")
	flag.StringVar(&opts.email, "email", "", "customer email, used for order history")
	flag.DurationVar(&opts.ttl, "ttl", 0, "session lifetime; zero never expires")
	flag.BoolVar(&opts.fake, "fake", false, "fill missing name and email with generated values")
	flag.Parse()

	lg, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = lg.Sync() }()

	if opts.databaseURL == "" {
		opts.databaseURL = os.Getenv("DATABASE_URL")
	}
	if opts.databaseURL == "" {
		lg.Fatal("database URL is required: set --database-url or DATABASE_URL")
	}
	if opts.token == "" {
		opts.token = os.Getenv("KART_SEED_TOKEN")
	}
	if opts.pepper == "" {
		opts.pepper = os.Getenv("KART_SESSION_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	s, token, err := buildSession(opts, time.Now())
	if err != nil {
		lg.Fatal("Invalid options", zap.Error(err))
	}
	if err := run(ctx, lg, opts.databaseURL, s); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}

	lg.Info("Seed completed",
		zap.String("session_id", s.ID),
		zap.String("user_id", s.Identity.UserID),
		zap.String("email", s.Identity.Email),
	)
	// The token is printed once so it can be handed to a storefront client.
	fmt.Println(token)
}

// buildSession resolves generated values and returns the session to store
// together with its plaintext token.
func buildSession(opts options, now time.Time) (auth.Session, string, error) {
	token := opts.token
	if token == "" {
		token = uuid.NewString()
	}
	userID := opts.userID
	if userID == "" {
		userID = cuid.New()
	}
	name, email := opts.name, opts.email
	if opts.fake {
		fake := faker.New()
		if name == "" {
			name = fake.Person().Name()
		}
		if email == "" {
			email = fake.Internet().Email()
		}
	}
	if email == "" {
		return auth.Session{}, "", errors.New("email is required: set --email or --fake")
	}

	s := auth.Session{
		ID:        cuid.New(),
		TokenHash: auth.HashToken([]byte(opts.pepper), token),
		Identity:  auth.Identity{UserID: userID, Name: name, Email: email},
	}
	if opts.ttl > 0 {
		s.ExpiresAt = now.Add(opts.ttl)
	}
	return s, token, nil
}

func run(ctx context.Context, lg *zap.Logger, databaseURL string, s auth.Session) error {
	lg.Info("Connecting to database")

	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	lg.Info("Running migrations")
	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	if err := postgres.NewSessionRepository(pool).Create(ctx, s); err != nil {
		return errors.Wrap(err, "create session")
	}
	return nil
}
