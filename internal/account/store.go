// Package account provides PostgreSQL-backed user accounts for the polling
// API: lookup-or-create authentication and PIN redemption that credits a
// balance. Passwords are stored as bcrypt hashes.
package account

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"
)

// BcryptCost balances hashing time against brute-force resistance.
const BcryptCost = 12

var (
	// ErrInvalidCredentials is returned when the username exists but the
	// password does not match.
	ErrInvalidCredentials = errors.New("account: invalid username or password")
	// ErrUnknownPIN is returned for a redemption PIN not in the table.
	ErrUnknownPIN = errors.New("account: unknown pin")
	// ErrUnknownUser is returned when redeeming for a username that has
	// never authenticated.
	ErrUnknownUser = errors.New("account: unknown user")
)

// Account is a user row as exposed to API clients. Balance is in cents.
type Account struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Balance  int64  `json:"balance"`
}

// Store manages accounts in PostgreSQL. Pins maps redemption PINs to the
// amount in cents they credit; it is loaded from the environment at startup
// and never persisted.
type Store struct {
	db   *sql.DB
	pins map[string]int64
}

// Open connects to PostgreSQL with the lib/pq driver and verifies the
// connection.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("account: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("account: ping database: %w", err)
	}
	return db, nil
}

// NewStore creates a Store over the given database handle and PIN table.
func NewStore(db *sql.DB, pins map[string]int64) *Store {
	if pins == nil {
		pins = make(map[string]int64)
	}
	return &Store{db: db, pins: pins}
}

// Authenticate looks up the account for username and verifies the password.
// A username never seen before is registered on the spot with a zero
// balance. A wrong password for an existing account returns
// ErrInvalidCredentials.
func (s *Store) Authenticate(ctx context.Context, username, password string) (*Account, error) {
	const query = `
		SELECT id, username, password_hash, balance
		FROM users
		WHERE username = $1`

	var (
		acct Account
		hash string
	)
	err := s.db.QueryRowContext(ctx, query, username).Scan(
		&acct.ID, &acct.Username, &hash, &acct.Balance)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		return s.register(ctx, username, password)
	case err != nil:
		return nil, fmt.Errorf("account: lookup: %w", err)
	}

	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return nil, ErrInvalidCredentials
	}
	return &acct, nil
}

// register creates a new account with a zero balance. A concurrent insert
// of the same username loses on the unique constraint and surfaces as an
// error; the client simply retries authentication.
func (s *Store) register(ctx context.Context, username, password string) (*Account, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("account: hash password: %w", err)
	}

	const query = `
		INSERT INTO users (username, password_hash, balance)
		VALUES ($1, $2, 0)
		RETURNING id, username, balance`

	var acct Account
	err = s.db.QueryRowContext(ctx, query, username, string(hash)).Scan(
		&acct.ID, &acct.Username, &acct.Balance)
	if err != nil {
		return nil, fmt.Errorf("account: register: %w", err)
	}
	return &acct, nil
}

// RedeemResult reports a successful PIN redemption.
type RedeemResult struct {
	Amount     int64 `json:"amount"`
	NewBalance int64 `json:"new_balance"`
}

// Redeem credits the PIN's amount to the user's balance. The credit is a
// single UPDATE with an in-database increment, so two concurrent
// redemptions for the same user can never lose an update.
func (s *Store) Redeem(ctx context.Context, username, pin string) (*RedeemResult, error) {
	amount, ok := s.pins[pin]
	if !ok {
		return nil, ErrUnknownPIN
	}

	const query = `
		UPDATE users
		SET balance = balance + $1
		WHERE username = $2
		RETURNING balance`

	var balance int64
	err := s.db.QueryRowContext(ctx, query, amount, username).Scan(&balance)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, ErrUnknownUser
	case err != nil:
		return nil, fmt.Errorf("account: redeem: %w", err)
	}

	return &RedeemResult{Amount: amount, NewBalance: balance}, nil
}

// Balance returns the current balance in cents for the given username.
func (s *Store) Balance(ctx context.Context, username string) (int64, error) {
	const query = `SELECT balance FROM users WHERE username = $1`

	var balance int64
	err := s.db.QueryRowContext(ctx, query, username).Scan(&balance)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return 0, ErrUnknownUser
	case err != nil:
		return 0, fmt.Errorf("account: balance: %w", err)
	}
	return balance, nil
}
