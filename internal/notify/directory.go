package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hackgods/booking-settlement-engine/internal/audit"
	"github.com/hackgods/booking-settlement-engine/internal/db"
)

var ErrContactNotFound = errors.New("contact not found")

type Contact struct {
	UserID       uuid.UUID
	Role         audit.Role
	Name         string
	Email        string
	DeviceTokens []string
}

type Directory interface {
	Lookup(ctx context.Context, role audit.Role, userID uuid.UUID) (Contact, error)
}

type PgDirectory struct {
	pool db.Querier
}

func NewPgDirectory(pool db.Querier) *PgDirectory {
	return &PgDirectory{pool: pool}
}

func (d *PgDirectory) Lookup(ctx context.Context, role audit.Role, userID uuid.UUID) (Contact, error) {
	c := Contact{UserID: userID, Role: role}
	err := d.pool.QueryRow(ctx, `
		SELECT name, COALESCE(email, ''), COALESCE(device_tokens, '{}')
		FROM contacts
		WHERE role = $1 AND user_id = $2
	`, string(role), userID).Scan(&c.Name, &c.Email, &c.DeviceTokens)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Contact{}, ErrContactNotFound
		}
		return Contact{}, fmt.Errorf("lookup contact: %w", err)
	}
	return c, nil
}

// Upsert is used by the seed command.
func (d *PgDirectory) Upsert(ctx context.Context, c Contact) error {
	if c.DeviceTokens == nil {
		c.DeviceTokens = []string{}
	}
	_, err := d.pool.Exec(ctx, `
		INSERT INTO contacts (role, user_id, name, email, device_tokens)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5)
		ON CONFLICT (role, user_id) DO UPDATE
		SET name = EXCLUDED.name, email = EXCLUDED.email, device_tokens = EXCLUDED.device_tokens
	`, string(c.Role), c.UserID, c.Name, c.Email, c.DeviceTokens)
	if err != nil {
		return fmt.Errorf("upsert contact: %w", err)
	}
	return nil
}

type StaticDirectory struct {
	mu       sync.RWMutex
	contacts map[string]Contact
}

func NewStaticDirectory(contacts ...Contact) *StaticDirectory {
	d := &StaticDirectory{contacts: make(map[string]Contact)}
	for _, c := range contacts {
		d.Add(c)
	}
	return d
}

func (d *StaticDirectory) Add(c Contact) {
	d.mu.Lock()
	d.contacts[registryKey(c.Role, c.UserID)] = c
	d.mu.Unlock()
}

func (d *StaticDirectory) Lookup(_ context.Context, role audit.Role, userID uuid.UUID) (Contact, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	c, ok := d.contacts[registryKey(role, userID)]
	if !ok {
		return Contact{}, ErrContactNotFound
	}
	return c, nil
}
