package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/R3E-Network/petition_service/internal/app/content"
	"github.com/R3E-Network/petition_service/internal/app/services/auth"
	"github.com/R3E-Network/petition_service/internal/app/services/petitions"
	"github.com/R3E-Network/petition_service/internal/app/services/supporters"
	"github.com/R3E-Network/petition_service/internal/app/services/tiers"
	"github.com/R3E-Network/petition_service/internal/app/services/users"
	"github.com/R3E-Network/petition_service/internal/app/storage"
	"github.com/R3E-Network/petition_service/internal/app/storage/memory"
	"github.com/R3E-Network/petition_service/internal/app/system"
	"github.com/R3E-Network/petition_service/internal/logging"
)

// Stores encapsulates persistence dependencies. A nil Data store defaults to
// the in-memory implementation; Content is required.
type Stores struct {
	Data    storage.Store
	Content content.Store
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logging.Logger
	content content.Store

	Gate       *auth.Gate
	Petitions  *petitions.Service
	Tiers      *tiers.Service
	Supporters *supporters.Service
	Users      *users.Service
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, creds *auth.Credentials, log *logging.Logger) (*Application, error) {
	if log == nil {
		log = logging.NewDefault("app")
	}
	if stores.Content == nil {
		return nil, errors.New("content store is required")
	}
	if stores.Data == nil {
		log.Warn("no database configured; using in-memory store")
		stores.Data = memory.New()
	}
	if creds == nil {
		var err error
		if creds, err = auth.NewCredentials("", 0, 0); err != nil {
			return nil, fmt.Errorf("credentials: %w", err)
		}
	}

	return &Application{
		manager:    system.NewManager(),
		log:        log,
		content:    stores.Content,
		Gate:       auth.NewGate(auth.NewTokenResolver(stores.Data, creds)),
		Petitions:  petitions.New(stores.Data, stores.Content, log.Named("petitions")),
		Tiers:      tiers.New(stores.Data, log.Named("tiers")),
		Supporters: supporters.New(stores.Data, log.Named("supporters")),
		Users:      users.New(stores.Data, creds, stores.Content, log.Named("users")),
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services and releases the content store.
func (a *Application) Stop(ctx context.Context) error {
	err := a.manager.Stop(ctx)
	if cerr := a.content.Close(); cerr != nil {
		err = errors.Join(err, fmt.Errorf("close content store: %w", cerr))
	}
	return err
}
